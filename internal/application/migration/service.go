package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/billsync/backend/internal/domain/billing"
	"github.com/billsync/backend/internal/infrastructure/cache"
	"github.com/billsync/backend/internal/infrastructure/credentials"
)

// SourceFactory builds a source-platform client for one account.
type SourceFactory func(account credentials.Account) billing.SourcePlatform

// Config holds the orchestration knobs of one sync run.
type Config struct {
	// EpochStart is the fixed lower bound of the migration range.
	EpochStart time.Time
	// RecordBudget caps the wall-clock time of the per-record loop; the
	// rest of the backlog is picked up by the next scheduled run.
	RecordBudget time.Duration
	// RecordDelay is the pause between consecutive record migrations.
	RecordDelay time.Duration
	// PrefetchPadding widens the document prefetch range on both sides.
	PrefetchPadding time.Duration
	// Simplified selects the simplified source bills endpoint.
	Simplified bool
	// GenericContactCode resolves the pre-provisioned generic contact by
	// code when no generic contact id is configured directly.
	GenericContactCode string
}

// Service runs the bill migration: fetch from every configured source
// account, transform, and create the missing documents on the target.
type Service struct {
	store   credentials.Store
	sources SourceFactory
	target  billing.TargetPlatform
	cache   cache.ContactCache
	tf      *Transformer
	cfg     Config
	logger  *zap.Logger
}

// NewService wires the orchestrator.
func NewService(
	store credentials.Store,
	sources SourceFactory,
	target billing.TargetPlatform,
	contactCache cache.ContactCache,
	tf *Transformer,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.RecordBudget <= 0 {
		cfg.RecordBudget = 8 * time.Minute
	}
	if cfg.PrefetchPadding <= 0 {
		cfg.PrefetchPadding = 24 * time.Hour
	}
	return &Service{
		store:   store,
		sources: sources,
		target:  target,
		cache:   contactCache,
		tf:      tf,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run executes one sync pass over all configured accounts. Accounts run
// concurrently and fail independently; the error return is reserved for
// run-level failures such as no account being usable at all.
func (s *Service) Run(ctx context.Context) (*billing.RunReport, error) {
	report := &billing.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	logger := s.logger.With(zap.String("run_id", report.RunID))

	accounts := s.store.Accounts()
	if len(accounts) == 0 {
		return nil, billing.ErrNoAccounts
	}
	logger.Info("Sync run starting", zap.Int("accounts", len(accounts)))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, acc := range accounts {
		g.Go(func() error {
			summary, err := s.syncAccount(gctx, acc, logger)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error("Account setup failed, skipping account",
					zap.String("account", acc.Name), zap.Error(err))
				report.SkippedAccounts = append(report.SkippedAccounts, acc.Name)
				return nil
			}
			report.Accounts = append(report.Accounts, *summary)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.FinishedAt = time.Now().UTC()
	if len(report.Accounts) == 0 {
		return report, billing.ErrNoAccounts
	}

	totals := report.Totals()
	logger.Info("Sync run finished",
		zap.Int("accounts", len(report.Accounts)),
		zap.Int("skipped_accounts", len(report.SkippedAccounts)),
		zap.Int("processed", totals.Processed),
		zap.Int("skipped_existing", totals.SkippedExisting),
		zap.Int("invoices_created", totals.InvoicesCreated),
		zap.Int("contacts_created", totals.ContactsCreated),
		zap.Int("errors", totals.Errors),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

// syncAccount migrates one account's backlog. A non-nil error means the
// account could not be set up at all; once the record loop starts, errors
// are isolated per record and only counted.
func (s *Service) syncAccount(ctx context.Context, acc credentials.Account, logger *zap.Logger) (*billing.AccountSummary, error) {
	started := time.Now()
	logger = logger.With(zap.String("account", acc.Name))
	summary := &billing.AccountSummary{Account: acc.Name}

	source := s.sources(acc)
	if err := source.RefreshToken(ctx); err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	bills, err := source.GetBills(ctx, billing.BillQuery{
		Start:      s.cfg.EpochStart,
		End:        time.Now().UTC(),
		Simplified: s.cfg.Simplified,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch bills: %w", err)
	}
	summary.FetchedBills = len(bills)
	logger.Info("Fetched source bills", zap.Int("count", len(bills)))

	existing := s.prefetchDocuments(ctx, bills, logger)

	deadline := started.Add(s.cfg.RecordBudget)
	for i := range bills {
		if time.Now().After(deadline) {
			summary.BudgetExhausted = true
			summary.Remaining = len(bills) - i
			logger.Warn("Record budget exhausted, deferring remainder to next run",
				zap.Int("remaining", summary.Remaining))
			break
		}
		if err := ctx.Err(); err != nil {
			summary.Remaining = len(bills) - i
			break
		}
		s.migrateBill(ctx, &bills[i], existing, summary, logger)

		// Pace the target API after every record, skips and failures
		// included.
		if s.cfg.RecordDelay > 0 {
			select {
			case <-time.After(s.cfg.RecordDelay):
			case <-ctx.Done():
			}
		}
	}

	summary.Duration = time.Since(started)
	logger.Info("Account sync finished",
		zap.Int("processed", summary.Processed),
		zap.Int("skipped_existing", summary.SkippedExisting),
		zap.Int("invoices_created", summary.InvoicesCreated),
		zap.Int("contacts_created", summary.ContactsCreated),
		zap.Int("errors", summary.Errors),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// prefetchDocuments loads the target documents around the bill date range
// into a set keyed by migration key. A nil return means the prefetch
// failed and existence must be checked per bill.
func (s *Service) prefetchDocuments(ctx context.Context, bills []billing.Bill, logger *zap.Logger) map[string]struct{} {
	if len(bills) == 0 {
		return map[string]struct{}{}
	}

	var minDate, maxDate time.Time
	for i := range bills {
		d, err := bills[i].Date()
		if err != nil {
			continue
		}
		if minDate.IsZero() || d.Before(minDate) {
			minDate = d
		}
		if maxDate.IsZero() || d.After(maxDate) {
			maxDate = d
		}
	}
	if minDate.IsZero() {
		return map[string]struct{}{}
	}

	docs, err := s.target.ListDocuments(ctx,
		minDate.Add(-s.cfg.PrefetchPadding).Unix(),
		maxDate.Add(s.cfg.PrefetchPadding).Unix())
	if err != nil {
		logger.Warn("Document prefetch failed, falling back to per-bill lookups", zap.Error(err))
		return nil
	}

	existing := make(map[string]struct{}, len(docs))
	for i := range docs {
		if key := docs[i].Key(); key != "" {
			existing[key] = struct{}{}
		}
	}
	logger.Info("Prefetched target documents", zap.Int("count", len(existing)))
	return existing
}

// migrateBill moves one bill: dedupe check, contact resolution, document
// creation. Failures touch only this bill's counters.
func (s *Service) migrateBill(ctx context.Context, bill *billing.Bill, existing map[string]struct{}, summary *billing.AccountSummary, logger *zap.Logger) {
	key := bill.BillNumber
	if key == "" {
		summary.Errors++
		logger.Warn("Bill without number cannot be migrated", zap.Int64("bill_id", bill.BillID))
		return
	}

	if existing != nil {
		if _, found := existing[key]; found {
			summary.SkippedExisting++
			return
		}
	} else {
		doc, err := s.target.InvoiceByDocNumber(ctx, key)
		if err != nil {
			summary.Errors++
			logger.Error("Existence lookup failed", zap.String("bill", key), zap.Error(err))
			return
		}
		if doc != nil {
			summary.SkippedExisting++
			return
		}
	}

	summary.Processed++

	contactID, err := s.resolveContact(ctx, bill, summary, logger)
	if err != nil {
		summary.Errors++
		logger.Error("Contact resolution failed", zap.String("bill", key), zap.Error(err))
		return
	}

	invoice, err := s.tf.BillToInvoice(bill, contactID)
	if err != nil {
		summary.Errors++
		logger.Error("Bill cannot be transformed", zap.String("bill", key), zap.Error(err))
		return
	}

	doc, err := s.target.CreateInvoice(ctx, invoice)
	if err != nil {
		summary.Errors++
		logger.Error("Invoice creation failed", zap.String("bill", key), zap.Error(err))
		return
	}
	if doc == nil {
		// Soft failure already logged by the client.
		summary.Errors++
		return
	}

	summary.InvoicesCreated++
	if existing != nil {
		existing[key] = struct{}{}
	}
}

// resolveContact finds or creates the target contact for a bill. Bills
// without a tax identifier all map to the configured generic contact.
func (s *Service) resolveContact(ctx context.Context, bill *billing.Bill, summary *billing.AccountSummary, logger *zap.Logger) (string, error) {
	if !bill.HasTaxCode() {
		return s.genericContact(ctx)
	}
	code := bill.TaxCode()

	if id, ok := s.cache.Get(ctx, code); ok {
		return id, nil
	}

	found, err := s.target.ContactByCode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("lookup contact %s: %w", code, err)
	}
	if found != nil {
		s.cache.Put(ctx, code, found.ResolvedID())
		return found.ResolvedID(), nil
	}

	created, err := s.target.CreateContact(ctx, s.tf.BillToContact(bill))
	if err != nil {
		return "", fmt.Errorf("create contact %s: %w", code, err)
	}
	summary.ContactsCreated++
	logger.Info("Created target contact", zap.String("code", code), zap.String("contact_id", created.ResolvedID()))

	s.cache.Put(ctx, code, created.ResolvedID())
	return created.ResolvedID(), nil
}

// genericContact returns the id of the pre-provisioned contact that bills
// without a tax identifier are booked against. The contact is never created
// here; it must already exist on the target.
func (s *Service) genericContact(ctx context.Context) (string, error) {
	if s.tf.GenericContactID != "" {
		return s.tf.GenericContactID, nil
	}
	code := s.cfg.GenericContactCode
	if code == "" {
		return "", nil
	}

	if id, ok := s.cache.Get(ctx, code); ok {
		return id, nil
	}
	found, err := s.target.ContactByCode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("lookup generic contact %s: %w", code, err)
	}
	if found == nil {
		return "", fmt.Errorf("generic contact %s not found on target", code)
	}
	s.cache.Put(ctx, code, found.ResolvedID())
	return found.ResolvedID(), nil
}
