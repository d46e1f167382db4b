package migration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/billsync/backend/internal/domain/billing"
	"github.com/billsync/backend/internal/infrastructure/cache"
	"github.com/billsync/backend/internal/infrastructure/credentials"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeStore struct {
	accounts []credentials.Account
}

func (s *fakeStore) Accounts() []credentials.Account { return s.accounts }
func (s *fakeStore) TargetAPIKey() string            { return "key" }
func (s *fakeStore) Get(name string) (credentials.Account, error) {
	for _, a := range s.accounts {
		if a.Name == name {
			return a, nil
		}
	}
	return credentials.Account{}, credentials.ErrAccountNotFound
}
func (s *fakeStore) UpdateTokens(name, at, rt string) error { return nil }

type fakeSource struct {
	name       string
	bills      []billing.Bill
	refreshErr error
	fetchErr   error
}

func (f *fakeSource) AccountName() string                    { return f.name }
func (f *fakeSource) RefreshToken(ctx context.Context) error { return f.refreshErr }
func (f *fakeSource) GetBills(ctx context.Context, q billing.BillQuery) ([]billing.Bill, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.bills, nil
}
func (f *fakeSource) GetBillByID(ctx context.Context, id int64) (*billing.Bill, error) {
	return nil, nil
}

type fakeTarget struct {
	mu sync.Mutex

	docs     map[string]billing.TargetDocument
	contacts map[string]billing.TargetContact

	listErr          error
	createInvoiceErr map[string]error
	softFail         map[string]bool

	listCalls   int
	lookupCalls int
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		docs:     map[string]billing.TargetDocument{},
		contacts: map[string]billing.TargetContact{},
	}
}

func (f *fakeTarget) ListDocuments(ctx context.Context, startTS, endTS int64) ([]billing.TargetDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []billing.TargetDocument
	for _, d := range f.docs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeTarget) InvoiceByDocNumber(ctx context.Context, docNumber string) (*billing.TargetDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupCalls++
	if d, ok := f.docs[docNumber]; ok {
		return &d, nil
	}
	return nil, nil
}

func (f *fakeTarget) ContactByCode(ctx context.Context, code string) (*billing.TargetContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contacts[code]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *fakeTarget) CreateContact(ctx context.Context, contact *billing.Contact) (*billing.TargetContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := billing.TargetContact{ID: "contact-" + contact.Code, Code: contact.Code, Name: contact.Name}
	f.contacts[contact.Code] = created
	return &created, nil
}

func (f *fakeTarget) CreateInvoice(ctx context.Context, invoice *billing.Invoice) (*billing.TargetDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createInvoiceErr[invoice.InvoiceNum]; err != nil {
		return nil, err
	}
	if f.softFail[invoice.InvoiceNum] {
		return nil, nil
	}
	doc := billing.TargetDocument{ID: "doc-" + invoice.InvoiceNum, DocNumber: invoice.InvoiceNum, Date: invoice.Date}
	f.docs[invoice.InvoiceNum] = doc
	return &doc, nil
}

func (f *fakeTarget) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testBill(number, vat string) billing.Bill {
	return billing.Bill{
		BillID:     int64(len(number)),
		BillNumber: number,
		BillDate:   "2024-07-15 10:00:00",
		VATNumber:  vat,
		BillLines:  []billing.BillLine{{ReservationID: 1, BillLineBase: 10, PaymentOrigin: "cash"}},
		BillTaxes:  []billing.BillTax{{TaxRate: 0.21}},
	}
}

func testService(t *testing.T, sources map[string]*fakeSource, target *fakeTarget, cfg Config) *Service {
	t.Helper()
	accounts := make([]credentials.Account, 0, len(sources))
	for name := range sources {
		accounts = append(accounts, credentials.Account{
			Name: name, Username: "u", Password: "p", ClientID: "c", PosID: "1",
		})
	}
	contactCache := cache.NewInMemoryContactCache(time.Minute)
	t.Cleanup(func() { _ = contactCache.Close() })

	if cfg.EpochStart.IsZero() {
		cfg.EpochStart = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	}

	return NewService(
		&fakeStore{accounts: accounts},
		func(acc credentials.Account) billing.SourcePlatform { return sources[acc.Name] },
		target,
		contactCache,
		NewTransformer("invoice", "generic-id", map[string]string{"cash": "pm-cash"}),
		cfg,
		zap.NewNop(),
	)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRun_CreatesMissingInvoicesAndContacts(t *testing.T) {
	target := newFakeTarget()
	svc := testService(t, map[string]*fakeSource{
		"museum-a": {name: "museum-a", bills: []billing.Bill{
			testBill("B-1", "B11111111"),
			testBill("B-2", "B22222222"),
		}},
	}, target, Config{})

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Accounts, 1)

	s := report.Accounts[0]
	assert.Equal(t, 2, s.FetchedBills)
	assert.Equal(t, 2, s.Processed)
	assert.Equal(t, 2, s.InvoicesCreated)
	assert.Equal(t, 2, s.ContactsCreated)
	assert.Equal(t, 0, s.SkippedExisting)
	assert.Equal(t, 0, s.Errors)
	assert.Equal(t, 2, target.createdCount())
}

func TestRun_SecondRunSkipsEverything(t *testing.T) {
	target := newFakeTarget()
	sources := map[string]*fakeSource{
		"museum-a": {name: "museum-a", bills: []billing.Bill{
			testBill("B-1", "B11111111"),
			testBill("B-2", ""),
		}},
	}

	svc := testService(t, sources, target, Config{})
	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, target.createdCount())

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	s := report.Accounts[0]
	assert.Equal(t, 2, s.SkippedExisting)
	assert.Equal(t, 0, s.Processed)
	assert.Equal(t, 0, s.InvoicesCreated)
	assert.Equal(t, 2, target.createdCount())
}

func TestRun_BudgetExhaustionIsNotAnError(t *testing.T) {
	target := newFakeTarget()
	svc := testService(t, map[string]*fakeSource{
		"museum-a": {name: "museum-a", bills: []billing.Bill{
			testBill("B-1", ""), testBill("B-2", ""), testBill("B-3", ""),
		}},
	}, target, Config{RecordBudget: time.Nanosecond})

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	s := report.Accounts[0]
	assert.True(t, s.BudgetExhausted)
	assert.Equal(t, 3, s.Remaining)
	assert.Equal(t, 0, s.Processed)
}

func TestRun_PerRecordErrorIsolation(t *testing.T) {
	target := newFakeTarget()
	target.createInvoiceErr = map[string]error{"B-1": errors.New("boom")}
	svc := testService(t, map[string]*fakeSource{
		"museum-a": {name: "museum-a", bills: []billing.Bill{
			testBill("B-1", ""), testBill("B-2", ""),
		}},
	}, target, Config{})

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	s := report.Accounts[0]
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, 1, s.InvoicesCreated)
	assert.Equal(t, 1, target.createdCount())
}

func TestRun_SoftCreateFailureCountsAsError(t *testing.T) {
	target := newFakeTarget()
	target.softFail = map[string]bool{"B-1": true}
	svc := testService(t, map[string]*fakeSource{
		"museum-a": {name: "museum-a", bills: []billing.Bill{testBill("B-1", "")}},
	}, target, Config{})

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	s := report.Accounts[0]
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, 0, s.InvoicesCreated)
}

func TestRun_PrefetchFailureFallsBackToPerBillLookups(t *testing.T) {
	target := newFakeTarget()
	target.listErr = errors.New("prefetch down")
	target.docs["B-1"] = billing.TargetDocument{ID: "d1", DocNumber: "B-1"}

	svc := testService(t, map[string]*fakeSource{
		"museum-a": {name: "museum-a", bills: []billing.Bill{
			testBill("B-1", ""), testBill("B-2", ""),
		}},
	}, target, Config{})

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	s := report.Accounts[0]
	assert.Equal(t, 1, s.SkippedExisting)
	assert.Equal(t, 1, s.InvoicesCreated)
	assert.Equal(t, 2, target.lookupCalls)
}

func TestRun_DelayPacesSkippedRecordsToo(t *testing.T) {
	target := newFakeTarget()
	target.docs["B-1"] = billing.TargetDocument{ID: "d1", DocNumber: "B-1"}
	target.docs["B-2"] = billing.TargetDocument{ID: "d2", DocNumber: "B-2"}
	target.docs["B-3"] = billing.TargetDocument{ID: "d3", DocNumber: "B-3"}

	svc := testService(t, map[string]*fakeSource{
		"museum-a": {name: "museum-a", bills: []billing.Bill{
			testBill("B-1", ""), testBill("B-2", ""), testBill("B-3", ""),
		}},
	}, target, Config{RecordDelay: 20 * time.Millisecond})

	started := time.Now()
	report, err := svc.Run(context.Background())
	elapsed := time.Since(started)

	require.NoError(t, err)
	assert.Equal(t, 3, report.Accounts[0].SkippedExisting)
	// All three records are dedupe skips, yet each one is still paced.
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestRun_GenericContactForBillsWithoutTaxID(t *testing.T) {
	target := newFakeTarget()
	svc := testService(t, map[string]*fakeSource{
		"museum-a": {name: "museum-a", bills: []billing.Bill{testBill("B-1", "")}},
	}, target, Config{})

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	s := report.Accounts[0]
	assert.Equal(t, 0, s.ContactsCreated)
	assert.Equal(t, 1, s.InvoicesCreated)
	assert.Empty(t, target.contacts)
}

func TestRun_GenericContactResolvedByCode(t *testing.T) {
	target := newFakeTarget()
	target.contacts["GEN"] = billing.TargetContact{ID: "generic-by-code", Code: "GEN"}

	contactCache := cache.NewInMemoryContactCache(time.Minute)
	t.Cleanup(func() { _ = contactCache.Close() })
	source := &fakeSource{name: "museum-a", bills: []billing.Bill{testBill("B-1", "")}}
	svc := NewService(
		&fakeStore{accounts: []credentials.Account{
			{Name: "museum-a", Username: "u", Password: "p", ClientID: "c", PosID: "1"},
		}},
		func(acc credentials.Account) billing.SourcePlatform { return source },
		target,
		contactCache,
		NewTransformer("invoice", "", nil),
		Config{
			EpochStart:         time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
			GenericContactCode: "GEN",
		},
		zap.NewNop(),
	)

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	s := report.Accounts[0]
	assert.Equal(t, 1, s.InvoicesCreated)
	assert.Equal(t, 0, s.ContactsCreated)

	id, ok := contactCache.Get(context.Background(), "GEN")
	require.True(t, ok)
	assert.Equal(t, "generic-by-code", id)
}

func TestRun_ContactCacheAvoidsRepeatLookups(t *testing.T) {
	target := newFakeTarget()
	svc := testService(t, map[string]*fakeSource{
		"museum-a": {name: "museum-a", bills: []billing.Bill{
			testBill("B-1", "B11111111"),
			testBill("B-2", "B11111111"),
		}},
	}, target, Config{})

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	s := report.Accounts[0]
	assert.Equal(t, 1, s.ContactsCreated)
	assert.Equal(t, 2, s.InvoicesCreated)
	assert.Len(t, target.contacts, 1)
}

func TestRun_SetupFailureSkipsAccountOnly(t *testing.T) {
	target := newFakeTarget()
	svc := testService(t, map[string]*fakeSource{
		"museum-a": {name: "museum-a", refreshErr: errors.New("bad credentials")},
		"museum-b": {name: "museum-b", bills: []billing.Bill{testBill("B-1", "")}},
	}, target, Config{})

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"museum-a"}, report.SkippedAccounts)
	require.Len(t, report.Accounts, 1)
	assert.Equal(t, "museum-b", report.Accounts[0].Account)
}

func TestRun_FetchFailureSkipsAccount(t *testing.T) {
	target := newFakeTarget()
	svc := testService(t, map[string]*fakeSource{
		"museum-a": {name: "museum-a", fetchErr: errors.New("source down")},
	}, target, Config{})

	report, err := svc.Run(context.Background())
	require.ErrorIs(t, err, billing.ErrNoAccounts)
	require.NotNil(t, report)
	assert.Equal(t, []string{"museum-a"}, report.SkippedAccounts)
}

func TestRun_NoAccounts(t *testing.T) {
	contactCache := cache.NewInMemoryContactCache(time.Minute)
	t.Cleanup(func() { _ = contactCache.Close() })
	svc := NewService(
		&fakeStore{},
		func(acc credentials.Account) billing.SourcePlatform { return nil },
		newFakeTarget(),
		contactCache,
		NewTransformer("invoice", "", nil),
		Config{},
		zap.NewNop(),
	)

	_, err := svc.Run(context.Background())
	require.ErrorIs(t, err, billing.ErrNoAccounts)
}

func TestRun_BillWithoutNumberCountsAsError(t *testing.T) {
	target := newFakeTarget()
	broken := testBill("", "")
	svc := testService(t, map[string]*fakeSource{
		"museum-a": {name: "museum-a", bills: []billing.Bill{broken, testBill("B-2", "")}},
	}, target, Config{})

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	s := report.Accounts[0]
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, 1, s.InvoicesCreated)
}
