package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/billsync/backend/internal/domain/billing"
)

// historySize bounds the in-memory run history.
const historySize = 20

// Runner executes one sync pass. Satisfied by the migration service.
type Runner interface {
	Run(ctx context.Context) (*billing.RunReport, error)
}

// TriggerConfig holds the periodic trigger settings.
type TriggerConfig struct {
	// Interval between scheduled runs.
	Interval time.Duration
	// Timeout applied to each run's context.
	Timeout time.Duration
}

// RunRecord is one entry of the run history.
type RunRecord struct {
	Trigger    string             `json:"trigger"` // "interval" or "manual"
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Error      string             `json:"error,omitempty"`
	Report     *billing.RunReport `json:"report,omitempty"`
}

// SyncTrigger fires the migration on a fixed interval and on demand. Runs
// never overlap: a tick that lands while a run is executing is dropped,
// and a manual trigger during a run is rejected.
type SyncTrigger struct {
	config TriggerConfig
	runner Runner
	logger *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
	inFlight  bool
	history   []RunRecord
}

// NewSyncTrigger creates a trigger around the given runner.
func NewSyncTrigger(config TriggerConfig, runner Runner, logger *zap.Logger) *SyncTrigger {
	if config.Interval <= 0 {
		config.Interval = 15 * time.Minute
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}
	return &SyncTrigger{
		config: config,
		runner: runner,
		logger: logger,
	}
}

// Start launches the interval loop. Starting an already started trigger is
// a no-op.
func (t *SyncTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("Sync trigger started",
		zap.Duration("interval", t.config.Interval),
		zap.Duration("timeout", t.config.Timeout),
	)
	return nil
}

// Stop stops the interval loop and waits for an in-flight run to finish,
// bounded by the given context.
func (t *SyncTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return ErrTriggerNotRunning
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Sync trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerNow runs a sync immediately, outside the schedule, and waits for
// it to finish.
func (t *SyncTrigger) TriggerNow(ctx context.Context) (*billing.RunReport, error) {
	return t.execute(ctx, "manual")
}

// TriggerAsync starts a manual run in the background. The outcome lands in
// the run history.
func (t *SyncTrigger) TriggerAsync() error {
	if !t.tryAcquire() {
		return ErrSyncInProgress
	}
	go func() {
		defer t.release()
		if _, err := t.runAcquired(context.Background(), "manual"); err != nil {
			t.logger.Error("Manual sync run failed", zap.Error(err))
		}
	}()
	return nil
}

// History returns the most recent run records, newest first.
func (t *SyncTrigger) History() []RunRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RunRecord, len(t.history))
	for i, r := range t.history {
		out[len(t.history)-1-i] = r
	}
	return out
}

func (t *SyncTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.execute(ctx, "interval"); err != nil {
				t.logger.Error("Scheduled sync run failed", zap.Error(err))
			}
		}
	}
}

func (t *SyncTrigger) tryAcquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight {
		return false
	}
	t.inFlight = true
	return true
}

func (t *SyncTrigger) release() {
	t.mu.Lock()
	t.inFlight = false
	t.mu.Unlock()
}

func (t *SyncTrigger) execute(ctx context.Context, trigger string) (*billing.RunReport, error) {
	if !t.tryAcquire() {
		return nil, ErrSyncInProgress
	}
	defer t.release()
	return t.runAcquired(ctx, trigger)
}

func (t *SyncTrigger) runAcquired(ctx context.Context, trigger string) (*billing.RunReport, error) {
	runCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	record := RunRecord{Trigger: trigger, StartedAt: time.Now().UTC()}
	t.logger.Info("Sync run triggered", zap.String("trigger", trigger))

	report, err := t.runner.Run(runCtx)
	record.FinishedAt = time.Now().UTC()
	record.Report = report
	if err != nil {
		record.Error = err.Error()
	}

	t.mu.Lock()
	t.history = append(t.history, record)
	if len(t.history) > historySize {
		t.history = t.history[len(t.history)-historySize:]
	}
	t.mu.Unlock()

	return report, err
}
