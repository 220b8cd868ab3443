package session

import (
	"context"
	"sync"
	"time"

	"custody-wallet-core/internal/models"

	"go.uber.org/zap"
)

const defaultSweepInterval = time.Minute

// SweepReport summarises one maintenance pass
type SweepReport struct {
	ExpiredConnections int
	LimitsRolledOver   bool
	IdempotencyPruned  int
	ScansPruned        int
}

// Sweep expires PSP connections past their term, persists due limit counter
// resets and drops stale idempotency keys and scan results.
func (s *Store) Sweep(ctx context.Context) (SweepReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	report := SweepReport{
		IdempotencyPruned: s.pruneIdempotency(s.now()),
		ScansPruned:       s.scanner.Prune(),
	}
	if s.snapshot().account == nil {
		return report, nil
	}

	err := s.mutateAccountLocked(ctx, "sweep", func(c *change) error {
		expired := c.connections(s).ExpireDue(c.now)
		for _, conn := range expired {
			c.feed().Append(models.CategoryPSP, models.PriorityNormal,
				conn.Name+" connection expired",
				"Reconnect to keep using "+conn.Name,
				"/psp/"+conn.Id)
		}
		report.ExpiredConnections = len(expired)
		report.LimitsRolledOver = c.enforcer().Rollover(c.now)
		if report.ExpiredConnections == 0 && !report.LimitsRolledOver {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return SweepReport{IdempotencyPruned: report.IdempotencyPruned, ScansPruned: report.ScansPruned}, err
	}
	return report, nil
}

// Sweeper runs Sweep on a fixed interval until stopped
type Sweeper struct {
	store    *Store
	interval time.Duration

	mu       sync.Mutex
	started  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the sweep loop. Calling it twice has no effect.
func (w *Sweeper) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true

	go w.sweepLoop(ctx)
	zap.L().Info("Sweeper started", zap.Duration("interval", w.interval))
}

// Stop ends the loop and waits for an in-flight sweep to finish
func (w *Sweeper) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}
	<-w.doneChan
	zap.L().Info("Sweeper stopped")
}

func (w *Sweeper) sweepLoop(ctx context.Context) {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context) {
	report, err := w.store.Sweep(ctx)
	if err != nil {
		zap.L().Error("Sweep failed", zap.Error(err))
		return
	}
	if report.ExpiredConnections > 0 || report.LimitsRolledOver {
		zap.L().Info("Sweep applied changes",
			zap.Int("expired_connections", report.ExpiredConnections),
			zap.Bool("limits_rolled_over", report.LimitsRolledOver))
	}
	zap.L().Debug("Sweep complete",
		zap.Int("idempotency_pruned", report.IdempotencyPruned),
		zap.Int("scans_pruned", report.ScansPruned))
}
