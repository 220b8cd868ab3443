package session

import (
	"context"
	"testing"
	"time"

	"custody-wallet-core/internal/models"
)

func TestSweep_NothingDue(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()

	report, err := env.store.Sweep(env.ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.ExpiredConnections != 0 || report.LimitsRolledOver {
		t.Errorf("Expected an idle sweep, got %+v", report)
	}
}

func TestSweep_ExpiresConnectionsAndRollsLimits(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()

	conn, err := env.store.ConnectPSP(env.ctx, "northwind-pay", []string{"deposit"})
	if err != nil {
		t.Fatalf("ConnectPSP failed: %v", err)
	}

	env.clock.Advance(2161 * time.Hour)
	report, err := env.store.Sweep(env.ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.ExpiredConnections != 1 || !report.LimitsRolledOver {
		t.Errorf("Unexpected report: %+v", report)
	}

	conns, _ := env.store.PSPConnections()
	if len(conns) != 1 || conns[0].Id != conn.Id || conns[0].Status != models.PSPExpired {
		t.Errorf("Expected expired connection, got %+v", conns)
	}
	security, _ := env.store.SecurityConfig()
	if !security.LastDailyReset.Equal(env.clock.Now()) {
		t.Errorf("Expected daily reset at %s, got %s", env.clock.Now(), security.LastDailyReset)
	}

	report, _ = env.store.Sweep(env.ctx)
	if report.ExpiredConnections != 0 || report.LimitsRolledOver {
		t.Errorf("Expected second sweep to be idle, got %+v", report)
	}
}

func TestSweep_PrunesIdempotencyKeys(t *testing.T) {
	env, cleanup := setupTestStore(t)
	defer cleanup()

	env.deposit(t, "USDT", "ethereum", "150", "150", senderEVM)
	ctx := models.WithRequestContext(env.ctx, &models.RequestContext{IdempotencyKey: "sweep-1"})
	if _, err := env.store.Send(ctx, usdtRequest(payeeEVM, "10")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	report, _ := env.store.Sweep(env.ctx)
	if report.IdempotencyPruned != 0 {
		t.Errorf("Expected fresh key to survive, got %d pruned", report.IdempotencyPruned)
	}
	env.clock.Advance(2 * time.Hour)
	report, _ = env.store.Sweep(env.ctx)
	if report.IdempotencyPruned != 1 {
		t.Errorf("Expected 1 pruned key, got %d", report.IdempotencyPruned)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()

	idle := NewSweeper(env.store, 0)
	idle.Stop()

	sweeper := NewSweeper(env.store, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(env.ctx)
	defer cancel()

	sweeper.Start(ctx)
	sweeper.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		sweeper.Stop()
		sweeper.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
