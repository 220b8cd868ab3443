package risk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"custody-wallet-core/internal/models"

	"github.com/shopspring/decimal"
)

const (
	sanctioned = "0x8589427373d6d84e98730d7795d8f6f8731fda16"
	mixer      = "0x3CBdeD43EFdAf0FC77b9C55F6fC9988fCC9b37d9"
	clean      = "0x52908400098527886E0F7030069857D2E4169EE7"
)

type countingOracle struct {
	calls   atomic.Int32
	release chan struct{}
	inner   Oracle
}

func (o *countingOracle) Assess(ctx context.Context, address string) (models.Assessment, error) {
	o.calls.Add(1)
	if o.release != nil {
		select {
		case <-o.release:
		case <-ctx.Done():
			return models.Assessment{}, ctx.Err()
		}
	}
	return o.inner.Assess(ctx, address)
}

func defaultOracle(t *testing.T) *RuleOracle {
	oracle, err := LoadRuleOracle("")
	if err != nil {
		t.Fatalf("Failed to load rules: %v", err)
	}
	return oracle
}

func TestRuleOracle(t *testing.T) {
	oracle := defaultOracle(t)

	tests := []struct {
		address string
		score   models.RiskScore
	}{
		{sanctioned, models.RiskRed},
		{"  0x8589427373D6D84E98730D7795D8F6F8731FDA16 ", models.RiskRed},
		{mixer, models.RiskYellow},
		{"0xBADC0DE000000000000000000000000000000001", models.RiskYellow},
		{clean, models.RiskGreen},
		{"TVj7RNVHy6thbM7BWdSe9G6gXwKhjhdNZS", models.RiskRed},
	}
	for _, tt := range tests {
		got, err := oracle.Assess(context.Background(), tt.address)
		if err != nil {
			t.Fatalf("Assess(%s) failed: %v", tt.address, err)
		}
		if got.Score != tt.score {
			t.Errorf("Assess(%s) = %s, want %s", tt.address, got.Score, tt.score)
		}
		if tt.score.Flagged() && len(got.Reasons) == 0 {
			t.Errorf("Assess(%s) returned no reasons", tt.address)
		}
	}
}

func TestParseRules_MostSevereWins(t *testing.T) {
	oracle, err := ParseRules([]byte(`
rules:
  - score: yellow
    reason: prefix
    prefixes: ["0xaa"]
  - score: red
    reason: exact
    addresses: ["0xAA01"]
`))
	if err != nil {
		t.Fatalf("ParseRules failed: %v", err)
	}
	got, _ := oracle.Assess(context.Background(), "0xaa01")
	if got.Score != models.RiskRed || len(got.Reasons) != 2 {
		t.Errorf("Expected red with both reasons, got %s %v", got.Score, got.Reasons)
	}

	if _, err := ParseRules([]byte("rules:\n  - score: green\n    reason: x")); err == nil {
		t.Error("Expected green rule to be rejected")
	}
}

func TestScanner_CachesWithinWindow(t *testing.T) {
	oracle := &countingOracle{inner: defaultOracle(t)}
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	scanner := NewScanner(oracle, ScannerConfig{CacheWindow: time.Minute}).WithClock(func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		got, err := scanner.ScanAddress(context.Background(), mixer)
		if err != nil {
			t.Fatalf("ScanAddress failed: %v", err)
		}
		if got.Score != models.RiskYellow {
			t.Errorf("Expected yellow, got %s", got.Score)
		}
	}
	if oracle.calls.Load() != 1 {
		t.Errorf("Expected 1 oracle call, got %d", oracle.calls.Load())
	}

	clock = clock.Add(2 * time.Minute)
	if dropped := scanner.Prune(); dropped != 1 {
		t.Errorf("Expected 1 stale entry pruned, got %d", dropped)
	}
	if _, err := scanner.ScanAddress(context.Background(), mixer); err != nil {
		t.Fatalf("ScanAddress failed: %v", err)
	}
	if oracle.calls.Load() != 2 {
		t.Errorf("Expected a fresh oracle call after the window, got %d calls", oracle.calls.Load())
	}

	scanner.Invalidate(mixer)
	scanner.ScanAddress(context.Background(), mixer)
	if oracle.calls.Load() != 3 {
		t.Errorf("Expected a fresh oracle call after invalidation, got %d calls", oracle.calls.Load())
	}
}

func TestScanner_CoalescesConcurrentScans(t *testing.T) {
	oracle := &countingOracle{inner: defaultOracle(t), release: make(chan struct{})}
	scanner := NewScanner(oracle, ScannerConfig{Timeout: 5 * time.Second})

	var wg sync.WaitGroup
	results := make([]models.Assessment, 5)
	errs := make([]error, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = scanner.ScanAddress(context.Background(), sanctioned)
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(oracle.release)
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("Scan %d failed: %v", i, errs[i])
		}
		if results[i].Score != models.RiskRed {
			t.Errorf("Scan %d: expected red, got %s", i, results[i].Score)
		}
	}
	if oracle.calls.Load() != 1 {
		t.Errorf("Expected 1 oracle call, got %d", oracle.calls.Load())
	}
}

func TestScanner_Timeout(t *testing.T) {
	oracle := &countingOracle{inner: defaultOracle(t), release: make(chan struct{})}
	scanner := NewScanner(oracle, ScannerConfig{Timeout: 20 * time.Millisecond})

	_, err := scanner.ScanAddress(context.Background(), clean)
	if !errors.Is(err, models.ErrNetwork) {
		t.Errorf("Expected network error on timeout, got %v", err)
	}
}

func TestScanner_CallerCancellation(t *testing.T) {
	oracle := &countingOracle{inner: defaultOracle(t), release: make(chan struct{})}
	scanner := NewScanner(oracle, ScannerConfig{Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := scanner.ScanAddress(ctx, clean)
	if !errors.Is(err, models.ErrNetwork) || !errors.Is(err, context.Canceled) {
		t.Errorf("Expected abandoned scan error, got %v", err)
	}
	close(oracle.release)

	if _, err := scanner.ScanAddress(context.Background(), ""); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected validation error for empty address, got %v", err)
	}
}

func TestScanner_RateLimited(t *testing.T) {
	oracle := &countingOracle{inner: defaultOracle(t)}
	scanner := NewScanner(oracle, ScannerConfig{Timeout: 50 * time.Millisecond, RatePerSecond: 0.001, Burst: 1})

	if _, err := scanner.ScanAddress(context.Background(), clean); err != nil {
		t.Fatalf("First scan failed: %v", err)
	}
	if _, err := scanner.ScanAddress(context.Background(), mixer); !errors.Is(err, models.ErrNetwork) {
		t.Errorf("Expected the second scan to be rate limited, got %v", err)
	}
}

func flaggedReceive(id string, score models.RiskScore, usd string) models.Transaction {
	tx := models.Transaction{
		Id:           id,
		Direction:    models.DirectionReceive,
		Amount:       decimal.RequireFromString(usd),
		Symbol:       "USDT",
		ValueUSD:     decimal.RequireFromString(usd),
		Counterparty: sanctioned,
		Chain:        "ethereum",
		Status:       models.StatusConfirmed,
	}
	Track(&tx, models.Assessment{Score: score, Reasons: []string{"test"}})
	return tx
}

func TestDisposalTransitions(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	green := flaggedReceive("g", models.RiskGreen, "5")
	if green.DisposalStatus != models.DisposalNone {
		t.Errorf("Expected green receive untracked, got %s", green.DisposalStatus)
	}
	if err := Acknowledge(&green, now); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition acknowledging green, got %v", err)
	}

	tx := flaggedReceive("r", models.RiskRed, "100")
	if tx.DisposalStatus != models.DisposalPending {
		t.Fatalf("Expected pending disposal, got %s", tx.DisposalStatus)
	}
	if err := Track(&tx, models.Assessment{Score: models.RiskGreen}); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected re-tracking to fail, got %v", err)
	}
	if err := Acknowledge(&tx, now); err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}
	if tx.DisposalStatus != models.DisposalAcknowledged || !tx.DisposalTime.Equal(now) {
		t.Errorf("Unexpected state after acknowledge: %s %v", tx.DisposalStatus, tx.DisposalTime)
	}
	if err := Acknowledge(&tx, now); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected second acknowledge to fail, got %v", err)
	}
	if err := BeginReturn(&tx); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected return after acknowledge to fail, got %v", err)
	}

	ret := flaggedReceive("y", models.RiskYellow, "10")
	if err := BeginReturn(&ret); err != nil {
		t.Fatalf("BeginReturn failed: %v", err)
	}
	if ret.DisposalStatus != models.DisposalPending {
		t.Error("BeginReturn must not change state")
	}
	if err := CompleteReturn(&ret, "", now); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected validation error for empty hash, got %v", err)
	}
	if err := CompleteReturn(&ret, "0xrefund", now); err != nil {
		t.Fatalf("CompleteReturn failed: %v", err)
	}
	if err := CompleteReturn(&ret, "0xsecond", now); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected second return to fail, got %v", err)
	}
	if ret.DisposalTxHash != "0xrefund" {
		t.Errorf("Expected first refund hash kept, got %s", ret.DisposalTxHash)
	}

	if err := ReopenReturn(&ret, "0xother"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected reopen with another refund to fail, got %v", err)
	}
	if err := ReopenReturn(&ret, "0xrefund"); err != nil {
		t.Fatalf("ReopenReturn failed: %v", err)
	}
	if ret.DisposalStatus != models.DisposalPending || ret.DisposalTxHash != "" || !ret.DisposalTime.IsZero() {
		t.Errorf("Unexpected state after reopen: %s %q %v", ret.DisposalStatus, ret.DisposalTxHash, ret.DisposalTime)
	}
	if err := ReopenReturn(&ret, "0xrefund"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected reopen of a pending disposal to fail, got %v", err)
	}
	if err := BeginReturn(&ret); err != nil {
		t.Errorf("Expected a reopened disposal to be returnable, got %v", err)
	}

	failed := flaggedReceive("f", models.RiskRed, "10")
	failed.Status = models.StatusFailed
	if err := BeginReturn(&failed); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected return of a failed receive to fail, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	tx := flaggedReceive("r", models.RiskRed, "15000")
	summary := Summarize([]models.Transaction{tx})

	if summary.Status != models.RiskStatusRestricted || summary.RedCount != 1 || summary.YellowCount != 0 {
		t.Errorf("Unexpected summary %+v", summary)
	}
	if !summary.TotalRiskExposure.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("Expected exposure 15000, got %s", summary.TotalRiskExposure)
	}

	Acknowledge(&tx, time.Now())
	summary = Summarize([]models.Transaction{tx})
	if summary.Status != models.RiskStatusHealthy || summary.PendingRiskCount != 0 {
		t.Errorf("Expected healthy with nothing pending, got %+v", summary)
	}

	mixed := []models.Transaction{
		flaggedReceive("y1", models.RiskYellow, "10"),
		flaggedReceive("y2", models.RiskYellow, "5"),
		flaggedReceive("g", models.RiskGreen, "1000"),
		tx,
	}
	summary = Summarize(mixed)
	if summary.Status != models.RiskStatusWarning || summary.YellowCount != 2 || summary.PendingRiskCount != 2 {
		t.Errorf("Expected warning with 2 yellow, got %+v", summary)
	}
	if !summary.TotalRiskExposure.Equal(decimal.NewFromInt(15)) {
		t.Errorf("Expected exposure 15, got %s", summary.TotalRiskExposure)
	}
}

func TestGateOutbound(t *testing.T) {
	psp := models.PSPMatch{IsPSP: true, PSPName: "Acme Pay", ConnectionId: "c1"}
	tests := []struct {
		status models.AccountRiskStatus
		match  models.PSPMatch
		want   models.GateAction
	}{
		{models.RiskStatusRestricted, psp, models.GateBlock},
		{models.RiskStatusWarning, psp, models.GateConfirm},
		{models.RiskStatusHealthy, psp, models.GateAllow},
		{models.RiskStatusRestricted, models.PSPMatch{}, models.GateAllow},
	}
	for _, tt := range tests {
		got := GateOutbound(models.AccountRiskSummary{Status: tt.status, RedCount: 1, YellowCount: 1}, tt.match)
		if got.Action != tt.want {
			t.Errorf("GateOutbound(%s, psp=%v) = %s, want %s", tt.status, tt.match.IsPSP, got.Action, tt.want)
		}
	}
}

func TestDestinationPolicy(t *testing.T) {
	red := models.Assessment{Score: models.RiskRed, Reasons: []string{"sanctioned"}}
	if got := DestinationPolicy(red, models.HighRiskBlock); got.Action != models.GateBlock {
		t.Errorf("Expected block, got %s", got.Action)
	}
	if got := DestinationPolicy(red, models.HighRiskWarn); got.Action != models.GateConfirm {
		t.Errorf("Expected confirm, got %s", got.Action)
	}
	yellow := models.Assessment{Score: models.RiskYellow, Reasons: []string{"mixer"}}
	if got := DestinationPolicy(yellow, models.HighRiskBlock); got.Action != models.GateAllow || got.Reason == "" {
		t.Errorf("Expected allow with a warning, got %+v", got)
	}

	strictest := Strictest(
		models.GateDecision{Action: models.GateConfirm, Reason: "a"},
		models.GateDecision{Action: models.GateBlock, Reason: "b"},
		models.GateDecision{Action: models.GateAllow},
	)
	if strictest.Action != models.GateBlock || strictest.Reason != "b" {
		t.Errorf("Unexpected strictest decision %+v", strictest)
	}
}
