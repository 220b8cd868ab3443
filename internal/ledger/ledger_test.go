package ledger

import (
	"errors"
	"testing"
	"time"

	"custody-wallet-core/internal/chains"
	"custody-wallet-core/internal/models"

	"github.com/shopspring/decimal"
)

const selfAddress = "0x52908400098527886E0F7030069857D2E4169EE7"

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func setupTestLedger(t *testing.T) *Ledger {
	catalog, err := chains.LoadCatalog("")
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}
	state := &models.WalletState{
		WalletId: "wallet-1",
		Assets: []models.Asset{
			{Symbol: "USDT", Name: "Tether", Chain: "ethereum", Balance: dec("150"), ValueUSD: dec("150")},
			{Symbol: "ETH", Name: "Ether", Chain: "ethereum", Balance: dec("2"), ValueUSD: dec("6400")},
			{Symbol: "USDT", Name: "Tether", Chain: "tron", Balance: dec("500"), ValueUSD: dec("500")},
		},
	}
	clock := testNow
	return New(state, catalog, catalog, func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
}

func submit(t *testing.T, l *Ledger, amount, symbol, chain string) models.Transaction {
	receipt, err := l.Submit(SubmitParams{
		To:     "0xabc0000000000000000000000000000000000001",
		Amount: dec(amount),
		Symbol: symbol,
		Chain:  chain,
	})
	if err != nil {
		t.Fatalf("Submit(%s %s on %s) failed: %v", amount, symbol, chain, err)
	}
	return receipt.Transaction
}

func TestSubmit_DebitsAssetAndAssignsNonce(t *testing.T) {
	l := setupTestLedger(t)
	first := submit(t, l, "0.5", "ETH", "ethereum")

	receipt, err := l.Submit(SubmitParams{
		To:     "0xabc0000000000000000000000000000000000001",
		Amount: dec("100"),
		Symbol: "usdt",
		Chain:  "Ethereum",
		Memo:   "rent",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	tx := receipt.Transaction
	if receipt.Inconsistent {
		t.Error("Expected consistent receipt")
	}

	usdt, _ := l.Asset("USDT", "ethereum")
	if !usdt.Balance.Equal(dec("50")) {
		t.Errorf("Expected 50 USDT left, got %s", usdt.Balance)
	}
	if !usdt.ValueUSD.Equal(dec("50")) {
		t.Errorf("Expected 50 USD left, got %s", usdt.ValueUSD)
	}
	if !tx.ValueUSD.Equal(dec("100")) {
		t.Errorf("Expected value 100 USD, got %s", tx.ValueUSD)
	}
	if tx.Status != models.StatusPending || tx.Direction != models.DirectionSend {
		t.Errorf("Expected pending send, got %s %s", tx.Status, tx.Direction)
	}
	if tx.Nonce == first.Nonce {
		t.Errorf("Expected distinct nonces, both are %d", tx.Nonce)
	}
	if tx.GasToken != "ETH" || !tx.IsRbfEnabled {
		t.Errorf("Expected ETH gas with replacement enabled, got %s rbf=%v", tx.GasToken, tx.IsRbfEnabled)
	}

	history := l.ListForWallet()
	if len(history) != 2 || history[0].Id != tx.Id {
		t.Fatalf("Expected new transaction first of 2, got %d entries", len(history))
	}
	if err := l.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestSubmit_MissingAssetFallsBack(t *testing.T) {
	l := setupTestLedger(t)

	receipt, err := l.Submit(SubmitParams{To: selfAddress, Amount: dec("25"), Symbol: "DAI", Chain: "ethereum"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !receipt.Inconsistent {
		t.Error("Expected inconsistent receipt")
	}
	if !receipt.Transaction.ValueUSD.Equal(dec("25")) {
		t.Errorf("Expected 1:1 USD value, got %s", receipt.Transaction.ValueUSD)
	}
	if len(l.State().Assets) != 3 {
		t.Errorf("Expected no asset to be created, got %d assets", len(l.State().Assets))
	}
}

func TestSubmit_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		params SubmitParams
	}{
		{"zero amount", SubmitParams{To: selfAddress, Amount: decimal.Zero, Symbol: "USDT", Chain: "ethereum"}},
		{"negative amount", SubmitParams{To: selfAddress, Amount: dec("-1"), Symbol: "USDT", Chain: "ethereum"}},
		{"insufficient", SubmitParams{To: selfAddress, Amount: dec("150.01"), Symbol: "USDT", Chain: "ethereum"}},
		{"no destination", SubmitParams{Amount: dec("1"), Symbol: "USDT", Chain: "ethereum"}},
		{"unknown chain", SubmitParams{To: selfAddress, Amount: dec("1"), Symbol: "USDT", Chain: "cosmos"}},
	}

	for _, tt := range tests {
		l := setupTestLedger(t)
		if _, err := l.Submit(tt.params); !errors.Is(err, models.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", tt.name, err)
		}
		if len(l.ListForWallet()) != 0 {
			t.Errorf("%s: expected no transaction recorded", tt.name)
		}
		usdt, _ := l.Asset("USDT", "ethereum")
		if !usdt.Balance.Equal(dec("150")) {
			t.Errorf("%s: balance changed to %s", tt.name, usdt.Balance)
		}
	}
}

func TestMarkConfirmedAndFailed(t *testing.T) {
	l := setupTestLedger(t)
	tx := submit(t, l, "100", "USDT", "ethereum")

	confirmed, err := l.MarkConfirmed(tx.Id)
	if err != nil {
		t.Fatalf("MarkConfirmed failed: %v", err)
	}
	if confirmed.Status != models.StatusConfirmed || confirmed.ConfirmedAt.IsZero() {
		t.Errorf("Expected confirmed with timestamp, got %s", confirmed.Status)
	}
	if _, err := l.MarkConfirmed(tx.Id); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition on second confirm, got %v", err)
	}
	if _, err := l.MarkFailed(tx.Id, "dropped"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition failing a confirmed send, got %v", err)
	}

	other := submit(t, l, "30", "USDT", "ethereum")
	failed, err := l.MarkFailed(other.Id, "dropped")
	if err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if failed.FailureReason != "dropped" {
		t.Errorf("Expected reason dropped, got %s", failed.FailureReason)
	}
	usdt, _ := l.Asset("USDT", "ethereum")
	if !usdt.Balance.Equal(dec("50")) {
		t.Errorf("Expected 30 USDT credited back to 50, got %s", usdt.Balance)
	}

	if _, err := l.MarkConfirmed("missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestSpeedUp(t *testing.T) {
	l := setupTestLedger(t)
	orig := submit(t, l, "100", "USDT", "ethereum")

	replacement, err := l.SpeedUp(orig.Id, models.FeeTierFast)
	if err != nil {
		t.Fatalf("SpeedUp failed: %v", err)
	}
	if replacement.Nonce != orig.Nonce {
		t.Errorf("Expected nonce %d reused, got %d", orig.Nonce, replacement.Nonce)
	}
	if replacement.Hash == orig.Hash || replacement.Id == orig.Id {
		t.Error("Expected a new id and hash")
	}
	if !replacement.GasPrice.GreaterThan(orig.GasPrice) {
		t.Errorf("Expected higher gas price, %s <= %s", replacement.GasPrice, orig.GasPrice)
	}
	if replacement.Replaces != orig.Id || !replacement.Amount.Equal(orig.Amount) {
		t.Errorf("Unexpected replacement %+v", replacement)
	}

	superseded, _ := l.Get(orig.Id)
	if superseded.Status != models.StatusFailed || superseded.FailureReason != models.FailureReplaced || superseded.ReplacedBy != replacement.Id {
		t.Errorf("Unexpected superseded state: %s %s %s", superseded.Status, superseded.FailureReason, superseded.ReplacedBy)
	}
	if _, err := l.SpeedUp(orig.Id, models.FeeTierInstant); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition on superseded send, got %v", err)
	}
	if _, err := l.MarkConfirmed(orig.Id); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected superseded send to refuse confirmation, got %v", err)
	}

	usdt, _ := l.Asset("USDT", "ethereum")
	if !usdt.Balance.Equal(dec("50")) {
		t.Errorf("Expected balance untouched at 50, got %s", usdt.Balance)
	}

	if _, err := l.MarkFailed(replacement.Id, "dropped"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	usdt, _ = l.Asset("USDT", "ethereum")
	if !usdt.Balance.Equal(dec("150")) {
		t.Errorf("Expected balance restored to 150, got %s", usdt.Balance)
	}
	if err := l.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestCancel(t *testing.T) {
	l := setupTestLedger(t)
	orig := submit(t, l, "100", "USDT", "ethereum")
	faster, err := l.SpeedUp(orig.Id, models.FeeTierFast)
	if err != nil {
		t.Fatalf("SpeedUp failed: %v", err)
	}

	cancellation, err := l.Cancel(faster.Id, selfAddress)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancellation.Kind != models.KindCancellation || !cancellation.Amount.IsZero() {
		t.Errorf("Expected zero-amount cancellation, got %s %s", cancellation.Kind, cancellation.Amount)
	}
	if !cancellation.CancelledAmount.Equal(dec("100")) {
		t.Errorf("Expected 100 cancelled, got %s", cancellation.CancelledAmount)
	}
	if cancellation.Counterparty != selfAddress || cancellation.Nonce != orig.Nonce {
		t.Errorf("Expected self-send at nonce %d, got %s at %d", orig.Nonce, cancellation.Counterparty, cancellation.Nonce)
	}
	superseded, _ := l.Get(faster.Id)
	if superseded.FailureReason != models.FailureCancelled {
		t.Errorf("Expected reason cancelled, got %s", superseded.FailureReason)
	}

	if _, err := l.MarkConfirmed(cancellation.Id); err != nil {
		t.Fatalf("MarkConfirmed failed: %v", err)
	}
	usdt, _ := l.Asset("USDT", "ethereum")
	if !usdt.Balance.Equal(dec("150")) || !usdt.ValueUSD.Equal(dec("150")) {
		t.Errorf("Expected 150 USDT worth 150 USD, got %s worth %s", usdt.Balance, usdt.ValueUSD)
	}

	live := 0
	for _, tx := range l.ListForWallet() {
		if tx.Nonce == orig.Nonce && tx.IsLive() {
			live++
		}
	}
	if live != 1 {
		t.Errorf("Expected one live transaction at nonce %d, got %d", orig.Nonce, live)
	}
}

func TestReplacement_RejectedWithoutFeeMarket(t *testing.T) {
	l := setupTestLedger(t)
	tx := submit(t, l, "10", "USDT", "tron")
	if tx.IsRbfEnabled {
		t.Fatal("Expected tron send without replacement")
	}

	if _, err := l.SpeedUp(tx.Id, models.FeeTierFast); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition from SpeedUp, got %v", err)
	}
	if _, err := l.Cancel(tx.Id, "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition from Cancel, got %v", err)
	}
	if len(l.ListForWallet()) != 1 {
		t.Error("Expected no replacement recorded")
	}
}

func TestReplacement_RejectedForRefund(t *testing.T) {
	l := setupTestLedger(t)
	receipt, err := l.Submit(SubmitParams{
		To:     "0xabc0000000000000000000000000000000000001",
		Amount: dec("100"),
		Symbol: "USDT",
		Chain:  "ethereum",
		Kind:   models.KindRefund,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	refund := receipt.Transaction

	if _, err := l.SpeedUp(refund.Id, models.FeeTierFast); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition from SpeedUp, got %v", err)
	}
	if _, err := l.Cancel(refund.Id, selfAddress); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition from Cancel, got %v", err)
	}
	if len(l.ListForWallet()) != 1 {
		t.Error("Expected no replacement recorded")
	}
}

func TestSubmit_KeepsHistoryNewestFirst(t *testing.T) {
	l := setupTestLedger(t)
	future, err := l.Ingest(models.Transaction{
		Direction: models.DirectionReceive,
		Amount:    dec("5"),
		Symbol:    "USDT",
		Chain:     "ethereum",
		Hash:      "0xfuture",
		Status:    models.StatusConfirmed,
		Timestamp: testNow.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	sent := submit(t, l, "1", "USDT", "ethereum")
	history := l.ListForWallet()
	if len(history) != 2 || history[0].Id != future.Id || history[1].Id != sent.Id {
		t.Fatalf("Expected later receive ahead of the send, got %d entries", len(history))
	}
	if history[0].Timestamp.Before(history[1].Timestamp) {
		t.Error("Expected newest-first ordering")
	}
}

func TestIngest(t *testing.T) {
	l := setupTestLedger(t)
	submit(t, l, "1", "USDT", "ethereum")

	older := models.Transaction{
		Direction:    models.DirectionReceive,
		Amount:       dec("15000"),
		Symbol:       "usdt",
		Chain:        "ethereum",
		Counterparty: "0xDEF0000000000000000000000000000000000002",
		Hash:         "0xfeed",
		Status:       models.StatusConfirmed,
		Timestamp:    testNow.Add(-time.Hour),
	}
	ingested, err := l.Ingest(older)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if ingested.Id == "" || ingested.Kind != models.KindTransfer {
		t.Errorf("Expected id and kind assigned, got %q %q", ingested.Id, ingested.Kind)
	}
	history := l.ListForWallet()
	if history[len(history)-1].Id != ingested.Id {
		t.Error("Expected older receive to be placed last")
	}
	usdt, _ := l.Asset("USDT", "ethereum")
	if !usdt.Balance.Equal(dec("15149")) {
		t.Errorf("Expected 15149 USDT, got %s", usdt.Balance)
	}

	if _, err := l.Ingest(older); !errors.Is(err, models.ErrDuplicateTransaction) {
		t.Errorf("Expected duplicate error, got %v", err)
	}

	sol := models.Transaction{
		Direction: models.DirectionReceive,
		Amount:    dec("3"),
		ValueUSD:  dec("450"),
		Symbol:    "SOL",
		Chain:     "solana",
		Hash:      "sol-1",
		Status:    models.StatusConfirmed,
	}
	if _, err := l.Ingest(sol); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if asset, ok := l.Asset("SOL", "solana"); !ok || !asset.ValueUSD.Equal(dec("450")) {
		t.Errorf("Expected SOL asset created with 450 USD, got %+v", asset)
	}

	failed := sol
	failed.Hash = "sol-2"
	failed.Status = models.StatusFailed
	if _, err := l.Ingest(failed); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if asset, _ := l.Asset("SOL", "solana"); !asset.Balance.Equal(dec("3")) {
		t.Errorf("Expected failed receive not to credit, got %s", asset.Balance)
	}

	pending := sol
	pending.Hash = "sol-3"
	pending.Status = models.StatusPending
	if _, err := l.Ingest(pending); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected validation error for pending receive, got %v", err)
	}
}

func TestQueries(t *testing.T) {
	l := setupTestLedger(t)
	a := submit(t, l, "10", "USDT", "ethereum")
	b := submit(t, l, "10", "USDT", "tron")
	c := submit(t, l, "0.1", "ETH", "ethereum")

	if got := l.ListForAsset("usdt", ""); len(got) != 2 || got[0].Id != b.Id || got[1].Id != a.Id {
		t.Errorf("Unexpected USDT history: %+v", got)
	}
	if got := l.ListForAsset("USDT", "tron"); len(got) != 1 || got[0].Id != b.Id {
		t.Errorf("Unexpected tron USDT history: %+v", got)
	}
	if got := l.ListForCounterparty("0xABC0000000000000000000000000000000000001"); len(got) != 3 || got[0].Id != c.Id {
		t.Errorf("Expected 3 transactions for counterparty, got %d", len(got))
	}

	found, ok := l.FindByHash(a.Hash)
	if !ok || found.Id != a.Id {
		t.Errorf("FindByHash did not return %s", a.Id)
	}
	if _, err := l.Get("nope"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}

	list := l.ListForWallet()
	list[0].Status = models.StatusConfirmed
	if again, _ := l.Get(list[0].Id); again.Status != models.StatusPending {
		t.Error("Query results must not alias ledger state")
	}
}

func TestVerify_DetectsDoubleLiveNonce(t *testing.T) {
	l := setupTestLedger(t)
	tx := submit(t, l, "10", "USDT", "ethereum")

	dup := tx
	dup.Id = "forged"
	l.State().Transactions = append(l.State().Transactions, dup)
	if err := l.Verify(); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected invariant violation, got %v", err)
	}
}

func TestApply(t *testing.T) {
	l := setupTestLedger(t)
	tx := submit(t, l, "10", "USDT", "ethereum")

	boom := errors.New("boom")
	_, err := l.Apply(tx.Id, func(tx *models.Transaction) error {
		tx.Memo = "changed"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected fn error, got %v", err)
	}
	if got, _ := l.Get(tx.Id); got.Memo != "" {
		t.Error("Failed Apply must not write")
	}

	updated, err := l.Apply(tx.Id, func(tx *models.Transaction) error {
		tx.Memo = "changed"
		return nil
	})
	if err != nil || updated.Memo != "changed" {
		t.Errorf("Apply failed: %v", err)
	}
}
