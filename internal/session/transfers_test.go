package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"custody-wallet-core/internal/models"

	"github.com/shopspring/decimal"
)

func usdtRequest(to, amount string) models.SendRequest {
	return models.SendRequest{
		To:     to,
		Amount: decimal.RequireFromString(amount),
		Symbol: "usdt",
		Chain:  "Ethereum",
	}
}

func TestSend_DebitsBalanceAndAssignsNonce(t *testing.T) {
	env, cleanup := setupTestStore(t)
	defer cleanup()

	env.deposit(t, "USDT", "ethereum", "150", "150", senderEVM)

	result, err := env.store.Send(env.ctx, usdtRequest(payeeEVM, "100"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !result.NewBalance.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected new balance 50, got %s", result.NewBalance)
	}
	if result.Nonce != 0 || result.TxHash == "" || result.Replayed {
		t.Errorf("Unexpected result: %+v", result)
	}

	asset := env.asset(t, "USDT", "ethereum")
	if !asset.Balance.Equal(decimal.NewFromInt(50)) || !asset.ValueUSD.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected 50 USDT worth $50, got %s worth %s", asset.Balance, asset.ValueUSD)
	}

	tx, err := env.store.Transaction(result.TransactionId)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if tx.Status != models.StatusPending || tx.Direction != models.DirectionSend || tx.GasToken != "ETH" {
		t.Errorf("Unexpected transaction: %+v", tx)
	}

	next, err := env.store.Send(env.ctx, usdtRequest(payeeEVM, "10"))
	if err != nil {
		t.Fatalf("Second send failed: %v", err)
	}
	if next.Nonce != 1 {
		t.Errorf("Expected nonce 1, got %d", next.Nonce)
	}

	history, _ := env.store.TransactionsForCounterparty(strings.ToLower(payeeEVM))
	if len(history) != 2 || history[0].Id != next.TransactionId {
		t.Errorf("Expected 2 sends to payee, newest first, got %d", len(history))
	}
}

func TestSend_IdempotencyKey(t *testing.T) {
	env, cleanup := setupTestStore(t)
	defer cleanup()

	env.deposit(t, "USDT", "ethereum", "150", "150", senderEVM)
	ctx := models.WithRequestContext(env.ctx, &models.RequestContext{IdempotencyKey: "send-1"})

	first, err := env.store.Send(ctx, usdtRequest(payeeEVM, "50"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	again, err := env.store.Send(ctx, usdtRequest(payeeEVM, "50"))
	if err != nil {
		t.Fatalf("Replayed send failed: %v", err)
	}
	if !again.Replayed || again.TransactionId != first.TransactionId || again.TxHash != first.TxHash {
		t.Errorf("Expected replay of %s, got %+v", first.TransactionId, again)
	}
	if asset := env.asset(t, "USDT", "ethereum"); !asset.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected a single debit leaving 100, got %s", asset.Balance)
	}

	env.clock.Advance(2 * time.Hour)
	later, err := env.store.Send(ctx, usdtRequest(payeeEVM, "50"))
	if err != nil {
		t.Fatalf("Send after window failed: %v", err)
	}
	if later.Replayed || later.TransactionId == first.TransactionId {
		t.Error("Expected a new transfer once the key expired")
	}
}

func TestSend_Rejections(t *testing.T) {
	env, cleanup := setupTestStore(t)
	defer cleanup()

	env.deposit(t, "USDT", "ethereum", "150", "150", senderEVM)
	own, _ := env.store.ReceiveAddress("ethereum")

	tests := []struct {
		name string
		req  models.SendRequest
	}{
		{"insufficient balance", usdtRequest(payeeEVM, "200")},
		{"zero amount", usdtRequest(payeeEVM, "0")},
		{"malformed address", usdtRequest("0x1234", "10")},
		{"wrong chain format", usdtRequest(tronAddr, "10")},
		{"own address", usdtRequest(own, "10")},
		{"unknown chain", models.SendRequest{To: payeeEVM, Amount: decimal.NewFromInt(1), Symbol: "USDT", Chain: "dogecoin"}},
	}
	for _, tt := range tests {
		if _, err := env.store.Send(env.ctx, tt.req); !errors.Is(err, models.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", tt.name, err)
		}
	}

	txs, _ := env.store.Transactions()
	if len(txs) != 1 {
		t.Errorf("Expected rejected sends to leave no trace, got %d transactions", len(txs))
	}
}

func TestSend_CancelledContextLeavesNoTrace(t *testing.T) {
	env, cleanup := setupTestStore(t)
	defer cleanup()

	env.deposit(t, "USDT", "ethereum", "150", "150", senderEVM)
	wallet, _ := env.store.ActiveWallet()
	before, err := env.repo.LoadState(env.ctx, wallet.Id)
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}

	ctx, cancel := context.WithCancel(env.ctx)
	cancel()
	if _, err := env.store.Send(ctx, usdtRequest(payeeEVM, "100")); !errors.Is(err, models.ErrNetwork) {
		t.Fatalf("Expected network error, got %v", err)
	}

	if asset := env.asset(t, "USDT", "ethereum"); !asset.Balance.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Expected balance untouched, got %s", asset.Balance)
	}
	after, _ := env.repo.LoadState(env.ctx, wallet.Id)
	if after.Version != before.Version || len(after.Transactions) != 1 {
		t.Errorf("Expected repository untouched, version %d -> %d", before.Version, after.Version)
	}
}

func TestSend_TimeoutDuringNetworkWait(t *testing.T) {
	env, cleanup := setupTestStore(t, func(cfg *models.Config) {
		cfg.Session.NetworkLatency = 100 * time.Millisecond
	})
	defer cleanup()

	env.deposit(t, "USDT", "ethereum", "150", "150", senderEVM)

	ctx, cancel := context.WithTimeout(env.ctx, 10*time.Millisecond)
	defer cancel()
	_, err := env.store.Send(ctx, usdtRequest(payeeEVM, "100"))
	if !errors.Is(err, models.ErrNetwork) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected network timeout, got %v", err)
	}
	if asset := env.asset(t, "USDT", "ethereum"); !asset.Balance.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Expected balance untouched, got %s", asset.Balance)
	}

	if _, err := env.store.Send(env.ctx, usdtRequest(payeeEVM, "100")); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if asset := env.asset(t, "USDT", "ethereum"); !asset.Balance.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected 50 after retry, got %s", asset.Balance)
	}
}

func TestSend_HighRiskDestination(t *testing.T) {
	env, cleanup := setupTestStore(t)
	defer cleanup()

	env.deposit(t, "USDT", "ethereum", "150", "150", senderEVM)

	preview, err := env.store.PrepareSend(env.ctx, usdtRequest(redEVM, "10"))
	if err != nil {
		t.Fatalf("PrepareSend failed: %v", err)
	}
	if !preview.Blocked || preview.Destination.Score != models.RiskRed {
		t.Errorf("Expected red destination to be blocked, got %+v", preview)
	}
	if _, err := env.store.Send(env.ctx, usdtRequest(redEVM, "10")); !errors.Is(err, models.ErrTransferBlocked) {
		t.Errorf("Expected transfer blocked, got %v", err)
	}

	if err := env.store.SetHighRiskAction(env.ctx, models.HighRiskWarn); err != nil {
		t.Fatalf("SetHighRiskAction failed: %v", err)
	}
	if _, err := env.store.Send(env.ctx, usdtRequest(redEVM, "10")); !errors.Is(err, models.ErrAcknowledgementNeeded) {
		t.Errorf("Expected acknowledgement needed, got %v", err)
	}
	req := usdtRequest(redEVM, "10")
	req.Acknowledged = true
	if _, err := env.store.Send(env.ctx, req); err != nil {
		t.Errorf("Acknowledged send failed: %v", err)
	}

	if err := env.store.SetHighRiskAction(env.ctx, "ignore"); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestSend_YellowDestinationWarns(t *testing.T) {
	env, cleanup := setupTestStore(t)
	defer cleanup()

	env.deposit(t, "USDT", "ethereum", "150", "150", senderEVM)

	preview, err := env.store.PrepareSend(env.ctx, usdtRequest(yellowEVM, "10"))
	if err != nil {
		t.Fatalf("PrepareSend failed: %v", err)
	}
	if preview.Blocked || preview.NeedsAcknowledge {
		t.Errorf("Expected yellow destination to be allowed, got %+v", preview)
	}
	found := false
	for _, w := range preview.Warnings {
		if strings.Contains(w, "mixing") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a mixing warning, got %v", preview.Warnings)
	}
}

func TestSend_SpendingLimits(t *testing.T) {
	env, cleanup := setupTestStore(t)
	defer cleanup()

	env.deposit(t, "USDT", "ethereum", "2000", "2000", senderEVM)

	if _, err := env.store.UpdateLimits(env.ctx, decimal.NewFromInt(1000), decimal.NewFromInt(1000), decimal.NewFromInt(5000)); err != nil {
		t.Fatalf("UpdateLimits failed: %v", err)
	}
	if _, err := env.store.Send(env.ctx, usdtRequest(payeeEVM, "1500")); !errors.Is(err, models.ErrTransferBlocked) {
		t.Errorf("Expected single limit block, got %v", err)
	}

	sent, err := env.store.Send(env.ctx, usdtRequest(payeeEVM, "900"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := env.store.MarkConfirmed(env.ctx, sent.TransactionId); err != nil {
		t.Fatalf("MarkConfirmed failed: %v", err)
	}
	security, _ := env.store.SecurityConfig()
	if !security.DailyUsed.Equal(decimal.NewFromInt(900)) {
		t.Errorf("Expected 900 daily usage, got %s", security.DailyUsed)
	}

	preview, err := env.store.PrepareSend(env.ctx, usdtRequest(senderEVM, "200"))
	if err != nil {
		t.Fatalf("PrepareSend failed: %v", err)
	}
	if !preview.Blocked || !strings.Contains(preview.BlockReason, "daily") {
		t.Errorf("Expected daily limit block, got %+v", preview)
	}

	if _, err := env.store.AddContact(env.ctx, models.Contact{
		Name: "Exchange", Address: senderEVM, Chain: "ethereum", IsWhitelisted: true,
	}); err != nil {
		t.Fatalf("AddContact failed: %v", err)
	}
	preview, err = env.store.PrepareSend(env.ctx, usdtRequest(senderEVM, "200"))
	if err != nil {
		t.Fatalf("PrepareSend failed: %v", err)
	}
	if preview.Blocked {
		t.Errorf("Expected whitelisted destination to bypass the daily limit, got %s", preview.BlockReason)
	}
}

func TestMarkFailed_RestoresBalance(t *testing.T) {
	env, cleanup := setupTestStore(t)
	defer cleanup()

	env.deposit(t, "USDT", "ethereum", "150", "150", senderEVM)
	sent, err := env.store.Send(env.ctx, usdtRequest(payeeEVM, "100"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	failed, err := env.store.MarkFailed(env.ctx, sent.TransactionId, "dropped from mempool")
	if err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if failed.Status != models.StatusFailed {
		t.Errorf("Expected failed, got %s", failed.Status)
	}
	if asset := env.asset(t, "USDT", "ethereum"); !asset.Balance.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Expected 150 after failure, got %s", asset.Balance)
	}
	if got := countNotifications(t, env.store, models.CategoryTransaction); got != 1 {
		t.Errorf("Expected 1 transaction notification, got %d", got)
	}
	if _, err := env.store.MarkConfirmed(env.ctx, sent.TransactionId); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition, got %v", err)
	}
	security, _ := env.store.SecurityConfig()
	if !security.DailyUsed.IsZero() {
		t.Errorf("Failed sends must not count toward limits, got %s", security.DailyUsed)
	}
}

func TestSpeedUpThenCancel_RestoresBalance(t *testing.T) {
	env, cleanup := setupTestStore(t)
	defer cleanup()

	env.deposit(t, "USDT", "ethereum", "150", "150", senderEVM)
	sent, err := env.store.Send(env.ctx, usdtRequest(payeeEVM, "100"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	original, _ := env.store.Transaction(sent.TransactionId)

	faster, err := env.store.SpeedUp(env.ctx, sent.TransactionId, models.FeeTierFast)
	if err != nil {
		t.Fatalf("SpeedUp failed: %v", err)
	}
	if faster.Nonce != sent.Nonce || !faster.GasPrice.GreaterThan(original.GasPrice) || faster.Replaces != sent.TransactionId {
		t.Errorf("Unexpected replacement: %+v", faster)
	}

	cancellation, err := env.store.Cancel(env.ctx, faster.Id)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	wallet, _ := env.store.ActiveWallet()
	if cancellation.Kind != models.KindCancellation || !cancellation.Amount.IsZero() ||
		cancellation.Counterparty != wallet.Addresses["ethereum"] {
		t.Errorf("Unexpected cancellation: %+v", cancellation)
	}

	if _, err := env.store.MarkConfirmed(env.ctx, cancellation.Id); err != nil {
		t.Fatalf("MarkConfirmed failed: %v", err)
	}
	if asset := env.asset(t, "USDT", "ethereum"); !asset.Balance.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Expected 150 after confirmed cancellation, got %s", asset.Balance)
	}
	if _, err := env.store.MarkConfirmed(env.ctx, sent.TransactionId); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected superseded transaction to reject confirmation, got %v", err)
	}

	txs, _ := env.store.TransactionsForAsset("USDT", "ethereum")
	live := 0
	for _, tx := range txs {
		if tx.Direction == models.DirectionSend && tx.Nonce == sent.Nonce && tx.IsLive() {
			live++
		}
	}
	if live != 1 {
		t.Errorf("Expected exactly one live transaction at nonce %d, got %d", sent.Nonce, live)
	}
	security, _ := env.store.SecurityConfig()
	if !security.DailyUsed.IsZero() {
		t.Errorf("Cancellations must not count toward limits, got %s", security.DailyUsed)
	}
}

func TestReplacement_NonRBFChain(t *testing.T) {
	env, cleanup := setupTestStore(t)
	defer cleanup()

	env.deposit(t, "USDT", "tron", "100", "100", tronAddr)
	sent, err := env.store.Send(env.ctx, models.SendRequest{
		To: tronAddr, Amount: decimal.NewFromInt(10), Symbol: "USDT", Chain: "tron",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if _, err := env.store.SpeedUp(env.ctx, sent.TransactionId, models.FeeTierFast); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition for SpeedUp, got %v", err)
	}
	if _, err := env.store.Cancel(env.ctx, sent.TransactionId); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition for Cancel, got %v", err)
	}
	tx, _ := env.store.Transaction(sent.TransactionId)
	if tx.Status != models.StatusPending || !tx.IsLive() {
		t.Errorf("Expected original to stay pending and live, got %+v", tx)
	}
}

func TestIngestReceive(t *testing.T) {
	env, cleanup := setupTestStore(t)
	defer cleanup()

	tx := env.deposit(t, "USDT", "ethereum", "15000", "15000", senderEVM)
	if tx.RiskScore != models.RiskGreen || tx.DisposalStatus != models.DisposalNone {
		t.Errorf("Expected green untracked receive, got %s/%s", tx.RiskScore, tx.DisposalStatus)
	}
	if got := countNotifications(t, env.store, models.CategoryTransaction); got != 1 {
		t.Errorf("Expected large deposit notification, got %d", got)
	}

	_, err := env.store.IngestReceive(env.ctx, models.Transaction{
		Amount: decimal.NewFromInt(1), Symbol: "USDT", Chain: "ethereum",
		Counterparty: senderEVM, Hash: tx.Hash, Status: models.StatusConfirmed,
	})
	if !errors.Is(err, models.ErrDuplicateTransaction) {
		t.Errorf("Expected duplicate transaction, got %v", err)
	}

	failed, err := env.store.IngestReceive(env.ctx, models.Transaction{
		Amount: decimal.NewFromInt(5), Symbol: "USDT", Chain: "ethereum",
		Counterparty: redEVM, Hash: "0xfailed", Status: models.StatusFailed,
	})
	if err != nil {
		t.Fatalf("IngestReceive failed: %v", err)
	}
	if failed.RiskScore != "" || failed.DisposalStatus != models.DisposalNone {
		t.Errorf("Failed receives are not screened, got %s/%s", failed.RiskScore, failed.DisposalStatus)
	}
	if asset := env.asset(t, "USDT", "ethereum"); !asset.Balance.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("Failed receive must not credit, got %s", asset.Balance)
	}
	summary, _ := env.store.AccountRiskStatus(env.ctx)
	if summary.Status != models.RiskStatusHealthy {
		t.Errorf("Expected healthy, got %s", summary.Status)
	}
}

func TestSend_UntrackedAssetIsInconsistent(t *testing.T) {
	env, cleanup := setupTestStore(t)
	defer cleanup()

	env.deposit(t, "USDT", "ethereum", "150", "150", senderEVM)
	tracked, err := env.store.Send(env.ctx, usdtRequest(payeeEVM, "10"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if tracked.Inconsistent {
		t.Error("Expected tracked asset send to be consistent")
	}

	result, err := env.store.Send(env.ctx, models.SendRequest{
		To:     payeeEVM,
		Amount: decimal.NewFromInt(10),
		Symbol: "DAI",
		Chain:  "ethereum",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !result.Inconsistent {
		t.Error("Expected untracked asset send to be flagged inconsistent")
	}
	if asset := env.asset(t, "USDT", "ethereum"); !asset.Balance.Equal(decimal.NewFromInt(140)) {
		t.Errorf("Expected USDT balance untouched by the DAI send, got %s", asset.Balance)
	}
}
