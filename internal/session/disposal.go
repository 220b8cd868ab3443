package session

import (
	"context"
	"fmt"

	"custody-wallet-core/internal/ledger"
	"custody-wallet-core/internal/models"
	"custody-wallet-core/internal/risk"

	"go.uber.org/zap"
)

// Acknowledge keeps the funds of a flagged receive and clears it from the
// account risk status.
func (s *Store) Acknowledge(ctx context.Context, txId string) (models.Transaction, error) {
	var out models.Transaction
	err := s.mutate(ctx, "acknowledge", func(_ snapshot, c *change) error {
		tx, err := c.ledger(s).Apply(txId, func(t *models.Transaction) error {
			return risk.Acknowledge(t, c.now)
		})
		if err != nil {
			return err
		}
		out = tx
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}
	zap.L().Info("Acknowledged flagged deposit",
		zap.String("transaction_id", out.Id),
		zap.String("risk_score", string(out.RiskScore)))
	return out, nil
}

// ReturnFunds sends the funds of a flagged receive back to its sender and
// returns the refund. It succeeds once per receive; retrying with the same
// idempotency key yields the same refund.
func (s *Store) ReturnFunds(ctx context.Context, txId, idempotencyKey string) (models.Transaction, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.snapshot()
	if err := snap.requireWallet(); err != nil {
		return models.Transaction{}, err
	}
	scope := "return/" + snap.state.WalletId
	if cached, ok := s.replay(scope, idempotencyKey); ok {
		return cached.(models.Transaction).Clone(), nil
	}

	var refund models.Transaction
	err := s.mutateLocked(ctx, "return_funds", func(_ snapshot, c *change) error {
		l := c.ledger(s)
		orig, err := l.Get(txId)
		if err != nil {
			return err
		}
		if err := risk.BeginReturn(&orig); err != nil {
			return err
		}
		receipt, err := l.Submit(ledger.SubmitParams{
			To:     orig.Counterparty,
			Amount: orig.Amount,
			Symbol: orig.Symbol,
			Chain:  orig.Chain,
			Memo:   "Return of " + orig.Hash,
			Kind:   models.KindRefund,
		})
		if err != nil {
			return err
		}
		if _, err := l.Apply(txId, func(t *models.Transaction) error {
			return risk.CompleteReturn(t, receipt.Transaction.Hash, c.now)
		}); err != nil {
			return err
		}
		c.feed().Append(models.CategoryRisk, models.PriorityNormal,
			"Funds returned",
			fmt.Sprintf("%s %s sent back to %s", orig.Amount, orig.Symbol, orig.Counterparty),
			"/transactions/"+receipt.Transaction.Id)
		refund = receipt.Transaction
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}

	s.metrics.ObserveSend(refund.Chain, string(models.KindRefund))
	s.remember(scope, idempotencyKey, refund.Clone())
	zap.L().Info("Returned flagged deposit",
		zap.String("transaction_id", txId),
		zap.String("refund_id", refund.Id),
		zap.String("refund_hash", refund.Hash))
	return refund, nil
}

// reopenReturn sends the receive refunded by the failed refund back to
// review and forgets the idempotency keys that served the refund.
// Caller holds writeMu.
func (s *Store) reopenReturn(l *ledger.Ledger, c *change, refund models.Transaction) error {
	orig, found := l.FindReturned(refund.Hash)
	if !found {
		zap.L().Warn("Failed refund has no returned receive",
			zap.String("refund_id", refund.Id),
			zap.String("refund_hash", refund.Hash))
		return nil
	}
	if _, err := l.Apply(orig.Id, func(t *models.Transaction) error {
		return risk.ReopenReturn(t, refund.Hash)
	}); err != nil {
		return err
	}
	for key, entry := range s.idempotency {
		if cached, ok := entry.result.(models.Transaction); ok && cached.Id == refund.Id {
			delete(s.idempotency, key)
		}
	}
	c.feed().Append(models.CategoryRisk, models.PriorityHigh,
		"Return failed",
		fmt.Sprintf("%s %s could not be sent back to %s and needs review again", orig.Amount, orig.Symbol, orig.Counterparty),
		"/risk/"+orig.Id)
	zap.L().Warn("Reopened flagged deposit after failed return",
		zap.String("transaction_id", orig.Id),
		zap.String("refund_id", refund.Id))
	return nil
}

// AccountRiskStatus summarises unresolved flagged receives across every
// wallet of the account.
func (s *Store) AccountRiskStatus(ctx context.Context) (models.AccountRiskSummary, error) {
	snap := s.snapshot()
	if err := snap.requireAccount(); err != nil {
		return models.AccountRiskSummary{}, err
	}
	return s.accountSummary(ctx, snap)
}
