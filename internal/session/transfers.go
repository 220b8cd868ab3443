package session

import (
	"context"
	"fmt"
	"strings"

	"custody-wallet-core/internal/chains"
	"custody-wallet-core/internal/ledger"
	"custody-wallet-core/internal/limits"
	"custody-wallet-core/internal/models"
	"custody-wallet-core/internal/psp"
	"custody-wallet-core/internal/risk"

	"go.uber.org/zap"
)

// PrepareSend runs every check a send must pass without changing anything:
// address format, balance, spending limits, destination screening and the
// PSP gate.
func (s *Store) PrepareSend(ctx context.Context, req models.SendRequest) (models.SendPreview, error) {
	snap := s.snapshot()
	if err := snap.requireWallet(); err != nil {
		return models.SendPreview{}, err
	}
	return s.prepare(ctx, snap, normalizeRequest(req))
}

func normalizeRequest(req models.SendRequest) models.SendRequest {
	req.To = strings.TrimSpace(req.To)
	req.Chain = strings.ToLower(strings.TrimSpace(req.Chain))
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	return req
}

func (s *Store) prepare(ctx context.Context, snap snapshot, req models.SendRequest) (models.SendPreview, error) {
	if !req.Amount.IsPositive() {
		return models.SendPreview{}, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	if req.Symbol == "" {
		return models.SendPreview{}, fmt.Errorf("%w: asset symbol is required", models.ErrValidation)
	}
	if err := s.chains.ValidateAddress(req.Chain, req.To); err != nil {
		return models.SendPreview{}, err
	}
	if chains.SameAddress(req.To, snap.wallet.Addresses[req.Chain]) {
		return models.SendPreview{}, fmt.Errorf("%w: cannot send to the wallet's own address", models.ErrValidation)
	}

	l := ledger.New(snap.state, s.chains, s.chains, s.now)
	asset, held := l.Asset(req.Symbol, req.Chain)
	if held && asset.Balance.LessThan(req.Amount) {
		return models.SendPreview{}, fmt.Errorf("%w: insufficient %s balance on %s: have %s, need %s",
			models.ErrValidation, req.Symbol, req.Chain, asset.Balance, req.Amount)
	}
	valueUSD, _ := l.ValueOf(req.Symbol, req.Chain, req.Amount)

	dest := limits.Destination{FirstTransfer: !hasSentTo(l, req.To)}
	if contact, ok := findContact(snap.state.Contacts, req.To); ok {
		dest.Whitelisted = contact.IsWhitelisted
	}
	security := snap.account.Security
	limit, err := limits.New(&security).CheckTransfer(valueUSD, dest, s.now())
	if err != nil {
		return models.SendPreview{}, err
	}

	assessment, err := s.scanner.ScanAddress(ctx, req.To)
	if err != nil {
		s.metrics.ObserveRiskScan("error")
		return models.SendPreview{}, err
	}
	s.metrics.ObserveRiskScan(string(assessment.Score))

	connections := snap.account.Connections
	match := psp.New(s.providers, &connections, s.now).IsPSPAddress(req.To)
	summary, err := s.accountSummary(ctx, snap)
	if err != nil {
		return models.SendPreview{}, err
	}

	outbound := risk.GateOutbound(summary, match)
	destination := risk.DestinationPolicy(assessment, security.HighRiskAction)
	gate := risk.Strictest(outbound, destination)
	s.metrics.ObserveGate(string(gate.Action))

	preview := models.SendPreview{
		Limit:       limit,
		Destination: assessment,
		PSP:         match,
		Gate:        gate,
		ValueUSD:    valueUSD,
	}
	for _, d := range []models.GateDecision{outbound, destination} {
		if d.Reason != "" && d.Action != models.GateBlock {
			preview.Warnings = append(preview.Warnings, d.Reason)
		}
	}
	if !held {
		preview.Warnings = append(preview.Warnings,
			fmt.Sprintf("no %s balance is tracked on %s", req.Symbol, req.Chain))
	}
	if dest.FirstTransfer && !dest.Whitelisted {
		preview.Warnings = append(preview.Warnings, "first transfer to this address")
	}

	switch {
	case !limit.Allowed:
		preview.Blocked = true
		preview.BlockReason = limit.Reason
	case gate.Action == models.GateBlock:
		preview.Blocked = true
		preview.BlockReason = gate.Reason
	}
	preview.NeedsAcknowledge = gate.Action == models.GateConfirm
	return preview, nil
}

func hasSentTo(l *ledger.Ledger, address string) bool {
	for _, tx := range l.ListForCounterparty(address) {
		if tx.Direction == models.DirectionSend {
			return true
		}
	}
	return false
}

// Send submits a transfer from the active wallet. It repeats every check of
// PrepareSend, refuses blocked transfers and requires req.Acknowledged when
// the gate asks for confirmation. A request carrying an idempotency key that
// was already served returns the original result.
func (s *Store) Send(ctx context.Context, req models.SendRequest) (models.SendResult, error) {
	req = normalizeRequest(req)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.snapshot()
	if err := snap.requireWallet(); err != nil {
		return models.SendResult{}, err
	}
	key := models.IdempotencyKeyFrom(ctx)
	scope := "send/" + snap.state.WalletId
	if cached, ok := s.replay(scope, key); ok {
		result := cached.(models.SendResult)
		result.Replayed = true
		return result, nil
	}

	preview, err := s.prepare(ctx, snap, req)
	if err != nil {
		return models.SendResult{}, err
	}
	if preview.Blocked {
		zap.L().Warn("Blocked transfer",
			zap.String("wallet_id", snap.state.WalletId),
			zap.String("to", req.To),
			zap.String("reason", preview.BlockReason))
		return models.SendResult{}, fmt.Errorf("%w: %s", models.ErrTransferBlocked, preview.BlockReason)
	}
	if preview.NeedsAcknowledge && !req.Acknowledged {
		return models.SendResult{}, fmt.Errorf("%w: %s", models.ErrAcknowledgementNeeded, preview.Gate.Reason)
	}

	var result models.SendResult
	err = s.mutateLocked(ctx, "send", func(_ snapshot, c *change) error {
		l := c.ledger(s)
		receipt, err := l.Submit(ledger.SubmitParams{
			To:              req.To,
			Amount:          req.Amount,
			Symbol:          req.Symbol,
			Chain:           req.Chain,
			Memo:            req.Memo,
			FeeTier:         req.FeeTier,
			Kind:            models.KindTransfer,
			PSPConnectionId: preview.PSP.ConnectionId,
		})
		if err != nil {
			return err
		}
		tx := receipt.Transaction
		touchContact(c.state.Contacts, tx.Counterparty, c)
		if s.isLarge(tx) {
			c.feed().Append(models.CategoryTransaction, models.PriorityHigh,
				"Large transfer sent",
				fmt.Sprintf("%s %s on %s ($%s) to %s", tx.Amount, tx.Symbol, tx.Chain, tx.ValueUSD.StringFixed(2), tx.Counterparty),
				"/transactions/"+tx.Id)
		}
		asset, _ := l.Asset(tx.Symbol, tx.Chain)
		result = models.SendResult{
			TransactionId: tx.Id,
			TxHash:        tx.Hash,
			Nonce:         tx.Nonce,
			NewBalance:    asset.Balance,
			Inconsistent:  receipt.Inconsistent,
		}
		return nil
	})
	if err != nil {
		return models.SendResult{}, err
	}

	s.metrics.ObserveSend(req.Chain, string(models.KindTransfer))
	s.remember(scope, key, result)
	zap.L().Info("Submitted transfer",
		zap.String("wallet_id", snap.state.WalletId),
		zap.String("transaction_id", result.TransactionId),
		zap.String("tx_hash", result.TxHash),
		zap.Uint64("nonce", result.Nonce),
		zap.String("symbol", req.Symbol),
		zap.String("chain", req.Chain),
		zap.String("amount", req.Amount.String()))
	return result, nil
}

func touchContact(contacts []models.Contact, address string, c *change) {
	for i := range contacts {
		if chains.SameAddress(contacts[i].Address, address) {
			contacts[i].LastUsedAt = c.now.UTC()
		}
	}
}

func (s *Store) isLarge(tx models.Transaction) bool {
	return s.session.LargeTransferUSD.IsPositive() && tx.ValueUSD.GreaterThanOrEqual(s.session.LargeTransferUSD)
}

// MarkConfirmed settles a pending transaction. Confirmed transfers count
// toward the spending limits and the usage of the PSP they were sent to.
func (s *Store) MarkConfirmed(ctx context.Context, id string) (models.Transaction, error) {
	var out models.Transaction
	err := s.mutate(ctx, "confirm", func(_ snapshot, c *change) error {
		tx, err := c.ledger(s).MarkConfirmed(id)
		if err != nil {
			return err
		}
		if tx.Direction == models.DirectionSend && tx.Kind == models.KindTransfer {
			c.enforcer().RecordUsage(tx.ValueUSD, c.now)
			if tx.PSPConnectionId != "" {
				if err := c.connections(s).RecordTransfer(tx.PSPConnectionId, tx.ValueUSD); err != nil {
					zap.L().Warn("Unable to attribute transfer to PSP connection",
						zap.String("transaction_id", tx.Id),
						zap.String("connection_id", tx.PSPConnectionId),
						zap.Error(err))
				}
			}
		}
		out = tx
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}
	zap.L().Info("Transaction confirmed",
		zap.String("transaction_id", out.Id),
		zap.String("kind", string(out.Kind)))
	return out, nil
}

// MarkFailed fails a pending transaction and releases the funds it held
func (s *Store) MarkFailed(ctx context.Context, id, reason string) (models.Transaction, error) {
	var out models.Transaction
	err := s.mutate(ctx, "fail", func(_ snapshot, c *change) error {
		l := c.ledger(s)
		tx, err := l.MarkFailed(id, reason)
		if err != nil {
			return err
		}
		c.feed().Append(models.CategoryTransaction, models.PriorityNormal,
			"Transaction failed",
			fmt.Sprintf("%s %s on %s failed: %s", tx.Amount, tx.Symbol, tx.Chain, reason),
			"/transactions/"+tx.Id)
		if tx.Kind == models.KindRefund {
			if err := s.reopenReturn(l, c, tx); err != nil {
				return err
			}
		}
		out = tx
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}
	zap.L().Info("Transaction failed",
		zap.String("transaction_id", out.Id),
		zap.String("reason", reason))
	return out, nil
}

// SpeedUp replaces a pending send with a higher-fee copy at the same nonce
func (s *Store) SpeedUp(ctx context.Context, id string, tier models.FeeTier) (models.Transaction, error) {
	var out models.Transaction
	err := s.mutate(ctx, "speed_up", func(_ snapshot, c *change) error {
		tx, err := c.ledger(s).SpeedUp(id, tier)
		if err != nil {
			return err
		}
		out = tx
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}
	s.metrics.ObserveReplacement(models.FailureReplaced)
	return out, nil
}

// Cancel replaces a pending send with a zero-value send to the wallet itself
func (s *Store) Cancel(ctx context.Context, id string) (models.Transaction, error) {
	var out models.Transaction
	err := s.mutate(ctx, "cancel", func(snap snapshot, c *change) error {
		l := c.ledger(s)
		orig, err := l.Get(id)
		if err != nil {
			return err
		}
		self, ok := snap.wallet.Addresses[orig.Chain]
		if !ok {
			return fmt.Errorf("%w: wallet has no %s address", models.ErrValidation, orig.Chain)
		}
		tx, err := l.Cancel(id, self)
		if err != nil {
			return err
		}
		out = tx
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}
	s.metrics.ObserveReplacement(models.FailureCancelled)
	return out, nil
}

// IngestReceive records an incoming transaction. Confirmed receives are
// screened first; flagged ones enter the disposal workflow and raise a risk
// notification. A failed scan rejects the receive so it can be retried.
func (s *Store) IngestReceive(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if tx.Direction == "" {
		tx.Direction = models.DirectionReceive
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.snapshot().requireWallet(); err != nil {
		return models.Transaction{}, err
	}

	screen := tx.Status == models.StatusConfirmed && strings.TrimSpace(tx.Counterparty) != ""
	var assessment models.Assessment
	if screen {
		var err error
		assessment, err = s.scanner.ScanAddress(ctx, tx.Counterparty)
		if err != nil {
			s.metrics.ObserveRiskScan("error")
			return models.Transaction{}, err
		}
		s.metrics.ObserveRiskScan(string(assessment.Score))
	}

	var out models.Transaction
	err := s.mutateLocked(ctx, "ingest", func(_ snapshot, c *change) error {
		l := c.ledger(s)
		stored, err := l.Ingest(tx)
		if err != nil {
			return err
		}
		if screen {
			stored, err = l.Apply(stored.Id, func(t *models.Transaction) error {
				return risk.Track(t, assessment)
			})
			if err != nil {
				return err
			}
		}

		switch {
		case stored.RiskScore.Flagged():
			priority := models.PriorityHigh
			if stored.RiskScore == models.RiskRed {
				priority = models.PriorityCritical
			}
			c.feed().Append(models.CategoryRisk, priority,
				"Deposit needs review",
				fmt.Sprintf("%s %s from %s was scored %s: %s", stored.Amount, stored.Symbol,
					stored.Counterparty, stored.RiskScore, strings.Join(stored.RiskReasons, "; ")),
				"/risk/"+stored.Id)
		case stored.Status == models.StatusConfirmed && s.isLarge(stored):
			c.feed().Append(models.CategoryTransaction, models.PriorityNormal,
				"Large deposit received",
				fmt.Sprintf("%s %s on %s ($%s)", stored.Amount, stored.Symbol, stored.Chain, stored.ValueUSD.StringFixed(2)),
				"/transactions/"+stored.Id)
		}
		out = stored
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}

	score := string(out.RiskScore)
	if score == "" {
		score = "unscanned"
	}
	s.metrics.ObserveReceive(out.Chain, score)
	zap.L().Info("Ingested receive",
		zap.String("transaction_id", out.Id),
		zap.String("tx_hash", out.Hash),
		zap.String("chain", out.Chain),
		zap.String("risk_score", score))
	return out, nil
}
