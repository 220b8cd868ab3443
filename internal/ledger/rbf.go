package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"custody-wallet-core/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SpeedUp replaces a pending send with a copy priced at tier, or at the
// chain's minimum bump above the current price if that is higher.
func (l *Ledger) SpeedUp(id string, tier models.FeeTier) (models.Transaction, error) {
	orig, err := l.replaceable(id)
	if err != nil {
		return models.Transaction{}, err
	}
	quote, err := l.fees.BumpQuote(orig.Chain, orig.GasPrice, tier)
	if err != nil {
		return models.Transaction{}, err
	}

	replacement := orig.Clone()
	l.supersede(orig, &replacement, quote.GasPrice, quote.GasAmount, quote.Tier, models.FailureReplaced)
	return l.commitReplacement(replacement)
}

// Cancel voids a pending send with a zero-amount send to self at the same
// nonce. The voided amount travels on the cancellation as CancelledAmount.
func (l *Ledger) Cancel(id, selfAddress string) (models.Transaction, error) {
	orig, err := l.replaceable(id)
	if err != nil {
		return models.Transaction{}, err
	}
	if strings.TrimSpace(selfAddress) == "" {
		return models.Transaction{}, fmt.Errorf("%w: wallet has no %s address", models.ErrValidation, orig.Chain)
	}
	tier := orig.FeeTier
	if tier == "" {
		tier = models.FeeTierFast
	}
	quote, err := l.fees.BumpQuote(orig.Chain, orig.GasPrice, tier)
	if err != nil {
		return models.Transaction{}, err
	}

	cancellation := orig.Clone()
	cancellation.Kind = models.KindCancellation
	cancellation.Amount = decimal.Zero
	cancellation.ValueUSD = decimal.Zero
	cancellation.Counterparty = selfAddress
	cancellation.Memo = ""
	cancellation.CancelledAmount = orig.Amount.Add(orig.CancelledAmount)
	cancellation.PSPConnectionId = ""
	l.supersede(orig, &cancellation, quote.GasPrice, quote.GasAmount, quote.Tier, models.FailureCancelled)
	return l.commitReplacement(cancellation)
}

func (l *Ledger) replaceable(id string) (*models.Transaction, error) {
	tx := l.find(id)
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction %s", models.ErrNotFound, id)
	}
	var problem string
	switch {
	case tx.Direction != models.DirectionSend:
		problem = "is not a send"
	case tx.Kind == models.KindRefund:
		problem = "returns flagged funds and cannot be replaced"
	case tx.Status != models.StatusPending:
		problem = "is " + string(tx.Status)
	case !tx.IsLive():
		problem = "was already replaced by " + tx.ReplacedBy
	case !tx.IsRbfEnabled:
		problem = "is on a chain without fee replacement"
	}
	if problem != "" {
		zap.L().Error("Rejected fee replacement",
			zap.String("transaction_id", id),
			zap.String("chain", tx.Chain),
			zap.String("problem", problem))
		return nil, fmt.Errorf("%w: transaction %s %s", models.ErrInvalidTransition, id, problem)
	}
	return tx, nil
}

// supersede links orig and next. It only touches orig, next is not yet stored.
func (l *Ledger) supersede(orig, next *models.Transaction, gasPrice, gasAmount decimal.Decimal, tier models.FeeTier, reason string) {
	next.Id = uuid.New().String()
	next.Hash = l.hasher.TxHash(next.Chain, l.state.WalletId, strconv.FormatUint(next.Nonce, 10), next.Id)
	next.Timestamp = l.now()
	next.Status = models.StatusPending
	next.FailureReason = ""
	next.GasPrice = gasPrice
	next.GasAmount = gasAmount
	next.FeeTier = tier
	next.Replaces = orig.Id
	next.ReplacedBy = ""

	orig.Status = models.StatusFailed
	orig.FailureReason = reason
	orig.ReplacedBy = next.Id
}

func (l *Ledger) commitReplacement(tx models.Transaction) (models.Transaction, error) {
	l.insertByTime(tx)
	if err := l.checkNonceInvariant(tx.Chain, tx.Nonce); err != nil {
		return models.Transaction{}, err
	}
	zap.L().Info("Replaced pending transaction",
		zap.String("wallet_id", l.state.WalletId),
		zap.String("replaces", tx.Replaces),
		zap.String("transaction_id", tx.Id),
		zap.String("kind", string(tx.Kind)),
		zap.Uint64("nonce", tx.Nonce),
		zap.String("gas_price", tx.GasPrice.String()))
	return tx.Clone(), nil
}

// nextNonce is one past the highest nonce the wallet has used on chainId
func (l *Ledger) nextNonce(chainId string) uint64 {
	var next uint64
	for _, tx := range l.state.Transactions {
		if tx.Direction == models.DirectionSend && tx.Chain == chainId && tx.Nonce >= next {
			next = tx.Nonce + 1
		}
	}
	return next
}

// checkNonceInvariant asserts that at most one live send holds (chain, nonce)
func (l *Ledger) checkNonceInvariant(chainId string, nonce uint64) error {
	var live []string
	for _, tx := range l.state.Transactions {
		if tx.Direction == models.DirectionSend && tx.Chain == chainId && tx.Nonce == nonce && tx.IsLive() {
			live = append(live, tx.Id)
		}
	}
	if len(live) > 1 {
		zap.L().Error("Nonce slot held by more than one live transaction",
			zap.String("wallet_id", l.state.WalletId),
			zap.String("chain", chainId),
			zap.Uint64("nonce", nonce),
			zap.Strings("transaction_ids", live))
		return fmt.Errorf("%w: nonce %d on %s is held by %d live transactions",
			models.ErrInvalidTransition, nonce, chainId, len(live))
	}
	return nil
}

// Verify checks the nonce invariant over the whole history
func (l *Ledger) Verify() error {
	type slot struct {
		chain string
		nonce uint64
	}
	seen := make(map[slot]string)
	for _, tx := range l.state.Transactions {
		if tx.Direction != models.DirectionSend || !tx.IsLive() {
			continue
		}
		key := slot{tx.Chain, tx.Nonce}
		if other, dup := seen[key]; dup {
			return fmt.Errorf("%w: nonce %d on %s is held by %s and %s",
				models.ErrInvalidTransition, tx.Nonce, tx.Chain, other, tx.Id)
		}
		seen[key] = tx.Id
	}
	return nil
}
