package risk

import (
	"fmt"
	"time"

	"custody-wallet-core/internal/models"

	"go.uber.org/zap"
)

// Track attaches an assessment to a freshly ingested receive. Yellow and red
// receives enter the pending disposal state; green ones are not tracked.
func Track(tx *models.Transaction, assessment models.Assessment) error {
	if tx.Direction != models.DirectionReceive {
		return invalid(tx, "only receives carry a risk disposal")
	}
	if tx.DisposalStatus != models.DisposalNone {
		return invalid(tx, "disposal already tracked")
	}
	tx.RiskScore = assessment.Score
	tx.RiskReasons = append([]string(nil), assessment.Reasons...)
	tx.RiskScanTime = assessment.ScannedAt
	if assessment.Score.Flagged() {
		tx.DisposalStatus = models.DisposalPending
	}
	return nil
}

// Acknowledge accepts the risk of a pending flagged receive. Funds stay put.
func Acknowledge(tx *models.Transaction, now time.Time) error {
	if err := requirePending(tx); err != nil {
		return err
	}
	tx.DisposalStatus = models.DisposalAcknowledged
	tx.DisposalTime = now
	return nil
}

// BeginReturn checks that the funds of tx can be sent back. It does not change tx.
func BeginReturn(tx *models.Transaction) error {
	if err := requirePending(tx); err != nil {
		return err
	}
	if tx.Status != models.StatusConfirmed {
		return invalid(tx, "funds never arrived")
	}
	if tx.Counterparty == "" {
		return invalid(tx, "no counterparty to return to")
	}
	return nil
}

// CompleteReturn records the refund broadcast for a pending disposal
func CompleteReturn(tx *models.Transaction, refundHash string, now time.Time) error {
	if err := requirePending(tx); err != nil {
		return err
	}
	if refundHash == "" {
		return fmt.Errorf("%w: refund hash is required", models.ErrValidation)
	}
	tx.DisposalStatus = models.DisposalReturned
	tx.DisposalTxHash = refundHash
	tx.DisposalTime = now
	return nil
}

// ReopenReturn puts a returned receive back into review after its refund
// failed to go out. refundHash must be the refund recorded by CompleteReturn.
func ReopenReturn(tx *models.Transaction, refundHash string) error {
	if tx.DisposalStatus != models.DisposalReturned {
		return invalid(tx, "disposal is "+string(tx.DisposalStatus))
	}
	if refundHash == "" || tx.DisposalTxHash != refundHash {
		return invalid(tx, "refund "+refundHash+" does not match")
	}
	tx.DisposalStatus = models.DisposalPending
	tx.DisposalTxHash = ""
	tx.DisposalTime = time.Time{}
	return nil
}

func requirePending(tx *models.Transaction) error {
	if tx.Direction != models.DirectionReceive || !tx.RiskScore.Flagged() {
		return invalid(tx, "not a flagged receive")
	}
	if tx.DisposalStatus != models.DisposalPending {
		return invalid(tx, "disposal is "+string(tx.DisposalStatus))
	}
	return nil
}

func invalid(tx *models.Transaction, problem string) error {
	zap.L().Error("Rejected disposal transition",
		zap.String("transaction_id", tx.Id),
		zap.String("disposal_status", string(tx.DisposalStatus)),
		zap.String("problem", problem))
	return fmt.Errorf("%w: transaction %s: %s", models.ErrInvalidTransition, tx.Id, problem)
}
