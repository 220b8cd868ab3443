package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusConfirmed TransactionStatus = "confirmed"
	StatusFailed    TransactionStatus = "failed"
)

// TransactionKind separates user transfers from the synthetic sends the wallet
// creates on its own behalf.
type TransactionKind string

const (
	KindTransfer     TransactionKind = "transfer"
	KindCancellation TransactionKind = "cancellation"
	KindRefund       TransactionKind = "refund"
)

type FeeTier string

const (
	FeeTierSlow     FeeTier = "slow"
	FeeTierStandard FeeTier = "standard"
	FeeTierFast     FeeTier = "fast"
	FeeTierInstant  FeeTier = "instant"
)

// Failure reasons recorded on superseded transactions
const (
	FailureReplaced  = "replaced"
	FailureCancelled = "cancelled"
)

// Transaction represents one entry in a wallet's history
type Transaction struct {
	Id            string            `json:"id"`
	Direction     Direction         `json:"direction"`
	Kind          TransactionKind   `json:"kind"`
	Amount        decimal.Decimal   `json:"amount"`
	Symbol        string            `json:"symbol"`
	ValueUSD      decimal.Decimal   `json:"value_usd"`
	Counterparty  string            `json:"counterparty"`
	Chain         string            `json:"chain"`
	Timestamp     time.Time         `json:"timestamp"`
	Hash          string            `json:"hash"`
	Memo          string            `json:"memo,omitempty"`
	Status        TransactionStatus `json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`
	ConfirmedAt   time.Time         `json:"confirmed_at,omitempty"`

	// Replace-by-fee
	Nonce           uint64          `json:"nonce"`
	IsRbfEnabled    bool            `json:"is_rbf_enabled"`
	GasPrice        decimal.Decimal `json:"gas_price"`
	GasAmount       decimal.Decimal `json:"gas_amount"`
	GasToken        string          `json:"gas_token"`
	FeeTier         FeeTier         `json:"fee_tier,omitempty"`
	Replaces        string          `json:"replaces,omitempty"`
	ReplacedBy      string          `json:"replaced_by,omitempty"`
	CancelledAmount decimal.Decimal `json:"cancelled_amount"`

	// Risk and disposal, meaningful for flagged receives only
	RiskScore      RiskScore      `json:"risk_score,omitempty"`
	RiskReasons    []string       `json:"risk_reasons,omitempty"`
	RiskScanTime   time.Time      `json:"risk_scan_time,omitempty"`
	DisposalStatus DisposalStatus `json:"disposal_status,omitempty"`
	DisposalTxHash string         `json:"disposal_tx_hash,omitempty"`
	DisposalTime   time.Time      `json:"disposal_time,omitempty"`

	// PSP attribution of outgoing transfers
	PSPConnectionId string `json:"psp_connection_id,omitempty"`
}

// IsLive reports whether the transaction still occupies its nonce slot
func (t Transaction) IsLive() bool {
	return t.ReplacedBy == ""
}

// Clone returns a deep copy of the transaction
func (t Transaction) Clone() Transaction {
	out := t
	if t.RiskReasons != nil {
		out.RiskReasons = append([]string(nil), t.RiskReasons...)
	}
	return out
}
