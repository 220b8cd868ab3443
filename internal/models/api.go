package models

import "github.com/shopspring/decimal"

// SendRequest is what the address/QR input collaborator hands to the send flow
type SendRequest struct {
	To      string          `json:"to"`
	Amount  decimal.Decimal `json:"amount"`
	Symbol  string          `json:"symbol"`
	Chain   string          `json:"chain"`
	Memo    string          `json:"memo,omitempty"`
	FeeTier FeeTier         `json:"fee_tier,omitempty"`
	// Acknowledged confirms the user accepted every warning from PrepareSend
	Acknowledged bool `json:"acknowledged"`
}

// SendPreview collects every check a send must pass, without mutating anything
type SendPreview struct {
	Limit            LimitCheck      `json:"limit"`
	Destination      Assessment      `json:"destination"`
	PSP              PSPMatch        `json:"psp"`
	Gate             GateDecision    `json:"gate"`
	ValueUSD         decimal.Decimal `json:"value_usd"`
	Warnings         []string        `json:"warnings,omitempty"`
	Blocked          bool            `json:"blocked"`
	BlockReason      string          `json:"block_reason,omitempty"`
	NeedsAcknowledge bool            `json:"needs_acknowledge"`
}

// SendResult represents the result of a submitted transfer
type SendResult struct {
	TransactionId string          `json:"transaction_id"`
	TxHash        string          `json:"tx_hash"`
	Nonce         uint64          `json:"nonce"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	Replayed      bool            `json:"replayed"`
	// Inconsistent is set when no tracked asset matched the transfer, so no
	// balance was debited and the USD value fell back to the amount.
	Inconsistent  bool            `json:"inconsistent"`
}
