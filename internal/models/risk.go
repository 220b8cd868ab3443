package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RiskScore string

const (
	RiskGreen  RiskScore = "green"
	RiskYellow RiskScore = "yellow"
	RiskRed    RiskScore = "red"
)

// Flagged reports whether the score requires a disposal decision
func (s RiskScore) Flagged() bool {
	return s == RiskYellow || s == RiskRed
}

type DisposalStatus string

const (
	DisposalNone         DisposalStatus = ""
	DisposalPending      DisposalStatus = "pending"
	DisposalAcknowledged DisposalStatus = "acknowledged"
	DisposalReturned     DisposalStatus = "returned"
)

type AccountRiskStatus string

const (
	RiskStatusHealthy    AccountRiskStatus = "healthy"
	RiskStatusWarning    AccountRiskStatus = "warning"
	RiskStatusRestricted AccountRiskStatus = "restricted"
)

// AccountRiskSummary is derived from all unresolved flagged receives
type AccountRiskSummary struct {
	Status            AccountRiskStatus `json:"status"`
	RedCount          int               `json:"red_count"`
	YellowCount       int               `json:"yellow_count"`
	PendingRiskCount  int               `json:"pending_risk_count"`
	TotalRiskExposure decimal.Decimal   `json:"total_risk_exposure"`
}

// Assessment is the result of an address risk lookup
type Assessment struct {
	Address   string    `json:"address"`
	Score     RiskScore `json:"score"`
	Reasons   []string  `json:"reasons,omitempty"`
	ScannedAt time.Time `json:"scanned_at"`
}

type HighRiskAction string

const (
	HighRiskBlock HighRiskAction = "block"
	HighRiskWarn  HighRiskAction = "warn"
)

type GateAction string

const (
	GateAllow   GateAction = "allow"
	GateConfirm GateAction = "confirm"
	GateBlock   GateAction = "block"
)

// GateDecision is the verdict on an outgoing transfer
type GateDecision struct {
	Action GateAction `json:"action"`
	Reason string     `json:"reason,omitempty"`
}
