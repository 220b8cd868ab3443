package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SecurityConfig holds transfer limits (in USD), their usage counters and policy flags
type SecurityConfig struct {
	SingleLimit  decimal.Decimal `json:"single_limit"`
	DailyLimit   decimal.Decimal `json:"daily_limit"`
	MonthlyLimit decimal.Decimal `json:"monthly_limit"`

	DailyUsed        decimal.Decimal `json:"daily_used"`
	MonthlyUsed      decimal.Decimal `json:"monthly_used"`
	LastDailyReset   time.Time       `json:"last_daily_reset"`
	LastMonthlyReset time.Time       `json:"last_monthly_reset"`

	RequireFirstTransferTest bool            `json:"require_first_transfer_test"`
	FirstTransferTestMax     decimal.Decimal `json:"first_transfer_test_max"`
	WhitelistBypass          bool            `json:"whitelist_bypass"`
	HighRiskAction           HighRiskAction  `json:"high_risk_action"`
}

// LimitCheck is the structured result of a spending limit probe
type LimitCheck struct {
	Allowed          bool            `json:"allowed"`
	Reason           string          `json:"reason,omitempty"`
	DailyRemaining   decimal.Decimal `json:"daily_remaining"`
	MonthlyRemaining decimal.Decimal `json:"monthly_remaining"`
}
