package limits

import (
	"fmt"
	"time"

	"custody-wallet-core/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Destination describes the receiving side of a transfer for policy checks
type Destination struct {
	Whitelisted bool
	// FirstTransfer is set when the wallet never sent to this address before
	FirstTransfer bool
}

// Enforcer validates outgoing amounts against a SecurityConfig. Checks never
// write; only RecordUsage, Rollover and UpdateLimits change the config.
//
// Usage counters reset on UTC calendar boundaries: the daily counter on the
// first check after UTC midnight following LastDailyReset, the monthly counter
// on the first check in a later UTC month than LastMonthlyReset.
type Enforcer struct {
	cfg *models.SecurityConfig
}

func New(cfg *models.SecurityConfig) *Enforcer {
	return &Enforcer{cfg: cfg}
}

// NewSecurityConfig builds the initial configuration of an account
func NewSecurityConfig(defaults models.LimitsConfig, now time.Time) models.SecurityConfig {
	action := defaults.HighRiskAction
	if action == "" {
		action = models.HighRiskBlock
	}
	return models.SecurityConfig{
		SingleLimit:              defaults.Single,
		DailyLimit:               defaults.Daily,
		MonthlyLimit:             defaults.Monthly,
		DailyUsed:                decimal.Zero,
		MonthlyUsed:              decimal.Zero,
		LastDailyReset:           now.UTC(),
		LastMonthlyReset:         now.UTC(),
		RequireFirstTransferTest: defaults.RequireFirstTransferTest,
		FirstTransferTestMax:     defaults.FirstTransferTestMax,
		WhitelistBypass:          defaults.WhitelistBypass,
		HighRiskAction:           action,
	}
}

// CheckTransferLimit probes amount against the single, daily and monthly
// limits in that order and reports the first one violated.
func (e *Enforcer) CheckTransferLimit(amount decimal.Decimal, now time.Time) (models.LimitCheck, error) {
	return e.CheckTransfer(amount, Destination{}, now)
}

// CheckTransfer is CheckTransferLimit with destination-aware policy: the
// first-transfer test cap, and the whitelist bypass of the daily and monthly limits.
func (e *Enforcer) CheckTransfer(amount decimal.Decimal, dest Destination, now time.Time) (models.LimitCheck, error) {
	if !amount.IsPositive() {
		return models.LimitCheck{}, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	dailyUsed, monthlyUsed := e.effectiveUsage(now)
	check := models.LimitCheck{
		Allowed:          true,
		DailyRemaining:   remaining(e.cfg.DailyLimit, dailyUsed),
		MonthlyRemaining: remaining(e.cfg.MonthlyLimit, monthlyUsed),
	}

	bypass := dest.Whitelisted && e.cfg.WhitelistBypass
	switch {
	case amount.GreaterThan(e.cfg.SingleLimit):
		check.Reason = fmt.Sprintf("amount $%s exceeds the single transfer limit of $%s",
			amount.StringFixed(2), e.cfg.SingleLimit.StringFixed(2))
	case e.cfg.RequireFirstTransferTest && dest.FirstTransfer && !dest.Whitelisted &&
		amount.GreaterThan(e.cfg.FirstTransferTestMax):
		check.Reason = fmt.Sprintf("first transfer to a new address is capped at $%s",
			e.cfg.FirstTransferTestMax.StringFixed(2))
	case !bypass && amount.GreaterThan(check.DailyRemaining):
		check.Reason = fmt.Sprintf("amount $%s exceeds the remaining daily limit of $%s",
			amount.StringFixed(2), check.DailyRemaining.StringFixed(2))
	case !bypass && amount.GreaterThan(check.MonthlyRemaining):
		check.Reason = fmt.Sprintf("amount $%s exceeds the remaining monthly limit of $%s",
			amount.StringFixed(2), check.MonthlyRemaining.StringFixed(2))
	}
	check.Allowed = check.Reason == ""
	return check, nil
}

// RecordUsage adds a confirmed send to the usage counters
func (e *Enforcer) RecordUsage(amount decimal.Decimal, now time.Time) {
	e.Rollover(now)
	e.cfg.DailyUsed = e.cfg.DailyUsed.Add(amount)
	e.cfg.MonthlyUsed = e.cfg.MonthlyUsed.Add(amount)
}

// Rollover persists any due counter reset and reports whether one happened
func (e *Enforcer) Rollover(now time.Time) bool {
	reset := false
	if dailyDue(e.cfg.LastDailyReset, now) {
		e.cfg.DailyUsed = decimal.Zero
		e.cfg.LastDailyReset = now.UTC()
		reset = true
	}
	if monthlyDue(e.cfg.LastMonthlyReset, now) {
		e.cfg.MonthlyUsed = decimal.Zero
		e.cfg.LastMonthlyReset = now.UTC()
		reset = true
	}
	if reset {
		zap.L().Debug("Rolled over spending limit counters", zap.Time("now", now.UTC()))
	}
	return reset
}

// UpdateLimits replaces the three caps. They must be positive and ordered
// single <= daily <= monthly.
func (e *Enforcer) UpdateLimits(single, daily, monthly decimal.Decimal) error {
	if !single.IsPositive() || !daily.IsPositive() || !monthly.IsPositive() {
		return fmt.Errorf("%w: limits must be positive", models.ErrValidation)
	}
	if single.GreaterThan(daily) || daily.GreaterThan(monthly) {
		return fmt.Errorf("%w: limits must satisfy single <= daily <= monthly", models.ErrValidation)
	}
	e.cfg.SingleLimit = single
	e.cfg.DailyLimit = daily
	e.cfg.MonthlyLimit = monthly
	return nil
}

func (e *Enforcer) effectiveUsage(now time.Time) (daily, monthly decimal.Decimal) {
	daily, monthly = e.cfg.DailyUsed, e.cfg.MonthlyUsed
	if dailyDue(e.cfg.LastDailyReset, now) {
		daily = decimal.Zero
	}
	if monthlyDue(e.cfg.LastMonthlyReset, now) {
		monthly = decimal.Zero
	}
	return daily, monthly
}

func dailyDue(last, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	ly, lm, ld := last.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	return time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC).After(time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC))
}

func monthlyDue(last, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	ly, lm, _ := last.UTC().Date()
	ny, nm, _ := now.UTC().Date()
	return ny > ly || (ny == ly && nm > lm)
}

func remaining(limit, used decimal.Decimal) decimal.Decimal {
	left := limit.Sub(used)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}
