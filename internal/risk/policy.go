package risk

import (
	"fmt"
	"strings"

	"custody-wallet-core/internal/models"

	"github.com/shopspring/decimal"
)

// Summarize derives the account risk status from every unresolved flagged receive
func Summarize(txs []models.Transaction) models.AccountRiskSummary {
	summary := models.AccountRiskSummary{
		Status:            models.RiskStatusHealthy,
		TotalRiskExposure: decimal.Zero,
	}
	for _, tx := range txs {
		if tx.Direction != models.DirectionReceive || tx.DisposalStatus != models.DisposalPending {
			continue
		}
		switch tx.RiskScore {
		case models.RiskRed:
			summary.RedCount++
		case models.RiskYellow:
			summary.YellowCount++
		default:
			continue
		}
		summary.TotalRiskExposure = summary.TotalRiskExposure.Add(tx.ValueUSD)
	}
	summary.PendingRiskCount = summary.RedCount + summary.YellowCount

	switch {
	case summary.RedCount > 0:
		summary.Status = models.RiskStatusRestricted
	case summary.YellowCount > 0:
		summary.Status = models.RiskStatusWarning
	}
	return summary
}

// GateOutbound decides whether a send may proceed given the account risk
// status. Only PSP-bound destinations are gated.
func GateOutbound(summary models.AccountRiskSummary, match models.PSPMatch) models.GateDecision {
	if !match.IsPSP {
		return models.GateDecision{Action: models.GateAllow}
	}
	switch summary.Status {
	case models.RiskStatusRestricted:
		return models.GateDecision{
			Action: models.GateBlock,
			Reason: fmt.Sprintf("transfers to %s are blocked until %d high-risk deposit(s) are resolved", match.PSPName, summary.RedCount),
		}
	case models.RiskStatusWarning:
		return models.GateDecision{
			Action: models.GateConfirm,
			Reason: fmt.Sprintf("%d deposit(s) awaiting review; confirm transfer to %s", summary.YellowCount, match.PSPName),
		}
	}
	return models.GateDecision{Action: models.GateAllow}
}

// DestinationPolicy applies the account's high-risk action to a scanned destination
func DestinationPolicy(assessment models.Assessment, action models.HighRiskAction) models.GateDecision {
	reasons := strings.Join(assessment.Reasons, "; ")
	switch assessment.Score {
	case models.RiskRed:
		if action == models.HighRiskWarn {
			return models.GateDecision{Action: models.GateConfirm, Reason: "high-risk destination: " + reasons}
		}
		return models.GateDecision{Action: models.GateBlock, Reason: "high-risk destination: " + reasons}
	case models.RiskYellow:
		return models.GateDecision{Action: models.GateAllow, Reason: "destination flagged: " + reasons}
	}
	return models.GateDecision{Action: models.GateAllow}
}

// Strictest returns the most restrictive of the decisions, keeping the first
// reason at that level.
func Strictest(decisions ...models.GateDecision) models.GateDecision {
	out := models.GateDecision{Action: models.GateAllow}
	for _, d := range decisions {
		if rank(d.Action) > rank(out.Action) {
			out = d
		}
	}
	return out
}

func rank(a models.GateAction) int {
	switch a {
	case models.GateBlock:
		return 2
	case models.GateConfirm:
		return 1
	}
	return 0
}
