package portfolio

import (
	"sort"
	"strings"

	"custody-wallet-core/internal/models"

	"github.com/shopspring/decimal"
)

// Aggregate groups per-chain assets by symbol. Chain shares are ordered by chain
// id and groups by descending total USD value, so the result does not depend on
// input order.
func Aggregate(assets []models.Asset) []models.AggregatedAsset {
	groups := make(map[string]*models.AggregatedAsset)
	for _, a := range assets {
		key := strings.ToUpper(a.Symbol)
		g, ok := groups[key]
		if !ok {
			g = &models.AggregatedAsset{
				Symbol:        key,
				Name:          a.Name,
				TotalBalance:  decimal.Zero,
				TotalValueUSD: decimal.Zero,
			}
			groups[key] = g
		}
		if g.Name == "" || (a.Name != "" && a.Name < g.Name) {
			g.Name = a.Name
		}
		g.TotalBalance = g.TotalBalance.Add(a.Balance)
		g.TotalValueUSD = g.TotalValueUSD.Add(a.ValueUSD)
		g.Chains = append(g.Chains, models.AssetChainShare{
			Chain:    a.Chain,
			Balance:  a.Balance,
			ValueUSD: a.ValueUSD,
		})
	}

	out := make([]models.AggregatedAsset, 0, len(groups))
	for _, g := range groups {
		sort.Slice(g.Chains, func(i, j int) bool {
			return g.Chains[i].Chain < g.Chains[j].Chain
		})
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].TotalValueUSD.Cmp(out[j].TotalValueUSD); c != 0 {
			return c > 0
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// TotalValueUSD sums the USD value of every asset
func TotalValueUSD(assets []models.Asset) decimal.Decimal {
	total := decimal.Zero
	for _, a := range assets {
		total = total.Add(a.ValueUSD)
	}
	return total
}
