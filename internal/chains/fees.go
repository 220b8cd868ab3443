package chains

import (
	"fmt"

	"custody-wallet-core/internal/models"

	"github.com/shopspring/decimal"
)

// FeeQuote is a deterministic network fee estimate for one transfer
type FeeQuote struct {
	Chain      string
	Tier       models.FeeTier
	GasPrice   decimal.Decimal // in the chain's price unit (gwei, sat/vB, ...)
	GasUnits   decimal.Decimal
	GasAmount  decimal.Decimal // total fee in GasToken
	GasToken   string
	RbfEnabled bool
}

var hundred = decimal.NewFromInt(100)

func (ch Chain) quote(tier models.FeeTier, price decimal.Decimal) FeeQuote {
	return FeeQuote{
		Chain:      ch.Id,
		Tier:       tier,
		GasPrice:   price,
		GasUnits:   ch.GasUnits,
		GasAmount:  price.Mul(ch.GasUnits).Shift(ch.PriceExponent),
		GasToken:   ch.NativeToken,
		RbfEnabled: ch.RbfEnabled,
	}
}

func (ch Chain) tierPrice(tier models.FeeTier) (models.FeeTier, decimal.Decimal, error) {
	if tier == "" {
		tier = models.FeeTierStandard
	}
	price, ok := ch.FeeTiers[tier]
	if !ok {
		return tier, decimal.Zero, fmt.Errorf("%w: unknown fee tier %q", models.ErrValidation, tier)
	}
	return tier, price, nil
}

// Quote returns the fee for a new transfer on chainId at the given tier.
// An empty tier means standard.
func (c *Catalog) Quote(chainId string, tier models.FeeTier) (FeeQuote, error) {
	chain, err := c.Get(chainId)
	if err != nil {
		return FeeQuote{}, err
	}
	tier, price, err := chain.tierPrice(tier)
	if err != nil {
		return FeeQuote{}, err
	}
	return chain.quote(tier, price), nil
}

// BumpQuote prices a replacement transaction. The new price is the tier price,
// raised to at least MinBumpPercent above previous when the tier is not enough.
func (c *Catalog) BumpQuote(chainId string, previous decimal.Decimal, tier models.FeeTier) (FeeQuote, error) {
	chain, err := c.Get(chainId)
	if err != nil {
		return FeeQuote{}, err
	}
	if !chain.RbfEnabled {
		return FeeQuote{}, fmt.Errorf("%w: chain %s does not support fee replacement", models.ErrInvalidTransition, chain.Id)
	}
	tier, price, err := chain.tierPrice(tier)
	if err != nil {
		return FeeQuote{}, err
	}

	floor := previous.Mul(hundred.Add(chain.MinBumpPercent)).Div(hundred).RoundCeil(4)
	if price.LessThan(floor) {
		price = floor
	}
	if !price.GreaterThan(previous) {
		price = previous.Add(decimal.New(1, -4))
	}
	return chain.quote(tier, price), nil
}
