package session

import (
	"context"
	"fmt"

	"custody-wallet-core/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type demoDeposit struct {
	symbol string
	name   string
	chain  string
	amount string
	usd    string
	from   string
}

var demoWallets = []struct {
	name     string
	deposits []demoDeposit
}{
	{
		name: "Main Wallet",
		deposits: []demoDeposit{
			{"ETH", "Ether", "ethereum", "2.5", "8750", "0xde709f2102306220921060314715629080e2fb77"},
			{"USDT", "Tether USD", "ethereum", "1500", "1500", "0x52908400098527886E0F7030069857D2E4169EE7"},
			{"USDT", "Tether USD", "tron", "800", "800", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"},
			{"BTC", "Bitcoin", "bitcoin", "0.15", "9750", "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"},
			{"USDT", "Tether USD", "ethereum", "250", "250", "0x3CBdeD43EFdAf0FC77b9C55F6fC9988fCC9b37d9"},
		},
	},
	{
		name: "Savings",
		deposits: []demoDeposit{
			{"SOL", "Solana", "solana", "40", "6000", "So11111111111111111111111111111111111111112"},
			{"USDC", "USD Coin", "polygon", "1200", "1200", "0xde709f2102306220921060314715629080e2fb77"},
		},
	},
}

// SeedDemo gives a signed-in account without wallets a demo portfolio: two
// wallets with deposits on several chains, one of them flagged. Accounts that
// already own a wallet are left alone.
func (s *Store) SeedDemo(ctx context.Context) error {
	wallets, err := s.ListWallets(ctx)
	if err != nil {
		return err
	}
	if len(wallets) > 0 {
		zap.L().Info("Account already has wallets, skipping demo data", zap.Int("wallets", len(wallets)))
		return nil
	}

	var first string
	for _, dw := range demoWallets {
		wallet, err := s.CreateWallet(ctx, dw.name, models.CustodyMPC)
		if err != nil {
			return fmt.Errorf("failed to create demo wallet %s: %w", dw.name, err)
		}
		if first == "" {
			first = wallet.Id
		}
		for i, d := range dw.deposits {
			tx := models.Transaction{
				Direction:    models.DirectionReceive,
				Amount:       decimal.RequireFromString(d.amount),
				Symbol:       d.symbol,
				ValueUSD:     decimal.RequireFromString(d.usd),
				Counterparty: d.from,
				Chain:        d.chain,
				Hash:         s.chains.TxHash(d.chain, "demo", wallet.Id, fmt.Sprint(i)),
				Status:       models.StatusConfirmed,
			}
			stored, err := s.IngestReceive(ctx, tx)
			if err != nil {
				return fmt.Errorf("failed to seed %s deposit: %w", d.symbol, err)
			}
			if err := s.nameAsset(ctx, stored.Symbol, stored.Chain, d.name); err != nil {
				return err
			}
		}
		zap.L().Info("Seeded demo wallet",
			zap.String("wallet_id", wallet.Id),
			zap.String("name", dw.name),
			zap.Int("deposits", len(dw.deposits)))
	}

	if _, err := s.SwitchWallet(ctx, first); err != nil {
		return err
	}
	_, err = s.AddContact(ctx, models.Contact{
		Name:          "Treasury",
		Address:       "0x52908400098527886E0F7030069857D2E4169EE7",
		Chain:         "ethereum",
		IsWhitelisted: true,
	})
	return err
}

// nameAsset sets the display name of an asset created by a deposit
func (s *Store) nameAsset(ctx context.Context, symbol, chainId, name string) error {
	return s.mutate(ctx, "name_asset", func(_ snapshot, c *change) error {
		for i := range c.state.Assets {
			a := &c.state.Assets[i]
			if a.Symbol == symbol && a.Chain == chainId && a.Name != name {
				a.Name = name
				return nil
			}
		}
		return errNoChange
	})
}
