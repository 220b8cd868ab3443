package session

import (
	"testing"

	"custody-wallet-core/internal/models"
)

func TestSeedDemo(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()

	if err := env.store.SeedDemo(env.ctx); err != nil {
		t.Fatalf("SeedDemo failed: %v", err)
	}

	wallets, err := env.store.ListWallets(env.ctx)
	if err != nil {
		t.Fatalf("ListWallets failed: %v", err)
	}
	if len(wallets) != 2 {
		t.Fatalf("Expected 2 wallets, got %d", len(wallets))
	}
	active, _ := env.store.ActiveWallet()
	if active.Name != "Main Wallet" {
		t.Errorf("Expected Main Wallet active, got %s", active.Name)
	}

	aggregated, err := env.store.AggregatedAssets()
	if err != nil {
		t.Fatalf("AggregatedAssets failed: %v", err)
	}
	if len(aggregated) == 0 || aggregated[0].Symbol != "BTC" || aggregated[0].Name != "Bitcoin" {
		t.Errorf("Expected BTC to lead the portfolio, got %+v", aggregated)
	}
	for _, a := range aggregated {
		if a.Symbol == "USDT" && len(a.Chains) != 2 {
			t.Errorf("Expected USDT on 2 chains, got %d", len(a.Chains))
		}
	}

	summary, _ := env.store.AccountRiskStatus(env.ctx)
	if summary.Status != models.RiskStatusWarning || summary.YellowCount != 1 {
		t.Errorf("Expected one yellow deposit, got %+v", summary)
	}
	contacts, _ := env.store.Contacts()
	if len(contacts) != 1 || !contacts[0].IsWhitelisted {
		t.Errorf("Expected a whitelisted contact, got %+v", contacts)
	}

	if err := env.store.SeedDemo(env.ctx); err != nil {
		t.Fatalf("Second SeedDemo failed: %v", err)
	}
	wallets, _ = env.store.ListWallets(env.ctx)
	if len(wallets) != 2 {
		t.Errorf("Expected seeding to be skipped, got %d wallets", len(wallets))
	}
}
