/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"

	"custody-wallet-core/internal/common"
	"custody-wallet-core/internal/config"
	"custody-wallet-core/internal/models"
	"custody-wallet-core/internal/portfolio"
	"custody-wallet-core/internal/risk"
	"custody-wallet-core/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type balanceStats struct {
	totalWallets      int
	totalAssets       int
	walletsWithAssets int
	totalValueUSD     decimal.Decimal
	transactions      []models.Transaction
}

func printAsset(asset models.AggregatedAsset, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	fmt.Printf("%s %-8s %-16s: %20s  %14s\n",
		symbol,
		asset.Symbol,
		asset.Name,
		asset.TotalBalance.String(),
		common.FormatUSD(asset.TotalValueUSD))

	detail := common.BoxDetailPrefix(isLast)
	for _, share := range asset.Chains {
		fmt.Printf("%s    %-12s %20s  %14s\n", detail, share.Chain, share.Balance.String(), common.FormatUSD(share.ValueUSD))
	}
}

func printWalletHeader(wallet models.Wallet, assetCount int, version int64) {
	fmt.Printf("\n┌─ Wallet: %s (%s)\n", wallet.Name, wallet.Custody)
	fmt.Printf("│  ID: %s (v%d)\n", wallet.Id, version)
	fmt.Printf("│  Backed up: %t  Escaped: %t\n", wallet.IsBackedUp, wallet.IsEscaped)
	fmt.Printf("│  Assets: %d\n", assetCount)
	common.PrintBoxSeparator(78)
}

func processWallet(ctx context.Context, wallet models.Wallet, repo store.WalletRepository, stats *balanceStats) error {
	state, err := repo.LoadState(ctx, wallet.Id)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	assets := portfolio.Aggregate(state.Assets)
	stats.totalWallets++
	stats.totalValueUSD = stats.totalValueUSD.Add(portfolio.TotalValueUSD(state.Assets))
	stats.transactions = append(stats.transactions, state.Transactions...)
	if len(assets) == 0 {
		return nil
	}

	printWalletHeader(wallet, len(assets), state.Version)
	for i, asset := range assets {
		printAsset(asset, i == len(assets)-1)
	}
	stats.walletsWithAssets++
	stats.totalAssets += len(assets)
	return nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "User id to report on (default: WALLET_USER_ID)")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	userId := cfg.Session.UserId
	if *userFlag != "" {
		userId = *userFlag
	}

	// Read-only: no session is opened
	repo, err := common.InitializeRepository(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize repository", zap.Error(err))
	}
	defer repo.Close()

	wallets, err := repo.ListWallets(ctx, userId)
	if err != nil {
		logger.Fatal("Failed to list wallets", zap.String("user_id", userId), zap.Error(err))
	}

	common.PrintHeader(fmt.Sprintf("WALLET BALANCE REPORT: %s", userId), common.DefaultWidth)

	stats := balanceStats{totalValueUSD: decimal.Zero}
	for _, wallet := range wallets {
		if err := processWallet(ctx, wallet, repo, &stats); err != nil {
			logger.Error("Failed to process wallet",
				zap.String("wallet_id", wallet.Id),
				zap.String("wallet_name", wallet.Name),
				zap.Error(err))
		}
	}

	riskSummary := risk.Summarize(stats.transactions)
	summary := fmt.Sprintf("SUMMARY: %d of %d wallets hold %d assets worth %s; risk status %s (%d red, %d yellow)",
		stats.walletsWithAssets, stats.totalWallets, stats.totalAssets, common.FormatUSD(stats.totalValueUSD),
		riskSummary.Status, riskSummary.RedCount, riskSummary.YellowCount)
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("wallets_queried", stats.totalWallets),
		zap.Int("wallets_with_assets", stats.walletsWithAssets),
		zap.Int("total_assets", stats.totalAssets),
		zap.String("risk_status", string(riskSummary.Status)))
}
