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
	"errors"
	"flag"
	"fmt"
	"strings"

	"custody-wallet-core/internal/common"
	"custody-wallet-core/internal/config"
	"custody-wallet-core/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type sendFlags struct {
	req            models.SendRequest
	idempotencyKey string
	previewOnly    bool
}

func parseAndValidateFlags() (*sendFlags, error) {
	toFlag := flag.String("to", "", "Destination address (required)")
	amountFlag := flag.String("amount", "", "Amount to send (required)")
	assetFlag := flag.String("asset", "", "Asset as SYMBOL-chain, e.g. USDT-ethereum (required)")
	tierFlag := flag.String("tier", "standard", "Fee tier: slow, standard, fast or instant")
	memoFlag := flag.String("memo", "", "Optional memo")
	ackFlag := flag.Bool("ack", false, "Accept every warning raised by the pre-send checks")
	keyFlag := flag.String("idempotency-key", "", "Idempotency key (default: generated)")
	previewFlag := flag.Bool("preview", false, "Run the checks without sending")
	flag.Parse()

	if *toFlag == "" || *amountFlag == "" || *assetFlag == "" {
		return nil, fmt.Errorf("flags --to, --amount and --asset are required")
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be greater than zero")
	}

	parts := strings.SplitN(*assetFlag, "-", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid asset format, expected SYMBOL-chain (e.g. USDT-ethereum)")
	}

	return &sendFlags{
		req: models.SendRequest{
			To:           *toFlag,
			Amount:       amount,
			Symbol:       parts[0],
			Chain:        parts[1],
			Memo:         *memoFlag,
			FeeTier:      models.FeeTier(*tierFlag),
			Acknowledged: *ackFlag,
		},
		idempotencyKey: *keyFlag,
		previewOnly:    *previewFlag,
	}, nil
}

func generateIdempotencyKey(walletId string) string {
	walletSegments := strings.Split(walletId, "-")
	uuidSegments := strings.Split(uuid.New().String(), "-")
	return walletSegments[0] + "-" + strings.Join(uuidSegments[1:], "-")
}

func printPreview(req models.SendRequest, preview models.SendPreview) {
	common.PrintHeader("SEND REQUEST", common.DefaultWidth)
	fmt.Printf("Asset:             %s on %s\n", req.Symbol, req.Chain)
	fmt.Printf("Amount:            %s (%s)\n", req.Amount.String(), common.FormatUSD(preview.ValueUSD))
	fmt.Printf("Destination:       %s\n", req.To)
	fmt.Printf("Destination risk:  %s\n", preview.Destination.Score)
	if preview.PSP.IsPSP {
		fmt.Printf("Payment provider:  %s\n", preview.PSP.PSPName)
	}
	fmt.Printf("Daily remaining:   %s\n", common.FormatUSD(preview.Limit.DailyRemaining))
	fmt.Printf("Monthly remaining: %s\n", common.FormatUSD(preview.Limit.MonthlyRemaining))
	for _, w := range preview.Warnings {
		fmt.Printf("⚠️  %s\n", w)
	}
	common.PrintSeparator("=", common.DefaultWidth)

	switch {
	case preview.Blocked:
		fmt.Printf("\n❌ Blocked: %s\n\n", preview.BlockReason)
	case preview.NeedsAcknowledge:
		fmt.Printf("\n⚠️  Confirmation required: %s (rerun with --ack)\n\n", preview.Gate.Reason)
	default:
		fmt.Println("\n✅ Checks PASSED")
		fmt.Println()
	}
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	flags, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid flags", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	zap.L().Info("Initializing services")
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	wallet, err := services.Store.ActiveWallet()
	if err != nil {
		zap.L().Fatal("No wallet to send from", zap.Error(err))
	}

	preview, err := services.Store.PrepareSend(ctx, flags.req)
	if err != nil {
		common.PrintHeader("SEND FAILED", common.DefaultWidth)
		fmt.Printf("Error: %v\n", err)
		common.PrintSeparator("=", common.DefaultWidth)
		zap.L().Fatal("Pre-send checks failed", zap.Error(err))
	}
	printPreview(flags.req, preview)
	if flags.previewOnly {
		return
	}

	key := flags.idempotencyKey
	if key == "" {
		key = generateIdempotencyKey(wallet.Id)
	}
	sendCtx := models.WithRequestContext(ctx, &models.RequestContext{
		IdempotencyKey: key,
		DeviceId:       cfg.Session.DeviceId,
	})

	fmt.Println("🔄 Submitting transfer...")
	result, err := services.Store.Send(sendCtx, flags.req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTransferBlocked):
			fmt.Println("❌ Transfer blocked")
		case errors.Is(err, models.ErrAcknowledgementNeeded):
			fmt.Println("⚠️  Transfer needs confirmation, rerun with --ack")
		case errors.Is(err, models.ErrNetwork):
			fmt.Printf("❌ Network error, retry with --idempotency-key %s\n", key)
		}
		zap.L().Fatal("Send failed", zap.String("idempotency_key", key), zap.Error(err))
	}

	if result.Replayed {
		fmt.Println("\n✅ Transfer already submitted (idempotent)")
	} else {
		fmt.Println("\n✅ Transfer submitted")
	}
	fmt.Printf("   Transaction ID: %s\n", result.TransactionId)
	fmt.Printf("   Hash:           %s\n", result.TxHash)
	fmt.Printf("   Nonce:          %d\n", result.Nonce)
	fmt.Printf("   New balance:    %s %s\n\n", result.NewBalance.String(), strings.ToUpper(flags.req.Symbol))
	if result.Inconsistent {
		fmt.Println("⚠️  No tracked balance matched this asset, the wallet balance was not debited")
	}

	zap.L().Info("Send completed",
		zap.String("wallet_id", wallet.Id),
		zap.String("transaction_id", result.TransactionId),
		zap.String("idempotency_key", key))
}
