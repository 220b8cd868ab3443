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
	"os"
	"path/filepath"

	"custody-wallet-core/internal/common"
	"custody-wallet-core/internal/config"

	"go.uber.org/zap"
)

func writeQR(dir, chainId string, png []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, chainId+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	qrDir := flag.String("qr", "", "Directory to write one receive QR code per chain (optional)")
	qrSize := flag.Int("qr-size", 256, "QR code size in pixels")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	wallet, err := services.Store.ActiveWallet()
	if err != nil {
		logger.Fatal("No active wallet", zap.Error(err))
	}

	common.PrintHeader(fmt.Sprintf("RECEIVE ADDRESSES: %s", wallet.Name), common.WideWidth)
	ids := services.Chains.IDs()
	written := 0
	for i, chainId := range ids {
		isLast := i == len(ids)-1
		address, err := services.Store.ReceiveAddress(chainId)
		if err != nil {
			logger.Error("Failed to get receive address", zap.String("chain", chainId), zap.Error(err))
			continue
		}
		fmt.Printf("%s %-12s → %s\n", common.BoxPrefix(isLast), chainId, address)

		if *qrDir == "" {
			continue
		}
		png, err := services.Store.ReceiveQR(chainId, *qrSize)
		if err != nil {
			logger.Error("Failed to render QR code", zap.String("chain", chainId), zap.Error(err))
			continue
		}
		path, err := writeQR(*qrDir, chainId, png)
		if err != nil {
			logger.Error("Failed to save QR code", zap.Error(err))
			continue
		}
		fmt.Printf("%s    QR: %s\n", common.BoxDetailPrefix(isLast), path)
		written++
	}
	common.PrintFooter(fmt.Sprintf("SUMMARY: %d chains, %d QR codes written", len(ids), written), common.WideWidth)

	logger.Info("Address report completed",
		zap.String("wallet_id", wallet.Id),
		zap.Int("chains", len(ids)),
		zap.Int("qr_codes", written))
}
