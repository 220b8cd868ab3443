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

package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"custody-wallet-core/internal/chains"
	"custody-wallet-core/internal/database"
	"custody-wallet-core/internal/memory"
	"custody-wallet-core/internal/metrics"
	"custody-wallet-core/internal/models"
	"custody-wallet-core/internal/psp"
	"custody-wallet-core/internal/risk"
	"custody-wallet-core/internal/session"
	"custody-wallet-core/internal/store"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	Repo     store.WalletRepository
	Chains   *chains.Catalog
	Scanner  *risk.Scanner
	Registry *prometheus.Registry
	Store    *session.Store
	Sweeper  *session.Sweeper
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeRepository opens the wallet repository selected by cfg.Backend
func InitializeRepository(ctx context.Context, cfg models.DatabaseConfig) (store.WalletRepository, error) {
	switch cfg.Backend {
	case "", "memory":
		zap.L().Info("Using in-memory wallet repository")
		return memory.NewRepository(), nil
	case "sqlite":
		zap.L().Info("Connecting to database", zap.String("path", cfg.Path))
		dbService, err := database.NewService(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return dbService, nil
	}
	return nil, fmt.Errorf("unknown wallet backend %q", cfg.Backend)
}

// InitializeServices builds the catalogs, risk scanner, repository and a
// signed-in session store for the configured user and device.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	catalog, err := chains.LoadCatalog(cfg.Catalog.ChainsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load chain catalog: %w", err)
	}
	providers, err := psp.LoadCatalog(cfg.Catalog.ProvidersFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider catalog: %w", err)
	}
	oracle, err := risk.LoadRuleOracle(cfg.Risk.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load risk rules: %w", err)
	}
	scanner := risk.NewScanner(oracle, risk.ScannerConfig{
		Timeout:       cfg.Risk.ScanTimeout,
		CacheWindow:   cfg.Risk.CacheWindow,
		RatePerSecond: cfg.Risk.RatePerSecond,
		Burst:         cfg.Risk.Burst,
	})

	repo, err := InitializeRepository(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	st, err := session.New(cfg, session.Dependencies{
		Repo:      repo,
		Chains:    catalog,
		Providers: providers,
		Scanner:   scanner,
		Metrics:   metrics.New(registry),
	})
	if err != nil {
		repo.Close()
		return nil, err
	}

	zap.L().Info("Signing in",
		zap.String("user_id", cfg.Session.UserId),
		zap.String("device_id", cfg.Session.DeviceId))
	if err := st.Login(ctx, cfg.Session.UserId, cfg.Session.DeviceId); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}

	if cfg.Database.SeedDemoData {
		if err := st.SeedDemo(ctx); err != nil {
			repo.Close()
			return nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return &Services{
		Repo:     repo,
		Chains:   catalog,
		Scanner:  scanner,
		Registry: registry,
		Store:    st,
		Sweeper:  session.NewSweeper(st, cfg.Session.SweepInterval),
	}, nil
}

func (cs *Services) Close() {
	if cs.Sweeper != nil {
		cs.Sweeper.Stop()
	}
	if cs.Store != nil {
		cs.Store.Logout()
	}
	if cs.Repo != nil {
		cs.Repo.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
