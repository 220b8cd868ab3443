package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"custody-wallet-core/internal/models"

	"github.com/shopspring/decimal"
)

func Load() (*models.Config, error) {
	var (
		connMaxLifetime, connMaxIdleTime, pingTimeout    time.Duration
		networkLatency, idempotencyWindow, sweepInterval time.Duration
		scanTimeout, cacheWindow                         time.Duration
		err                                              error
	)

	if connMaxLifetime, err = getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute); err != nil {
		return nil, err
	}
	if connMaxIdleTime, err = getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second); err != nil {
		return nil, err
	}
	if pingTimeout, err = getEnvDuration("DB_PING_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if networkLatency, err = getEnvDuration("SESSION_NETWORK_LATENCY", 300*time.Millisecond); err != nil {
		return nil, err
	}
	if idempotencyWindow, err = getEnvDuration("SESSION_IDEMPOTENCY_WINDOW", 24*time.Hour); err != nil {
		return nil, err
	}
	if sweepInterval, err = getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if scanTimeout, err = getEnvDuration("RISK_SCAN_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}
	if cacheWindow, err = getEnvDuration("RISK_CACHE_WINDOW", 10*time.Minute); err != nil {
		return nil, err
	}

	largeTransfer, err := getEnvDecimal("LARGE_TRANSFER_USD", decimal.NewFromInt(10000))
	if err != nil {
		return nil, err
	}
	single, err := getEnvDecimal("LIMIT_SINGLE_USD", decimal.NewFromInt(10000))
	if err != nil {
		return nil, err
	}
	daily, err := getEnvDecimal("LIMIT_DAILY_USD", decimal.NewFromInt(25000))
	if err != nil {
		return nil, err
	}
	monthly, err := getEnvDecimal("LIMIT_MONTHLY_USD", decimal.NewFromInt(100000))
	if err != nil {
		return nil, err
	}
	firstTransferMax, err := getEnvDecimal("FIRST_TRANSFER_TEST_MAX_USD", decimal.NewFromInt(100))
	if err != nil {
		return nil, err
	}

	highRisk := models.HighRiskAction(strings.ToLower(getEnvString("HIGH_RISK_ACTION", string(models.HighRiskBlock))))
	if highRisk != models.HighRiskBlock && highRisk != models.HighRiskWarn {
		return nil, fmt.Errorf("invalid HIGH_RISK_ACTION: %q (want block or warn)", highRisk)
	}

	backend := strings.ToLower(getEnvString("WALLET_BACKEND", "memory"))
	if backend != "memory" && backend != "sqlite" {
		return nil, fmt.Errorf("invalid WALLET_BACKEND: %q (want memory or sqlite)", backend)
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Backend:         backend,
			Path:            getEnvString("DATABASE_PATH", "wallets.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
			SeedDemoData:    getEnvBool("SEED_DEMO_DATA", false),
		},
		Session: models.SessionConfig{
			UserId:            getEnvString("WALLET_USER_ID", "demo-user"),
			DeviceId:          getEnvString("WALLET_DEVICE_ID", "cli"),
			NetworkLatency:    networkLatency,
			IdempotencyWindow: idempotencyWindow,
			SweepInterval:     sweepInterval,
			LargeTransferUSD:  largeTransfer,
		},
		Risk: models.RiskConfig{
			ScanTimeout:   scanTimeout,
			CacheWindow:   cacheWindow,
			RatePerSecond: getEnvFloat("RISK_RATE_PER_SECOND", 20),
			Burst:         getEnvInt("RISK_BURST", 5),
			RulesFile:     getEnvString("RISK_RULES_FILE", ""),
		},
		Limits: models.LimitsConfig{
			Single:                   single,
			Daily:                    daily,
			Monthly:                  monthly,
			RequireFirstTransferTest: getEnvBool("REQUIRE_FIRST_TRANSFER_TEST", false),
			FirstTransferTestMax:     firstTransferMax,
			WhitelistBypass:          getEnvBool("WHITELIST_BYPASS", true),
			HighRiskAction:           highRisk,
		},
		Catalog: models.CatalogConfig{
			ChainsFile:    getEnvString("CHAINS_FILE", ""),
			ProvidersFile: getEnvString("PSP_PROVIDERS_FILE", ""),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return d, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
