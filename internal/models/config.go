package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Session  SessionConfig
	Risk     RiskConfig
	Limits   LimitsConfig
	Catalog  CatalogConfig
}

// DatabaseConfig selects and tunes the wallet repository backend
type DatabaseConfig struct {
	Backend         string // "memory" or "sqlite"
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	SeedDemoData    bool
}

// SessionConfig holds session store settings
type SessionConfig struct {
	UserId            string
	DeviceId          string
	NetworkLatency    time.Duration
	IdempotencyWindow time.Duration
	SweepInterval     time.Duration
	LargeTransferUSD  decimal.Decimal
}

// RiskConfig holds address scanner settings
type RiskConfig struct {
	ScanTimeout   time.Duration
	CacheWindow   time.Duration
	RatePerSecond float64
	Burst         int
	RulesFile     string
}

// LimitsConfig holds the default security configuration for new accounts
type LimitsConfig struct {
	Single                   decimal.Decimal
	Daily                    decimal.Decimal
	Monthly                  decimal.Decimal
	RequireFirstTransferTest bool
	FirstTransferTestMax     decimal.Decimal
	WhitelistBypass          bool
	HighRiskAction           HighRiskAction
}

// CatalogConfig points at optional YAML overrides for the embedded catalogs
type CatalogConfig struct {
	ChainsFile    string
	ProvidersFile string
}
