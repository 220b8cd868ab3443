package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Custody describes who controls the signing keys of a wallet
type Custody string

const (
	CustodyMPC  Custody = "mpc"
	CustodySelf Custody = "self-custody"
)

// Backup holds the metadata of the last completed key-share backup
type Backup struct {
	Method       string    `json:"method,omitempty"`   // "cloud", "manual", ...
	Provider     string    `json:"provider,omitempty"` // "icloud", "google-drive", ...
	LastBackupAt time.Time `json:"last_backup_at,omitempty"`
}

// Wallet represents a user wallet with one address per supported chain
type Wallet struct {
	Id         string            `json:"id"`
	Name       string            `json:"name"`
	CreatedAt  time.Time         `json:"created_at"`
	Addresses  map[string]string `json:"addresses"` // chain -> address
	Custody    Custody           `json:"custody"`
	Backup     Backup            `json:"backup"`
	IsBackedUp bool              `json:"is_backed_up"`
	IsEscaped  bool              `json:"is_escaped"`
	EscapedAt  time.Time         `json:"escaped_at,omitempty"`
}

// Clone returns a deep copy of the wallet
func (w Wallet) Clone() Wallet {
	out := w
	out.Addresses = make(map[string]string, len(w.Addresses))
	for chain, addr := range w.Addresses {
		out.Addresses[chain] = addr
	}
	return out
}

// Asset is the balance of one symbol on one chain
type Asset struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Chain     string          `json:"chain"`
	Balance   decimal.Decimal `json:"balance"`
	ValueUSD  decimal.Decimal `json:"value_usd"`
	Change24h decimal.Decimal `json:"change_24h"`
}

// AssetChainShare is one chain's contribution to an aggregated asset
type AssetChainShare struct {
	Chain    string          `json:"chain"`
	Balance  decimal.Decimal `json:"balance"`
	ValueUSD decimal.Decimal `json:"value_usd"`
}

// AggregatedAsset is a symbol-level roll-up across chains. Derived, never stored.
type AggregatedAsset struct {
	Symbol        string            `json:"symbol"`
	Name          string            `json:"name"`
	TotalBalance  decimal.Decimal   `json:"total_balance"`
	TotalValueUSD decimal.Decimal   `json:"total_value_usd"`
	Chains        []AssetChainShare `json:"chains"`
}

// Contact is an address book entry
type Contact struct {
	Id            string    `json:"id"`
	Name          string    `json:"name"`
	Address       string    `json:"address"`
	Chain         string    `json:"chain"`
	IsWhitelisted bool      `json:"is_whitelisted"`
	IsOfficial    bool      `json:"is_official"`
	Notes         string    `json:"notes,omitempty"`
	LastUsedAt    time.Time `json:"last_used_at,omitempty"`
}
