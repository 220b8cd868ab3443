package store

import (
	"context"

	"custody-wallet-core/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrNotFound               = models.ErrNotFound
	ErrConcurrentModification = models.ErrConcurrentModification
)

// Changes is one atomic commit. Nil members are left untouched.
//
// State and Account are saved with optimistic locking: their Version must
// equal the stored version (0 for a record that does not exist yet). On
// success the backend increments Version on the passed values.
type Changes struct {
	UserId  string
	Wallet  *models.Wallet
	State   *models.WalletState
	Account *models.AccountState
}

// WalletRepository defines the contract that every backend (memory, SQLite, ...) must satisfy.
type WalletRepository interface {
	// --- Wallets ---
	ListWallets(ctx context.Context, userId string) ([]models.Wallet, error)
	GetWallet(ctx context.Context, walletId string) (*models.Wallet, error)

	// --- State ---
	LoadState(ctx context.Context, walletId string) (*models.WalletState, error)
	LoadAccount(ctx context.Context, userId string) (*models.AccountState, error)

	// Commit applies every change or none of them
	Commit(ctx context.Context, changes Changes) error

	// --- Lifecycle ---
	Close()
}
