package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"custody-wallet-core/internal/models"
	"custody-wallet-core/internal/store"
)

// Compile-time check: *Repository must satisfy store.WalletRepository.
var _ store.WalletRepository = (*Repository)(nil)

type walletRecord struct {
	userId string
	wallet models.Wallet
}

// Repository keeps every record in process memory. Values are deep-copied on
// the way in and out so callers never share state with the repository.
type Repository struct {
	mu       sync.RWMutex
	wallets  map[string]walletRecord
	states   map[string]*models.WalletState
	accounts map[string]*models.AccountState
}

func NewRepository() *Repository {
	return &Repository{
		wallets:  make(map[string]walletRecord),
		states:   make(map[string]*models.WalletState),
		accounts: make(map[string]*models.AccountState),
	}
}

func (r *Repository) ListWallets(_ context.Context, userId string) ([]models.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var wallets []models.Wallet
	for _, rec := range r.wallets {
		if rec.userId == userId {
			wallets = append(wallets, rec.wallet.Clone())
		}
	}
	sort.Slice(wallets, func(i, j int) bool {
		if !wallets[i].CreatedAt.Equal(wallets[j].CreatedAt) {
			return wallets[i].CreatedAt.Before(wallets[j].CreatedAt)
		}
		return wallets[i].Id < wallets[j].Id
	})
	return wallets, nil
}

func (r *Repository) GetWallet(_ context.Context, walletId string) (*models.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.wallets[walletId]
	if !ok {
		return nil, fmt.Errorf("%w: wallet %s", store.ErrNotFound, walletId)
	}
	w := rec.wallet.Clone()
	return &w, nil
}

func (r *Repository) LoadState(_ context.Context, walletId string) (*models.WalletState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[walletId]
	if !ok {
		return nil, fmt.Errorf("%w: state of wallet %s", store.ErrNotFound, walletId)
	}
	return state.Clone(), nil
}

func (r *Repository) LoadAccount(_ context.Context, userId string) (*models.AccountState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[userId]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", store.ErrNotFound, userId)
	}
	return account.Clone(), nil
}

func (r *Repository) Commit(ctx context.Context, changes store.Changes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if changes.State != nil {
		var stored int64
		if current, ok := r.states[changes.State.WalletId]; ok {
			stored = current.Version
		}
		if stored != changes.State.Version {
			return fmt.Errorf("wallet state %s at version %d, expected %d - %w",
				changes.State.WalletId, stored, changes.State.Version, store.ErrConcurrentModification)
		}
	}
	if changes.Account != nil {
		var stored int64
		if current, ok := r.accounts[changes.Account.UserId]; ok {
			stored = current.Version
		}
		if stored != changes.Account.Version {
			return fmt.Errorf("account %s at version %d, expected %d - %w",
				changes.Account.UserId, stored, changes.Account.Version, store.ErrConcurrentModification)
		}
	}

	if changes.Wallet != nil {
		userId := changes.UserId
		if existing, ok := r.wallets[changes.Wallet.Id]; ok && userId == "" {
			userId = existing.userId
		}
		r.wallets[changes.Wallet.Id] = walletRecord{userId: userId, wallet: changes.Wallet.Clone()}
	}
	if changes.State != nil {
		changes.State.Version++
		r.states[changes.State.WalletId] = changes.State.Clone()
	}
	if changes.Account != nil {
		changes.Account.Version++
		r.accounts[changes.Account.UserId] = changes.Account.Clone()
	}
	return nil
}

func (r *Repository) Close() {}
