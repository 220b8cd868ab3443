package session

import (
	"context"
	"fmt"
	"strings"

	"custody-wallet-core/internal/chains"
	"custody-wallet-core/internal/ledger"
	"custody-wallet-core/internal/models"
	"custody-wallet-core/internal/portfolio"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateWallet adds a wallet with one derived address per supported chain and
// makes it the active wallet.
func (s *Store) CreateWallet(ctx context.Context, name string, custody models.Custody) (models.Wallet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Wallet{}, fmt.Errorf("%w: wallet name is required", models.ErrValidation)
	}
	if custody == "" {
		custody = models.CustodyMPC
	}
	if custody != models.CustodyMPC && custody != models.CustodySelf {
		return models.Wallet{}, fmt.Errorf("%w: unknown custody %q", models.ErrValidation, custody)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.snapshot()
	if err := snap.requireAccount(); err != nil {
		return models.Wallet{}, err
	}

	now := s.now()
	wallet := &models.Wallet{
		Id:        uuid.New().String(),
		Name:      name,
		CreatedAt: now.UTC(),
		Addresses: make(map[string]string),
		Custody:   custody,
	}
	for _, chainId := range s.chains.IDs() {
		addr, err := s.chains.DeriveAddress(chainId, wallet.Id)
		if err != nil {
			return models.Wallet{}, fmt.Errorf("failed to derive %s address: %w", chainId, err)
		}
		wallet.Addresses[chainId] = addr
	}
	state := &models.WalletState{
		WalletId:     wallet.Id,
		Assets:       []models.Asset{},
		Transactions: []models.Transaction{},
		Contacts:     []models.Contact{},
	}
	account := snap.account.Clone()
	account.ActiveWalletId = wallet.Id

	c := &change{
		wallet:   wallet,
		state:    state,
		account:  account,
		now:      now,
		activate: &activation{wallet: wallet, state: state},
	}
	if err := s.commit(ctx, "create_wallet", snap, c); err != nil {
		return models.Wallet{}, err
	}

	zap.L().Info("Created wallet",
		zap.String("user_id", snap.userId),
		zap.String("wallet_id", wallet.Id),
		zap.String("custody", string(custody)))
	return wallet.Clone(), nil
}

// SwitchWallet makes walletId the active wallet. Every wallet-scoped view is
// replaced by the new wallet's state.
func (s *Store) SwitchWallet(ctx context.Context, walletId string) (models.Wallet, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.snapshot()
	if err := snap.requireAccount(); err != nil {
		return models.Wallet{}, err
	}
	if snap.wallet != nil && snap.wallet.Id == walletId {
		return snap.wallet.Clone(), nil
	}

	wallet, err := s.ownedWallet(ctx, snap.userId, walletId)
	if err != nil {
		return models.Wallet{}, err
	}
	state, err := s.repo.LoadState(ctx, walletId)
	if err != nil {
		return models.Wallet{}, fmt.Errorf("failed to load wallet state: %w", err)
	}
	account := snap.account.Clone()
	account.ActiveWalletId = walletId

	c := &change{
		account:  account,
		now:      s.now(),
		activate: &activation{wallet: wallet, state: state},
	}
	if err := s.commit(ctx, "switch_wallet", snap, c); err != nil {
		return models.Wallet{}, err
	}

	zap.L().Info("Switched wallet",
		zap.String("user_id", snap.userId),
		zap.String("wallet_id", walletId))
	return wallet.Clone(), nil
}

// RenameWallet renames any wallet of the signed-in account
func (s *Store) RenameWallet(ctx context.Context, walletId, name string) (models.Wallet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Wallet{}, fmt.Errorf("%w: wallet name is required", models.ErrValidation)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.snapshot()
	if err := snap.requireAccount(); err != nil {
		return models.Wallet{}, err
	}
	var wallet models.Wallet
	if snap.wallet != nil && snap.wallet.Id == walletId {
		wallet = snap.wallet.Clone()
	} else {
		owned, err := s.ownedWallet(ctx, snap.userId, walletId)
		if err != nil {
			return models.Wallet{}, err
		}
		wallet = *owned
	}
	wallet.Name = name

	if err := s.commit(ctx, "rename_wallet", snap, &change{wallet: &wallet, now: s.now()}); err != nil {
		return models.Wallet{}, err
	}
	return wallet.Clone(), nil
}

// CompleteBackup records a finished key-share backup of the active wallet
func (s *Store) CompleteBackup(ctx context.Context, method, provider string) (models.Wallet, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return models.Wallet{}, fmt.Errorf("%w: backup method is required", models.ErrValidation)
	}

	var out models.Wallet
	err := s.mutate(ctx, "complete_backup", func(snap snapshot, c *change) error {
		wallet := snap.wallet.Clone()
		wallet.Backup = models.Backup{Method: method, Provider: provider, LastBackupAt: c.now.UTC()}
		wallet.IsBackedUp = true
		c.wallet = &wallet
		c.feed().Append(models.CategorySecurity, models.PriorityLow,
			"Wallet backed up",
			fmt.Sprintf("%s was backed up via %s", wallet.Name, method),
			"/settings/backup")
		out = wallet
		return nil
	})
	if err != nil {
		return models.Wallet{}, err
	}
	return out.Clone(), nil
}

// EscapeToSelfCustody hands the active wallet's keys to the user. The wallet
// must be backed up first and can only leave custody once.
func (s *Store) EscapeToSelfCustody(ctx context.Context) (models.Wallet, error) {
	var out models.Wallet
	err := s.mutate(ctx, "escape_to_self_custody", func(snap snapshot, c *change) error {
		wallet := snap.wallet.Clone()
		if wallet.IsEscaped || wallet.Custody == models.CustodySelf {
			zap.L().Error("Rejected custody escape",
				zap.String("wallet_id", wallet.Id),
				zap.String("custody", string(wallet.Custody)))
			return fmt.Errorf("%w: wallet %s is already self-custodied", models.ErrInvalidTransition, wallet.Id)
		}
		if !wallet.IsBackedUp {
			return fmt.Errorf("%w: back up the wallet before leaving custody", models.ErrValidation)
		}
		wallet.Custody = models.CustodySelf
		wallet.IsEscaped = true
		wallet.EscapedAt = c.now.UTC()
		c.wallet = &wallet
		c.feed().Append(models.CategorySecurity, models.PriorityHigh,
			"Wallet moved to self-custody",
			fmt.Sprintf("%s is no longer protected by the custody service", wallet.Name),
			"/wallets/"+wallet.Id)
		out = wallet
		return nil
	})
	if err != nil {
		return models.Wallet{}, err
	}
	zap.L().Warn("Wallet escaped to self-custody", zap.String("wallet_id", out.Id))
	return out.Clone(), nil
}

func (s *Store) ListWallets(ctx context.Context) ([]models.Wallet, error) {
	snap := s.snapshot()
	if err := snap.requireAccount(); err != nil {
		return nil, err
	}
	return s.repo.ListWallets(ctx, snap.userId)
}

func (s *Store) ActiveWallet() (models.Wallet, error) {
	snap := s.snapshot()
	if err := snap.requireWallet(); err != nil {
		return models.Wallet{}, err
	}
	return snap.wallet.Clone(), nil
}

// view returns a read-only ledger over the committed state of the active wallet
func (s *Store) view() (*ledger.Ledger, snapshot, error) {
	snap := s.snapshot()
	if err := snap.requireWallet(); err != nil {
		return nil, snap, err
	}
	return ledger.New(snap.state, s.chains, s.chains, s.now), snap, nil
}

func (s *Store) Assets() ([]models.Asset, error) {
	snap := s.snapshot()
	if err := snap.requireWallet(); err != nil {
		return nil, err
	}
	return append([]models.Asset{}, snap.state.Assets...), nil
}

// AggregatedAssets rolls the active wallet's assets up by symbol
func (s *Store) AggregatedAssets() ([]models.AggregatedAsset, error) {
	snap := s.snapshot()
	if err := snap.requireWallet(); err != nil {
		return nil, err
	}
	return portfolio.Aggregate(snap.state.Assets), nil
}

func (s *Store) TotalValueUSD() (decimal.Decimal, error) {
	snap := s.snapshot()
	if err := snap.requireWallet(); err != nil {
		return decimal.Zero, err
	}
	return portfolio.TotalValueUSD(snap.state.Assets), nil
}

func (s *Store) Transactions() ([]models.Transaction, error) {
	l, _, err := s.view()
	if err != nil {
		return nil, err
	}
	return l.ListForWallet(), nil
}

// TransactionsForAsset lists the history of symbol; an empty chain matches all chains
func (s *Store) TransactionsForAsset(symbol, chainId string) ([]models.Transaction, error) {
	l, _, err := s.view()
	if err != nil {
		return nil, err
	}
	return l.ListForAsset(symbol, chainId), nil
}

func (s *Store) TransactionsForCounterparty(address string) ([]models.Transaction, error) {
	l, _, err := s.view()
	if err != nil {
		return nil, err
	}
	return l.ListForCounterparty(address), nil
}

func (s *Store) Transaction(id string) (models.Transaction, error) {
	l, _, err := s.view()
	if err != nil {
		return models.Transaction{}, err
	}
	return l.Get(id)
}

// ReceiveAddress returns the active wallet's address on chainId
func (s *Store) ReceiveAddress(chainId string) (string, error) {
	snap := s.snapshot()
	if err := snap.requireWallet(); err != nil {
		return "", err
	}
	if _, err := s.chains.Get(chainId); err != nil {
		return "", err
	}
	addr, ok := snap.wallet.Addresses[strings.ToLower(chainId)]
	if !ok {
		return "", fmt.Errorf("%w: wallet has no %s address", models.ErrNotFound, chainId)
	}
	return addr, nil
}

// ReceiveQR renders the active wallet's receive address on chainId as a PNG
func (s *Store) ReceiveQR(chainId string, size int) ([]byte, error) {
	addr, err := s.ReceiveAddress(chainId)
	if err != nil {
		return nil, err
	}
	return s.chains.ReceiveQR(chainId, addr, size)
}

func (s *Store) Contacts() ([]models.Contact, error) {
	snap := s.snapshot()
	if err := snap.requireWallet(); err != nil {
		return nil, err
	}
	return append([]models.Contact{}, snap.state.Contacts...), nil
}

// AddContact stores a new address book entry. Addresses are unique per wallet,
// compared case-insensitively.
func (s *Store) AddContact(ctx context.Context, contact models.Contact) (models.Contact, error) {
	contact.Id = uuid.New().String()
	err := s.mutate(ctx, "add_contact", func(_ snapshot, c *change) error {
		normalized, err := s.validateContact(c.state.Contacts, contact)
		if err != nil {
			return err
		}
		contact = normalized
		c.state.Contacts = append(c.state.Contacts, contact)
		return nil
	})
	if err != nil {
		return models.Contact{}, err
	}
	return contact, nil
}

// UpdateContact replaces the entry with contact.Id
func (s *Store) UpdateContact(ctx context.Context, contact models.Contact) (models.Contact, error) {
	err := s.mutate(ctx, "update_contact", func(_ snapshot, c *change) error {
		idx := contactIndex(c.state.Contacts, contact.Id)
		if idx < 0 {
			return fmt.Errorf("%w: contact %s", models.ErrNotFound, contact.Id)
		}
		normalized, err := s.validateContact(c.state.Contacts, contact)
		if err != nil {
			return err
		}
		normalized.LastUsedAt = c.state.Contacts[idx].LastUsedAt
		c.state.Contacts[idx] = normalized
		contact = normalized
		return nil
	})
	if err != nil {
		return models.Contact{}, err
	}
	return contact, nil
}

func (s *Store) RemoveContact(ctx context.Context, id string) error {
	return s.mutate(ctx, "remove_contact", func(_ snapshot, c *change) error {
		idx := contactIndex(c.state.Contacts, id)
		if idx < 0 {
			return fmt.Errorf("%w: contact %s", models.ErrNotFound, id)
		}
		c.state.Contacts = append(c.state.Contacts[:idx:idx], c.state.Contacts[idx+1:]...)
		return nil
	})
}

func (s *Store) validateContact(existing []models.Contact, contact models.Contact) (models.Contact, error) {
	contact.Name = strings.TrimSpace(contact.Name)
	contact.Address = strings.TrimSpace(contact.Address)
	contact.Chain = strings.ToLower(strings.TrimSpace(contact.Chain))
	if contact.Name == "" {
		return contact, fmt.Errorf("%w: contact name is required", models.ErrValidation)
	}
	if err := s.chains.ValidateAddress(contact.Chain, contact.Address); err != nil {
		return contact, err
	}
	for _, other := range existing {
		if other.Id != contact.Id && chains.SameAddress(other.Address, contact.Address) {
			return contact, fmt.Errorf("%w: %s is already saved as %s", models.ErrValidation, contact.Address, other.Name)
		}
	}
	return contact, nil
}

func contactIndex(contacts []models.Contact, id string) int {
	for i, c := range contacts {
		if c.Id == id {
			return i
		}
	}
	return -1
}

func findContact(contacts []models.Contact, address string) (models.Contact, bool) {
	for _, c := range contacts {
		if chains.SameAddress(c.Address, address) {
			return c, true
		}
	}
	return models.Contact{}, false
}
