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

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"custody-wallet-core/internal/chains"
	"custody-wallet-core/internal/ledger"
	"custody-wallet-core/internal/limits"
	"custody-wallet-core/internal/metrics"
	"custody-wallet-core/internal/models"
	"custody-wallet-core/internal/notify"
	"custody-wallet-core/internal/psp"
	"custody-wallet-core/internal/risk"
	"custody-wallet-core/internal/store"

	"go.uber.org/zap"
)

const defaultIdempotencyWindow = 24 * time.Hour

// errNoChange aborts a mutation that turned out to have nothing to commit
var errNoChange = errors.New("no change")

// Scanner screens counterparty addresses before money moves
type Scanner interface {
	ScanAddress(ctx context.Context, address string) (models.Assessment, error)
	Prune() int
}

// Dependencies are the collaborators a Store is built from. Metrics and Now
// are optional.
type Dependencies struct {
	Repo      store.WalletRepository
	Chains    *chains.Catalog
	Providers *psp.Catalog
	Scanner   Scanner
	Metrics   *metrics.SessionMetrics
	Now       func() time.Time
}

// snapshot is the committed view of the signed-in account. Its members are
// never written after they are published; mutations work on clones.
type snapshot struct {
	userId   string
	deviceId string
	wallet   *models.Wallet
	state    *models.WalletState
	account  *models.AccountState
}

func (s snapshot) requireAccount() error {
	if s.account == nil {
		return models.ErrNotSignedIn
	}
	return nil
}

func (s snapshot) requireWallet() error {
	if err := s.requireAccount(); err != nil {
		return err
	}
	if s.wallet == nil || s.state == nil {
		return models.ErrNoActiveWallet
	}
	return nil
}

type idempotencyEntry struct {
	result   interface{}
	storedAt time.Time
}

// Store is the only writer of wallet and account state. Mutations are
// serialised; each one works on a clone, waits for the network, commits
// through the repository and only then publishes the new snapshot. Reads
// never wait for a mutation in flight.
type Store struct {
	session models.SessionConfig
	limits  models.LimitsConfig

	repo      store.WalletRepository
	chains    *chains.Catalog
	providers *psp.Catalog
	scanner   Scanner
	metrics   *metrics.SessionMetrics
	now       func() time.Time

	writeMu     sync.Mutex
	idempotency map[string]idempotencyEntry

	mu   sync.RWMutex
	snap snapshot
}

func New(cfg *models.Config, deps Dependencies) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Repo == nil || deps.Chains == nil || deps.Providers == nil || deps.Scanner == nil {
		return nil, fmt.Errorf("repository, chain catalog, provider catalog and scanner are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	sessionCfg := cfg.Session
	if sessionCfg.IdempotencyWindow <= 0 {
		sessionCfg.IdempotencyWindow = defaultIdempotencyWindow
	}
	return &Store{
		session:     sessionCfg,
		limits:      cfg.Limits,
		repo:        deps.Repo,
		chains:      deps.Chains,
		providers:   deps.Providers,
		scanner:     deps.Scanner,
		metrics:     deps.Metrics,
		now:         deps.Now,
		idempotency: make(map[string]idempotencyEntry),
	}, nil
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// UserId returns the signed-in user, or "" when signed out
func (s *Store) UserId() string {
	return s.snapshot().userId
}

// Login loads the account of userId, creating it on first use, and restores
// the wallet that was active last. Signing in from a device the account has
// not seen before raises a security notification.
func (s *Store) Login(ctx context.Context, userId, deviceId string) error {
	userId = strings.TrimSpace(userId)
	deviceId = strings.TrimSpace(deviceId)
	if userId == "" || deviceId == "" {
		return fmt.Errorf("%w: user and device are required", models.ErrValidation)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now()
	account, err := s.repo.LoadAccount(ctx, userId)
	switch {
	case errors.Is(err, store.ErrNotFound):
		zap.L().Info("Creating account", zap.String("user_id", userId))
		account = &models.AccountState{
			UserId:        userId,
			Security:      limits.NewSecurityConfig(s.limits, now),
			Connections:   []models.PSPConnection{},
			Notifications: []models.Notification{},
			KnownDevices:  make(map[string]time.Time),
		}
	case err != nil:
		return fmt.Errorf("failed to load account: %w", err)
	}
	if account.KnownDevices == nil {
		account.KnownDevices = make(map[string]time.Time)
	}

	if _, known := account.KnownDevices[deviceId]; !known && len(account.KnownDevices) > 0 {
		notify.New(&account.Notifications, func() time.Time { return now }).Append(
			models.CategorySecurity, models.PriorityHigh,
			"New device signed in",
			fmt.Sprintf("Your account was accessed from device %s", deviceId),
			"/settings/devices")
		zap.L().Warn("Sign-in from new device",
			zap.String("user_id", userId),
			zap.String("device_id", deviceId))
	}
	account.KnownDevices[deviceId] = now.UTC()

	active := &activation{}
	wallets, err := s.repo.ListWallets(ctx, userId)
	if err != nil {
		return fmt.Errorf("failed to list wallets: %w", err)
	}
	if len(wallets) > 0 {
		chosen := wallets[0]
		for _, w := range wallets {
			if w.Id == account.ActiveWalletId {
				chosen = w
				break
			}
		}
		state, err := s.repo.LoadState(ctx, chosen.Id)
		if err != nil {
			return fmt.Errorf("failed to load wallet state: %w", err)
		}
		active.wallet = &chosen
		active.state = state
		account.ActiveWalletId = chosen.Id
	}

	base := snapshot{userId: userId, deviceId: deviceId}
	if err := s.commit(ctx, "login", base, &change{account: account, now: now, activate: active}); err != nil {
		return err
	}
	s.idempotency = make(map[string]idempotencyEntry)

	zap.L().Info("Signed in",
		zap.String("user_id", userId),
		zap.String("device_id", deviceId),
		zap.Int("wallets", len(wallets)))
	return nil
}

// Logout drops the in-memory session. Persisted state is untouched.
func (s *Store) Logout() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	userId := s.snap.userId
	s.snap = snapshot{}
	s.mu.Unlock()
	s.idempotency = make(map[string]idempotencyEntry)

	zap.L().Info("Signed out", zap.String("user_id", userId))
}

// activation replaces the active wallet once a change is committed. A zero
// activation clears it.
type activation struct {
	wallet *models.Wallet
	state  *models.WalletState
}

// change is the working copy of one mutation. Nil members are not committed.
type change struct {
	wallet   *models.Wallet
	state    *models.WalletState
	account  *models.AccountState
	now      time.Time
	activate *activation
}

func (c *change) clock() time.Time {
	return c.now
}

func (c *change) ledger(s *Store) *ledger.Ledger {
	return ledger.New(c.state, s.chains, s.chains, c.clock)
}

func (c *change) feed() *notify.Feed {
	return notify.New(&c.account.Notifications, c.clock)
}

func (c *change) enforcer() *limits.Enforcer {
	return limits.New(&c.account.Security)
}

func (c *change) connections(s *Store) *psp.Manager {
	return psp.New(s.providers, &c.account.Connections, c.clock)
}

// mutate runs fn against clones of the active wallet state and the account,
// then commits both.
func (s *Store) mutate(ctx context.Context, op string, fn func(snap snapshot, c *change) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.mutateLocked(ctx, op, fn)
}

func (s *Store) mutateLocked(ctx context.Context, op string, fn func(snap snapshot, c *change) error) error {
	snap := s.snapshot()
	if err := snap.requireWallet(); err != nil {
		return err
	}
	c := &change{
		state:   snap.state.Clone(),
		account: snap.account.Clone(),
		now:     s.now(),
	}
	if err := fn(snap, c); err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}
	return s.commit(ctx, op, snap, c)
}

// mutateAccount is mutate for changes that need no wallet
func (s *Store) mutateAccount(ctx context.Context, op string, fn func(c *change) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.mutateAccountLocked(ctx, op, fn)
}

func (s *Store) mutateAccountLocked(ctx context.Context, op string, fn func(c *change) error) error {
	snap := s.snapshot()
	if err := snap.requireAccount(); err != nil {
		return err
	}
	c := &change{account: snap.account.Clone(), now: s.now()}
	if err := fn(c); err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}
	return s.commit(ctx, op, snap, c)
}

// commit waits for the network, persists c and publishes the next snapshot.
// Nothing is published when any step fails.
func (s *Store) commit(ctx context.Context, op string, base snapshot, c *change) error {
	if err := s.awaitNetwork(ctx); err != nil {
		zap.L().Warn("Abandoned state change",
			zap.String("operation", op),
			zap.Error(err))
		return err
	}

	start := time.Now()
	err := s.repo.Commit(ctx, store.Changes{
		UserId:  base.userId,
		Wallet:  c.wallet,
		State:   c.state,
		Account: c.account,
	})
	s.metrics.ObserveCommit(op, time.Since(start))
	if err != nil {
		zap.L().Error("Failed to commit state change",
			zap.String("operation", op),
			zap.String("user_id", base.userId),
			zap.Error(err))
		return fmt.Errorf("failed to commit %s: %w", op, err)
	}

	next := base
	if c.account != nil {
		next.account = c.account
	}
	if c.activate != nil {
		next.wallet = c.activate.wallet
		next.state = c.activate.state
	} else {
		if c.state != nil && base.state != nil && c.state.WalletId == base.state.WalletId {
			next.state = c.state
		}
		if c.wallet != nil && base.wallet != nil && c.wallet.Id == base.wallet.Id {
			next.wallet = c.wallet
		}
	}

	s.mu.Lock()
	s.snap = next
	s.mu.Unlock()

	if next.userId != "" {
		if summary, err := s.accountSummary(ctx, next); err == nil {
			s.metrics.SetPendingRisk(summary.PendingRiskCount)
		} else {
			zap.L().Warn("Unable to refresh pending risk gauge", zap.Error(err))
		}
	}
	return nil
}

// awaitNetwork stands in for the round trip to the custody backend
func (s *Store) awaitNetwork(ctx context.Context) error {
	if s.session.NetworkLatency <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: request abandoned: %w", models.ErrNetwork, err)
		}
		return nil
	}
	timer := time.NewTimer(s.session.NetworkLatency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: request abandoned: %w", models.ErrNetwork, ctx.Err())
	}
}

// replay returns the stored result for key within the idempotency window.
// Callers hold writeMu.
func (s *Store) replay(scope, key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}
	entry, ok := s.idempotency[scope+"/"+key]
	if !ok || s.now().Sub(entry.storedAt) > s.session.IdempotencyWindow {
		return nil, false
	}
	s.metrics.ObserveIdempotentReplay()
	zap.L().Info("Replaying idempotent request",
		zap.String("scope", scope),
		zap.String("idempotency_key", key))
	return entry.result, true
}

func (s *Store) remember(scope, key string, result interface{}) {
	if key == "" {
		return
	}
	s.idempotency[scope+"/"+key] = idempotencyEntry{result: result, storedAt: s.now()}
}

func (s *Store) pruneIdempotency(now time.Time) int {
	pruned := 0
	for key, entry := range s.idempotency {
		if now.Sub(entry.storedAt) > s.session.IdempotencyWindow {
			delete(s.idempotency, key)
			pruned++
		}
	}
	return pruned
}

// accountSummary derives the risk status over every wallet of the account,
// reading the active wallet from snap and the others from the repository.
func (s *Store) accountSummary(ctx context.Context, snap snapshot) (models.AccountRiskSummary, error) {
	wallets, err := s.repo.ListWallets(ctx, snap.userId)
	if err != nil {
		return models.AccountRiskSummary{}, fmt.Errorf("failed to list wallets: %w", err)
	}
	var txs []models.Transaction
	if snap.state != nil {
		txs = append(txs, snap.state.Transactions...)
	}
	for _, w := range wallets {
		if snap.state != nil && w.Id == snap.state.WalletId {
			continue
		}
		state, err := s.repo.LoadState(ctx, w.Id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return models.AccountRiskSummary{}, fmt.Errorf("failed to load wallet state: %w", err)
		}
		txs = append(txs, state.Transactions...)
	}
	return risk.Summarize(txs), nil
}

func (s *Store) ownedWallet(ctx context.Context, userId, walletId string) (*models.Wallet, error) {
	wallets, err := s.repo.ListWallets(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	for _, w := range wallets {
		if w.Id == walletId {
			return &w, nil
		}
	}
	return nil, fmt.Errorf("%w: wallet %s", models.ErrNotFound, walletId)
}
