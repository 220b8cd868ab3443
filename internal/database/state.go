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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"custody-wallet-core/internal/models"
	"custody-wallet-core/internal/store"

	"go.uber.org/zap"
)

func (s *Service) LoadState(ctx context.Context, walletId string) (*models.WalletState, error) {
	var data string
	var version int64
	err := s.db.QueryRowContext(ctx, queryGetWalletState, walletId).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: state of wallet %s", store.ErrNotFound, walletId)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query wallet state: %w", err)
	}

	state := &models.WalletState{}
	if err := json.Unmarshal([]byte(data), state); err != nil {
		return nil, fmt.Errorf("unable to decode state of wallet %s: %w", walletId, err)
	}
	state.Version = version
	return state, nil
}

func (s *Service) LoadAccount(ctx context.Context, userId string) (*models.AccountState, error) {
	var data string
	var version int64
	err := s.db.QueryRowContext(ctx, queryGetAccount, userId).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", store.ErrNotFound, userId)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query account: %w", err)
	}

	account := &models.AccountState{}
	if err := json.Unmarshal([]byte(data), account); err != nil {
		return nil, fmt.Errorf("unable to decode account %s: %w", userId, err)
	}
	account.Version = version
	return account, nil
}

// Commit writes all changes in one database transaction
func (s *Service) Commit(ctx context.Context, changes store.Changes) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	if w := changes.Wallet; w != nil {
		data, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("unable to encode wallet %s: %w", w.Id, err)
		}
		_, err = tx.ExecContext(ctx, queryUpsertWallet,
			w.Id, changes.UserId, w.Name, string(w.Custody), string(data), w.CreatedAt.UTC(), now)
		if err != nil {
			return fmt.Errorf("failed to save wallet: %w", err)
		}
	}

	if st := changes.State; st != nil {
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("unable to encode state of wallet %s: %w", st.WalletId, err)
		}
		if err := saveVersioned(ctx, tx, "wallet state "+st.WalletId, st.Version,
			queryInsertWalletState, []interface{}{st.WalletId, string(data), now},
			queryUpdateWalletState, []interface{}{string(data), now, st.WalletId, st.Version}); err != nil {
			return err
		}
	}

	if acc := changes.Account; acc != nil {
		data, err := json.Marshal(acc)
		if err != nil {
			return fmt.Errorf("unable to encode account %s: %w", acc.UserId, err)
		}
		if err := saveVersioned(ctx, tx, "account "+acc.UserId, acc.Version,
			queryInsertAccount, []interface{}{acc.UserId, string(data), now},
			queryUpdateAccount, []interface{}{string(data), now, acc.UserId, acc.Version}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if changes.State != nil {
		changes.State.Version++
	}
	if changes.Account != nil {
		changes.Account.Version++
	}
	return nil
}

// saveVersioned inserts the first version of a record or updates it only if
// the stored version still equals expected.
func saveVersioned(ctx context.Context, tx *sql.Tx, what string, expected int64,
	insertQuery string, insertArgs []interface{}, updateQuery string, updateArgs []interface{}) error {

	query, args := updateQuery, updateArgs
	if expected == 0 {
		query, args = insertQuery, insertArgs
	}
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", what, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		zap.L().Warn("Optimistic lock conflict", zap.String("record", what), zap.Int64("expected_version", expected))
		return fmt.Errorf("%s update failed - %w", what, store.ErrConcurrentModification)
	}
	return nil
}
