package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"custody-wallet-core/internal/models"
	"custody-wallet-core/internal/store"
)

func (s *Service) ListWallets(ctx context.Context, userId string) ([]models.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, queryListWallets, userId)
	if err != nil {
		return nil, fmt.Errorf("unable to query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []models.Wallet
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("unable to scan wallet: %w", err)
		}
		var w models.Wallet
		if err := json.Unmarshal([]byte(data), &w); err != nil {
			return nil, fmt.Errorf("unable to decode wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallets: %w", err)
	}
	return wallets, nil
}

func (s *Service) GetWallet(ctx context.Context, walletId string) (*models.Wallet, error) {
	var data string
	err := s.db.QueryRowContext(ctx, queryGetWallet, walletId).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: wallet %s", store.ErrNotFound, walletId)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query wallet: %w", err)
	}

	var w models.Wallet
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, fmt.Errorf("unable to decode wallet %s: %w", walletId, err)
	}
	return &w, nil
}
