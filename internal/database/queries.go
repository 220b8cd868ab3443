package database

const (
	// Wallet queries
	queryUpsertWallet = `
		INSERT INTO wallets (id, user_id, name, custody, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = CASE WHEN excluded.user_id = '' THEN wallets.user_id ELSE excluded.user_id END,
			name = excluded.name,
			custody = excluded.custody,
			data = excluded.data,
			updated_at = excluded.updated_at`

	queryListWallets = `
		SELECT data
		FROM wallets
		WHERE user_id = ?
		ORDER BY created_at, id`

	queryGetWallet = `
		SELECT data
		FROM wallets
		WHERE id = ?`

	// Wallet state queries (optimistic locking on version)
	queryGetWalletState = `
		SELECT data, version
		FROM wallet_states
		WHERE wallet_id = ?`

	queryInsertWalletState = `
		INSERT INTO wallet_states (wallet_id, data, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(wallet_id) DO NOTHING`

	queryUpdateWalletState = `
		UPDATE wallet_states
		SET data = ?, version = version + 1, updated_at = ?
		WHERE wallet_id = ? AND version = ?`

	// Account queries (optimistic locking on version)
	queryGetAccount = `
		SELECT data, version
		FROM accounts
		WHERE user_id = ?`

	queryInsertAccount = `
		INSERT INTO accounts (user_id, data, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(user_id) DO NOTHING`

	queryUpdateAccount = `
		UPDATE accounts
		SET data = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?`
)
