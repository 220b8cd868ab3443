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

package ledger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"custody-wallet-core/internal/chains"
	"custody-wallet-core/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FeeOracle prices new and replacement transactions
type FeeOracle interface {
	Quote(chainId string, tier models.FeeTier) (chains.FeeQuote, error)
	BumpQuote(chainId string, previous decimal.Decimal, tier models.FeeTier) (chains.FeeQuote, error)
}

// Hasher produces synthetic transaction hashes
type Hasher interface {
	TxHash(chainId string, parts ...string) string
}

// Ledger owns the transaction history and asset balances of one wallet.
// Operations mutate the wrapped state in place; every validation runs before
// the first write, so a failed call leaves the state untouched.
type Ledger struct {
	state  *models.WalletState
	fees   FeeOracle
	hasher Hasher
	now    func() time.Time
}

func New(state *models.WalletState, fees FeeOracle, hasher Hasher, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		state:  state,
		fees:   fees,
		hasher: hasher,
		now:    now,
	}
}

// State returns the wrapped wallet state
func (l *Ledger) State() *models.WalletState {
	return l.state
}

// SubmitParams describes an outgoing transfer
type SubmitParams struct {
	To              string
	Amount          decimal.Decimal
	Symbol          string
	Chain           string
	Memo            string
	FeeTier         models.FeeTier
	Kind            models.TransactionKind
	PSPConnectionId string
}

// Receipt is the outcome of Submit. Inconsistent is set when no asset matched
// (symbol, chain): the USD value then falls back to the amount and no balance
// was changed.
type Receipt struct {
	Transaction  models.Transaction
	Inconsistent bool
}

// Submit records a pending send, debits the matching asset and inserts the
// transaction into the newest-first history.
func (l *Ledger) Submit(p SubmitParams) (Receipt, error) {
	if !p.Amount.IsPositive() {
		return Receipt{}, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	if strings.TrimSpace(p.To) == "" {
		return Receipt{}, fmt.Errorf("%w: destination is required", models.ErrValidation)
	}
	if p.Kind == "" {
		p.Kind = models.KindTransfer
	}
	if p.Kind == models.KindCancellation {
		return Receipt{}, fmt.Errorf("%w: cancellations are created with Cancel", models.ErrValidation)
	}
	chainId := strings.ToLower(p.Chain)
	symbol := strings.ToUpper(p.Symbol)

	quote, err := l.fees.Quote(chainId, p.FeeTier)
	if err != nil {
		return Receipt{}, err
	}

	idx := l.assetIndex(symbol, chainId)
	valueUSD := p.Amount
	if idx >= 0 {
		asset := l.state.Assets[idx]
		if asset.Balance.LessThan(p.Amount) {
			return Receipt{}, fmt.Errorf("%w: insufficient %s balance on %s: have %s, need %s",
				models.ErrValidation, symbol, chainId, asset.Balance, p.Amount)
		}
		valueUSD = proRata(asset, p.Amount, p.Amount)
	}

	now := l.now()
	id := uuid.New().String()
	nonce := l.nextNonce(chainId)
	tx := models.Transaction{
		Id:           id,
		Direction:    models.DirectionSend,
		Kind:         p.Kind,
		Amount:       p.Amount,
		Symbol:       symbol,
		ValueUSD:     valueUSD,
		Counterparty: strings.TrimSpace(p.To),
		Chain:        chainId,
		Timestamp:    now,
		Hash:         l.hasher.TxHash(chainId, l.state.WalletId, strconv.FormatUint(nonce, 10), id),
		Memo:         p.Memo,
		Status:       models.StatusPending,
		Nonce:        nonce,
		IsRbfEnabled: quote.RbfEnabled,
		GasPrice:     quote.GasPrice,
		GasAmount:    quote.GasAmount,
		GasToken:     quote.GasToken,
		FeeTier:      quote.Tier,

		PSPConnectionId: p.PSPConnectionId,
	}

	if idx >= 0 {
		asset := &l.state.Assets[idx]
		asset.Balance = asset.Balance.Sub(p.Amount)
		asset.ValueUSD = asset.ValueUSD.Sub(valueUSD)
	} else {
		zap.L().Warn("No asset matches submitted transfer, using amount as USD value",
			zap.String("wallet_id", l.state.WalletId),
			zap.String("symbol", symbol),
			zap.String("chain", chainId),
			zap.String("amount", p.Amount.String()))
	}
	l.insertByTime(tx)

	if err := l.checkNonceInvariant(chainId, nonce); err != nil {
		return Receipt{}, err
	}
	return Receipt{Transaction: tx.Clone(), Inconsistent: idx < 0}, nil
}

// Ingest records an incoming transaction and credits the asset when confirmed
func (l *Ledger) Ingest(tx models.Transaction) (models.Transaction, error) {
	if tx.Direction != models.DirectionReceive {
		return models.Transaction{}, fmt.Errorf("%w: only receives can be ingested", models.ErrValidation)
	}
	if tx.Hash == "" {
		return models.Transaction{}, fmt.Errorf("%w: transaction hash is required", models.ErrValidation)
	}
	if !tx.Amount.IsPositive() {
		return models.Transaction{}, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	if tx.Status != models.StatusConfirmed && tx.Status != models.StatusFailed {
		return models.Transaction{}, fmt.Errorf("%w: ingested transactions must be confirmed or failed", models.ErrValidation)
	}
	if _, found := l.FindByHash(tx.Hash); found {
		return models.Transaction{}, fmt.Errorf("%w: hash %s", models.ErrDuplicateTransaction, tx.Hash)
	}

	tx = tx.Clone()
	tx.Chain = strings.ToLower(tx.Chain)
	tx.Symbol = strings.ToUpper(tx.Symbol)
	if tx.Kind == "" {
		tx.Kind = models.KindTransfer
	}
	if tx.Id == "" {
		tx.Id = uuid.New().String()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = l.now()
	}
	if tx.Status == models.StatusConfirmed {
		if tx.ConfirmedAt.IsZero() {
			tx.ConfirmedAt = tx.Timestamp
		}
		if idx := l.assetIndex(tx.Symbol, tx.Chain); idx >= 0 {
			if tx.ValueUSD.IsZero() {
				tx.ValueUSD = proRata(l.state.Assets[idx], tx.Amount, decimal.Zero)
			}
			l.credit(idx, tx.Amount, tx.ValueUSD)
		} else {
			l.state.Assets = append(l.state.Assets, models.Asset{
				Symbol:   tx.Symbol,
				Name:     tx.Symbol,
				Chain:    tx.Chain,
				Balance:  tx.Amount,
				ValueUSD: tx.ValueUSD,
			})
		}
	}
	l.insertByTime(tx)
	return tx.Clone(), nil
}

// MarkConfirmed moves a live pending transaction to confirmed. A confirmed
// cancellation returns the cancelled amount to the asset.
func (l *Ledger) MarkConfirmed(id string) (models.Transaction, error) {
	tx, err := l.pending(id)
	if err != nil {
		return models.Transaction{}, err
	}
	tx.Status = models.StatusConfirmed
	tx.ConfirmedAt = l.now()
	if tx.Kind == models.KindCancellation && tx.CancelledAmount.IsPositive() {
		l.refund(*tx, tx.CancelledAmount)
	}
	return tx.Clone(), nil
}

// MarkFailed moves a live pending transaction to failed and credits back
// everything it was holding.
func (l *Ledger) MarkFailed(id, reason string) (models.Transaction, error) {
	tx, err := l.pending(id)
	if err != nil {
		return models.Transaction{}, err
	}
	tx.Status = models.StatusFailed
	tx.FailureReason = reason
	if tx.Direction == models.DirectionSend {
		if held := tx.Amount.Add(tx.CancelledAmount); held.IsPositive() {
			l.refund(*tx, held)
		}
	}
	return tx.Clone(), nil
}

func (l *Ledger) pending(id string) (*models.Transaction, error) {
	tx := l.find(id)
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction %s", models.ErrNotFound, id)
	}
	if tx.Status != models.StatusPending || !tx.IsLive() {
		zap.L().Error("Rejected status transition",
			zap.String("transaction_id", id),
			zap.String("status", string(tx.Status)),
			zap.String("replaced_by", tx.ReplacedBy))
		return nil, fmt.Errorf("%w: transaction %s is %s", models.ErrInvalidTransition, id, tx.Status)
	}
	return tx, nil
}

// Apply runs fn against the stored transaction. fn must validate before it
// writes; an error leaves the transaction as it was.
func (l *Ledger) Apply(id string, fn func(tx *models.Transaction) error) (models.Transaction, error) {
	tx := l.find(id)
	if tx == nil {
		return models.Transaction{}, fmt.Errorf("%w: transaction %s", models.ErrNotFound, id)
	}
	working := tx.Clone()
	if err := fn(&working); err != nil {
		return models.Transaction{}, err
	}
	*tx = working
	return working.Clone(), nil
}

func (l *Ledger) credit(idx int, amount, valueUSD decimal.Decimal) {
	asset := &l.state.Assets[idx]
	asset.Balance = asset.Balance.Add(amount)
	asset.ValueUSD = asset.ValueUSD.Add(valueUSD)
}

// refund credits amount back to the asset tx was drawn from, priced at the
// asset's current rate or, for an empty asset, at the originating transfer's rate.
func (l *Ledger) refund(tx models.Transaction, amount decimal.Decimal) {
	idx := l.assetIndex(tx.Symbol, tx.Chain)
	if idx < 0 {
		zap.L().Warn("No asset to credit back",
			zap.String("transaction_id", tx.Id),
			zap.String("symbol", tx.Symbol),
			zap.String("chain", tx.Chain))
		return
	}
	origin := l.origin(tx)
	fallback := amount
	if origin.Amount.IsPositive() {
		fallback = amount.Mul(origin.ValueUSD).Div(origin.Amount)
	}
	l.credit(idx, amount, proRata(l.state.Assets[idx], amount, fallback))
}

// origin follows Replaces back to the first transaction of a nonce slot
func (l *Ledger) origin(tx models.Transaction) models.Transaction {
	for tx.Replaces != "" {
		prev := l.find(tx.Replaces)
		if prev == nil {
			break
		}
		tx = *prev
	}
	return tx
}

func proRata(asset models.Asset, amount, fallback decimal.Decimal) decimal.Decimal {
	if !asset.Balance.IsPositive() {
		return fallback
	}
	return asset.ValueUSD.Mul(amount).Div(asset.Balance).Round(8)
}

func (l *Ledger) assetIndex(symbol, chainId string) int {
	for i, a := range l.state.Assets {
		if strings.EqualFold(a.Symbol, symbol) && strings.EqualFold(a.Chain, chainId) {
			return i
		}
	}
	return -1
}

func (l *Ledger) find(id string) *models.Transaction {
	for i := range l.state.Transactions {
		if l.state.Transactions[i].Id == id {
			return &l.state.Transactions[i]
		}
	}
	return nil
}

func (l *Ledger) insertByTime(tx models.Transaction) {
	txs := l.state.Transactions
	i := sort.Search(len(txs), func(i int) bool {
		return !txs[i].Timestamp.After(tx.Timestamp)
	})
	txs = append(txs, models.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	l.state.Transactions = txs
}
