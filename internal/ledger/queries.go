package ledger

import (
	"fmt"
	"strings"

	"custody-wallet-core/internal/chains"
	"custody-wallet-core/internal/models"

	"github.com/shopspring/decimal"
)

// ListForWallet returns the full history, newest first
func (l *Ledger) ListForWallet() []models.Transaction {
	return l.filter(func(models.Transaction) bool { return true })
}

// ListForAsset returns transactions in symbol, optionally limited to one chain
func (l *Ledger) ListForAsset(symbol, chainId string) []models.Transaction {
	return l.filter(func(tx models.Transaction) bool {
		if !strings.EqualFold(tx.Symbol, symbol) {
			return false
		}
		return chainId == "" || strings.EqualFold(tx.Chain, chainId)
	})
}

// ListForCounterparty returns transactions with address, compared case-insensitively
func (l *Ledger) ListForCounterparty(address string) []models.Transaction {
	return l.filter(func(tx models.Transaction) bool {
		return chains.SameAddress(tx.Counterparty, address)
	})
}

func (l *Ledger) Get(id string) (models.Transaction, error) {
	tx := l.find(id)
	if tx == nil {
		return models.Transaction{}, fmt.Errorf("%w: transaction %s", models.ErrNotFound, id)
	}
	return tx.Clone(), nil
}

func (l *Ledger) FindByHash(hash string) (models.Transaction, bool) {
	for _, tx := range l.state.Transactions {
		if strings.EqualFold(tx.Hash, hash) {
			return tx.Clone(), true
		}
	}
	return models.Transaction{}, false
}

// FindReturned returns the flagged receive whose funds were sent back by the
// refund with refundHash.
func (l *Ledger) FindReturned(refundHash string) (models.Transaction, bool) {
	if refundHash == "" {
		return models.Transaction{}, false
	}
	for _, tx := range l.state.Transactions {
		if tx.Direction == models.DirectionReceive && strings.EqualFold(tx.DisposalTxHash, refundHash) {
			return tx.Clone(), true
		}
	}
	return models.Transaction{}, false
}

// Asset returns the balance record for (symbol, chain)
func (l *Ledger) Asset(symbol, chainId string) (models.Asset, bool) {
	idx := l.assetIndex(symbol, chainId)
	if idx < 0 {
		return models.Asset{}, false
	}
	return l.state.Assets[idx], true
}

// ValueOf prices amount of (symbol, chain) at the asset's current rate. The
// second result is false when no asset matches and amount is returned as is.
func (l *Ledger) ValueOf(symbol, chainId string, amount decimal.Decimal) (decimal.Decimal, bool) {
	idx := l.assetIndex(symbol, chainId)
	if idx < 0 {
		return amount, false
	}
	return proRata(l.state.Assets[idx], amount, amount), true
}

func (l *Ledger) filter(keep func(models.Transaction) bool) []models.Transaction {
	out := make([]models.Transaction, 0)
	for _, tx := range l.state.Transactions {
		if keep(tx) {
			out = append(out, tx.Clone())
		}
	}
	return out
}
