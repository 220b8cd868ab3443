package models

import "time"

// WalletState is everything owned by one wallet: assets, ledger and contacts.
// Transactions are kept newest first.
type WalletState struct {
	WalletId     string        `json:"wallet_id"`
	Assets       []Asset       `json:"assets"`
	Transactions []Transaction `json:"transactions"`
	Contacts     []Contact     `json:"contacts"`
	Version      int64         `json:"version"`
}

// Clone returns a deep copy so a mutation can be prepared without touching the original
func (s *WalletState) Clone() *WalletState {
	if s == nil {
		return nil
	}
	out := &WalletState{
		WalletId:     s.WalletId,
		Assets:       append([]Asset(nil), s.Assets...),
		Transactions: make([]Transaction, len(s.Transactions)),
		Contacts:     append([]Contact(nil), s.Contacts...),
		Version:      s.Version,
	}
	for i, tx := range s.Transactions {
		out.Transactions[i] = tx.Clone()
	}
	return out
}

// AccountState is the account-wide state shared by all wallets of a user
type AccountState struct {
	UserId         string               `json:"user_id"`
	Security       SecurityConfig       `json:"security"`
	Connections    []PSPConnection      `json:"connections"`
	Notifications  []Notification       `json:"notifications"`
	KnownDevices   map[string]time.Time `json:"known_devices"`
	ActiveWalletId string               `json:"active_wallet_id,omitempty"`
	Version        int64                `json:"version"`
}

// Clone returns a deep copy of the account state
func (a *AccountState) Clone() *AccountState {
	if a == nil {
		return nil
	}
	out := *a
	out.Connections = make([]PSPConnection, len(a.Connections))
	for i, c := range a.Connections {
		out.Connections[i] = c.Clone()
	}
	out.Notifications = append([]Notification(nil), a.Notifications...)
	out.KnownDevices = make(map[string]time.Time, len(a.KnownDevices))
	for id, seen := range a.KnownDevices {
		out.KnownDevices[id] = seen
	}
	return &out
}
