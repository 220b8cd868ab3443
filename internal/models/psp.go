package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Capability is one grantable PSP permission
type Capability uint8

const (
	CapReadBalance Capability = 1 << iota
	CapReadHistory
	CapDeposit
	CapWithdraw
	CapConvert
)

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapReadBalance, "read_balance"},
	{CapReadHistory, "read_history"},
	{CapDeposit, "deposit"},
	{CapWithdraw, "withdraw"},
	{CapConvert, "convert"},
}

func (c Capability) String() string {
	for _, n := range capabilityNames {
		if n.cap == c {
			return n.name
		}
	}
	return fmt.Sprintf("capability(%d)", uint8(c))
}

// CapabilitySet is a closed set of capability flags
type CapabilitySet uint8

// ParseCapabilities converts service names into a set. Unknown names are rejected.
func ParseCapabilities(names []string) (CapabilitySet, error) {
	var set CapabilitySet
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		found := false
		for _, n := range capabilityNames {
			if n.name == name {
				set |= CapabilitySet(n.cap)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: unknown capability %q", ErrValidation, raw)
		}
	}
	return set, nil
}

func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var set CapabilitySet
	for _, c := range caps {
		set |= CapabilitySet(c)
	}
	return set
}

func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

func (s CapabilitySet) IsEmpty() bool {
	return s == 0
}

// SubsetOf reports whether every flag in s is also in other
func (s CapabilitySet) SubsetOf(other CapabilitySet) bool {
	return s&^other == 0
}

func (s CapabilitySet) Names() []string {
	names := make([]string, 0, len(capabilityNames))
	for _, n := range capabilityNames {
		if s.Has(n.cap) {
			names = append(names, n.name)
		}
	}
	return names
}

func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	set, err := ParseCapabilities(names)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// PSPProvider is a catalog entry for a payment service provider
type PSPProvider struct {
	Id                string              `json:"id"`
	Name              string              `json:"name"`
	AvailableServices CapabilitySet       `json:"available_services"`
	RequiresReview    bool                `json:"requires_review"`
	Addresses         map[string][]string `json:"addresses"` // chain -> provider-owned addresses
	ConnectionTTL     time.Duration       `json:"connection_ttl"`
}

type PSPStatus string

const (
	PSPPending   PSPStatus = "pending"
	PSPActive    PSPStatus = "active"
	PSPSuspended PSPStatus = "suspended"
	PSPRejected  PSPStatus = "rejected"
	PSPExpired   PSPStatus = "expired"
)

// PSPUsage tracks transfers attributed to a connection
type PSPUsage struct {
	TransferCount int             `json:"transfer_count"`
	VolumeUSD     decimal.Decimal `json:"volume_usd"`
	LastUsedAt    time.Time       `json:"last_used_at,omitempty"`
}

// PSPRejection describes why a connection request was refused
type PSPRejection struct {
	Reason       string    `json:"reason"`
	RejectedAt   time.Time `json:"rejected_at"`
	CanReapply   bool      `json:"can_reapply"`
	ReapplyAfter time.Time `json:"reapply_after,omitempty"`
}

// PSPStatusChange is one recorded state machine transition
type PSPStatusChange struct {
	From PSPStatus `json:"from"`
	To   PSPStatus `json:"to"`
	At   time.Time `json:"at"`
}

// PSPConnection is the link between the account and a provider
type PSPConnection struct {
	Id          string              `json:"id"`
	ProviderId  string              `json:"provider_id"`
	Name        string              `json:"name"`
	Status      PSPStatus           `json:"status"`
	ConnectedAt time.Time           `json:"connected_at"`
	ExpiresAt   time.Time           `json:"expires_at,omitempty"`
	Permissions CapabilitySet       `json:"permissions"`
	Usage       PSPUsage            `json:"usage"`
	Rejection   *PSPRejection       `json:"rejection,omitempty"`
	Addresses   map[string][]string `json:"addresses,omitempty"`
	History     []PSPStatusChange   `json:"history,omitempty"`
}

// Clone returns a deep copy of the connection
func (c PSPConnection) Clone() PSPConnection {
	out := c
	if c.Rejection != nil {
		r := *c.Rejection
		out.Rejection = &r
	}
	out.Addresses = make(map[string][]string, len(c.Addresses))
	for chain, addrs := range c.Addresses {
		out.Addresses[chain] = append([]string(nil), addrs...)
	}
	out.History = append([]PSPStatusChange(nil), c.History...)
	return out
}

// PSPMatch is the result of checking whether an address belongs to a connected PSP
type PSPMatch struct {
	IsPSP        bool   `json:"is_psp"`
	PSPName      string `json:"psp_name,omitempty"`
	ConnectionId string `json:"connection_id,omitempty"`
}
