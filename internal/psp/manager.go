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

package psp

import (
	"fmt"
	"strings"
	"time"

	"custody-wallet-core/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Manager runs the connection state machine over an account's connection list:
//
//	pending -> active <-> suspended
//	pending -> rejected -> pending (reapply)
//	active  -> expired
//
// Disconnect removes an active or suspended record entirely.
type Manager struct {
	catalog *Catalog
	conns   *[]models.PSPConnection
	now     func() time.Time
}

func New(catalog *Catalog, conns *[]models.PSPConnection, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{catalog: catalog, conns: conns, now: now}
}

// Connect links the account to providerId with the given permissions. Providers
// that require review start pending; the others are active immediately.
func (m *Manager) Connect(providerId string, permissions models.CapabilitySet) (models.PSPConnection, error) {
	provider, ok := m.catalog.Get(providerId)
	if !ok {
		return models.PSPConnection{}, fmt.Errorf("%w: unknown provider %q", models.ErrValidation, providerId)
	}
	if permissions.IsEmpty() {
		return models.PSPConnection{}, fmt.Errorf("%w: at least one permission is required", models.ErrValidation)
	}
	if !permissions.SubsetOf(provider.AvailableServices) {
		extra := permissions &^ provider.AvailableServices
		return models.PSPConnection{}, fmt.Errorf("%w: %s does not offer %s",
			models.ErrValidation, provider.Name, strings.Join(extra.Names(), ", "))
	}
	for _, c := range *m.conns {
		if c.ProviderId != providerId {
			continue
		}
		switch c.Status {
		case models.PSPPending, models.PSPActive, models.PSPSuspended:
			return models.PSPConnection{}, fmt.Errorf("%w: already connected to %s", models.ErrValidation, provider.Name)
		case models.PSPRejected:
			return models.PSPConnection{}, fmt.Errorf("%w: connection to %s was rejected, reapply instead", models.ErrValidation, provider.Name)
		}
	}

	now := m.now()
	conn := models.PSPConnection{
		Id:          uuid.New().String(),
		ProviderId:  provider.Id,
		Name:        provider.Name,
		ConnectedAt: now,
		Permissions: permissions,
		Usage:       models.PSPUsage{VolumeUSD: decimal.Zero},
		Addresses:   make(map[string][]string, len(provider.Addresses)),
	}
	for chain, addrs := range provider.Addresses {
		conn.Addresses[chain] = append([]string(nil), addrs...)
	}
	status := models.PSPActive
	if provider.RequiresReview {
		status = models.PSPPending
	}
	m.record(&conn, status, now)
	if status == models.PSPActive {
		m.startTerm(&conn, now)
	}
	*m.conns = append(*m.conns, conn)

	zap.L().Info("Connected payment service provider",
		zap.String("connection_id", conn.Id),
		zap.String("provider_id", provider.Id),
		zap.String("status", string(conn.Status)),
		zap.Strings("permissions", permissions.Names()))
	return conn.Clone(), nil
}

// Approve completes the provider review of a pending connection
func (m *Manager) Approve(id string) (models.PSPConnection, error) {
	return m.transition(id, models.PSPActive, func(c *models.PSPConnection, now time.Time) error {
		m.startTerm(c, now)
		return nil
	}, models.PSPPending)
}

// Reject refuses a pending connection. A non-zero reapplyAfter allows
// reapplying from that time on.
func (m *Manager) Reject(id, reason string, reapplyAfter time.Time) (models.PSPConnection, error) {
	return m.transition(id, models.PSPRejected, func(c *models.PSPConnection, now time.Time) error {
		c.Rejection = &models.PSPRejection{
			Reason:       reason,
			RejectedAt:   now,
			CanReapply:   !reapplyAfter.IsZero(),
			ReapplyAfter: reapplyAfter,
		}
		return nil
	}, models.PSPPending)
}

// Reapply sends a rejected connection back to review
func (m *Manager) Reapply(id string) (models.PSPConnection, error) {
	return m.transition(id, models.PSPPending, func(c *models.PSPConnection, now time.Time) error {
		if c.Rejection == nil || !c.Rejection.CanReapply {
			return fmt.Errorf("%w: %s does not accept a new application", models.ErrValidation, c.Name)
		}
		if now.Before(c.Rejection.ReapplyAfter) {
			return fmt.Errorf("%w: reapplication to %s opens at %s",
				models.ErrValidation, c.Name, c.Rejection.ReapplyAfter.UTC().Format(time.RFC3339))
		}
		c.Rejection = nil
		c.ConnectedAt = now
		return nil
	}, models.PSPRejected)
}

func (m *Manager) Suspend(id string) (models.PSPConnection, error) {
	return m.transition(id, models.PSPSuspended, nil, models.PSPActive)
}

func (m *Manager) Resume(id string) (models.PSPConnection, error) {
	return m.transition(id, models.PSPActive, nil, models.PSPSuspended)
}

// Disconnect deletes an active or suspended connection. Transactions keep
// their PSPConnectionId.
func (m *Manager) Disconnect(id string) (models.PSPConnection, error) {
	idx := m.index(id)
	if idx < 0 {
		return models.PSPConnection{}, fmt.Errorf("%w: connection %s", models.ErrNotFound, id)
	}
	conn := (*m.conns)[idx]
	if conn.Status != models.PSPActive && conn.Status != models.PSPSuspended {
		return models.PSPConnection{}, m.rejectTransition(conn, "disconnected")
	}
	*m.conns = append((*m.conns)[:idx:idx], (*m.conns)[idx+1:]...)

	zap.L().Info("Disconnected payment service provider",
		zap.String("connection_id", id),
		zap.String("provider_id", conn.ProviderId))
	return conn, nil
}

// ExpireDue moves every active connection whose term ended at or before now
// to expired and returns them.
func (m *Manager) ExpireDue(now time.Time) []models.PSPConnection {
	var expired []models.PSPConnection
	for i := range *m.conns {
		c := &(*m.conns)[i]
		if c.Status != models.PSPActive || c.ExpiresAt.IsZero() || c.ExpiresAt.After(now) {
			continue
		}
		m.record(c, models.PSPExpired, now)
		expired = append(expired, c.Clone())
	}
	return expired
}

// IsPSPAddress reports whether address belongs to any connection's provider
func (m *Manager) IsPSPAddress(address string) models.PSPMatch {
	address = strings.TrimSpace(address)
	if address == "" {
		return models.PSPMatch{}
	}
	for _, c := range *m.conns {
		for _, addrs := range c.Addresses {
			for _, a := range addrs {
				if strings.EqualFold(a, address) {
					return models.PSPMatch{IsPSP: true, PSPName: c.Name, ConnectionId: c.Id}
				}
			}
		}
	}
	return models.PSPMatch{}
}

// RecordTransfer adds an outgoing transfer to the connection's usage stats
func (m *Manager) RecordTransfer(id string, valueUSD decimal.Decimal) error {
	idx := m.index(id)
	if idx < 0 {
		return fmt.Errorf("%w: connection %s", models.ErrNotFound, id)
	}
	usage := &(*m.conns)[idx].Usage
	usage.TransferCount++
	usage.VolumeUSD = usage.VolumeUSD.Add(valueUSD)
	usage.LastUsedAt = m.now()
	return nil
}

func (m *Manager) Get(id string) (models.PSPConnection, error) {
	idx := m.index(id)
	if idx < 0 {
		return models.PSPConnection{}, fmt.Errorf("%w: connection %s", models.ErrNotFound, id)
	}
	return (*m.conns)[idx].Clone(), nil
}

func (m *Manager) List() []models.PSPConnection {
	out := make([]models.PSPConnection, len(*m.conns))
	for i, c := range *m.conns {
		out[i] = c.Clone()
	}
	return out
}

// transition moves connection id to status `to` when it is currently in one
// of from. apply runs on a copy before the move and may veto it.
func (m *Manager) transition(id string, to models.PSPStatus, apply func(*models.PSPConnection, time.Time) error, from ...models.PSPStatus) (models.PSPConnection, error) {
	idx := m.index(id)
	if idx < 0 {
		return models.PSPConnection{}, fmt.Errorf("%w: connection %s", models.ErrNotFound, id)
	}
	current := (*m.conns)[idx]
	allowed := false
	for _, s := range from {
		if current.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return models.PSPConnection{}, m.rejectTransition(current, string(to))
	}

	now := m.now()
	working := current.Clone()
	if apply != nil {
		if err := apply(&working, now); err != nil {
			return models.PSPConnection{}, err
		}
	}
	m.record(&working, to, now)
	(*m.conns)[idx] = working

	zap.L().Info("Payment service provider connection changed",
		zap.String("connection_id", id),
		zap.String("from", string(current.Status)),
		zap.String("to", string(to)))
	return working.Clone(), nil
}

func (m *Manager) record(c *models.PSPConnection, to models.PSPStatus, now time.Time) {
	c.History = append(c.History, models.PSPStatusChange{From: c.Status, To: to, At: now})
	c.Status = to
}

func (m *Manager) startTerm(c *models.PSPConnection, now time.Time) {
	provider, ok := m.catalog.Get(c.ProviderId)
	if ok && provider.ConnectionTTL > 0 {
		c.ExpiresAt = now.Add(provider.ConnectionTTL)
	}
}

func (m *Manager) rejectTransition(c models.PSPConnection, target string) error {
	zap.L().Error("Rejected connection transition",
		zap.String("connection_id", c.Id),
		zap.String("status", string(c.Status)),
		zap.String("target", target))
	return fmt.Errorf("%w: connection %s is %s, cannot become %s", models.ErrInvalidTransition, c.Id, c.Status, target)
}

func (m *Manager) index(id string) int {
	for i, c := range *m.conns {
		if c.Id == id {
			return i
		}
	}
	return -1
}
