package session

import (
	"context"
	"fmt"
	"time"

	"custody-wallet-core/internal/limits"
	"custody-wallet-core/internal/models"
	"custody-wallet-core/internal/notify"
	"custody-wallet-core/internal/psp"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CheckTransferLimit probes amount (USD) against the account's limits
func (s *Store) CheckTransferLimit(amount decimal.Decimal) (models.LimitCheck, error) {
	snap := s.snapshot()
	if err := snap.requireAccount(); err != nil {
		return models.LimitCheck{}, err
	}
	security := snap.account.Security
	return limits.New(&security).CheckTransferLimit(amount, s.now())
}

func (s *Store) UpdateLimits(ctx context.Context, single, daily, monthly decimal.Decimal) (models.SecurityConfig, error) {
	var out models.SecurityConfig
	err := s.mutateAccount(ctx, "update_limits", func(c *change) error {
		if err := c.enforcer().UpdateLimits(single, daily, monthly); err != nil {
			return err
		}
		c.feed().Append(models.CategorySecurity, models.PriorityNormal,
			"Spending limits changed",
			fmt.Sprintf("Single $%s, daily $%s, monthly $%s",
				single.StringFixed(2), daily.StringFixed(2), monthly.StringFixed(2)),
			"/settings/limits")
		out = c.account.Security
		return nil
	})
	if err != nil {
		return models.SecurityConfig{}, err
	}
	zap.L().Info("Updated spending limits",
		zap.String("single", single.String()),
		zap.String("daily", daily.String()),
		zap.String("monthly", monthly.String()))
	return out, nil
}

// SetHighRiskAction chooses whether sends to red destinations are blocked or
// only need confirmation.
func (s *Store) SetHighRiskAction(ctx context.Context, action models.HighRiskAction) error {
	if action != models.HighRiskBlock && action != models.HighRiskWarn {
		return fmt.Errorf("%w: unknown high risk action %q", models.ErrValidation, action)
	}
	return s.mutateAccount(ctx, "set_high_risk_action", func(c *change) error {
		if c.account.Security.HighRiskAction == action {
			return errNoChange
		}
		c.account.Security.HighRiskAction = action
		return nil
	})
}

func (s *Store) SecurityConfig() (models.SecurityConfig, error) {
	snap := s.snapshot()
	if err := snap.requireAccount(); err != nil {
		return models.SecurityConfig{}, err
	}
	return snap.account.Security, nil
}

func (s *Store) PSPProviders() []models.PSPProvider {
	return s.providers.Providers()
}

// ConnectPSP requests a connection to providerId with the named permissions
func (s *Store) ConnectPSP(ctx context.Context, providerId string, permissions []string) (models.PSPConnection, error) {
	perms, err := models.ParseCapabilities(permissions)
	if err != nil {
		return models.PSPConnection{}, err
	}
	return s.pspChange(ctx, "connect_psp", func(m *psp.Manager) (models.PSPConnection, error) {
		return m.Connect(providerId, perms)
	}, func(conn models.PSPConnection) string {
		if conn.Status == models.PSPPending {
			return "Connection to " + conn.Name + " is under review"
		}
		return "Connected to " + conn.Name
	})
}

func (s *Store) ApprovePSP(ctx context.Context, id string) (models.PSPConnection, error) {
	return s.pspChange(ctx, "approve_psp", func(m *psp.Manager) (models.PSPConnection, error) {
		return m.Approve(id)
	}, statusTitle)
}

// RejectPSP refuses a pending connection. A zero reapplyAfter means the
// account may not reapply.
func (s *Store) RejectPSP(ctx context.Context, id, reason string, reapplyAfter time.Time) (models.PSPConnection, error) {
	return s.pspChange(ctx, "reject_psp", func(m *psp.Manager) (models.PSPConnection, error) {
		return m.Reject(id, reason, reapplyAfter)
	}, statusTitle)
}

func (s *Store) ReapplyPSP(ctx context.Context, id string) (models.PSPConnection, error) {
	return s.pspChange(ctx, "reapply_psp", func(m *psp.Manager) (models.PSPConnection, error) {
		return m.Reapply(id)
	}, statusTitle)
}

func (s *Store) SuspendPSP(ctx context.Context, id string) (models.PSPConnection, error) {
	return s.pspChange(ctx, "suspend_psp", func(m *psp.Manager) (models.PSPConnection, error) {
		return m.Suspend(id)
	}, statusTitle)
}

func (s *Store) ResumePSP(ctx context.Context, id string) (models.PSPConnection, error) {
	return s.pspChange(ctx, "resume_psp", func(m *psp.Manager) (models.PSPConnection, error) {
		return m.Resume(id)
	}, statusTitle)
}

// DisconnectPSP removes a connection. Past transfers keep their attribution.
func (s *Store) DisconnectPSP(ctx context.Context, id string) (models.PSPConnection, error) {
	return s.pspChange(ctx, "disconnect_psp", func(m *psp.Manager) (models.PSPConnection, error) {
		return m.Disconnect(id)
	}, func(conn models.PSPConnection) string {
		return "Disconnected from " + conn.Name
	})
}

func statusTitle(conn models.PSPConnection) string {
	return fmt.Sprintf("%s connection is %s", conn.Name, conn.Status)
}

func (s *Store) pspChange(ctx context.Context, op string, fn func(m *psp.Manager) (models.PSPConnection, error),
	title func(models.PSPConnection) string) (models.PSPConnection, error) {
	var out models.PSPConnection
	err := s.mutateAccount(ctx, op, func(c *change) error {
		conn, err := fn(c.connections(s))
		if err != nil {
			return err
		}
		c.feed().Append(models.CategoryPSP, models.PriorityNormal, title(conn),
			fmt.Sprintf("Permissions: %v", conn.Permissions.Names()),
			"/psp/"+conn.Id)
		out = conn
		return nil
	})
	if err != nil {
		return models.PSPConnection{}, err
	}
	return out, nil
}

func (s *Store) PSPConnections() ([]models.PSPConnection, error) {
	snap := s.snapshot()
	if err := snap.requireAccount(); err != nil {
		return nil, err
	}
	connections := snap.account.Connections
	return psp.New(s.providers, &connections, s.now).List(), nil
}

func (s *Store) IsPSPAddress(address string) (models.PSPMatch, error) {
	snap := s.snapshot()
	if err := snap.requireAccount(); err != nil {
		return models.PSPMatch{}, err
	}
	connections := snap.account.Connections
	return psp.New(s.providers, &connections, s.now).IsPSPAddress(address), nil
}

func (s *Store) Notifications() ([]models.Notification, error) {
	snap := s.snapshot()
	if err := snap.requireAccount(); err != nil {
		return nil, err
	}
	items := snap.account.Notifications
	return notify.New(&items, s.now).List(), nil
}

func (s *Store) UnreadNotifications() ([]models.Notification, error) {
	snap := s.snapshot()
	if err := snap.requireAccount(); err != nil {
		return nil, err
	}
	items := snap.account.Notifications
	return notify.New(&items, s.now).Unread(), nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	return s.mutateAccount(ctx, "mark_notification_read", func(c *change) error {
		return c.feed().MarkRead(id)
	})
}

// MarkAllNotificationsRead returns how many notifications changed
func (s *Store) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	var marked int
	err := s.mutateAccount(ctx, "mark_all_notifications_read", func(c *change) error {
		marked = c.feed().MarkAllRead()
		if marked == 0 {
			return errNoChange
		}
		return nil
	})
	return marked, err
}
