package models

import "time"

type NotificationCategory string

const (
	CategoryRisk        NotificationCategory = "risk"
	CategoryTransaction NotificationCategory = "transaction"
	CategorySecurity    NotificationCategory = "security"
	CategoryPSP         NotificationCategory = "psp"
	CategorySystem      NotificationCategory = "system"
)

type NotificationPriority string

const (
	PriorityLow      NotificationPriority = "low"
	PriorityNormal   NotificationPriority = "normal"
	PriorityHigh     NotificationPriority = "high"
	PriorityCritical NotificationPriority = "critical"
)

// Notification is an opaque record rendered by the presentation layer
type Notification struct {
	Id          string               `json:"id"`
	Category    NotificationCategory `json:"category"`
	Priority    NotificationPriority `json:"priority"`
	Title       string               `json:"title"`
	Body        string               `json:"body"`
	Read        bool                 `json:"read"`
	ActionRoute string               `json:"action_route,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}
