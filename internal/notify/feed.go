package notify

import (
	"fmt"
	"time"

	"custody-wallet-core/internal/models"

	"github.com/google/uuid"
)

// DefaultCapacity bounds the feed; the oldest read entries are dropped first
const DefaultCapacity = 200

// Feed appends and reads notifications held in an account's notification list,
// newest first.
type Feed struct {
	items    *[]models.Notification
	capacity int
	now      func() time.Time
}

func New(items *[]models.Notification, now func() time.Time) *Feed {
	if now == nil {
		now = time.Now
	}
	return &Feed{items: items, capacity: DefaultCapacity, now: now}
}

// WithCapacity overrides the number of notifications kept
func (f *Feed) WithCapacity(capacity int) *Feed {
	f.capacity = capacity
	return f
}

// Append adds an unread notification
func (f *Feed) Append(category models.NotificationCategory, priority models.NotificationPriority, title, body, route string) models.Notification {
	n := models.Notification{
		Id:          uuid.New().String(),
		Category:    category,
		Priority:    priority,
		Title:       title,
		Body:        body,
		ActionRoute: route,
		CreatedAt:   f.now(),
	}
	*f.items = append([]models.Notification{n}, *f.items...)
	f.trim()
	return n
}

func (f *Feed) MarkRead(id string) error {
	for i := range *f.items {
		if (*f.items)[i].Id == id {
			(*f.items)[i].Read = true
			return nil
		}
	}
	return fmt.Errorf("%w: notification %s", models.ErrNotFound, id)
}

// MarkAllRead marks every notification read and returns how many changed
func (f *Feed) MarkAllRead() int {
	changed := 0
	for i := range *f.items {
		if !(*f.items)[i].Read {
			(*f.items)[i].Read = true
			changed++
		}
	}
	return changed
}

func (f *Feed) List() []models.Notification {
	return append([]models.Notification(nil), *f.items...)
}

func (f *Feed) Unread() []models.Notification {
	var out []models.Notification
	for _, n := range *f.items {
		if !n.Read {
			out = append(out, n)
		}
	}
	return out
}

// trim drops read entries from the tail, then unread ones if still over capacity
func (f *Feed) trim() {
	if f.capacity <= 0 || len(*f.items) <= f.capacity {
		return
	}
	items := *f.items
	excess := len(items) - f.capacity
	kept := make([]models.Notification, 0, f.capacity)
	for i := len(items) - 1; i >= 0; i-- {
		if excess > 0 && items[i].Read {
			excess--
			continue
		}
		kept = append(kept, items[i])
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	if excess > 0 {
		kept = kept[:len(kept)-excess]
	}
	*f.items = kept
}
