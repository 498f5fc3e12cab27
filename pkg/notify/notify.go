// Package notify accumulates live notifications for the current user and
// publishes typed notification events to others. The local list mirrors
// the persisted store optimistically; clearing or marking entries read
// here never mutates the backend.
package notify

import (
	"sync"
	"time"

	"github.com/pulseboard/collab.go/pkg/channel"
	"github.com/pulseboard/collab.go/pkg/logger"
)

// Type classifies a notification.
type Type string

const (
	TypeWorkItemAssigned  Type = "work_item_assigned"
	TypeWorkItemUpdated   Type = "work_item_updated"
	TypeWorkItemCommented Type = "work_item_commented"
	TypeSprintStarted     Type = "sprint_started"
	TypeSprintCompleted   Type = "sprint_completed"
	TypeMention           Type = "mention"
	TypeInfo              Type = "info"
	TypeError             Type = "error"
)

// Priority orders notifications for display emphasis.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is one live notification instance. UserID is the
// recipient.
type Notification struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	UserID     string    `json:"user_id"`
	ProjectID  string    `json:"project_id,omitempty"`
	WorkItemID string    `json:"work_item_id,omitempty"`
	SprintID   string    `json:"sprint_id,omitempty"`
	CommentID  string    `json:"comment_id,omitempty"`
	ActionURL  string    `json:"action_url,omitempty"`
	Priority   Priority  `json:"priority,omitempty"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}

// Alerter surfaces a platform-level alert for a freshly received
// notification. Implementations are best-effort: a missing permission or
// unavailable platform feature is a silent skip, never an error.
type Alerter interface {
	Alert(n Notification)
}

// DefaultMaxStored bounds the local list.
const DefaultMaxStored = 100

// CenterConfig configures a Center. UserID is the current recipient.
type CenterConfig struct {
	UserID  string
	Alerter Alerter
	Logger  logger.Logger

	// MaxStored caps the local list; older entries fall off the end.
	MaxStored int
}

// Center is the receive side: it ingests channel events addressed to the
// current user and tracks read state locally.
type Center struct {
	cfg CenterConfig

	mu    sync.Mutex
	items []Notification
}

// NewCenter creates a Center.
func NewCenter(cfg CenterConfig) *Center {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.MaxStored <= 0 {
		cfg.MaxStored = DefaultMaxStored
	}
	return &Center{cfg: cfg}
}

// ApplyEvent ingests a channel event from the user's notification topic.
// Only INSERT events addressed to the current user are kept, prepended
// most-recent-first. Everything else is ignored.
func (c *Center) ApplyEvent(event channel.Event) {
	if event.Type != channel.EventInsert {
		return
	}

	var n Notification
	if err := event.Decode(&n); err != nil {
		c.cfg.Logger.Debug("dropping undecodable notification", "err", err)
		return
	}
	if n.UserID != c.cfg.UserID {
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = event.Timestamp
	}

	c.mu.Lock()
	c.items = append([]Notification{n}, c.items...)
	if len(c.items) > c.cfg.MaxStored {
		c.items = c.items[:c.cfg.MaxStored]
	}
	c.mu.Unlock()

	c.alert(n)
}

// alert invokes the platform alerter, swallowing panics from unavailable
// platform features.
func (c *Center) alert(n Notification) {
	if c.cfg.Alerter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.cfg.Logger.Debug("platform alert unavailable", "panic", r)
		}
	}()
	c.cfg.Alerter.Alert(n)
}

// Notifications returns the local list, most recent first.
func (c *Center) Notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.items...)
}

// UnreadCount returns how many entries are unread.
func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, n := range c.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// MarkAsRead flips one entry to read. It reports whether anything
// changed; an unknown id or an already-read entry is a no-op.
func (c *Center) MarkAsRead(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.items {
		if c.items[i].ID == id {
			if c.items[i].Read {
				return false
			}
			c.items[i].Read = true
			return true
		}
	}
	return false
}

// MarkAllAsRead flips every unread entry. Idempotent.
func (c *Center) MarkAllAsRead() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.items {
		c.items[i].Read = true
	}
}

// Clear empties the local list. The persisted store is untouched; callers
// needing persisted clearing go through the backend separately.
func (c *Center) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
}
