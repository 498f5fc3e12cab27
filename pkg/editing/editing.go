// Package editing coordinates collaborative editing sessions on shared
// work items. Each client tracks who joined a resource's session and which
// field every member is editing, publishes its own membership changes, and
// expires idle state with client-local timers. There is no authoritative
// server session and no conflict resolution: concurrent edits to one field
// are surfaced through indicators while the last write to reach the
// persistence layer wins.
package editing

import (
	"sync"
	"time"

	"github.com/pulseboard/collab.go/internal/deferred"
	"github.com/pulseboard/collab.go/pkg/logger"
)

// User is one member of a collaborative session.
type User struct {
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	Avatar       string    `json:"avatar,omitempty"`
	IsEditing    bool      `json:"is_editing"`
	EditingField string    `json:"editing_field,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
}

// Session is the local view of one resource's collaborative session.
type Session struct {
	ResourceID   string    `json:"resource_id"`
	Users        []User    `json:"users"`
	LastActivity time.Time `json:"last_activity"`
}

// EventAction tags a session event.
type EventAction string

const (
	ActionJoin   EventAction = "join"
	ActionUpdate EventAction = "update"
	ActionLeave  EventAction = "leave"
)

// SessionEvent is the membership change broadcast on a resource's editing
// channel.
type SessionEvent struct {
	Action     EventAction `json:"action"`
	ResourceID string      `json:"resource_id"`
	User       User        `json:"user"`
}

// Defaults.
const (
	DefaultSessionTimeout = 30 * time.Minute
	DefaultEditingTimeout = 2 * time.Minute
	DefaultMemberTTL      = 35 * time.Minute
)

// Config configures a Coordinator.
type Config struct {
	UserID      string
	DisplayName string
	Avatar      string

	// Publish broadcasts a membership change. Best-effort.
	Publish func(SessionEvent)

	Logger logger.Logger

	// SessionTimeout auto-leaves a joined session with no editing
	// activity.
	SessionTimeout time.Duration
	// EditingTimeout auto-reverts an editing member to viewing.
	EditingTimeout time.Duration
	// MemberTTL is the age at which other clients' members are evicted
	// from the local view.
	MemberTTL time.Duration
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.EditingTimeout <= 0 {
		c.EditingTimeout = DefaultEditingTimeout
	}
	if c.MemberTTL <= 0 {
		c.MemberTTL = DefaultMemberTTL
	}
	if c.Publish == nil {
		c.Publish = func(SessionEvent) {}
	}
}

// session is the local mirror of one resource's membership.
type session struct {
	users        map[string]User
	seen         map[string]time.Time
	lastActivity time.Time
}

// membership holds the timers for a session the local user has joined.
type membership struct {
	sessionTimer *deferred.Action
	editingTimer *deferred.Action
}

// Coordinator manages the local user's session state machine per resource
// (not joined, joined viewing, joined editing a field) and mirrors every
// peer's membership.
type Coordinator struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*session
	joined   map[string]*membership
	closed   bool

	now func() time.Time
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	cfg.setDefaults()
	return &Coordinator{
		cfg:      cfg,
		sessions: make(map[string]*session),
		joined:   make(map[string]*membership),
		now:      time.Now,
	}
}

// JoinSession adds the local user to the resource's session as a viewer
// and arms the session-inactivity auto-leave. Joining a session the user
// is already in restarts the timer instead of duplicating the member.
func (c *Coordinator) JoinSession(resourceID string) {
	c.mu.Lock()
	if c.closed || resourceID == "" {
		c.mu.Unlock()
		return
	}

	m, already := c.joined[resourceID]
	if !already {
		m = &membership{}
		m.sessionTimer = deferred.New(func() { c.LeaveSession(resourceID) })
		m.editingTimer = deferred.New(func() { c.UpdateEditingStatus(resourceID, false, "") })
		c.joined[resourceID] = m
	}

	now := c.now()
	user := User{
		UserID:      c.cfg.UserID,
		DisplayName: c.cfg.DisplayName,
		Avatar:      c.cfg.Avatar,
		JoinedAt:    now,
	}
	if already {
		// keep the original join time and editing state
		if existing, ok := c.sessionFor(resourceID).users[c.cfg.UserID]; ok {
			user = existing
		}
	}
	c.upsertLocked(resourceID, user)
	m.sessionTimer.Arm(c.cfg.SessionTimeout)
	c.mu.Unlock()

	if !already {
		c.cfg.Publish(SessionEvent{Action: ActionJoin, ResourceID: resourceID, User: user})
	}
}

// LeaveSession removes the local user from the session, cancels its
// timers and publishes the removal. Safe to call when not joined.
func (c *Coordinator) LeaveSession(resourceID string) {
	c.mu.Lock()
	m, ok := c.joined[resourceID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.joined, resourceID)
	m.sessionTimer.Cancel()
	m.editingTimer.Cancel()

	user := User{UserID: c.cfg.UserID, DisplayName: c.cfg.DisplayName, Avatar: c.cfg.Avatar}
	if s, ok := c.sessions[resourceID]; ok {
		if existing, ok := s.users[c.cfg.UserID]; ok {
			user = existing
		}
		delete(s.users, c.cfg.UserID)
		delete(s.seen, c.cfg.UserID)
		if len(s.users) == 0 {
			delete(c.sessions, resourceID)
		}
	}
	c.mu.Unlock()

	c.cfg.Publish(SessionEvent{Action: ActionLeave, ResourceID: resourceID, User: user})
}

// UpdateEditingStatus flips the local user between viewing and editing a
// named field. Starting to edit arms the editing-inactivity timer and
// counts as session activity; stopping clears the field reference. A user
// who never joined the session is left untouched.
func (c *Coordinator) UpdateEditingStatus(resourceID string, isEditing bool, field string) {
	c.mu.Lock()
	m, ok := c.joined[resourceID]
	if !ok {
		c.mu.Unlock()
		c.cfg.Logger.Debug("editing status for unjoined resource ignored", "resource_id", resourceID)
		return
	}

	s := c.sessionFor(resourceID)
	user, ok := s.users[c.cfg.UserID]
	if !ok {
		user = User{
			UserID:      c.cfg.UserID,
			DisplayName: c.cfg.DisplayName,
			Avatar:      c.cfg.Avatar,
			JoinedAt:    c.now(),
		}
	}
	user.IsEditing = isEditing
	if isEditing {
		user.EditingField = field
		m.editingTimer.Arm(c.cfg.EditingTimeout)
	} else {
		user.EditingField = ""
		m.editingTimer.Cancel()
	}
	c.upsertLocked(resourceID, user)
	m.sessionTimer.Arm(c.cfg.SessionTimeout)
	c.mu.Unlock()

	c.cfg.Publish(SessionEvent{Action: ActionUpdate, ResourceID: resourceID, User: user})
}

// Joined reports whether the local user is currently in the resource's
// session.
func (c *Coordinator) Joined(resourceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.joined[resourceID]
	return ok
}

// Apply ingests a peer's session event. The local user's own echoes are
// ignored; member entries stay keyed by (resource, user) so repeated
// events never duplicate a member.
func (c *Coordinator) Apply(ev SessionEvent) {
	if ev.ResourceID == "" || ev.User.UserID == "" || ev.User.UserID == c.cfg.UserID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Action {
	case ActionJoin, ActionUpdate:
		c.upsertLocked(ev.ResourceID, ev.User)
	case ActionLeave:
		if s, ok := c.sessions[ev.ResourceID]; ok {
			delete(s.users, ev.User.UserID)
			delete(s.seen, ev.User.UserID)
			if len(s.users) == 0 {
				delete(c.sessions, ev.ResourceID)
			}
		}
	}
}

// Session returns the current view of a resource's session. Members whose
// last event is older than MemberTTL are evicted first; a session no one
// populates reports ok=false, which callers treat as "no one here".
func (c *Coordinator) Session(resourceID string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[resourceID]
	if !ok {
		return Session{}, false
	}

	now := c.now()
	for id, seen := range s.seen {
		if id == c.cfg.UserID {
			continue
		}
		if now.Sub(seen) > c.cfg.MemberTTL {
			delete(s.users, id)
			delete(s.seen, id)
		}
	}
	if len(s.users) == 0 {
		delete(c.sessions, resourceID)
		return Session{}, false
	}

	out := Session{
		ResourceID:   resourceID,
		Users:        make([]User, 0, len(s.users)),
		LastActivity: s.lastActivity,
	}
	for _, u := range s.users {
		out.Users = append(out.Users, u)
	}
	return out, true
}

// EditingUsers returns the users other than the local one currently
// editing the named field. This drives per-field lock indicators.
func (c *Coordinator) EditingUsers(resourceID, field string) []User {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[resourceID]
	if !ok {
		return nil
	}

	var out []User
	for id, u := range s.users {
		if id == c.cfg.UserID {
			continue
		}
		if u.IsEditing && u.EditingField == field {
			out = append(out, u)
		}
	}
	return out
}

// Close leaves every joined session and cancels every timer. Idempotent.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	resources := make([]string, 0, len(c.joined))
	for id := range c.joined {
		resources = append(resources, id)
	}
	c.mu.Unlock()

	for _, id := range resources {
		c.LeaveSession(id)
	}
}

// sessionFor returns the resource's session, creating it if needed.
// Callers hold c.mu.
func (c *Coordinator) sessionFor(resourceID string) *session {
	s, ok := c.sessions[resourceID]
	if !ok {
		s = &session{
			users: make(map[string]User),
			seen:  make(map[string]time.Time),
		}
		c.sessions[resourceID] = s
	}
	return s
}

// upsertLocked records a member and refreshes its recency. Callers hold
// c.mu.
func (c *Coordinator) upsertLocked(resourceID string, u User) {
	s := c.sessionFor(resourceID)
	now := c.now()
	if existing, ok := s.users[u.UserID]; ok && u.JoinedAt.IsZero() {
		u.JoinedAt = existing.JoinedAt
	}
	if u.JoinedAt.IsZero() {
		u.JoinedAt = now
	}
	s.users[u.UserID] = u
	s.seen[u.UserID] = now
	s.lastActivity = now
}
