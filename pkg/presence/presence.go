// Package presence tracks which users are live in a project scope. The
// local user's record is published on every meaningful change and on a
// heartbeat tick; peer records arrive out of band and are pruned once they
// go stale. Status demotion (online to away to offline) is driven by an
// inactivity clock that the embedding UI resets by forwarding its input
// activity and visibility signals.
package presence

import (
	"sync"
	"time"

	"github.com/pulseboard/collab.go/pkg/logger"
)

// Status is a user's presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// UserPresence is one user's live state within a project.
type UserPresence struct {
	UserID          string    `json:"user_id"`
	DisplayName     string    `json:"display_name"`
	Avatar          string    `json:"avatar,omitempty"`
	Status          Status    `json:"status"`
	LastSeen        time.Time `json:"last_seen"`
	CurrentPage     string    `json:"current_page,omitempty"`
	CurrentWorkItem string    `json:"current_work_item,omitempty"`
	IsEditing       bool      `json:"is_editing"`
}

// Metadata carries a partial update merged into the local presence record.
// Nil fields are left untouched.
type Metadata struct {
	CurrentPage     *string
	CurrentWorkItem *string
	IsEditing       *bool
}

// Defaults.
const (
	DefaultAwayAfter       = 5 * time.Minute
	DefaultOfflineAfter    = 30 * time.Minute
	DefaultCheckInterval   = time.Minute
	DefaultFreshnessWindow = 2 * time.Minute
	DefaultStaleAfter      = 5 * time.Minute
)

// Config configures a Tracker. UserID and Publish are required.
type Config struct {
	UserID      string
	DisplayName string
	Avatar      string

	// Publish broadcasts the local presence record. Delivery is
	// best-effort; the tracker never inspects the outcome.
	Publish func(UserPresence)

	Logger logger.Logger

	// AwayAfter demotes online to away once the idle clock passes it.
	AwayAfter time.Duration
	// OfflineAfter demotes away to offline once the idle clock passes it.
	OfflineAfter time.Duration
	// CheckInterval is the idle-check and heartbeat cadence.
	CheckInterval time.Duration
	// FreshnessWindow bounds how old a LastSeen may be for a user still
	// counted online, tolerating missed offline beacons.
	FreshnessWindow time.Duration
	// StaleAfter is the age at which peer records are pruned.
	StaleAfter time.Duration
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.AwayAfter <= 0 {
		c.AwayAfter = DefaultAwayAfter
	}
	if c.OfflineAfter <= 0 {
		c.OfflineAfter = DefaultOfflineAfter
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = DefaultFreshnessWindow
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.Publish == nil {
		c.Publish = func(UserPresence) {}
	}
}

// Tracker owns the local user's presence record and mirrors peers'.
type Tracker struct {
	cfg Config

	mu           sync.Mutex
	local        UserPresence
	peers        map[string]UserPresence
	lastActivity time.Time
	started      bool
	stopped      bool

	closeCh chan struct{}
	doneCh  chan struct{}

	now func() time.Time
}

// NewTracker creates a Tracker. Call Start to publish the initial online
// record and begin the idle checks.
func NewTracker(cfg Config) *Tracker {
	cfg.setDefaults()
	return &Tracker{
		cfg:     cfg,
		peers:   make(map[string]UserPresence),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		now:     time.Now,
	}
}

// Start publishes an initial online presence and begins periodic idle
// demotion, heartbeats and peer pruning.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.started = true
	now := t.now()
	t.lastActivity = now
	t.local = UserPresence{
		UserID:      t.cfg.UserID,
		DisplayName: t.cfg.DisplayName,
		Avatar:      t.cfg.Avatar,
		Status:      StatusOnline,
		LastSeen:    now,
	}
	record := t.local
	t.mu.Unlock()

	t.cfg.Publish(record)
	go t.loop()
}

// Stop publishes a best-effort offline record and halts the tracker. If
// the process dies before the record is delivered, peers fall back to the
// freshness window.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	started := t.started
	t.local.Status = StatusOffline
	t.local.LastSeen = t.now()
	record := t.local
	close(t.closeCh)
	t.mu.Unlock()

	if started {
		t.cfg.Publish(record)
		<-t.doneCh
	}
}

// Activity registers a local input signal (pointer, key, scroll, touch).
// It resets the idle clock and promotes the user back to online from any
// status.
func (t *Tracker) Activity() {
	t.mu.Lock()
	if !t.running() {
		t.mu.Unlock()
		return
	}
	now := t.now()
	t.lastActivity = now
	changed := t.local.Status != StatusOnline
	t.local.Status = StatusOnline
	t.local.LastSeen = now
	record := t.local
	t.mu.Unlock()

	if changed {
		t.cfg.Publish(record)
	}
}

// SetVisible maps tab visibility straight onto online/away.
func (t *Tracker) SetVisible(visible bool) {
	status := StatusAway
	if visible {
		status = StatusOnline
	}
	t.mu.Lock()
	if !t.running() {
		t.mu.Unlock()
		return
	}
	now := t.now()
	if visible {
		t.lastActivity = now
	}
	changed := t.local.Status != status
	t.local.Status = status
	t.local.LastSeen = now
	record := t.local
	t.mu.Unlock()

	if changed {
		t.cfg.Publish(record)
	}
}

// SetCurrentPage records a navigation without touching the status.
func (t *Tracker) SetCurrentPage(path string) {
	page := path
	t.UpdatePresence("", Metadata{CurrentPage: &page})
}

// SetCurrentWorkItem records which work item the user is looking at.
func (t *Tracker) SetCurrentWorkItem(id string) {
	item := id
	t.UpdatePresence("", Metadata{CurrentWorkItem: &item})
}

// UpdatePresence merges metadata into the local record, optionally forcing
// a status, and republishes. An empty status keeps the current one.
func (t *Tracker) UpdatePresence(status Status, meta Metadata) {
	t.mu.Lock()
	if !t.running() {
		t.mu.Unlock()
		return
	}
	if status != "" {
		t.local.Status = status
		if status == StatusOnline {
			t.lastActivity = t.now()
		}
	}
	if meta.CurrentPage != nil {
		t.local.CurrentPage = *meta.CurrentPage
	}
	if meta.CurrentWorkItem != nil {
		t.local.CurrentWorkItem = *meta.CurrentWorkItem
	}
	if meta.IsEditing != nil {
		t.local.IsEditing = *meta.IsEditing
	}
	t.local.LastSeen = t.now()
	record := t.local
	t.mu.Unlock()

	t.cfg.Publish(record)
}

// Apply ingests a peer's presence record. Updates for the same user apply
// in receipt order; the local user's own echoes are ignored.
func (t *Tracker) Apply(p UserPresence) {
	if p.UserID == "" || p.UserID == t.cfg.UserID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[p.UserID] = p
}

// Local returns the local user's current record.
func (t *Tracker) Local() UserPresence {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

// Snapshot returns every known presence record keyed by user id,
// including the local user.
func (t *Tracker) Snapshot() map[string]UserPresence {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]UserPresence, len(t.peers)+1)
	for id, p := range t.peers {
		out[id] = p
	}
	if t.started {
		out[t.local.UserID] = t.local
	}
	return out
}

// IsUserOnline reports whether the user is online right now. A record
// claiming online whose LastSeen fell outside the freshness window does
// not count: its owner may have vanished without an offline beacon.
func (t *Tracker) IsUserOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isOnlineLocked(userID)
}

// OnlineCount returns how many known users are online, local included.
func (t *Tracker) OnlineCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	if t.started && t.isOnlineLocked(t.cfg.UserID) {
		count++
	}
	for id := range t.peers {
		if t.isOnlineLocked(id) {
			count++
		}
	}
	return count
}

func (t *Tracker) isOnlineLocked(userID string) bool {
	var p UserPresence
	if userID == t.cfg.UserID {
		if !t.started {
			return false
		}
		p = t.local
	} else {
		var ok bool
		p, ok = t.peers[userID]
		if !ok {
			return false
		}
	}
	return p.Status == StatusOnline && t.now().Sub(p.LastSeen) <= t.cfg.FreshnessWindow
}

func (t *Tracker) running() bool {
	return t.started && !t.stopped
}

func (t *Tracker) loop() {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.closeCh:
			return
		case <-ticker.C:
			t.check()
		}
	}
}

// check runs one idle-demotion, heartbeat and prune pass.
func (t *Tracker) check() {
	t.mu.Lock()
	if !t.running() {
		t.mu.Unlock()
		return
	}

	now := t.now()
	idle := now.Sub(t.lastActivity)

	prev := t.local.Status
	switch t.local.Status {
	case StatusOnline:
		if idle > t.cfg.AwayAfter {
			t.local.Status = StatusAway
		}
	case StatusAway:
		if idle > t.cfg.OfflineAfter {
			t.local.Status = StatusOffline
		}
	}

	// The heartbeat keeps LastSeen fresh for peers' freshness checks while
	// the user is reachable. Once demoted to offline the heartbeat stops,
	// but the transition itself is announced once so peers converge without
	// waiting out their stale-record prune.
	offline := t.local.Status == StatusOffline
	publish := !offline || prev != StatusOffline
	if publish {
		t.local.LastSeen = now
	}
	record := t.local

	for id, p := range t.peers {
		if now.Sub(p.LastSeen) > t.cfg.StaleAfter {
			delete(t.peers, id)
		}
	}
	t.mu.Unlock()

	if publish {
		t.cfg.Publish(record)
	}
}
