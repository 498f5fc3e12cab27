// Package cursor broadcasts the local pointer position and mirrors peers'
// live cursors. Capture is throttled so small movements cannot flood the
// channel; display filtering hides stale or off-viewport cursors without
// mutating the tracked set.
package cursor

import (
	"sync"
	"time"

	"github.com/pulseboard/collab.go/pkg/logger"
)

// Cursor is one user's transient pointer position in viewport-relative
// pixels. Negative coordinates are the hide sentinel emitted when the
// pointer leaves the viewport; such a cursor must never be rendered.
type Cursor struct {
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name"`
	Avatar      string  `json:"avatar,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	// ElementID is opaque correlation metadata set by the capturing UI.
	// Its contents carry no semantics.
	ElementID string    `json:"element_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hidden reports whether the cursor carries the hide sentinel.
func (c Cursor) Hidden() bool {
	return c.X < 0 || c.Y < 0
}

// Defaults.
const (
	DefaultMinInterval = 50 * time.Millisecond
	DefaultMinDelta    = 5.0
	DefaultMaxAge      = 30 * time.Second
)

// Config configures a Tracker.
type Config struct {
	UserID      string
	DisplayName string
	Avatar      string

	// Publish broadcasts the local cursor. Best-effort.
	Publish func(Cursor)

	Logger logger.Logger

	// MinInterval and MinDelta define the capture throttle: an update is
	// dropped only when it is both sooner than MinInterval after the last
	// accepted one and within MinDelta pixels on both axes.
	MinInterval time.Duration
	MinDelta    float64

	// MaxAge is the display-side staleness bound.
	MaxAge time.Duration
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.MinDelta <= 0 {
		c.MinDelta = DefaultMinDelta
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Publish == nil {
		c.Publish = func(Cursor) {}
	}
}

// Tracker throttles local cursor capture and keeps the last known cursor
// of every peer.
type Tracker struct {
	cfg Config

	mu       sync.Mutex
	tracking bool
	lastSent Cursor
	sentAt   time.Time
	peers    map[string]Cursor

	now func() time.Time
}

// NewTracker creates a Tracker with capture stopped.
func NewTracker(cfg Config) *Tracker {
	cfg.setDefaults()
	return &Tracker{
		cfg:   cfg,
		peers: make(map[string]Cursor),
		now:   time.Now,
	}
}

// StartTracking enables capture.
func (t *Tracker) StartTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracking = true
}

// StopTracking disables capture and hides the local cursor on peers.
func (t *Tracker) StopTracking() {
	t.mu.Lock()
	wasTracking := t.tracking
	t.tracking = false
	t.mu.Unlock()

	if wasTracking {
		t.publishSentinel()
	}
}

// Tracking reports whether capture is enabled.
func (t *Tracker) Tracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracking
}

// Update captures a pointer position. The update is dropped when it both
// arrives within MinInterval of the last accepted update and moved at most
// MinDelta pixels on each axis; a large jump passes immediately and any
// update after the interval passes regardless of delta.
func (t *Tracker) Update(x, y float64, elementID string) {
	t.mu.Lock()
	if !t.tracking {
		t.mu.Unlock()
		return
	}

	now := t.now()
	withinInterval := !t.sentAt.IsZero() && now.Sub(t.sentAt) < t.cfg.MinInterval
	smallMove := abs(x-t.lastSent.X) <= t.cfg.MinDelta && abs(y-t.lastSent.Y) <= t.cfg.MinDelta
	if withinInterval && smallMove {
		t.mu.Unlock()
		return
	}

	record := Cursor{
		UserID:      t.cfg.UserID,
		DisplayName: t.cfg.DisplayName,
		Avatar:      t.cfg.Avatar,
		X:           x,
		Y:           y,
		ElementID:   elementID,
		Timestamp:   now,
	}
	t.lastSent = record
	t.sentAt = now
	t.mu.Unlock()

	t.cfg.Publish(record)
}

// Leave hides the local cursor on peers immediately, bypassing the
// throttle.
func (t *Tracker) Leave() {
	t.mu.Lock()
	tracking := t.tracking
	t.mu.Unlock()

	if tracking {
		t.publishSentinel()
	}
}

func (t *Tracker) publishSentinel() {
	now := t.now()
	record := Cursor{
		UserID:      t.cfg.UserID,
		DisplayName: t.cfg.DisplayName,
		Avatar:      t.cfg.Avatar,
		X:           -1,
		Y:           -1,
		Timestamp:   now,
	}

	t.mu.Lock()
	t.lastSent = record
	t.sentAt = time.Time{} // next real update passes the throttle
	t.mu.Unlock()

	t.cfg.Publish(record)
}

// Apply ingests a peer's cursor. Last received wins; the local user's own
// echoes are ignored.
func (t *Tracker) Apply(c Cursor) {
	if c.UserID == "" || c.UserID == t.cfg.UserID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[c.UserID] = c
}

// Cursors returns the raw tracked set, hidden and stale entries included.
func (t *Tracker) Cursors() []Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Cursor, 0, len(t.peers))
	for _, c := range t.peers {
		out = append(out, c)
	}
	return out
}

// Visible returns the render-ready subset: no hide sentinels, nothing
// older than MaxAge, nothing outside the given viewport. Pass zero
// dimensions to skip the bounds check. The tracked set is not mutated.
func (t *Tracker) Visible(viewportW, viewportH float64) []Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make([]Cursor, 0, len(t.peers))
	for _, c := range t.peers {
		if c.Hidden() {
			continue
		}
		if now.Sub(c.Timestamp) > t.cfg.MaxAge {
			continue
		}
		if viewportW > 0 && c.X > viewportW {
			continue
		}
		if viewportH > 0 && c.Y > viewportH {
			continue
		}
		out = append(out, c)
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
