package collab

import (
	"context"
	"sync"
	"time"

	"github.com/pulseboard/collab.go/pkg/channel"
	"github.com/pulseboard/collab.go/pkg/cursor"
	"github.com/pulseboard/collab.go/pkg/editing"
	"github.com/pulseboard/collab.go/pkg/logger"
	"github.com/pulseboard/collab.go/pkg/notify"
	"github.com/pulseboard/collab.go/pkg/presence"
)

// Identity names the local user across every collaboration feature.
type Identity struct {
	UserID      string
	DisplayName string
	Avatar      string
}

// Config configures a Client. Transport, ProjectID and User.UserID are
// required; everything else has working defaults. Features are on unless
// explicitly disabled.
type Config struct {
	Transport channel.Transport
	ProjectID string
	User      Identity

	Logger logger.Logger

	DisablePresence      bool
	DisableCursors       bool
	DisableNotifications bool

	// Alerter surfaces platform alerts for incoming notifications.
	Alerter notify.Alerter

	// PollInterval overrides the connection status sampling cadence.
	PollInterval time.Duration

	// Presence tuning. Zero values take the package defaults.
	AwayAfter             time.Duration
	OfflineAfter          time.Duration
	PresenceCheckInterval time.Duration

	// Cursor tuning.
	CursorMinInterval time.Duration
	CursorMinDelta    float64
	CursorMaxAge      time.Duration

	// Editing tuning.
	SessionTimeout time.Duration
	EditingTimeout time.Duration
}

// Client is the single entry point to the collaboration subsystem. It
// owns one Hub over the configured transport and wires the presence,
// cursor, editing and notification components onto it, both outbound
// (their publishes) and inbound (channel events routed to their Apply
// methods).
type Client struct {
	cfg Config
	log logger.Logger

	hub      *channel.Hub
	presence *presence.Tracker
	cursors  *cursor.Tracker
	editing  *editing.Coordinator
	center   *notify.Center
	sender   *notify.Sender

	mu          sync.Mutex
	unsubs      []func()
	editingSubs map[string]func()
	closed      bool
}

// New builds a Client, subscribes the enabled feature channels and
// announces the local user as online. The caller keeps ownership of the
// transport's lifecycle; Close tears down everything the Client created.
func New(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, ErrNoTransport
	}
	if cfg.ProjectID == "" {
		return nil, ErrNoProject
	}
	if cfg.User.UserID == "" {
		return nil, ErrNoUser
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	hub, err := channel.NewHub(channel.HubConfig{
		Transport:    cfg.Transport,
		Logger:       log,
		PollInterval: cfg.PollInterval,
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:         cfg,
		log:         log,
		hub:         hub,
		editingSubs: make(map[string]func()),
	}

	c.editing = editing.NewCoordinator(editing.Config{
		UserID:         cfg.User.UserID,
		DisplayName:    cfg.User.DisplayName,
		Avatar:         cfg.User.Avatar,
		Publish:        c.publishSessionEvent,
		Logger:         log,
		SessionTimeout: cfg.SessionTimeout,
		EditingTimeout: cfg.EditingTimeout,
	})

	if !cfg.DisableNotifications {
		c.center = notify.NewCenter(notify.CenterConfig{
			UserID:  cfg.User.UserID,
			Alerter: cfg.Alerter,
			Logger:  log,
		})
		c.sender = notify.NewSender(hub, log)
		if err := c.subscribe(channel.Descriptor{
			Kind:   channel.KindNotifications,
			UserID: cfg.User.UserID,
		}, c.center.ApplyEvent); err != nil {
			hub.Close()
			return nil, err
		}
	}

	if !cfg.DisableCursors {
		c.cursors = cursor.NewTracker(cursor.Config{
			UserID:      cfg.User.UserID,
			DisplayName: cfg.User.DisplayName,
			Avatar:      cfg.User.Avatar,
			Publish:     c.publishCursor,
			Logger:      log,
			MinInterval: cfg.CursorMinInterval,
			MinDelta:    cfg.CursorMinDelta,
			MaxAge:      cfg.CursorMaxAge,
		})
		if err := c.subscribe(channel.Descriptor{
			Kind:      channel.KindCursorTracking,
			ProjectID: cfg.ProjectID,
		}, c.applyCursorEvent); err != nil {
			hub.Close()
			return nil, err
		}
	}

	if !cfg.DisablePresence {
		c.presence = presence.NewTracker(presence.Config{
			UserID:        cfg.User.UserID,
			DisplayName:   cfg.User.DisplayName,
			Avatar:        cfg.User.Avatar,
			Publish:       c.publishPresence,
			Logger:        log,
			AwayAfter:     cfg.AwayAfter,
			OfflineAfter:  cfg.OfflineAfter,
			CheckInterval: cfg.PresenceCheckInterval,
		})
		if err := c.subscribe(channel.Descriptor{
			Kind:      channel.KindPresence,
			ProjectID: cfg.ProjectID,
		}, c.applyPresenceEvent); err != nil {
			hub.Close()
			return nil, err
		}
		c.presence.Start()
	}

	return c, nil
}

func (c *Client) subscribe(d channel.Descriptor, handler func(channel.Event)) error {
	unsub, err := c.hub.Subscribe(d, handler)
	if err != nil {
		return err
	}
	c.unsubs = append(c.unsubs, unsub)
	return nil
}

// Outbound wiring. Component publishes are fire-and-forget broadcasts;
// transport failures surface through the connection status instead.

func (c *Client) publishPresence(p presence.UserPresence) {
	desc := channel.Descriptor{Kind: channel.KindPresence, ProjectID: c.cfg.ProjectID}
	_ = c.hub.Broadcast(context.Background(), desc, p)
}

func (c *Client) publishCursor(cur cursor.Cursor) {
	desc := channel.Descriptor{Kind: channel.KindCursorTracking, ProjectID: c.cfg.ProjectID}
	_ = c.hub.Broadcast(context.Background(), desc, cur)
}

func (c *Client) publishSessionEvent(ev editing.SessionEvent) {
	desc := channel.Descriptor{Kind: channel.KindCollaborativeEditing, WorkItemID: ev.ResourceID}
	_ = c.hub.Broadcast(context.Background(), desc, ev)
}

// Inbound wiring.

func (c *Client) applyPresenceEvent(event channel.Event) {
	var p presence.UserPresence
	if err := event.Decode(&p); err != nil {
		c.log.Debug("dropping undecodable presence event", "err", err)
		return
	}
	c.presence.Apply(p)
}

func (c *Client) applyCursorEvent(event channel.Event) {
	var cur cursor.Cursor
	if err := event.Decode(&cur); err != nil {
		c.log.Debug("dropping undecodable cursor event", "err", err)
		return
	}
	c.cursors.Apply(cur)
}

func (c *Client) applySessionEvent(event channel.Event) {
	var ev editing.SessionEvent
	if err := event.Decode(&ev); err != nil {
		c.log.Debug("dropping undecodable session event", "err", err)
		return
	}
	c.editing.Apply(ev)
}

// Connection surface.

// State returns the observed connection state and last error message.
func (c *Client) State() (channel.State, string) {
	return c.hub.State()
}

// Status returns the transport's introspection data.
func (c *Client) Status() channel.ConnectionStatus {
	return c.hub.Status()
}

// SubscriptionCount returns the number of distinct channel subscriptions
// the client currently holds.
func (c *Client) SubscriptionCount() int {
	return c.hub.SubscriptionCount()
}

// Reconnect asks the transport to re-establish its connection.
func (c *Client) Reconnect(ctx context.Context) {
	c.hub.Reconnect(ctx)
}

// SubscribeUpdates attaches a handler to a project, work item or sprint
// update channel for application-level data changes. The returned
// function detaches it.
func (c *Client) SubscribeUpdates(d channel.Descriptor, handler func(channel.Event)) (func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.mu.Unlock()
	return c.hub.Subscribe(d, handler)
}

// Presence surface.

// RecordActivity registers a local input signal, resetting the idle clock.
func (c *Client) RecordActivity() {
	if c.presence != nil {
		c.presence.Activity()
	}
}

// SetVisible maps tab visibility onto the presence status.
func (c *Client) SetVisible(visible bool) {
	if c.presence != nil {
		c.presence.SetVisible(visible)
	}
}

// SetCurrentPage records a navigation in the local presence record.
func (c *Client) SetCurrentPage(path string) {
	if c.presence != nil {
		c.presence.SetCurrentPage(path)
	}
}

// SetCurrentWorkItem records which work item the user is viewing.
func (c *Client) SetCurrentWorkItem(id string) {
	if c.presence != nil {
		c.presence.SetCurrentWorkItem(id)
	}
}

// UpdatePresence merges metadata into the local presence record.
func (c *Client) UpdatePresence(status presence.Status, meta presence.Metadata) {
	if c.presence != nil {
		c.presence.UpdatePresence(status, meta)
	}
}

// Presence returns every known presence record keyed by user id.
func (c *Client) Presence() map[string]presence.UserPresence {
	if c.presence == nil {
		return map[string]presence.UserPresence{}
	}
	return c.presence.Snapshot()
}

// IsUserOnline reports whether the user is online and fresh.
func (c *Client) IsUserOnline(userID string) bool {
	return c.presence != nil && c.presence.IsUserOnline(userID)
}

// OnlineCount returns how many known users are online, local included.
func (c *Client) OnlineCount() int {
	if c.presence == nil {
		return 0
	}
	return c.presence.OnlineCount()
}

// Cursor surface.

// EnableCursorTracking toggles local cursor capture. Disabling hides the
// local cursor on peers.
func (c *Client) EnableCursorTracking(enabled bool) {
	if c.cursors == nil {
		return
	}
	if enabled {
		c.cursors.StartTracking()
	} else {
		c.cursors.StopTracking()
	}
}

// UpdateCursor captures a pointer position, subject to the throttle.
func (c *Client) UpdateCursor(x, y float64, elementID string) {
	if c.cursors != nil {
		c.cursors.Update(x, y, elementID)
	}
}

// CursorLeft hides the local cursor on peers immediately.
func (c *Client) CursorLeft() {
	if c.cursors != nil {
		c.cursors.Leave()
	}
}

// Cursors returns the raw tracked cursor set.
func (c *Client) Cursors() []cursor.Cursor {
	if c.cursors == nil {
		return nil
	}
	return c.cursors.Cursors()
}

// VisibleCursors returns the render-ready cursor subset for the given
// viewport. Pass zero dimensions to skip the bounds check.
func (c *Client) VisibleCursors(viewportW, viewportH float64) []cursor.Cursor {
	if c.cursors == nil {
		return nil
	}
	return c.cursors.Visible(viewportW, viewportH)
}

// Editing surface.

// JoinSession joins the editing session for a work item, subscribing its
// session channel on first join.
func (c *Client) JoinSession(resourceID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if _, ok := c.editingSubs[resourceID]; !ok {
		unsub, err := c.hub.Subscribe(channel.Descriptor{
			Kind:       channel.KindCollaborativeEditing,
			WorkItemID: resourceID,
		}, c.applySessionEvent)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.editingSubs[resourceID] = unsub
	}
	c.mu.Unlock()

	c.editing.JoinSession(resourceID)
	return nil
}

// LeaveSession leaves the editing session and drops its channel
// subscription. Safe to call when not joined.
func (c *Client) LeaveSession(resourceID string) {
	c.editing.LeaveSession(resourceID)

	c.mu.Lock()
	unsub, ok := c.editingSubs[resourceID]
	if ok {
		delete(c.editingSubs, resourceID)
	}
	c.mu.Unlock()

	if ok {
		unsub()
	}
}

// UpdateEditingStatus announces which field the local user is editing.
func (c *Client) UpdateEditingStatus(resourceID string, isEditing bool, field string) {
	c.editing.UpdateEditingStatus(resourceID, isEditing, field)
}

// Session returns the known editing session for a work item.
func (c *Client) Session(resourceID string) (editing.Session, bool) {
	return c.editing.Session(resourceID)
}

// EditingUsers returns the other users currently editing a field.
func (c *Client) EditingUsers(resourceID, field string) []editing.User {
	return c.editing.EditingUsers(resourceID, field)
}

// NewAutosave returns a debounced autosaver bound to one field of a
// joined session. Pass a zero delay for the default.
func (c *Client) NewAutosave(resourceID, field string, delay time.Duration, save editing.SaveFunc) *editing.Autosave {
	return c.editing.NewAutosave(resourceID, field, delay, save)
}

// Notification surface.

// SendNotification delivers a notification to its recipient's channel.
func (c *Client) SendNotification(ctx context.Context, n notify.Notification) error {
	if c.sender == nil {
		return ErrDisabled
	}
	c.sender.Send(ctx, n)
	return nil
}

// Notifications returns the local notification list, most recent first.
func (c *Client) Notifications() []notify.Notification {
	if c.center == nil {
		return nil
	}
	return c.center.Notifications()
}

// UnreadCount returns how many local notifications are unread.
func (c *Client) UnreadCount() int {
	if c.center == nil {
		return 0
	}
	return c.center.UnreadCount()
}

// MarkNotificationRead flips one notification to read.
func (c *Client) MarkNotificationRead(id string) bool {
	return c.center != nil && c.center.MarkAsRead(id)
}

// MarkAllNotificationsRead flips every unread notification.
func (c *Client) MarkAllNotificationsRead() {
	if c.center != nil {
		c.center.MarkAllAsRead()
	}
}

// ClearNotifications empties the local list without touching the backend.
func (c *Client) ClearNotifications() {
	if c.center != nil {
		c.center.Clear()
	}
}

// Close tears the client down: editing sessions are left, the local
// cursor is hidden, a final offline presence is published, every channel
// subscription is released and the hub stops. The transport itself stays
// open for its owner. Close is idempotent.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	editingSubs := c.editingSubs
	c.editingSubs = map[string]func(){}
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	c.editing.Close()
	if c.cursors != nil {
		c.cursors.StopTracking()
	}
	if c.presence != nil {
		c.presence.Stop()
	}

	for _, unsub := range editingSubs {
		unsub()
	}
	for _, unsub := range unsubs {
		unsub()
	}

	c.hub.Close()
	return ctx.Err()
}
