package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishRecorder struct {
	mu      sync.Mutex
	records []UserPresence
}

func (r *publishRecorder) publish(p UserPresence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, p)
}

func (r *publishRecorder) last() (UserPresence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return UserPresence{}, false
	}
	return r.records[len(r.records)-1], true
}

func (r *publishRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func newTestTracker(t *testing.T) (*Tracker, *publishRecorder, *time.Time) {
	t.Helper()
	rec := &publishRecorder{}
	tr := NewTracker(Config{
		UserID:      "u1",
		DisplayName: "Ada",
		Publish:     rec.publish,
		// long interval so the background loop stays out of the way;
		// tests drive check() directly
		CheckInterval: time.Hour,
	})
	clock := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	now := &clock
	tr.now = func() time.Time { return *now }
	tr.Start()
	t.Cleanup(tr.Stop)
	return tr, rec, now
}

func TestStartPublishesOnline(t *testing.T) {
	_, rec, _ := newTestTracker(t)

	last, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, "u1", last.UserID)
	assert.Equal(t, StatusOnline, last.Status)
}

func TestStopPublishesOffline(t *testing.T) {
	tr, rec, _ := newTestTracker(t)
	tr.Stop()

	last, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, StatusOffline, last.Status)
}

func TestIdleDemotionOnlineAwayOffline(t *testing.T) {
	tr, _, now := newTestTracker(t)

	*now = now.Add(DefaultAwayAfter + time.Second)
	tr.check()
	assert.Equal(t, StatusAway, tr.Local().Status)

	// not yet past the offline threshold
	tr.check()
	assert.Equal(t, StatusAway, tr.Local().Status)

	*now = now.Add(DefaultOfflineAfter)
	tr.check()
	assert.Equal(t, StatusOffline, tr.Local().Status)
}

func TestOfflineDemotionIsAnnouncedOnce(t *testing.T) {
	tr, rec, now := newTestTracker(t)

	*now = now.Add(DefaultAwayAfter + time.Second)
	tr.check()
	*now = now.Add(DefaultOfflineAfter)
	tr.check()
	require.Equal(t, StatusOffline, tr.Local().Status)

	// peers hear about the transition without waiting out their prune
	last, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, StatusOffline, last.Status)
	assert.Equal(t, *now, last.LastSeen)

	// but the heartbeat stays silent while offline
	count := rec.count()
	*now = now.Add(time.Minute)
	tr.check()
	tr.check()
	assert.Equal(t, count, rec.count())
}

func TestActivityPromotesBackToOnline(t *testing.T) {
	tr, _, now := newTestTracker(t)

	*now = now.Add(DefaultOfflineAfter * 2)
	tr.check()
	tr.check()
	require.Equal(t, StatusOffline, tr.Local().Status)

	tr.Activity()
	assert.Equal(t, StatusOnline, tr.Local().Status)
}

func TestVisibilityMapsToStatus(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	tr.SetVisible(false)
	assert.Equal(t, StatusAway, tr.Local().Status)

	tr.SetVisible(true)
	assert.Equal(t, StatusOnline, tr.Local().Status)
}

func TestNavigationKeepsStatus(t *testing.T) {
	tr, rec, _ := newTestTracker(t)

	tr.SetVisible(false)
	require.Equal(t, StatusAway, tr.Local().Status)

	tr.SetCurrentPage("/projects/p1/board")
	local := tr.Local()
	assert.Equal(t, "/projects/p1/board", local.CurrentPage)
	assert.Equal(t, StatusAway, local.Status)

	last, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, "/projects/p1/board", last.CurrentPage)
}

func TestUpdatePresenceMergesMetadata(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	editing := true
	item := "item-1"
	tr.UpdatePresence(StatusOnline, Metadata{CurrentWorkItem: &item, IsEditing: &editing})

	local := tr.Local()
	assert.Equal(t, "item-1", local.CurrentWorkItem)
	assert.True(t, local.IsEditing)
}

func TestIsUserOnlineRequiresFreshness(t *testing.T) {
	tr, _, now := newTestTracker(t)

	tr.Apply(UserPresence{UserID: "u2", Status: StatusOnline, LastSeen: *now})
	assert.True(t, tr.IsUserOnline("u2"))

	// online status with a 5 minute old LastSeen is not online
	*now = now.Add(5 * time.Minute)
	assert.False(t, tr.IsUserOnline("u2"))
}

func TestApplyIgnoresOwnEchoes(t *testing.T) {
	tr, _, now := newTestTracker(t)

	tr.Apply(UserPresence{UserID: "u1", Status: StatusOffline, LastSeen: *now})
	assert.Equal(t, StatusOnline, tr.Local().Status)

	snapshot := tr.Snapshot()
	assert.Len(t, snapshot, 1)
}

func TestStalePeersArePruned(t *testing.T) {
	tr, _, now := newTestTracker(t)

	tr.Apply(UserPresence{UserID: "u2", Status: StatusOnline, LastSeen: *now})
	require.Contains(t, tr.Snapshot(), "u2")

	*now = now.Add(DefaultStaleAfter + time.Second)
	tr.check()
	assert.NotContains(t, tr.Snapshot(), "u2")
}

func TestOnlineCount(t *testing.T) {
	tr, _, now := newTestTracker(t)

	tr.Apply(UserPresence{UserID: "u2", Status: StatusOnline, LastSeen: *now})
	tr.Apply(UserPresence{UserID: "u3", Status: StatusAway, LastSeen: *now})
	tr.Apply(UserPresence{UserID: "u4", Status: StatusOnline, LastSeen: now.Add(-10 * time.Minute)})

	// local + u2; u3 is away, u4 is stale
	assert.Equal(t, 2, tr.OnlineCount())
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	tr, rec, now := newTestTracker(t)
	before := rec.count()

	*now = now.Add(time.Minute)
	tr.check()

	require.Greater(t, rec.count(), before)
	last, _ := rec.last()
	assert.Equal(t, *now, last.LastSeen)
	assert.Equal(t, StatusOnline, last.Status)
}

func TestStopIsIdempotentAndSilencesUpdates(t *testing.T) {
	tr, rec, _ := newTestTracker(t)
	tr.Stop()
	tr.Stop()

	count := rec.count()
	tr.Activity()
	tr.SetCurrentPage("/anywhere")
	assert.Equal(t, count, rec.count())
}
