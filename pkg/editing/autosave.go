package editing

import (
	"context"
	"sync"
	"time"

	"github.com/pulseboard/collab.go/internal/deferred"
)

// DefaultAutosaveDelay is the debounce applied after the last keystroke.
const DefaultAutosaveDelay = 2 * time.Second

// SaveFunc persists a field's value. It is invoked off the caller's path
// when a debounced flush fires.
type SaveFunc func(ctx context.Context, value string) error

// Autosave binds one text field to the editing coordinator. Local edits
// take effect in memory immediately, mark the value dirty, and schedule
// a debounced flush through the injected save function. Focus and blur
// drive the field's editing indicator; blur cancels the pending flush
// without discarding the value.
type Autosave struct {
	coord      *Coordinator
	resourceID string
	field      string
	delay      time.Duration
	save       SaveFunc

	mu    sync.Mutex
	value string
	dirty bool

	flush *deferred.Action
}

// NewAutosave creates an Autosave for one field of a joined resource.
func (c *Coordinator) NewAutosave(resourceID, field string, delay time.Duration, save SaveFunc) *Autosave {
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}
	a := &Autosave{
		coord:      c,
		resourceID: resourceID,
		field:      field,
		delay:      delay,
		save:       save,
	}
	a.flush = deferred.New(func() {
		if err := a.Flush(context.Background()); err != nil {
			c.cfg.Logger.Warn("autosave flush failed",
				"resource_id", resourceID, "field", field, "err", err)
		}
	})
	return a
}

// Focus marks the field as being edited by the local user.
func (a *Autosave) Focus() {
	a.coord.UpdateEditingStatus(a.resourceID, true, a.field)
}

// Blur clears the editing indicator and cancels any scheduled flush. The
// latest value is kept; an explicit Flush or the next edit's flush still
// persists it.
func (a *Autosave) Blur() {
	a.flush.Cancel()
	a.coord.UpdateEditingStatus(a.resourceID, false, "")
}

// SetValue applies a local edit immediately and schedules the debounced
// flush.
func (a *Autosave) SetValue(value string) {
	a.mu.Lock()
	a.value = value
	a.dirty = true
	a.mu.Unlock()

	a.flush.Arm(a.delay)
}

// Value returns the current in-memory value.
func (a *Autosave) Value() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

// Dirty reports whether there are unsaved changes.
func (a *Autosave) Dirty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dirty
}

// Flush persists the current value now if it is dirty. The dirty flag is
// cleared only on success.
func (a *Autosave) Flush(ctx context.Context) error {
	a.mu.Lock()
	if !a.dirty {
		a.mu.Unlock()
		return nil
	}
	value := a.value
	a.mu.Unlock()

	if a.save != nil {
		if err := a.save(ctx, value); err != nil {
			return err
		}
	}

	a.mu.Lock()
	// a newer edit during the save stays dirty
	if a.value == value {
		a.dirty = false
	}
	a.mu.Unlock()
	return nil
}

// Close cancels any pending flush without saving.
func (a *Autosave) Close() {
	a.flush.Cancel()
}
