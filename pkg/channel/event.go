package channel

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags the change carried by an Event.
type EventType string

const (
	EventInsert    EventType = "INSERT"
	EventUpdate    EventType = "UPDATE"
	EventDelete    EventType = "DELETE"
	EventBroadcast EventType = "BROADCAST"
)

// Event is the tagged union crossing the channel boundary. Database-change
// kinds carry Table plus New/Old rows; broadcast kinds (presence, cursors,
// editing sessions) carry the record in New. Payloads stay raw JSON until a
// consumer narrows them with Decode, so an unknown payload never reaches
// typed component logic.
type Event struct {
	Type      EventType       `json:"event_type"`
	Table     string          `json:"table,omitempty"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Validate checks the tag and presence of the payload expected for it.
func (e Event) Validate() error {
	switch e.Type {
	case EventInsert, EventUpdate, EventBroadcast:
		if len(e.New) == 0 {
			return fmt.Errorf("%w: %s event without payload", ErrInvalidEvent, e.Type)
		}
	case EventDelete:
		if len(e.Old) == 0 && len(e.New) == 0 {
			return fmt.Errorf("%w: DELETE event without payload", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// Decode unmarshals the event's New payload into v.
func (e Event) Decode(v any) error {
	if len(e.New) == 0 {
		return fmt.Errorf("%w: no payload to decode", ErrInvalidEvent)
	}
	if err := json.Unmarshal(e.New, v); err != nil {
		return fmt.Errorf("decode event payload: %w", err)
	}
	return nil
}

// DecodeOld unmarshals the event's Old payload into v.
func (e Event) DecodeOld(v any) error {
	if len(e.Old) == 0 {
		return fmt.Errorf("%w: no old payload to decode", ErrInvalidEvent)
	}
	if err := json.Unmarshal(e.Old, v); err != nil {
		return fmt.Errorf("decode event old payload: %w", err)
	}
	return nil
}

// NewBroadcast wraps payload in a BROADCAST event stamped with the current
// time.
func NewBroadcast(payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal broadcast payload: %w", err)
	}
	return Event{
		Type:      EventBroadcast,
		New:       raw,
		Timestamp: time.Now(),
	}, nil
}

// NewInsert wraps payload in an INSERT event stamped with the current
// time.
func NewInsert(payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal insert payload: %w", err)
	}
	return Event{
		Type:      EventInsert,
		New:       raw,
		Timestamp: time.Now(),
	}, nil
}
