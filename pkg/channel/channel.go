// Package channel is the publish/subscribe transport layer of the
// collaboration SDK. A Descriptor names a logical topic (project updates,
// presence, cursors, notifications, collaborative editing), a Transport
// moves typed Events for those topics, and the Hub fans events out to any
// number of local subscribers while keeping exactly one underlying
// subscription per topic.
package channel

import (
	"fmt"
	"strings"
)

// Kind identifies the logical purpose of a channel.
type Kind string

const (
	KindProjectUpdates       Kind = "project_updates"
	KindWorkItemUpdates      Kind = "work_item_updates"
	KindSprintUpdates        Kind = "sprint_updates"
	KindCursorTracking       Kind = "cursor_tracking"
	KindPresence             Kind = "presence"
	KindNotifications        Kind = "notifications"
	KindCollaborativeEditing Kind = "collaborative_editing"
)

// Descriptor identifies one logical topic. Two descriptors with equal
// fields address the same broadcast medium; the Hub dedupes them by Key.
type Descriptor struct {
	Kind       Kind   `json:"kind"`
	ProjectID  string `json:"project_id,omitempty"`
	WorkItemID string `json:"work_item_id,omitempty"`
	SprintID   string `json:"sprint_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

// Validate reports whether the descriptor addresses a well-formed topic.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindProjectUpdates, KindCursorTracking, KindPresence:
		if d.ProjectID == "" {
			return fmt.Errorf("%w: %s requires a project id", ErrInvalidDescriptor, d.Kind)
		}
	case KindWorkItemUpdates, KindCollaborativeEditing:
		if d.WorkItemID == "" {
			return fmt.Errorf("%w: %s requires a work item id", ErrInvalidDescriptor, d.Kind)
		}
	case KindSprintUpdates:
		if d.ProjectID == "" && d.SprintID == "" {
			return fmt.Errorf("%w: %s requires a project or sprint id", ErrInvalidDescriptor, d.Kind)
		}
	case KindNotifications:
		if d.UserID == "" {
			return fmt.Errorf("%w: %s requires a user id", ErrInvalidDescriptor, d.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDescriptor, d.Kind)
	}
	return nil
}

// Key returns the stable compound key for the descriptor. Identical
// descriptors always produce identical keys, so subscribing twice with the
// same fields reuses the existing downstream subscription.
func (d Descriptor) Key() string {
	return strings.Join([]string{
		string(d.Kind), d.ProjectID, d.WorkItemID, d.SprintID, d.UserID,
	}, "|")
}

// Topic returns the wire-level topic name the transports publish on.
func (d Descriptor) Topic() string {
	switch d.Kind {
	case KindProjectUpdates:
		return "project:" + d.ProjectID + ":updates"
	case KindWorkItemUpdates:
		return "work_item:" + d.WorkItemID + ":updates"
	case KindSprintUpdates:
		if d.SprintID != "" {
			return "sprint:" + d.SprintID + ":updates"
		}
		return "project:" + d.ProjectID + ":sprints"
	case KindCursorTracking:
		return "project:" + d.ProjectID + ":cursors"
	case KindPresence:
		return "project:" + d.ProjectID + ":presence"
	case KindCollaborativeEditing:
		return "work_item:" + d.WorkItemID + ":editing"
	case KindNotifications:
		return "user:" + d.UserID + ":notifications"
	}
	return string(d.Kind)
}
