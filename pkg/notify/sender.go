package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/collab.go/pkg/channel"
	"github.com/pulseboard/collab.go/pkg/logger"
)

// Publisher publishes an event onto a channel. Satisfied by
// *channel.Hub.
type Publisher interface {
	Publish(ctx context.Context, desc channel.Descriptor, event channel.Event) error
}

// Sender is the send side: it addresses notifications to other users'
// notification channels.
type Sender struct {
	pub Publisher
	log logger.Logger

	now func() time.Time
}

// NewSender creates a Sender publishing through pub.
func NewSender(pub Publisher, log logger.Logger) *Sender {
	if log == nil {
		log = logger.Nop()
	}
	return &Sender{pub: pub, log: log, now: time.Now}
}

// Send delivers a notification to its recipient's channel. Fire and
// forget: a transport failure is logged, not returned, since in-app
// notifications are advisory. A missing ID or CreatedAt is filled in.
func (s *Sender) Send(ctx context.Context, n Notification) {
	if n.UserID == "" {
		s.log.Warn("dropping notification without recipient", "type", n.Type)
		return
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}

	event, err := channel.NewInsert(n)
	if err != nil {
		s.log.Warn("failed to encode notification", "err", err)
		return
	}

	desc := channel.Descriptor{Kind: channel.KindNotifications, UserID: n.UserID}
	if err := s.pub.Publish(ctx, desc, event); err != nil {
		s.log.Warn("failed to publish notification", "recipient", n.UserID, "err", err)
	}
}
