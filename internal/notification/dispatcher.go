package notification

import (
	"context"
	"fmt"
	"log"

	"github.com/roamly/travel-app/internal/messaging"
	"github.com/roamly/travel-app/internal/metrics"
)

// Creator persists notification rows. Satisfied by *Store.
type Creator interface {
	Create(ctx context.Context, n *Notification) error
}

// OnlineChecker answers cluster-wide presence queries. Satisfied by
// *presence.Coordinator.
type OnlineChecker interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// PushPublisher publishes notification events on the broadcast fabric.
// Satisfied by *messaging.Client.
type PushPublisher interface {
	PublishNotification(ev messaging.NotificationEvent) error
}

// Dispatcher implements the delivery contract: best-effort realtime,
// guaranteed eventual. It writes the row first, then pushes only if the
// target user is online somewhere in the cluster. Any failure after the
// durable write is logged and swallowed — the row already guarantees
// eventual delivery.
type Dispatcher struct {
	store    Creator
	presence OnlineChecker
	fabric   PushPublisher
}

// NewDispatcher wires the dispatcher's collaborators.
func NewDispatcher(store Creator, presence OnlineChecker, fabric PushPublisher) *Dispatcher {
	return &Dispatcher{store: store, presence: presence, fabric: fabric}
}

// Dispatch persists the notification and attempts at most one push. The
// returned error is non-nil only when the durable write failed; the caller's
// request must then fail visibly. Push-side failures (presence lookup,
// publish) never propagate.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notification) error {
	if err := d.store.Create(ctx, n); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	online, err := d.presence.IsOnline(ctx, n.UserID)
	if err != nil {
		// Presence unknown: treat as offline. The unread row covers delivery.
		log.Printf("[notify] presence check failed user=%s: %v", n.UserID, err)
		return nil
	}
	if !online {
		return nil
	}

	ev := messaging.NotificationEvent{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		CreatedAt: n.CreatedAt.Unix(),
	}
	if err := d.fabric.PublishNotification(ev); err != nil {
		metrics.PublishFailures.WithLabelValues(messaging.SubjectNotifications).Inc()
		log.Printf("[notify] publish failed id=%s user=%s: %v", n.ID, n.UserID, err)
	}
	return nil
}
