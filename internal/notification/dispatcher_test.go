package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamly/travel-app/internal/messaging"
)

type fakeCreator struct {
	created []*Notification
	err     error
}

func (f *fakeCreator) Create(_ context.Context, n *Notification) error {
	if f.err != nil {
		return f.err
	}
	n.ID = "n-1"
	f.created = append(f.created, n)
	return nil
}

type fakePresence struct {
	online bool
	err    error
}

func (f *fakePresence) IsOnline(context.Context, string) (bool, error) {
	return f.online, f.err
}

type fakePublisher struct {
	published []messaging.NotificationEvent
	err       error
}

func (f *fakePublisher) PublishNotification(ev messaging.NotificationEvent) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, ev)
	return nil
}

func TestDispatch_OnlineUserGetsPush(t *testing.T) {
	store := &fakeCreator{}
	pub := &fakePublisher{}
	d := NewDispatcher(store, &fakePresence{online: true}, pub)

	err := d.Dispatch(context.Background(), &Notification{
		UserID: "u1",
		Type:   "booking_confirmed",
		Title:  "Booking confirmed",
	})
	require.NoError(t, err)

	require.Len(t, store.created, 1, "row must be written")
	require.Len(t, pub.published, 1, "online user gets exactly one push")
	assert.Equal(t, "u1", pub.published[0].UserID)
	assert.Equal(t, "booking_confirmed", pub.published[0].Type)
	assert.Equal(t, "n-1", pub.published[0].ID, "push carries the persisted row's id")
}

func TestDispatch_OfflineUserGetsNoPush(t *testing.T) {
	store := &fakeCreator{}
	pub := &fakePublisher{}
	d := NewDispatcher(store, &fakePresence{online: false}, pub)

	err := d.Dispatch(context.Background(), &Notification{UserID: "u1", Type: "x"})
	require.NoError(t, err)

	assert.Len(t, store.created, 1, "row is written regardless of presence")
	assert.Empty(t, pub.published, "offline user must not be pushed")
}

// Presence lookup failure means presence is unknown; the contract is to
// treat the user as offline, not to fail the request.
func TestDispatch_PresenceFailureTreatedAsOffline(t *testing.T) {
	store := &fakeCreator{}
	pub := &fakePublisher{}
	d := NewDispatcher(store, &fakePresence{err: errors.New("redis down")}, pub)

	err := d.Dispatch(context.Background(), &Notification{UserID: "u1", Type: "x"})
	assert.NoError(t, err)
	assert.Len(t, store.created, 1)
	assert.Empty(t, pub.published)
}

// A publish failure after the durable write is swallowed: the unread row
// already guarantees eventual delivery.
func TestDispatch_PublishFailureSwallowed(t *testing.T) {
	store := &fakeCreator{}
	pub := &fakePublisher{err: errors.New("nats down")}
	d := NewDispatcher(store, &fakePresence{online: true}, pub)

	err := d.Dispatch(context.Background(), &Notification{UserID: "u1", Type: "x"})
	assert.NoError(t, err)
	assert.Len(t, store.created, 1)
}

// The durable write failing is the one error that must reach the caller,
// and nothing may be published.
func TestDispatch_CreateFailurePropagates(t *testing.T) {
	store := &fakeCreator{err: errors.New("pg down")}
	pub := &fakePublisher{}
	d := NewDispatcher(store, &fakePresence{online: true}, pub)

	err := d.Dispatch(context.Background(), &Notification{UserID: "u1", Type: "x"})
	assert.Error(t, err)
	assert.Empty(t, pub.published, "nothing published when the write failed")
}
