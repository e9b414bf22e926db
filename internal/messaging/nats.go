// Package messaging is the broadcast fabric: a thin NATS layer that fans
// "a durable write happened" events out to every process in the cluster.
// Each process subscribes to all three subjects at startup and forwards
// events to its own locally registered connections; processes with no
// matching connection discard the event, which is expected and not an error.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Fabric subjects. NATS preserves publish order per subject, which is what
// gives a single chat its in-order delivery guarantee.
const (
	SubjectChatEvents    = "chat.events"
	SubjectNotifications = "notification.push"
	SubjectPresence      = "presence.events"
)

// Client wraps the NATS connection with typed publish/subscribe helpers.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "roamly-realtime",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewClient connects to NATS with the given config. The connection retries
// in the background if the server is unreachable at startup, so a fabric
// outage delays fan-out but never prevents the process from starting.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[fabric] disconnected: %v", err)
			} else {
				log.Printf("[fabric] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[fabric] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[fabric] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("fabric connect: %w", err)
	}

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishChatEvent publishes a chat event on the chat subject. Callers must
// only invoke this after the corresponding durable write succeeded.
func (c *Client) PublishChatEvent(ev ChatEvent) error {
	return c.publishJSON(SubjectChatEvents, ev)
}

// PublishNotification publishes a notification push event.
func (c *Client) PublishNotification(ev NotificationEvent) error {
	return c.publishJSON(SubjectNotifications, ev)
}

// PublishPresence publishes a presence transition event.
func (c *Client) PublishPresence(ev PresenceEvent) error {
	return c.publishJSON(SubjectPresence, ev)
}

func (c *Client) publishJSON(subject string, ev interface{}) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("fabric marshal %s: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("fabric publish %s: %w", subject, err)
	}
	return nil
}

// SubscribeChatEvents registers the handler for chat events. Undecodable
// payloads are logged and dropped.
func (c *Client) SubscribeChatEvents(handler func(ChatEvent)) error {
	return c.subscribe(SubjectChatEvents, func(msg *nats.Msg) {
		var ev ChatEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[fabric] bad chat event: %v", err)
			return
		}
		handler(ev)
	})
}

// SubscribeNotifications registers the handler for notification pushes.
func (c *Client) SubscribeNotifications(handler func(NotificationEvent)) error {
	return c.subscribe(SubjectNotifications, func(msg *nats.Msg) {
		var ev NotificationEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[fabric] bad notification event: %v", err)
			return
		}
		handler(ev)
	})
}

// SubscribePresence registers the handler for presence transitions.
func (c *Client) SubscribePresence(handler func(PresenceEvent)) error {
	return c.subscribe(SubjectPresence, func(msg *nats.Msg) {
		var ev PresenceEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[fabric] bad presence event: %v", err)
			return
		}
		handler(ev)
	})
}

func (c *Client) subscribe(subject string, handler nats.MsgHandler) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("fabric subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all subscriptions and the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[fabric] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[fabric] connection drain: %v", err)
	}
}
