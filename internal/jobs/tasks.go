package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/roamly/travel-app/internal/inquiry"
	"github.com/roamly/travel-app/internal/notification"
	"github.com/roamly/travel-app/internal/typing"
)

const (
	// TypingScanInterval is how often the safety-net counts typing keys.
	TypingScanInterval = 1 * time.Minute

	// TypingAnomalyThreshold is the outstanding-indicator count above which
	// the safety-net logs a warning. With a 5s TTL, anything near this
	// number means key expiry is probably disabled on the shared store.
	TypingAnomalyThreshold = 10000

	// NotificationRetention is how long read notifications are kept.
	NotificationRetention = 30 * 24 * time.Hour

	// InquiryMaxAge is how long an inquiry may stay pending before the
	// expiration sweep transitions it.
	InquiryMaxAge = 7 * 24 * time.Hour
)

// NewTypingSafetyNet returns the every-minute typing anomaly scan. It is
// pure observability: it only counts and logs, never deletes — expiry is
// the correctness mechanism and this job just notices when expiry stops
// working.
func NewTypingSafetyNet(store *typing.Store) *Job {
	return NewInterval("typing-safety-net", TypingScanInterval, func(ctx context.Context) error {
		count, err := store.Count(ctx)
		if err != nil {
			return fmt.Errorf("count typing keys: %w", err)
		}
		if count > TypingAnomalyThreshold {
			log.Printf("jobs: typing-safety-net ANOMALY: %d outstanding indicators (threshold %d) — check store key expiry",
				count, TypingAnomalyThreshold)
		}
		return nil
	})
}

// NewNotificationRetention returns the daily sweep that deletes read
// notifications older than the retention window.
func NewNotificationRetention(store *notification.Store, hour int) *Job {
	return NewDaily("notification-retention", hour, func(ctx context.Context) error {
		n, err := store.PruneRead(ctx, NotificationRetention)
		if err != nil {
			return fmt.Errorf("prune notifications: %w", err)
		}
		if n > 0 {
			log.Printf("jobs: notification-retention pruned %d rows", n)
		}
		return nil
	})
}

// NewInquiryExpiration returns the daily sweep that transitions stale
// pending inquiries to expired.
func NewInquiryExpiration(store *inquiry.Store, hour int) *Job {
	return NewDaily("inquiry-expiration", hour, func(ctx context.Context) error {
		n, err := store.ExpireStale(ctx, InquiryMaxAge)
		if err != nil {
			return fmt.Errorf("expire inquiries: %w", err)
		}
		if n > 0 {
			log.Printf("jobs: inquiry-expiration transitioned %d inquiries", n)
		}
		return nil
	})
}
