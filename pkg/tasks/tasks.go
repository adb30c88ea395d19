// Package tasks defines the messages exchanged over Kafka.
package tasks

import "time"

// SubscriptionEvent announces that a user's subscription tier changed.
// Source identifies the publisher (admin api, billing webhook).
type SubscriptionEvent struct {
	EventID    string    `json:"event_id"`
	UserID     uint      `json:"user_id"`
	Tier       string    `json:"tier"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
}
