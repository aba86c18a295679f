package models

import (
	"database/sql"
	"time"
)

// PushSubscription represents a row in the 'push_subscriptions' table.
// The callback token names the subscription to the hub; the secret signs
// notification bodies.
type PushSubscription struct {
	ID             int64        `db:"id"`
	FeedID         int64        `db:"feed_id"`
	HubURL         string       `db:"hub_url"`
	TopicURL       string       `db:"topic_url"`
	CallbackToken  string       `db:"callback_token"`
	Secret         string       `db:"secret"`
	State          string       `db:"state"`
	LeaseExpiresAt sql.NullTime `db:"lease_expires_at"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

// Expired reports whether the hub lease has elapsed.
func (s *PushSubscription) Expired(now time.Time) bool {
	return s.LeaseExpiresAt.Valid && !now.Before(s.LeaseExpiresAt.Time)
}
