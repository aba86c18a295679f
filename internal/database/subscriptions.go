package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"feedhub/internal/models"
)

// UpsertSubscription inserts or replaces the subscription for a feed. A feed
// has at most one subscription.
func (db *DB) UpsertSubscription(ctx context.Context, sub *models.PushSubscription) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (feed_id, hub_url, topic_url, callback_token, secret, state, lease_expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed_id) DO UPDATE SET
			hub_url = excluded.hub_url,
			topic_url = excluded.topic_url,
			callback_token = excluded.callback_token,
			secret = excluded.secret,
			state = excluded.state,
			lease_expires_at = excluded.lease_expires_at,
			updated_at = excluded.updated_at`,
		sub.FeedID, sub.HubURL, sub.TopicURL, sub.CallbackToken, sub.Secret,
		sub.State, sub.LeaseExpiresAt, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription for feed %d: %w", sub.FeedID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		sub.ID = id
	}
	return nil
}

// SubscriptionByToken resolves an inbound callback to its subscription.
func (db *DB) SubscriptionByToken(ctx context.Context, token string) (*models.PushSubscription, error) {
	var sub models.PushSubscription
	err := db.GetContext(ctx, &sub,
		`SELECT * FROM push_subscriptions WHERE callback_token = ?`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription by token: %w", err)
	}
	return &sub, nil
}

// SubscriptionByFeed returns the subscription for a feed, if any.
func (db *DB) SubscriptionByFeed(ctx context.Context, feedID int64) (*models.PushSubscription, error) {
	var sub models.PushSubscription
	err := db.GetContext(ctx, &sub,
		`SELECT * FROM push_subscriptions WHERE feed_id = ?`, feedID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription for feed %d: %w", feedID, err)
	}
	return &sub, nil
}

// UpdateSubscriptionState transitions a subscription and keeps the feed's
// denormalized push_state in step.
func (db *DB) UpdateSubscriptionState(ctx context.Context, subID int64, state string, leaseExpiresAt *time.Time, now time.Time) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin subscription transaction: %w", err)
	}
	defer tx.Rollback()

	var lease sql.NullTime
	if leaseExpiresAt != nil {
		lease = sql.NullTime{Time: *leaseExpiresAt, Valid: true}
	}

	var feedID int64
	if err := tx.GetContext(ctx, &feedID,
		`SELECT feed_id FROM push_subscriptions WHERE id = ?`, subID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load subscription %d: %w", subID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE push_subscriptions SET state = ?, lease_expires_at = ?, updated_at = ?
		WHERE id = ?`,
		state, lease, now, subID); err != nil {
		return fmt.Errorf("failed to update subscription %d: %w", subID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE feeds SET push_state = ?, updated_at = ? WHERE id = ?`,
		state, now, feedID); err != nil {
		return fmt.Errorf("failed to update push state for feed %d: %w", feedID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit subscription update: %w", err)
	}
	return nil
}

// ExpiringSubscriptions returns active subscriptions whose lease elapses
// before the given deadline, for the renewal sweep.
func (db *DB) ExpiringSubscriptions(ctx context.Context, before time.Time) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := db.SelectContext(ctx, &subs, `
		SELECT * FROM push_subscriptions
		WHERE state = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?
		ORDER BY lease_expires_at ASC`,
		models.PushStateActive, before)
	if err != nil {
		return nil, fmt.Errorf("failed to load expiring subscriptions: %w", err)
	}
	return subs, nil
}
