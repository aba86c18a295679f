// Package push maintains PubSubHubbub subscriptions and receives hub
// notifications, turning them into immediately-due refreshes.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"feedhub/internal/database"
	"feedhub/internal/models"
)

// renewAhead is how long before lease expiry a subscription is renewed.
const renewAhead = 2 * time.Hour

// Store is the slice of the feed store the push subsystem consumes.
type Store interface {
	SubscriptionByFeed(ctx context.Context, feedID int64) (*models.PushSubscription, error)
	SubscriptionByToken(ctx context.Context, token string) (*models.PushSubscription, error)
	UpsertSubscription(ctx context.Context, sub *models.PushSubscription) error
	UpdateSubscriptionState(ctx context.Context, subID int64, state string, leaseExpiresAt *time.Time, now time.Time) error
	ExpiringSubscriptions(ctx context.Context, before time.Time) ([]models.PushSubscription, error)
	SetPushState(ctx context.Context, feedID int64, state string, now time.Time) error
}

// Manager drives the per-subscription state machine:
// none -> pending -> active -> expired -> (renewal) -> pending.
type Manager struct {
	store        Store
	coalescer    *Coalescer
	client       *http.Client
	baseURL      string
	leaseSeconds int
	now          func() time.Time
}

// NewManager creates a Manager. baseURL is the public address hubs call
// back on; an empty baseURL disables subscribing.
func NewManager(store Store, coalescer *Coalescer, baseURL string, leaseSeconds int) *Manager {
	return &Manager{
		store:        store,
		coalescer:    coalescer,
		client:       &http.Client{Timeout: 10 * time.Second},
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		leaseSeconds: leaseSeconds,
		now:          time.Now,
	}
}

// CallbackURL returns the public callback for a subscription token.
func (m *Manager) CallbackURL(token string) string {
	return m.baseURL + "/push/callback/" + token
}

// EnsureSubscribed subscribes the feed at the given hub, or renews an
// existing subscription when the hub changed or the lease is near expiry.
// Called by the orchestrator after a successful fetch that discovered a hub.
func (m *Manager) EnsureSubscribed(ctx context.Context, feedID int64, topicURL, hubURL string) error {
	if m.baseURL == "" {
		return nil
	}

	now := m.now()

	existing, err := m.store.SubscriptionByFeed(ctx, feedID)
	switch {
	case err == nil:
		current := existing.State == models.PushStateActive || existing.State == models.PushStatePending
		fresh := existing.LeaseExpiresAt.Valid && existing.LeaseExpiresAt.Time.After(now.Add(renewAhead))
		if current && existing.HubURL == hubURL && (existing.State == models.PushStatePending || fresh) {
			return nil
		}
	case errors.Is(err, database.ErrNotFound):
		// First discovery of a hub for this feed.
	default:
		return fmt.Errorf("load subscription for feed %d: %w", feedID, err)
	}

	sub := &models.PushSubscription{
		FeedID:        feedID,
		HubURL:        hubURL,
		TopicURL:      topicURL,
		CallbackToken: uuid.NewString(),
		Secret:        uuid.NewString() + uuid.NewString(),
		State:         models.PushStatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.UpsertSubscription(ctx, sub); err != nil {
		return err
	}
	if err := m.store.SetPushState(ctx, feedID, models.PushStatePending, now); err != nil {
		return err
	}

	log.Info().
		Int64("feed_id", feedID).
		Str("hub", hubURL).
		Str("topic", topicURL).
		Msg("Subscribing to push hub")

	return m.hubRequest(ctx, sub, "subscribe")
}

// RenewExpiring re-subscribes active subscriptions whose lease elapses
// within the renewal window. It only enqueues hub requests; it never blocks
// on fetch or parse work.
func (m *Manager) RenewExpiring(ctx context.Context) (int, error) {
	now := m.now()

	subs, err := m.store.ExpiringSubscriptions(ctx, now.Add(renewAhead))
	if err != nil {
		return 0, err
	}

	renewed := 0
	for i := range subs {
		sub := &subs[i]
		if sub.Expired(now) {
			if err := m.store.UpdateSubscriptionState(ctx, sub.ID, models.PushStateExpired, nil, now); err != nil {
				log.Error().Err(err).Int64("feed_id", sub.FeedID).Msg("Failed to expire subscription")
				continue
			}
		}
		if err := m.hubRequest(ctx, sub, "subscribe"); err != nil {
			log.Warn().Err(err).Int64("feed_id", sub.FeedID).Str("hub", sub.HubURL).Msg("Subscription renewal failed")
			continue
		}
		if err := m.store.UpdateSubscriptionState(ctx, sub.ID, models.PushStatePending, nil, now); err != nil {
			log.Error().Err(err).Int64("feed_id", sub.FeedID).Msg("Failed to mark subscription pending")
			continue
		}
		renewed++
	}
	return renewed, nil
}

// Unsubscribe tells the hub to stop notifying for a feed. Best effort: the
// subscription row is removed with the feed regardless.
func (m *Manager) Unsubscribe(ctx context.Context, feedID int64) error {
	sub, err := m.store.SubscriptionByFeed(ctx, feedID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return m.hubRequest(ctx, sub, "unsubscribe")
}

// hubRequest posts a subscribe/unsubscribe request, retrying transient
// failures with exponential backoff.
func (m *Manager) hubRequest(ctx context.Context, sub *models.PushSubscription, mode string) error {
	form := url.Values{
		"hub.mode":          {mode},
		"hub.topic":         {sub.TopicURL},
		"hub.callback":      {m.CallbackURL(sub.CallbackToken)},
		"hub.secret":        {sub.Secret},
		"hub.lease_seconds": {strconv.Itoa(m.leaseSeconds)},
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.HubURL,
			strings.NewReader(form.Encode()))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := m.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("hub returned %d", resp.StatusCode)
		}
		return backoff.Permanent(fmt.Errorf("hub rejected %s request: %d", mode, resp.StatusCode))
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = time.Minute

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, 4), ctx))
	if err != nil {
		return fmt.Errorf("%s request to hub %s: %w", mode, sub.HubURL, err)
	}
	return nil
}
