package policy_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"feedhub/internal/models"
	"feedhub/internal/policy"
)

func testPolicy() policy.Policy {
	return policy.Policy{
		Default:        800 * time.Second,
		Min:            60 * time.Second,
		Max:            86400 * time.Second,
		ErrorThreshold: 10,
	}
}

func feedWithOverride(secs int64) *models.Feed {
	f := models.NewFeed("https://example.com/feed.xml")
	f.CacheDurationSecs = sql.NullInt64{Int64: secs, Valid: true}
	return f
}

func TestEffectiveDuration(t *testing.T) {
	p := testPolicy()

	tests := []struct {
		name string
		feed *models.Feed
		want time.Duration
	}{
		{
			name: "no override uses default",
			feed: models.NewFeed("https://example.com/feed.xml"),
			want: 800 * time.Second,
		},
		{
			name: "override within bounds",
			feed: feedWithOverride(3600),
			want: 3600 * time.Second,
		},
		{
			name: "override below min is clamped up",
			feed: feedWithOverride(5),
			want: 60 * time.Second,
		},
		{
			name: "override above max is clamped down",
			feed: feedWithOverride(999999),
			want: 86400 * time.Second,
		},
		{
			name: "zero override is clamped to min not treated as unset",
			feed: feedWithOverride(0),
			want: 60 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.EffectiveDuration(tt.feed))
		})
	}
}

func TestEffectiveDurationClampsDefault(t *testing.T) {
	p := testPolicy()
	p.Default = 10 * time.Second

	feed := models.NewFeed("https://example.com/feed.xml")
	assert.Equal(t, p.Min, p.EffectiveDuration(feed))
}

func TestIntervalBackoff(t *testing.T) {
	p := testPolicy()

	feed := models.NewFeed("https://example.com/feed.xml")

	prev := p.Interval(feed)
	assert.Equal(t, 800*time.Second, prev)

	// Each consecutive error doubles the interval until the cap.
	for errs := 1; errs <= 20; errs++ {
		feed.ConsecutiveErrors = errs
		cur := p.Interval(feed)
		assert.GreaterOrEqual(t, cur, prev, "interval must not shrink as errors accumulate")
		assert.LessOrEqual(t, cur, p.Max)
		prev = cur
	}
	assert.Equal(t, p.Max, prev, "interval must saturate at the max bound")

	feed.ConsecutiveErrors = 1
	assert.Equal(t, 1600*time.Second, p.Interval(feed))
	feed.ConsecutiveErrors = 3
	assert.Equal(t, 6400*time.Second, p.Interval(feed))
}

func TestIsDue(t *testing.T) {
	p := testPolicy()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fetchedAgo := func(d time.Duration) *models.Feed {
		f := models.NewFeed("https://example.com/feed.xml")
		f.LastFetchAt = sql.NullTime{Time: now.Add(-d), Valid: true}
		return f
	}

	tests := []struct {
		name        string
		feed        *models.Feed
		pushPending bool
		want        bool
	}{
		{
			name: "never fetched is due",
			feed: models.NewFeed("https://example.com/feed.xml"),
			want: true,
		},
		{
			name: "fetched recently is not due",
			feed: fetchedAgo(100 * time.Second),
			want: false,
		},
		{
			name: "interval elapsed is due",
			feed: fetchedAgo(801 * time.Second),
			want: true,
		},
		{
			name: "exactly at interval is due",
			feed: fetchedAgo(800 * time.Second),
			want: true,
		},
		{
			name:        "push notification overrides the interval",
			feed:        fetchedAgo(1 * time.Second),
			pushPending: true,
			want:        true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsDue(tt.feed, tt.pushPending, now))
		})
	}
}

func TestIsDueWithErrorsBacksOff(t *testing.T) {
	p := testPolicy()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	feed := models.NewFeed("https://example.com/feed.xml")
	feed.LastFetchAt = sql.NullTime{Time: now.Add(-1000 * time.Second), Valid: true}

	assert.True(t, p.IsDue(feed, false, now))

	feed.ConsecutiveErrors = 2
	assert.False(t, p.IsDue(feed, false, now), "backoff must delay a feed that would otherwise be due")
}

func TestNextDue(t *testing.T) {
	p := testPolicy()

	feed := models.NewFeed("https://example.com/feed.xml")
	assert.True(t, p.NextDue(feed).IsZero())

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	feed.LastFetchAt = sql.NullTime{Time: at, Valid: true}
	assert.Equal(t, at.Add(800*time.Second), p.NextDue(feed))
}

func TestDegraded(t *testing.T) {
	p := testPolicy()

	assert.False(t, p.Degraded(0))
	assert.False(t, p.Degraded(10))
	assert.True(t, p.Degraded(11))
}
