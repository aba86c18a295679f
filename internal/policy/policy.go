// Package policy decides when a feed is due for a refresh. All functions are
// pure: they look only at feed state and the supplied clock reading.
package policy

import (
	"time"

	"feedhub/internal/config"
	"feedhub/internal/models"
)

// Policy holds the install-wide cache-duration bounds and the degraded
// threshold.
type Policy struct {
	Default        time.Duration
	Min            time.Duration
	Max            time.Duration
	ErrorThreshold int
}

// FromConfig builds a Policy from the configuration record.
func FromConfig(cfg *config.Config) Policy {
	return Policy{
		Default:        cfg.CacheDuration,
		Min:            cfg.CacheDurationMin,
		Max:            cfg.CacheDurationMax,
		ErrorThreshold: cfg.ErrorThreshold,
	}
}

// EffectiveDuration returns the feed's refresh interval: its override if set,
// else the install default, always clamped into [Min, Max].
func (p Policy) EffectiveDuration(feed *models.Feed) time.Duration {
	d := p.Default
	if override, ok := feed.CacheDuration(); ok {
		d = override
	}
	return p.clamp(d)
}

// Interval returns how long the feed must rest after its last fetch before
// it is due again. Consecutive errors double the effective duration per
// error, capped at Max.
func (p Policy) Interval(feed *models.Feed) time.Duration {
	d := p.EffectiveDuration(feed)
	if feed.ConsecutiveErrors == 0 {
		return d
	}
	for i := 0; i < feed.ConsecutiveErrors; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	return d
}

// IsDue reports whether the feed should be refreshed now. A feed with no
// prior fetch is always due; a pending push notification overrides the
// polling interval entirely.
func (p Policy) IsDue(feed *models.Feed, pushPending bool, now time.Time) bool {
	if pushPending {
		return true
	}
	if !feed.LastFetchAt.Valid {
		return true
	}
	return now.Sub(feed.LastFetchAt.Time) >= p.Interval(feed)
}

// NextDue returns the earliest time the feed becomes due again.
func (p Policy) NextDue(feed *models.Feed) time.Time {
	if !feed.LastFetchAt.Valid {
		return time.Time{}
	}
	return feed.LastFetchAt.Time.Add(p.Interval(feed))
}

// Degraded reports whether the consecutive-error count has crossed the
// threshold at which a feed is surfaced to the user as failing. Degraded
// feeds keep being retried with backoff; they are never removed.
func (p Policy) Degraded(consecutiveErrors int) bool {
	return consecutiveErrors > p.ErrorThreshold
}

func (p Policy) clamp(d time.Duration) time.Duration {
	if d < p.Min {
		return p.Min
	}
	if d > p.Max {
		return p.Max
	}
	return d
}
