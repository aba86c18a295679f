package models

import (
	"database/sql"
	"time"
)

// Feed statuses stored in the 'feeds' table.
const (
	FeedStatusActive   = "active"
	FeedStatusDegraded = "degraded"
)

// Push subscription states tracked on a feed.
const (
	PushStateNone    = "none"
	PushStatePending = "pending"
	PushStateActive  = "active"
	PushStateExpired = "expired"
)

// Feed represents a row in the 'feeds' table
type Feed struct {
	ID                int64          `db:"id"`
	URL               string         `db:"url"`
	Title             sql.NullString `db:"title"`
	Category          sql.NullString `db:"category"`
	Status            string         `db:"status"`
	CacheDurationSecs sql.NullInt64  `db:"cache_duration_secs"`
	ConsecutiveErrors int            `db:"consecutive_errors"`
	LastError         sql.NullString `db:"last_error"`
	LastFetchAt       sql.NullTime   `db:"last_fetch_at"`
	ETag              sql.NullString `db:"etag"`
	LastModified      sql.NullString `db:"last_modified"`
	PushState         string         `db:"push_state"`
	Revision          int64          `db:"revision"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	DeletedAt         sql.NullTime   `db:"deleted_at"`
}

// NewFeed creates a new Feed with default values
func NewFeed(url string) *Feed {
	now := time.Now()
	return &Feed{
		URL:       url,
		Status:    FeedStatusActive,
		PushState: PushStateNone,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CacheDuration returns the per-feed refresh override, or false when the
// install-wide default applies.
func (f *Feed) CacheDuration() (time.Duration, bool) {
	if !f.CacheDurationSecs.Valid {
		return 0, false
	}
	return time.Duration(f.CacheDurationSecs.Int64) * time.Second, true
}
