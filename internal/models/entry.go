package models

import (
	"database/sql"
	"time"
)

// Entry represents a row in the 'entries' table. The fingerprint is unique
// within a feed; the refresh engine never mutates an entry after insert
// except for seen_again_at.
type Entry struct {
	ID          int64          `db:"id"`
	FeedID      int64          `db:"feed_id"`
	Fingerprint string         `db:"fingerprint"`
	Title       string         `db:"title"`
	Link        string         `db:"link"`
	Author      sql.NullString `db:"author"`
	Content     string         `db:"content"`
	PublishedAt time.Time      `db:"published_at"`
	SeenAgainAt sql.NullTime   `db:"seen_again_at"`
	CreatedAt   time.Time      `db:"created_at"`
}
