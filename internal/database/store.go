package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"feedhub/internal/fetch"
	"feedhub/internal/models"
)

var (
	// ErrConflict is returned when another writer mutated the feed between
	// the read that started a refresh and its commit.
	ErrConflict = errors.New("feed was modified concurrently")
	// ErrNotFound is returned for missing rows.
	ErrNotFound = errors.New("not found")
	// ErrFeedLimit is returned when registering a feed would exceed the
	// per-install feed ceiling.
	ErrFeedLimit = errors.New("feed limit reached")
	// ErrCategoryLimit is returned when a new category would exceed the
	// per-install category ceiling.
	ErrCategoryLimit = errors.New("category limit reached")
)

// RefreshMeta carries the feed-level updates applied atomically with new
// entries at the end of a successful refresh.
type RefreshMeta struct {
	FetchedAt  time.Time
	Validators fetch.Validators
	Title      string
	// Revision is the feed revision observed when the refresh started;
	// the commit fails with ErrConflict if it moved.
	Revision int64
}

// LoadDueFeeds returns all live feeds ordered stalest-first. The cache
// policy engine applies the fine-grained due check; this query only trims
// deleted rows.
func (db *DB) LoadDueFeeds(ctx context.Context) ([]models.Feed, error) {
	var feeds []models.Feed
	err := db.SelectContext(ctx, &feeds, `
		SELECT * FROM feeds
		WHERE deleted_at IS NULL
		ORDER BY last_fetch_at ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load feeds: %w", err)
	}
	return feeds, nil
}

// FeedByID returns one live feed.
func (db *DB) FeedByID(ctx context.Context, id int64) (*models.Feed, error) {
	var feed models.Feed
	err := db.GetContext(ctx, &feed, `SELECT * FROM feeds WHERE id = ? AND deleted_at IS NULL`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load feed %d: %w", id, err)
	}
	return &feed, nil
}

// FeedsByIDs returns the live feeds among ids.
func (db *DB) FeedsByIDs(ctx context.Context, ids []int64) ([]models.Feed, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM feeds WHERE id IN (?) AND deleted_at IS NULL`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed query: %w", err)
	}
	var feeds []models.Feed
	if err := db.SelectContext(ctx, &feeds, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load feeds by id: %w", err)
	}
	return feeds, nil
}

// LoadValidators returns the conditional-request tokens stored for a feed.
func (db *DB) LoadValidators(ctx context.Context, feedID int64) (fetch.Validators, error) {
	var row struct {
		ETag         sql.NullString `db:"etag"`
		LastModified sql.NullString `db:"last_modified"`
	}
	err := db.GetContext(ctx, &row, `SELECT etag, last_modified FROM feeds WHERE id = ?`, feedID)
	if errors.Is(err, sql.ErrNoRows) {
		return fetch.Validators{}, ErrNotFound
	}
	if err != nil {
		return fetch.Validators{}, fmt.Errorf("failed to load validators for feed %d: %w", feedID, err)
	}
	return fetch.Validators{
		ETag:         row.ETag.String,
		LastModified: row.LastModified.String,
	}, nil
}

// LoadFingerprints returns the set of entry fingerprints stored for a feed.
func (db *DB) LoadFingerprints(ctx context.Context, feedID int64) (map[string]struct{}, error) {
	var fingerprints []string
	err := db.SelectContext(ctx, &fingerprints,
		`SELECT fingerprint FROM entries WHERE feed_id = ?`, feedID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprints for feed %d: %w", feedID, err)
	}
	set := make(map[string]struct{}, len(fingerprints))
	for _, fp := range fingerprints {
		set[fp] = struct{}{}
	}
	return set, nil
}

// CommitRefresh applies one successful refresh atomically: new entries,
// seen-again timestamps and updated feed metadata all land in a single
// transaction, so a crash mid-cycle loses at most the in-flight feed.
func (db *DB) CommitRefresh(ctx context.Context, feedID int64, entries []models.Entry, seenAgain []string, meta RefreshMeta) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin refresh transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE feeds
		SET title = COALESCE(NULLIF(?, ''), title),
		    status = ?, consecutive_errors = 0, last_error = NULL,
		    last_fetch_at = ?, etag = NULLIF(?, ''), last_modified = NULLIF(?, ''),
		    revision = revision + 1, updated_at = ?
		WHERE id = ? AND revision = ? AND deleted_at IS NULL`,
		meta.Title, models.FeedStatusActive, meta.FetchedAt,
		meta.Validators.ETag, meta.Validators.LastModified,
		meta.FetchedAt, feedID, meta.Revision)
	if err != nil {
		return fmt.Errorf("failed to update feed %d: %w", feedID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check feed update for %d: %w", feedID, err)
	} else if n == 0 {
		return ErrConflict
	}

	if len(entries) > 0 {
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO entries (feed_id, fingerprint, title, link, author, content, published_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (feed_id, fingerprint) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("failed to prepare entry insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx,
				feedID, e.Fingerprint, e.Title, e.Link, e.Author,
				e.Content, e.PublishedAt, meta.FetchedAt); err != nil {
				return fmt.Errorf("failed to insert entry %s: %w", e.Link, err)
			}
		}
	}

	if len(seenAgain) > 0 {
		query, args, err := sqlx.In(`
			UPDATE entries SET seen_again_at = ?
			WHERE feed_id = ? AND fingerprint IN (?)`,
			meta.FetchedAt, feedID, seenAgain)
		if err != nil {
			return fmt.Errorf("failed to build seen-again update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to mark entries seen again: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit refresh for feed %d: %w", feedID, err)
	}
	return nil
}

// TouchFetched records a not-modified fetch: the last-fetch time advances,
// nothing else changes.
func (db *DB) TouchFetched(ctx context.Context, feedID int64, now time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE feeds
		SET last_fetch_at = ?, revision = revision + 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		now, now, feedID)
	if err != nil {
		return fmt.Errorf("failed to touch feed %d: %w", feedID, err)
	}
	return nil
}

// RecordFailure folds a failed refresh attempt into the feed row.
func (db *DB) RecordFailure(ctx context.Context, feedID int64, status string, consecutiveErrors int, detail string, now time.Time) error {
	if len(detail) > 500 {
		detail = detail[:500]
	}
	_, err := db.ExecContext(ctx, `
		UPDATE feeds
		SET status = ?, consecutive_errors = ?, last_error = ?,
		    last_fetch_at = ?, revision = revision + 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		status, consecutiveErrors, detail, now, now, feedID)
	if err != nil {
		return fmt.Errorf("failed to record failure for feed %d: %w", feedID, err)
	}
	return nil
}

// RegisterFeed inserts a feed, enforcing the per-install feed and category
// ceilings inside one transaction.
func (db *DB) RegisterFeed(ctx context.Context, feed *models.Feed, maxFeeds, maxCategories int) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin registration transaction: %w", err)
	}
	defer tx.Rollback()

	var feedCount int
	if err := tx.GetContext(ctx, &feedCount,
		`SELECT COUNT(*) FROM feeds WHERE deleted_at IS NULL`); err != nil {
		return fmt.Errorf("failed to count feeds: %w", err)
	}
	if maxFeeds > 0 && feedCount >= maxFeeds {
		return ErrFeedLimit
	}

	if feed.Category.Valid && maxCategories > 0 {
		var known int
		err := tx.GetContext(ctx, &known, `
			SELECT COUNT(*) FROM (
				SELECT DISTINCT category FROM feeds
				WHERE category IS NOT NULL AND deleted_at IS NULL
			)`)
		if err != nil {
			return fmt.Errorf("failed to count categories: %w", err)
		}
		var exists int
		err = tx.GetContext(ctx, &exists,
			`SELECT COUNT(*) FROM feeds WHERE category = ? AND deleted_at IS NULL`,
			feed.Category.String)
		if err != nil {
			return fmt.Errorf("failed to check category: %w", err)
		}
		if exists == 0 && known >= maxCategories {
			return ErrCategoryLimit
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO feeds (url, title, category, status, cache_duration_secs, push_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		feed.URL, feed.Title, feed.Category, feed.Status,
		feed.CacheDurationSecs, feed.PushState, feed.CreatedAt, feed.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert feed %s: %w", feed.URL, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read feed id: %w", err)
	}
	feed.ID = id

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit registration: %w", err)
	}
	return nil
}

// DeleteFeed soft-deletes a feed and revokes its push subscription.
func (db *DB) DeleteFeed(ctx context.Context, feedID int64, now time.Time) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE feeds SET deleted_at = ?, updated_at = ? WHERE id = ?`,
		now, now, feedID); err != nil {
		return fmt.Errorf("failed to delete feed %d: %w", feedID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE feed_id = ?`, feedID); err != nil {
		return fmt.Errorf("failed to revoke subscription for feed %d: %w", feedID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// ListFeeds returns live feeds ordered by (created_at, id) for cursor
// pagination.
func (db *DB) ListFeeds(ctx context.Context, limit int, cursorTime *time.Time, cursorID *int64) ([]models.Feed, error) {
	var feeds []models.Feed
	var err error
	if cursorTime != nil && cursorID != nil {
		err = db.SelectContext(ctx, &feeds, `
			SELECT * FROM feeds
			WHERE deleted_at IS NULL AND ((created_at > ?) OR (created_at = ? AND id > ?))
			ORDER BY created_at ASC, id ASC LIMIT ?`,
			cursorTime.UTC(), cursorTime.UTC(), *cursorID, limit)
	} else {
		err = db.SelectContext(ctx, &feeds, `
			SELECT * FROM feeds
			WHERE deleted_at IS NULL
			ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	return feeds, nil
}

// DegradedFeeds returns live feeds currently marked degraded.
func (db *DB) DegradedFeeds(ctx context.Context) ([]models.Feed, error) {
	var feeds []models.Feed
	err := db.SelectContext(ctx, &feeds, `
		SELECT * FROM feeds
		WHERE status = ? AND deleted_at IS NULL
		ORDER BY consecutive_errors DESC, id ASC`, models.FeedStatusDegraded)
	if err != nil {
		return nil, fmt.Errorf("failed to list degraded feeds: %w", err)
	}
	return feeds, nil
}

// SetPushState updates the push-subscription state denormalized on the feed.
func (db *DB) SetPushState(ctx context.Context, feedID int64, state string, now time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE feeds SET push_state = ?, updated_at = ? WHERE id = ?`,
		state, now, feedID)
	if err != nil {
		return fmt.Errorf("failed to set push state for feed %d: %w", feedID, err)
	}
	return nil
}

// PurgeOldEntries removes entries older than the retention window.
func (db *DB) PurgeOldEntries(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retentionDays must be positive")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result, err := db.ExecContext(ctx,
		`DELETE FROM entries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge old entries: %w", err)
	}
	return result.RowsAffected()
}

// CountFeeds returns the number of live feeds.
func (db *DB) CountFeeds(ctx context.Context) (int, error) {
	var n int
	if err := db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM feeds WHERE deleted_at IS NULL`); err != nil {
		return 0, fmt.Errorf("failed to count feeds: %w", err)
	}
	return n, nil
}
