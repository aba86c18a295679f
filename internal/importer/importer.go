// Package importer registers feeds from a CSV file, honoring the
// per-install feed and category ceilings.
package importer

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"feedhub/internal/database"
	"feedhub/internal/models"
)

// Importer handles the feed import process
type Importer struct {
	db            *database.DB
	maxFeeds      int
	maxCategories int
}

// New creates a feed importer bounded by the install ceilings.
func New(db *database.DB, maxFeeds, maxCategories int) *Importer {
	return &Importer{db: db, maxFeeds: maxFeeds, maxCategories: maxCategories}
}

// ImportFeeds registers feeds from a CSV file with columns url[,category].
// A header row is detected and skipped. Feeds already registered are left
// alone; rows beyond the install ceilings abort the import.
func (i *Importer) ImportFeeds(ctx context.Context, csvPath string) error {
	log.Info().Str("csv", csvPath).Msg("Starting feed import")

	f, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()

	imported, skipped, err := i.importFrom(ctx, f)
	if err != nil {
		return fmt.Errorf("failed to import feeds: %w", err)
	}

	log.Info().
		Int("imported", imported).
		Int("skipped", skipped).
		Msg("Import completed successfully")
	return nil
}

func (i *Importer) importFrom(ctx context.Context, r io.Reader) (imported, skipped int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	for line := 0; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to read CSV line %d: %w", line+1, err)
		}
		if len(record) == 0 {
			continue
		}

		url := strings.TrimSpace(record[0])
		if url == "" || (line == 0 && strings.EqualFold(url, "url")) {
			continue
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			log.Warn().Str("url", url).Int("line", line+1).Msg("Skipping row with non-HTTP URL")
			skipped++
			continue
		}

		feed := models.NewFeed(url)
		if len(record) > 1 {
			if category := strings.TrimSpace(record[1]); category != "" {
				feed.Category = sql.NullString{String: category, Valid: true}
			}
		}

		err = i.db.RegisterFeed(ctx, feed, i.maxFeeds, i.maxCategories)
		switch {
		case err == nil:
			imported++
		case errors.Is(err, database.ErrFeedLimit), errors.Is(err, database.ErrCategoryLimit):
			return imported, skipped, err
		case isDuplicate(err):
			log.Debug().Str("url", url).Msg("Feed already registered")
			skipped++
		default:
			return imported, skipped, err
		}
	}

	return imported, skipped, nil
}

// isDuplicate detects the unique-URL constraint without depending on
// driver-specific error types.
func isDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
