package server

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"feedhub/internal/database"
	"feedhub/internal/models"
)

const defaultLimit = 100
const maxLimit = 1000

// SummarySource exposes the most recent refresh-cycle summary.
type SummarySource interface {
	LastSummary() *models.CycleSummary
}

// feedView is the API shape of a feed's health.
type feedView struct {
	ID                int64      `json:"id"`
	URL               string     `json:"url"`
	Title             string     `json:"title,omitempty"`
	Category          string     `json:"category,omitempty"`
	Status            string     `json:"status"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	LastError         string     `json:"last_error,omitempty"`
	LastFetchAt       *time.Time `json:"last_fetch_at,omitempty"`
	PushState         string     `json:"push_state"`
}

type feedsResponse struct {
	Feeds      []feedView `json:"feeds"`
	NextCursor *string    `json:"next_cursor,omitempty"`
}

func viewOf(f models.Feed) feedView {
	v := feedView{
		ID:                f.ID,
		URL:               f.URL,
		Title:             f.Title.String,
		Category:          f.Category.String,
		Status:            f.Status,
		ConsecutiveErrors: f.ConsecutiveErrors,
		LastError:         f.LastError.String,
		PushState:         f.PushState,
	}
	if f.LastFetchAt.Valid {
		t := f.LastFetchAt.Time
		v.LastFetchAt = &t
	}
	return v
}

// handleListFeeds serves cursor-paginated feed listings, optionally
// filtered to degraded feeds.
func handleListFeeds(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)

		query := r.URL.Query()

		limit := defaultLimit
		if limitStr := query.Get("limit"); limitStr != "" {
			parsed, err := strconv.Atoi(limitStr)
			if err != nil || parsed <= 0 || parsed > maxLimit {
				http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit), http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		if query.Get("status") == models.FeedStatusDegraded {
			feeds, err := db.DegradedFeeds(r.Context())
			if err != nil {
				log.Error().Err(err).Msg("Failed to list degraded feeds")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			writeJSON(w, r, feedsResponse{Feeds: views(feeds)})
			return
		}

		var cursorTime *time.Time
		var cursorID *int64
		if cursorStr := query.Get("cursor"); cursorStr != "" {
			ts, id, err := decodeCursor(cursorStr)
			if err != nil {
				log.Warn().Err(err).Str("cursor", cursorStr).Msg("Invalid 'cursor' parameter")
				http.Error(w, "Invalid 'cursor' parameter", http.StatusBadRequest)
				return
			}
			cursorTime = &ts
			cursorID = &id
		}

		feeds, err := db.ListFeeds(r.Context(), limit+1, cursorTime, cursorID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list feeds")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		resp := feedsResponse{}
		if len(feeds) > limit {
			feeds = feeds[:limit]
			last := feeds[len(feeds)-1]
			cursor := encodeCursor(last.CreatedAt.UTC(), last.ID)
			resp.NextCursor = &cursor
		}
		resp.Feeds = views(feeds)

		writeJSON(w, r, resp)
	}
}

func views(feeds []models.Feed) []feedView {
	out := make([]feedView, len(feeds))
	for i, f := range feeds {
		out[i] = viewOf(f)
	}
	return out
}

// handleSummary reports the last refresh cycle to the external scheduler
// or supervisor.
func handleSummary(source SummarySource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary := source.LastSummary()
		if summary == nil {
			http.Error(w, "no cycle completed yet", http.StatusNotFound)
			return
		}
		writeJSON(w, r, summary)
	}
}

// handleExportFeeds exports all registered feeds as CSV.
func handleExportFeeds(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)

		feeds, err := db.ListFeeds(r.Context(), maxLimit*100, nil, nil)
		if err != nil {
			log.Error().Err(err).Msg("Failed to query feeds for export")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=feeds.csv")

		csvWriter := csv.NewWriter(w)
		if err := csvWriter.Write([]string{"url", "category", "status"}); err != nil {
			log.Error().Err(err).Msg("Failed to write CSV header")
			return
		}
		for _, f := range feeds {
			record := []string{f.URL, f.Category.String, f.Status}
			if err := csvWriter.Write(record); err != nil {
				log.Error().Err(err).Msg("Failed to write CSV record")
				return
			}
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Error().Err(err).Msg("Error flushing CSV data")
			return
		}

		log.Info().Int("feed_count", len(feeds)).Msg("Exported feeds as CSV")
	}
}

// healthCheckHandler responds to health check requests with a simple 200 OK.
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Error writing health check response")
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, payload any) {
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(jsonBytes); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Error writing JSON response body")
	}
}
