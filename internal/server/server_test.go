package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedhub/internal/config"
	"feedhub/internal/database"
	"feedhub/internal/models"
)

type staticSummary struct {
	summary *models.CycleSummary
}

func (s staticSummary) LastSummary() *models.CycleSummary { return s.summary }

func testServer(t *testing.T, cfg *config.Config, summary SummarySource) (*database.DB, http.Handler) {
	t.Helper()

	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "feedhub.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if cfg == nil {
		cfg = &config.Config{AuthMode: config.AuthNone}
	}
	if summary == nil {
		summary = staticSummary{}
	}
	return db, NewHandler(cfg, Deps{DB: db, Summary: summary}, zerolog.Nop())
}

func addFeeds(t *testing.T, db *database.DB, n int) []*models.Feed {
	t.Helper()
	feeds := make([]*models.Feed, n)
	for i := range feeds {
		f := models.NewFeed(fmt.Sprintf("https://example.com/%d.xml", i))
		f.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		f.UpdatedAt = f.CreatedAt
		require.NoError(t, db.RegisterFeed(context.Background(), f, 0, 0))
		feeds[i] = f
	}
	return feeds
}

func get(h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	_, h := testServer(t, nil, nil)

	w := get(h, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := testServer(t, nil, nil)

	w := get(h, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestListFeeds(t *testing.T) {
	db, h := testServer(t, nil, nil)
	addFeeds(t, db, 3)

	w := get(h, "/v1/feeds", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp struct {
		Feeds []struct {
			ID        int64  `json:"id"`
			URL       string `json:"url"`
			Status    string `json:"status"`
			PushState string `json:"push_state"`
		} `json:"feeds"`
		NextCursor *string `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Feeds, 3)
	assert.Equal(t, "https://example.com/0.xml", resp.Feeds[0].URL)
	assert.Equal(t, models.FeedStatusActive, resp.Feeds[0].Status)
	assert.Equal(t, models.PushStateNone, resp.Feeds[0].PushState)
	assert.Nil(t, resp.NextCursor)
}

func TestListFeedsPagination(t *testing.T) {
	db, h := testServer(t, nil, nil)
	addFeeds(t, db, 5)

	w := get(h, "/v1/feeds?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Feeds      []struct{ ID int64 }
		NextCursor *string `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Feeds, 2)
	require.NotNil(t, page.NextCursor)

	w = get(h, "/v1/feeds?limit=10&cursor="+*page.NextCursor, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var rest struct {
		Feeds      []struct{ ID int64 }
		NextCursor *string `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rest))
	assert.Len(t, rest.Feeds, 3)
	assert.Nil(t, rest.NextCursor)
}

func TestListFeedsInvalidParams(t *testing.T) {
	_, h := testServer(t, nil, nil)

	assert.Equal(t, http.StatusBadRequest, get(h, "/v1/feeds?limit=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/v1/feeds?limit=99999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/v1/feeds?limit=abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/v1/feeds?cursor=!!!not-base64!!!", nil).Code)
}

func TestListDegradedFeeds(t *testing.T) {
	db, h := testServer(t, nil, nil)
	feeds := addFeeds(t, db, 3)
	require.NoError(t, db.RecordFailure(context.Background(), feeds[1].ID,
		models.FeedStatusDegraded, 12, "http-4xx: HTTP status 410", time.Now()))

	w := get(h, "/v1/feeds?status=degraded", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Feeds []struct {
			ID                int64  `json:"id"`
			ConsecutiveErrors int    `json:"consecutive_errors"`
			LastError         string `json:"last_error"`
		} `json:"feeds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Feeds, 1)
	assert.Equal(t, feeds[1].ID, resp.Feeds[0].ID)
	assert.Equal(t, 12, resp.Feeds[0].ConsecutiveErrors)
	assert.Contains(t, resp.Feeds[0].LastError, "410")
}

func TestSummaryEndpoint(t *testing.T) {
	_, h := testServer(t, nil, staticSummary{})
	assert.Equal(t, http.StatusNotFound, get(h, "/v1/summary", nil).Code)

	summary := &models.CycleSummary{
		StartedAt:    time.Now(),
		Processed:    4,
		Updated:      2,
		Unchanged:    1,
		Errored:      1,
		EntriesAdded: 17,
	}
	_, h = testServer(t, nil, staticSummary{summary: summary})

	w := get(h, "/v1/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got models.CycleSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 4, got.Processed)
	assert.Equal(t, 17, got.EntriesAdded)
}

func TestExportFeeds(t *testing.T) {
	db, h := testServer(t, nil, nil)
	addFeeds(t, db, 2)

	w := get(h, "/v1/feeds/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "url,category,status", lines[0])
	assert.Contains(t, lines[1], "https://example.com/0.xml")
}

func TestAuthFormMode(t *testing.T) {
	cfg := &config.Config{AuthMode: config.AuthForm, APIKey: "sekrit"}
	_, h := testServer(t, cfg, nil)

	assert.Equal(t, http.StatusUnauthorized, get(h, "/v1/feeds", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(h, "/v1/feeds", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusOK, get(h, "/v1/feeds", map[string]string{"X-API-Key": "sekrit"}).Code)

	// Health stays open regardless of auth.
	assert.Equal(t, http.StatusOK, get(h, "/health", nil).Code)
}

func TestAuthFormModeWithoutKeyIsOpen(t *testing.T) {
	cfg := &config.Config{AuthMode: config.AuthForm}
	_, h := testServer(t, cfg, nil)

	assert.Equal(t, http.StatusOK, get(h, "/v1/feeds", nil).Code)
}

func TestAuthHTTPMode(t *testing.T) {
	cfg := &config.Config{AuthMode: config.AuthHTTP}
	_, h := testServer(t, cfg, nil)

	assert.Equal(t, http.StatusUnauthorized, get(h, "/v1/feeds", nil).Code)
	assert.Equal(t, http.StatusOK, get(h, "/v1/feeds", map[string]string{"Remote-User": "alice"}).Code)
}

func TestPushRoutesNotMountedWhenDisabled(t *testing.T) {
	_, h := testServer(t, nil, nil)

	w := get(h, "/push/callback/some-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 30, 0, 123456789, time.UTC)

	encoded := encodeCursor(at, 42)
	ts, id, err := decodeCursor(encoded)
	require.NoError(t, err)
	assert.True(t, at.Equal(ts))
	assert.Equal(t, int64(42), id)

	_, _, err = decodeCursor("not base64 at all!")
	assert.Error(t, err)
	_, _, err = decodeCursor("aGVsbG8=") // valid base64, bad payload
	assert.Error(t, err)
}
