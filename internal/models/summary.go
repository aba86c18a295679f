package models

import "time"

// Refresh outcome statuses for a single feed within a cycle.
const (
	RefreshUpdated     = "updated"
	RefreshNotModified = "not-modified"
	RefreshError       = "error"
	RefreshSkipped     = "skipped"
)

// RefreshOutcome is the ephemeral result of one feed's refresh attempt.
// It is reported in the cycle summary and folded into the feed row, never
// persisted on its own.
type RefreshOutcome struct {
	FeedID       int64  `json:"feed_id"`
	Status       string `json:"status"`
	EntriesAdded int    `json:"entries_added"`
	SeenAgain    int    `json:"seen_again"`
	Parsed       int    `json:"parsed"`
	ParseSkipped int    `json:"parse_skipped"`
	Error        string `json:"error,omitempty"`
}

// CycleSummary aggregates one refresh cycle for operators.
type CycleSummary struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Processed    int           `json:"processed"`
	Updated      int           `json:"updated"`
	Unchanged    int           `json:"unchanged"`
	Errored      int           `json:"errored"`
	Skipped      int           `json:"skipped"`
	EntriesAdded int           `json:"entries_added"`
}
