// Package refresh drives refresh cycles: it selects due feeds, merges in
// push-triggered ones, and runs fetch -> parse -> dedup -> commit across a
// bounded worker pool.
package refresh

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"feedhub/internal/database"
	"feedhub/internal/dedup"
	"feedhub/internal/feedparse"
	"feedhub/internal/fetch"
	"feedhub/internal/models"
	"feedhub/internal/policy"
	"feedhub/internal/push"
)

// Store is the slice of the feed store the orchestrator consumes. Writes
// are transactional per feed: a crash mid-cycle loses only the in-flight
// feed's update.
type Store interface {
	LoadDueFeeds(ctx context.Context) ([]models.Feed, error)
	FeedByID(ctx context.Context, id int64) (*models.Feed, error)
	FeedsByIDs(ctx context.Context, ids []int64) ([]models.Feed, error)
	LoadValidators(ctx context.Context, feedID int64) (fetch.Validators, error)
	LoadFingerprints(ctx context.Context, feedID int64) (map[string]struct{}, error)
	CommitRefresh(ctx context.Context, feedID int64, entries []models.Entry, seenAgain []string, meta database.RefreshMeta) error
	TouchFetched(ctx context.Context, feedID int64, now time.Time) error
	RecordFailure(ctx context.Context, feedID int64, status string, consecutiveErrors int, detail string, now time.Time) error
}

// Subscriber is the push-subscription hook invoked when a successful fetch
// advertises a hub.
type Subscriber interface {
	EnsureSubscribed(ctx context.Context, feedID int64, topicURL, hubURL string) error
}

// Options configures an Orchestrator.
type Options struct {
	Workers      int
	CycleTimeout time.Duration
	// Fingerprinter's zero value applies the default time granularity.
	Fingerprinter dedup.Fingerprinter
	// Subscriber may be nil when push is disabled.
	Subscriber Subscriber
}

// Orchestrator runs refresh cycles. Safe for concurrent use; overlapping
// cycles cannot dispatch the same feed twice.
type Orchestrator struct {
	store         Store
	fetcher       *fetch.Fetcher
	parser        *feedparse.Parser
	fingerprinter dedup.Fingerprinter
	policy        policy.Policy
	coalescer     *push.Coalescer
	subscriber    Subscriber
	workers       int
	cycleTimeout  time.Duration
	inflight      *Registry
	now           func() time.Time

	mu          sync.Mutex
	lastSummary *models.CycleSummary
}

// New creates an Orchestrator.
func New(store Store, fetcher *fetch.Fetcher, parser *feedparse.Parser, pol policy.Policy, coalescer *push.Coalescer, opts Options) *Orchestrator {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Orchestrator{
		store:         store,
		fetcher:       fetcher,
		parser:        parser,
		fingerprinter: opts.Fingerprinter,
		policy:        pol,
		coalescer:     coalescer,
		subscriber:    opts.Subscriber,
		workers:       workers,
		cycleTimeout:  opts.CycleTimeout,
		inflight:      NewRegistry(),
		now:           time.Now,
	}
}

// LastSummary returns the most recent completed cycle summary, if any.
func (o *Orchestrator) LastSummary() *models.CycleSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastSummary == nil {
		return nil
	}
	s := *o.lastSummary
	return &s
}

// RunCycle executes one refresh cycle and reports its summary. Only a
// store failure while enumerating feeds is fatal; per-feed failures are
// folded into the summary. When the cycle deadline passes, feeds not yet
// started stay due for the next cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) (models.CycleSummary, error) {
	startedAt := o.now()
	summary := models.CycleSummary{StartedAt: startedAt}

	// The cycle deadline gates dispatch only: feeds already in flight keep
	// the caller's context so they finish or hit their own fetch timeout.
	cycleCtx := ctx
	if o.cycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, o.cycleTimeout)
		defer cancel()
	}

	feeds, err := o.store.LoadDueFeeds(cycleCtx)
	if err != nil {
		return summary, fmt.Errorf("enumerate feeds: %w", err)
	}

	pushed := make(map[int64]struct{})
	for _, id := range o.coalescer.Drain() {
		pushed[id] = struct{}{}
	}

	known := make(map[int64]struct{}, len(feeds))
	for _, f := range feeds {
		known[f.ID] = struct{}{}
	}
	missing := lo.Filter(lo.Keys(pushed), func(id int64, _ int) bool {
		_, ok := known[id]
		return !ok
	})
	if len(missing) > 0 {
		extra, err := o.store.FeedsByIDs(ctx, missing)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load push-triggered feeds")
			// Put the drained notifications back so the next cycle sees them.
			for _, id := range missing {
				o.coalescer.Mark(id)
			}
		} else {
			feeds = append(feeds, extra...)
		}
	}

	due := lo.Filter(feeds, func(f models.Feed, _ int) bool {
		_, pushPending := pushed[f.ID]
		return o.policy.IsDue(&f, pushPending, startedAt)
	})

	log.Info().
		Int("candidates", len(feeds)).
		Int("due", len(due)).
		Int("push_triggered", len(pushed)).
		Int("workers", o.workers).
		Msg("Starting refresh cycle")

	queue := make(chan models.Feed)
	results := make(chan models.RefreshOutcome, len(due))

	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for feed := range queue {
				results <- o.dispatch(ctx, feed)
			}
		}()
	}

dispatchLoop:
	for _, feed := range due {
		select {
		case queue <- feed:
		case <-cycleCtx.Done():
			log.Info().Err(cycleCtx.Err()).Msg("Cycle deadline reached, remaining feeds stay due")
			break dispatchLoop
		}
	}
	close(queue)

	wg.Wait()
	close(results)

	outcomes := make([]models.RefreshOutcome, 0, len(due))
	for outcome := range results {
		outcomes = append(outcomes, outcome)
	}

	counts := lo.CountValuesBy(outcomes, func(r models.RefreshOutcome) string { return r.Status })
	summary.Processed = len(outcomes)
	summary.Updated = counts[models.RefreshUpdated]
	summary.Unchanged = counts[models.RefreshNotModified]
	summary.Errored = counts[models.RefreshError]
	summary.Skipped = counts[models.RefreshSkipped]
	summary.EntriesAdded = lo.SumBy(outcomes, func(r models.RefreshOutcome) int { return r.EntriesAdded })
	summary.Duration = o.now().Sub(startedAt)

	cyclesTotal.Inc()
	cycleDuration.Observe(summary.Duration.Seconds())
	for status, n := range counts {
		feedsProcessed.WithLabelValues(status).Add(float64(n))
	}
	entriesAdded.Add(float64(summary.EntriesAdded))

	o.mu.Lock()
	o.lastSummary = &summary
	o.mu.Unlock()

	log.Info().
		Int("processed", summary.Processed).
		Int("updated", summary.Updated).
		Int("unchanged", summary.Unchanged).
		Int("errored", summary.Errored).
		Int("skipped", summary.Skipped).
		Int("entries_added", summary.EntriesAdded).
		Dur("duration", summary.Duration).
		Msg("Refresh cycle finished")

	return summary, nil
}

// dispatch claims the feed in the single-flight registry and refreshes it.
func (o *Orchestrator) dispatch(ctx context.Context, feed models.Feed) models.RefreshOutcome {
	if !o.inflight.TryAcquire(feed.ID) {
		log.Debug().Int64("feed_id", feed.ID).Msg("Feed already in flight, skipping")
		return models.RefreshOutcome{FeedID: feed.ID, Status: models.RefreshSkipped}
	}
	defer o.inflight.Release(feed.ID)

	return o.refreshOne(ctx, &feed)
}

// refreshOne runs the fetch -> parse -> dedup -> commit pipeline for one
// feed. Stages are strictly sequential; fetch and the commit are the only
// suspension points.
func (o *Orchestrator) refreshOne(ctx context.Context, feed *models.Feed) models.RefreshOutcome {
	outcome := models.RefreshOutcome{FeedID: feed.ID}

	validators, err := o.store.LoadValidators(ctx, feed.ID)
	if err != nil {
		outcome.Status = models.RefreshError
		outcome.Error = err.Error()
		log.Error().Err(err).Int64("feed_id", feed.ID).Msg("Failed to load validators")
		return outcome
	}

	res := o.fetcher.Fetch(ctx, feed.URL, validators)
	now := o.now()

	switch res.Status {
	case fetch.StatusNotModified:
		if err := o.store.TouchFetched(ctx, feed.ID, now); err != nil {
			log.Error().Err(err).Int64("feed_id", feed.ID).Msg("Failed to record not-modified fetch")
		}
		outcome.Status = models.RefreshNotModified
		return outcome

	case fetch.StatusFailed:
		if ctx.Err() != nil {
			// The process is shutting down, not a feed fault. The feed
			// stays due and keeps its error counter.
			log.Debug().Int64("feed_id", feed.ID).Msg("Fetch aborted by shutdown")
			outcome.Status = models.RefreshSkipped
			return outcome
		}
		return o.recordError(ctx, feed, res.Err, now, outcome)
	}

	doc, err := o.parser.Parse(res.Body, feedparse.HintFromContentType(res.ContentType))
	if err != nil {
		return o.recordError(ctx, feed,
			&fetch.Error{Kind: fetch.KindMalformed, Detail: err.Error()}, now, outcome)
	}
	outcome.Parsed = len(doc.Entries)
	outcome.ParseSkipped = doc.Skipped

	if err := o.commit(ctx, feed, res, doc, now, &outcome); err != nil {
		if errors.Is(err, database.ErrConflict) {
			// Another writer moved the feed while this refresh ran; the
			// retried commit also lost. Defer to the next cycle.
			log.Warn().Int64("feed_id", feed.ID).Msg("Refresh commit deferred after repeated conflict")
			outcome.Status = models.RefreshSkipped
			return outcome
		}
		outcome.Status = models.RefreshError
		outcome.Error = err.Error()
		log.Error().Err(err).Int64("feed_id", feed.ID).Msg("Failed to commit refresh")
		return outcome
	}

	if res.HubURL != "" && o.subscriber != nil {
		topic := res.SelfURL
		if topic == "" {
			topic = feed.URL
		}
		if err := o.subscriber.EnsureSubscribed(ctx, feed.ID, topic, res.HubURL); err != nil {
			log.Warn().Err(err).Int64("feed_id", feed.ID).Str("hub", res.HubURL).Msg("Push subscription attempt failed")
		}
	}

	outcome.Status = models.RefreshUpdated
	return outcome
}

// commit diffs the document against stored fingerprints and applies the
// result atomically, retrying once on a store conflict.
func (o *Orchestrator) commit(ctx context.Context, feed *models.Feed, res fetch.Result, doc *feedparse.Document, now time.Time, outcome *models.RefreshOutcome) error {
	revision := feed.Revision

	for attempt := 0; ; attempt++ {
		existing, err := o.store.LoadFingerprints(ctx, feed.ID)
		if err != nil {
			return err
		}

		diff := o.fingerprinter.Diff(doc.Entries, existing)
		entries := make([]models.Entry, len(diff.New))
		for i, e := range diff.New {
			entries[i] = models.Entry{
				FeedID:      feed.ID,
				Fingerprint: diff.Fingerprints[i],
				Title:       e.Title,
				Link:        e.Link,
				Author:      sql.NullString{String: e.Author, Valid: e.Author != ""},
				Content:     e.Content,
				PublishedAt: e.PublishedAt,
			}
		}

		err = o.store.CommitRefresh(ctx, feed.ID, entries, diff.SeenAgain, database.RefreshMeta{
			FetchedAt:  now,
			Validators: res.Validators,
			Title:      doc.Title,
			Revision:   revision,
		})
		if err == nil {
			outcome.EntriesAdded = len(entries)
			outcome.SeenAgain = diff.SeenAgainCount()
			if len(entries) > 0 {
				log.Info().
					Int64("feed_id", feed.ID).
					Int("new_entries", len(entries)).
					Int("seen_again", diff.SeenAgainCount()).
					Msg("Feed updated")
			}
			return nil
		}
		if !errors.Is(err, database.ErrConflict) || attempt >= 1 {
			return err
		}

		// Retry once within the cycle with a fresh revision.
		reloaded, loadErr := o.store.FeedByID(ctx, feed.ID)
		if loadErr != nil {
			return loadErr
		}
		revision = reloaded.Revision
	}
}

// recordError folds a failed attempt into the feed row: the error count
// grows, the next-due time backs off, and past the threshold the feed is
// marked degraded. Nothing here raises a process-level failure.
func (o *Orchestrator) recordError(ctx context.Context, feed *models.Feed, fetchErr *fetch.Error, now time.Time, outcome models.RefreshOutcome) models.RefreshOutcome {
	consecutive := feed.ConsecutiveErrors + 1
	status := models.FeedStatusActive
	if o.policy.Degraded(consecutive) {
		status = models.FeedStatusDegraded
	}

	if err := o.store.RecordFailure(ctx, feed.ID, status, consecutive, fetchErr.Error(), now); err != nil {
		log.Error().Err(err).Int64("feed_id", feed.ID).Msg("Failed to record fetch failure")
	}

	event := log.Warn()
	if !fetchErr.Transient() {
		event = log.Error()
	}
	event.
		Int64("feed_id", feed.ID).
		Str("url", feed.URL).
		Str("kind", string(fetchErr.Kind)).
		Int("consecutive_errors", consecutive).
		Str("feed_status", status).
		Msg("Feed refresh failed")

	outcome.Status = models.RefreshError
	outcome.Error = fetchErr.Error()
	return outcome
}
