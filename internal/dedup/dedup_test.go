package dedup_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedhub/internal/dedup"
	"feedhub/internal/feedparse"
)

func entry(title, link string, published time.Time) feedparse.Entry {
	return feedparse.Entry{Title: title, Link: link, PublishedAt: published}
}

func TestFingerprintStable(t *testing.T) {
	var f dedup.Fingerprinter
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	e := entry("Hello World", "https://example.com/posts/1", at)
	first := f.Fingerprint(e)
	second := f.Fingerprint(e)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestFingerprintNormalization(t *testing.T) {
	var f dedup.Fingerprinter
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	base := f.Fingerprint(entry("Hello World", "https://example.com/posts/1", at))

	tests := []struct {
		name string
		e    feedparse.Entry
		same bool
	}{
		{
			name: "uppercase host collapses",
			e:    entry("Hello World", "https://EXAMPLE.COM/posts/1", at),
			same: true,
		},
		{
			name: "fragment is ignored",
			e:    entry("Hello World", "https://example.com/posts/1#comments", at),
			same: true,
		},
		{
			name: "trailing slash is ignored",
			e:    entry("Hello World", "https://example.com/posts/1/", at),
			same: true,
		},
		{
			name: "title case and whitespace collapse",
			e:    entry("  hello   WORLD ", "https://example.com/posts/1", at),
			same: true,
		},
		{
			name: "sub-minute timestamp jitter collapses",
			e:    entry("Hello World", "https://example.com/posts/1", at.Add(30*time.Second)),
			same: true,
		},
		{
			name: "timezone representation collapses",
			e:    entry("Hello World", "https://example.com/posts/1", at.In(time.FixedZone("CET", 3600))),
			same: true,
		},
		{
			name: "different path is a different entry",
			e:    entry("Hello World", "https://example.com/posts/2", at),
			same: false,
		},
		{
			name: "path case is significant",
			e:    entry("Hello World", "https://example.com/Posts/1", at),
			same: false,
		},
		{
			name: "different title is a different entry",
			e:    entry("Hello Mars", "https://example.com/posts/1", at),
			same: false,
		},
		{
			name: "different minute is a different entry",
			e:    entry("Hello World", "https://example.com/posts/1", at.Add(2*time.Minute)),
			same: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Fingerprint(tt.e)
			if tt.same {
				assert.Equal(t, base, got)
			} else {
				assert.NotEqual(t, base, got)
			}
		})
	}
}

func TestFingerprintGranularity(t *testing.T) {
	f := dedup.Fingerprinter{TimeGranularity: time.Hour}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := f.Fingerprint(entry("Title", "https://example.com/p", at))
	b := f.Fingerprint(entry("Title", "https://example.com/p", at.Add(45*time.Minute)))

	assert.Equal(t, a, b, "entries within the same hour must collide at hour granularity")
}

func TestDiff(t *testing.T) {
	var f dedup.Fingerprinter
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e1 := entry("First", "https://example.com/1", at)
	e2 := entry("Second", "https://example.com/2", at)
	e3 := entry("Third", "https://example.com/3", at)

	existing := map[string]struct{}{
		f.Fingerprint(e2): {},
	}

	d := f.Diff([]feedparse.Entry{e1, e2, e3}, existing)

	require.Len(t, d.New, 2)
	assert.Equal(t, "First", d.New[0].Title)
	assert.Equal(t, "Third", d.New[1].Title)
	require.Len(t, d.Fingerprints, 2)
	assert.Equal(t, f.Fingerprint(e1), d.Fingerprints[0])
	assert.Equal(t, f.Fingerprint(e3), d.Fingerprints[1])
	assert.Equal(t, 1, d.SeenAgainCount())
	assert.Equal(t, []string{f.Fingerprint(e2)}, d.SeenAgain)
}

func TestDiffIdempotent(t *testing.T) {
	var f dedup.Fingerprinter
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []feedparse.Entry{
		entry("First", "https://example.com/1", at),
		entry("Second", "https://example.com/2", at),
	}

	first := f.Diff(entries, map[string]struct{}{})
	require.Len(t, first.New, 2)

	// Feed the first diff's fingerprints back in as the stored set, the
	// way a second fetch of an unchanged document plays out.
	stored := make(map[string]struct{})
	for _, fp := range first.Fingerprints {
		stored[fp] = struct{}{}
	}

	second := f.Diff(entries, stored)
	assert.Empty(t, second.New)
	assert.Equal(t, 2, second.SeenAgainCount())
}

func TestDiffInDocumentDuplicate(t *testing.T) {
	var f dedup.Fingerprinter
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e := entry("Repeated", "https://example.com/1", at)
	d := f.Diff([]feedparse.Entry{e, e, e}, map[string]struct{}{})

	assert.Len(t, d.New, 1)
	assert.Equal(t, 2, d.SeenAgainCount())
}

func TestDiffEmpty(t *testing.T) {
	var f dedup.Fingerprinter

	d := f.Diff(nil, map[string]struct{}{})
	assert.Empty(t, d.New)
	assert.Zero(t, d.SeenAgainCount())
}
