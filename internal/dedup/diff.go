package dedup

import "feedhub/internal/feedparse"

// Diff is the outcome of comparing one document's entries against the
// fingerprints already stored for the feed.
type Diff struct {
	// New holds entries absent from the stored set, in document order.
	New []feedparse.Entry
	// Fingerprints is aligned index-for-index with New.
	Fingerprints []string
	// SeenAgain lists fingerprints that already existed; their count feeds
	// the adaptive cache-duration heuristics.
	SeenAgain []string
}

// SeenAgainCount returns how many entries were dropped as duplicates.
func (d Diff) SeenAgainCount() int {
	return len(d.SeenAgain)
}

// Diff splits entries into new and already-seen relative to the stored
// fingerprint set. An entry repeated within the same document counts as
// seen-again after its first occurrence.
func (f Fingerprinter) Diff(entries []feedparse.Entry, existing map[string]struct{}) Diff {
	var d Diff
	inDoc := make(map[string]struct{}, len(entries))

	for _, e := range entries {
		fp := f.Fingerprint(e)
		if _, dup := inDoc[fp]; dup {
			d.SeenAgain = append(d.SeenAgain, fp)
			continue
		}
		inDoc[fp] = struct{}{}

		if _, seen := existing[fp]; seen {
			d.SeenAgain = append(d.SeenAgain, fp)
			continue
		}
		d.New = append(d.New, e)
		d.Fingerprints = append(d.Fingerprints, fp)
	}
	return d
}
