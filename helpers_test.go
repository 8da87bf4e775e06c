package arxiv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// testEntry builds a feed entry with versions 1..n.
func testEntry(id string, n int, mods ...func(*Entry)) Entry {
	e := Entry{
		ID:         id,
		Submitter:  "Ada Lovelace",
		Title:      "On " + id,
		Authors:    "Ada Lovelace and Charles Babbage",
		Abstract:   "We study " + id + ".",
		Categories: []string{"math.CO", "cs.DM"},
		Datestamp:  "2024-02-01",
	}
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for v := 1; v <= n; v++ {
		e.Versions = append(e.Versions, EntryVersion{
			Number:    v,
			Submitted: base.AddDate(0, v, 0),
			Size:      "10kb",
		})
	}
	for _, mod := range mods {
		mod(&e)
	}
	return e
}

func withJournal(ref string) func(*Entry) {
	return func(e *Entry) { e.JournalRef = ref }
}

func withTitle(title string) func(*Entry) {
	return func(e *Entry) { e.Title = title }
}

func withDOI(doi string) func(*Entry) {
	return func(e *Entry) { e.DOI = doi }
}

func withCategories(cats ...string) func(*Entry) {
	return func(e *Entry) { e.Categories = cats }
}

// seed merges entries as a sync page would, without touching cursors.
func seed(t *testing.T, c *Cache, entries ...Entry) []Change {
	t.Helper()
	var changes []Change
	err := c.Update(context.Background(), func(tx *Tx) error {
		for _, e := range entries {
			ch, err := mergeEntry(tx, e, "test", testNow, zap.NewNop())
			if err != nil {
				return err
			}
			changes = append(changes, ch...)
		}
		return nil
	})
	require.NoError(t, err)
	return changes
}

func versionNumbers(a *Article) []int {
	out := make([]int, 0, len(a.Versions))
	for _, v := range a.Versions {
		out = append(out, v.Number)
	}
	return out
}

// fakeFeed serves scripted pages. pages maps category and watermark to the
// page following that watermark; a watermark without a page yields an empty
// final page. Queued errors are returned, one per call, before any page.
type fakeFeed struct {
	mu    sync.Mutex
	pages map[string]map[string]*Page
	errs  map[string][]error
	calls map[string]int
	seen  map[string][]string
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		pages: make(map[string]map[string]*Page),
		errs:  make(map[string][]error),
		calls: make(map[string]int),
		seen:  make(map[string][]string),
	}
}

func (f *fakeFeed) addPage(category, watermark string, page *Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pages[category] == nil {
		f.pages[category] = make(map[string]*Page)
	}
	f.pages[category][watermark] = page
}

func (f *fakeFeed) failNext(category string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[category] = append(f.errs[category], errs...)
}

func (f *fakeFeed) callCount(category string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[category]
}

func (f *fakeFeed) Fetch(ctx context.Context, category, watermark string) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[category]++
	f.seen[category] = append(f.seen[category], watermark)
	if q := f.errs[category]; len(q) > 0 {
		f.errs[category] = q[1:]
		return nil, q[0]
	}
	p, ok := f.pages[category][watermark]
	if !ok {
		return &Page{Next: watermark}, nil
	}
	cp := *p
	cp.Entries = append([]Entry(nil), p.Entries...)
	return &cp, nil
}

func newTestSyncer(c *Cache, feed Feed, categories ...string) *Syncer {
	s := NewSyncer(c, feed, SyncOptions{
		Categories:     categories,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		Now:            fixedNow,
	})
	s.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return s
}
