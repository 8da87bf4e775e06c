package arxiv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	batches [][]Notification
	err     error
}

func (s *recordingSink) Deliver(ctx context.Context, notifications []Notification) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, notifications)
	return nil
}

func notificationKeys(ns []Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.ArticleID+" "+n.Kind.String())
	}
	return out
}

// syncOnce runs one sync of math.CO serving entries as a single page.
func syncOnce(t *testing.T, c *Cache, entries ...Entry) []Change {
	t.Helper()
	ctx := context.Background()
	w, err := c.Cursor(ctx, "math.CO")
	require.NoError(t, err)
	feed := newFakeFeed()
	feed.addPage("math.CO", w, &Page{Entries: entries, Next: w + "+"})
	report, err := newTestSyncer(c, feed, "math.CO").Sync(ctx)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	return report.Changes
}

func TestNotificationsAreExact(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	seed(t, c, testEntry("2301.00001", 1), testEntry("2301.00003", 1))
	require.NoError(t, c.SetBookmarked(ctx, "2301.00001", true))
	require.NoError(t, c.Acknowledge(ctx, []Ack{{ID: "2301.00001", Version: 1}, {ID: "2301.00003", Version: 1}}))

	n := NewNotifier(c, MustCompileFilter("category:math.CO"), nil, nil)
	changes := syncOnce(t, c, testEntry("2301.00001", 2), testEntry("2301.00002", 1), testEntry("2301.00003", 2))
	require.Len(t, changes, 3)

	got, err := n.FromChanges(ctx, changes)
	require.NoError(t, err)
	assert.Equal(t, []string{"2301.00001 new-version", "2301.00002 new-article"}, notificationKeys(got))
	assert.Equal(t, 2, got[0].Version)

	pending, err := n.Pending(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, notificationKeys(got), notificationKeys(pending))

	sink := &recordingSink{}
	require.NoError(t, n.Deliver(ctx, got, sink))
	require.Len(t, sink.batches, 1)

	// Delivered notifications are never produced again.
	again, err := n.FromChanges(ctx, changes)
	require.NoError(t, err)
	assert.Empty(t, again)
	pending, err = n.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	a, err := c.GetArticle(ctx, "2301.00001")
	require.NoError(t, err)
	assert.Equal(t, 2, a.LastSeenVersion)
	cArticle, err := c.GetArticle(ctx, "2301.00003")
	require.NoError(t, err)
	assert.Equal(t, 1, cArticle.LastSeenVersion)
}

func TestFailedDeliveryAcknowledgesNothing(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	n := NewNotifier(c, nil, nil, nil)
	changes := syncOnce(t, c, testEntry("2301.00001", 1))

	got, err := n.FromChanges(ctx, changes)
	require.NoError(t, err)
	require.Len(t, got, 1)

	sink := &recordingSink{err: errors.New("terminal closed")}
	assert.Error(t, n.Deliver(ctx, got, sink))

	pending, err := n.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2301.00001 new-article"}, notificationKeys(pending))
	again, err := n.FromChanges(ctx, changes)
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestJournalRefNotification(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	seed(t, c, testEntry("2301.00001", 2))
	require.NoError(t, c.SetBookmarked(ctx, "2301.00001", true))
	require.NoError(t, c.Acknowledge(ctx, []Ack{{ID: "2301.00001", Version: 1}}))
	n := NewNotifier(c, nil, nil, nil)

	changes := syncOnce(t, c, testEntry("2301.00001", 2, withJournal("Combinatorica 44 (2024)")))
	got, err := n.FromChanges(ctx, changes)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, NewJournalRef, got[0].Kind)
	assert.Equal(t, "Combinatorica 44 (2024)", got[0].JournalRef)

	require.NoError(t, n.Deliver(ctx, got, &recordingSink{}))
	a, err := c.GetArticle(ctx, "2301.00001")
	require.NoError(t, err)
	assert.Equal(t, "Combinatorica 44 (2024)", a.SeenJournalRef)
	// Version 2 was never shown and is still pending.
	assert.Equal(t, 1, a.LastSeenVersion)

	pending, err := n.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2301.00001 new-version"}, notificationKeys(pending))
}

func TestPendingOrder(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	late := testEntry("2301.00001", 1)
	late.Versions[0].Submitted = time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	early := testEntry("2301.00002", 1)
	early.Versions[0].Submitted = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	seed(t, c, late, early, testEntry("2301.00003", 2, withJournal("J. 1")), testEntry("2301.00004", 1, withCategories("cs.AI")))
	require.NoError(t, c.SetBookmarked(ctx, "2301.00003", true))
	require.NoError(t, c.Acknowledge(ctx, []Ack{{ID: "2301.00003", Version: 1}}))

	n := NewNotifier(c, MustCompileFilter("category:math.CO"), nil, nil)
	pending, err := n.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2301.00002 new-article",
		"2301.00001 new-article",
		"2301.00003 new-version",
		"2301.00003 new-journal-ref",
	}, notificationKeys(pending))
}

func TestFromChangesDeduplicates(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	seed(t, c, testEntry("2301.00001", 1))
	n := NewNotifier(c, nil, nil, nil)

	ch := Change{ArticleID: "2301.00001", Kind: NewArticle, Version: 1}
	got, err := n.FromChanges(ctx, []Change{ch, ch, {ArticleID: "2301.09999", Kind: NewArticle, Version: 1}})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.NoError(t, n.Deliver(ctx, nil, &recordingSink{err: errors.New("unused")}))
}

func TestNotificationsForNewArticlesAndBookmarks(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	seed(t, c, testEntry("2301.00001", 1, withCategories("cs.AI")))
	require.NoError(t, c.SetBookmarked(ctx, "2301.00001", true))
	require.NoError(t, c.Acknowledge(ctx, []Ack{{ID: "2301.00001", Version: 1}}))

	n := NewNotifier(c, MustCompileFilter("category:cs.AI"), nil, nil)
	changes := syncOnce(t, c,
		testEntry("2301.00001", 2, withCategories("cs.AI")),
		testEntry("2301.00002", 1, withCategories("cs.AI")),
		testEntry("2301.00003", 1, withCategories("cs.LG")),
	)
	require.Len(t, changes, 3)

	got, err := n.FromChanges(ctx, changes)
	require.NoError(t, err)
	assert.Equal(t, []string{"2301.00001 new-version", "2301.00002 new-article"}, notificationKeys(got))
	assert.Equal(t, 2, got[0].Version)
}

func TestUpdateFilterOnlyNarrowsBookmarks(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	seed(t, c,
		testEntry("2301.00001", 1),
		testEntry("2301.00002", 1, withCategories("cs.LG")),
		testEntry("2301.00003", 1),
	)
	require.NoError(t, c.SetBookmarked(ctx, "2301.00002", true))
	require.NoError(t, c.SetBookmarked(ctx, "2301.00003", true))
	require.NoError(t, c.Acknowledge(ctx, []Ack{
		{ID: "2301.00001", Version: 1}, {ID: "2301.00002", Version: 1}, {ID: "2301.00003", Version: 1},
	}))

	changes := syncOnce(t, c,
		testEntry("2301.00001", 2),
		testEntry("2301.00002", 2, withCategories("cs.LG")),
		testEntry("2301.00003", 2),
	)

	narrowed := NewNotifier(c, nil, MustCompileFilter("category:math.CO"), nil)
	got, err := narrowed.FromChanges(ctx, changes)
	require.NoError(t, err)
	assert.Equal(t, []string{"2301.00003 new-version"}, notificationKeys(got))
	pending, err := narrowed.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2301.00003 new-version"}, notificationKeys(pending))

	all := NewNotifier(c, nil, nil, nil)
	got, err = all.FromChanges(ctx, changes)
	require.NoError(t, err)
	assert.Equal(t, []string{"2301.00002 new-version", "2301.00003 new-version"}, notificationKeys(got))
}

func TestVersionBumpsCollapsePerArticle(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	seed(t, c, testEntry("2301.00001", 1))
	require.NoError(t, c.SetBookmarked(ctx, "2301.00001", true))
	require.NoError(t, c.Acknowledge(ctx, []Ack{{ID: "2301.00001", Version: 1}}))

	feed := newFakeFeed()
	feed.addPage("math.CO", "", &Page{Entries: []Entry{testEntry("2301.00001", 2)}, Next: "1", HasMore: true})
	feed.addPage("math.CO", "1", &Page{Entries: []Entry{testEntry("2301.00001", 3)}, Next: "2"})
	report, err := newTestSyncer(c, feed, "math.CO").Sync(ctx)
	require.NoError(t, err)
	require.Len(t, report.Changes, 2)

	n := NewNotifier(c, nil, nil, nil)
	got, err := n.FromChanges(ctx, report.Changes)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, NewVersion, got[0].Kind)
	assert.Equal(t, 3, got[0].Version)

	require.NoError(t, n.Deliver(ctx, got, &recordingSink{}))
	a, err := c.GetArticle(ctx, "2301.00001")
	require.NoError(t, err)
	assert.Equal(t, 3, a.LastSeenVersion)
}

func TestDOINotification(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	seed(t, c, testEntry("2301.00001", 1))
	require.NoError(t, c.SetBookmarked(ctx, "2301.00001", true))
	require.NoError(t, c.Acknowledge(ctx, []Ack{{ID: "2301.00001", Version: 1}}))
	n := NewNotifier(c, nil, nil, nil)

	changes := syncOnce(t, c, testEntry("2301.00001", 1, withDOI("10.1000/xyz")))
	require.Equal(t, []Change{{ArticleID: "2301.00001", Kind: NewDOI, Version: 1, DOI: "10.1000/xyz", Category: "math.CO"}}, changes)

	got, err := n.FromChanges(ctx, changes)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "10.1000/xyz", got[0].DOI)
	pending, err := n.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2301.00001 new-doi"}, notificationKeys(pending))

	require.NoError(t, n.Deliver(ctx, got, &recordingSink{}))
	pending, err = n.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A new article's DOI is part of the first notification.
	changes = syncOnce(t, c, testEntry("2301.00002", 1, withDOI("10.1000/new")))
	got, err = n.FromChanges(ctx, changes)
	require.NoError(t, err)
	require.NoError(t, n.Deliver(ctx, got, &recordingSink{}))
	require.NoError(t, c.SetBookmarked(ctx, "2301.00002", true))
	pending, err = n.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
