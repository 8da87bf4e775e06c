package arxiv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncMergesPagesAndAdvancesCursor(t *testing.T) {
	c := openTestCache(t)
	feed := newFakeFeed()
	feed.addPage("math.CO", "", &Page{Entries: []Entry{testEntry("2301.00001", 1), testEntry("2301.00002", 2)}, Next: "1", HasMore: true})
	feed.addPage("math.CO", "1", &Page{Entries: []Entry{testEntry("2301.00003", 1)}, Next: "2"})

	report, err := newTestSyncer(c, feed, "math.CO").Sync(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.NotEmpty(t, report.RunID)
	assert.True(t, report.Mutated)

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 3, res.Entries)
	assert.Equal(t, 3, res.NewArticles)

	require.Len(t, report.Changes, 3)
	assert.Equal(t, Change{ArticleID: "2301.00002", Kind: NewArticle, Version: 2, Category: "math.CO"}, report.Changes[1])

	w, err := c.Cursor(context.Background(), "math.CO")
	require.NoError(t, err)
	assert.Equal(t, "2", w)
}

func TestSyncIsIdempotent(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	feed := newFakeFeed()
	feed.addPage("math.CO", "", &Page{Entries: []Entry{testEntry("2301.00001", 2, withJournal("J. 1")), testEntry("2301.00002", 1)}, Next: "1"})

	_, err := newTestSyncer(c, feed, "math.CO").Sync(ctx)
	require.NoError(t, err)
	before, err := c.Stats(ctx)
	require.NoError(t, err)

	// Resumed from the cursor: nothing new.
	report, err := newTestSyncer(c, feed, "math.CO").Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Changes)
	assert.False(t, report.Mutated)

	// The same page replayed from the start merges to the same state.
	require.NoError(t, c.ResetCursor(ctx, "math.CO"))
	report, err = newTestSyncer(c, feed, "math.CO").Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Changes)

	after, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSyncNewVersionAndJournalRef(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	seed(t, c, testEntry("2301.00001", 1))

	feed := newFakeFeed()
	feed.addPage("math.CO", "", &Page{Entries: []Entry{
		testEntry("2301.00001", 2, withJournal("Combinatorica 44 (2024)"), withTitle("New title")),
	}, Next: "1"})

	report, err := newTestSyncer(c, feed, "math.CO").Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Change{
		{ArticleID: "2301.00001", Kind: NewVersion, Version: 2, Category: "math.CO"},
		{ArticleID: "2301.00001", Kind: NewJournalRef, Version: 2, JournalRef: "Combinatorica 44 (2024)", Category: "math.CO"},
	}, report.Changes)

	a, err := c.GetArticle(ctx, "2301.00001")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versionNumbers(a))
	assert.Equal(t, "On 2301.00001", a.Versions[0].Title)
	assert.Equal(t, "New title", a.Versions[1].Title)
	assert.Equal(t, "New title", a.Title)
	assert.Equal(t, "Combinatorica 44 (2024)", a.JournalRef)
}

func TestSyncNeverRemovesInformation(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	seed(t, c, testEntry("2301.00001", 3, withJournal("J. 1")))

	feed := newFakeFeed()
	feed.addPage("math.CO", "", &Page{Entries: []Entry{
		testEntry("2301.00001", 1),
		testEntry("2301.00001", 3),
	}, Next: "1", HasMore: true})
	feed.addPage("math.CO", "1", &Page{Entries: []Entry{testEntry("2301.00001", 2)}, Next: "2"})

	report, err := newTestSyncer(c, feed, "math.CO").Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Changes)

	a, err := c.GetArticle(ctx, "2301.00001")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, versionNumbers(a))
	assert.Equal(t, "J. 1", a.JournalRef)
}

func TestSyncDeduplicatesWithinPage(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	feed := newFakeFeed()
	feed.addPage("math.CO", "", &Page{Entries: []Entry{
		testEntry("2301.00001", 1, withTitle("first")),
		testEntry("2301.00002", 1),
		testEntry("2301.00001", 2, withTitle("second")),
		testEntry("2301.00002", 1, withTitle("later")),
	}, Next: "1"})

	report, err := newTestSyncer(c, feed, "math.CO").Sync(ctx)
	require.NoError(t, err)
	require.Len(t, report.Changes, 2)
	assert.Equal(t, "2301.00001", report.Changes[0].ArticleID)
	assert.Equal(t, 2, report.Changes[0].Version)
	assert.Equal(t, "2301.00002", report.Changes[1].ArticleID)

	a, err := c.GetArticle(ctx, "2301.00001")
	require.NoError(t, err)
	assert.Equal(t, "second", a.Title)
	b, err := c.GetArticle(ctx, "2301.00002")
	require.NoError(t, err)
	assert.Equal(t, "later", b.Title)
}

func TestSyncRetriesTransientErrors(t *testing.T) {
	c := openTestCache(t)
	feed := newFakeFeed()
	feed.addPage("math.CO", "", &Page{Entries: []Entry{testEntry("2301.00001", 1)}, Next: "1"})
	feed.failNext("math.CO",
		&NetworkError{Err: errors.New("connection reset")},
		&RateLimitedError{RetryAfter: 10 * time.Millisecond},
	)

	s := newTestSyncer(c, feed, "math.CO")
	var delays []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	report, err := s.Sync(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 3, report.Results[0].Attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 10 * time.Millisecond}, delays)
	assert.Len(t, report.Changes, 1)
}

func TestSyncBackoffIsCapped(t *testing.T) {
	s := newTestSyncer(openTestCache(t), newFakeFeed())
	assert.Equal(t, time.Millisecond, s.backoff(1))
	assert.Equal(t, 2*time.Millisecond, s.backoff(2))
	assert.Equal(t, 4*time.Millisecond, s.backoff(3))
	assert.Equal(t, 4*time.Millisecond, s.backoff(10))
}

func TestSyncGivesUpAfterMaxAttempts(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	feed := newFakeFeed()
	feed.addPage("math.CO", "", &Page{Entries: []Entry{testEntry("2301.00001", 1)}, Next: "1", HasMore: true})
	feed.addPage("math.CO", "1", &Page{Entries: []Entry{testEntry("2301.00002", 1)}, Next: "2"})

	s := newTestSyncer(c, feed, "math.CO")
	s.beforeCommit = func(category string, page *Page) error {
		if page.Next == "1" {
			feed.failNext("math.CO",
				&NetworkError{Err: errors.New("a")},
				&NetworkError{Err: errors.New("b")},
				&NetworkError{Err: errors.New("c")},
			)
		}
		return nil
	}

	report, err := s.Sync(ctx)
	require.NoError(t, err)
	res := report.Results[0]
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, KindTransient, ErrorKind(res.Err))
	assert.Equal(t, 1, res.Pages)
	assert.Error(t, report.Err())
	assert.Equal(t, 4, feed.callCount("math.CO"))

	w, err := c.Cursor(ctx, "math.CO")
	require.NoError(t, err)
	assert.Equal(t, "1", w)
	ok, err := c.HasArticle(ctx, "2301.00002")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncDoesNotRetryProtocolErrors(t *testing.T) {
	c := openTestCache(t)
	feed := newFakeFeed()
	feed.failNext("math.CO", &ProtocolError{Msg: "garbage"})

	report, err := newTestSyncer(c, feed, "math.CO").Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, report.Results[0].State)
	assert.Equal(t, KindProtocol, ErrorKind(report.Results[0].Err))
	assert.Equal(t, 1, feed.callCount("math.CO"))
}

func TestSyncFailureDoesNotStopOtherCategories(t *testing.T) {
	c := openTestCache(t)
	feed := newFakeFeed()
	feed.failNext("cs.DM", &ProtocolError{Msg: "garbage"})
	feed.addPage("math.CO", "", &Page{Entries: []Entry{testEntry("2301.00001", 1)}, Next: "1"})

	s := newTestSyncer(c, feed, "cs.DM", "math.CO")
	s.opts.Concurrency = 2
	report, err := s.Sync(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, "cs.DM", report.Results[0].Category)
	assert.Equal(t, StateFailed, report.Results[0].State)
	assert.Equal(t, "math.CO", report.Results[1].Category)
	assert.Equal(t, StateIdle, report.Results[1].State)
	assert.Len(t, report.Failed(), 1)
	assert.Len(t, report.Changes, 1)
}

func TestSyncCrashBeforeCursorCommitLeavesNoTrace(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	feed := newFakeFeed()
	feed.addPage("math.CO", "", &Page{Entries: []Entry{testEntry("2301.00001", 1)}, Next: "1", HasMore: true})
	feed.addPage("math.CO", "1", &Page{Entries: []Entry{testEntry("2301.00001", 2), testEntry("2301.00002", 1)}, Next: "2"})

	crash := errors.New("crash")
	s := newTestSyncer(c, feed, "math.CO")
	s.beforeCommit = func(category string, page *Page) error {
		if page.Next == "2" {
			return crash
		}
		return nil
	}
	report, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, report.Results[0].Err, crash)

	a, err := c.GetArticle(ctx, "2301.00001")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versionNumbers(a))
	ok, err := c.HasArticle(ctx, "2301.00002")
	require.NoError(t, err)
	assert.False(t, ok)
	w, err := c.Cursor(ctx, "math.CO")
	require.NoError(t, err)
	assert.Equal(t, "1", w)

	// The next run resumes with the interrupted page only.
	report, err = newTestSyncer(c, feed, "math.CO").Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Change{
		{ArticleID: "2301.00001", Kind: NewVersion, Version: 2, Category: "math.CO"},
		{ArticleID: "2301.00002", Kind: NewArticle, Version: 1, Category: "math.CO"},
	}, report.Changes)
	assert.Equal(t, []string{"", "1", "1"}, feed.seen["math.CO"])
}

type resettingFeed struct {
	*fakeFeed
}

func (f resettingFeed) ResetWatermark(watermark string) string {
	return "restart"
}

func TestSyncResetsWatermarkOnBadResumptionToken(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	feed := newFakeFeed()
	feed.addPage("math.CO", "", &Page{Entries: []Entry{testEntry("2301.00001", 1)}, Next: "token", HasMore: true})

	s := newTestSyncer(c, resettingFeed{feed}, "math.CO")
	s.beforeCommit = func(category string, page *Page) error {
		feed.failNext("math.CO", &ProtocolError{Msg: "badResumptionToken", Err: ErrBadResumptionToken})
		return nil
	}
	report, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, report.Results[0].State)
	assert.ErrorIs(t, report.Results[0].Err, ErrBadResumptionToken)

	w, err := c.Cursor(ctx, "math.CO")
	require.NoError(t, err)
	assert.Equal(t, "restart", w)
}

func TestSyncRejectsFeedThatDoesNotAdvance(t *testing.T) {
	c := openTestCache(t)
	feed := newFakeFeed()
	feed.addPage("math.CO", "", &Page{Next: "", HasMore: true})

	report, err := newTestSyncer(c, feed, "math.CO").Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, report.Results[0].State)
	assert.Equal(t, KindProtocol, ErrorKind(report.Results[0].Err))
}

func TestSyncStopsBetweenPagesOnCancel(t *testing.T) {
	c := openTestCache(t)
	feed := newFakeFeed()
	feed.addPage("math.CO", "", &Page{Entries: []Entry{testEntry("2301.00001", 1)}, Next: "1", HasMore: true})
	feed.addPage("math.CO", "1", &Page{Entries: []Entry{testEntry("2301.00002", 1)}, Next: "2"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestSyncer(c, feed, "math.CO")
	s.beforeCommit = func(category string, page *Page) error {
		cancel()
		return nil
	}

	report, err := s.Sync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, StateIdle, report.Results[0].State)
	assert.Len(t, report.Changes, 1)
	assert.Equal(t, 1, feed.callCount("math.CO"))

	w, err := c.Cursor(context.Background(), "math.CO")
	require.NoError(t, err)
	assert.Equal(t, "1", w)
}

func TestSyncStorageErrorAbortsRun(t *testing.T) {
	c := openTestCache(t)
	feed := newFakeFeed()
	require.NoError(t, c.Close())

	_, err := newTestSyncer(c, feed, "math.CO").Sync(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindStorage, ErrorKind(err))
	assert.Equal(t, 0, feed.callCount("math.CO"))
}
