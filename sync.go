package arxiv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SyncOptions configures metadata synchronization.
type SyncOptions struct {
	// Categories to synchronize, e.g. "cs.AI". Results and changes are
	// reported in this order.
	Categories []string

	// Concurrency is the number of categories synced in parallel (default 1)
	Concurrency int

	// MaxAttempts bounds the fetches of a single page (default 5)
	MaxAttempts int

	// InitialBackoff is the delay after the first failed fetch (default 5s).
	// It doubles on every further failure up to MaxBackoff (default 2m).
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger *zap.Logger

	// Now stamps newly merged versions (default time.Now)
	Now func() time.Time
}

// WatermarkResetter is implemented by feeds whose watermark can lose its
// continuation state, such as an expired OAI-PMH resumption token.
type WatermarkResetter interface {
	ResetWatermark(watermark string) string
}

// CategoryState is the reconciler state of one category.
type CategoryState int

const (
	StateIdle CategoryState = iota
	StateFetching
	StateMerging
	StateRetrying
	StateFailed
)

func (s CategoryState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateMerging:
		return "merging"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// CategoryResult summarizes the sync of one category.
type CategoryResult struct {
	Category       string
	State          CategoryState
	Pages          int
	Entries        int
	NewArticles    int
	NewVersions    int
	NewJournalRefs int
	NewDOIs        int
	Attempts       int
	Mutated        bool
	Err            error
}

// SyncReport is the outcome of one Sync run.
type SyncReport struct {
	RunID   string
	Results []CategoryResult
	Changes []Change
	Mutated bool
}

// Failed returns the results of categories that ended in StateFailed.
func (r *SyncReport) Failed() []CategoryResult {
	var out []CategoryResult
	for _, res := range r.Results {
		if res.State == StateFailed {
			out = append(out, res)
		}
	}
	return out
}

// Err joins the errors of every failed category.
func (r *SyncReport) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", res.Category, res.Err))
	}
	return errors.Join(errs...)
}

// Syncer reconciles the cache with a Feed.
type Syncer struct {
	cache  *Cache
	feed   Feed
	opts   SyncOptions
	logger *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error

	// beforeCommit runs inside the page transaction after the entries are
	// merged and before the cursor moves.
	beforeCommit func(category string, page *Page) error
}

// NewSyncer returns a Syncer merging pages of feed into cache.
func NewSyncer(cache *Cache, feed Feed, opts SyncOptions) *Syncer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 5 * time.Second
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = 2 * time.Minute
		if opts.MaxBackoff < opts.InitialBackoff {
			opts.MaxBackoff = opts.InitialBackoff
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		cache:  cache,
		feed:   feed,
		opts:   opts,
		logger: logger,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sync runs every configured category to the end of its feed. Categories
// run concurrently up to Concurrency; the pages of one category run in
// order. A failing category does not stop the others; its error is in the
// report and its cursor stays at the last merged page. Storage errors abort
// the whole run and are returned.
//
// Cancellation is honored between pages. A page that is being fetched or
// merged when ctx is cancelled is completed first.
func (s *Syncer) Sync(ctx context.Context) (*SyncReport, error) {
	report := &SyncReport{
		RunID:   uuid.NewString(),
		Results: make([]CategoryResult, len(s.opts.Categories)),
	}
	logger := s.logger.With(zap.String("run_id", report.RunID))
	logger.Info("sync started", zap.Strings("categories", s.opts.Categories))

	changes := make([][]Change, len(s.opts.Categories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, category := range s.opts.Categories {
		i, category := i, category
		g.Go(func() error {
			res, ch, err := s.syncCategory(gctx, logger.With(zap.String("category", category)), category)
			report.Results[i] = res
			changes[i] = ch
			return err
		})
	}
	err := g.Wait()

	for i, res := range report.Results {
		report.Changes = append(report.Changes, changes[i]...)
		if res.Mutated {
			report.Mutated = true
		}
	}
	if err == nil {
		err = ctx.Err()
	}

	fields := []zap.Field{
		zap.Int("changes", len(report.Changes)),
		zap.Int("failed", len(report.Failed())),
	}
	if err != nil {
		logger.Error("sync aborted", append(fields, zap.Error(err))...)
	} else {
		logger.Info("sync finished", fields...)
	}
	return report, err
}

func (s *Syncer) syncCategory(ctx context.Context, logger *zap.Logger, category string) (CategoryResult, []Change, error) {
	res := CategoryResult{Category: category, State: StateIdle}
	setState := func(st CategoryState) {
		if st != res.State {
			logger.Debug("category state", zap.Stringer("from", res.State), zap.Stringer("to", st))
		}
		res.State = st
	}

	var changes []Change
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res, nil, nil
	}
	watermark, err := s.cache.Cursor(context.WithoutCancel(ctx), category)
	if err != nil {
		setState(StateFailed)
		res.Err = err
		return res, nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res, changes, nil
		}

		setState(StateFetching)
		page, attempts, err := s.fetchPage(ctx, logger, category, watermark, setState)
		res.Attempts += attempts
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				setState(StateIdle)
				res.Err = err
				return res, changes, nil
			}
			setState(StateFailed)
			res.Err = err
			if isBadResumptionToken(err) {
				if rerr := s.resetWatermark(ctx, category, watermark); rerr != nil {
					return res, changes, rerr
				}
			}
			logger.Warn("category sync failed",
				zap.Stringer("kind", ErrorKind(err)),
				zap.Int("attempts", attempts),
				zap.Error(err))
			return res, changes, nil
		}
		if page.HasMore && page.Next == watermark {
			setState(StateFailed)
			res.Err = &ProtocolError{Msg: "feed did not advance"}
			return res, changes, nil
		}

		setState(StateMerging)
		pageChanges, changed, err := s.mergePage(context.WithoutCancel(ctx), category, page)
		if err != nil {
			setState(StateFailed)
			res.Err = err
			if ErrorKind(err) == KindStorage {
				return res, changes, err
			}
			logger.Warn("page merge failed", zap.Error(err))
			return res, changes, nil
		}

		res.Pages++
		res.Mutated = res.Mutated || changed
		res.Entries += len(page.Entries)
		for _, c := range pageChanges {
			switch c.Kind {
			case NewArticle:
				res.NewArticles++
			case NewVersion:
				res.NewVersions++
			case NewJournalRef:
				res.NewJournalRefs++
			case NewDOI:
				res.NewDOIs++
			}
		}
		changes = append(changes, pageChanges...)
		watermark = page.Next
		setState(StateIdle)

		logger.Debug("page merged",
			zap.Int("page", res.Pages),
			zap.Int("entries", len(page.Entries)),
			zap.Int("changes", len(pageChanges)))

		if !page.HasMore {
			logger.Info("category synced",
				zap.Int("pages", res.Pages),
				zap.Int("new_articles", res.NewArticles),
				zap.Int("new_versions", res.NewVersions),
				zap.Int("new_journal_refs", res.NewJournalRefs),
				zap.Int("new_dois", res.NewDOIs))
			return res, changes, nil
		}
	}
}

// fetchPage fetches the page after watermark, retrying transient failures
// with exponential backoff.
func (s *Syncer) fetchPage(ctx context.Context, logger *zap.Logger, category, watermark string, setState func(CategoryState)) (*Page, int, error) {
	for attempt := 1; ; attempt++ {
		page, err := s.feed.Fetch(context.WithoutCancel(ctx), category, watermark)
		if err == nil {
			return page, attempt, nil
		}
		if ErrorKind(err) != KindTransient || attempt >= s.opts.MaxAttempts {
			return nil, attempt, err
		}

		delay := s.backoff(attempt)
		var rl *RateLimitedError
		if errors.As(err, &rl) && rl.RetryAfter > delay {
			delay = rl.RetryAfter
		}
		setState(StateRetrying)
		logger.Warn("fetch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := s.sleep(ctx, delay); err != nil {
			return nil, attempt, err
		}
		setState(StateFetching)
	}
}

func (s *Syncer) backoff(attempt int) time.Duration {
	d := s.opts.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.opts.MaxBackoff {
			return s.opts.MaxBackoff
		}
	}
	return d
}

// mergePage merges a page and advances the cursor in one transaction.
func (s *Syncer) mergePage(ctx context.Context, category string, page *Page) ([]Change, bool, error) {
	entries := dedupeEntries(page.Entries)
	var (
		changes []Change
		changed bool
	)
	err := s.cache.Update(ctx, func(tx *Tx) error {
		changes = changes[:0]
		now := s.opts.Now()
		for _, e := range entries {
			c, err := mergeEntry(tx, e, category, now, s.logger)
			if err != nil {
				return err
			}
			changes = append(changes, c...)
		}
		if s.beforeCommit != nil {
			if err := s.beforeCommit(category, page); err != nil {
				return err
			}
		}
		if err := tx.SetCursor(category, page.Next); err != nil {
			return err
		}
		changed = tx.changed
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return changes, changed, nil
}

func (s *Syncer) resetWatermark(ctx context.Context, category, watermark string) error {
	r, ok := s.feed.(WatermarkResetter)
	if !ok {
		return nil
	}
	return s.cache.Update(context.WithoutCancel(ctx), func(tx *Tx) error {
		return tx.SetCursor(category, r.ResetWatermark(watermark))
	})
}
