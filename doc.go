// Package arxiv keeps a local replica of arXiv article metadata and tells
// the user what changed.
//
// This package implements:
//   - an OAI-PMH client harvesting the arXivRaw format per category
//   - a SQLite record store with append-only version history
//   - incremental, resumable sync with retry and rate limiting
//   - a filter language over stored articles
//   - notifications for new articles, versions and journal references
//   - checking BibTeX citations against the stored version history
//
// A sync page and the cursor that follows it are committed in one
// transaction, so an interrupted run resumes where it stopped and never
// merges an entry twice. Notifications are acknowledged only after they
// were delivered.
//
// Basic usage:
//
//	cache, err := arxiv.Open("/path/to/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cache.Close()
//
//	syncer := arxiv.NewSyncer(cache, arxiv.NewOAIClient(), arxiv.SyncOptions{
//		Categories: []string{"math.CO", "cs.DM"},
//	})
//	report, err := syncer.Sync(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	notifier := arxiv.NewNotifier(cache, arxiv.MustCompileFilter("cat:math.CO"), nil, nil)
//	events, err := notifier.FromChanges(ctx, report.Changes)
package arxiv
