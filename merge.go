package arxiv

import (
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ChangeKind classifies how a merged entry changed the store.
type ChangeKind int

const (
	NewArticle ChangeKind = iota + 1
	NewVersion
	NewJournalRef
	NewDOI
)

func (k ChangeKind) String() string {
	switch k {
	case NewArticle:
		return "new-article"
	case NewVersion:
		return "new-version"
	case NewJournalRef:
		return "new-journal-ref"
	case NewDOI:
		return "new-doi"
	}
	return "unknown"
}

// Change is the diff produced by merging one entry. Version is the
// article's maximum version after the merge; JournalRef is set for
// NewJournalRef and NewArticle, DOI for NewDOI and NewArticle.
type Change struct {
	ArticleID  string
	Kind       ChangeKind
	Version    int
	JournalRef string
	DOI        string
	Category   string
}

// dedupeEntries collapses repeated identifiers within one page. The entry
// with the higher version wins; on a tie the later entry wins. The
// surviving entry keeps the position of the first occurrence.
func dedupeEntries(entries []Entry) []Entry {
	idx := make(map[string]int, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if i, ok := idx[e.ID]; ok {
			if e.MaxVersion() >= out[i].MaxVersion() {
				out[i] = e
			}
			continue
		}
		idx[e.ID] = len(out)
		out = append(out, e)
	}
	return out
}

// mergeEntry applies one feed entry to the store and returns the diffs.
func mergeEntry(tx *Tx, e Entry, category string, now time.Time, logger *zap.Logger) ([]Change, error) {
	head := e.head()
	ref := normalizeSpace(e.JournalRef)

	stored, err := tx.Article(e.ID)
	if errors.Is(err, ErrNotFound) {
		a := head
		a.JournalRef = ref
		a.Versions = entryVersions(e, 0, &head, now)
		if err := tx.CreateArticle(&a); err != nil {
			return nil, err
		}
		return []Change{{
			ArticleID:  a.ID,
			Kind:       NewArticle,
			Version:    a.MaxVersion(),
			JournalRef: ref,
			DOI:        a.DOI,
			Category:   category,
		}}, nil
	}
	if err != nil {
		return nil, err
	}

	var changes []Change
	storedMax := stored.MaxVersion()
	entryMax := e.MaxVersion()
	switch {
	case entryMax > storedMax:
		if err := tx.AppendVersions(e.ID, entryVersions(e, storedMax, &head, now)); err != nil {
			return nil, err
		}
		changes = append(changes, Change{ArticleID: e.ID, Kind: NewVersion, Version: entryMax, Category: category})
	case entryMax < storedMax:
		// An older snapshot of the article; nothing in it is newer than
		// what is stored.
		logger.Warn("feed entry older than stored record",
			zap.String("article_id", e.ID),
			zap.Int("entry_version", entryMax),
			zap.Int("stored_version", storedMax))
		return nil, nil
	}

	v := max(entryMax, storedMax)
	if ref != "" && ref != stored.JournalRef {
		if err := tx.SetJournalRef(e.ID, ref); err != nil {
			return nil, err
		}
		changes = append(changes, Change{ArticleID: e.ID, Kind: NewJournalRef, Version: v, JournalRef: ref, Category: category})
	}
	if head.DOI != "" && head.DOI != stored.DOI {
		// Written by SaveHead below.
		changes = append(changes, Change{ArticleID: e.ID, Kind: NewDOI, Version: v, DOI: head.DOI, Category: category})
	}

	if headDiffers(stored, &head) {
		if err := tx.SaveHead(&head); err != nil {
			return nil, err
		}
	}
	return changes, nil
}

// entryVersions returns the versions of e numbered above after, in
// increasing order. An entry without version history yields version 1.
func entryVersions(e Entry, after int, head *Article, now time.Time) []Version {
	evs := append([]EntryVersion(nil), e.Versions...)
	if len(evs) == 0 {
		evs = []EntryVersion{{Number: 1}}
	}
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].Number < evs[j].Number })

	var out []Version
	prev := after
	for _, ev := range evs {
		if ev.Number <= prev {
			continue
		}
		prev = ev.Number
		out = append(out, Version{
			ArticleID:   e.ID,
			Number:      ev.Number,
			Submitted:   ev.Submitted,
			Size:        ev.Size,
			SourceType:  ev.SourceType,
			Title:       head.Title,
			Abstract:    head.Abstract,
			Authors:     head.Authors,
			Categories:  head.Categories,
			Encountered: now,
		})
	}
	return out
}

func headDiffers(stored, head *Article) bool {
	return stored.Submitter != head.Submitter ||
		stored.Title != head.Title ||
		stored.Abstract != head.Abstract ||
		stored.Authors != head.Authors ||
		stored.Categories != head.Categories ||
		stored.Comments != head.Comments ||
		stored.DOI != head.DOI ||
		stored.License != head.License ||
		stored.ACMClass != head.ACMClass ||
		stored.MSCClass != head.MSCClass ||
		stored.ReportNo != head.ReportNo ||
		stored.Datestamp != head.Datestamp
}
