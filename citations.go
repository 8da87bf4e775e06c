package arxiv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// CitationEntry is a reference to an arXiv article found in a
// bibliography. Version 0 means no particular version is cited. Journal
// is the journal the entry cites, if any.
type CitationEntry struct {
	Key     string
	ID      string
	Version int
	Journal string
	DOI     string
}

// CitationStatus is the verdict for one citation.
type CitationStatus int

const (
	CitationUpToDate CitationStatus = iota
	CitationStaleVersion
	CitationStaleJournalRef
	CitationUnknown

	// CitationStoreBehind means the citation names a version newer than
	// any stored one. The store needs a sync before it can judge.
	CitationStoreBehind
)

func (s CitationStatus) String() string {
	switch s {
	case CitationUpToDate:
		return "upToDate"
	case CitationStaleVersion:
		return "staleVersion"
	case CitationStaleJournalRef:
		return "staleJournalRef"
	case CitationUnknown:
		return "unknown"
	case CitationStoreBehind:
		return "storeBehind"
	}
	return "invalid"
}

// CitationReport pairs a citation with what the store knows about it.
type CitationReport struct {
	Entry  CitationEntry
	Status CitationStatus

	LatestVersion int
	JournalRef    string
	DOI           string

	// JournalRefAvailable is set whenever the article has a journal
	// reference the entry does not cite, even if the version is stale too.
	JournalRefAvailable bool
}

// CitationsFromBibTeX extracts the arXiv citations of entries. Entries
// that cite neither an arXiv id nor a DOI are ignored. Entries that claim
// to be arXiv preprints with an unreadable id are reported as issues.
func CitationsFromBibTeX(entries []BibTeXEntry) ([]CitationEntry, []ParseIssue) {
	var (
		out    []CitationEntry
		issues []ParseIssue
	)
	for _, e := range entries {
		c := CitationEntry{Key: e.Key, DOI: e.Fields["doi"]}
		if j := e.Fields["journal"]; j != "" && !isPreprintVenue(j) {
			c.Journal = j
		}

		prefix := strings.ToLower(firstNonEmpty(e.Fields["archiveprefix"], e.Fields["eprinttype"]))
		if eprint := e.Fields["eprint"]; eprint != "" && (prefix == "" || prefix == "arxiv") {
			id, version, err := ParseIDWithVersion(eprint)
			switch {
			case err == nil && (prefix == "arxiv" || looksLikeID(eprint)):
				c.ID, c.Version = id, version
			case prefix == "arxiv":
				issues = append(issues, ParseIssue{Line: e.Line, Key: e.Key, Msg: fmt.Sprintf("invalid arXiv eprint %q", eprint)})
				continue
			}
		}
		if c.ID == "" {
			for _, field := range []string{"url", "note", "howpublished", "journal", "volume"} {
				if id, version, ok := FindID(e.Fields[field]); ok {
					c.ID, c.Version = id, version
					break
				}
			}
		}
		if c.ID == "" && e.Fields["journal"] == "CoRR" {
			// DBLP: journal = {CoRR}, volume = {abs/2301.00001}
			if id, version, err := ParseIDWithVersion(strings.TrimPrefix(e.Fields["volume"], "abs/")); err == nil {
				c.ID, c.Version = id, version
			}
		}
		if c.ID == "" && c.DOI == "" {
			continue
		}
		out = append(out, c)
	}
	return out, issues
}

func isPreprintVenue(journal string) bool {
	j := strings.ToLower(journal)
	return strings.Contains(j, "arxiv") || j == "corr"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Checker compares citations against the record store. It never writes
// except through Bookmark.
type Checker struct {
	cache  *Cache
	logger *zap.Logger
}

// NewChecker returns a Checker reading cache.
func NewChecker(cache *Cache, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{cache: cache, logger: logger}
}

// Check classifies every citation that names an arXiv id.
func (c *Checker) Check(ctx context.Context, entries []CitationEntry) ([]CitationReport, error) {
	var reports []CitationReport
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		r := CitationReport{Entry: e}
		a, err := c.cache.GetArticle(ctx, e.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			r.Status = CitationUnknown
			reports = append(reports, r)
			continue
		case err != nil:
			return nil, err
		}

		r.LatestVersion = a.MaxVersion()
		r.JournalRef = a.JournalRef
		r.DOI = a.DOI
		r.JournalRefAvailable = a.JournalRef != "" && e.Journal == ""
		switch {
		case e.Version > r.LatestVersion:
			r.Status = CitationStoreBehind
		case e.Version > 0 && e.Version < r.LatestVersion:
			r.Status = CitationStaleVersion
		case r.JournalRefAvailable:
			r.Status = CitationStaleJournalRef
		default:
			r.Status = CitationUpToDate
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// BookmarkResult lists what Bookmark did with each citation.
type BookmarkResult struct {
	Bookmarked []string
	Already    []string
	Unknown    []string

	// Ambiguous maps a DOI to the articles sharing it. None of them is
	// bookmarked.
	Ambiguous map[string][]string
}

// Bookmark bookmarks every stored article cited by entries. Citations
// without an arXiv id are matched by DOI when exactly one article has it.
func (c *Checker) Bookmark(ctx context.Context, entries []CitationEntry) (*BookmarkResult, error) {
	res := &BookmarkResult{Ambiguous: make(map[string][]string)}
	seen := make(map[string]bool)

	var targets []string
	for _, e := range entries {
		id := e.ID
		if id == "" {
			ids, err := c.cache.ArticlesByDOI(ctx, e.DOI)
			if err != nil {
				return nil, err
			}
			switch len(ids) {
			case 0:
				continue
			case 1:
				id = ids[0]
			default:
				res.Ambiguous[e.DOI] = ids
				continue
			}
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		a, err := c.cache.GetArticle(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			res.Unknown = append(res.Unknown, id)
		case err != nil:
			return nil, err
		case a.Bookmarked:
			res.Already = append(res.Already, id)
		default:
			targets = append(targets, id)
		}
	}

	if len(targets) > 0 {
		err := c.cache.Update(ctx, func(tx *Tx) error {
			for _, id := range targets {
				if err := tx.SetBookmarked(id, true); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		res.Bookmarked = targets
		c.logger.Info("bookmarked cited articles", zap.Int("count", len(targets)))
	}
	return res, nil
}

// ArticlesByDOI returns the ids of articles with the given DOI.
func (c *Cache) ArticlesByDOI(ctx context.Context, doi string) ([]string, error) {
	doi = strings.TrimSpace(doi)
	if doi == "" {
		return nil, nil
	}
	var ids []string
	err := c.db.WithContext(ctx).Model(&Article{}).
		Where("LOWER(doi) = LOWER(?)", doi).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, storageErr("articles by doi", err)
	}
	return ids, nil
}
