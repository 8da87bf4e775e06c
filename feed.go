package arxiv

import (
	"context"
	"strings"
	"time"
)

// Feed is a paginated source of metadata increments for one category.
//
// Fetch returns the page following watermark. Next is the watermark to
// store once the page has been merged. Errors are *NetworkError,
// *RateLimitedError or *ProtocolError.
type Feed interface {
	Fetch(ctx context.Context, category, watermark string) (*Page, error)
}

// Page is one batch of feed entries.
type Page struct {
	Entries []Entry
	Next    string
	HasMore bool
}

// Entry is one article as reported by the feed.
type Entry struct {
	ID         string
	Submitter  string
	Versions   []EntryVersion
	Title      string
	Authors    string
	Abstract   string
	Categories []string
	Comments   string
	JournalRef string
	DOI        string
	License    string
	ACMClass   string
	MSCClass   string
	ReportNo   string
	Datestamp  string
}

// EntryVersion is one version listed in a feed entry.
type EntryVersion struct {
	Number     int
	Submitted  time.Time
	Size       string
	SourceType string
}

// MaxVersion returns the highest version number reported by the entry.
// An entry without version history counts as version 1.
func (e *Entry) MaxVersion() int {
	max := 0
	for _, v := range e.Versions {
		if v.Number > max {
			max = v.Number
		}
	}
	if max == 0 {
		return 1
	}
	return max
}

// head converts the entry's metadata into the head columns of an Article.
func (e *Entry) head() Article {
	return Article{
		ID:         e.ID,
		Submitter:  e.Submitter,
		Title:      normalizeSpace(e.Title),
		Abstract:   strings.TrimSpace(e.Abstract),
		Authors:    normalizeSpace(e.Authors),
		Categories: strings.Join(e.Categories, " "),
		Comments:   normalizeSpace(e.Comments),
		DOI:        strings.TrimSpace(e.DOI),
		License:    strings.TrimSpace(e.License),
		ACMClass:   strings.TrimSpace(e.ACMClass),
		MSCClass:   strings.TrimSpace(e.MSCClass),
		ReportNo:   strings.TrimSpace(e.ReportNo),
		Datestamp:  e.Datestamp,
	}
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
