package arxiv

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultAPIBaseURL is arXiv's Atom query API.
const DefaultAPIBaseURL = "https://export.arxiv.org/api/query"

// apiBatchSize is the number of ids sent per query. The API accepts about
// a hundred.
const apiBatchSize = 50

// ArticleLookup resolves explicit identifiers to feed entries.
type ArticleLookup interface {
	Lookup(ctx context.Context, ids []string) ([]Entry, error)
}

// APIClient queries the arXiv Atom API for individual articles.
type APIClient struct {
	client  *http.Client
	baseURL string
	limiter *RateLimiter
	logger  *zap.Logger
}

// APIOption configures an APIClient.
type APIOption func(*APIClient)

// WithAPIBaseURL overrides the query endpoint.
func WithAPIBaseURL(u string) APIOption {
	return func(c *APIClient) { c.baseURL = strings.TrimRight(u, "?") }
}

// WithAPIHTTPClient sets the HTTP client.
func WithAPIHTTPClient(hc *http.Client) APIOption {
	return func(c *APIClient) { c.client = hc }
}

// WithAPIRateLimiter shares limiter with other clients.
func WithAPIRateLimiter(limiter *RateLimiter) APIOption {
	return func(c *APIClient) { c.limiter = limiter }
}

// WithAPILogger sets the client logger.
func WithAPILogger(logger *zap.Logger) APIOption {
	return func(c *APIClient) { c.logger = logger }
}

// NewAPIClient creates an Atom API client.
func NewAPIClient(opts ...APIOption) *APIClient {
	c := &APIClient{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: DefaultAPIBaseURL,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = NewRateLimiter(DefaultMinInterval)
	}
	return c
}

// Lookup returns the current metadata of ids. Ids unknown to arXiv are
// absent from the result.
func (c *APIClient) Lookup(ctx context.Context, ids []string) ([]Entry, error) {
	var out []Entry
	for i := 0; i < len(ids); i += apiBatchSize {
		chunk := ids[i:min(i+apiBatchSize, len(ids))]
		params := url.Values{}
		params.Set("id_list", strings.Join(chunk, ","))
		params.Set("max_results", strconv.Itoa(len(chunk)))

		body, err := getBody(ctx, c.client, c.limiter, c.baseURL+"?"+params.Encode())
		if err != nil {
			return nil, err
		}
		var feed atomFeed
		if err := xml.Unmarshal(body, &feed); err != nil {
			return nil, &ProtocolError{Msg: "parse atom", Err: err}
		}
		for _, ae := range feed.Entries {
			if strings.Contains(ae.ID, "/api/errors") {
				return nil, &ProtocolError{Msg: "api error: " + strings.TrimSpace(ae.Summary)}
			}
			e, err := ae.entry()
			if err != nil {
				c.logger.Warn("skipping atom entry", zap.String("id", ae.ID), zap.Error(err))
				continue
			}
			out = append(out, e)
		}
		c.logger.Debug("api lookup", zap.Int("requested", len(chunk)), zap.Int("entries", len(feed.Entries)))
	}
	return out, nil
}

// FetchResult reports what FetchArticles changed.
type FetchResult struct {
	Changes []Change
	Missing []string
}

// FetchArticles looks up ids and merges them with the same rules as a
// sync. Cursors are left alone.
func (c *Cache) FetchArticles(ctx context.Context, api ArticleLookup, ids []string) (*FetchResult, error) {
	want := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, raw := range ids {
		id, err := ParseID(raw)
		if err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			want = append(want, id)
		}
	}
	if len(want) == 0 {
		return &FetchResult{}, nil
	}

	entries, err := api.Lookup(ctx, want)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	entries = dedupeEntries(entries)

	res := &FetchResult{}
	now := time.Now().UTC()
	err = c.Update(ctx, func(tx *Tx) error {
		for _, e := range entries {
			if !seen[e.ID] {
				continue
			}
			stored, err := tx.Article(e.ID)
			switch {
			case err == nil:
				e = withStoredExtras(e, stored)
			case !errors.Is(err, ErrNotFound):
				return err
			}
			changes, err := mergeEntry(tx, e, "", now, c.logger)
			if err != nil {
				return err
			}
			res.Changes = append(res.Changes, changes...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	found := make(map[string]bool, len(entries))
	for _, e := range entries {
		found[e.ID] = true
	}
	for _, id := range want {
		if !found[id] {
			res.Missing = append(res.Missing, id)
		}
	}
	return res, nil
}

// withStoredExtras keeps the fields the Atom API does not report, so a
// lookup does not blank them.
func withStoredExtras(e Entry, stored *Article) Entry {
	e.Submitter = stored.Submitter
	e.License = stored.License
	e.ACMClass = stored.ACMClass
	e.MSCClass = stored.MSCClass
	e.ReportNo = stored.ReportNo
	e.Datestamp = stored.Datestamp
	return e
}

// Atom feed structures for the arXiv API

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Summary    string         `xml:"summary"`
	Authors    []atomAuthor   `xml:"author"`
	Categories []atomCategory `xml:"category"`
	Primary    atomCategory   `xml:"primary_category"`
	Published  string         `xml:"published"`
	Updated    string         `xml:"updated"`
	Comment    string         `xml:"comment"`
	JournalRef string         `xml:"journal_ref"`
	DOI        string         `xml:"doi"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

// entry converts an Atom entry. The API only reports the dates of the
// first and the latest version; versions in between carry no date.
func (ae *atomEntry) entry() (Entry, error) {
	idx := strings.LastIndex(ae.ID, "/abs/")
	if idx < 0 {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidID, ae.ID)
	}
	id, version, err := ParseIDWithVersion(ae.ID[idx+len("/abs/"):])
	if err != nil {
		return Entry{}, err
	}
	if version < 1 {
		version = 1
	}

	e := Entry{
		ID:         id,
		Title:      ae.Title,
		Abstract:   ae.Summary,
		Comments:   ae.Comment,
		JournalRef: ae.JournalRef,
		DOI:        ae.DOI,
	}
	names := make([]string, 0, len(ae.Authors))
	for _, a := range ae.Authors {
		names = append(names, strings.TrimSpace(a.Name))
	}
	e.Authors = strings.Join(names, ", ")

	// Primary category first, as in arXivRaw.
	if ae.Primary.Term != "" {
		e.Categories = append(e.Categories, ae.Primary.Term)
	}
	for _, c := range ae.Categories {
		if c.Term != ae.Primary.Term {
			e.Categories = append(e.Categories, c.Term)
		}
	}

	published, _ := time.Parse(time.RFC3339, strings.TrimSpace(ae.Published))
	updated, _ := time.Parse(time.RFC3339, strings.TrimSpace(ae.Updated))
	for n := 1; n <= version; n++ {
		v := EntryVersion{Number: n}
		switch n {
		case version:
			v.Submitted = updated.UTC()
		case 1:
			v.Submitted = published.UTC()
		}
		e.Versions = append(e.Versions, v)
	}
	if version == 1 && !published.IsZero() {
		e.Versions[0].Submitted = published.UTC()
	}
	return e, nil
}
