package arxiv

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultOAIBaseURL is arXiv's OAI-PMH endpoint.
const DefaultOAIBaseURL = "https://oaipmh.arxiv.org/oai"

// OAIClient is an OAI-PMH client for arXiv. It implements Feed using the
// arXivRaw metadata format, which lists every version of an article.
type OAIClient struct {
	client  *http.Client
	baseURL string
	limiter *RateLimiter
	logger  *zap.Logger

	mu   sync.Mutex
	sets map[string]string // category -> setSpec
}

// OAIOption configures an OAIClient.
type OAIOption func(*OAIClient)

// WithBaseURL overrides the OAI-PMH endpoint.
func WithBaseURL(u string) OAIOption {
	return func(c *OAIClient) { c.baseURL = strings.TrimRight(u, "?") }
}

// WithHTTPClient sets the HTTP client. Its timeout bounds a single request.
func WithHTTPClient(hc *http.Client) OAIOption {
	return func(c *OAIClient) { c.client = hc }
}

// WithRateLimiter shares limiter with other clients.
func WithRateLimiter(limiter *RateLimiter) OAIOption {
	return func(c *OAIClient) { c.limiter = limiter }
}

// WithOAILogger sets the client logger.
func WithOAILogger(logger *zap.Logger) OAIOption {
	return func(c *OAIClient) { c.logger = logger }
}

// NewOAIClient creates a new OAI-PMH client.
func NewOAIClient(opts ...OAIOption) *OAIClient {
	c := &OAIClient{
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: DefaultOAIBaseURL,
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

// oaiWatermark is the cursor format stored for each category. A harvest
// starts from From (the response date of the last complete harvest) and
// continues through resumption tokens.
type oaiWatermark struct {
	From         string `json:"from,omitempty"`
	Token        string `json:"token,omitempty"`
	ResponseDate string `json:"response_date,omitempty"`
	Request      int    `json:"request,omitempty"`
}

func decodeWatermark(s string) (oaiWatermark, error) {
	var w oaiWatermark
	if s == "" {
		return w, nil
	}
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return w, &ProtocolError{Msg: "invalid watermark", Err: err}
	}
	return w, nil
}

func (w oaiWatermark) encode() string {
	b, _ := json.Marshal(w)
	return string(b)
}

// ResetWatermark drops the resumption token from watermark so the next
// harvest restarts from the last completed date.
func (c *OAIClient) ResetWatermark(watermark string) string {
	w, err := decodeWatermark(watermark)
	if err != nil {
		return ""
	}
	return oaiWatermark{From: w.From}.encode()
}

// Fetch implements Feed.
func (c *OAIClient) Fetch(ctx context.Context, category, watermark string) (*Page, error) {
	w, err := decodeWatermark(watermark)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("verb", "ListRecords")
	if w.Token != "" {
		params.Set("resumptionToken", w.Token)
	} else {
		set, err := c.SetForCategory(ctx, category)
		if err != nil {
			return nil, err
		}
		params.Set("metadataPrefix", "arXivRaw")
		if set != "" {
			params.Set("set", set)
		}
		if w.From != "" {
			from, err := time.Parse("2006-01-02", w.From)
			if err != nil {
				return nil, &ProtocolError{Msg: "invalid watermark date", Err: err}
			}
			// Overlap successive harvests by one datestamp increment.
			params.Set("from", from.AddDate(0, 0, -1).Format("2006-01-02"))
		}
		w.Request = 0
		w.ResponseDate = ""
	}
	w.Request++

	c.logger.Debug("oai list records",
		zap.String("category", category),
		zap.Int("request", w.Request),
		zap.Bool("resumed", w.Token != ""))

	resp, err := c.do(ctx, params)
	if err != nil {
		return nil, err
	}
	if w.ResponseDate == "" {
		if len(resp.ResponseDate) < 10 {
			return nil, &ProtocolError{Msg: fmt.Sprintf("invalid response date %q", resp.ResponseDate)}
		}
		w.ResponseDate = resp.ResponseDate[:10]
	}

	done := &Page{Next: oaiWatermark{From: w.ResponseDate}.encode()}
	for _, e := range resp.Errors {
		switch e.Code {
		case "noRecordsMatch":
			return done, nil
		case "badResumptionToken":
			return nil, &ProtocolError{Msg: strings.TrimSpace(e.Value), Err: ErrBadResumptionToken}
		}
	}
	if len(resp.Errors) > 0 {
		e := resp.Errors[0]
		return nil, &ProtocolError{Msg: fmt.Sprintf("oai error %s: %s", e.Code, strings.TrimSpace(e.Value))}
	}
	if resp.ListRecords == nil {
		return nil, &ProtocolError{Msg: "missing ListRecords"}
	}

	page := &Page{}
	for _, rec := range resp.ListRecords.Records {
		if rec.Header.Status == "deleted" {
			continue
		}
		entry, err := rec.Metadata.ArXivRaw.entry(rec.Header)
		if err != nil {
			return nil, err
		}
		page.Entries = append(page.Entries, entry)
	}

	if token := strings.TrimSpace(resp.ListRecords.ResumptionToken.Value); token != "" {
		w.Token = token
		page.Next = w.encode()
		page.HasMore = true
	} else {
		page.Next = done.Next
	}
	return page, nil
}

// SetForCategory returns the OAI set that holds category. The set list is
// requested once and cached.
func (c *OAIClient) SetForCategory(ctx context.Context, category string) (string, error) {
	if category == "" {
		return "", nil
	}
	if strings.Contains(category, ":") {
		return category, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets == nil {
		sets, err := c.listSets(ctx)
		if err != nil {
			return "", err
		}
		c.sets = sets
	}
	set, ok := c.sets[category]
	if !ok {
		return "", &ProtocolError{Msg: fmt.Sprintf("category %q not found", category)}
	}
	return set, nil
}

func (c *OAIClient) listSets(ctx context.Context) (map[string]string, error) {
	params := url.Values{}
	params.Set("verb", "ListSets")
	resp, err := c.do(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		e := resp.Errors[0]
		return nil, &ProtocolError{Msg: fmt.Sprintf("oai error %s: %s", e.Code, strings.TrimSpace(e.Value))}
	}
	if resp.ListSets == nil {
		return nil, &ProtocolError{Msg: "missing ListSets"}
	}
	sets := make(map[string]string, len(resp.ListSets.Sets))
	for _, s := range resp.ListSets.Sets {
		sets[categoryForSet(s.Spec)] = s.Spec
	}
	c.logger.Debug("oai sets loaded", zap.Int("count", len(sets)))
	return sets, nil
}

// categoryForSet maps a set spec such as "cs:cs:AI" to "cs.AI".
func categoryForSet(spec string) string {
	_, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return spec
	}
	return strings.ReplaceAll(rest, ":", ".")
}

func (c *OAIClient) do(ctx context.Context, params url.Values) (*oaiPMHResponse, error) {
	body, err := getBody(ctx, c.client, c.limiter, c.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	var oaiResp oaiPMHResponse
	if err := xml.Unmarshal(body, &oaiResp); err != nil {
		return nil, &ProtocolError{Msg: "parse xml", Err: err}
	}
	return &oaiResp, nil
}

// getBody performs a rate-limited GET and classifies failures: 503 and 429
// with Retry-After are *RateLimitedError, other server errors and
// transport failures *NetworkError, anything else but 200 *ProtocolError.
func getBody(ctx context.Context, hc *http.Client, limiter *RateLimiter, reqURL string) ([]byte, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests:
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			limiter.Defer(d)
			return nil, &RateLimitedError{RetryAfter: d}
		}
		return nil, &NetworkError{Err: fmt.Errorf("unexpected status: %s", resp.Status)}
	case resp.StatusCode >= 500:
		return nil, &NetworkError{Err: fmt.Errorf("unexpected status: %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return nil, &ProtocolError{Msg: "unexpected status: " + resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

var rfc2822Layouts = []string{
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	time.RFC1123,
	time.RFC1123Z,
}

func parseRFC2822(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range rfc2822Layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func (r *oaiArXivRaw) entry(h oaiHeader) (Entry, error) {
	id := strings.TrimSpace(r.ID)
	if !ValidID(id) {
		return Entry{}, &ProtocolError{Msg: fmt.Sprintf("invalid article id %q", r.ID)}
	}
	e := Entry{
		ID:         id,
		Submitter:  strings.TrimSpace(r.Submitter),
		Title:      r.Title,
		Authors:    r.Authors,
		Abstract:   r.Abstract,
		Categories: strings.Fields(r.Categories),
		Comments:   r.Comments,
		JournalRef: normalizeSpace(r.JournalRef),
		DOI:        r.DOI,
		License:    r.License,
		ACMClass:   r.ACMClass,
		MSCClass:   r.MSCClass,
		ReportNo:   r.ReportNo,
		Datestamp:  h.Datestamp,
	}
	for _, v := range r.Versions {
		n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(v.Version), "v"))
		if err != nil || n < 1 {
			return Entry{}, &ProtocolError{Msg: fmt.Sprintf("invalid version number %q of %s", v.Version, id)}
		}
		date, err := parseRFC2822(v.Date)
		if err != nil {
			return Entry{}, &ProtocolError{Msg: "version date of " + id, Err: err}
		}
		e.Versions = append(e.Versions, EntryVersion{
			Number:     n,
			Submitted:  date,
			Size:       strings.TrimSpace(v.Size),
			SourceType: strings.TrimSpace(v.SourceType),
		})
	}
	return e, nil
}

// XML structures for OAI-PMH parsing
// See https://arxiv.org/OAI/arXivRaw.xsd

type oaiPMHResponse struct {
	XMLName      xml.Name        `xml:"OAI-PMH"`
	ResponseDate string          `xml:"responseDate"`
	Errors       []oaiError      `xml:"error"`
	ListRecords  *oaiListRecords `xml:"ListRecords"`
	ListSets     *oaiListSets    `xml:"ListSets"`
}

type oaiError struct {
	Code  string `xml:"code,attr"`
	Value string `xml:",chardata"`
}

type oaiListRecords struct {
	Records         []oaiRecord        `xml:"record"`
	ResumptionToken oaiResumptionToken `xml:"resumptionToken"`
}

type oaiResumptionToken struct {
	Value            string `xml:",chardata"`
	CompleteListSize int    `xml:"completeListSize,attr"`
	Cursor           int    `xml:"cursor,attr"`
}

type oaiListSets struct {
	Sets []oaiSet `xml:"set"`
}

type oaiSet struct {
	Spec string `xml:"setSpec"`
	Name string `xml:"setName"`
}

type oaiRecord struct {
	Header   oaiHeader   `xml:"header"`
	Metadata oaiMetadata `xml:"metadata"`
}

type oaiHeader struct {
	Status     string   `xml:"status,attr"`
	Identifier string   `xml:"identifier"`
	Datestamp  string   `xml:"datestamp"`
	SetSpec    []string `xml:"setSpec"`
}

type oaiMetadata struct {
	ArXivRaw oaiArXivRaw `xml:"arXivRaw"`
}

type oaiArXivRaw struct {
	ID         string       `xml:"id"`
	Submitter  string       `xml:"submitter"`
	Versions   []oaiVersion `xml:"version"`
	Title      string       `xml:"title"`
	Authors    string       `xml:"authors"`
	Categories string       `xml:"categories"`
	Comments   string       `xml:"comments"`
	Proxy      string       `xml:"proxy"`
	ReportNo   string       `xml:"report-no"`
	ACMClass   string       `xml:"acm-class"`
	MSCClass   string       `xml:"msc-class"`
	JournalRef string       `xml:"journal-ref"`
	DOI        string       `xml:"doi"`
	License    string       `xml:"license"`
	Abstract   string       `xml:"abstract"`
}

type oaiVersion struct {
	Version    string `xml:"version,attr"`
	Date       string `xml:"date"`
	Size       string `xml:"size"`
	SourceType string `xml:"source_type"`
}

var _ Feed = (*OAIClient)(nil)

// isBadResumptionToken reports whether err means the stored token expired.
func isBadResumptionToken(err error) bool {
	return errors.Is(err, ErrBadResumptionToken)
}
