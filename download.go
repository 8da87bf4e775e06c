package arxiv

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Downloader fetches the bytes of one artifact.
type Downloader interface {
	Download(ctx context.Context, req ArtifactRequest) error
}

// DownloaderFunc adapts a function to Downloader.
type DownloaderFunc func(ctx context.Context, req ArtifactRequest) error

func (f DownloaderFunc) Download(ctx context.Context, req ArtifactRequest) error {
	return f(ctx, req)
}

// RequestArtifacts queues downloads of the given kinds for one version of
// a stored article. A version of 0 means the latest stored version.
// Requests already queued are kept as they are.
func (c *Cache) RequestArtifacts(ctx context.Context, id string, version int, kinds ...ArtifactKind) ([]ArtifactRequest, error) {
	a, err := c.GetArticle(ctx, id)
	if err != nil {
		return nil, err
	}
	if version <= 0 {
		version = a.MaxVersion()
	}
	if version > a.MaxVersion() {
		return nil, fmt.Errorf("%s has no version %d: %w", id, version, ErrNotFound)
	}

	now := time.Now().UTC()
	reqs := make([]ArtifactRequest, 0, len(kinds))
	for _, kind := range kinds {
		switch kind {
		case ArtifactPDF, ArtifactSource:
		default:
			return nil, fmt.Errorf("unknown artifact kind %q", kind)
		}
		reqs = append(reqs, ArtifactRequest{ArticleID: a.ID, Version: version, Kind: kind, RequestedAt: now})
	}
	if len(reqs) == 0 {
		return nil, nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	err = c.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&reqs).Error
	if err != nil {
		return nil, storageErr("request artifacts", err)
	}
	c.mutated.Store(true)
	return reqs, nil
}

// PendingArtifacts lists queued requests, oldest first.
func (c *Cache) PendingArtifacts(ctx context.Context) ([]ArtifactRequest, error) {
	var reqs []ArtifactRequest
	err := c.db.WithContext(ctx).
		Order("requested_at ASC").Order("article_id ASC").Order("version ASC").Order("kind ASC").
		Find(&reqs).Error
	if err != nil {
		return nil, storageErr("pending artifacts", err)
	}
	return reqs, nil
}

// ArtifactReport summarizes one ProcessArtifacts run.
type ArtifactReport struct {
	Done   []ArtifactRequest
	Failed []ArtifactRequest
}

// ProcessArtifacts drains the queue through d. Successful requests are
// removed; failed ones stay queued with their attempt count and last
// error. Requests that failed maxAttempts times are skipped; zero means no
// limit.
func (c *Cache) ProcessArtifacts(ctx context.Context, d Downloader, maxAttempts int) (*ArtifactReport, error) {
	pending, err := c.PendingArtifacts(ctx)
	if err != nil {
		return nil, err
	}

	report := &ArtifactReport{}
	for _, req := range pending {
		if maxAttempts > 0 && req.Attempts >= maxAttempts {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		dlErr := d.Download(ctx, req)
		if err := c.recordAttempt(context.WithoutCancel(ctx), req, dlErr); err != nil {
			return report, err
		}
		if dlErr != nil {
			c.logger.Warn("artifact download failed",
				zap.String("article_id", req.ArticleID),
				zap.Int("version", req.Version),
				zap.String("kind", string(req.Kind)),
				zap.Error(dlErr))
			req.Attempts++
			req.LastError = dlErr.Error()
			report.Failed = append(report.Failed, req)
			continue
		}
		report.Done = append(report.Done, req)
	}
	return report, nil
}

func (c *Cache) recordAttempt(ctx context.Context, req ArtifactRequest, dlErr error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	db := c.db.WithContext(ctx).Model(&ArtifactRequest{}).
		Where("article_id = ? AND version = ? AND kind = ?", req.ArticleID, req.Version, req.Kind)
	var err error
	if dlErr == nil {
		err = db.Delete(&ArtifactRequest{}).Error
	} else {
		err = db.Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": dlErr.Error(),
		}).Error
	}
	if err != nil {
		return storageErr("record artifact attempt", err)
	}
	c.mutated.Store(true)
	return nil
}

// HTTPDownloader stores artifacts fetched from arxiv.org under Root:
// pdf/<prefix>/<id>v<n>.pdf and src/<prefix>/<id>v<n>.tar.gz, where prefix
// is the yymm part of new-style ids and the archive of old-style ones.
type HTTPDownloader struct {
	Root    string
	Client  *http.Client
	Limiter *RateLimiter
}

// Path returns where req is stored.
func (d *HTTPDownloader) Path(req ArtifactRequest) string {
	name := strings.ReplaceAll(versionedID(req.ArticleID, req.Version), "/", "_")
	if req.Kind == ArtifactPDF {
		return filepath.Join(d.Root, "pdf", articlePrefix(req.ArticleID), name+".pdf")
	}
	return filepath.Join(d.Root, "src", articlePrefix(req.ArticleID), name+".tar.gz")
}

func (d *HTTPDownloader) Download(ctx context.Context, req ArtifactRequest) error {
	path := d.Path(req)
	if _, err := os.Stat(path); err == nil {
		return nil // Already exists
	}

	a := &Article{ID: req.ArticleID}
	u := a.SourceURL(req.Version)
	if req.Kind == ArtifactPDF {
		u = a.PDFURL(req.Version)
	}

	if d.Limiter != nil {
		if err := d.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	hc := d.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(hreq)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: http %s", u, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return &NetworkError{Err: err}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func articlePrefix(id string) string {
	// Handle both new format (2301.00001) and old format (hep-th/9901001)
	if archive, _, ok := strings.Cut(id, "/"); ok {
		return archive
	}
	if len(id) >= 4 {
		return id[:4]
	}
	return id
}
