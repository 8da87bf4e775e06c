package arxiv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DumpFormat selects the encoding used by Dump and Load.
type DumpFormat string

const (
	DumpJSON DumpFormat = "json"
	DumpYAML DumpFormat = "yaml"
)

// ParseDumpFormat accepts "json", "yaml" and "yml".
func ParseDumpFormat(s string) (DumpFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return DumpJSON, nil
	case "yaml", "yml":
		return DumpYAML, nil
	}
	return "", fmt.Errorf("unknown dump format %q", s)
}

const dumpFormatVersion = 1

type dumpFile struct {
	Format   int       `json:"format" yaml:"format"`
	Exported time.Time `json:"exported" yaml:"exported"`
	Articles []Article `json:"articles" yaml:"articles"`
}

// Dump writes every stored article with its versions and user state.
// Sync cursors are not included.
func (c *Cache) Dump(ctx context.Context, w io.Writer, format DumpFormat) (int, error) {
	doc := dumpFile{Format: dumpFormatVersion, Exported: time.Now().UTC()}
	err := c.Each(ctx, func(a *Article) error {
		doc.Articles = append(doc.Articles, *a)
		return nil
	})
	if err != nil {
		return 0, err
	}

	switch format {
	case DumpYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&doc); err != nil {
			return 0, fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return 0, fmt.Errorf("encode yaml: %w", err)
		}
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(&doc); err != nil {
			return 0, fmt.Errorf("encode json: %w", err)
		}
	}
	return len(doc.Articles), nil
}

// LoadResult counts what Load did.
type LoadResult struct {
	Created  int
	Extended int
	Skipped  int
}

const loadBatchSize = 500

// Load merges a dump into the store without ever removing information:
// unknown articles are created, stored articles gain the versions they
// lack, a bookmark in either side is kept, tags are combined, and notes
// and acknowledgements are only filled in where the store has none.
// Cursors are untouched.
func (c *Cache) Load(ctx context.Context, r io.Reader, format DumpFormat) (*LoadResult, error) {
	var doc dumpFile
	switch format {
	case DumpYAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	}
	if doc.Format != dumpFormatVersion {
		return nil, fmt.Errorf("unsupported dump format %d", doc.Format)
	}

	res := &LoadResult{}
	for start := 0; start < len(doc.Articles); start += loadBatchSize {
		batch := doc.Articles[start:min(start+loadBatchSize, len(doc.Articles))]
		err := c.Update(ctx, func(tx *Tx) error {
			for i := range batch {
				if err := loadOne(tx, &batch[i], res, c.logger); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func loadOne(tx *Tx, in *Article, res *LoadResult, logger *zap.Logger) error {
	id, err := ParseID(in.ID)
	if err != nil || id != in.ID {
		logger.Warn("skipping dump record with invalid id", zap.String("article_id", in.ID))
		res.Skipped++
		return nil
	}
	if len(in.Versions) == 0 || checkIncreasing(in.Versions, 0) != nil {
		logger.Warn("skipping dump record with invalid history", zap.String("article_id", in.ID))
		res.Skipped++
		return nil
	}

	stored, err := tx.Article(in.ID)
	if errors.Is(err, ErrNotFound) {
		a := *in
		a.Versions = append([]Version(nil), in.Versions...)
		if a.LastSeenVersion > a.MaxVersion() {
			a.LastSeenVersion = a.MaxVersion()
		}
		a.Tags = mergeTags("", in.Tags)
		if err := tx.CreateArticle(&a); err != nil {
			return err
		}
		res.Created++
		return nil
	}
	if err != nil {
		return err
	}

	changed := false
	storedMax := stored.MaxVersion()
	var newer []Version
	for _, v := range in.Versions {
		if v.Number > storedMax {
			newer = append(newer, v)
		}
	}
	if len(newer) > 0 {
		if err := tx.AppendVersions(in.ID, newer); err != nil {
			return err
		}
		if err := tx.SaveHead(in); err != nil {
			return err
		}
		changed = true
	}
	if in.JournalRef != "" && stored.JournalRef == "" {
		if err := tx.SetJournalRef(in.ID, in.JournalRef); err != nil {
			return err
		}
		changed = true
	}

	updates := map[string]any{}
	if in.Bookmarked && !stored.Bookmarked {
		updates["bookmarked"] = true
	}
	if in.Note != "" && stored.Note == "" {
		updates["note"] = in.Note
	}
	if in.LastSeenVersion > stored.LastSeenVersion {
		max := storedMax
		if len(newer) > 0 {
			max = newer[len(newer)-1].Number
		}
		updates["last_seen_version"] = min(in.LastSeenVersion, max)
	}
	if in.SeenJournalRef != "" && stored.SeenJournalRef == "" {
		updates["seen_journal_ref"] = in.SeenJournalRef
	}
	if in.SeenDOI != "" && stored.SeenDOI == "" {
		updates["seen_doi"] = in.SeenDOI
	}
	if tags := mergeTags(stored.Tags, in.Tags); tags != stored.Tags {
		updates["tags"] = tags
	}
	if len(updates) > 0 {
		if err := tx.db.Model(&Article{}).Where("id = ?", in.ID).Updates(updates).Error; err != nil {
			return storageErr("load user state", err)
		}
		tx.touch(in.ID)
		changed = true
	}
	if changed {
		res.Extended++
	}
	return nil
}

// mergeTags adds the valid tags of extra to stored.
func mergeTags(stored, extra string) string {
	tags := strings.Fields(stored)
	for _, t := range strings.Fields(extra) {
		if ValidTag(t) {
			tags, _ = toggleTag(tags, t, true)
		}
	}
	return strings.Join(tags, " ")
}
