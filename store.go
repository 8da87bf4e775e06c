package arxiv

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tx is a write transaction on the cache. It is only valid inside the
// function passed to Update.
type Tx struct {
	db      *gorm.DB
	touched map[string]struct{}
	changed bool
}

// Update runs fn inside one write transaction. Either every write made
// through tx is committed or none is.
func (c *Cache) Update(ctx context.Context, fn func(tx *Tx) error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	t := &Tx{touched: make(map[string]struct{})}
	var fnErr error
	err := c.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		t.db = db
		fnErr = fn(t)
		return fnErr
	})
	c.invalidate(t.touched)
	if err != nil {
		if fnErr == nil {
			return &StorageError{Op: "commit", Err: err}
		}
		return err
	}
	if t.changed {
		c.mutated.Store(true)
	}
	return nil
}

func (c *Cache) invalidate(ids map[string]struct{}) {
	if len(ids) == 0 {
		return
	}
	c.lruMu.Lock()
	defer c.lruMu.Unlock()
	c.lruGen++
	for id := range ids {
		c.articles.Delete(id)
	}
}

func (t *Tx) touch(id string) {
	t.touched[id] = struct{}{}
	t.changed = true
}

// Article loads an article with its versions. It returns ErrNotFound if
// the article is not stored.
func (t *Tx) Article(id string) (*Article, error) {
	return loadArticle(t.db, id)
}

// CreateArticle inserts a new article together with its versions.
func (t *Tx) CreateArticle(a *Article) error {
	if len(a.Versions) == 0 {
		return fmt.Errorf("create %s: no versions", a.ID)
	}
	if err := checkIncreasing(a.Versions, 0); err != nil {
		return fmt.Errorf("create %s: %w", a.ID, err)
	}
	for i := range a.Versions {
		a.Versions[i].ArticleID = a.ID
	}
	if err := t.db.Create(a).Error; err != nil {
		return storageErr("create article", err)
	}
	t.touch(a.ID)
	return nil
}

// AppendVersions adds versions newer than every stored version of id.
func (t *Tx) AppendVersions(id string, versions []Version) error {
	if len(versions) == 0 {
		return nil
	}
	var current int
	if err := t.db.Model(&Version{}).Where("article_id = ?", id).
		Select("COALESCE(MAX(number), 0)").Scan(&current).Error; err != nil {
		return storageErr("append versions", err)
	}
	if err := checkIncreasing(versions, current); err != nil {
		return fmt.Errorf("append %s: %w", id, err)
	}
	for i := range versions {
		versions[i].ArticleID = id
	}
	if err := t.db.Create(&versions).Error; err != nil {
		return storageErr("append versions", err)
	}
	t.touch(id)
	return nil
}

func checkIncreasing(versions []Version, after int) error {
	prev := after
	for _, v := range versions {
		if v.Number <= prev {
			return fmt.Errorf("version %d does not follow %d", v.Number, prev)
		}
		prev = v.Number
	}
	return nil
}

// SaveHead overwrites the head metadata of a stored article. Versions,
// journal reference and user state are left alone.
func (t *Tx) SaveHead(a *Article) error {
	res := t.db.Model(&Article{}).Where("id = ?", a.ID).Updates(map[string]any{
		"submitter":  a.Submitter,
		"title":      a.Title,
		"abstract":   a.Abstract,
		"authors":    a.Authors,
		"categories": a.Categories,
		"comments":   a.Comments,
		"doi":        a.DOI,
		"license":    a.License,
		"acm_class":  a.ACMClass,
		"msc_class":  a.MSCClass,
		"report_no":  a.ReportNo,
		"datestamp":  a.Datestamp,
	})
	if res.Error != nil {
		return storageErr("save head", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	t.touch(a.ID)
	return nil
}

// SetJournalRef replaces the journal reference of id.
func (t *Tx) SetJournalRef(id, ref string) error {
	res := t.db.Model(&Article{}).Where("id = ?", id).Update("journal_ref", ref)
	if res.Error != nil {
		return storageErr("set journal ref", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	t.touch(id)
	return nil
}

// SetBookmarked sets the bookmark flag inside a transaction.
func (t *Tx) SetBookmarked(id string, bookmarked bool) error {
	res := t.db.Model(&Article{}).Where("id = ?", id).Update("bookmarked", bookmarked)
	if res.Error != nil {
		return storageErr("set bookmarked", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	t.touch(id)
	return nil
}

// SetTag adds tag to id, or removes it when on is false.
func (t *Tx) SetTag(id, tag string, on bool) error {
	var current []string
	if err := t.db.Model(&Article{}).Where("id = ?", id).Pluck("tags", &current).Error; err != nil {
		return storageErr("set tag", err)
	}
	if len(current) == 0 {
		return ErrNotFound
	}
	tags, changed := toggleTag(strings.Fields(current[0]), tag, on)
	if !changed {
		return nil
	}
	if err := t.db.Model(&Article{}).Where("id = ?", id).Update("tags", strings.Join(tags, " ")).Error; err != nil {
		return storageErr("set tag", err)
	}
	t.touch(id)
	return nil
}

var tagPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)

// ValidTag reports whether tag can be used as a tag name.
func ValidTag(tag string) bool {
	return len(tag) <= 64 && tagPattern.MatchString(tag)
}

func toggleTag(tags []string, tag string, on bool) ([]string, bool) {
	i := sort.SearchStrings(tags, tag)
	present := i < len(tags) && tags[i] == tag
	switch {
	case on && !present:
		tags = append(tags, "")
		copy(tags[i+1:], tags[i:])
		tags[i] = tag
		return tags, true
	case !on && present:
		return append(tags[:i], tags[i+1:]...), true
	}
	return tags, false
}

// Cursor returns the watermark stored for category, or "".
func (t *Tx) Cursor(category string) (string, error) {
	return loadCursor(t.db, category)
}

// SetCursor stores the watermark of category. Writing the current value is
// a no-op.
func (t *Tx) SetCursor(category, watermark string) error {
	current, err := loadCursor(t.db, category)
	if err != nil {
		return err
	}
	if current == watermark {
		var n int64
		if err := t.db.Model(&SyncCursor{}).Where("category = ?", category).Count(&n).Error; err != nil {
			return storageErr("set cursor", err)
		}
		if n > 0 {
			return nil
		}
	}
	err = t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "category"}},
		DoUpdates: clause.AssignmentColumns([]string{"watermark"}),
	}).Create(&SyncCursor{Category: category, Watermark: watermark}).Error
	if err != nil {
		return storageErr("set cursor", err)
	}
	t.changed = true
	return nil
}

func loadArticle(db *gorm.DB, id string) (*Article, error) {
	var a Article
	err := db.Preload("Versions", func(db *gorm.DB) *gorm.DB {
		return db.Order("number ASC")
	}).Where("id = ?", id).Take(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("load article", err)
	}
	return &a, nil
}

func loadCursor(db *gorm.DB, category string) (string, error) {
	var cur SyncCursor
	err := db.Where("category = ?", category).Take(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", storageErr("load cursor", err)
	}
	return cur.Watermark, nil
}

// GetArticle returns a snapshot of the article with the given id.
// The snapshot is not shared with other callers.
func (c *Cache) GetArticle(ctx context.Context, id string) (*Article, error) {
	if a, ok := c.articles.Get(id); ok {
		return a.Clone(), nil
	}

	c.lruMu.Lock()
	gen := c.lruGen
	c.lruMu.Unlock()

	a, err := loadArticle(c.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}

	c.lruMu.Lock()
	if c.lruGen == gen {
		c.articles.Put(id, a.Clone())
	}
	c.lruMu.Unlock()
	return a, nil
}

// HasArticle reports whether id is stored.
func (c *Cache) HasArticle(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := c.db.WithContext(ctx).Model(&Article{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, storageErr("has article", err)
	}
	return count > 0, nil
}

const scanBatchSize = 500

// Each calls fn for every stored article in id order. Articles are read in
// batches; fn may write to the cache. Returning an error from fn stops the
// scan and returns that error.
func (c *Cache) Each(ctx context.Context, fn func(*Article) error) error {
	last := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var batch []Article
		err := c.db.WithContext(ctx).
			Preload("Versions", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
			Where("id > ?", last).
			Order("id ASC").
			Limit(scanBatchSize).
			Find(&batch).Error
		if err != nil {
			return storageErr("scan", err)
		}
		for i := range batch {
			if err := fn(&batch[i]); err != nil {
				return err
			}
		}
		if len(batch) < scanBatchSize {
			return nil
		}
		last = batch[len(batch)-1].ID
	}
}

// SetBookmarked sets or clears the bookmark of id.
func (c *Cache) SetBookmarked(ctx context.Context, id string, bookmarked bool) error {
	return c.Update(ctx, func(tx *Tx) error {
		return tx.SetBookmarked(id, bookmarked)
	})
}

// SetNote replaces the note of id.
func (c *Cache) SetNote(ctx context.Context, id, note string) error {
	return c.Update(ctx, func(tx *Tx) error {
		res := tx.db.Model(&Article{}).Where("id = ?", id).Update("note", note)
		if res.Error != nil {
			return storageErr("set note", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		tx.touch(id)
		return nil
	})
}

// SetTag adds tag to id, or removes it when on is false.
func (c *Cache) SetTag(ctx context.Context, id, tag string, on bool) error {
	if !ValidTag(tag) {
		return fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}
	return c.Update(ctx, func(tx *Tx) error {
		return tx.SetTag(id, tag, on)
	})
}

// Ack acknowledges a delivered notification. Version is the version the
// user has seen; JournalRef and DOI, when non-nil, are the values seen.
type Ack struct {
	ID         string
	Version    int
	JournalRef *string
	DOI        *string
}

// Acknowledge records delivered notifications. last_seen_version only
// moves forward and never past the stored maximum version.
func (c *Cache) Acknowledge(ctx context.Context, acks []Ack) error {
	if len(acks) == 0 {
		return nil
	}
	return c.Update(ctx, func(tx *Tx) error {
		for _, ack := range acks {
			var max int
			if err := tx.db.Model(&Version{}).Where("article_id = ?", ack.ID).
				Select("COALESCE(MAX(number), 0)").Scan(&max).Error; err != nil {
				return storageErr("acknowledge", err)
			}
			v := ack.Version
			if v > max {
				v = max
			}
			updates := map[string]any{
				"last_seen_version": gorm.Expr("MAX(last_seen_version, ?)", v),
			}
			if ack.JournalRef != nil {
				updates["seen_journal_ref"] = *ack.JournalRef
			}
			if ack.DOI != nil {
				updates["seen_doi"] = *ack.DOI
			}
			res := tx.db.Model(&Article{}).Where("id = ?", ack.ID).Updates(updates)
			if res.Error != nil {
				return storageErr("acknowledge", res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}
			tx.touch(ack.ID)
		}
		return nil
	})
}

// Cursors returns every stored sync cursor ordered by category.
func (c *Cache) Cursors(ctx context.Context) ([]SyncCursor, error) {
	var cursors []SyncCursor
	if err := c.db.WithContext(ctx).Order("category ASC").Find(&cursors).Error; err != nil {
		return nil, storageErr("cursors", err)
	}
	return cursors, nil
}

// Cursor returns the watermark of category, or "" if it was never synced.
func (c *Cache) Cursor(ctx context.Context, category string) (string, error) {
	return loadCursor(c.db.WithContext(ctx), category)
}

// ResetCursor forgets the sync position of category; the next sync starts
// from the beginning of the feed.
func (c *Cache) ResetCursor(ctx context.Context, category string) error {
	return c.Update(ctx, func(tx *Tx) error {
		res := tx.db.Where("category = ?", category).Delete(&SyncCursor{})
		if res.Error != nil {
			return storageErr("reset cursor", res.Error)
		}
		if res.RowsAffected > 0 {
			tx.changed = true
		}
		return nil
	})
}
