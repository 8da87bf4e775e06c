package arxiv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Cache is the local record store: articles with their version history,
// per-category sync cursors and the artifact request queue.
type Cache struct {
	root   string
	db     *gorm.DB
	logger *zap.Logger

	// writeMu serializes write transactions.
	writeMu sync.Mutex

	articles *LRUCache[*Article]
	lruMu    sync.Mutex
	lruGen   uint64

	mutated atomic.Bool
}

// Option configures Open.
type Option func(*Cache)

// WithLogger sets the logger used by the cache.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLRUSize sets the number of article snapshots kept in memory.
func WithLRUSize(n int) Option {
	return func(c *Cache) {
		c.articles = NewLRUCache[*Article](n)
	}
}

// Open opens or creates a record store at the given root directory.
func Open(root string, opts ...Option) (*Cache, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &Cache{
		root:     root,
		logger:   zap.NewNop(),
		articles: NewLRUCache[*Article](4096),
	}
	for _, opt := range opts {
		opt(c)
	}

	dbPath := filepath.Join(root, "index.db")
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	sqlDB.SetMaxOpenConns(1)
	c.db = db

	if err := c.initSchema(); err != nil {
		sqlDB.Close()
		return nil, &StorageError{Op: "init schema", Err: err}
	}
	c.logger.Debug("record store opened", zap.String("path", dbPath))
	return c, nil
}

// Close closes the cache database. Cached snapshots are dropped, so reads
// after Close fail instead of returning stale data.
func (c *Cache) Close() error {
	c.lruMu.Lock()
	c.lruGen++
	c.articles.Clear()
	c.lruMu.Unlock()

	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Mutated reports whether any write has been committed since Open or the
// last ResetMutated. Callers use it to decide whether the data directory
// needs to be committed.
func (c *Cache) Mutated() bool {
	return c.mutated.Load()
}

// ResetMutated clears the mutation flag.
func (c *Cache) ResetMutated() {
	c.mutated.Store(false)
}

func (c *Cache) initSchema() error {
	if err := c.db.AutoMigrate(&Article{}, &Version{}, &SyncCursor{}, &ArtifactRequest{}, &migrationRecord{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return c.applyMigrations()
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func (c *Cache) applyMigrations() error {
	migrations := []migrationDefinition{
		{name: "2026-10-01_clamp_last_seen_version", apply: clampLastSeenVersion},
		{name: "2026-10-16_backfill_tags_and_seen_doi", apply: backfillUserState},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := c.db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(c.db); err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		appliedAt := time.Now().UTC().Unix()
		if err := c.db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		c.logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// clampLastSeenVersion repairs stores written before acknowledgements were
// bounded by the stored history.
func clampLastSeenVersion(db *gorm.DB) error {
	return db.Exec(`UPDATE articles SET last_seen_version = (
		SELECT COALESCE(MAX(number), 0) FROM versions WHERE versions.article_id = articles.id
	) WHERE last_seen_version > (
		SELECT COALESCE(MAX(number), 0) FROM versions WHERE versions.article_id = articles.id
	)`).Error
}

// backfillUserState replaces the NULLs left in columns added after a store
// was created.
func backfillUserState(db *gorm.DB) error {
	if err := db.Exec(`UPDATE articles SET tags = '' WHERE tags IS NULL`).Error; err != nil {
		return err
	}
	return db.Exec(`UPDATE articles SET seen_doi = '' WHERE seen_doi IS NULL`).Error
}

// Stats returns cache statistics.
func (c *Cache) Stats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{}
	db := c.db.WithContext(ctx)

	if err := db.Model(&Article{}).Count(&stats.Articles).Error; err != nil {
		return nil, storageErr("stats", err)
	}
	if err := db.Model(&Version{}).Count(&stats.Versions).Error; err != nil {
		return nil, storageErr("stats", err)
	}
	if err := db.Model(&Article{}).Where("bookmarked = ?", true).Count(&stats.Bookmarked).Error; err != nil {
		return nil, storageErr("stats", err)
	}
	if err := db.Model(&Article{}).Where("last_seen_version = 0").Count(&stats.Unseen).Error; err != nil {
		return nil, storageErr("stats", err)
	}
	if err := db.Model(&SyncCursor{}).Count(&stats.Cursors).Error; err != nil {
		return nil, storageErr("stats", err)
	}
	if err := db.Model(&ArtifactRequest{}).Count(&stats.QueuedArtifacts).Error; err != nil {
		return nil, storageErr("stats", err)
	}
	return stats, nil
}

// CacheStats contains statistics about the cache.
type CacheStats struct {
	Articles        int64
	Versions        int64
	Bookmarked      int64
	Unseen          int64
	Cursors         int64
	QueuedArtifacts int64
}
