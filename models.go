package arxiv

import (
	"time"
)

// Article is the stored record of one arXiv article: the latest head
// metadata, the append-only version history and the user state.
type Article struct {
	// ID is the arXiv identifier (e.g., "2301.00001" or "hep-th/9901001")
	ID string `gorm:"primaryKey" json:"id" yaml:"id"`

	Submitter string `json:"submitter,omitempty" yaml:"submitter,omitempty"`

	// Title of the latest version
	Title string `json:"title" yaml:"title"`

	// Abstract of the latest version
	Abstract string `json:"abstract" yaml:"abstract"`

	// Authors as a single string (arXiv format)
	Authors string `json:"authors" yaml:"authors"`

	// Categories is a space-separated list of arXiv categories, primary first
	Categories string `gorm:"index" json:"categories" yaml:"categories"`

	// Comments from the submitter (e.g., "10 pages, 3 figures")
	Comments string `json:"comments,omitempty" yaml:"comments,omitempty"`

	// JournalRef is the journal reference if published
	JournalRef string `gorm:"column:journal_ref" json:"journal_ref,omitempty" yaml:"journal_ref,omitempty"`

	DOI      string `gorm:"column:doi" json:"doi,omitempty" yaml:"doi,omitempty"`
	License  string `json:"license,omitempty" yaml:"license,omitempty"`
	ACMClass string `gorm:"column:acm_class" json:"acm_class,omitempty" yaml:"acm_class,omitempty"`
	MSCClass string `gorm:"column:msc_class" json:"msc_class,omitempty" yaml:"msc_class,omitempty"`
	ReportNo string `gorm:"column:report_no" json:"report_no,omitempty" yaml:"report_no,omitempty"`

	// Datestamp is the OAI header datestamp of the last merged entry
	Datestamp string `json:"datestamp,omitempty" yaml:"datestamp,omitempty"`

	Bookmarked bool   `gorm:"index" json:"bookmarked,omitempty" yaml:"bookmarked,omitempty"`
	Note       string `json:"note,omitempty" yaml:"note,omitempty"`

	// Tags is a space-separated, sorted set of user labels.
	Tags string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// LastSeenVersion is the version acknowledged by the last delivered
	// notification. Zero means the article was never surfaced.
	LastSeenVersion int `gorm:"column:last_seen_version" json:"last_seen_version,omitempty" yaml:"last_seen_version,omitempty"`

	// SeenJournalRef is the journal reference acknowledged last.
	SeenJournalRef string `gorm:"column:seen_journal_ref" json:"seen_journal_ref,omitempty" yaml:"seen_journal_ref,omitempty"`

	// SeenDOI is the DOI acknowledged last.
	SeenDOI string `gorm:"column:seen_doi" json:"seen_doi,omitempty" yaml:"seen_doi,omitempty"`

	Versions []Version `gorm:"foreignKey:ArticleID;constraint:OnDelete:CASCADE" json:"versions" yaml:"versions"`
}

func (Article) TableName() string {
	return "articles"
}

// Version is one entry of an article's history. Stored versions are never
// modified.
type Version struct {
	ArticleID  string    `gorm:"primaryKey;column:article_id" json:"-" yaml:"-"`
	Number     int       `gorm:"primaryKey;autoIncrement:false" json:"number" yaml:"number"`
	Submitted  time.Time `json:"submitted" yaml:"submitted"`
	Size       string    `json:"size,omitempty" yaml:"size,omitempty"`
	SourceType string    `gorm:"column:source_type" json:"source_type,omitempty" yaml:"source_type,omitempty"`

	// Metadata as it was when this version was first merged.
	Title      string `json:"title,omitempty" yaml:"title,omitempty"`
	Abstract   string `json:"abstract,omitempty" yaml:"abstract,omitempty"`
	Authors    string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Categories string `json:"categories,omitempty" yaml:"categories,omitempty"`

	Encountered time.Time `json:"encountered" yaml:"encountered"`
}

func (Version) TableName() string {
	return "versions"
}

// SyncCursor stores the feed position of one subscribed category.
type SyncCursor struct {
	Category  string `gorm:"primaryKey"`
	Watermark string
}

func (SyncCursor) TableName() string {
	return "sync_cursors"
}

// ArtifactKind is the kind of file an artifact request targets.
type ArtifactKind string

const (
	ArtifactPDF    ArtifactKind = "pdf"
	ArtifactSource ArtifactKind = "source"
)

// ArtifactRequest is a queued download of one artifact of one version.
type ArtifactRequest struct {
	ArticleID   string       `gorm:"primaryKey;column:article_id"`
	Version     int          `gorm:"primaryKey;autoIncrement:false"`
	Kind        ArtifactKind `gorm:"primaryKey;size:16"`
	RequestedAt time.Time    `gorm:"column:requested_at"`
	Attempts    int
	LastError   string `gorm:"column:last_error"`
}

func (ArtifactRequest) TableName() string {
	return "artifact_requests"
}

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "schema_migrations"
}
