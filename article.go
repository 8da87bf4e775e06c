package arxiv

import (
	"strconv"
	"strings"
	"time"
)

// PrimaryCategory returns the primary (first) category.
func (a *Article) PrimaryCategory() string {
	cats := strings.Fields(a.Categories)
	if len(cats) == 0 {
		return ""
	}
	return cats[0]
}

// CategoryList returns all categories as a slice.
func (a *Article) CategoryList() []string {
	return strings.Fields(a.Categories)
}

// HasCategory reports whether cat is one of the article's categories.
func (a *Article) HasCategory(cat string) bool {
	for _, c := range strings.Fields(a.Categories) {
		if c == cat {
			return true
		}
	}
	return false
}

// AuthorList splits the author string on commas and " and ".
func (a *Article) AuthorList() []string {
	s := strings.ReplaceAll(a.Authors, " and ", ", ")
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// MaxVersion returns the highest stored version number, or 0.
func (a *Article) MaxVersion() int {
	if len(a.Versions) == 0 {
		return 0
	}
	return a.Versions[len(a.Versions)-1].Number
}

// FirstSubmitted returns the submission time of version 1.
func (a *Article) FirstSubmitted() time.Time {
	if len(a.Versions) == 0 {
		return time.Time{}
	}
	return a.Versions[0].Submitted
}

// FirstEncountered returns when version 1 was first merged into the store.
func (a *Article) FirstEncountered() time.Time {
	if len(a.Versions) == 0 {
		return time.Time{}
	}
	return a.Versions[0].Encountered
}

// TagList returns the tags as a slice.
func (a *Article) TagList() []string {
	return strings.Fields(a.Tags)
}

// HasTag reports whether the article carries tag.
func (a *Article) HasTag(tag string) bool {
	for _, t := range strings.Fields(a.Tags) {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// PDFURL returns the arXiv PDF download URL. A version of 0 means latest.
func (a *Article) PDFURL(version int) string {
	return "https://arxiv.org/pdf/" + versionedID(a.ID, version)
}

// SourceURL returns the arXiv source download URL.
func (a *Article) SourceURL(version int) string {
	return "https://arxiv.org/e-print/" + versionedID(a.ID, version)
}

// AbstractURL returns the arXiv abstract page URL.
func (a *Article) AbstractURL() string {
	return "https://arxiv.org/abs/" + a.ID
}

// Clone returns a deep copy safe to hand out to callers.
func (a *Article) Clone() *Article {
	c := *a
	c.Versions = append([]Version(nil), a.Versions...)
	return &c
}

func versionedID(id string, version int) string {
	if version <= 0 {
		return id
	}
	return id + "v" + strconv.Itoa(version)
}
