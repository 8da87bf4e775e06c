package arxiv

import (
	"fmt"
	"sort"
	"strings"
)

// BibTeXEntry is one parsed or generated BibTeX entry.
type BibTeXEntry struct {
	Type   string            // article, misc, ...
	Key    string            // citation key
	Fields map[string]string // lower-case field names
	Line   int               // line of the '@' when parsed from a file
}

var bibFieldOrder = []string{
	"title", "author", "year", "month", "journal", "eprint", "archiveprefix",
	"primaryclass", "doi", "url", "abstract", "note",
}

// String renders the entry. Known fields come first in a fixed order,
// the rest alphabetically.
func (e BibTeXEntry) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "@%s{%s,\n", e.Type, e.Key)

	written := make(map[string]bool, len(e.Fields))
	for _, field := range bibFieldOrder {
		if value := e.Fields[field]; value != "" {
			fmt.Fprintf(&sb, "  %s = {%s},\n", field, escapeBibTeX(value))
			written[field] = true
		}
	}
	rest := make([]string, 0, len(e.Fields))
	for field, value := range e.Fields {
		if !written[field] && value != "" {
			rest = append(rest, field)
		}
	}
	sort.Strings(rest)
	for _, field := range rest {
		fmt.Fprintf(&sb, "  %s = {%s},\n", field, escapeBibTeX(e.Fields[field]))
	}

	sb.WriteString("}\n")
	return sb.String()
}

// BibTeX builds an entry for the article. A positive version pins the
// eprint to that version.
func (a *Article) BibTeX(version int) BibTeXEntry {
	entry := BibTeXEntry{
		Type:   "misc",
		Key:    a.BibTeXKey(),
		Fields: make(map[string]string),
	}
	if a.JournalRef != "" {
		entry.Type = "article"
		entry.Fields["journal"] = a.JournalRef
	}

	entry.Fields["title"] = a.Title
	entry.Fields["author"] = a.formatAuthorsBibTeX()
	if first := a.FirstSubmitted(); !first.IsZero() {
		entry.Fields["year"] = fmt.Sprintf("%d", first.Year())
		entry.Fields["month"] = strings.ToLower(first.Format("Jan"))
	}

	entry.Fields["eprint"] = versionedID(a.ID, version)
	entry.Fields["archiveprefix"] = "arXiv"
	entry.Fields["primaryclass"] = a.PrimaryCategory()
	entry.Fields["doi"] = a.DOI
	entry.Fields["url"] = a.AbstractURL()
	entry.Fields["note"] = a.Comments
	return entry
}

// ToBibTeX renders the article as a BibTeX entry.
func (a *Article) ToBibTeX(version int) string {
	return a.BibTeX(version).String()
}

// BibTeXKey generates a citation key: first author's last name, year of
// first submission and the start of the first title word.
func (a *Article) BibTeXKey() string {
	key := ""
	if authors := a.AuthorList(); len(authors) > 0 {
		words := strings.Fields(authors[0])
		if len(words) > 0 {
			key = strings.ToLower(strings.Trim(words[len(words)-1], ".,"))
		}
	}
	if key == "" {
		return strings.NewReplacer(".", "", "/", "").Replace(a.ID)
	}

	if first := a.FirstSubmitted(); !first.IsZero() {
		key += fmt.Sprintf("%d", first.Year())
	}
	if words := strings.Fields(a.Title); len(words) > 0 {
		w := strings.ToLower(strings.Trim(words[0], ".,!?;:"))
		key += w[:min(len(w), 5)]
	}
	return key
}

// formatAuthorsBibTeX formats authors as "Last, First and Last, First".
func (a *Article) formatAuthorsBibTeX() string {
	var formatted []string
	for _, author := range a.AuthorList() {
		words := strings.Fields(author)
		if len(words) >= 2 {
			formatted = append(formatted, words[len(words)-1]+", "+strings.Join(words[:len(words)-1], " "))
		} else {
			formatted = append(formatted, author)
		}
	}
	return strings.Join(formatted, " and ")
}

var bibEscaper = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	"{", `\{`,
	"}", `\}`,
	"&", `\&`,
	"%", `\%`,
	"$", `\$`,
	"#", `\#`,
	"^", `\textasciicircum{}`,
	"_", `\_`,
	"~", `\textasciitilde{}`,
)

// escapeBibTeX escapes special characters in BibTeX strings.
func escapeBibTeX(s string) string {
	return bibEscaper.Replace(s)
}

// ToRIS renders the article in RIS format.
func (a *Article) ToRIS() string {
	var sb strings.Builder
	if a.JournalRef != "" {
		sb.WriteString("TY  - JOUR\n")
	} else {
		sb.WriteString("TY  - RPRT\n")
	}
	if a.Title != "" {
		fmt.Fprintf(&sb, "TI  - %s\n", a.Title)
	}
	for _, author := range a.AuthorList() {
		fmt.Fprintf(&sb, "AU  - %s\n", author)
	}
	if first := a.FirstSubmitted(); !first.IsZero() {
		fmt.Fprintf(&sb, "PY  - %d\n", first.Year())
		fmt.Fprintf(&sb, "DA  - %s\n", first.Format("2006/01/02"))
	}
	if a.Abstract != "" {
		fmt.Fprintf(&sb, "AB  - %s\n", a.Abstract)
	}
	if a.DOI != "" {
		fmt.Fprintf(&sb, "DO  - %s\n", a.DOI)
	}
	fmt.Fprintf(&sb, "UR  - %s\n", a.AbstractURL())
	fmt.Fprintf(&sb, "M3  - arXiv:%s\n", a.ID)
	if a.JournalRef != "" {
		fmt.Fprintf(&sb, "JO  - %s\n", a.JournalRef)
	}
	for _, cat := range a.CategoryList() {
		fmt.Fprintf(&sb, "KW  - %s\n", cat)
	}
	sb.WriteString("ER  - \n")
	return sb.String()
}
