package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	arxiv "github.com/fagu/arxiv-reader"
	"github.com/fagu/arxiv-reader/internal/config"
	"github.com/fatih/color"
)

var (
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

// highlighter marks configured terms in article listings.
type highlighter struct {
	keywords   []string
	authors    []string
	categories map[string]bool
	acm        []string
	msc        []string
	mark       func(a ...any) string
}

func newHighlighter(h config.Highlight) *highlighter {
	cats := make(map[string]bool, len(h.Categories))
	for _, c := range h.Categories {
		cats[c] = true
	}
	return &highlighter{
		keywords:   h.Keywords,
		authors:    h.Authors,
		categories: cats,
		acm:        h.ACMClasses,
		msc:        h.MSCClasses,
		mark:       red,
	}
}

// text marks keywords, ignoring ASCII case.
func (h *highlighter) text(s string) string {
	if h == nil {
		return s
	}
	return markMatches(s, true, h.keywords, h.mark)
}

func (h *highlighter) authorList(s string) string {
	if h == nil {
		return s
	}
	return markMatches(s, false, h.authors, h.mark)
}

func (h *highlighter) categoryList(cats []string) string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = c
		if h != nil && h.categories[c] {
			out[i] = h.mark(c)
		}
	}
	return strings.Join(out, " ")
}

func (h *highlighter) classes(s string, patterns func(*highlighter) []string) string {
	if h == nil {
		return s
	}
	return markMatches(s, false, patterns(h), h.mark)
}

// markMatches wraps every leftmost-longest occurrence of a pattern in s.
func markMatches(s string, foldCase bool, patterns []string, mark func(a ...any) string) string {
	if len(patterns) == 0 {
		return s
	}
	var sb strings.Builder
	last := 0
	for i := 0; i < len(s); {
		n := 0
		for _, p := range patterns {
			if len(p) > n && hasPrefix(s[i:], p, foldCase) {
				n = len(p)
			}
		}
		if n == 0 {
			i++
			continue
		}
		sb.WriteString(s[last:i])
		sb.WriteString(mark(s[i : i+n]))
		i += n
		last = i
	}
	sb.WriteString(s[last:])
	return sb.String()
}

func hasPrefix(s, prefix string, foldCase bool) bool {
	if len(s) < len(prefix) {
		return false
	}
	if !foldCase {
		return s[:len(prefix)] == prefix
	}
	for i := 0; i < len(prefix); i++ {
		if lowerASCII(s[i]) != lowerASCII(prefix[i]) {
			return false
		}
	}
	return true
}

func lowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

// writerSink prints notifications. It only fails when the writer does.
type writerSink struct {
	w  io.Writer
	hl *highlighter
}

func (s writerSink) Deliver(ctx context.Context, notifications []arxiv.Notification) error {
	for _, n := range notifications {
		if err := printNotification(s.w, n, s.hl); err != nil {
			return err
		}
	}
	return nil
}

func printNotification(w io.Writer, n arxiv.Notification, hl *highlighter) error {
	a := n.Article
	var tag string
	switch n.Kind {
	case arxiv.NewArticle:
		tag = green("[new]")
	case arxiv.NewVersion:
		tag = yellow(fmt.Sprintf("[v%d]", n.Version))
	case arxiv.NewJournalRef:
		tag = cyan("[published]")
	case arxiv.NewDOI:
		tag = cyan("[doi]")
	}
	if _, err := fmt.Fprintf(w, "%s %s %s\n", tag, cyan(a.ID), hl.text(a.Title)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "    %s\n", hl.authorList(a.Authors)); err != nil {
		return err
	}
	detail := hl.categoryList(a.CategoryList())
	switch n.Kind {
	case arxiv.NewJournalRef:
		detail = n.JournalRef
	case arxiv.NewDOI:
		detail = "https://doi.org/" + n.DOI
	}
	if a.Note != "" {
		detail += "  " + gray("note: "+a.Note)
	}
	_, err := fmt.Fprintf(w, "    %s\n", gray(detail))
	return err
}

func printArticleLine(w io.Writer, a *arxiv.Article, hl *highlighter) {
	mark := " "
	if a.Bookmarked {
		mark = yellow("*")
	}
	fmt.Fprintf(w, "%s %s %s %s\n", mark, cyan(fmt.Sprintf("%sv%d", a.ID, a.MaxVersion())), hl.text(a.Title), gray("("+a.PrimaryCategory()+")"))
}

func printArticle(w io.Writer, a *arxiv.Article, hl *highlighter) {
	fmt.Fprintf(w, "%s %s\n", cyan(a.ID), hl.text(a.Title))
	fmt.Fprintf(w, "Authors:    %s\n", hl.authorList(a.Authors))
	fmt.Fprintf(w, "Categories: %s\n", hl.categoryList(a.CategoryList()))
	if a.Comments != "" {
		fmt.Fprintf(w, "Comments:   %s\n", hl.text(a.Comments))
	}
	if a.JournalRef != "" {
		fmt.Fprintf(w, "Journal:    %s\n", a.JournalRef)
	}
	if a.DOI != "" {
		unseen := ""
		if a.DOI != a.SeenDOI {
			unseen = green(" new")
		}
		fmt.Fprintf(w, "DOI:        %s%s\n", a.DOI, unseen)
	}
	if a.MSCClass != "" {
		fmt.Fprintf(w, "MSC:        %s\n", hl.classes(a.MSCClass, func(h *highlighter) []string { return h.msc }))
	}
	if a.ACMClass != "" {
		fmt.Fprintf(w, "ACM:        %s\n", hl.classes(a.ACMClass, func(h *highlighter) []string { return h.acm }))
	}
	fmt.Fprintf(w, "URL:        %s\n", a.AbstractURL())
	if a.Bookmarked {
		fmt.Fprintf(w, "Bookmarked: %s\n", yellow("yes"))
	}
	if a.Tags != "" {
		fmt.Fprintf(w, "Tags:       %s\n", a.Tags)
	}
	if a.Note != "" {
		fmt.Fprintf(w, "Note:       %s\n", a.Note)
	}
	fmt.Fprintln(w, "Versions:")
	for _, v := range a.Versions {
		seen := ""
		if v.Number <= a.LastSeenVersion {
			seen = gray(" seen")
		}
		submitted := "unknown date"
		if !v.Submitted.IsZero() {
			submitted = v.Submitted.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "  v%d  %s  %s%s\n", v.Number, submitted, v.Size, seen)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, hl.text(strings.TrimSpace(a.Abstract)))
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", yellow("warning:"), fmt.Sprintf(format, args...))
}
