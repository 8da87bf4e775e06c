package arxiv

import (
	"fmt"
	"io"
	"strings"
)

// ParseIssue describes a bibliography entry that was skipped.
type ParseIssue struct {
	Line int
	Key  string
	Msg  string
}

func (p ParseIssue) String() string {
	if p.Key != "" {
		return fmt.Sprintf("line %d: entry %s: %s", p.Line, p.Key, p.Msg)
	}
	return fmt.Sprintf("line %d: %s", p.Line, p.Msg)
}

// ParseBibTeX reads BibTeX entries from r. Malformed entries are skipped
// and reported as issues; only a read failure returns an error. Field names
// are lower-cased, and values have their outer delimiters removed and
// whitespace collapsed.
func ParseBibTeX(r io.Reader) ([]BibTeXEntry, []ParseIssue, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read bibtex: %w", err)
	}
	s := &bibScanner{src: string(data)}

	var (
		entries []BibTeXEntry
		issues  []ParseIssue
	)
	for {
		at := strings.IndexByte(s.src[s.pos:], '@')
		if at < 0 {
			break
		}
		s.pos += at
		start := s.pos
		entry, skip, err := s.entry()
		if err != nil {
			issues = append(issues, ParseIssue{Line: s.lineAt(start), Key: entry.Key, Msg: err.Error()})
			s.pos = s.recover(start)
			continue
		}
		if !skip {
			entry.Line = s.lineAt(start)
			entries = append(entries, entry)
		}
	}
	return entries, issues, nil
}

type bibScanner struct {
	src string
	pos int
}

func (s *bibScanner) lineAt(pos int) int {
	return strings.Count(s.src[:pos], "\n") + 1
}

// recover returns the position of the next '@' at the start of a line
// after start.
func (s *bibScanner) recover(start int) int {
	if i := strings.Index(s.src[start+1:], "\n@"); i >= 0 {
		return start + 1 + i + 1
	}
	return len(s.src)
}

func (s *bibScanner) skipSpace() {
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case ' ', '\t', '\n', '\r':
			s.pos++
		default:
			return
		}
	}
}

func (s *bibScanner) ident() string {
	start := s.pos
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c == '{' || c == '}' || c == '(' || c == ')' || c == ',' || c == '=' || c == '#' || c == '"' ||
			c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			break
		}
		s.pos++
	}
	return s.src[start:s.pos]
}

// entry parses one "@type{...}" block. skip is true for @comment,
// @preamble and @string.
func (s *bibScanner) entry() (BibTeXEntry, bool, error) {
	var e BibTeXEntry
	s.pos++ // '@'
	e.Type = strings.ToLower(s.ident())
	if e.Type == "" {
		return e, false, fmt.Errorf("missing entry type")
	}
	s.skipSpace()
	if s.pos >= len(s.src) || (s.src[s.pos] != '{' && s.src[s.pos] != '(') {
		if e.Type == "comment" {
			return e, true, nil
		}
		return e, false, fmt.Errorf("expected { after @%s", e.Type)
	}
	open := s.src[s.pos]
	end := byte('}')
	if open == '(' {
		end = ')'
	}

	switch e.Type {
	case "comment", "preamble", "string":
		if _, err := s.braced(open, end); err != nil {
			return e, false, err
		}
		return e, true, nil
	}
	s.pos++

	s.skipSpace()
	e.Key = strings.TrimSpace(s.ident())
	if e.Key == "" {
		return e, false, fmt.Errorf("missing citation key")
	}
	e.Fields = make(map[string]string)

	for {
		s.skipSpace()
		if s.pos >= len(s.src) {
			return e, false, fmt.Errorf("unterminated entry")
		}
		switch s.src[s.pos] {
		case end:
			s.pos++
			return e, false, nil
		case ',':
			s.pos++
			continue
		}

		name := strings.ToLower(s.ident())
		if name == "" {
			return e, false, fmt.Errorf("unexpected %q", s.src[s.pos])
		}
		s.skipSpace()
		if s.pos >= len(s.src) || s.src[s.pos] != '=' {
			return e, false, fmt.Errorf("expected = after field %s", name)
		}
		s.pos++
		value, err := s.value(end)
		if err != nil {
			return e, false, fmt.Errorf("field %s: %w", name, err)
		}
		e.Fields[name] = value
	}
}

// value parses a field value: a braced or quoted string, a number or a
// macro name, possibly concatenated with '#'.
func (s *bibScanner) value(end byte) (string, error) {
	var parts []string
	for {
		s.skipSpace()
		if s.pos >= len(s.src) {
			return "", fmt.Errorf("missing value")
		}
		switch c := s.src[s.pos]; c {
		case '{':
			v, err := s.braced('{', '}')
			if err != nil {
				return "", err
			}
			parts = append(parts, v)
		case '"':
			v, err := s.quoted()
			if err != nil {
				return "", err
			}
			parts = append(parts, v)
		default:
			v := s.ident()
			if v == "" {
				return "", fmt.Errorf("unexpected %q", c)
			}
			parts = append(parts, v)
		}
		s.skipSpace()
		if s.pos < len(s.src) && s.src[s.pos] == '#' {
			s.pos++
			continue
		}
		if s.pos < len(s.src) && s.src[s.pos] != ',' && s.src[s.pos] != end {
			return "", fmt.Errorf("unexpected %q after value", s.src[s.pos])
		}
		return cleanBibValue(strings.Join(parts, "")), nil
	}
}

// braced returns the text between a balanced pair of delimiters starting
// at the current position.
func (s *bibScanner) braced(open, end byte) (string, error) {
	start := s.pos
	depth := 0
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '\\' && s.pos+1 < len(s.src):
			s.pos += 2
			continue
		case c == open:
			depth++
		case c == end:
			depth--
			if depth == 0 {
				s.pos++
				return s.src[start+1 : s.pos-1], nil
			}
		}
		s.pos++
	}
	return "", fmt.Errorf("unbalanced braces")
}

func (s *bibScanner) quoted() (string, error) {
	start := s.pos
	s.pos++
	depth := 0
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '\\' && s.pos+1 < len(s.src):
			s.pos += 2
			continue
		case c == '{':
			depth++
		case c == '}':
			depth--
		case c == '"' && depth == 0:
			s.pos++
			return s.src[start+1 : s.pos-1], nil
		}
		s.pos++
	}
	return "", fmt.Errorf("unterminated quote")
}

func cleanBibValue(v string) string {
	v = strings.NewReplacer("{", "", "}", "").Replace(v)
	return strings.Join(strings.Fields(v), " ")
}
