package arxiv

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Filter is a compiled filter expression.
//
// The syntax is a sequence of terms combined with and/or/not:
//
//	category:cs.AI and (author:"Knuth" or title:sorting)
//	primary:math.CO -note:skip bookmarked:true tag:toread
//	added:2024-03-01             (first version merged on or after the date)
//	transformer attention        (free text, matched against title, abstract and note)
//
// The bare words true and false are constants. Adjacent terms are and-ed. "&&", "||" and "!" (or a leading "-") are
// accepted as operators. not binds tighter than and, and tighter than or.
// Text fields match case-insensitive substrings; id, category and primary
// match whole values.
type Filter struct {
	src  string
	root *Expr
}

// Op is the node type of an Expr.
type Op int

const (
	OpTrue Op = iota
	OpFalse
	OpField
	OpText
	OpAnd
	OpOr
	OpNot
)

// Field is a record field a term can test.
type Field int

const (
	FieldID Field = iota
	FieldCategory
	FieldPrimary
	FieldTitle
	FieldAbstract
	FieldAuthor
	FieldComments
	FieldNote
	FieldJournal
	FieldDOI
	FieldACM
	FieldMSC
	FieldAny
	FieldBookmarked
	FieldSeen
	FieldSince
	FieldEncountered
	FieldTag
)

var fieldNames = map[string]Field{
	"id":          FieldID,
	"category":    FieldCategory,
	"cat":         FieldCategory,
	"primary":     FieldPrimary,
	"title":       FieldTitle,
	"abstract":    FieldAbstract,
	"author":      FieldAuthor,
	"authors":     FieldAuthor,
	"comments":    FieldComments,
	"comment":     FieldComments,
	"note":        FieldNote,
	"notes":       FieldNote,
	"journal":     FieldJournal,
	"doi":         FieldDOI,
	"acm":         FieldACM,
	"msc":         FieldMSC,
	"any":         FieldAny,
	"bookmarked":  FieldBookmarked,
	"seen":        FieldSeen,
	"since":       FieldSince,
	"encountered": FieldEncountered,
	"added":       FieldEncountered,
	"tag":         FieldTag,
}

// Expr is a node of a compiled filter. And and Or have two arguments, Not
// has one.
type Expr struct {
	Op    Op
	Field Field
	Value string // lower-cased for substring fields
	Bool  bool
	Time  time.Time
	Args  []*Expr
}

// FilterError reports a malformed filter expression.
type FilterError struct {
	Pos int
	Msg string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter: %s at offset %d", e.Msg, e.Pos)
}

// CompileFilter parses src. The empty expression matches every article.
func CompileFilter(src string) (*Filter, error) {
	p := &parser{lex: lexer{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind == tokEOF {
		return &Filter{src: src, root: &Expr{Op: OpTrue}}, nil
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, &FilterError{Pos: p.tok.pos, Msg: fmt.Sprintf("unexpected %s", p.tok)}
	}
	return &Filter{src: src, root: root}, nil
}

// MustCompileFilter is like CompileFilter but panics on error.
func MustCompileFilter(src string) *Filter {
	f, err := CompileFilter(src)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.src
}

// Match evaluates the filter against a. A nil filter matches everything.
func (f *Filter) Match(a *Article) bool {
	if f == nil {
		return true
	}
	return f.root.eval(a)
}

func (e *Expr) eval(a *Article) bool {
	switch e.Op {
	case OpTrue:
		return true
	case OpFalse:
		return false
	case OpText:
		return containsFold(a.Title, e.Value) ||
			containsFold(a.Abstract, e.Value) ||
			containsFold(a.Note, e.Value)
	case OpAnd:
		return e.Args[0].eval(a) && e.Args[1].eval(a)
	case OpOr:
		return e.Args[0].eval(a) || e.Args[1].eval(a)
	case OpNot:
		return !e.Args[0].eval(a)
	case OpField:
		return e.evalField(a)
	}
	return false
}

func (e *Expr) evalField(a *Article) bool {
	switch e.Field {
	case FieldID:
		return a.ID == e.Value
	case FieldCategory:
		for _, c := range a.CategoryList() {
			if strings.EqualFold(c, e.Value) {
				return true
			}
		}
		return false
	case FieldPrimary:
		return strings.EqualFold(a.PrimaryCategory(), e.Value)
	case FieldTitle:
		return containsFold(a.Title, e.Value)
	case FieldAbstract:
		return containsFold(a.Abstract, e.Value)
	case FieldAuthor:
		return containsFold(a.Authors, e.Value)
	case FieldComments:
		return containsFold(a.Comments, e.Value)
	case FieldNote:
		return containsFold(a.Note, e.Value)
	case FieldJournal:
		return containsFold(a.JournalRef, e.Value)
	case FieldDOI:
		return containsFold(a.DOI, e.Value)
	case FieldACM:
		return containsFold(a.ACMClass, e.Value)
	case FieldMSC:
		return containsFold(a.MSCClass, e.Value)
	case FieldAny:
		for _, s := range []string{a.Title, a.Abstract, a.Authors, a.Comments, a.Note, a.JournalRef} {
			if containsFold(s, e.Value) {
				return true
			}
		}
		for _, c := range a.CategoryList() {
			if strings.EqualFold(c, e.Value) {
				return true
			}
		}
		return a.HasTag(e.Value)
	case FieldBookmarked:
		return a.Bookmarked == e.Bool
	case FieldSeen:
		return (a.LastSeenVersion > 0) == e.Bool
	case FieldSince:
		first := a.FirstSubmitted()
		return !first.IsZero() && !first.Before(e.Time)
	case FieldEncountered:
		first := a.FirstEncountered()
		return !first.IsZero() && !first.Before(e.Time)
	case FieldTag:
		return a.HasTag(e.Value)
	}
	return false
}

// containsFold reports whether lower, already lower-cased, is a substring
// of s ignoring case.
func containsFold(s, lower string) bool {
	return strings.Contains(strings.ToLower(s), lower)
}

func newTerm(t token) (*Expr, error) {
	field, value, pos := t.field, t.value, t.pos
	if field == "" {
		if !t.quoted {
			switch strings.ToLower(value) {
			case "true":
				return &Expr{Op: OpTrue}, nil
			case "false":
				return &Expr{Op: OpFalse}, nil
			}
		}
		return &Expr{Op: OpText, Value: strings.ToLower(value)}, nil
	}
	f, ok := fieldNames[strings.ToLower(field)]
	if !ok {
		return nil, &FilterError{Pos: pos, Msg: fmt.Sprintf("unknown field %q", field)}
	}
	e := &Expr{Op: OpField, Field: f}
	switch f {
	case FieldID:
		id, err := ParseID(value)
		if err != nil {
			return nil, &FilterError{Pos: pos, Msg: fmt.Sprintf("invalid id %q", value)}
		}
		e.Value = id
	case FieldCategory, FieldPrimary:
		if value == "" {
			return nil, &FilterError{Pos: pos, Msg: field + " needs a value"}
		}
		e.Value = value
	case FieldBookmarked, FieldSeen:
		switch strings.ToLower(value) {
		case "true", "yes", "1", "":
			e.Bool = true
		case "false", "no", "0":
			e.Bool = false
		default:
			return nil, &FilterError{Pos: pos, Msg: fmt.Sprintf("invalid boolean %q", value)}
		}
	case FieldSince, FieldEncountered:
		d, err := time.Parse("2006-01-02", value)
		if err != nil {
			return nil, &FilterError{Pos: pos, Msg: fmt.Sprintf("invalid date %q", value)}
		}
		e.Time = d
	case FieldTag:
		if !ValidTag(value) {
			return nil, &FilterError{Pos: pos, Msg: fmt.Sprintf("invalid tag %q", value)}
		}
		e.Value = value
	default:
		e.Value = strings.ToLower(value)
	}
	return e, nil
}

type parser struct {
	lex lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) parseOr() (*Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Expr{Op: OpOr, Args: []*Expr{left, right}}
	}
	return left, nil
}

func (p *parser) parseAnd() (*Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.tok.kind {
		case tokAnd:
			if err := p.advance(); err != nil {
				return nil, err
			}
		case tokTerm, tokNot, tokLParen:
		default:
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Expr{Op: OpAnd, Args: []*Expr{left, right}}
	}
}

func (p *parser) parseUnary() (*Expr, error) {
	if p.tok.kind == tokNot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Expr{Op: OpNot, Args: []*Expr{x}}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*Expr, error) {
	switch p.tok.kind {
	case tokLParen:
		open := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, &FilterError{Pos: open, Msg: "unclosed parenthesis"}
		}
		return x, p.advance()
	case tokTerm:
		x, err := newTerm(p.tok)
		if err != nil {
			return nil, err
		}
		return x, p.advance()
	}
	return nil, &FilterError{Pos: p.tok.pos, Msg: fmt.Sprintf("unexpected %s", p.tok)}
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokTerm
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind   tokenKind
	pos    int
	field  string
	value  string
	quoted bool
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of expression"
	case tokAnd:
		return "and"
	case tokOr:
		return "or"
	case tokNot:
		return "not"
	case tokLParen:
		return `"("`
	case tokRParen:
		return `")"`
	}
	if t.field != "" {
		return fmt.Sprintf("term %s:%q", t.field, t.value)
	}
	return fmt.Sprintf("term %q", t.value)
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}

	switch c := l.src[l.pos]; c {
	case '(':
		l.pos++
		return token{kind: tokLParen, pos: start}, nil
	case ')':
		l.pos++
		return token{kind: tokRParen, pos: start}, nil
	case '&', '|':
		if l.pos+1 >= len(l.src) || l.src[l.pos+1] != c {
			return token{}, &FilterError{Pos: start, Msg: fmt.Sprintf("expected %c%c", c, c)}
		}
		l.pos += 2
		if c == '&' {
			return token{kind: tokAnd, pos: start}, nil
		}
		return token{kind: tokOr, pos: start}, nil
	case '!':
		l.pos++
		return token{kind: tokNot, pos: start}, nil
	case '-':
		if l.pos+1 < len(l.src) && !unicode.IsSpace(rune(l.src[l.pos+1])) {
			l.pos++
			return token{kind: tokNot, pos: start}, nil
		}
	case '"', '\'':
		v, err := l.quoted()
		if err != nil {
			return token{}, err
		}
		return token{kind: tokTerm, pos: start, value: v, quoted: true}, nil
	}

	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if unicode.IsSpace(rune(c)) || c == '(' || c == ')' || c == '"' || c == '\'' {
			break
		}
		l.pos++
	}
	word := l.src[start:l.pos]

	if field, value, ok := strings.Cut(word, ":"); ok && field != "" {
		if value == "" && l.pos < len(l.src) && (l.src[l.pos] == '"' || l.src[l.pos] == '\'') {
			v, err := l.quoted()
			if err != nil {
				return token{}, err
			}
			value = v
		}
		return token{kind: tokTerm, pos: start, field: field, value: value}, nil
	}

	switch strings.ToLower(word) {
	case "and":
		return token{kind: tokAnd, pos: start}, nil
	case "or":
		return token{kind: tokOr, pos: start}, nil
	case "not":
		return token{kind: tokNot, pos: start}, nil
	case "":
		return token{}, &FilterError{Pos: start, Msg: fmt.Sprintf("unexpected %q", l.src[start])}
	}
	return token{kind: tokTerm, pos: start, value: word}, nil
}

// quoted reads a quoted string starting at the opening quote. A backslash
// escapes the next character.
func (l *lexer) quoted() (string, error) {
	start := l.pos
	q := l.src[l.pos]
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\\' && l.pos+1 < len(l.src):
			sb.WriteByte(l.src[l.pos+1])
			l.pos += 2
		case c == q:
			l.pos++
			return sb.String(), nil
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return "", &FilterError{Pos: start, Msg: "unterminated quote"}
}
