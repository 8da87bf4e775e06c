package arxiv

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filterArticle() *Article {
	return &Article{
		ID:         "2301.00001",
		Title:      "Sorting networks",
		Abstract:   "We study transformer attention.",
		Authors:    "Donald Knuth and Ada Lovelace",
		Categories: "math.CO cs.DM",
		JournalRef: "J. Comb. Theory 1 (2024)",
		Note:       "skip later",
		Bookmarked: true,
		Tags:       "reading-group toread",
		Versions: []Version{
			{
				Number:      1,
				Submitted:   time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC),
				Encountered: time.Date(2023, 2, 3, 8, 0, 0, 0, time.UTC),
			},
			{Number: 2, Submitted: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
}

func TestFilterMatch(t *testing.T) {
	a := filterArticle()
	tests := []struct {
		expr string
		want bool
	}{
		{"", true},
		{"category:cs.DM", true},
		{"cat:CS.dm", true},
		{"category:cs.AI", false},
		{"primary:math.CO", true},
		{"primary:cs.DM", false},
		{`author:"knuth"`, true},
		{"author:babbage", false},
		{"title:sorting and author:lovelace", true},
		{"category:cs.AI or title:sorting", true},
		{"-note:skip", false},
		{"not bookmarked:true", false},
		{"bookmarked:true seen:false", true},
		{"seen:true", false},
		{"transformer attention", true},
		{`"transformer attention"`, true},
		{"later", true},
		{"knuth", false},
		{"since:2023-01-15", true},
		{"since:2023-03-01", false},
		{"id:2301.00001", true},
		{"id:2301.00002", false},
		{"journal:comb", true},
		{"any:ada", true},
		{"any:cs.dm", true},
		{"any:nothing", false},
		{"(category:cs.AI || !journal:comb) && title:sorting", false},
		{"title:sorting or title:nothing and bookmarked:false", true},
		{"(title:sorting or title:nothing) and bookmarked:false", false},
		{"not not bookmarked:true", true},
		{"tag:toread", true},
		{"tag:TOREAD", true},
		{"tag:read", false},
		{"any:reading-group", true},
		{"added:2023-02-03", true},
		{"encountered:2023-02-04", false},
		{"since:2023-02-02 or added:2023-02-02", true},
		{"true", true},
		{"false", false},
		{"FALSE or tag:toread", true},
		{"not true", false},
		{`"true"`, false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := CompileFilter(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(a))
			assert.Equal(t, tt.expr, f.String())
		})
	}
}

func TestFilterErrors(t *testing.T) {
	for _, expr := range []string{
		"foo:bar",
		"(title:x",
		"title:x )",
		`"abc`,
		"a & b",
		"since:yesterday",
		"bookmarked:maybe",
		"id:NOPE",
		"and",
		"title:x or",
		"category:",
		`tag:"to read"`,
		"tag:",
		"added:march",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := CompileFilter(expr)
			require.Error(t, err)
			var fe *FilterError
			assert.True(t, errors.As(err, &fe))
			assert.Equal(t, KindUserInput, ErrorKind(err))
		})
	}
}

func TestFilterBooleanConsistency(t *testing.T) {
	a := filterArticle()
	terms := []string{"category:cs.DM", "title:nothing", "bookmarked:true", "seen:true", "note:skip"}
	match := func(expr string) bool {
		return MustCompileFilter(expr).Match(a)
	}
	for _, x := range terms {
		assert.Equal(t, !match(x), match("not "+x), x)
		for _, y := range terms {
			assert.Equal(t, match(x) && match(y), match(x+" and "+y), x+" and "+y)
			assert.Equal(t, match(x) || match(y), match(x+" or "+y), x+" or "+y)
			assert.Equal(t, match(x+" "+y), match(x+" && "+y))
		}
	}
}

func TestNilFilterMatchesEverything(t *testing.T) {
	var f *Filter
	assert.True(t, f.Match(filterArticle()))
	assert.True(t, f.Match(&Article{ID: "2301.00002"}))
	assert.Equal(t, "", f.String())
}

func TestFilterEncounteredNeedsHistory(t *testing.T) {
	f := MustCompileFilter("added:2000-01-01")
	assert.False(t, f.Match(&Article{ID: "2301.00002"}))
	a := filterArticle()
	a.Versions[0].Encountered = time.Time{}
	assert.False(t, f.Match(a))
}

func TestFilterIgnoresFieldsItDoesNotRead(t *testing.T) {
	f := MustCompileFilter("category:math.CO and author:knuth")

	a := filterArticle()
	before := f.Match(a)
	a.Note = "something else entirely"
	a.Bookmarked = false
	assert.Equal(t, before, f.Match(a))
}
