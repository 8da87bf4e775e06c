package arxiv

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDumpSource(t *testing.T) *Cache {
	t.Helper()
	c := openTestCache(t)
	ctx := context.Background()
	seed(t, c, testEntry("2301.00001", 2, withJournal("J. 1")), testEntry("hep-th/9901001", 1))
	require.NoError(t, c.SetBookmarked(ctx, "2301.00001", true))
	require.NoError(t, c.SetNote(ctx, "2301.00001", "theirs"))
	require.NoError(t, c.SetTag(ctx, "2301.00001", "toread", true))
	ref := "J. 1"
	require.NoError(t, c.Acknowledge(ctx, []Ack{{ID: "2301.00001", Version: 1, JournalRef: &ref}}))
	return c
}

func TestDumpLoadRoundTrip(t *testing.T) {
	for _, format := range []DumpFormat{DumpJSON, DumpYAML} {
		t.Run(string(format), func(t *testing.T) {
			src := seedDumpSource(t)
			ctx := context.Background()

			var buf bytes.Buffer
			n, err := src.Dump(ctx, &buf, format)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			dst := openTestCache(t)
			res, err := dst.Load(ctx, bytes.NewReader(buf.Bytes()), format)
			require.NoError(t, err)
			assert.Equal(t, &LoadResult{Created: 2}, res)

			for _, id := range []string{"2301.00001", "hep-th/9901001"} {
				want, err := src.GetArticle(ctx, id)
				require.NoError(t, err)
				got, err := dst.GetArticle(ctx, id)
				require.NoError(t, err)

				assert.Equal(t, want.Title, got.Title)
				assert.Equal(t, want.Categories, got.Categories)
				assert.Equal(t, want.JournalRef, got.JournalRef)
				assert.Equal(t, want.Bookmarked, got.Bookmarked)
				assert.Equal(t, want.Note, got.Note)
				assert.Equal(t, want.LastSeenVersion, got.LastSeenVersion)
				assert.Equal(t, want.SeenJournalRef, got.SeenJournalRef)
				assert.Equal(t, want.Tags, got.Tags)
				require.Equal(t, versionNumbers(want), versionNumbers(got))
				for i := range want.Versions {
					assert.True(t, want.Versions[i].Submitted.Equal(got.Versions[i].Submitted))
					assert.Equal(t, want.Versions[i].Title, got.Versions[i].Title)
				}
			}

			// Loading the same dump again changes nothing.
			res, err = dst.Load(ctx, bytes.NewReader(buf.Bytes()), format)
			require.NoError(t, err)
			assert.Equal(t, &LoadResult{}, res)

			cursors, err := dst.Cursors(ctx)
			require.NoError(t, err)
			assert.Empty(t, cursors)
		})
	}
}

func TestLoadKeepsLocalState(t *testing.T) {
	src := seedDumpSource(t)
	ctx := context.Background()
	var buf bytes.Buffer
	_, err := src.Dump(ctx, &buf, DumpJSON)
	require.NoError(t, err)

	dst := openTestCache(t)
	seed(t, dst, testEntry("2301.00001", 1))
	require.NoError(t, dst.SetNote(ctx, "2301.00001", "mine"))
	require.NoError(t, dst.SetTag(ctx, "2301.00001", "mine", true))

	res, err := dst.Load(ctx, &buf, DumpJSON)
	require.NoError(t, err)
	assert.Equal(t, &LoadResult{Created: 1, Extended: 1}, res)

	a, err := dst.GetArticle(ctx, "2301.00001")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versionNumbers(a))
	assert.Equal(t, "mine", a.Note)
	assert.True(t, a.Bookmarked)
	assert.Equal(t, "J. 1", a.JournalRef)
	assert.Equal(t, 1, a.LastSeenVersion)
	assert.Equal(t, []string{"mine", "toread"}, a.TagList())
}

func TestLoadSkipsInvalidRecords(t *testing.T) {
	c := openTestCache(t)
	doc := `{"format": 1, "articles": [
  {"id": "BAD", "versions": [{"number": 1}]},
  {"id": "2301.00005", "versions": []},
  {"id": "2301.00006", "versions": [{"number": 2}, {"number": 1}]},
  {"id": "2301.00007", "title": "ok", "last_seen_version": 9, "versions": [{"number": 1}]}
]}`
	res, err := c.Load(context.Background(), strings.NewReader(doc), DumpJSON)
	require.NoError(t, err)
	assert.Equal(t, &LoadResult{Created: 1, Skipped: 3}, res)

	a, err := c.GetArticle(context.Background(), "2301.00007")
	require.NoError(t, err)
	assert.Equal(t, 1, a.LastSeenVersion)

	_, err = c.Load(context.Background(), strings.NewReader(`{"format": 2, "articles": []}`), DumpJSON)
	assert.Error(t, err)
	_, err = c.Load(context.Background(), strings.NewReader(`not json`), DumpJSON)
	assert.Error(t, err)
}

func TestParseDumpFormat(t *testing.T) {
	for in, want := range map[string]DumpFormat{"": DumpJSON, "JSON": DumpJSON, "yml": DumpYAML, "yaml": DumpYAML} {
		got, err := ParseDumpFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDumpFormat("xml")
	assert.Error(t, err)
}
