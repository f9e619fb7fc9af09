package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/docstore"
	"github.com/hupe1980/lexgo/internal/fs"
	"github.com/hupe1980/lexgo/scoring"
	"github.com/hupe1980/lexgo/segment"
	"github.com/hupe1980/lexgo/token"
)

type fixture struct {
	docs     *docstore.Store
	segments []*segment.DiskSegment
	eval     *Evaluator
}

type fixtureDoc struct {
	docID uint32
	path  string
	text  string
	size  int64
	mtime time.Time
}

var testTokenizer = token.New(func(o *token.Options) { o.StopWords = false })

// buildFixture indexes each batch of documents into its own segment.
func buildFixture(t *testing.T, batches ...[]fixtureDoc) *fixture {
	t.Helper()
	base := t.TempDir()

	docs, err := docstore.Open(filepath.Join(base, "documents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	f := &fixture{docs: docs, eval: NewEvaluator(docs)}
	for i, batch := range batches {
		mem := segment.NewMemSegment()
		for _, d := range batch {
			tokens := testTokenizer.Tokenize(d.text)
			ext := docstore.Extension(d.path)
			require.NoError(t, docs.Insert(docstore.Document{
				DocID:      d.docID,
				Path:       d.path,
				Extension:  ext,
				SizeBytes:  d.size,
				Mtime:      d.mtime,
				Type:       docstore.InferDocType(d.path, ext, nil),
				TokenCount: uint32(len(tokens)),
			}))
			require.NoError(t, mem.AddDocument(d.docID, tokens))
		}
		dir := filepath.Join(base, "seg-"+string(rune('1'+i)))
		_, err := mem.Flush(fs.Default, dir, uint64(i+1), 0)
		require.NoError(t, err)
		seg, err := segment.Open(fs.Default, dir)
		require.NoError(t, err)
		t.Cleanup(func() { seg.Close() })
		f.segments = append(f.segments, seg)
	}
	return f
}

func (f *fixture) search(t *testing.T, q string, limit int) []Result {
	t.Helper()
	parsed, err := Parse(q)
	require.NoError(t, err)
	results, _, err := f.eval.Evaluate(context.Background(), parsed, f.segments, limit)
	require.NoError(t, err)
	return results
}

func docIDs(results []Result) []uint32 {
	out := make([]uint32, len(results))
	for i, r := range results {
		out[i] = r.DocID
	}
	return out
}

func defaultMtime() time.Time { return time.UnixMilli(1735689600000).UTC() }

func TestEvaluateTerm(t *testing.T) {
	f := buildFixture(t, []fixtureDoc{
		{1, "/a.md", "java programming", 10, defaultMtime()},
		{2, "/b.md", "java tutorial", 10, defaultMtime()},
		{3, "/c.md", "python programming", 10, defaultMtime()},
	})

	results := f.search(t, "java", 10)
	assert.Equal(t, []uint32{1, 2}, docIDs(results))
	for _, r := range results {
		assert.Greater(t, r.Score, 0.0)
	}
}

func TestEvaluateBooleanAndNarrowing(t *testing.T) {
	f := buildFixture(t, []fixtureDoc{
		{1, "/a.md", "Java programming", 10, defaultMtime()},
		{2, "/b.md", "Java tutorial", 10, defaultMtime()},
		{3, "/c.md", "Python programming", 10, defaultMtime()},
	})

	results := f.search(t, "Java AND programming", 10)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(1), results[0].DocID)

	// AND score is the sum of the per-term BM25 contributions.
	scorer := scoring.New(3, 2)
	wantJava := scorer.Score(1, 2, 2)
	wantProg := scorer.Score(1, 2, 2)
	assert.InDelta(t, wantJava+wantProg, results[0].Score, 1e-9)
}

func TestEvaluateOr(t *testing.T) {
	f := buildFixture(t, []fixtureDoc{
		{1, "/a.md", "alpha", 10, defaultMtime()},
		{2, "/b.md", "beta", 10, defaultMtime()},
		{3, "/c.md", "gamma", 10, defaultMtime()},
	})
	results := f.search(t, "alpha OR beta", 10)
	assert.ElementsMatch(t, []uint32{1, 2}, docIDs(results))
}

func TestEvaluatePhrase(t *testing.T) {
	f := buildFixture(t, []fixtureDoc{
		{1, "/d1.md", "the quick brown fox", 20, defaultMtime()},
		{2, "/d2.md", "quick fox brown", 20, defaultMtime()},
	})

	results := f.search(t, `"quick brown"`, 10)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(1), results[0].DocID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestEvaluatePhraseThreeTerms(t *testing.T) {
	f := buildFixture(t, []fixtureDoc{
		{1, "/a.md", "one two three four", 20, defaultMtime()},
		{2, "/b.md", "one three two four", 20, defaultMtime()},
	})
	results := f.search(t, `"two three four"`, 10)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(1), results[0].DocID)
}

func TestEvaluateNot(t *testing.T) {
	f := buildFixture(t, []fixtureDoc{
		{1, "/a.md", "draft article", 10, defaultMtime()},
		{2, "/b.md", "final article", 10, defaultMtime()},
	})
	results := f.search(t, "article -draft", 10)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(2), results[0].DocID)
}

func TestEvaluatePrefix(t *testing.T) {
	f := buildFixture(t, []fixtureDoc{
		{1, "/a.md", "config file", 10, defaultMtime()},
		{2, "/b.md", "configure build", 10, defaultMtime()},
		{3, "/c.md", "constant value", 10, defaultMtime()},
	})
	results := f.search(t, "config*", 10)
	assert.ElementsMatch(t, []uint32{1, 2}, docIDs(results))
}

func TestEvaluateFieldQueries(t *testing.T) {
	f := buildFixture(t, []fixtureDoc{
		{1, "/docs/readme.md", "hello", 6, defaultMtime()},
		{2, "/src/app.go", "hello", 100, defaultMtime()},
	})

	results := f.search(t, "ext:md", 10)
	assert.Equal(t, []uint32{1}, docIDs(results))

	results = f.search(t, "type:code", 10)
	assert.Equal(t, []uint32{2}, docIDs(results))

	results = f.search(t, `filename:"readme.md"`, 10)
	assert.Equal(t, []uint32{1}, docIDs(results))

	results = f.search(t, "path:/src", 10)
	assert.Equal(t, []uint32{2}, docIDs(results))
}

func TestEvaluateRangeQueries(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	f := buildFixture(t, []fixtureDoc{
		{1, "/a.md", "alpha", 6, base},
		{2, "/b.md", "beta", 18, base.Add(time.Hour)},
		{3, "/c.md", "gamma", 500, base.Add(48 * time.Hour)},
	})

	results := f.search(t, "size:1..20", 10)
	assert.ElementsMatch(t, []uint32{1, 2}, docIDs(results))

	results = f.search(t, `mtime:"2025-01-01T00:00:00Z".."2025-12-31T00:00:00Z"`, 10)
	assert.Len(t, results, 3)

	// Malformed literals yield an empty result, not an error.
	results = f.search(t, "size:abc..xyz", 10)
	assert.Empty(t, results)
}

func TestEvaluateAcrossSegments(t *testing.T) {
	f := buildFixture(t,
		[]fixtureDoc{{1, "/a.md", "shared alpha", 10, defaultMtime()}},
		[]fixtureDoc{{2, "/b.md", "shared beta", 10, defaultMtime()}},
	)
	results := f.search(t, "shared", 10)
	assert.ElementsMatch(t, []uint32{1, 2}, docIDs(results))
}

func TestEvaluateTombstonesExcluded(t *testing.T) {
	f := buildFixture(t, []fixtureDoc{
		{1, "/a.md", "target one", 10, defaultMtime()},
		{2, "/b.md", "target two", 10, defaultMtime()},
	})
	f.segments[0].Delete(2)

	results := f.search(t, "target", 10)
	assert.Equal(t, []uint32{1}, docIDs(results))
}

func TestEvaluateSortDirectives(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	f := buildFixture(t, []fixtureDoc{
		{1, "/a.md", "common", 300, base},
		{2, "/b.md", "common", 100, base.Add(2 * time.Hour)},
		{3, "/c.md", "common", 200, base.Add(time.Hour)},
	})

	results := f.search(t, "common sort:mtime", 10)
	assert.Equal(t, []uint32{2, 3, 1}, docIDs(results))

	results = f.search(t, "common sort:size", 10)
	assert.Equal(t, []uint32{1, 3, 2}, docIDs(results))

	// Unknown sort field falls back to score ordering (tie -> docID asc).
	results = f.search(t, "common sort:whatever", 10)
	assert.Equal(t, []uint32{1, 2, 3}, docIDs(results))
}

func TestEvaluateTopKTruncation(t *testing.T) {
	f := buildFixture(t, []fixtureDoc{
		{1, "/a.md", "common", 10, defaultMtime()},
		{2, "/b.md", "common", 10, defaultMtime()},
		{3, "/c.md", "common", 10, defaultMtime()},
	})

	parsed, err := Parse("common")
	require.NoError(t, err)

	results, total, err := f.eval.Evaluate(context.Background(), parsed, f.segments, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 3, total)

	results, _, err = f.eval.Evaluate(context.Background(), parsed, f.segments, -5)
	require.NoError(t, err)
	assert.Empty(t, results, "negative limit clamps to zero")
}

func TestEvaluateMissingTerm(t *testing.T) {
	f := buildFixture(t, []fixtureDoc{
		{1, "/a.md", "alpha", 10, defaultMtime()},
	})
	assert.Empty(t, f.search(t, "missingterm", 10))
}
