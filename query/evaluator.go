package query

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/lexgo/docstore"
	"github.com/hupe1980/lexgo/scoring"
	"github.com/hupe1980/lexgo/segment"
)

// Result is one scored document.
type Result struct {
	DocID uint32
	Score float64
}

// Evaluator walks a query AST over a pinned segment set. BM25 statistics
// (N, avgDL, df) are computed once per Evaluate call over live documents
// only, so scores are stable across segments.
type Evaluator struct {
	docs *docstore.Store
	k1   float64
	b    float64
}

// NewEvaluator creates an evaluator backed by the given document store,
// scoring with the default BM25 parameters.
func NewEvaluator(docs *docstore.Store) *Evaluator {
	return NewEvaluatorWithParams(docs, scoring.K1, scoring.B)
}

// NewEvaluatorWithParams creates an evaluator with explicit BM25
// parameters.
func NewEvaluatorWithParams(docs *docstore.Store, k1, b float64) *Evaluator {
	return &Evaluator{docs: docs, k1: k1, b: b}
}

// Evaluate runs the query over every segment, union-merges the per-segment
// score maps and returns the top-K results plus the total match count.
// Segments are evaluated concurrently.
func (e *Evaluator) Evaluate(ctx context.Context, parsed *Parsed, segments []*segment.DiskSegment, limit int) ([]Result, int, error) {
	totalDocs, err := e.docs.TotalDocCount()
	if err != nil {
		return nil, 0, err
	}
	avgDL, err := e.docs.AverageDocLength()
	if err != nil {
		return nil, 0, err
	}
	scorer := scoring.NewWithParams(totalDocs, avgDL, e.k1, e.b)

	globalDF, err := buildGlobalDocFreq(segments, CollectTerms(parsed.Root))
	if err != nil {
		return nil, 0, err
	}

	merged := make(map[uint32]float64)
	var mergedMu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	for _, seg := range segments {
		g.Go(func() error {
			ev := &segmentEval{
				docs:     e.docs,
				seg:      seg,
				scorer:   scorer,
				globalDF: globalDF,
			}
			scores, err := ev.eval(parsed.Root)
			if err != nil {
				return err
			}
			mergedMu.Lock()
			for docID, score := range scores {
				merged[docID] += score
			}
			mergedMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	total := len(merged)
	results := e.rank(merged, parsed.Sort)

	if limit < 0 {
		limit = 0
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, total, nil
}

// rank orders the merged score map. The default key is descending score;
// a sort directive replaces it with descending mtime or size. Ties break
// on ascending docID.
func (e *Evaluator) rank(scores map[uint32]float64, sortDir *Sort) []Result {
	results := make([]Result, 0, len(scores))
	for docID, score := range scores {
		results = append(results, Result{DocID: docID, Score: score})
	}

	var key func(a, b Result) int
	if sortDir != nil {
		switch sortDir.Field {
		case "mtime", "size":
			meta := make(map[uint32]*docstore.Document, len(results))
			for _, r := range results {
				doc, err := e.docs.FindByID(r.DocID)
				if err == nil && doc != nil {
					meta[r.DocID] = doc
				}
			}
			field := sortDir.Field
			key = func(a, b Result) int {
				da, db := meta[a.DocID], meta[b.DocID]
				if da == nil || db == nil {
					return 0
				}
				if field == "mtime" {
					return db.Mtime.Compare(da.Mtime)
				}
				switch {
				case db.SizeBytes > da.SizeBytes:
					return 1
				case db.SizeBytes < da.SizeBytes:
					return -1
				}
				return 0
			}
		}
	}
	if key == nil {
		key = func(a, b Result) int {
			switch {
			case b.Score > a.Score:
				return 1
			case b.Score < a.Score:
				return -1
			}
			return 0
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if c := key(results[i], results[j]); c != 0 {
			return c < 0
		}
		return results[i].DocID < results[j].DocID
	})
	return results
}

// buildGlobalDocFreq counts, per term, the distinct live docIDs across all
// segments. Tombstoned documents do not contribute.
func buildGlobalDocFreq(segments []*segment.DiskSegment, terms []string) (map[string]int, error) {
	df := make(map[string]int, len(terms))
	for _, term := range terms {
		for _, seg := range segments {
			pl, err := seg.Postings(term)
			if err != nil {
				return nil, err
			}
			if pl == nil {
				continue
			}
			for _, docID := range pl.DocIDs {
				if !seg.IsDeleted(docID) {
					df[term]++
				}
			}
		}
	}
	return df, nil
}

// segmentEval evaluates one AST against one segment.
type segmentEval struct {
	docs     *docstore.Store
	seg      *segment.DiskSegment
	scorer   *scoring.BM25
	globalDF map[string]int
}

func (ev *segmentEval) eval(n Node) (map[uint32]float64, error) {
	switch v := n.(type) {
	case Term:
		return ev.evalTerm(lowerTerm(v.Term))
	case Prefix:
		return ev.evalPrefix(lowerTerm(v.Prefix))
	case Phrase:
		return ev.evalPhrase(v.Terms)
	case Bool:
		return ev.evalBool(v)
	case Not:
		return ev.evalNot(v)
	case Field:
		return ev.evalField(v)
	case Range:
		return ev.evalRange(v)
	}
	return nil, nil
}

func (ev *segmentEval) evalTerm(term string) (map[uint32]float64, error) {
	if term == "" {
		return nil, nil
	}
	pl, err := ev.seg.Postings(term)
	if err != nil {
		return nil, err
	}
	if pl == nil {
		return map[uint32]float64{}, nil
	}
	df := ev.globalDF[term]
	if df == 0 {
		df = int(ev.seg.DocFreq(term))
	}

	scores := make(map[uint32]float64, pl.Len())
	for i, docID := range pl.DocIDs {
		if ev.seg.IsDeleted(docID) {
			continue
		}
		doc, err := ev.docs.FindByID(docID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		scores[docID] = ev.scorer.Score(int(pl.TermFreqs[i]), df, int(doc.TokenCount))
	}
	return scores, nil
}

func (ev *segmentEval) evalPrefix(prefix string) (map[uint32]float64, error) {
	if prefix == "" {
		return map[uint32]float64{}, nil
	}
	scores := make(map[uint32]float64)
	for _, entry := range ev.seg.PrefixScan(prefix) {
		termScores, err := ev.evalTerm(entry.Term)
		if err != nil {
			return nil, err
		}
		for docID, s := range termScores {
			scores[docID] += s
		}
	}
	return scores, nil
}

// evalPhrase intersects the per-term candidate sets and verifies via the
// positions file that the terms occur at consecutive positions.
func (ev *segmentEval) evalPhrase(terms []string) (map[uint32]float64, error) {
	if len(terms) == 0 {
		return map[uint32]float64{}, nil
	}

	normalized := make([]string, 0, len(terms))
	for _, t := range terms {
		if lt := lowerTerm(t); lt != "" {
			normalized = append(normalized, lt)
		}
	}
	if len(normalized) == 0 {
		return map[uint32]float64{}, nil
	}

	perTerm := make([]map[uint32]float64, len(normalized))
	for i, term := range normalized {
		scores, err := ev.evalTerm(term)
		if err != nil {
			return nil, err
		}
		if len(scores) == 0 {
			return map[uint32]float64{}, nil
		}
		perTerm[i] = scores
	}

	// Candidates: docs containing every term.
	candidates := make([]uint32, 0, len(perTerm[0]))
	for docID := range perTerm[0] {
		inAll := true
		for _, scores := range perTerm[1:] {
			if _, ok := scores[docID]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			candidates = append(candidates, docID)
		}
	}

	result := make(map[uint32]float64)
	for _, docID := range candidates {
		ok, err := ev.phraseMatches(normalized, docID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		score := 0.0
		for _, scores := range perTerm {
			score += scores[docID]
		}
		result[docID] = score
	}
	return result, nil
}

// phraseMatches verifies that a chain p, p+1, p+2, ... exists across the
// terms' position lists for docID.
func (ev *segmentEval) phraseMatches(terms []string, docID uint32) (bool, error) {
	expected := make(map[uint32]struct{})

	first, err := ev.seg.PositionsForDoc(terms[0], docID)
	if err != nil {
		return false, err
	}
	if len(first) == 0 {
		return false, nil
	}
	for _, p := range first {
		expected[p+1] = struct{}{}
	}

	for _, term := range terms[1:] {
		positions, err := ev.seg.PositionsForDoc(term, docID)
		if err != nil {
			return false, err
		}
		if len(positions) == 0 {
			return false, nil
		}
		next := make(map[uint32]struct{})
		for _, p := range positions {
			if _, ok := expected[p]; ok {
				next[p+1] = struct{}{}
			}
		}
		if len(next) == 0 {
			return false, nil
		}
		expected = next
	}
	return true, nil
}

func (ev *segmentEval) evalBool(b Bool) (map[uint32]float64, error) {
	left, err := ev.eval(b.Left)
	if err != nil {
		return nil, err
	}
	right, err := ev.eval(b.Right)
	if err != nil {
		return nil, err
	}
	if b.Op == OpAnd {
		result := make(map[uint32]float64)
		for docID, ls := range left {
			if rs, ok := right[docID]; ok {
				result[docID] = ls + rs
			}
		}
		return result, nil
	}
	result := make(map[uint32]float64, len(left)+len(right))
	for docID, s := range left {
		result[docID] = s
	}
	for docID, s := range right {
		result[docID] += s
	}
	return result, nil
}

func (ev *segmentEval) evalNot(n Not) (map[uint32]float64, error) {
	child, err := ev.eval(n.Child)
	if err != nil {
		return nil, err
	}
	live, err := ev.seg.LiveDocIDs()
	if err != nil {
		return nil, err
	}
	result := make(map[uint32]float64)
	it := live.Iterator()
	for it.HasNext() {
		docID := it.Next()
		if _, matched := child[docID]; !matched {
			result[docID] = 0
		}
	}
	return result, nil
}

func (ev *segmentEval) evalField(f Field) (map[uint32]float64, error) {
	var candidates []uint32
	var err error
	switch f.Field {
	case "path":
		candidates, err = ev.docs.FindDocIDsByPathPrefix(f.Value)
	case "ext":
		candidates, err = ev.docs.FindDocIDsByExtension(f.Value)
	case "filename", "name":
		candidates, err = ev.docs.FindDocIDsByFileName(f.Value)
	case "type":
		docType, ok := docstore.ParseDocType(f.Value)
		if !ok {
			return map[uint32]float64{}, nil
		}
		candidates, err = ev.docs.FindDocIDsByType(docType)
	default:
		return map[uint32]float64{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ev.restrictToSegment(candidates)
}

// evalRange filters on size or mtime. Malformed literals yield an empty
// result set, not an error.
func (ev *segmentEval) evalRange(r Range) (map[uint32]float64, error) {
	var candidates []uint32
	switch r.Field {
	case "size":
		min, err1 := strconv.ParseInt(r.From, 10, 64)
		max, err2 := strconv.ParseInt(r.To, 10, 64)
		if err1 != nil || err2 != nil {
			return map[uint32]float64{}, nil
		}
		var err error
		candidates, err = ev.docs.FindDocIDsBySizeRange(min, max)
		if err != nil {
			return nil, err
		}
	case "mtime":
		from, err1 := time.Parse(time.RFC3339, r.From)
		to, err2 := time.Parse(time.RFC3339, r.To)
		if err1 != nil || err2 != nil {
			return map[uint32]float64{}, nil
		}
		var err error
		candidates, err = ev.docs.FindDocIDsByMtimeRange(from, to)
		if err != nil {
			return nil, err
		}
	default:
		return map[uint32]float64{}, nil
	}
	return ev.restrictToSegment(candidates)
}

// restrictToSegment keeps only candidates present and live in this
// segment, with a constant score of 1.
func (ev *segmentEval) restrictToSegment(candidates []uint32) (map[uint32]float64, error) {
	all, err := ev.seg.AllDocIDs()
	if err != nil {
		return nil, err
	}
	result := make(map[uint32]float64)
	for _, docID := range candidates {
		if all.Contains(docID) && !ev.seg.IsDeleted(docID) {
			result[docID] = 1.0
		}
	}
	return result, nil
}
