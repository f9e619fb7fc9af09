package lexgo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/lexgo/config"
	"github.com/hupe1980/lexgo/docstore"
	"github.com/hupe1980/lexgo/highlight"
	"github.com/hupe1980/lexgo/index"
	"github.com/hupe1980/lexgo/internal/fs"
	"github.com/hupe1980/lexgo/query"
)

// Engine is the top-level handle: it owns the document store and the index
// manager and exposes indexing, search and status.
type Engine struct {
	cfg      *config.Config
	logger   *Logger
	metrics  MetricsCollector
	docs     *docstore.Store
	manager  *index.Manager
	eval     *query.Evaluator
	snippets *highlight.Generator
	closed   atomic.Bool
}

// SearchHit is one ranked result with its metadata and snippets.
type SearchHit struct {
	Document docstore.Document   `json:"document"`
	Score    float64             `json:"score"`
	Snippets []highlight.Snippet `json:"snippets,omitempty"`
}

// SearchResult is the outcome of one query.
type SearchResult struct {
	Hits         []SearchHit   `json:"hits"`
	TotalMatches int           `json:"totalMatches"`
	Elapsed      time.Duration `json:"elapsed"`
	Query        string        `json:"query"`
}

// Open opens (or creates) the index at indexDir.
func Open(indexDir string, optFns ...Option) (*Engine, error) {
	opts := options{
		cfg:     config.Default(),
		metrics: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if indexDir != "" {
		opts.cfg.IndexDir = indexDir
	}
	if opts.logger == nil {
		opts.logger = NewTextLogger(ParseLevel(opts.cfg.Logging.Level))
	}
	cfg := opts.cfg

	if err := os.MkdirAll(cfg.IndexDir, 0o755); err != nil {
		return nil, fmt.Errorf("lexgo: creating index directory: %w", err)
	}

	docs, err := docstore.Open(filepath.Join(cfg.IndexDir, "documents.db"))
	if err != nil {
		return nil, err
	}

	manager, err := index.Open(fs.Default, cfg.IndexDir, docs, func(o *index.Options) {
		o.Threads = cfg.Indexing.Threads
		o.StopWords = cfg.Indexing.StopWords
		o.MergeRate = cfg.Indexing.MergeRate
		o.Walker = walkerFromConfig(cfg)
		o.Logger = opts.logger.Logger
		o.Metrics = opts.metrics
	})
	if err != nil {
		docs.Close()
		return nil, err
	}

	return &Engine{
		cfg:      cfg,
		logger:   opts.logger.WithComponent("engine"),
		metrics:  opts.metrics,
		docs:     docs,
		manager:  manager,
		eval:     query.NewEvaluatorWithParams(docs, cfg.Scoring.K1, cfg.Scoring.B),
		snippets: highlight.NewGeneratorWith(cfg.Search.SnippetContextChars, cfg.Search.MaxSnippets),
	}, nil
}

// Index walks the given paths and indexes every admitted file.
func (e *Engine) Index(ctx context.Context, paths ...string) (index.IngestStats, error) {
	if e.closed.Load() {
		return index.IngestStats{}, ErrClosed
	}
	if len(paths) == 0 {
		return index.IngestStats{}, validationErrf("no paths given")
	}
	stats, err := e.manager.IndexPaths(ctx, paths)
	e.logger.LogIngest(ctx, stats.Added, stats.Updated, stats.Deleted, stats.Elapsed, err)
	return stats, err
}

// Update diffs the given paths against the index: additions, changes and
// removals are applied incrementally.
func (e *Engine) Update(ctx context.Context, paths ...string) (index.IngestStats, error) {
	if e.closed.Load() {
		return index.IngestStats{}, ErrClosed
	}
	if len(paths) == 0 {
		return index.IngestStats{}, validationErrf("no paths given")
	}
	stats, err := e.manager.IncrementalUpdate(ctx, paths)
	e.logger.LogIngest(ctx, stats.Added, stats.Updated, stats.Deleted, stats.Elapsed, err)
	return stats, err
}

// Rebuild re-syncs the index with the paths without clearing it first:
// new files are added, changed files are re-indexed and documents whose
// files are gone are deleted. It is the same operation as Update.
func (e *Engine) Rebuild(ctx context.Context, paths ...string) (index.IngestStats, error) {
	return e.Update(ctx, paths...)
}

// Search parses and evaluates a query against a snapshot of the active
// segment set and decorates the top hits with snippets.
func (e *Engine) Search(ctx context.Context, q string, limit int) (*SearchResult, error) {
	start := time.Now()
	result, err := e.search(ctx, q, limit)
	elapsed := time.Since(start)

	hits := 0
	if result != nil {
		hits = len(result.Hits)
		result.Elapsed = elapsed
	}
	e.metrics.RecordSearch(elapsed, hits, err)
	e.logger.LogSearch(ctx, q, hits, elapsed, err)
	return result, err
}

func (e *Engine) search(ctx context.Context, q string, limit int) (*SearchResult, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if len(q) > e.cfg.Search.MaxQueryBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrQueryTooLong, len(q), e.cfg.Search.MaxQueryBytes)
	}
	if limit <= 0 {
		limit = e.cfg.Search.DefaultLimit
	}
	if limit > e.cfg.Search.MaxLimit {
		limit = e.cfg.Search.MaxLimit
	}

	normalized := q
	if e.cfg.Search.FileNameRewrite {
		normalized = query.NormalizeFileName(q)
	}
	parsed, err := query.Parse(normalized)
	if err != nil {
		return nil, err
	}

	snap := e.manager.Snapshot()
	defer snap.Close()

	results, total, err := e.eval.Evaluate(ctx, parsed, snap.Segments(), limit)
	if err != nil {
		return nil, err
	}

	queryTerms := query.CollectTerms(parsed.Root)
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		doc, err := e.docs.FindByID(r.DocID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		hit := SearchHit{Document: *doc, Score: r.Score}
		if content := readContentQuietly(doc.Path); content != "" {
			hit.Snippets = e.snippets.Generate(content, queryTerms, nil)
		}
		hits = append(hits, hit)
	}

	return &SearchResult{
		Hits:         hits,
		TotalMatches: total,
		Query:        q,
	}, nil
}

// Status reports document count, segment count and index size on disk.
func (e *Engine) Status() (index.Stats, error) {
	if e.closed.Load() {
		return index.Stats{}, ErrClosed
	}
	return e.manager.Status()
}

// Close releases the index manager and the document store. The engine
// must not be used afterwards.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := e.manager.Close(); err != nil {
		e.docs.Close()
		return err
	}
	return e.docs.Close()
}

// readContentQuietly loads a document body for snippet synthesis. Files
// that have vanished since indexing simply produce no snippets.
func readContentQuietly(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), "�")
}
