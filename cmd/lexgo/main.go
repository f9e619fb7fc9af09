// Command lexgo is the command-line front-end of the search engine.
//
//	lexgo index <path...>     index directories or files
//	lexgo search "<query>"    run a query
//	lexgo rebuild <path...>   re-sync the index with the filesystem
//	lexgo status              print index statistics
//
// Global options: --index-dir, --threads, --config.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hupe1980/lexgo"
	"github.com/hupe1980/lexgo/config"
	"github.com/hupe1980/lexgo/highlight"
	"github.com/hupe1980/lexgo/index"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "lexgo:", err)
		os.Exit(1)
	}
}

func run() error {
	globals := flag.NewFlagSet("lexgo", flag.ExitOnError)
	indexDir := globals.String("index-dir", "", "index directory (default .lexgo)")
	threads := globals.Int("threads", 0, "ingest worker count (1-64, default = CPUs)")
	configPath := globals.String("config", "", "path to a YAML config file")
	globals.Usage = usage

	if len(os.Args) < 2 {
		usage()
		return fmt.Errorf("missing command")
	}
	command := os.Args[1]
	if err := globals.Parse(os.Args[2:]); err != nil {
		return err
	}
	args := globals.Args()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *indexDir != "" {
		cfg.IndexDir = *indexDir
	}
	if *threads != 0 {
		cfg.Indexing.Threads = clamp(*threads, 1, 64)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "index":
		return runIndex(ctx, cfg, args, false)
	case "rebuild":
		return runIndex(ctx, cfg, args, true)
	case "search":
		return runSearch(ctx, cfg, args)
	case "status":
		return runStatus(cfg)
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runIndex(ctx context.Context, cfg *config.Config, paths []string, incremental bool) error {
	if len(paths) == 0 {
		return fmt.Errorf("index: at least one path is required")
	}
	engine, err := lexgo.Open(cfg.IndexDir, lexgo.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer engine.Close()

	var stats index.IngestStats
	if incremental {
		stats, err = engine.Update(ctx, paths...)
	} else {
		stats, err = engine.Index(ctx, paths...)
	}
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d added, %d updated, %d deleted in %s\n",
		stats.Added, stats.Updated, stats.Deleted, stats.Elapsed)
	return nil
}

func runSearch(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	limit := fs.Int("limit", 10, "maximum number of results (0-1000)")
	format := fs.String("format", "text", "output format: text or json")
	// Flags may follow the query, so parsing resumes after each positional
	// argument.
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return err
		}
		args = fs.Args()
		if len(args) == 0 {
			break
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
	if len(positional) != 1 {
		return fmt.Errorf("search: exactly one query string is required")
	}
	q := positional[0]
	if len(q) > 2048 {
		return fmt.Errorf("search: query exceeds 2048 bytes")
	}

	engine, err := lexgo.Open(cfg.IndexDir, lexgo.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.Search(ctx, q, clamp(*limit, 0, 1000))
	if err != nil {
		if pe, ok := lexgo.IsParseError(err); ok {
			fmt.Fprintln(os.Stderr, pe.Caret())
		}
		return err
	}

	switch *format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	default:
		printText(result)
		return nil
	}
}

func printText(result *lexgo.SearchResult) {
	fmt.Printf("%d matches (%s)\n", result.TotalMatches, result.Elapsed)
	for i, hit := range result.Hits {
		fmt.Printf("%2d. %s  (score %.4f)\n", i+1, hit.Document.Path, hit.Score)
		for _, snippet := range hit.Snippets {
			fmt.Printf("    L%d: %s\n", snippet.Line, highlight.ANSI(snippet))
		}
	}
}

func runStatus(cfg *config.Config) error {
	engine, err := lexgo.Open(cfg.IndexDir, lexgo.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer engine.Close()

	stats, err := engine.Status()
	if err != nil {
		return err
	}
	fmt.Printf("documents: %d\nsegments:  %d\nsize:      %d bytes\n",
		stats.DocCount, stats.SegmentCount, stats.IndexBytes)
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: lexgo <command> [options] [args]

commands:
  index <path...>     index directories or files
  rebuild <path...>   re-sync the index with the filesystem
  search "<query>"    run a query (--limit N, --format text|json)
  status              print index statistics

global options:
  --index-dir DIR     index directory (default .lexgo)
  --threads N         ingest worker count (1-64)
  --config FILE       YAML configuration file
`)
}
