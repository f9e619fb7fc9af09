// Package lexgo is an embedded full-text search engine for local files.
//
// It incrementally ingests files from source directories, tokenizes mixed
// Latin/CJK content, maintains a persistent positional inverted index
// organized as immutable segments, and answers ranked queries written in a
// small DSL with BM25 scoring and snippet highlighting.
//
// # Quick start
//
//	engine, err := lexgo.Open("./.lexgo")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	if _, err := engine.Index(ctx, "~/notes"); err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := engine.Search(ctx, `ext:md "search engine"`, 10)
//	for _, hit := range result.Hits {
//	    fmt.Println(hit.Document.Path, hit.Score)
//	}
//
// # Durability
//
// Every mutation is logged to a write-ahead log before it is applied, and
// segment sets are published by atomically renaming a manifest file. A
// crash at any point leaves the index either at the previous committed
// state or at the new one; the WAL replay on the next Open repairs
// anything in between.
//
// # Concurrency
//
// Ingest runs a bounded producer/consumer worker pool. Queries may be
// issued concurrently from any goroutine; each pins an immutable snapshot
// of the segment set, so background merges never disturb an in-flight
// search.
package lexgo
