package lexgo

import (
	"github.com/hupe1980/lexgo/config"
	"github.com/hupe1980/lexgo/discovery"
)

type options struct {
	cfg     *config.Config
	logger  *Logger
	metrics MetricsCollector
}

// Option configures the engine constructor.
type Option func(*options)

// WithConfig supplies a full configuration. Without it the defaults from
// the config package apply.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.cfg = cfg
		}
	}
}

// WithLogger supplies the engine logger. A nil logger is ignored; without
// a logger the engine uses a text logger.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics supplies a metrics collector. A nil collector is ignored;
// without a collector the engine uses the no-op collector.
func WithMetrics(collector MetricsCollector) Option {
	return func(o *options) {
		if collector != nil {
			o.metrics = collector
		}
	}
}

// WithThreads overrides the ingest worker count, clamped to [1, 64].
func WithThreads(n int) Option {
	return func(o *options) {
		o.cfg.Indexing.Threads = n
	}
}

// WithStopWords toggles stop-word filtering at index time.
func WithStopWords(enabled bool) Option {
	return func(o *options) {
		o.cfg.Indexing.StopWords = enabled
	}
}

// WithFileNameRewrite toggles the bare "name.ext" query convenience.
func WithFileNameRewrite(enabled bool) Option {
	return func(o *options) {
		o.cfg.Search.FileNameRewrite = enabled
	}
}

// WithIncludeGlobs restricts discovery to the given doublestar patterns.
func WithIncludeGlobs(globs ...string) Option {
	return func(o *options) {
		o.cfg.Discovery.IncludeGlobs = globs
	}
}

// WithExcludeGlobs skips files matching the given doublestar patterns.
func WithExcludeGlobs(globs ...string) Option {
	return func(o *options) {
		o.cfg.Discovery.ExcludeGlobs = globs
	}
}

// walkerFromConfig builds the discovery walker the index manager uses.
func walkerFromConfig(cfg *config.Config) *discovery.Walker {
	return discovery.NewWalker(func(o *discovery.Options) {
		o.IncludeGlobs = cfg.Discovery.IncludeGlobs
		o.ExcludeGlobs = cfg.Discovery.ExcludeGlobs
		o.MaxFileSizeBytes = cfg.Discovery.MaxFileSizeBytes
		o.Gitignore = cfg.Discovery.Gitignore
		o.SkipBinary = cfg.Discovery.SkipBinary
	})
}
