package embeddb

import (
	"github.com/hupe1980/embeddb/codec"
	"github.com/hupe1980/embeddb/engine"
	"github.com/hupe1980/embeddb/resource"
)

type options struct {
	store               engine.Store
	logger              *Logger
	metrics             MetricsCollector
	embedder            Embedder
	chat                ChatClient
	controller          *resource.Controller
	snapshotCodec       codec.Codec
	snapshotCompression engine.CompressionType
	embedBatchSize      int

	// HNSW knobs, ignored by the flat index.
	m              int
	efConstruction int
	efSearch       int
	exactThreshold int
}

// Option configures DB constructor behavior.
type Option func(*options)

// WithStore configures the record store. Defaults to an in-memory map
// store.
func WithStore(s engine.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithLogger configures structured logging. Pass nil to disable.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithEmbedder configures the embedder used by text operations.
func WithEmbedder(e Embedder) Option {
	return func(o *options) {
		o.embedder = e
	}
}

// WithChatClient configures the chat client used by Ask.
func WithChatClient(c ChatClient) Option {
	return func(o *options) {
		o.chat = c
	}
}

// WithResourceController bounds concurrent and per-second embedding calls.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.controller = rc
	}
}

// WithSnapshotCodec configures the codec used for snapshot bodies.
// If nil is passed, codec.Default is used.
func WithSnapshotCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.snapshotCodec = c
	}
}

// WithSnapshotCompression configures snapshot body compression.
func WithSnapshotCompression(ct engine.CompressionType) Option {
	return func(o *options) {
		o.snapshotCompression = ct
	}
}

// WithEmbedBatchSize sets how many texts go into one embedder call during
// AddTexts. Defaults to 32.
func WithEmbedBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.embedBatchSize = n
		}
	}
}

// WithHNSWM sets the maximum connections per node and layer.
func WithHNSWM(m int) Option {
	return func(o *options) {
		o.m = m
	}
}

// WithHNSWEF sets the candidate list size during construction.
func WithHNSWEF(ef int) Option {
	return func(o *options) {
		o.efConstruction = ef
	}
}

// WithEFSearch sets the default candidate list size for searches.
func WithEFSearch(ef int) Option {
	return func(o *options) {
		o.efSearch = ef
	}
}

// WithExactThreshold sets the live count at or below which searches run an
// exact scan instead of the graph. Negative disables the fallback.
func WithExactThreshold(n int) Option {
	return func(o *options) {
		o.exactThreshold = n
	}
}

func applyOptions(optFns ...Option) options {
	opts := options{
		store:               engine.NewMapStore(),
		logger:              NoopLogger(),
		metrics:             NoopMetricsCollector{},
		snapshotCodec:       codec.Default,
		snapshotCompression: engine.CompressionZSTD,
		embedBatchSize:      32,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return opts
}
