package flesh

import (
	"log/slog"

	"github.com/hupe1980/flesh/internal/index"
)

// IndexOptions tunes the underlying index. See WithIndexOptions.
type IndexOptions = index.Options

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector

	seed                       uint64
	topK                       int
	rebuildInterval            int
	speculativeContactDistance float32
	pointQueryRadius           float32
	maxHitsPerCast             int

	memoryLimit    int64
	rebuildWorkers int
	ioLimit        int64

	indexOptions []func(*index.Options)
}

// Option configures a BroadPhase.
type Option func(*options)

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := flesh.NewJSONLogger(slog.LevelInfo)
//	bp := flesh.New(flesh.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &flesh.BasicMetricsCollector{}
//	bp := flesh.New(flesh.WithMetricsCollector(metrics))
//	// ... step the simulation ...
//	stats := metrics.GetStats()
//	fmt.Printf("Rebuilds: %d, avg %dns\n", stats.RebuildCount, stats.RebuildAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithSeed sets the seed of every hash in the index. Two broad phases with
// the same seed and the same ordered bodies answer queries identically.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithTopK caps the candidates accepted per index probe. Default: 20.
func WithTopK(k int) Option {
	return func(o *options) {
		o.topK = k
	}
}

// WithRebuildInterval sets how many FrameSync ticks pass between rebuilds.
// Default: 1 (every frame).
func WithRebuildInterval(ticks int) Option {
	return func(o *options) {
		o.rebuildInterval = ticks
	}
}

// WithSpeculativeContactDistance sets the margin added to body bounds
// when they are snapshotted. Default: 0.1.
func WithSpeculativeContactDistance(d float32) Option {
	return func(o *options) {
		o.speculativeContactDistance = d
	}
}

// WithPointQueryRadius sets the radius CollidePoint tests with.
// Default: 1. Zero means strict containment.
func WithPointQueryRadius(r float32) Option {
	return func(o *options) {
		o.pointQueryRadius = r
	}
}

// WithMaxHitsPerCast caps the hits a single cast reports. Default: 2048.
func WithMaxHitsPerCast(n int) Option {
	return func(o *options) {
		o.maxHitsPerCast = n
	}
}

// WithMemoryLimit caps the arena memory of both generations together.
// A rebuild that would exceed it fails with ErrArenaExhausted. Zero means
// unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithRebuildWorkers sets the number of goroutines that hash records
// during a rebuild. Default: GOMAXPROCS.
func WithRebuildWorkers(n int) Option {
	return func(o *options) {
		o.rebuildWorkers = n
	}
}

// WithCaptureIOLimit caps the throughput of CaptureTo and RestoreFrom in
// bytes per second. Zero means unlimited.
func WithCaptureIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithIndexOptions tunes the index directly. The functions run after the
// other options have been applied.
//
// Example:
//
//	bp := flesh.New(flesh.WithIndexOptions(func(o *flesh.IndexOptions) {
//	    o.MaxSamplesPerQuery = 1024
//	    o.LSH.BucketCapacity = 63
//	}))
func WithIndexOptions(optFns ...func(*IndexOptions)) Option {
	return func(o *options) {
		o.indexOptions = append(o.indexOptions, optFns...)
	}
}

func applyOptions(optFns []Option) options {
	def := index.DefaultOptions()
	o := options{
		logger:                     NoopLogger(),
		metricsCollector:           NoopMetricsCollector{},
		seed:                       def.Seed,
		topK:                       def.TopK,
		rebuildInterval:            1,
		speculativeContactDistance: 0.1,
		pointQueryRadius:           1,
		maxHitsPerCast:             2048,
		rebuildWorkers:             def.Workers,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	o.rebuildInterval = max(o.rebuildInterval, 1)
	o.maxHitsPerCast = max(o.maxHitsPerCast, 1)
	if !(o.speculativeContactDistance >= 0) {
		o.speculativeContactDistance = 0
	}
	if !(o.pointQueryRadius >= 0) {
		o.pointQueryRadius = 0
	}
	return o
}
