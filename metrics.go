package flesh

import (
	"sync/atomic"
	"time"
)

// QueryKind names a query for metrics.
type QueryKind uint8

const (
	QueryCastRay QueryKind = iota
	QueryCastAABox
	QueryCollideAABox
	QueryCollideSphere
	QueryCollidePoint
	QueryCollideOrientedBox
	numQueryKinds
)

var queryNames = [numQueryKinds]string{
	"CastRay",
	"CastAABox",
	"CollideAABox",
	"CollideSphere",
	"CollidePoint",
	"CollideOrientedBox",
}

func (k QueryKind) String() string {
	if k < numQueryKinds {
		return queryNames[k]
	}
	return "unknown"
}

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    rebuildHistogram prometheus.Histogram
//	    queryCounter     *prometheus.CounterVec
//	}
//
//	func (p *PrometheusCollector) RecordQuery(kind flesh.QueryKind, candidates, hits int, d time.Duration) {
//	    p.queryCounter.WithLabelValues(kind.String()).Inc()
//	}
type MetricsCollector interface {
	// RecordRebuild is called after each rebuild attempt.
	// records is the number of shadow records, err is nil if the new
	// generation went live.
	RecordRebuild(records int, duration time.Duration, err error)

	// RecordQuery is called after each query. candidates is the number of
	// records the index proposed, hits the number reported to the collector.
	RecordQuery(kind QueryKind, candidates, hits int, duration time.Duration)

	// RecordPairs is called after each FindCollidingPairs call.
	RecordPairs(active, pairs int, duration time.Duration)

	// RecordOverflow is called after a rebuild whose containers dropped entries.
	RecordOverflow(bucketDrops, cellDrops uint64)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordRebuild(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordQuery(QueryKind, int, int, time.Duration) {}
func (NoopMetricsCollector) RecordPairs(int, int, time.Duration)            {}
func (NoopMetricsCollector) RecordOverflow(uint64, uint64)                  {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	RebuildCount      atomic.Int64
	RebuildErrors     atomic.Int64
	RebuildTotalNanos atomic.Int64
	QueryCount        atomic.Int64
	QueryCandidates   atomic.Int64
	QueryHits         atomic.Int64
	QueryTotalNanos   atomic.Int64
	PairCalls         atomic.Int64
	PairCount         atomic.Int64
	BucketDrops       atomic.Uint64
	CellDrops         atomic.Uint64

	perKind [numQueryKinds]atomic.Int64
}

// RecordRebuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRebuild(_ int, duration time.Duration, err error) {
	b.RebuildCount.Add(1)
	b.RebuildTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RebuildErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(kind QueryKind, candidates, hits int, duration time.Duration) {
	b.QueryCount.Add(1)
	b.QueryCandidates.Add(int64(candidates))
	b.QueryHits.Add(int64(hits))
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if kind < numQueryKinds {
		b.perKind[kind].Add(1)
	}
}

// RecordPairs implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPairs(_ int, pairs int, _ time.Duration) {
	b.PairCalls.Add(1)
	b.PairCount.Add(int64(pairs))
}

// RecordOverflow implements MetricsCollector.
func (b *BasicMetricsCollector) RecordOverflow(bucketDrops, cellDrops uint64) {
	b.BucketDrops.Add(bucketDrops)
	b.CellDrops.Add(cellDrops)
}

// Queries returns the number of queries of one kind.
func (b *BasicMetricsCollector) Queries(kind QueryKind) int64 {
	if kind >= numQueryKinds {
		return 0
	}
	return b.perKind[kind].Load()
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		RebuildCount:    b.RebuildCount.Load(),
		RebuildErrors:   b.RebuildErrors.Load(),
		RebuildAvgNanos: avg(b.RebuildTotalNanos.Load(), b.RebuildCount.Load()),
		QueryCount:      b.QueryCount.Load(),
		QueryCandidates: b.QueryCandidates.Load(),
		QueryHits:       b.QueryHits.Load(),
		QueryAvgNanos:   avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		PairCalls:       b.PairCalls.Load(),
		PairCount:       b.PairCount.Load(),
		BucketDrops:     b.BucketDrops.Load(),
		CellDrops:       b.CellDrops.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	RebuildCount    int64
	RebuildErrors   int64
	RebuildAvgNanos int64
	QueryCount      int64
	QueryCandidates int64
	QueryHits       int64
	QueryAvgNanos   int64
	PairCalls       int64
	PairCount       int64
	BucketDrops     uint64
	CellDrops       uint64
}
