package flesh

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/chewxy/math32"
)

// Collector receives query hits.
type Collector[T any] interface {
	// AddHit reports one confirmed hit.
	AddHit(hit T)
	// ShouldEarlyOut stops the query when it returns true.
	ShouldEarlyOut() bool
}

// FractionLimiter is implemented by cast collectors that only want hits
// closer than a fraction. Hits at or beyond EarlyOutFraction are skipped.
type FractionLimiter interface {
	EarlyOutFraction() float32
}

// CastResult is a cast hit: the body and the entry fraction along the cast.
type CastResult struct {
	BodyID   BodyID
	Fraction float32
}

// BodyPair is an overlapping pair reported by FindCollidingPairs.
type BodyPair struct {
	A, B BodyID
}

type (
	// RayCastBodyCollector receives ray cast hits.
	RayCastBodyCollector = Collector[CastResult]
	// CastShapeBodyCollector receives shape cast hits.
	CastShapeBodyCollector = Collector[CastResult]
	// CollideShapeBodyCollector receives overlap hits.
	CollideShapeBodyCollector = Collector[BodyID]
	// BodyPairCollector receives pairs.
	BodyPairCollector = Collector[BodyPair]
)

// AllHitsCollector keeps every hit in report order.
type AllHitsCollector[T any] struct {
	Hits []T
}

func (c *AllHitsCollector[T]) AddHit(hit T)         { c.Hits = append(c.Hits, hit) }
func (c *AllHitsCollector[T]) ShouldEarlyOut() bool { return false }

// Reset drops the collected hits and keeps the buffer.
func (c *AllHitsCollector[T]) Reset() { c.Hits = c.Hits[:0] }

// AnyHitCollector stops at the first hit.
type AnyHitCollector[T any] struct {
	Hit    T
	HadHit bool
}

func (c *AnyHitCollector[T]) AddHit(hit T) {
	if !c.HadHit {
		c.Hit = hit
		c.HadHit = true
	}
}

func (c *AnyHitCollector[T]) ShouldEarlyOut() bool { return c.HadHit }

// ClosestHitCollector keeps the cast hit with the smallest fraction. Later
// candidates beyond the current best are skipped through EarlyOutFraction.
type ClosestHitCollector struct {
	Hit    CastResult
	HadHit bool
}

func (c *ClosestHitCollector) AddHit(hit CastResult) {
	if !c.HadHit || hit.Fraction < c.Hit.Fraction {
		c.Hit = hit
		c.HadHit = true
	}
}

func (c *ClosestHitCollector) ShouldEarlyOut() bool { return c.HadHit && c.Hit.Fraction == 0 }

// EarlyOutFraction implements FractionLimiter.
func (c *ClosestHitCollector) EarlyOutFraction() float32 {
	if !c.HadHit {
		return math32.MaxFloat32
	}
	return c.Hit.Fraction
}

// PairCollector is a set of ordered pairs. Pairs are kept as A<<32|B keys
// in a 64-bit roaring bitmap, which sorts and deduplicates them.
type PairCollector struct {
	set *roaring64.Bitmap
}

// NewPairCollector creates an empty pair set.
func NewPairCollector() *PairCollector {
	return &PairCollector{set: roaring64.New()}
}

func pairKey(p BodyPair) uint64 { return uint64(p.A)<<32 | uint64(p.B) }

func (c *PairCollector) AddHit(p BodyPair)    { c.set.Add(pairKey(p)) }
func (c *PairCollector) ShouldEarlyOut() bool { return false }

// Len returns the number of distinct pairs.
func (c *PairCollector) Len() int { return int(c.set.GetCardinality()) }

// Contains reports whether the ordered pair was collected.
func (c *PairCollector) Contains(p BodyPair) bool { return c.set.Contains(pairKey(p)) }

// Pairs returns the pairs sorted by A, then B.
func (c *PairCollector) Pairs() []BodyPair {
	out := make([]BodyPair, 0, c.set.GetCardinality())
	it := c.set.Iterator()
	for it.HasNext() {
		k := it.Next()
		out = append(out, BodyPair{A: BodyID(k >> 32), B: BodyID(uint32(k))})
	}
	return out
}

// Reset empties the set.
func (c *PairCollector) Reset() { c.set.Clear() }
