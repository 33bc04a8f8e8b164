// Package count implements the probabilistic counting table used to admit
// LSH cells during a query.
package count

import (
	"sync"

	"github.com/hupe1980/flesh/internal/hash"
)

// Width is the number of 8-bit counters in a Table.
const Width = 2041

// Table is a two-hash count-min sketch over saturating 8-bit counters.
// Collisions can only inflate a count, never deflate it.
type Table struct {
	counts [Width]uint8
}

// CountNoParityCheck increments the counters of id and returns the minimum
// of the two post-increment values.
func (t *Table) CountNoParityCheck(id uint32) uint8 {
	a := hash.Mix32(id+101) % Width
	b := hash.Mix32(id+32) % Width

	bump(&t.counts[a])
	if b != a {
		bump(&t.counts[b])
	}
	return min(t.counts[a], t.counts[b])
}

func bump(c *uint8) {
	if *c < 255 {
		*c++
	}
}

// Reset zeroes every counter.
func (t *Table) Reset() {
	clear(t.counts[:])
}

var pool = sync.Pool{
	New: func() any { return new(Table) },
}

// Get returns a zeroed table from the pool.
func Get() *Table {
	return pool.Get().(*Table)
}

// Put resets t and returns it to the pool.
func Put(t *Table) {
	if t == nil {
		return
	}
	t.Reset()
	pool.Put(t)
}
