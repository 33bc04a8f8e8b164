package lsh

// Containers are flat runs of uint32 words, one slot of stride words per
// container. Word 0 of a slot is the header, the rest holds values.

const (
	countMask  = 0xffff
	cycleShift = 16
	maxCycle   = 0xffff
)

// probeTable is a set of bounded lists. When a list is full, the value
// spills into one of the next distance lists; if that one is full too,
// the value is dropped. The header counts values (low 16 bits) and spills
// (high 16 bits).
type probeTable struct {
	words    []uint32
	stride   uint32
	capacity uint32
	total    uint32
	distance uint32

	entries uint64
	spills  uint64
	drops   uint64
}

func newProbeTable(words []uint32, total, capacity, distance uint32) probeTable {
	return probeTable{
		words:    words,
		stride:   capacity + 1,
		capacity: capacity,
		total:    total,
		distance: max(distance, 1),
	}
}

func (t *probeTable) append(id, v uint32) bool {
	base := id * t.stride
	n := t.words[base] & countMask
	if n >= t.capacity {
		return false
	}
	t.words[base+1+n] = v
	t.words[base]++
	t.entries++
	return true
}

func (t *probeTable) push(id, v uint32) {
	if t.append(id, v) {
		return
	}

	base := id * t.stride
	spill := t.words[base] >> cycleShift
	if spill < maxCycle {
		t.words[base] += 1 << cycleShift
	}
	t.spills++

	alt := (id + 1 + spill%t.distance) % t.total
	if !t.append(alt, v) {
		t.drops++
	}
}

func (t *probeTable) values(id uint32) []uint32 {
	base := id * t.stride
	n := t.words[base] & countMask
	return t.words[base+1 : base+1+n]
}

// scan visits the list of id and then every probe list it has spilled to.
// It stops when fn returns false.
func (t *probeTable) scan(id uint32, fn func(v uint32) bool) bool {
	for _, v := range t.values(id) {
		if !fn(v) {
			return false
		}
	}
	probes := min(t.words[id*t.stride]>>cycleShift, t.distance)
	for j := range probes {
		for _, v := range t.values((id + 1 + j) % t.total) {
			if !fn(v) {
				return false
			}
		}
	}
	return true
}

// ringTable is a set of bounded lists that wrap. A push into a full list
// drops the value and rewinds the cursor, so later pushes overwrite the
// oldest values. The header holds the cursor (low 16 bits) and the number
// of wraps (high 16 bits).
type ringTable struct {
	words    []uint32
	stride   uint32
	capacity uint32

	drops uint64
}

func newRingTable(words []uint32, capacity uint32) ringTable {
	return ringTable{
		words:    words,
		stride:   capacity + 1,
		capacity: capacity,
	}
}

func (t *ringTable) push(id, v uint32) {
	base := id * t.stride
	h := t.words[base]
	n, cycle := h&countMask, h>>cycleShift

	if n >= t.capacity {
		if cycle < maxCycle {
			cycle++
		}
		t.words[base] = cycle << cycleShift
		t.drops++
		return
	}
	if cycle > 0 {
		t.drops++ // overwrites the oldest value
	}
	t.words[base+1+n] = v
	t.words[base] = cycle<<cycleShift | (n + 1)
}

func (t *ringTable) values(id uint32) []uint32 {
	base := id * t.stride
	h := t.words[base]
	n := h & countMask
	if h>>cycleShift > 0 {
		n = t.capacity
	}
	return t.words[base+1 : base+1+n]
}
