package hash

// Mix32 is the 32-bit MurmurHash3 finalizer.
func Mix32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x85ebca6b
	x ^= x >> 13
	x *= 0xc2b2ae35
	x ^= x >> 16
	return x
}

// Mix64 is the 64-bit MurmurHash3 finalizer.
func Mix64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// Seeded64 mixes x under seed. Different seeds give independent functions.
func Seeded64(x, seed uint64) uint64 {
	return Mix64(x ^ Mix64(seed+0x9e3779b97f4a7c15))
}

// Reduce maps a 32-bit hash onto [0, n) without a division.
func Reduce(h, n uint32) uint32 {
	return uint32((uint64(h) * uint64(n)) >> 32)
}
