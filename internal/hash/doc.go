// Package hash provides the integer mixers behind every hash in the index and
// the CRC32-Castagnoli checksum used by captures.
//
// # Mixers
//
// Mix32 and Mix64 are the MurmurHash3 finalizers. They are bijective, branch
// free and fully avalanching, which is all the index needs: voxel keys, cell
// slots and counting-table positions are derived from them, and every result
// depends only on the input and the seed.
//
//	cell := hash.Mix32(hash.Mix32(row+seed)+hash.Mix32(order+seed)) % cellsPerRow
//
// # CRC32-Castagnoli (CRC32C)
//
// Capture payloads carry a CRC32C checksum. Go's crc32 package uses the
// SSE4.2 and ARM CRC instructions when they are available.
//
//	sum := hash.CRC32C(payload)
package hash
