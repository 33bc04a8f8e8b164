// Package capture serialises the shadow records of a generation together
// with the parameters needed to rebuild an identical index.
//
// Layout:
//
//	magic    [4]byte "FLSC"
//	hdrLen   uint32 little endian
//	header   msgpack-encoded Header
//	payload  records (24 bytes each, little endian), compressed per Header.Codec
//
// Header.Checksum is the CRC32C of the uncompressed payload.
package capture
