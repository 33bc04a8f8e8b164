package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/hupe1980/flesh/internal/conv"
	"github.com/hupe1980/flesh/internal/hash"
	"github.com/hupe1980/flesh/internal/shadow"
)

// Version is the current capture format version.
const Version = 1

const recordSize = 24

// MaxRecords bounds the record count of a capture: one record per body
// slot.
const MaxRecords = 1 << 23

var magic = [4]byte{'F', 'L', 'S', 'C'}

var (
	// ErrInvalidMagic is returned when data does not start with a capture magic.
	ErrInvalidMagic = errors.New("capture: invalid magic")
	// ErrUnsupportedVersion is returned for captures written by a newer format.
	ErrUnsupportedVersion = errors.New("capture: unsupported version")
	// ErrChecksum is returned when the payload does not match its checksum.
	ErrChecksum = errors.New("capture: checksum mismatch")
	// ErrCorrupt is returned for structurally invalid captures.
	ErrCorrupt = errors.New("capture: corrupt")
)

// Params are the build parameters that influence query results.
type Params struct {
	TopK               int     `msgpack:"top_k"`
	MaxReach           int32   `msgpack:"max_reach"`
	MaxSamplesPerQuery int     `msgpack:"max_samples"`
	MinCellSize        float32 `msgpack:"min_cell"`
	MaxCellSize        float32 `msgpack:"max_cell"`
	LineScale          int32   `msgpack:"line_scale"`
	Bands              int     `msgpack:"bands"`
	BandBits           uint    `msgpack:"band_bits"`
	RowsPerBand        int     `msgpack:"rows_per_band"`
	CellsPerPoint      int     `msgpack:"cells_per_point"`
	BucketCapacity     int     `msgpack:"bucket_capacity"`
	CellCapacity       int     `msgpack:"cell_capacity"`
	ProbeDistance      int     `msgpack:"probe_distance"`
}

// Header describes a capture.
type Header struct {
	Version  uint16 `msgpack:"version"`
	Epoch    uint64 `msgpack:"epoch"`
	Seed     uint64 `msgpack:"seed"`
	Records  uint32 `msgpack:"records"`
	Codec    Codec  `msgpack:"codec"`
	RawSize  uint64 `msgpack:"raw_size"`
	Checksum uint32 `msgpack:"checksum"`
	Params   Params `msgpack:"params"`
}

// Capture is a decoded capture.
type Capture struct {
	Header  Header
	Records []shadow.Record
}

// Encode writes records with h to w. Version, Records, RawSize and Checksum
// are filled in; Codec is a request and may be downgraded to CodecNone.
func Encode(w io.Writer, h Header, records []shadow.Record) error {
	n, err := conv.IntToUint32(len(records))
	if err != nil {
		return err
	}
	if n > MaxRecords {
		return fmt.Errorf("capture: %d records exceed %d", n, MaxRecords)
	}

	raw := make([]byte, len(records)*recordSize)
	for i, r := range records {
		off := i * recordSize
		for k, word := range r {
			binary.LittleEndian.PutUint32(raw[off+4*k:], word)
		}
	}

	payload, codec, err := compress(h.Codec, raw)
	if err != nil {
		return err
	}

	h.Version = Version
	h.Records = n
	h.Codec = codec
	h.RawSize = uint64(len(raw))
	h.Checksum = hash.CRC32C(raw)

	hdr, err := msgpack.Marshal(&h)
	if err != nil {
		return fmt.Errorf("capture: encode header: %w", err)
	}
	hdrLen, err := conv.IntToUint32(len(hdr))
	if err != nil {
		return err
	}

	var prefix [8]byte
	copy(prefix[:4], magic[:])
	binary.LittleEndian.PutUint32(prefix[4:], hdrLen)

	for _, part := range [][]byte{prefix[:], hdr, payload} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

// Marshal encodes a capture into a byte slice.
func Marshal(h Header, records []shadow.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, h, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a capture from r and verifies its checksum.
func Decode(r io.Reader) (*Capture, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

// Unmarshal decodes a capture and verifies its checksum.
func Unmarshal(data []byte) (*Capture, error) {
	if len(data) < 8 || !bytes.Equal(data[:4], magic[:]) {
		return nil, ErrInvalidMagic
	}
	hdrLen := uint64(binary.LittleEndian.Uint32(data[4:8]))
	if hdrLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("%w: header length %d", ErrCorrupt, hdrLen)
	}

	var h Header
	if err := msgpack.Unmarshal(data[8:8+hdrLen], &h); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorrupt, err)
	}
	if h.Version == 0 || h.Version > Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Records > MaxRecords {
		return nil, fmt.Errorf("%w: %d records exceed %d", ErrCorrupt, h.Records, MaxRecords)
	}
	if h.RawSize != uint64(h.Records)*recordSize {
		return nil, fmt.Errorf("%w: %d records in %d bytes", ErrCorrupt, h.Records, h.RawSize)
	}
	rawSize, err := conv.Uint64ToInt(h.RawSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	raw, err := decompress(h.Codec, data[8+hdrLen:], rawSize)
	if err != nil {
		return nil, err
	}
	if len(raw) != rawSize {
		return nil, fmt.Errorf("%w: payload is %d bytes, want %d", ErrCorrupt, len(raw), rawSize)
	}
	if hash.CRC32C(raw) != h.Checksum {
		return nil, ErrChecksum
	}

	records := make([]shadow.Record, h.Records)
	for i := range records {
		off := i * recordSize
		for k := range records[i] {
			records[i][k] = binary.LittleEndian.Uint32(raw[off+4*k:])
		}
	}
	return &Capture{Header: h, Records: records}, nil
}
