package flesh

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/hupe1980/flesh/capturestore"
	"github.com/hupe1980/flesh/internal/capture"
	"github.com/hupe1980/flesh/internal/index"
	"github.com/hupe1980/flesh/internal/resource"
)

// CaptureCodec selects the compression of a capture payload.
type CaptureCodec = capture.Codec

const (
	CaptureUncompressed = capture.CodecNone
	CaptureLZ4          = capture.CodecLZ4
	CaptureZstd         = capture.CodecZstd
)

// CaptureOptions configures Capture.
type CaptureOptions struct {
	// Codec compresses the record payload. The zero value stores it raw.
	Codec CaptureCodec
}

// CaptureInfo describes a capture without its records.
type CaptureInfo struct {
	Epoch   uint64
	Seed    uint64
	Records int
	Codec   CaptureCodec
}

func paramsOf(o index.Options) capture.Params {
	return capture.Params{
		TopK:               o.TopK,
		MaxReach:           o.MaxReach,
		MaxSamplesPerQuery: o.MaxSamplesPerQuery,
		MinCellSize:        o.MinCellSize,
		MaxCellSize:        o.MaxCellSize,
		LineScale:          o.LineScale,
		Bands:              o.LSH.Bands,
		BandBits:           o.LSH.BandBits,
		RowsPerBand:        o.LSH.RowsPerBand,
		CellsPerPoint:      o.LSH.CellsPerPoint,
		BucketCapacity:     o.LSH.BucketCapacity,
		CellCapacity:       o.LSH.CellCapacity,
		ProbeDistance:      o.LSH.ProbeDistance,
	}
}

// Capture serialises the live generation's records and build parameters.
// Restoring the capture into a broad phase with the same options yields
// identical query results.
func (bp *BroadPhase) Capture(ctx context.Context, opts CaptureOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := bp.capture(ctx, &buf, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CaptureTo streams a capture to w, throttled by the capture IO limit.
func (bp *BroadPhase) CaptureTo(ctx context.Context, w io.Writer, opts CaptureOptions) error {
	return bp.capture(ctx, resource.NewRateLimitedWriter(ctx, w, bp.rc), opts)
}

func (bp *BroadPhase) capture(ctx context.Context, w io.Writer, opts CaptureOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g := bp.mgr.Acquire()
	defer g.Release()

	mo := bp.mgr.Options()
	h := capture.Header{
		Epoch:  g.Epoch(),
		Seed:   mo.Seed,
		Codec:  opts.Codec,
		Params: paramsOf(mo),
	}
	if err := capture.Encode(w, h, g.Records()); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	return nil
}

// Restore rebuilds the live generation from a capture. Membership is not
// touched; the next update rebuilds from the member bodies again.
func (bp *BroadPhase) Restore(ctx context.Context, data []byte) (CaptureInfo, error) {
	c, err := capture.Unmarshal(data)
	if err != nil {
		return CaptureInfo{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return bp.restore(ctx, c)
}

// RestoreFrom reads a capture from r, throttled by the capture IO limit,
// and restores it.
func (bp *BroadPhase) RestoreFrom(ctx context.Context, r io.Reader) (CaptureInfo, error) {
	c, err := capture.Decode(resource.NewRateLimitedReader(ctx, r, bp.rc))
	if err != nil {
		if ctx.Err() != nil {
			return CaptureInfo{}, err
		}
		return CaptureInfo{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return bp.restore(ctx, c)
}

func (bp *BroadPhase) restore(ctx context.Context, c *capture.Capture) (CaptureInfo, error) {
	info := CaptureInfo{
		Epoch:   c.Header.Epoch,
		Seed:    c.Header.Seed,
		Records: len(c.Records),
		Codec:   c.Header.Codec,
	}

	mo := bp.mgr.Options()
	if c.Header.Seed != mo.Seed {
		return info, fmt.Errorf("%w: seed %#x, want %#x", ErrIncompatibleCapture, c.Header.Seed, mo.Seed)
	}
	if c.Header.Params != paramsOf(mo) {
		return info, fmt.Errorf("%w: build parameters differ", ErrIncompatibleCapture)
	}

	return info, bp.rebuild(ctx, c.Records)
}

// SaveCapture captures the live generation into store under name.
func (bp *BroadPhase) SaveCapture(ctx context.Context, store capturestore.Store, name string, opts CaptureOptions) error {
	data, err := bp.Capture(ctx, opts)
	if err != nil {
		return err
	}
	return store.Put(ctx, name, data)
}

// LoadCapture restores the capture stored under name.
func (bp *BroadPhase) LoadCapture(ctx context.Context, store capturestore.Store, name string) (CaptureInfo, error) {
	data, err := store.Get(ctx, name)
	if err != nil {
		return CaptureInfo{}, err
	}
	return bp.Restore(ctx, data)
}
