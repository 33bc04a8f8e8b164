package flesh

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/time/rate"

	"github.com/hupe1980/flesh/internal/geom"
	"github.com/hupe1980/flesh/internal/index"
	"github.com/hupe1980/flesh/internal/resource"
	"github.com/hupe1980/flesh/internal/shadow"
)

// BroadPhase is the FLESH approximate broad phase.
//
// Queries are safe for concurrent use and never block on rebuilds: each
// query pins the live generation for its duration. Lifecycle calls
// (UpdatePrepare, UpdateFinalize, Update, FrameSync, Optimize) are meant
// to be driven by a single stepping goroutine.
type BroadPhase struct {
	opts    options
	logger  *Logger
	metrics MetricsCollector
	rc      *resource.Controller
	mgr     *index.Manager

	collab atomic.Pointer[collaborators]

	// modMu is held exclusively by LockModifications and shared by body
	// add, remove and notify calls.
	modMu sync.RWMutex

	setMu    sync.Mutex
	members  *roaring.Bitmap
	staged   *roaring.Bitmap
	dirty    *roaring.Bitmap
	removed  *roaring.Bitmap
	removals uint64
	pending  bool
	ticks    int
	back     []shadow.Record
	inflight int

	updateMu sync.Mutex

	invalidLog  rate.Sometimes
	overflowLog rate.Sometimes
	denseLog    rate.Sometimes
}

type collaborators struct {
	bodies BodyManager
	layers BroadPhaseLayerInterface
}

// New creates a broad phase with an empty live generation. Call Init
// before the first update.
func New(optFns ...Option) *BroadPhase {
	o := applyOptions(optFns)

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:     o.memoryLimit,
		MaxBackgroundWorkers: 1,
		IOLimitBytesPerSec:   o.ioLimit,
	})

	mgr := index.New(func(io *index.Options) {
		io.Seed = o.seed
		io.TopK = o.topK
		io.Workers = o.rebuildWorkers
		io.MemoryAcquirer = rc
		io.Slots = rc
		for _, fn := range o.indexOptions {
			fn(io)
		}
	})

	return &BroadPhase{
		opts:        o,
		logger:      o.logger,
		metrics:     o.metricsCollector,
		rc:          rc,
		mgr:         mgr,
		members:     roaring.New(),
		staged:      roaring.New(),
		dirty:       roaring.New(),
		removed:     roaring.New(),
		invalidLog:  rate.Sometimes{First: 1, Interval: time.Second},
		overflowLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
		denseLog:    rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Init binds the body enumeration and the layer mapping. A nil layer
// interface maps object layers to broad-phase layers one to one.
func (bp *BroadPhase) Init(bodies BodyManager, layers BroadPhaseLayerInterface) error {
	if bodies == nil {
		return invalidArgument("Init", "nil body manager")
	}
	if layers == nil {
		layers = IdentityLayers
	}
	bp.collab.Store(&collaborators{bodies: bodies, layers: layers})
	return nil
}

func (bp *BroadPhase) layers() BroadPhaseLayerInterface {
	if c := bp.collab.Load(); c != nil {
		return c.layers
	}
	return IdentityLayers
}

// LockModifications blocks body add, remove and notify calls until
// UnlockModifications. Queries never take this lock.
func (bp *BroadPhase) LockModifications() { bp.modMu.Lock() }

// UnlockModifications releases LockModifications.
func (bp *BroadPhase) UnlockModifications() { bp.modMu.Unlock() }

// AddState carries the ids staged by AddBodiesPrepare.
type AddState struct {
	ids *roaring.Bitmap
}

func bitmapOf(ids []BodyID) *roaring.Bitmap {
	bm := roaring.New()
	for _, id := range ids {
		if !id.IsInvalid() {
			bm.Add(uint32(id))
		}
	}
	return bm
}

// AddBodiesPrepare stages ids for insertion.
func (bp *BroadPhase) AddBodiesPrepare(ids []BodyID) AddState {
	st := AddState{ids: bitmapOf(ids)}

	bp.modMu.RLock()
	defer bp.modMu.RUnlock()
	bp.setMu.Lock()
	bp.staged.Or(st.ids)
	bp.setMu.Unlock()
	return st
}

// AddBodiesFinalize makes staged ids members. They become visible to
// queries at the next rebuild.
func (bp *BroadPhase) AddBodiesFinalize(ids []BodyID, st AddState) {
	if st.ids == nil {
		st.ids = bitmapOf(ids)
	}

	bp.modMu.RLock()
	defer bp.modMu.RUnlock()
	bp.setMu.Lock()
	bp.members.Or(st.ids)
	bp.dirty.Or(st.ids)
	bp.staged.AndNot(st.ids)
	bp.setMu.Unlock()
}

// AddBodiesAbort drops staged ids.
func (bp *BroadPhase) AddBodiesAbort(ids []BodyID, st AddState) {
	if st.ids == nil {
		st.ids = bitmapOf(ids)
	}

	bp.modMu.RLock()
	defer bp.modMu.RUnlock()
	bp.setMu.Lock()
	bp.staged.AndNot(st.ids)
	bp.setMu.Unlock()
}

// RemoveBodies drops ids from the membership set and schedules a full
// rebuild. Removed bodies stay visible to queries until then.
func (bp *BroadPhase) RemoveBodies(ids []BodyID) {
	bm := bitmapOf(ids)

	bp.modMu.RLock()
	defer bp.modMu.RUnlock()
	bp.setMu.Lock()
	bp.members.AndNot(bm)
	bp.dirty.AndNot(bm)
	bp.removed.Or(bm)
	bp.removals++
	bp.pending = true
	bp.setMu.Unlock()
}

// NotifyBodiesAABBChanged records ids whose bounds changed. The new bounds
// take effect at the next rebuild.
func (bp *BroadPhase) NotifyBodiesAABBChanged(ids []BodyID) {
	bp.markDirty(ids)
}

// NotifyBodiesLayerChanged records ids whose layer changed. The new layer
// takes effect at the next rebuild.
func (bp *BroadPhase) NotifyBodiesLayerChanged(ids []BodyID) {
	bp.markDirty(ids)
}

func (bp *BroadPhase) markDirty(ids []BodyID) {
	bm := bitmapOf(ids)

	bp.modMu.RLock()
	defer bp.modMu.RUnlock()
	bp.setMu.Lock()
	bm.And(bp.members)
	bp.dirty.Or(bm)
	bp.setMu.Unlock()
}

// UpdateState is a snapshot taken by UpdatePrepare. It is finalized at
// most once; a second UpdateFinalize of the same state is rejected.
type UpdateState struct {
	records  []shadow.Record
	dirty    *roaring.Bitmap
	removals uint64
	done     *atomic.Bool
}

// Len returns the number of snapshotted records.
func (s UpdateState) Len() int { return len(s.records) }

// UpdatePrepare snapshots a shadow record of every member body. Bodies
// with non-finite or inverted bounds are skipped and logged.
func (bp *BroadPhase) UpdatePrepare() (UpdateState, error) {
	c := bp.collab.Load()
	if c == nil {
		return UpdateState{}, ErrNotInitialized
	}

	bp.setMu.Lock()
	defer bp.setMu.Unlock()

	records := bp.back[:0]
	if bp.inflight > 0 {
		// Unfinalized snapshots may still reference the back buffer.
		records = make([]shadow.Record, 0, len(bp.back))
	}

	margin := geom.Splat(bp.opts.speculativeContactDistance)
	c.bodies.VisitBodies(func(b Body) bool {
		if b.ID.IsInvalid() || !bp.members.Contains(uint32(b.ID)) {
			return true
		}
		if !b.Bounds.IsValid() {
			bp.rejectInput("UpdatePrepare", fmt.Sprintf("body %d has invalid bounds", uint32(b.ID)))
			return true
		}
		records = append(records, shadow.FromBounds(b.Bounds.ExpandBy(margin), uint8(b.Layer), b.flags(), uint32(b.ID)))
		return true
	})

	if bp.inflight == 0 {
		bp.back = records
	}
	bp.inflight++

	return UpdateState{
		records:  records,
		dirty:    bp.dirty.Clone(),
		removals: bp.removals,
		done:     new(atomic.Bool),
	}, nil
}

// UpdateFinalize rebuilds the index from st and makes it live. Each state
// from UpdatePrepare may be finalized once.
func (bp *BroadPhase) UpdateFinalize(st UpdateState) error {
	return bp.finalize(context.Background(), st)
}

func (bp *BroadPhase) finalize(ctx context.Context, st UpdateState) error {
	if st.done == nil {
		return invalidArgument("UpdateFinalize", "state was not produced by UpdatePrepare")
	}
	if !st.done.CompareAndSwap(false, true) {
		return invalidArgument("UpdateFinalize", "state was already finalized")
	}

	err := bp.rebuild(ctx, st.records)

	bp.setMu.Lock()
	bp.inflight--
	if err == nil {
		bp.dirty.AndNot(st.dirty)
		if bp.removals == st.removals {
			bp.pending = false
			bp.removed.Clear()
		}
	}
	bp.setMu.Unlock()

	return err
}

func (bp *BroadPhase) rebuild(ctx context.Context, records []shadow.Record) error {
	bs, err := bp.mgr.RebuildAll(ctx, records)
	bp.metrics.RecordRebuild(len(records), bs.Duration, err)
	bp.logger.LogRebuild(ctx, statsFrom(bs.Stats), bs.Duration, err)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}

	if bd, cd := bs.LSH.BucketDrops, bs.LSH.CellDrops; bd+cd > 0 {
		bp.metrics.RecordOverflow(bd, cd)
		bp.overflowLog.Do(func() {
			bp.logger.LogOverflow(ctx, bs.Epoch, bd, cd)
		})
	}
	return nil
}

// Update snapshots the member bodies and rebuilds.
func (bp *BroadPhase) Update(ctx context.Context) error {
	bp.updateMu.Lock()
	defer bp.updateMu.Unlock()

	st, err := bp.UpdatePrepare()
	if err != nil {
		return err
	}
	return bp.finalize(ctx, st)
}

// Optimize forces an immediate rebuild.
func (bp *BroadPhase) Optimize() error {
	return bp.Update(context.Background())
}

// FrameSync advances the frame counter and rebuilds every RebuildInterval
// frames, or at once when removals are pending.
func (bp *BroadPhase) FrameSync() error {
	if bp.collab.Load() == nil {
		return ErrNotInitialized
	}

	bp.setMu.Lock()
	bp.ticks++
	due := bp.ticks >= bp.opts.rebuildInterval || bp.pending
	if due {
		bp.ticks = 0
	}
	bp.setMu.Unlock()

	if !due {
		return nil
	}
	return bp.Update(context.Background())
}

// GetBounds returns the union of the live records' bounds. It is empty
// (Min > Max) when there are none.
func (bp *BroadPhase) GetBounds() AABox {
	g := bp.mgr.Acquire()
	defer g.Release()
	return g.Bounds()
}

// Stats describes the live generation and the pending membership changes.
type Stats struct {
	Epoch     uint64
	Records   int
	CellSize  float32
	Reach     int32
	Oversized int

	Points       uint32
	Entries      uint64
	BucketSpills uint64
	BucketDrops  uint64
	CellDrops    uint64
	// WidenedSamples counts query samples of the live generation that
	// admitted more than TopK points and were read in full.
	WidenedSamples uint64

	Members            uint64
	Staged             uint64
	Dirty              uint64
	Removed            uint64
	PendingFullRebuild bool

	ArenaUsed     uint64
	ArenaReserved uint64
	MemoryUsed    int64
}

func statsFrom(s index.Stats) Stats {
	return Stats{
		Epoch:        s.Epoch,
		Records:      s.Records,
		CellSize:     s.CellSize,
		Reach:        s.Reach,
		Oversized:    s.Oversized,
		Points:       s.LSH.Points,
		Entries:      s.LSH.Entries,
		BucketSpills: s.LSH.BucketSpills,
		BucketDrops:  s.LSH.BucketDrops,
		CellDrops:    s.LSH.CellDrops,

		WidenedSamples: s.WidenedSamples,
		ArenaUsed:      s.ArenaUsed,
		ArenaReserved:  s.ArenaReserved,
	}
}

// Stats returns a snapshot of the broad phase state.
func (bp *BroadPhase) Stats() Stats {
	g := bp.mgr.Acquire()
	st := statsFrom(g.Stats())
	g.Release()

	bp.setMu.Lock()
	st.Members = bp.members.GetCardinality()
	st.Staged = bp.staged.GetCardinality()
	st.Dirty = bp.dirty.GetCardinality()
	st.Removed = bp.removed.GetCardinality()
	st.PendingFullRebuild = bp.pending
	bp.setMu.Unlock()

	st.MemoryUsed = bp.rc.MemoryUsage()
	return st
}

// Close releases both generations. Queries after Close find nothing and
// rebuilds fail with ErrClosed.
func (bp *BroadPhase) Close() error {
	bp.mgr.Close()
	return nil
}

// noteWidened logs, rate limited, that queries on a generation met piles
// denser than TopK.
func (bp *BroadPhase) noteWidened(g *index.Generation, samples int) {
	if samples == 0 {
		return
	}
	bp.denseLog.Do(func() {
		bp.logger.LogDenseSamples(context.Background(), g.Epoch(), g.Stats().WidenedSamples)
	})
}

func (bp *BroadPhase) rejectInput(op, reason string) error {
	err := invalidArgument(op, reason)
	bp.invalidLog.Do(func() {
		bp.logger.LogInvalidInput(context.Background(), op, err)
	})
	return err
}
