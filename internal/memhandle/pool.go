// Package memhandle provides pooled memory segments addressed by generation-checked handles.
//
// A Handle names one segment of one pool. Every successful Alloc must be
// matched by exactly one Release (plus one per Retain). Releasing a handle
// whose segment was already returned fails with ErrStaleHandle instead of
// corrupting the pool, so double releases and use after release are
// detected rather than silently accepted.
package memhandle

import (
	"errors"
	"fmt"
	"sync"
)

// PoolID identifies a memory pool.
type PoolID uint8

// NullPool marks an optional pool that is not configured.
const NullPool PoolID = 0xff

// Sentinel errors returned by the Manager.
var (
	ErrPoolUnavailable = errors.New("memory pool is not available")
	ErrPoolExhausted   = errors.New("memory pool has no free segment")
	ErrSegmentTooLarge = errors.New("requested size exceeds segment size")
	ErrStaleHandle     = errors.New("stale or null memory handle")
	ErrDuplicatePool   = errors.New("duplicate memory pool id")
)

// Handle references one pool segment. The zero Handle is null.
type Handle struct {
	pool PoolID
	slot uint16
	gen  uint32
}

// IsNull reports whether the handle references no segment.
func (h Handle) IsNull() bool {
	return h.gen == 0
}

// Pool returns the pool the handle was allocated from.
func (h Handle) Pool() PoolID {
	return h.pool
}

func (h Handle) String() string {
	if h.IsNull() {
		return "mh(null)"
	}
	return fmt.Sprintf("mh(%d:%d#%d)", h.pool, h.slot, h.gen)
}

// PoolConfig describes one pool: Size bytes split into NumSegs equal segments.
type PoolConfig struct {
	ID      PoolID `json:"id"`
	Size    int    `json:"size" validate:"gt=0"`
	NumSegs int    `json:"num_segs" validate:"gt=0"`
}

type segment struct {
	gen   uint32
	refs  int
	inUse bool
	buf   []byte
}

type pool struct {
	cfg     PoolConfig
	segSize int
	segs    []segment
	free    []uint16
}

// Stats is a snapshot of allocation counters.
type Stats struct {
	Allocs   uint64 `json:"allocs"`
	Releases uint64 `json:"releases"`
	InUse    int    `json:"in_use"`
}

// Balanced reports whether every allocation has been released.
func (s Stats) Balanced() bool {
	return s.Allocs == s.Releases && s.InUse == 0
}

// Manager owns a set of pools. It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	pools    map[PoolID]*pool
	allocs   uint64
	releases uint64
	inUse    int
}

// New creates a Manager with the given pools.
func New(cfgs ...PoolConfig) (*Manager, error) {
	m := &Manager{pools: make(map[PoolID]*pool, len(cfgs))}
	for _, cfg := range cfgs {
		if cfg.ID == NullPool {
			return nil, fmt.Errorf("pool id %d is reserved", cfg.ID)
		}
		if _, ok := m.pools[cfg.ID]; ok {
			return nil, fmt.Errorf("%w: %d", ErrDuplicatePool, cfg.ID)
		}
		if cfg.Size <= 0 || cfg.NumSegs <= 0 || cfg.NumSegs > 0xffff {
			return nil, fmt.Errorf("invalid pool %d: size=%d segs=%d", cfg.ID, cfg.Size, cfg.NumSegs)
		}
		p := &pool{
			cfg:     cfg,
			segSize: cfg.Size / cfg.NumSegs,
			segs:    make([]segment, cfg.NumSegs),
			free:    make([]uint16, 0, cfg.NumSegs),
		}
		for i := cfg.NumSegs - 1; i >= 0; i-- {
			p.free = append(p.free, uint16(i))
		}
		m.pools[cfg.ID] = p
	}
	return m, nil
}

// IsAvailable reports whether the pool exists.
func (m *Manager) IsAvailable(id PoolID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pools[id]
	return ok
}

// Size returns the total byte size of the pool, or 0 if it does not exist.
func (m *Manager) Size(id PoolID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[id]; ok {
		return p.cfg.Size
	}
	return 0
}

// NumSegs returns the segment count of the pool, or 0 if it does not exist.
func (m *Manager) NumSegs(id PoolID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[id]; ok {
		return p.cfg.NumSegs
	}
	return 0
}

// SegSize returns Size/NumSegs for the pool, or 0 if it does not exist.
func (m *Manager) SegSize(id PoolID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[id]; ok {
		return p.segSize
	}
	return 0
}

// Alloc reserves one segment of at least size bytes.
func (m *Manager) Alloc(id PoolID, size int) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[id]
	if !ok {
		return Handle{}, fmt.Errorf("%w: %d", ErrPoolUnavailable, id)
	}
	if size > p.segSize {
		return Handle{}, fmt.Errorf("%w: %d > %d", ErrSegmentTooLarge, size, p.segSize)
	}
	if len(p.free) == 0 {
		return Handle{}, fmt.Errorf("%w: %d", ErrPoolExhausted, id)
	}

	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	seg := &p.segs[idx]
	seg.gen++
	if seg.gen == 0 {
		seg.gen = 1
	}
	seg.refs = 1
	seg.inUse = true
	if seg.buf == nil {
		seg.buf = make([]byte, p.segSize)
	}

	m.allocs++
	m.inUse++
	return Handle{pool: id, slot: idx, gen: seg.gen}, nil
}

// Retain adds a reference to a live handle. Each Retain needs its own Release.
func (m *Manager) Retain(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seg, err := m.lookupLocked(h)
	if err != nil {
		return err
	}
	seg.refs++
	m.allocs++
	return nil
}

// Release drops one reference. The segment returns to the pool at zero references.
func (m *Manager) Release(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seg, err := m.lookupLocked(h)
	if err != nil {
		return err
	}
	seg.refs--
	m.releases++
	if seg.refs > 0 {
		return nil
	}
	seg.inUse = false
	m.inUse--
	p := m.pools[h.pool]
	p.free = append(p.free, h.slot)
	return nil
}

// Bytes returns the full segment buffer behind a live handle.
func (m *Manager) Bytes(h Handle) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seg, err := m.lookupLocked(h)
	if err != nil {
		return nil, err
	}
	return seg.buf, nil
}

// Stats returns the allocation counters across all pools.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Allocs: m.allocs, Releases: m.releases, InUse: m.inUse}
}

// Free returns the number of free segments in the pool.
func (m *Manager) Free(id PoolID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[id]; ok {
		return len(p.free)
	}
	return 0
}

// lookupLocked resolves a handle to its live segment. Caller must hold m.mu.
func (m *Manager) lookupLocked(h Handle) (*segment, error) {
	if h.IsNull() {
		return nil, ErrStaleHandle
	}
	p, ok := m.pools[h.pool]
	if !ok || int(h.slot) >= len(p.segs) {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	seg := &p.segs[h.slot]
	if !seg.inUse || seg.gen != h.gen {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	return seg, nil
}
