// Package mem implements the physical frame allocator: the free-list
// arena the rest of this subsystem allocates and frees 4 KiB frames
// from, grounded on the teacher's own mem.Physmem_t (a free-list over
// a Pgs array with a lock) and kalloc.c's kinit1/kinit2/kalloc/kfree,
// but backed by a real mmap'd anonymous region instead of the
// teacher's forked-runtime direct map, since this subsystem runs
// hosted rather than as its own kernel (documented in DESIGN.md).
package mem

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"defs"
	"limits"
	"stats"
	"util"
)

/// Pa_t is re-exported from defs so callers that only need a physical
/// address type need not import defs directly.
type Pa_t = defs.Pa_t

/// Evictor_i lets the frame allocator reclaim a frame when the free
/// list runs dry, the way kalloc.c's commented-out kalloc() called
/// allocate_page() before giving up and panicking. mem never imports
/// the swap package directly (that would cycle); instead the evictor
/// is registered at startup via SetEvictor.
type Evictor_i interface {
	/// Evict reclaims one frame, swapping out whatever currently backs
	/// it, and returns its address. ok is false if nothing is evictable.
	Evict() (Pa_t, bool)
}

type frame_t struct {
	nexti uint32
	used  bool
}

const noFrame = ^uint32(0)

/// Physmem_t is the global frame allocator: a contiguous mmap'd arena
/// sliced into PGSIZE frames, tracked by an index-linked free list.
/// useLock mirrors kmem.use_lock: false during the two boot-time
/// enrollment phases, permanently true afterward. The teacher shards
/// this free list per CPU; this subsystem has no per-CPU concept to
/// shard over, so it keeps one Mutex (a deliberate scope cut, noted in
/// DESIGN.md).
type Physmem_t struct {
	sync.Mutex
	useLock bool
	arena   []byte
	frames  []frame_t
	base    Pa_t
	freei   uint32
	freelen int
	evictor Evictor_i
}

/// Physmem is the global frame allocator instance, mirroring the
/// teacher's package-level Physmem singleton.
var Physmem = &Physmem_t{}

func reserve(phys *Physmem_t, cfg *limits.Config_t) error {
	n := cfg.NPages()
	if n <= 0 {
		return fmt.Errorf("mem: non-positive frame count %d", n)
	}
	arena, err := unix.Mmap(-1, 0, n*defs.PGSIZE, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return fmt.Errorf("mem: mmap arena: %w", err)
	}
	phys.arena = arena
	phys.frames = make([]frame_t, n)
	phys.base = Pa_t(cfg.EndKernel)
	phys.freei = noFrame
	phys.freelen = 0
	phys.evictor = nil
	for i := range phys.frames {
		phys.frames[i].used = true
	}
	return nil
}

/// Kinit1 reserves the backing arena and enrolls [cfg.EndKernel, bound)
/// onto the free list without locking, the way kinit1 frees the pages
/// covered by the bootstrap page table while still single-threaded.
func Kinit1(cfg *limits.Config_t, bound uintptr) (*Physmem_t, error) {
	phys := Physmem
	if err := reserve(phys, cfg); err != nil {
		return nil, err
	}
	phys.useLock = false
	phys.freerange(cfg.EndKernel, bound)
	return phys, nil
}

/// Kinit2 enrolls [bound, cfg.PHYSTOP) onto the free list, then
/// permanently enables locking, the way kinit2 frees the remaining
/// pages after a full page table maps them on every core.
func (phys *Physmem_t) Kinit2(cfg *limits.Config_t, bound uintptr) {
	phys.freerange(bound, cfg.PHYSTOP)
	phys.useLock = true
}

/// Init performs both phases at once, covering the whole managed
/// range in one call, for callers (tests, the demo binary) that have
/// no bootstrap/full split to model.
func Init(cfg *limits.Config_t) (*Physmem_t, error) {
	phys, err := Kinit1(cfg, cfg.EndKernel)
	if err != nil {
		return nil, err
	}
	phys.Kinit2(cfg, cfg.EndKernel)
	return phys, nil
}

func (phys *Physmem_t) freerange(vstart, vend uintptr) {
	start := util.Roundup(vstart, uintptr(defs.PGSIZE))
	for p := start; p+uintptr(defs.PGSIZE) <= vend; p += uintptr(defs.PGSIZE) {
		phys.enroll(Pa_t(p))
	}
}

// enroll is kfree's logic without the "already free" guard: it is
// used only during kinit1/kinit2 to populate the free list the first
// time, when every frame starts out marked used.
func (phys *Physmem_t) enroll(pa Pa_t) {
	util.Fill(phys.Bytes(pa), 1)
	i := phys.idx(pa)
	phys.maybeLock()
	phys.pushFree(i)
	phys.maybeUnlock()
}

/// SetEvictor registers the reclaimer Kalloc falls back to once the
/// free list is empty.
func (phys *Physmem_t) SetEvictor(e Evictor_i) {
	phys.Lock()
	defer phys.Unlock()
	phys.evictor = e
}

func (phys *Physmem_t) maybeLock() {
	if phys.useLock {
		phys.Lock()
	}
}

func (phys *Physmem_t) maybeUnlock() {
	if phys.useLock {
		phys.Unlock()
	}
}

func (phys *Physmem_t) idx(pa Pa_t) uint32 {
	if pa < phys.base {
		panic("mem: address below managed range")
	}
	i := uint32((pa - phys.base) / defs.PGSIZE)
	if int(i) >= len(phys.frames) {
		panic("mem: address above managed range")
	}
	return i
}

func (phys *Physmem_t) addrOf(i uint32) Pa_t {
	return phys.base + Pa_t(i)*defs.PGSIZE
}

/// Bytes returns the frame's backing storage as a byte slice, the
/// direct-map equivalent of the teacher's Dmap/Dmap8: every other
/// package reads and writes frame contents through this slice rather
/// than through a pointer cast.
func (phys *Physmem_t) Bytes(pa Pa_t) []byte {
	i := phys.idx(pa)
	off := int(i) * defs.PGSIZE
	return phys.arena[off : off+defs.PGSIZE]
}

func (phys *Physmem_t) popFree() (uint32, bool) {
	if phys.freei == noFrame {
		return 0, false
	}
	i := phys.freei
	phys.freei = phys.frames[i].nexti
	phys.freelen--
	phys.frames[i].used = true
	return i, true
}

func (phys *Physmem_t) pushFree(i uint32) {
	phys.frames[i].nexti = phys.freei
	phys.frames[i].used = false
	phys.freei = i
	phys.freelen++
}

/// Kalloc returns a zeroed frame. When the free list is exhausted it
/// calls the registered evictor exactly once; if eviction also fails,
/// it returns (0, false) rather than blocking, since the public
/// surface never returns memory pressure any other way (spec.md §7:
/// callers observe pressure only through NumFreePages).
func (phys *Physmem_t) Kalloc() (Pa_t, bool) {
	stats.Pmem.Kallocs.Inc()
	phys.maybeLock()
	i, ok := phys.popFree()
	phys.maybeUnlock()
	if ok {
		pa := phys.addrOf(i)
		util.Fill(phys.Bytes(pa), 0)
		return pa, true
	}

	phys.maybeLock()
	evictor := phys.evictor
	phys.maybeUnlock()

	if evictor != nil {
		if _, ok := evictor.Evict(); ok {
			// Evict() returns the reclaimed frame to the free list via
			// Kfree before reporting success, so retry the free list.
			return phys.Kalloc()
		}
	}

	return 0, false
}

/// Kfree poisons and returns a frame to the free list, the way
/// kalloc.c's kfree() memsets the page to a non-zero pattern before
/// linking it back in so use-after-free reads are recognizable.
/// Panics on an unaligned address, one outside the managed range, or
/// one already on the free list, matching spec.md §4.1/§7.
func (phys *Physmem_t) Kfree(pa Pa_t) {
	stats.Pmem.Kfrees.Inc()
	if !util.Aligned(pa, Pa_t(defs.PGSIZE)) {
		panic("mem: kfree of unaligned address")
	}
	util.Fill(phys.Bytes(pa), 1)
	i := phys.idx(pa)
	phys.maybeLock()
	defer phys.maybeUnlock()
	if !phys.frames[i].used {
		panic("mem: double free")
	}
	phys.pushFree(i)
}

/// NumFreePages reports the free-list length, grounding kalloc.c's
/// num_of_FreePages().
func (phys *Physmem_t) NumFreePages() int {
	phys.maybeLock()
	defer phys.maybeUnlock()
	return phys.freelen
}

/// Base returns the first managed physical address.
func (phys *Physmem_t) Base() Pa_t { return phys.base }

/// NFrames returns the number of frames under management.
func (phys *Physmem_t) NFrames() int { return len(phys.frames) }
