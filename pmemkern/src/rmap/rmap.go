// Package rmap implements the reverse map: per-frame descriptors
// tracking the set of PTE locations that currently alias a physical
// frame, and the reference count that set's size defines (spec.md §3
// "Rmap table", invariants R1-R4). Grounded on kalloc.c's share_add/
// share_remove pair (struct pages_t's pl list and n_refs counter); the
// COW splitter (share_split) is not here; it belongs to the vm package,
// which holds the process/address-space machinery a split needs.
package rmap

import (
	"sync"

	"defs"
	"hashtable"
	"limits"
	"stats"
)

/// Record_t is one frame's reverse-map entry: the set of PTE locations
/// aliasing it and the reference count that set's cardinality defines
/// (R1: ref == |ptes|).
type Record_t struct {
	sync.Mutex
	ptes *hashtable.PteSet_t
	ref  int
}

/// Table_t is the reverse map for every frame in [base, base+len*PGSIZE).
type Table_t struct {
	base defs.Pa_t
	recs []Record_t
}

/// Init allocates a reverse-map table sized for cfg's physical address
/// range, one Record_t per frame.
func Init(cfg *limits.Config_t) *Table_t {
	n := cfg.NPages()
	t := &Table_t{
		base: defs.Pa_t(cfg.EndKernel),
		recs: make([]Record_t, n),
	}
	for i := range t.recs {
		t.recs[i].ptes = hashtable.MkPteSet(cfg.NPROC)
	}
	return t
}

func (t *Table_t) idx(pa defs.Pa_t) int {
	i := int((pa - t.base) / defs.PGSIZE)
	if i < 0 || i >= len(t.recs) {
		panic("rmap: address out of range")
	}
	return i
}

func (t *Table_t) rec(pa defs.Pa_t) *Record_t {
	return &t.recs[t.idx(pa)]
}

/// Ref returns the current reference count of the frame at pa.
func (t *Table_t) Ref(pa defs.Pa_t) int {
	r := t.rec(pa)
	r.Lock()
	defer r.Unlock()
	return r.ref
}

/// Ptes returns the set of PTE locations currently aliasing pa.
func (t *Table_t) Ptes(pa defs.Pa_t) []*defs.Pa_t {
	r := t.rec(pa)
	r.Lock()
	defer r.Unlock()
	elems := r.ptes.Elems()
	out := make([]*defs.Pa_t, 0, len(elems))
	for _, e := range elems {
		out = append(out, e.(*defs.Pa_t))
	}
	return out
}

/// Drain empties pa's entire PTE-location set under a single hold of
/// the frame's rmap lock and resets its reference count to zero,
/// returning every PTE location that was a member. Grounded on
/// spec.md §4.4's add_swap, which must rewrite every aliasing PTE and
/// bring ref to exactly zero under one lock acquisition rather than
/// one ShareRemove call per PTE (each of which would re-acquire the
/// same lock and could observe a torn ref count mid-sweep).
func (t *Table_t) Drain(pa defs.Pa_t) []*defs.Pa_t {
	r := t.rec(pa)
	r.Lock()
	defer r.Unlock()
	elems := r.ptes.Elems()
	out := make([]*defs.Pa_t, 0, len(elems))
	for _, e := range elems {
		p := e.(*defs.Pa_t)
		r.ptes.Remove(p)
		out = append(out, p)
	}
	r.ref = 0
	return out
}

/// ShareAdd records that pte now aliases the frame at pa, incrementing
/// its reference count (kalloc.c's share_add). Panics if pte is a
/// swapped PTE: R4 forbids a swapped PTE from ever appearing in an
/// rmap entry.
func (t *Table_t) ShareAdd(pa defs.Pa_t, pte *defs.Pa_t) {
	if *pte&defs.PTE_S != 0 {
		panic("rmap: share_add of a swapped pte")
	}
	r := t.rec(pa)
	r.Lock()
	defer r.Unlock()
	r.ptes.Add(pte)
	r.ref++
	stats.Pmem.ShareAdds.Inc()
}

/// ShareRemove records that pte no longer aliases the frame at pa,
/// decrementing its reference count (kalloc.c's share_remove). If the
/// count drops to exactly 1, the sole surviving PTE has PTE_W restored
/// (the original's "*(cur->pl->pte) |= PTE_W"), collapsing a COW
/// sharing back to sole ownership. If strict is false and pte is not
/// actually a member, ShareRemove is a silent no-op (the tolerant mode
/// a process-teardown sweep needs, since it cannot know in advance
/// which frames it still shares); if strict is true, a missing pte
/// panics. Returns the reference count after the removal.
func (t *Table_t) ShareRemove(pa defs.Pa_t, pte *defs.Pa_t, strict bool) int {
	r := t.rec(pa)
	r.Lock()
	defer r.Unlock()

	if !r.ptes.Contains(pte) {
		if strict {
			panic("rmap: share_remove of an absent pte")
		}
		return r.ref
	}

	r.ptes.Remove(pte)
	r.ref--
	stats.Pmem.ShareRemoves.Inc()

	if r.ref == 1 {
		if survivor, ok := r.ptes.First(); ok {
			p := survivor.(*defs.Pa_t)
			*p |= defs.PTE_W
		}
	}
	return r.ref
}
