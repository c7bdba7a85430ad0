package hashtable

import "fmt"

/// PteSet_t is a bounded set of page-table-entry locations, keyed by
/// the PTE slot's own pointer identity rather than its address
/// converted to uintptr. Keeping members as real, typed pointers lets
/// the garbage collector trace them normally; a process's page table
/// is always the owning reference, but a PteSet_t must be able to
/// hold a pointer into it without that pointer going stale under GC.
/// rmap's per-frame descriptor and swap's per-slot descriptor both use
/// one of these to hold the set of PTE locations that currently alias
/// a frame or a swap slot. Bounded by capacity, since no frame or slot
/// can be aliased by more PTEs than there are live processes.
type PteSet_t struct {
	ht       *Hashtable_t
	capacity int
}

/// MkPteSet allocates an empty set bounded at capacity entries.
func MkPteSet(capacity int) *PteSet_t {
	size := capacity
	if size < 1 {
		size = 1
	}
	return &PteSet_t{ht: MkHash(size), capacity: capacity}
}

/// Add inserts a PTE location into the set. Adding a location already
/// present is a no-op. Panics if the insert would exceed capacity,
/// the set-level analogue of rmap's "too many sharers" invariant.
func (s *PteSet_t) Add(pte interface{}) {
	if _, inserted := s.ht.Set(pte, struct{}{}); !inserted {
		return
	}
	if s.ht.Size() > s.capacity {
		s.ht.Del(pte)
		panic(fmt.Sprintf("hashtable: pte set exceeds capacity %d", s.capacity))
	}
}

/// Remove deletes a PTE location from the set. Panics if it is not
/// present, the same tolerant-vs-strict distinction rmap.ShareRemove
/// resolves at its own boundary.
func (s *PteSet_t) Remove(pte interface{}) {
	s.ht.Del(pte)
}

/// Contains reports whether pte is currently a member.
func (s *PteSet_t) Contains(pte interface{}) bool {
	_, ok := s.ht.Get(pte)
	return ok
}

/// Len returns the number of members, i.e. the frame or slot's
/// reference count.
func (s *PteSet_t) Len() int {
	return s.ht.Size()
}

/// Elems returns every member PTE location, in no particular order.
func (s *PteSet_t) Elems() []interface{} {
	pairs := s.ht.Elems()
	out := make([]interface{}, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.Key)
	}
	return out
}

/// First returns an arbitrary member, used when a caller only needs
/// one surviving owner (e.g. COW undo collapsing a two-owner frame
/// back to sole ownership).
func (s *PteSet_t) First() (interface{}, bool) {
	var found interface{}
	ok := false
	s.ht.Iter(func(k, _ interface{}) bool {
		found = k
		ok = true
		return true
	})
	return found, ok
}
