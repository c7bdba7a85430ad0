// Package swap implements the swap-slot table, the evictor that moves
// a cold frame out to disk (spec.md §4.4), and the pager that restores
// one back in (spec.md §4.5), plus process-exit cleanup (§4.7).
// Grounded on pageswap.c's struct swap_slot/ss[NSLOTS] and its
// commented-out allocate_page/recover_swap/clean_swap, driven by the
// block layer the teacher's fs/blk.go models (adapted into swapdev).
package swap

import (
	"fmt"
	"sync"

	"defs"
	"hashtable"
	"limits"
	"mem"
	"proc"
	"rmap"
	"stats"
	"swapdev"
	"victim"
)

const sectorsPerSlot = swapdev.SectorsPerPage
const firstSector = 2

type slot_t struct {
	sync.Mutex
	free bool
	perm defs.Pa_t
	ptes *hashtable.PteSet_t
}

/// Table_t is the fixed-size swap area: one slot_t per NSlots() of
/// backing disk space, slot s occupying sectors [2+8s, 2+8s+8).
type Table_t struct {
	cfg   *limits.Config_t
	disk  swapdev.Disk_i
	slots []slot_t
}

/// Init allocates an empty swap area (init_slot): every slot starts free.
func Init(cfg *limits.Config_t, disk swapdev.Disk_i) *Table_t {
	t := &Table_t{cfg: cfg, disk: disk, slots: make([]slot_t, cfg.NSlots())}
	for i := range t.slots {
		t.slots[i].free = true
		t.slots[i].ptes = hashtable.MkPteSet(cfg.NPROC)
	}
	return t
}

func (t *Table_t) sector(slot int) int { return firstSector + sectorsPerSlot*slot }

func (t *Table_t) findFree() (int, bool) {
	for i := range t.slots {
		if t.slots[i].free {
			return i, true
		}
	}
	return 0, false
}

/// Evictor_t implements mem.Evictor_i: on allocator depletion it
/// selects a victim frame, writes it to the lowest free swap slot, and
/// rewrites every PTE aliasing it to a swap cookie (allocate_page,
/// spec.md §4.4).
type Evictor_t struct {
	phys  *mem.Physmem_t
	swap  *Table_t
	rmaps *rmap.Table_t
	procs *proc.Table_t
	sel   *victim.Selector_t
}

/// MkEvictor wires an evictor over the given tables.
func MkEvictor(phys *mem.Physmem_t, swp *Table_t, rmaps *rmap.Table_t, procs *proc.Table_t, sel *victim.Selector_t) *Evictor_t {
	return &Evictor_t{phys: phys, swap: swp, rmaps: rmaps, procs: procs, sel: sel}
}

/// Evict implements mem.Evictor_i.Evict: allocate_page(). Panics if
/// every swap slot is in use (spec.md §7).
func (e *Evictor_t) Evict() (mem.Pa_t, bool) {
	start := stats.Now()
	defer stats.Pmem.EvictNs.Add(start)
	stats.Pmem.Evictions.Inc()

	pte, pa, victimProc := e.sel.Select()

	slot, ok := e.swap.findFree()
	if !ok {
		panic("swap: no free swap slot")
	}

	swapdev.WritePage(e.swap.disk, e.swap.sector(slot), e.phys.Bytes(pa))
	e.addSwap(pa, pte, slot, victimProc)
	e.phys.Kfree(pa)
	return pa, true
}

// addSwap implements spec.md §4.4's add_swap(old_pa, swap_cookie,
// slot): under one hold of the frame's rmap lock (rmap.Drain), every
// aliasing PTE is rewritten to the swap cookie and moved into the
// slot's PTE set; ref is driven to zero as a side effect of Drain.
// RSS for every aliasing process other than the one the victim
// selector already charged is decremented here, completing the split
// described in DESIGN.md's RSS double-counting resolution.
func (e *Evictor_t) addSwap(pa defs.Pa_t, pte *defs.Pa_t, slot int, victimProc *proc.Process_t) {
	s := &e.swap.slots[slot]
	s.Lock()
	defer s.Unlock()

	ptes := e.rmaps.Drain(pa)
	if len(ptes) == 0 {
		ptes = []*defs.Pa_t{pte}
	}

	// Every aliasing process other than the one the victim selector
	// already charged must be found by its still-resident PTE, so this
	// scan has to run before the rewrite loop below retires pa from
	// every PTE that still points at it.
	e.procs.ChangeRSSExcept(pa, -1, victimProc)

	cookie := defs.MkSwapCookie(slot)
	perm := defs.PTE_FLAGS(*ptes[0])
	for _, p := range ptes {
		*p = cookie
		s.ptes.Add(p)
	}
	s.free = false
	s.perm = perm
}

/// RecoverSwap implements spec.md §4.5's recover_swap(new_pa, slot):
/// every PTE in the slot's set is rewritten to new_pa with the slot's
/// saved permissions and the accessed bit set, re-added to the
/// reverse map, and the slot is freed. Panics if the slot was already
/// free (spec.md §7).
func (t *Table_t) RecoverSwap(rmaps *rmap.Table_t, newPa defs.Pa_t, slot int) {
	if slot < 0 || slot >= len(t.slots) {
		panic("swap: recover_swap of an out-of-range slot")
	}
	s := &t.slots[slot]
	s.Lock()
	defer s.Unlock()
	if s.free {
		panic("swap: recover_swap of an empty slot")
	}

	for _, elem := range s.ptes.Elems() {
		p := elem.(*defs.Pa_t)
		s.ptes.Remove(p)
		*p = newPa | s.perm | defs.PTE_A
		rmaps.ShareAdd(newPa, p)
	}
	s.free = true
	stats.Pmem.Recoveries.Inc()
}

/// PageIn is the swap-in half of spec.md §4.6's fault dispatcher: it
/// allocates a frame, reads the slot's 8 sectors into it, and calls
/// RecoverSwap. Returns the frame address the faulting PTE now
/// resolves to.
func (t *Table_t) PageIn(phys *mem.Physmem_t, rmaps *rmap.Table_t, slot int) defs.Pa_t {
	newPa, ok := phys.Kalloc()
	if !ok {
		panic("swap: out of memory recovering a swapped page")
	}
	swapdev.ReadPage(t.disk, t.sector(slot), phys.Bytes(newPa))
	t.RecoverSwap(rmaps, newPa, slot)
	stats.Pmem.FaultsSwapIn.Inc()
	return newPa
}

/// CleanSwap implements spec.md §4.7's clean_swap(pgdir): for every
/// PTE in the process's page table that carries the swapped bit, the
/// PTE is removed from its slot's set, and the slot is freed once its
/// set empties.
func CleanSwap(swp *Table_t, tabs []*proc.Ptab_t) {
	for _, tab := range tabs {
		if tab == nil {
			continue
		}
		for i := range tab {
			pte := &tab[i]
			if *pte&defs.PTE_S == 0 {
				continue
			}
			slot := defs.SlotOf(*pte)
			s := &swp.slots[slot]
			s.Lock()
			if s.ptes.Contains(pte) {
				s.ptes.Remove(pte)
			}
			if s.ptes.Len() == 0 {
				s.free = true
			}
			s.Unlock()
		}
	}
}

/// Stats summarizes slot occupancy, for the demo binary.
func (t *Table_t) Stats() string {
	used := 0
	for i := range t.slots {
		if !t.slots[i].free {
			used++
		}
	}
	return fmt.Sprintf("swap: %d/%d slots in use", used, len(t.slots))
}
