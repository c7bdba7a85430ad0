// Package vm implements the copy-on-write splitter (spec.md §4.2's
// share_split) and the page-fault dispatcher (spec.md §4.6), the two
// components that tie the frame allocator, the reverse map, and the
// swap subsystem together at the point a user access actually faults.
// Grounded on vm/as.go's Sys_pgfault: its "copy the source page before
// repointing the PTE" COW path (copy `*pg = *pgsrc` happens before the
// PTE is rewritten) and pageswap.c's two page_fault revisions, one of
// which classifies swap-in vs. COW vs. fatal exactly as spec.md §4.6
// describes.
package vm

import (
	"defs"
	"mem"
	"proc"
	"rmap"
	"stats"
	"swap"
)

/// Splitter_t holds the frame allocator and reverse map a COW split
/// needs: a fresh frame from mem, and rmap bookkeeping for both the
/// old and new frame.
type Splitter_t struct {
	phys  *mem.Physmem_t
	rmaps *rmap.Table_t
}

/// MkSplitter builds a COW splitter over the given allocator and rmap.
func MkSplitter(phys *mem.Physmem_t, rmaps *rmap.Table_t) *Splitter_t {
	return &Splitter_t{phys: phys, rmaps: rmaps}
}

/// ShareSplit implements spec.md §4.2's share_split(pa, pte), the COW
/// fault primitive: it reads the PTE's permission flags, forces the
/// writable bit on in the local copy, detaches pte from the old
/// frame's rmap entry, allocates a fresh frame, copies the old frame's
/// contents into it (before repointing the PTE, matching Sys_pgfault's
/// "*pg = *pgsrc" ordering per DESIGN.md), rewrites *pte to address
/// the new frame with the updated flags, and registers the new
/// mapping. If the split drops the old frame's ref to zero (the
/// common case: a private COW page mapped by exactly one PTE is about
/// to become mapped by a different, freshly allocated one), the old
/// frame is returned to the allocator; never the new one, and never
/// when the old frame still has other aliases.
func (s *Splitter_t) ShareSplit(oldPa defs.Pa_t, pte *defs.Pa_t) defs.Pa_t {
	stats.Pmem.ShareSplits.Inc()

	flags := defs.PTE_FLAGS(*pte) | defs.PTE_W

	newRef := s.rmaps.ShareRemove(oldPa, pte, true)

	newPa, ok := s.phys.Kalloc()
	if !ok {
		panic("vm: share_split: out of memory")
	}
	copy(s.phys.Bytes(newPa), s.phys.Bytes(oldPa))

	*pte = newPa | flags
	s.rmaps.ShareAdd(newPa, pte)

	if newRef == 0 {
		s.phys.Kfree(oldPa)
	}

	if newPa == oldPa {
		panic("vm: share_split: new frame aliases old frame")
	}
	return newPa
}

/// Dispatcher_t is the fault dispatcher (spec.md §4.6): it classifies
/// a fault and invokes the COW splitter or the swap pager, wired
/// together with the process table and the MMU-reload hook an
/// external collaborator provides.
type Dispatcher_t struct {
	procs     *proc.Table_t
	rmaps     *rmap.Table_t
	phys      *mem.Physmem_t
	swp       *swap.Table_t
	split     *Splitter_t
	rcr2      func() uintptr
	lcr3      func(defs.Pa_t)
	myproc    func() *proc.Process_t
	fetchCode func(uintptr) []byte
}

/// SetCodeFetcher registers an optional hook the dispatcher uses to
/// fetch the bytes at a faulting instruction pointer, for richer
/// fatal-fault diagnostics (see diag.go). Fatal faults are reported
/// without a disassembly when no fetcher is registered.
func (d *Dispatcher_t) SetCodeFetcher(f func(uintptr) []byte) {
	d.fetchCode = f
}

/// MkDispatcher wires a fault dispatcher over every component it
/// coordinates. rcr2 reads the faulting virtual address, lcr3 reloads
/// the MMU root (both consumed from the trap/CPU collaborator per
/// spec.md §6), and myproc resolves the currently running process.
func MkDispatcher(procs *proc.Table_t, rmaps *rmap.Table_t, phys *mem.Physmem_t, swp *swap.Table_t,
	rcr2 func() uintptr, lcr3 func(defs.Pa_t), myproc func() *proc.Process_t) *Dispatcher_t {
	return &Dispatcher_t{
		procs:  procs,
		rmaps:  rmaps,
		phys:   phys,
		swp:    swp,
		split:  MkSplitter(phys, rmaps),
		rcr2:   rcr2,
		lcr3:   lcr3,
		myproc: myproc,
	}
}

/// PageFault implements spec.md §4.6's page_fault(): it reads the
/// faulting address, walks the current process's page directory to
/// find the PTE, classifies the fault, and dispatches to the swap-in
/// or COW path. An unrecognizable PTE state is fatal (UnhandledFault).
func (d *Dispatcher_t) PageFault() {
	fa := d.rcr2()
	p := d.myproc()
	start := p.Accnt.Now()
	defer p.Accnt.Finish(start)

	pte := p.Walkpgdir(fa, false)
	if pte == nil {
		d.fatal(fa)
	}

	switch defs.ClassifyFault(*pte) {
	case defs.FaultSwapIn:
		slot := defs.SlotOf(*pte)
		newPa := d.swp.PageIn(d.phys, d.rmaps, slot)
		// recover_swap restores every aliasing PTE to newPa in one
		// sweep (spec.md §4.5); bump RSS for every process that holds
		// one of those restored mappings, not only the faulting one.
		d.procs.ChangeRSS(newPa, 1)
		d.lcr3(0)
	case defs.FaultCOW:
		d.split.ShareSplit(*pte&defs.PTE_ADDR, pte)
		stats.Pmem.FaultsCOW.Inc()
		d.lcr3(0)
	default:
		d.fatal(fa)
	}
}

func (d *Dispatcher_t) fatal(fa uintptr) {
	stats.Pmem.FaultsFatal.Inc()
	var code []byte
	if d.fetchCode != nil {
		code = d.fetchCode(fa)
	}
	panic(faultReport(fa, int64(stats.Pmem.FaultsFatal), code))
}
