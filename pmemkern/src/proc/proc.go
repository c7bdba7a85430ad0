// Package proc implements the process/page-table collaborator this
// subsystem consumes (spec.md §6: walkpgdir, victim_proc, is_proc,
// get_proc, myproc) plus the RSS accountant (§4.8). The teacher's own
// process/page-table code (vm/as.go's Vm_t, a 4-level recursive x86-64
// pmap) is grounded in a real MMU this subsystem doesn't drive; proc
// instead builds the two-level, 1024-entry-per-level page table
// spec.md's own NPDENTRIES/NPTENTRIES constants describe, the shape
// kalloc.c/pageswap.c's xv6 ancestor actually walks.
package proc

import (
	"sort"
	"sync"

	"accnt"
	"defs"
	"limits"
)

/// Ptab_t is one level of 1024 page-table entries.
type Ptab_t [1024]defs.Pa_t

func pdx(va uintptr) int { return int((va >> 22) & 0x3ff) }
func ptx(va uintptr) int { return int((va >> 12) & 0x3ff) }

/// Process_t is one live process: a page directory of up to
/// NPDENTRIES second-level tables, a size in bytes, a resident-set
/// size in bytes, and embedded CPU-time accounting.
type Process_t struct {
	sync.Mutex
	PID   int
	Live  bool
	Pgdir []*Ptab_t
	Sz    uintptr
	RSS   int64
	Accnt accnt.Accnt_t
}

/// Walkpgdir returns a pointer to the PTE for va, allocating the
/// second-level table that holds it if alloc is true and it does not
/// yet exist, mirroring spec.md §6's walkpgdir(pgdir, va, alloc).
func (p *Process_t) Walkpgdir(va uintptr, alloc bool) *defs.Pa_t {
	d := pdx(va)
	if p.Pgdir[d] == nil {
		if !alloc {
			return nil
		}
		p.Pgdir[d] = &Ptab_t{}
	}
	return &p.Pgdir[d][ptx(va)]
}

/// ChangeRSS adjusts this process's resident-set size by delta pages.
func (p *Process_t) ChangeRSS(delta int64) {
	p.Lock()
	p.RSS += delta * defs.PGSIZE
	p.Unlock()
}

/// Table_t is the fixed process table spec.md §6 names: a slice of
/// NPROC slots enumerable by index.
type Table_t struct {
	sync.Mutex
	procs []*Process_t
}

/// MkTable allocates an empty process table sized for cfg.NPROC.
func MkTable(cfg *limits.Config_t) *Table_t {
	return &Table_t{procs: make([]*Process_t, cfg.NPROC)}
}

/// Spawn installs a new live process at the first free slot and
/// returns it. Panics if the table is full.
func (t *Table_t) Spawn() *Process_t {
	t.Lock()
	defer t.Unlock()
	for i, p := range t.procs {
		if p == nil {
			np := &Process_t{PID: i, Live: true, Pgdir: make([]*Ptab_t, 1024)}
			t.procs[i] = np
			return np
		}
	}
	panic("proc: process table full")
}

/// Exit removes a process from the table.
func (t *Table_t) Exit(i int) {
	t.Lock()
	defer t.Unlock()
	t.procs[i] = nil
}

/// IsProc reports whether slot i holds a live process.
func (t *Table_t) IsProc(i int) bool {
	t.Lock()
	defer t.Unlock()
	return i >= 0 && i < len(t.procs) && t.procs[i] != nil
}

/// GetProc returns the process at slot i, or nil.
func (t *Table_t) GetProc(i int) *Process_t {
	t.Lock()
	defer t.Unlock()
	if i < 0 || i >= len(t.procs) {
		return nil
	}
	return t.procs[i]
}

/// Live returns every live process, sorted by PID ascending, the
/// iteration order §4.3/§4.8 assume ("tie broken by the lowest index").
func (t *Table_t) Live() []*Process_t {
	t.Lock()
	defer t.Unlock()
	out := make([]*Process_t, 0, len(t.procs))
	for _, p := range t.procs {
		if p != nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

/// VictimProc returns the live process with the highest RSS, ties
/// broken by lowest PID, matching spec.md §4.3 step 1.
func (t *Table_t) VictimProc() *Process_t {
	live := t.Live()
	if len(live) == 0 {
		return nil
	}
	best := live[0]
	for _, p := range live[1:] {
		if p.RSS > best.RSS {
			best = p
		}
	}
	return best
}

/// ChangeRSS implements spec.md §4.8's change_rss(pa, delta): every
/// live process's page directory is scanned for a resident PTE whose
/// frame address equals pa, and that process's RSS is adjusted.
func (t *Table_t) ChangeRSS(pa defs.Pa_t, delta int64) {
	t.ChangeRSSExcept(pa, delta, nil)
}

/// ChangeRSSExcept is ChangeRSS, skipping except (if non-nil). Used by
/// the evictor to apply add_swap's "every other aliasing process"
/// decrement after the victim selector has already adjusted its own
/// process's RSS directly, so that process's RSS is not double-counted.
/// Every resident PTE equal to pa counts separately, per spec.md §4.8
/// ("for every PTE whose stored value equals pa"), so a process mapping
/// the same frame at more than one address is adjusted once per mapping.
func (t *Table_t) ChangeRSSExcept(pa defs.Pa_t, delta int64, except *Process_t) {
	for _, p := range t.Live() {
		if p == except {
			continue
		}
		matches := int64(0)
		for _, tab := range p.Pgdir {
			if tab == nil {
				continue
			}
			for _, pte := range tab {
				if pte&defs.PTE_P != 0 && pte&defs.PTE_S == 0 && pte&defs.PTE_ADDR == pa {
					matches++
				}
			}
		}
		if matches > 0 {
			p.ChangeRSS(delta * matches)
		}
	}
}
