// Package victim implements cold-frame selection and access-bit aging
// (spec.md §4.3), grounded on pageswap.c's commented-out victim_page/
// unset_access pair, generalized from a single-process scan to the
// rmap-aware "every alias cold" test spec.md adds on top of the
// original's single-PTE accessed-bit check.
package victim

import (
	"defs"
	"proc"
	"rmap"
)

/// Selector_t selects frames for eviction by consulting the process
/// table for a victim process and the reverse map for alias coldness.
type Selector_t struct {
	procs *proc.Table_t
	rmaps *rmap.Table_t
}

/// MkSelector builds a selector over the given process and rmap tables.
func MkSelector(procs *proc.Table_t, rmaps *rmap.Table_t) *Selector_t {
	return &Selector_t{procs: procs, rmaps: rmaps}
}

/// Select implements victim_page(): repeatedly picks the highest-RSS
/// live process, scans its address space from 0 in page-sized steps
/// for the first present PTE whose frame is cold on every alias,
/// decrements that process's own RSS, and returns the PTE, the frame
/// address it currently resolves to, and the owning process (so a
/// caller can exclude it from any further per-alias RSS accounting).
/// If no cold frame is found in one pass, it ages the accessed bit on
/// ⌈hot/10⌉ of the process's present PTEs (propagated to every alias
/// via rmap) and loops.
func (s *Selector_t) Select() (*defs.Pa_t, defs.Pa_t, *proc.Process_t) {
	for {
		p := s.procs.VictimProc()
		if p == nil {
			panic("victim: no live process to select a victim from")
		}

		hot := 0
		for va := uintptr(0); va < p.Sz; va += defs.PGSIZE {
			pte := p.Walkpgdir(va, false)
			if pte == nil || *pte&defs.PTE_P == 0 {
				continue
			}
			pa := *pte & defs.PTE_ADDR
			if s.allAliasesCold(pa) {
				p.ChangeRSS(-1)
				return pte, pa, p
			}
			hot++
		}
		s.unsetAccess(p, hot)
	}
}

func (s *Selector_t) allAliasesCold(pa defs.Pa_t) bool {
	for _, pte := range s.rmaps.Ptes(pa) {
		if *pte&defs.PTE_A != 0 {
			return false
		}
	}
	return true
}

func (s *Selector_t) unsetAccess(p *proc.Process_t, hotCount int) {
	z := (hotCount + 9) / 10
	for va := uintptr(0); va < p.Sz && z > 0; va += defs.PGSIZE {
		pte := p.Walkpgdir(va, false)
		if pte == nil || *pte&defs.PTE_P == 0 || *pte&defs.PTE_A == 0 {
			continue
		}
		pa := *pte & defs.PTE_ADDR
		s.clearAccess(pa)
		z--
	}
}

func (s *Selector_t) clearAccess(pa defs.Pa_t) {
	for _, pte := range s.rmaps.Ptes(pa) {
		*pte &^= defs.PTE_A
	}
}
