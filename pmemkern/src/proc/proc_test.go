package proc

import (
	"testing"

	"defs"
	"limits"
)

func TestWalkpgdirAllocatesOnDemand(t *testing.T) {
	tbl := MkTable(limits.Default())
	p := tbl.Spawn()

	pte := p.Walkpgdir(0x1000, false)
	if pte != nil {
		t.Fatalf("expected nil without alloc before any mapping exists")
	}
	pte = p.Walkpgdir(0x1000, true)
	if pte == nil {
		t.Fatalf("expected a PTE slot with alloc=true")
	}
	*pte = defs.Pa_t(0x2000) | defs.PTE_P | defs.PTE_W

	again := p.Walkpgdir(0x1000, false)
	if again != pte {
		t.Fatalf("expected the same PTE slot on a second walk")
	}
}

func TestVictimProcPicksHighestRSSTieLowestPID(t *testing.T) {
	tbl := MkTable(limits.Default())
	a := tbl.Spawn()
	b := tbl.Spawn()
	a.RSS = 4096
	b.RSS = 4096

	v := tbl.VictimProc()
	if v.PID != a.PID {
		t.Fatalf("expected tie broken toward lowest PID, got %d", v.PID)
	}

	b.RSS = 8192
	v = tbl.VictimProc()
	if v.PID != b.PID {
		t.Fatalf("expected process with higher RSS selected, got %d", v.PID)
	}
}

func TestChangeRSSScansOnlyMatchingFrame(t *testing.T) {
	tbl := MkTable(limits.Default())
	a := tbl.Spawn()
	b := tbl.Spawn()

	pa := defs.Pa_t(0x300000)
	pte := a.Walkpgdir(0, true)
	*pte = pa | defs.PTE_P | defs.PTE_W
	a.RSS = defs.PGSIZE

	otherPte := b.Walkpgdir(0, true)
	*otherPte = defs.Pa_t(0x400000) | defs.PTE_P | defs.PTE_W
	b.RSS = defs.PGSIZE

	tbl.ChangeRSS(pa, -1)

	if a.RSS != 0 {
		t.Fatalf("expected a's RSS decremented, got %d", a.RSS)
	}
	if b.RSS != defs.PGSIZE {
		t.Fatalf("expected b's RSS unaffected, got %d", b.RSS)
	}
}

func TestChangeRSSCountsEveryAliasingPTE(t *testing.T) {
	tbl := MkTable(limits.Default())
	a := tbl.Spawn()

	pa := defs.Pa_t(0x300000)
	pte1 := a.Walkpgdir(0, true)
	*pte1 = pa | defs.PTE_P | defs.PTE_W
	pte2 := a.Walkpgdir(defs.PGSIZE, true)
	*pte2 = pa | defs.PTE_P | defs.PTE_W
	a.RSS = 2 * defs.PGSIZE

	tbl.ChangeRSS(pa, -1)

	if a.RSS != 0 {
		t.Fatalf("expected RSS decremented once per aliasing PTE, got %d", a.RSS)
	}
}
