package swap

import (
	"bytes"
	"testing"

	"defs"
	"limits"
	"mem"
	"proc"
	"rmap"
	"swapdev"
	"victim"
)

func harness(t *testing.T) (*mem.Physmem_t, *Table_t, *rmap.Table_t, *proc.Table_t, *Evictor_t) {
	cfg := limits.Default()
	phys, err := mem.Init(cfg)
	if err != nil {
		t.Fatalf("mem.Init: %v", err)
	}
	disk := swapdev.MkMemDisk(2 + cfg.SWAPBLOCKS)
	swp := Init(cfg, disk)
	rmaps := rmap.Init(cfg)
	procs := proc.MkTable(cfg)
	sel := victim.MkSelector(procs, rmaps)
	ev := MkEvictor(phys, swp, rmaps, procs, sel)
	phys.SetEvictor(ev)
	return phys, swp, rmaps, procs, ev
}

func TestEvictWritesFrameAndFreesIt(t *testing.T) {
	phys, _, rmaps, procs, ev := harness(t)
	p := procs.Spawn()

	pa, ok := phys.Kalloc()
	if !ok {
		t.Fatalf("kalloc failed")
	}
	copy(phys.Bytes(pa), bytes.Repeat([]byte{0x42}, defs.PGSIZE))

	pte := p.Walkpgdir(0, true)
	*pte = pa | defs.PTE_P | defs.PTE_W
	p.Sz = defs.PGSIZE
	rmaps.ShareAdd(pa, pte)

	freeBefore := phys.NumFreePages()
	evicted, ok := ev.Evict()
	if !ok {
		t.Fatalf("expected eviction to succeed")
	}
	if evicted != pa {
		t.Fatalf("expected the frame just mapped to be evicted")
	}
	if phys.NumFreePages() != freeBefore+1 {
		t.Fatalf("expected the evicted frame back on the free list")
	}
	if *pte&defs.PTE_S == 0 {
		t.Fatalf("expected the pte rewritten to a swap cookie")
	}
	if rmaps.Ref(pa) != 0 {
		t.Fatalf("expected rmap drained to ref 0 after eviction")
	}
}

func TestRoundTripThroughSwap(t *testing.T) {
	phys, swp, rmaps, procs, ev := harness(t)
	p := procs.Spawn()

	pa, ok := phys.Kalloc()
	if !ok {
		t.Fatalf("kalloc failed")
	}
	want := bytes.Repeat([]byte{0x99}, defs.PGSIZE)
	copy(phys.Bytes(pa), want)

	pte := p.Walkpgdir(0, true)
	*pte = pa | defs.PTE_P | defs.PTE_W
	p.Sz = defs.PGSIZE
	rmaps.ShareAdd(pa, pte)

	if _, ok := ev.Evict(); !ok {
		t.Fatalf("expected eviction to succeed")
	}
	slot := defs.SlotOf(*pte)

	newPa := swp.PageIn(phys, rmaps, slot)
	if !bytes.Equal(phys.Bytes(newPa), want) {
		t.Fatalf("recovered frame contents do not match what was evicted")
	}
	if *pte&defs.PTE_S != 0 {
		t.Fatalf("expected pte resident again after page-in")
	}
	if *pte&defs.PTE_A == 0 {
		t.Fatalf("expected accessed bit set on page-in")
	}
	if rmaps.Ref(newPa) != 1 {
		t.Fatalf("expected rmap re-added on recovery")
	}
}

func TestRecoverSwapOfEmptySlotPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic recovering an empty slot")
		}
	}()
	_, swp, rmaps, _, _ := harness(t)
	swp.RecoverSwap(rmaps, 0, 0)
}

func TestEvictDecrementsOtherAliasingProcessRSS(t *testing.T) {
	phys, _, rmaps, procs, ev := harness(t)
	p1 := procs.Spawn()
	p2 := procs.Spawn()

	pa, ok := phys.Kalloc()
	if !ok {
		t.Fatalf("kalloc failed")
	}

	pte1 := p1.Walkpgdir(0, true)
	pte2 := p2.Walkpgdir(0, true)
	*pte1 = pa | defs.PTE_P
	*pte2 = pa | defs.PTE_P
	p1.Sz = defs.PGSIZE
	p2.Sz = defs.PGSIZE
	rmaps.ShareAdd(pa, pte1)
	rmaps.ShareAdd(pa, pte2)
	p1.ChangeRSS(1)
	p2.ChangeRSS(1)

	if _, ok := ev.Evict(); !ok {
		t.Fatalf("expected eviction to succeed")
	}

	if p1.RSS != 0 {
		t.Fatalf("expected the selected victim's own RSS decremented, got %d", p1.RSS)
	}
	if p2.RSS != 0 {
		t.Fatalf("expected the other aliasing process's RSS decremented too, got %d", p2.RSS)
	}
}

func TestCleanSwapFreesSlotWhenSetEmpties(t *testing.T) {
	phys, swp, rmaps, procs, ev := harness(t)
	p := procs.Spawn()

	pa, _ := phys.Kalloc()
	pte := p.Walkpgdir(0, true)
	*pte = pa | defs.PTE_P | defs.PTE_W
	p.Sz = defs.PGSIZE
	rmaps.ShareAdd(pa, pte)

	ev.Evict()
	slot := defs.SlotOf(*pte)
	if swp.slots[slot].free {
		t.Fatalf("expected slot in use before cleanup")
	}

	CleanSwap(swp, p.Pgdir)
	if !swp.slots[slot].free {
		t.Fatalf("expected slot freed once its pte set emptied")
	}
}
