package vm

import (
	"bytes"
	"testing"

	"defs"
	"limits"
	"mem"
	"proc"
	"rmap"
	"swap"
	"swapdev"
	"victim"
)

type harness_t struct {
	phys    *mem.Physmem_t
	rmaps   *rmap.Table_t
	swp     *swap.Table_t
	procs   *proc.Table_t
	disp    *Dispatcher_t
	faultAt func(uintptr)
}

func mkharness(t *testing.T) *harness_t {
	cfg := limits.Default()
	phys, err := mem.Init(cfg)
	if err != nil {
		t.Fatalf("mem.Init: %v", err)
	}
	rmaps := rmap.Init(cfg)
	disk := swapdev.MkMemDisk(2 + cfg.SWAPBLOCKS)
	swp := swap.Init(cfg, disk)
	procs := proc.MkTable(cfg)
	sel := victim.MkSelector(procs, rmaps)
	ev := swap.MkEvictor(phys, swp, rmaps, procs, sel)
	phys.SetEvictor(ev)

	h := &harness_t{phys: phys, rmaps: rmaps, swp: swp, procs: procs}
	var curva uintptr
	h.disp = MkDispatcher(procs, rmaps, phys, swp,
		func() uintptr { return curva },
		func(defs.Pa_t) {},
		func() *proc.Process_t { return h.procs.GetProc(0) })
	h.faultAt = func(va uintptr) { curva = va }
	return h
}

func (h *harness_t) setFaultVA(va uintptr) { h.faultAt(va) }

func TestShareSplitDegenerateFreesOldFrame(t *testing.T) {
	h := mkharness(t)
	p := h.procs.Spawn()
	s := MkSplitter(h.phys, h.rmaps)

	pa, _ := h.phys.Kalloc()
	want := bytes.Repeat([]byte{0x11}, defs.PGSIZE)
	copy(h.phys.Bytes(pa), want)

	pte := p.Walkpgdir(0, true)
	*pte = pa | defs.PTE_P
	h.rmaps.ShareAdd(pa, pte)

	freeBefore := h.phys.NumFreePages()
	newPa := s.ShareSplit(pa, pte)

	if newPa == pa {
		t.Fatalf("expected a distinct frame after split")
	}
	if *pte&defs.PTE_ADDR != newPa {
		t.Fatalf("expected pte repointed at the new frame")
	}
	if *pte&defs.PTE_W == 0 {
		t.Fatalf("expected pte writable after split")
	}
	if !bytes.Equal(h.phys.Bytes(newPa), want) {
		t.Fatalf("expected new frame to be a byte-for-byte copy")
	}
	if h.rmaps.Ref(newPa) != 1 {
		t.Fatalf("expected new frame ref 1, got %d", h.rmaps.Ref(newPa))
	}
	if h.phys.NumFreePages() != freeBefore {
		t.Fatalf("expected the orphaned old frame returned to the allocator, offsetting the new frame")
	}
}

func TestShareSplitSharedLeavesOldFrameIntact(t *testing.T) {
	h := mkharness(t)
	p1 := h.procs.Spawn()
	p2 := h.procs.Spawn()
	s := MkSplitter(h.phys, h.rmaps)

	pa, _ := h.phys.Kalloc()
	original := bytes.Repeat([]byte{0x22}, defs.PGSIZE)
	copy(h.phys.Bytes(pa), original)

	pte1 := p1.Walkpgdir(0, true)
	pte2 := p2.Walkpgdir(0, true)
	*pte1 = pa | defs.PTE_P
	*pte2 = pa | defs.PTE_P
	h.rmaps.ShareAdd(pa, pte1)
	h.rmaps.ShareAdd(pa, pte2)

	newPa := s.ShareSplit(pa, pte2)

	if h.rmaps.Ref(pa) != 1 {
		t.Fatalf("expected old frame ref 1 after split, got %d", h.rmaps.Ref(pa))
	}
	if *pte1&defs.PTE_W == 0 {
		t.Fatalf("expected sole remaining sharer to regain PTE_W")
	}
	if !bytes.Equal(h.phys.Bytes(pa), original) {
		t.Fatalf("expected original frame contents unchanged")
	}
	if h.rmaps.Ref(newPa) != 1 {
		t.Fatalf("expected new frame ref 1, got %d", h.rmaps.Ref(newPa))
	}
	if *pte2&defs.PTE_ADDR != newPa || *pte2&defs.PTE_W == 0 {
		t.Fatalf("expected the splitting pte repointed and writable")
	}
}

func TestPageFaultDispatchesCOW(t *testing.T) {
	h := mkharness(t)
	p := h.procs.Spawn()
	p.Sz = defs.PGSIZE

	pa, _ := h.phys.Kalloc()
	pte := p.Walkpgdir(0, true)
	*pte = pa | defs.PTE_P | defs.PTE_U
	h.rmaps.ShareAdd(pa, pte)

	h.setFaultVA(0)
	h.disp.PageFault()

	if *pte&defs.PTE_W == 0 {
		t.Fatalf("expected COW fault to leave the pte writable")
	}
	if *pte&defs.PTE_ADDR == pa {
		t.Fatalf("expected COW fault to repoint the pte at a new frame")
	}
	if p.Accnt.Sysns == 0 {
		t.Fatalf("expected the fault handling time charged to the process's system-time bucket")
	}
}

func TestPageFaultDispatchesSwapIn(t *testing.T) {
	h := mkharness(t)
	p := h.procs.Spawn()
	p.Sz = defs.PGSIZE

	pa, _ := h.phys.Kalloc()
	want := bytes.Repeat([]byte{0x77}, defs.PGSIZE)
	copy(h.phys.Bytes(pa), want)

	pte := p.Walkpgdir(0, true)
	*pte = pa | defs.PTE_P | defs.PTE_W | defs.PTE_U
	h.rmaps.ShareAdd(pa, pte)

	sel := victim.MkSelector(h.procs, h.rmaps)
	ev := swap.MkEvictor(h.phys, h.swp, h.rmaps, h.procs, sel)
	if _, ok := ev.Evict(); !ok {
		t.Fatalf("expected eviction to succeed")
	}
	if *pte&defs.PTE_S == 0 {
		t.Fatalf("expected the pte rewritten to a swap cookie by eviction")
	}

	rssBefore := p.RSS
	h.setFaultVA(0)
	h.disp.PageFault()

	if *pte&defs.PTE_S != 0 {
		t.Fatalf("expected pte resident again after swap-in fault")
	}
	if !bytes.Equal(h.phys.Bytes(*pte&defs.PTE_ADDR), want) {
		t.Fatalf("recovered frame contents do not match what was evicted")
	}
	if p.RSS != rssBefore+defs.PGSIZE {
		t.Fatalf("expected RSS bumped by one page on swap-in, before=%d after=%d", rssBefore, p.RSS)
	}
}

func TestPageFaultFatalOnUnmappedAddress(t *testing.T) {
	h := mkharness(t)
	h.procs.Spawn()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on an unrecognizable fault")
		}
	}()
	h.setFaultVA(0)
	h.disp.PageFault()
}
