// Command pmsim drives the physical memory subsystem end to end
// outside of a real kernel: it builds a small physical address space,
// spawns a couple of simulated processes, and walks them through
// allocation, copy-on-write sharing, eviction under memory pressure,
// and swap-in, printing the subsystem's counters as it goes.
//
// The original chentry tool it replaces patched an ELF entry point
// during the build of a real kernel image; this tool keeps its
// flag-parsing-then-log.Fatal shape but drives this subsystem's own
// public surface instead.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"defs"
	"limits"
	"mem"
	"proc"
	"rmap"
	"stats"
	"swap"
	"swapdev"
	"victim"
	"vm"
)

func main() {
	physMiB := flag.Int("physmb", 16, "simulated physical address space size in MiB")
	kernelMiB := flag.Int("kernelmb", 1, "simulated kernel image size in MiB, reserved below PHYSTOP")
	nproc := flag.Int("nproc", 8, "simulated process table size")
	slots := flag.Int("slots", 32, "simulated swap slot count")
	pprofPath := flag.String("pprof", "", "write the run's stats.Pmem counters as a pprof profile to this path")
	flag.Parse()

	if *physMiB <= *kernelMiB {
		log.Fatalf("pmsim: -physmb (%d) must exceed -kernelmb (%d)", *physMiB, *kernelMiB)
	}

	cfg := &limits.Config_t{
		PGSIZE:     defs.PGSIZE,
		PHYSTOP:    uintptr(*physMiB) << 20,
		EndKernel:  uintptr(*kernelMiB) << 20,
		NPROC:      *nproc,
		NPDENTRIES: 1024,
		NPTENTRIES: 1024,
		SWAPBLOCKS: *slots * 8,
	}

	phys, err := mem.Init(cfg)
	if err != nil {
		log.Fatalf("pmsim: %v", err)
	}
	rmaps := rmap.Init(cfg)
	disk := swapdev.MkMemDisk(2 + cfg.SWAPBLOCKS)
	swp := swap.Init(cfg, disk)
	procs := proc.MkTable(cfg)
	sel := victim.MkSelector(procs, rmaps)
	ev := swap.MkEvictor(phys, swp, rmaps, procs, sel)
	phys.SetEvictor(ev)

	var cur *proc.Process_t
	disp := vm.MkDispatcher(procs, rmaps, phys, swp,
		func() uintptr { return 0 },
		func(defs.Pa_t) {},
		func() *proc.Process_t { return cur })

	fmt.Println(phys.Report())

	parent := procs.Spawn()
	child := procs.Spawn()
	parent.Sz = defs.PGSIZE
	child.Sz = defs.PGSIZE

	pa, ok := phys.Kalloc()
	if !ok {
		log.Fatalf("pmsim: kalloc failed on a fresh arena")
	}
	copy(phys.Bytes(pa), []byte("pmsim demo page contents"))

	ppte := parent.Walkpgdir(0, true)
	cpte := child.Walkpgdir(0, true)
	*ppte = pa | defs.PTE_P | defs.PTE_U
	*cpte = pa | defs.PTE_P | defs.PTE_U
	rmaps.ShareAdd(pa, ppte)
	rmaps.ShareAdd(pa, cpte)
	fmt.Printf("forked: frame %#x shared, ref=%d\n", pa, rmaps.Ref(pa))

	child.Accnt.Utadd(int64(time.Millisecond))
	cur = child
	disp.PageFault()
	fmt.Printf("child wrote: cow split to frame %#x, parent frame %#x ref=%d\n",
		*cpte&defs.PTE_ADDR, pa, rmaps.Ref(pa))

	fmt.Printf("free pages before pressure: %d\n", phys.NumFreePages())
	for phys.NumFreePages() > 0 {
		if _, ok := phys.Kalloc(); !ok {
			break
		}
	}
	fmt.Printf("free pages after filling: %d\n", phys.NumFreePages())

	if _, ok := phys.Kalloc(); ok {
		fmt.Println("pressure: kalloc evicted a cold frame to satisfy the request")
	}

	if *ppte&defs.PTE_S != 0 {
		cur = parent
		disp.PageFault()
		fmt.Printf("parent's page faulted back in at frame %#x\n", *ppte&defs.PTE_ADDR)
	}

	fmt.Println(swp.Stats())
	fmt.Println(phys.Report())
	fmt.Printf("child accounting: user=%dns sys=%dns\n", child.Accnt.Userns, child.Accnt.Sysns)
	fmt.Printf("parent accounting: user=%dns sys=%dns\n", parent.Accnt.Userns, parent.Accnt.Sysns)
	if counters := stats.Dump(); counters != "" {
		fmt.Print(counters)
	}

	if *pprofPath != "" {
		f, err := os.Create(*pprofPath)
		if err != nil {
			log.Fatalf("pmsim: %v", err)
		}
		defer f.Close()
		if err := stats.DumpProfile().Write(f); err != nil {
			log.Fatalf("pmsim: writing pprof profile: %v", err)
		}
		fmt.Printf("wrote pprof profile to %s\n", *pprofPath)
	}
}
