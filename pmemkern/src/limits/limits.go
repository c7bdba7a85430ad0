// Package limits collects the system-wide constants this subsystem's
// components are parameterized over, the way the teacher's own limits
// package collects Syslimit_t as a single constructed-once singleton
// (MkSysLimit) rather than scattering magic numbers across packages.
package limits

/// Config_t holds the constants spec.md §6 names as "Constants" and
/// "consumed from collaborators": PGSIZE, PHYSTOP, NPROC, the page
/// table fan-out, and the swap geometry derived from SWAPBLOCKS.
type Config_t struct {
	/// PGSIZE is the size of one physical frame in bytes.
	PGSIZE int
	/// PHYSTOP bounds the physical address space this subsystem
	/// manages: frames live in [EndKernel, PHYSTOP).
	PHYSTOP uintptr
	/// EndKernel is the first physical address after the statically
	/// loaded kernel image; frames below it are reserved and never
	/// appear in any structure this subsystem maintains.
	EndKernel uintptr
	/// NPROC bounds the cardinality of any PTE-location set: no frame
	/// or swap slot can be referenced by more PTEs than there are
	/// processes.
	NPROC int
	/// NPDENTRIES is the fan-out of one level of page directory.
	NPDENTRIES int
	/// NPTENTRIES is the fan-out of one page table (spec.md: equal to
	/// NPDENTRIES on this architecture).
	NPTENTRIES int
	/// SWAPBLOCKS is the number of 512-byte sectors available on the
	/// backing device for swap, starting at block 2.
	SWAPBLOCKS int
}

/// NSlots returns the number of swap slots the configured swap area
/// holds: SWAPBLOCKS / 8, since a slot is one 4 KiB frame laid across
/// eight 512-byte sectors.
func (c *Config_t) NSlots() int {
	return c.SWAPBLOCKS / 8
}

/// NPages returns the number of page frames managed, i.e. the frame
/// count of [EndKernel, PHYSTOP).
func (c *Config_t) NPages() int {
	return int((c.PHYSTOP - c.EndKernel) / uintptr(c.PGSIZE))
}

/// Default returns the constants used throughout this subsystem's own
/// tests: a 16 MiB physical address space with a 1 MiB kernel image,
/// matching spec.md §8 scenario 1, 64 live processes, 1024-entry page
/// tables, and enough swap blocks for 32 slots.
func Default() *Config_t {
	return &Config_t{
		PGSIZE:     4096,
		PHYSTOP:    16 << 20,
		EndKernel:  1 << 20,
		NPROC:      64,
		NPDENTRIES: 1024,
		NPTENTRIES: 1024,
		SWAPBLOCKS: 32 * 8,
	}
}
