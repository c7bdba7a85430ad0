// Package swapdev turns an asynchronous block device into the
// synchronous whole-page transfer the swap subsystem needs, grounded
// on the teacher's fs package: Disk_i/Bdev_req_t/Bdevcmd_t are kept
// nearly verbatim from fs/blk.go, while Bdev_block_t's page-cache
// machinery (Blockmem_i, Objref_t, the block cache callbacks) is
// dropped, since swap slots have no cache, only a synchronous
// read/write of one page at a time spanning eight 512-byte sectors.
package swapdev

import (
	"fmt"

	"defs"
)

/// SectorSize is the size in bytes of one disk sector.
const SectorSize = 512

/// SectorsPerPage is the number of sectors one physical frame spans:
/// "8 sectors = 1 page" (spec.md's swap-slot geometry).
const SectorsPerPage = defs.PGSIZE / SectorSize

/// Bdevcmd_t enumerates disk request types.
type Bdevcmd_t int

const (
	BDEV_READ Bdevcmd_t = iota
	BDEV_WRITE
)

/// Bdev_req_t describes one whole-page block device request: Sector
/// is the non-negative starting sector (it need not be a multiple of
/// SectorsPerPage), Data is exactly one page.
type Bdev_req_t struct {
	Cmd    Bdevcmd_t
	Sector int
	Data   []byte
	AckCh  chan bool
}

/// Disk_i represents a physical disk interface. Start submits a
/// request and returns true if the caller should wait on AckCh for
/// completion; Stats reports implementation-defined diagnostics.
type Disk_i interface {
	Start(*Bdev_req_t) bool
	Stats() string
}

/// ReadPage synchronously reads one page starting at sector, the
/// swap-side analogue of fs's Bdev_block_t.Read.
func ReadPage(d Disk_i, sector int, dst []byte) {
	req := mkPageReq(BDEV_READ, sector, dst)
	if d.Start(req) {
		<-req.AckCh
	}
}

/// WritePage synchronously writes one page starting at sector, the
/// swap-side analogue of fs's Bdev_block_t.Write.
func WritePage(d Disk_i, sector int, src []byte) {
	req := mkPageReq(BDEV_WRITE, sector, src)
	if d.Start(req) {
		<-req.AckCh
	}
}

func mkPageReq(cmd Bdevcmd_t, sector int, data []byte) *Bdev_req_t {
	if len(data) != defs.PGSIZE {
		panic(fmt.Sprintf("swapdev: buffer is %d bytes, want %d", len(data), defs.PGSIZE))
	}
	if sector < 0 {
		panic(fmt.Sprintf("swapdev: negative sector %d", sector))
	}
	return &Bdev_req_t{Cmd: cmd, Sector: sector, Data: data, AckCh: make(chan bool, 1)}
}

/// MemDisk_t is an in-memory Disk_i backing swap during tests and the
/// demo binary, playing the role the teacher's ahci driver plays in
/// production: a byte array addressed by sector.
type MemDisk_t struct {
	sectors []byte
	reads   int
	writes  int
}

/// MkMemDisk allocates an in-memory disk of nsectors sectors.
func MkMemDisk(nsectors int) *MemDisk_t {
	return &MemDisk_t{sectors: make([]byte, nsectors*SectorSize)}
}

/// Start services req immediately and signals completion on AckCh, as
/// if the request had round-tripped through an async controller.
func (m *MemDisk_t) Start(req *Bdev_req_t) bool {
	off := req.Sector * SectorSize
	switch req.Cmd {
	case BDEV_READ:
		m.reads++
		copy(req.Data, m.sectors[off:off+len(req.Data)])
	case BDEV_WRITE:
		m.writes++
		copy(m.sectors[off:off+len(req.Data)], req.Data)
	default:
		panic("swapdev: unknown command")
	}
	req.AckCh <- true
	return true
}

/// Stats reports read/write counts for diagnostics.
func (m *MemDisk_t) Stats() string {
	return fmt.Sprintf("swapdev: %d reads, %d writes", m.reads, m.writes)
}
