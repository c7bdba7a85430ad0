package mem

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/number"

	"defs"
)

var reportPrinter = message.NewPrinter(language.English)

/// Report renders a one-line, comma-grouped summary of the allocator's
/// current occupancy, the hosted-Go equivalent of the teacher's own
/// Phys_init boot message ("Reserved %v pages (%vMB)\n"): useful in
/// diagnostics and the demo binary where raw page counts on a
/// many-megabyte arena are hard to read at a glance.
func (phys *Physmem_t) Report() string {
	free := phys.NumFreePages()
	total := phys.NFrames()
	used := total - free
	bytesFree := int64(free) * defs.PGSIZE
	return reportPrinter.Sprintf("mem: %d/%d frames free (%d in use), %d bytes free",
		number.Decimal(free), number.Decimal(total), number.Decimal(used), number.Decimal(bytesFree))
}
