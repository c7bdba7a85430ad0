package vm

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/number"
)

var diagPrinter = message.NewPrinter(language.English)

// faultReport renders a human-readable diagnostic for a fatal fault:
// the faulting address and the stats.Pmem.FaultsFatal count (which
// stays zero unless the stats.Stats gate is on), plus — when the trap layer hands over the bytes at the
// faulting instruction pointer via SetCodeFetcher — its disassembly,
// the way a kernel "oops" dump names the offending instruction rather
// than just the bare address.
func faultReport(fa uintptr, totalFatal int64, code []byte) string {
	msg := diagPrinter.Sprintf("vm: page_fault: unhandled fault at 0x%x (fatal fault #%d)",
		fa, number.Decimal(totalFatal))
	if len(code) == 0 {
		return msg
	}
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return msg + fmt.Sprintf(" [instruction undecodable: %v]", err)
	}
	return msg + fmt.Sprintf(" [faulting instruction: %s]", x86asm.GNUSyntax(inst, uint64(fa), nil))
}
