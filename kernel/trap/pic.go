package trap

import (
	"unsafe"

	"github.com/emberkernel/ember/kernel/cpu"
	"github.com/emberkernel/ember/kernel/mem/hhdm"
)

// Legacy 8259 PIC ports.
const (
	pic1Command = 0x20
	pic1Data    = 0x21
	pic2Command = 0xA0
	pic2Data    = 0xA1

	picEOI = 0x20

	pic1VectorBase = 0x20 // IRQ0 -> vector 32
	pic2VectorBase = 0x28 // IRQ8 -> vector 40

	icw1Init  = 0x11
	icw4_8086 = 0x01
)

const timerIRQ = 0

// apicEnabled tracks whether LAPIC promotion succeeded, switching the EOI
// path in sendEOI accordingly.
var apicEnabled bool

// remapPIC reprograms the 8259 pair so IRQs 0..15 land on vectors 32..47
// instead of colliding with CPU exception vectors 8..15, the standard
// real-mode-BIOS default.
func remapPIC() {
	cpu.Out8(pic1Command, icw1Init)
	cpu.IOWait()
	cpu.Out8(pic2Command, icw1Init)
	cpu.IOWait()

	cpu.Out8(pic1Data, pic1VectorBase)
	cpu.IOWait()
	cpu.Out8(pic2Data, pic2VectorBase)
	cpu.IOWait()

	cpu.Out8(pic1Data, 4) // tell PIC1 that PIC2 sits at IRQ2
	cpu.IOWait()
	cpu.Out8(pic2Data, 2) // tell PIC2 its cascade identity
	cpu.IOWait()

	cpu.Out8(pic1Data, icw4_8086)
	cpu.IOWait()
	cpu.Out8(pic2Data, icw4_8086)
	cpu.IOWait()
}

// maskAllExcept masks every IRQ line on both PICs except keep; boot
// leaves only the timer (IRQ 0) unmasked.
func maskAllExcept(keep uint8) {
	var mask1, mask2 uint8 = 0xFF, 0xFF
	if keep < 8 {
		mask1 &^= 1 << keep
	} else {
		mask2 &^= 1 << (keep - 8)
	}
	cpu.Out8(pic1Data, mask1)
	cpu.Out8(pic2Data, mask2)
}

// sendEOI acknowledges vector on the LAPIC if enabled, else on the legacy
// PIC pair (PIC2 first when the vector came from it).
func sendEOI(vector uint8) {
	if apicEnabled {
		lapicWrite(lapicRegEOI, 0)
		return
	}
	if vector >= pic2VectorBase {
		cpu.Out8(pic2Command, picEOI)
	}
	cpu.Out8(pic1Command, picEOI)
}

// LAPIC registers, offsets into the MMIO page.
const (
	lapicRegEOI      = 0xB0
	lapicRegSpurious = 0xF0
	lapicRegTPR      = 0x80

	ia32ApicBaseMSR = 0x1B
	apicBaseEnable  = 1 << 11
	apicMMIOMask    = ^uintptr(0xFFF)
)

var lapicBase uintptr

func lapicWrite(reg uint32, val uint32) {
	p := (*uint32)(unsafe.Pointer(lapicBase + uintptr(reg)))
	*p = val
}

// enableLAPIC maps the LAPIC through HHDM, sets the global enable bit in
// IA32_APIC_BASE, programs the spurious-interrupt vector with
// software-enable set, and zeroes the task-priority register so every
// vector is accepted.
func enableLAPIC() {
	base := cpu.ReadMSR(ia32ApicBaseMSR)
	physBase := uintptr(base) & apicMMIOMask

	cpu.WriteMSR(ia32ApicBaseMSR, base|apicBaseEnable)
	lapicBase = hhdm.PhysToVirt(physBase)

	lapicWrite(lapicRegSpurious, 0x100|0xFF)
	lapicWrite(lapicRegTPR, 0)

	apicEnabled = true
}
