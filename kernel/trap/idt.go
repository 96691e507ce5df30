// Package trap implements the interrupt subsystem: a 256-entry IDT,
// exception/IRQ dispatch, PIC remap with LAPIC promotion, and panic
// rendering with a register dump.
//
// Grounded on gopher-os's src/gopheros/kernel/hal/ gate and irq packages
// (gate.go's IDT-entry layout, irq.go's PIC remap/mask sequence) and on
// the older kernel/ tree's kernel.Panic rendering style, merged into the
// single implementation.
package trap

import (
	"unsafe"

	"github.com/emberkernel/ember/kernel/cpu"
)

const (
	idtEntries   = 256
	gateTypeInt  = 0xE
	syscallVector = 128

	// kernelCodeSelector is the GDT code-segment selector the boot
	// trampoline installs before handing off to the kernel.
	kernelCodeSelector = 0x08
)

// idtEntry is the in-memory layout of one 64-bit-mode IDT gate descriptor.
type idtEntry struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

type idtr struct {
	limit uint16
	base  uint64
}

var idt [idtEntries]idtEntry

// stubAddr returns the entry address of the common-prologue assembly stub
// for vector n, which pushes int_no (and a dummy error code for vectors
// that have none) before jumping to the shared dispatch trampoline.
// Declared in idt_amd64.s; each of the 256 stubs is a few bytes of
// push-immediate + jmp.
func stubAddr(vector int) uintptr

// lidt loads the IDTR. Declared here, implemented in idt_amd64.s.
func lidt(r *idtr)

func setGate(vector int, handler uintptr, dpl uint8) {
	e := &idt[vector]
	e.offsetLow = uint16(handler)
	e.selector = kernelCodeSelector
	e.ist = 0
	e.typeAttr = 0x80 | (dpl&0x3)<<5 | gateTypeInt
	e.offsetMid = uint16(handler >> 16)
	e.offsetHigh = uint32(handler >> 32)
}

// Init installs the IDT: vectors 0..31 are CPU exceptions, 32..47 are
// legacy PIC/LAPIC IRQs, 128 is a DPL=3 syscall gate (present so user mode
// could be added later; unused in this core). Then remaps the PIC and
// attempts LAPIC promotion.
func Init() {
	for v := 0; v < idtEntries; v++ {
		setGate(v, stubAddr(v), 0)
	}
	setGate(syscallVector, stubAddr(syscallVector), 3)

	r := idtr{
		limit: uint16(unsafe.Sizeof(idt) - 1),
		base:  uint64(uintptr(unsafe.Pointer(&idt[0]))),
	}
	lidt(&r)

	remapPIC()
	maskAllExcept(timerIRQ)

	if lapicSupported() {
		enableLAPIC()
	}
}

func lapicSupported() bool {
	_, _, _, edx := cpu.CPUID(1, 0)
	const lapicBit = 1 << 9
	return edx&lapicBit != 0
}
