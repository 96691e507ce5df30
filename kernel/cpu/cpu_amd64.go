// Package cpu wraps the handful of amd64 primitives that cannot be
// expressed in Go: port I/O, MSR access, CPUID, TLB control and the halt
// instruction. Every exported function here is a naked assembly trampoline
// linked in from cpu_amd64.s — the function bodies below are intentionally
// empty, matching gopher-os's kernel/cpu/cpu_amd64.go, which declares these
// the same way and implements them in a sibling .s file.
package cpu

// EnableInterrupts executes STI.
func EnableInterrupts()

// DisableInterrupts executes CLI.
func DisableInterrupts()

// Halt executes HLT. Does not return.
func Halt()

// FlushTLBEntry invalidates the TLB entry for virtAddr (INVLPG).
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT loads CR3 with pdtPhysAddr, flushing the entire TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address currently loaded in CR3.
func ActivePDT() uintptr

// ReadCR2 returns the faulting linear address recorded by the last page
// fault.
func ReadCR2() uint64

// In8/In16/In32 read a byte/word/dword from the given I/O port.
func In8(port uint16) uint8
func In16(port uint16) uint16
func In32(port uint16) uint32

// Out8/Out16/Out32 write a byte/word/dword to the given I/O port.
func Out8(port uint16, val uint8)
func Out16(port uint16, val uint16)
func Out32(port uint16, val uint32)

// ReadMSR reads the model-specific register identified by id.
func ReadMSR(id uint32) uint64

// WriteMSR writes val to the model-specific register identified by id.
func WriteMSR(id uint32, val uint64)

// CPUID executes the CPUID instruction for the given leaf/subleaf and
// returns the eax/ebx/ecx/edx results.
func CPUID(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

// IOWait performs a short, architecturally-meaningless I/O port write (to
// port 0x80) used as a fixed delay while programming legacy devices such as
// the 8259 PIC, which require a small settling time between register writes
// on real hardware.
func IOWait()
