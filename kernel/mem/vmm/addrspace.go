package vmm

import (
	"github.com/emberkernel/ember/kernel"
	"github.com/emberkernel/ember/kernel/cpu"
	"github.com/emberkernel/ember/kernel/mem"
	"github.com/emberkernel/ember/kernel/mem/hhdm"
	"github.com/emberkernel/ember/kernel/mem/pfa"
)

// entriesPerTable is the fixed fan-out of every paging level on amd64.
const entriesPerTable = 512

// kernelPML4Start is the first PML4 index reserved for the kernel's
// shared upper half; every address space's PML4 carries identical
// entries from here up, so a thread can be promoted to kernel-stack code
// after a context switch into any address space without faulting.
const kernelPML4Start = 256

// AddressSpace is one top-level page table (PML4) plus the frame it lives
// in. The zero value is invalid; use CreateAddressSpace or Kernel.
type AddressSpace struct {
	pml4 mem.Frame
}

// kernelSpace is the address space active before any thread-specific one
// is created: the identity/HHDM mapping plus the kernel image, as built by
// the boot trampoline and adopted once by Bootstrap.
var kernelSpace AddressSpace

// Kernel returns the shared kernel address space.
func Kernel() *AddressSpace { return &kernelSpace }

// Bootstrap adopts pml4PhysAddr (the PML4 the boot trampoline already
// installed and activated) as the kernel address space, without walking or
// modifying it. Called once, before any Map/Unmap/Translate.
func Bootstrap(pml4PhysAddr uintptr) {
	kernelSpace.pml4 = mem.FrameFromAddress(pml4PhysAddr)
}

// CreateAddressSpace allocates a fresh PML4, copies the kernel's upper-half
// entries (256..511) into it so every address space shares one view of
// kernel code, data and the HHDM, and zeroes the lower half (0..255) for
// the caller to populate with Map. Mirrors the upper/lower split gopher-os
// documents in kernel/mem/vmm/addr_space.go's EarlyReserveRegion comment,
// adapted here to a real multi-address-space table instead of a single
// recursively-mapped one.
func CreateAddressSpace() (*AddressSpace, *kernel.Error) {
	frame, err := pfa.Default.Alloc()
	if err != nil {
		return nil, err
	}

	dst := tableAt(frame)
	for i := 0; i < kernelPML4Start; i++ {
		dst[i] = 0
	}

	src := tableAt(kernelSpace.pml4)
	copy(dst[kernelPML4Start:], src[kernelPML4Start:])

	return &AddressSpace{pml4: frame}, nil
}

// Destroy frees the PML4 frame. Callers must have already unmapped every
// lower-half entry; Destroy does not walk the tree.
func (as *AddressSpace) Destroy() {
	pfa.Default.FreeContiguous(as.pml4, 1)
}

// PhysAddr returns the physical address of as's PML4.
func (as *AddressSpace) PhysAddr() uintptr { return as.pml4.Address() }

// SwitchTo loads as's PML4 into CR3, making it the active address space.
// Called by the scheduler on every context switch.
func (as *AddressSpace) SwitchTo() {
	cpu.SwitchPDT(as.pml4.Address())
}

// tableAtFn resolves a frame to the table stored in it. A package var so
// tests can replace HHDM-backed physical access with plain Go-heap
// backing, the same indirection gopher-os's kernel/mem/vmm/walk.go gets
// from its ptePtrFn mock hook.
var tableAtFn = hhdmTableAt

// tableAt returns the 512-entry table stored in frame.
func tableAt(frame mem.Frame) *[entriesPerTable]pageTableEntry {
	return tableAtFn(frame)
}

// hhdmTableAt returns the table stored in frame, accessed through its HHDM
// alias. This replaces gopher-os's recursive self-mapped PML4
// (kernel/mem/vmm/walk.go): instead of gaining a level of indirection by
// re-walking the last active PML4, every table is reached directly by
// translating its physical frame through the direct map. This also makes
// walking a non-active address space's tables possible, something a
// recursive self-map cannot do.
func hhdmTableAt(frame mem.Frame) *[entriesPerTable]pageTableEntry {
	addr := hhdm.PhysToVirt(frame.Address())
	return (*[entriesPerTable]pageTableEntry)(ptrFromAddr(addr))
}
