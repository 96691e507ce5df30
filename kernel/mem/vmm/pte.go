// Package vmm implements the paging subsystem: a 4-level x86-64 page
// table walker/mapper built on top of the HHDM, plus an address-space
// type that supports more than one page table at a time
// (create_address_space/switch_to), which a single recursively-self-mapped
// page table — the scheme gopher-os's kernel/mem/vmm/walk.go uses — cannot
// express. The page-table-entry flag API (PageTableEntryFlag,
// HasFlags/SetFlags/ClearFlags/Frame/SetFrame) is taken directly from
// gopher-os's kernel/mem/vmm/pte.go; only the table-walking mechanism
// underneath it changes, from recursive self-mapping to direct HHDM access.
package vmm

import (
	"github.com/emberkernel/ember/kernel"
	"github.com/emberkernel/ember/kernel/mem"
)

// ErrInvalidMapping is returned when translating/unmapping a virtual
// address that has no mapping.
var ErrInvalidMapping = &kernel.Error{Module: "vmm", Kind: kernel.KindInvalidArgument, Message: "virtual address does not point to a mapped physical page"}

// PageTableEntryFlag is a bit flag applicable to a page table entry.
type PageTableEntryFlag uintptr

const (
	// FlagPresent marks the entry as valid.
	FlagPresent PageTableEntryFlag = 1 << 0
	// FlagRW marks the entry writable.
	FlagRW PageTableEntryFlag = 1 << 1
	// FlagUser marks the entry accessible from user mode.
	FlagUser PageTableEntryFlag = 1 << 2
	// FlagHugePage marks a PD/PDPT entry as a leaf (2 MiB/1 GiB page).
	// This core never sets it but recognizes it to refuse to walk
	// through one.
	FlagHugePage PageTableEntryFlag = 1 << 7
)

const ptePhysAddrMask = uintptr(0x000ffffffffff000)

// pageTableEntry is a single 64-bit slot of a PML4/PDPT/PD/PT.
type pageTableEntry uintptr

// HasFlags reports whether every bit in flags is set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return uintptr(pte)&uintptr(flags) == uintptr(flags)
}

// SetFlags ORs flags into the entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uintptr(*pte) | uintptr(flags))
}

// ClearFlags clears flags from the entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical frame this entry points to.
func (pte pageTableEntry) Frame() mem.Frame {
	return mem.FrameFromAddress(uintptr(pte) & ptePhysAddrMask)
}

// SetFrame updates the entry to point at frame, preserving its flags.
func (pte *pageTableEntry) SetFrame(frame mem.Frame) {
	*pte = pageTableEntry((uintptr(*pte) &^ ptePhysAddrMask) | frame.Address())
}
