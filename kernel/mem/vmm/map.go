package vmm

import (
	"github.com/emberkernel/ember/kernel"
	"github.com/emberkernel/ember/kernel/cpu"
	"github.com/emberkernel/ember/kernel/mem"
	"github.com/emberkernel/ember/kernel/mem/pfa"
)

const modTag = "vmm"

// requiredIntermediateFlags is what every intermediate (non-leaf) entry gets: present
// and writable unconditionally, user added only when the leaf mapping
// needs it -- permissions widen monotonically from root to leaf, so an
// intermediate level is never more restrictive than any leaf below it.
const requiredIntermediateFlags = FlagPresent | FlagRW

// Map installs a single 4 KiB mapping of virtAddr to physAddr in as, with
// the given leaf flags (FlagRW, FlagUser as needed; FlagPresent is always
// added). Both addresses are aligned down to the page boundary first.
// Missing intermediate tables (PDPT/PD/PT) are allocated from the PFA and
// zeroed through their HHDM alias; an intermediate table that already
// exists but lacks FlagUser and the leaf requires it is upgraded in
// place.
func Map(as *AddressSpace, virtAddr, physAddr uintptr, flags PageTableEntryFlag) *kernel.Error {
	virtAddr = mem.AlignDown(virtAddr)
	physAddr = mem.AlignDown(physAddr)
	leafFlags := flags | FlagPresent

	table := tableAt(as.pml4)
	for level := 0; level < 3; level++ {
		idx := tableIndex(virtAddr, level)
		entry := &table[idx]

		if !entry.HasFlags(FlagPresent) {
			frame, err := pfa.Default.Alloc()
			if err != nil {
				return err
			}
			child := tableAt(frame)
			for i := range child {
				child[i] = 0
			}
			*entry = 0
			entry.SetFrame(frame)
			entry.SetFlags(requiredIntermediateFlags)
		}
		if leafFlags&FlagUser != 0 && !entry.HasFlags(FlagUser) {
			entry.SetFlags(FlagUser)
		}
		if entry.HasFlags(FlagHugePage) {
			return &kernel.Error{Module: modTag, Kind: kernel.KindInvalidArgument, Message: "cannot walk through a huge page mapping"}
		}

		table = tableAt(entry.Frame())
	}

	leaf := &table[tableIndex(virtAddr, 3)]
	*leaf = 0
	leaf.SetFrame(mem.FrameFromAddress(physAddr))
	leaf.SetFlags(leafFlags)

	cpu.FlushTLBEntry(virtAddr)
	return nil
}

// Unmap clears the leaf mapping for virtAddr in as. Intermediate tables
// are left in place even if they become entirely empty; reclaiming them is
// not attempted here, matching gopher-os's vmm package, which likewise
// never frees intermediate tables once allocated.
func Unmap(as *AddressSpace, virtAddr uintptr) *kernel.Error {
	leaf, err := pteForAddress(as, virtAddr)
	if err != nil {
		return err
	}
	*leaf = 0
	cpu.FlushTLBEntry(mem.AlignDown(virtAddr))
	return nil
}

// Translate resolves a virtual address to its mapped physical address.
func Translate(as *AddressSpace, virtAddr uintptr) (uintptr, *kernel.Error) {
	leaf, err := pteForAddress(as, virtAddr)
	if err != nil {
		return 0, err
	}
	return leaf.Frame().Address() + PageOffset(virtAddr), nil
}

// pteForAddress walks as down to the leaf PTE for virtAddr without
// allocating anything; any missing or non-present entry along the way is
// reported as ErrInvalidMapping.
func pteForAddress(as *AddressSpace, virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	table := tableAt(as.pml4)
	for level := 0; level < 3; level++ {
		entry := &table[tableIndex(virtAddr, level)]
		if !entry.HasFlags(FlagPresent) {
			return nil, ErrInvalidMapping
		}
		table = tableAt(entry.Frame())
	}

	leaf := &table[tableIndex(virtAddr, 3)]
	if !leaf.HasFlags(FlagPresent) {
		return nil, ErrInvalidMapping
	}
	return leaf, nil
}
