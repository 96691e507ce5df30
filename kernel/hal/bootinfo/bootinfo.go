// Package bootinfo models the data a UEFI/BIOS-capable boot protocol hands
// the kernel before Kmain runs: the firmware memory map, the HHDM offset,
// and the linear framebuffer descriptor. Acquiring this data is a boot
// protocol request/response handshake this package takes no part in; it
// only describes the shape of what arrives, the same way gopher-os's
// kernel/hal/multiboot package wraps the Multiboot info payload without
// implementing the bootloader side of the handshake.
package bootinfo

// RegionType classifies a firmware-reported memory range.
type RegionType uint8

const (
	// RegionUsable memory is free for the PFA to hand out.
	RegionUsable RegionType = iota
	// RegionReserved memory must never be allocated (firmware tables,
	// MMIO holes, the kernel image itself is carved out separately).
	RegionReserved
)

// String renders the region type for diagnostic logging.
func (t RegionType) String() string {
	if t == RegionUsable {
		return "usable"
	}
	return "reserved"
}

// MemoryMapEntry describes one contiguous physical memory range as reported
// by firmware.
type MemoryMapEntry struct {
	Base   uintptr
	Length uintptr
	Type   RegionType
}

// End returns the exclusive end address of the region.
func (e MemoryMapEntry) End() uintptr { return e.Base + e.Length }

// Framebuffer describes the linear framebuffer handed to the kernel.
type Framebuffer struct {
	Address uintptr
	Width   uint32
	Height  uint32
	Pitch   uint32
	BPP     uint8 // always 32 in this core
}

// Info is the complete payload the boot trampoline passes to Kmain.
type Info struct {
	MemoryMap   []MemoryMapEntry
	HHDMOffset  uintptr
	Framebuffer Framebuffer

	// KernelStart/KernelEnd are the physical extents of the loaded
	// kernel image, reserved by the PFA the same way gopher-os's early
	// allocator reserves them (kernel/mem/pmm/allocator/bitmap_allocator.go
	// reserveKernelFrames).
	KernelStart uintptr
	KernelEnd   uintptr
}

// VisitUsable calls fn for every usable region in the memory map, in the
// order firmware reported them, stopping early if fn returns false.
func (i *Info) VisitUsable(fn func(MemoryMapEntry) bool) {
	for _, r := range i.MemoryMap {
		if r.Type != RegionUsable {
			continue
		}
		if !fn(r) {
			return
		}
	}
}
