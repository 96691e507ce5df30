// Package hhdm implements the higher-half direct map: phys_to_virt(p) =
// p + offset, virt_to_phys(v) = v - offset, with offset fixed at boot by
// the firmware/boot-protocol handshake (see kernel/hal/bootinfo).
package hhdm

// offset is the fixed linear-map base handed to the kernel by the boot
// trampoline. Zero until Init is called.
var offset uintptr

// Init records the HHDM offset reported by the boot protocol. Called once,
// before any other memory subsystem package.
func Init(hhdmOffset uintptr) {
	offset = hhdmOffset
}

// Offset returns the currently configured HHDM base.
func Offset() uintptr { return offset }

// PhysToVirt translates a physical address to its direct-mapped virtual
// address.
func PhysToVirt(p uintptr) uintptr { return p + offset }

// VirtToPhys translates a direct-mapped virtual address back to a physical
// address. v must lie within the HHDM window; callers that pass an
// arbitrary virtual address (e.g. one from a user mapping) will get a
// meaningless result, same as gopher-os's equivalent dmap.go helpers,
// which likewise trust the caller to only pass direct-mapped addresses.
func VirtToPhys(v uintptr) uintptr { return v - offset }
