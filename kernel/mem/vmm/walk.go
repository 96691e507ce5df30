package vmm

import "unsafe"

// pageLevelShifts holds the bit shift of the index field for PML4, PDPT, PD
// and PT respectively, matching gopher-os's kernel/mem/vmm/walk.go constant
// of the same name. Each level indexes 9 bits (entriesPerTable == 512).
var pageLevelShifts = [4]uint{39, 30, 21, 12}

func tableIndex(virtAddr uintptr, level int) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & (entriesPerTable - 1)
}

// PageOffset returns the byte offset of virtAddr within its containing 4
// KiB page.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (uintptr(1)<<pageLevelShifts[3] - 1)
}

func ptrFromAddr(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr)
}

// ptrFromSlice returns the address of buf's backing array, for test
// backing stores that hand out []byte instead of a real physical frame.
func ptrFromSlice(buf []byte) unsafe.Pointer {
	return unsafe.Pointer(&buf[0])
}
