package mem

import "unsafe"

// Memset sets size bytes at addr to value. Fills 8 bytes at a time with a
// replicated word pattern for as much of the range as divides evenly, then
// finishes the remainder one byte at a time.
func Memset(addr uintptr, value byte, size Size) {
	if size == 0 {
		return
	}

	pattern := uint64(value) * 0x0101010101010101

	words := uintptr(size) / 8
	if words > 0 {
		wordView := unsafe.Slice((*uint64)(unsafe.Pointer(addr)), words)
		for i := range wordView {
			wordView[i] = pattern
		}
	}

	tailOffset := words * 8
	if rem := uintptr(size) - tailOffset; rem > 0 {
		tailView := unsafe.Slice((*byte)(unsafe.Pointer(addr+tailOffset)), rem)
		for i := range tailView {
			tailView[i] = value
		}
	}
}

// Memcopy copies size bytes from src to dst using the direct-mapped
// addresses of both regions.
func Memcopy(src, dst uintptr, size Size) {
	if size == 0 {
		return
	}

	srcSlice := unsafe.Slice((*byte)(unsafe.Pointer(src)), uintptr(size))
	dstSlice := unsafe.Slice((*byte)(unsafe.Pointer(dst)), uintptr(size))
	copy(dstSlice, srcSlice)
}
