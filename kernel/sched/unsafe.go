package sched

import "unsafe"

func ptrUint64(addr uintptr) *uint64 {
	return (*uint64)(unsafe.Pointer(addr))
}

// funcAddr returns the entry address of a Go function value with no
// receiver and no closed-over state, such as the package-level
// trampoline. Used only to seed a fresh stack's return address.
func funcAddr(f func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&f))
}
