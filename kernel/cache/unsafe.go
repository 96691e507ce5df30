package cache

import "unsafe"

// ifaceWords mirrors the runtime's two-word interface representation
// (type pointer, data pointer); used only to fold a block.Device value
// into a hash key.
type ifaceWords struct {
	typ  unsafe.Pointer
	data unsafe.Pointer
}

func interfacePointer(i interface{}) uintptr {
	return uintptr((*ifaceWords)(unsafe.Pointer(&i)).data)
}
