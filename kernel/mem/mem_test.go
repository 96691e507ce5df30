package mem

import (
	"testing"
	"unsafe"
)

// TestMemsetFillsPattern covers both the word-at-a-time bulk fill and the
// unaligned byte tail.
func TestMemsetFillsPattern(t *testing.T) {
	for _, size := range []int{1, 7, 8, 9, 64, 100} {
		buf := make([]byte, size)
		addr := uintptr(unsafe.Pointer(&buf[0]))
		Memset(addr, 0xAB, Size(size))
		for i, b := range buf {
			if b != 0xAB {
				t.Fatalf("size %d: byte %d = %#x, want 0xab", size, i, b)
			}
		}
	}
}

func TestMemsetZeroSizeNoop(t *testing.T) {
	buf := []byte{0x11, 0x22}
	addr := uintptr(unsafe.Pointer(&buf[0]))
	Memset(addr, 0xFF, 0)
	if buf[0] != 0x11 || buf[1] != 0x22 {
		t.Fatalf("zero-size Memset modified buffer: %x", buf)
	}
}

func TestMemcopyCopies(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6, 7}
	dst := make([]byte, len(src))

	Memcopy(uintptr(unsafe.Pointer(&src[0])), uintptr(unsafe.Pointer(&dst[0])), Size(len(src)))

	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, dst[i], src[i])
		}
	}
}
