// Package heap implements the kernel allocator: a first-fit coalescing
// free list carved out of virtual address space that grows on demand by
// mapping fresh frames through the VMM.
//
// Grounded on gopher-os's kernel/mem/vmm/ early-reservation pattern for
// growing a virtual region on demand, plus a magic-header double-free
// guard (check a magic value in the header on every free to fail fast
// rather than corrupt the free list silently); gopher-os itself has no
// heap allocator package, so the free-list/header layout below is new
// code in the surrounding packages' idiom: kernel.Error returns, kfmt
// diagnostics, unsafe-pointer header access matching mem.Memset/
// Memcopy's reflect.SliceHeader style.
package heap

import (
	"unsafe"

	"github.com/emberkernel/ember/kernel"
	"github.com/emberkernel/ember/kernel/mem"
	"github.com/emberkernel/ember/kernel/mem/pfa"
	"github.com/emberkernel/ember/kernel/mem/vmm"
)

const modTag = "heap"

// headerMagic marks a block header that is still part of the block list;
// it is cleared when a free block is absorbed into a neighbor. Kfree
// rejects a pointer whose header lacks it, and rejects a block already
// marked free, so a second kfree of the same pointer is caught instead of
// corrupting the free list.
const headerMagic = 0x6b616548656d6148 // "HameHeak" ascii (little-endian), arbitrary but fixed

const minSplitSlack = 16

// header precedes every allocation, live or free.
type header struct {
	magic uint64
	size  uintptr // payload bytes, not including this header
	free  bool
	next  *header // next header in address order (both free and used)
}

const headerSize = unsafe.Sizeof(header{})

// Stats reports heap-wide accounting: bytes allocated, bytes free, and
// the number of live (un-freed) allocations.
type Stats struct {
	Allocated  uintptr
	Free       uintptr
	LiveAllocs uint64
}

// Heap is a single growable virtual region backed by demand-mapped frames.
type Heap struct {
	as         *vmm.AddressSpace
	base       uintptr
	top        uintptr // first byte not yet mapped
	limit      uintptr // end of the reserved virtual region
	head       *header
	liveAllocs uint64
}

// New reserves [base, base+limit) of as's virtual address space for the
// heap; no frames are mapped until the first allocation needs them.
func New(as *vmm.AddressSpace, base uintptr, limit mem.Size) *Heap {
	return &Heap{as: as, base: base, top: base, limit: base + uintptr(limit)}
}

// grow maps one more frame at the end of the heap's mapped region and
// extends the free list to cover it, coalescing with the previous tail
// block when possible.
func (h *Heap) grow() *kernel.Error {
	if h.top+uintptr(mem.PageSize) > h.limit {
		return &kernel.Error{Module: modTag, Kind: kernel.KindOutOfMemory, Message: "heap virtual region exhausted"}
	}

	frame, err := pfa.Default.Alloc()
	if err != nil {
		return err
	}
	if err := vmm.Map(h.as, h.top, frame.Address(), vmm.FlagRW); err != nil {
		pfa.Default.Free(frame)
		return err
	}

	newBlock := (*header)(unsafe.Pointer(h.top))
	*newBlock = header{magic: headerMagic, size: uintptr(mem.PageSize) - headerSize, free: true}
	h.top += uintptr(mem.PageSize)

	if tail := h.lastBlock(); tail != nil && tail.free {
		h.mergeForward(tail)
	} else {
		h.appendBlock(newBlock)
	}
	return nil
}

func (h *Heap) lastBlock() *header {
	if h.head == nil {
		return nil
	}
	b := h.head
	for b.next != nil {
		b = b.next
	}
	return b
}

func (h *Heap) appendBlock(b *header) {
	if h.head == nil {
		h.head = b
		return
	}
	h.lastBlock().next = b
}

// mergeForward absorbs the freshly grown page into tail, which must be the
// free block immediately preceding it in address order.
func (h *Heap) mergeForward(tail *header) {
	tail.size += headerSize + (uintptr(mem.PageSize) - headerSize)
}

// Kmalloc returns a pointer to an 8-byte-aligned block of at least n
// bytes, growing the heap as needed.
func (h *Heap) Kmalloc(n uintptr) (unsafe.Pointer, *kernel.Error) {
	if n == 0 {
		n = 1
	}
	n = alignUp8(n)

	for {
		if b := h.firstFit(n); b != nil {
			h.allocateBlock(b, n)
			h.liveAllocs++
			return unsafe.Pointer(uintptr(unsafe.Pointer(b)) + headerSize), nil
		}
		if err := h.grow(); err != nil {
			return nil, err
		}
	}
}

// Kcalloc is Kmalloc followed by zeroing.
func (h *Heap) Kcalloc(count, size uintptr) (unsafe.Pointer, *kernel.Error) {
	p, err := h.Kmalloc(count * size)
	if err != nil {
		return nil, err
	}
	mem.Memset(uintptr(p), 0, mem.Size(count*size))
	return p, nil
}

func (h *Heap) firstFit(n uintptr) *header {
	for b := h.head; b != nil; b = b.next {
		if b.free && b.size >= n {
			return b
		}
	}
	return nil
}

// allocateBlock marks b used, splitting off a trailing free block when the
// remainder is large enough to be worth keeping: request size plus header
// plus minSplitSlack bytes of slack.
func (h *Heap) allocateBlock(b *header, n uintptr) {
	if b.size >= n+headerSize+minSplitSlack {
		remainder := (*header)(unsafe.Pointer(uintptr(unsafe.Pointer(b)) + headerSize + n))
		*remainder = header{magic: headerMagic, size: b.size - n - headerSize, free: true, next: b.next}
		b.next = remainder
		b.size = n
	}
	b.free = false
}

// Kfree returns p's block to the free list and coalesces with either
// immediate neighbor that is also free.
func (h *Heap) Kfree(p unsafe.Pointer) *kernel.Error {
	b := (*header)(unsafe.Pointer(uintptr(p) - headerSize))
	if b.magic != headerMagic {
		return &kernel.Error{Module: modTag, Kind: kernel.KindInvalidArgument, Message: "kfree: bad or double-freed pointer"}
	}
	if b.free {
		return &kernel.Error{Module: modTag, Kind: kernel.KindInvalidArgument, Message: "kfree: double free"}
	}

	b.free = true
	h.liveAllocs--

	if b.next != nil && b.next.free {
		b.size += headerSize + b.next.size
		b.next.magic = 0
		b.next = b.next.next
	}
	if prev := h.blockBefore(b); prev != nil && prev.free {
		prev.size += headerSize + b.size
		b.magic = 0
		prev.next = b.next
	}
	return nil
}

func (h *Heap) blockBefore(target *header) *header {
	for b := h.head; b != nil; b = b.next {
		if b.next == target {
			return b
		}
	}
	return nil
}

// Stats reports current allocator-wide accounting.
func (h *Heap) Stats() Stats {
	var s Stats
	s.LiveAllocs = h.liveAllocs
	for b := h.head; b != nil; b = b.next {
		if b.free {
			s.Free += b.size
		} else {
			s.Allocated += b.size
		}
	}
	return s
}

func alignUp8(n uintptr) uintptr {
	return (n + 7) &^ 7
}
