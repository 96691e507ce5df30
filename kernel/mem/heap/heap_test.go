package heap

import (
	"testing"
	"unsafe"

	"github.com/emberkernel/ember/kernel/hal/bootinfo"
	"github.com/emberkernel/ember/kernel/mem"
	"github.com/emberkernel/ember/kernel/mem/pfa"
	"github.com/emberkernel/ember/kernel/mem/vmm"
)

func newTestHeap(t *testing.T) *Heap {
	t.Helper()

	pfa.Default = pfa.Allocator{}
	info := &bootinfo.Info{
		MemoryMap: []bootinfo.MemoryMapEntry{
			{Base: 0, Length: 4096 * uintptr(mem.PageSize), Type: bootinfo.RegionUsable},
		},
	}
	if err := pfa.Default.Init(info); err != nil {
		t.Fatalf("pfa init: %v", err)
	}

	// route every "physical" frame through ordinary Go-heap backing, the
	// same indirection kernel/mem/vmm's tests use for the same reason.
	backing := make(map[uintptr][]byte)
	vmm.SetTestBacking(backing)
	t.Cleanup(vmm.ResetTestBacking)

	kframe, err := pfa.Default.Alloc()
	if err != nil {
		t.Fatalf("alloc pml4: %v", err)
	}
	vmm.Bootstrap(kframe.Address())

	// grow() dereferences the heap's virtual addresses directly (it writes
	// a header in place rather than going through tableAtFn), so unlike
	// Map/Translate's fake page tables, the heap's own backing has to be
	// real Go-heap memory rather than a bare numeric address. Keep buf
	// reachable for the life of the test: the Heap only stores its address
	// as a uintptr, which by itself wouldn't keep the backing array alive.
	const heapSize = 64 * mem.Mb
	buf := make([]byte, heapSize)
	t.Cleanup(func() { _ = buf })
	base := uintptr(unsafe.Pointer(&buf[0]))

	return New(vmm.Kernel(), base, heapSize)
}

func TestKmallocKfreeReuse(t *testing.T) {
	h := newTestHeap(t)

	p1, err := h.Kmalloc(32)
	if err != nil {
		t.Fatalf("kmalloc p1: %v", err)
	}
	if err := h.Kfree(p1); err != nil {
		t.Fatalf("kfree p1: %v", err)
	}

	p2, err := h.Kmalloc(32)
	if err != nil {
		t.Fatalf("kmalloc p2: %v", err)
	}
	if p1 != p2 {
		t.Errorf("expected freed block to be reused: p1=%p p2=%p", p1, p2)
	}
}

func TestKfreeCoalescesNeighbors(t *testing.T) {
	h := newTestHeap(t)

	a, _ := h.Kmalloc(64)
	b, _ := h.Kmalloc(64)
	c, _ := h.Kmalloc(64)

	if err := h.Kfree(a); err != nil {
		t.Fatalf("kfree a: %v", err)
	}
	if err := h.Kfree(b); err != nil {
		t.Fatalf("kfree b: %v", err)
	}
	if err := h.Kfree(c); err != nil {
		t.Fatalf("kfree c: %v", err)
	}

	big, err := h.Kmalloc(150)
	if err != nil {
		t.Fatalf("kmalloc after coalesce: %v", err)
	}
	if big != a {
		t.Errorf("expected coalesced block to start at a's address, got %p want %p", big, a)
	}
}

func TestKfreeDoubleFreeDetected(t *testing.T) {
	h := newTestHeap(t)

	p, _ := h.Kmalloc(16)
	if err := h.Kfree(p); err != nil {
		t.Fatalf("first kfree: %v", err)
	}
	if err := h.Kfree(p); err == nil {
		t.Fatal("expected double-free to be rejected")
	}
}

func TestKcallocZeroes(t *testing.T) {
	h := newTestHeap(t)

	p, err := h.Kcalloc(8, 8)
	if err != nil {
		t.Fatalf("kcalloc: %v", err)
	}
	buf := unsafe.Slice((*byte)(p), 64)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %#x", i, b)
		}
	}
}

func TestStatsAccounting(t *testing.T) {
	h := newTestHeap(t)

	p, err := h.Kmalloc(100)
	if err != nil {
		t.Fatalf("kmalloc: %v", err)
	}
	if got := h.Stats().LiveAllocs; got != 1 {
		t.Errorf("expected 1 live alloc, got %d", got)
	}

	if err := h.Kfree(p); err != nil {
		t.Fatalf("kfree: %v", err)
	}
	if got := h.Stats().LiveAllocs; got != 0 {
		t.Errorf("expected 0 live allocs after free, got %d", got)
	}
}
