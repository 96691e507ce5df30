package sched

import (
	"testing"
	"unsafe"

	"github.com/emberkernel/ember/kernel/hal/bootinfo"
	"github.com/emberkernel/ember/kernel/mem"
	"github.com/emberkernel/ember/kernel/mem/heap"
	"github.com/emberkernel/ember/kernel/mem/pfa"
	"github.com/emberkernel/ember/kernel/mem/vmm"
)

func newTestScheduler(t *testing.T) *heap.Heap {
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

	backing := make(map[uintptr][]byte)
	vmm.SetTestBacking(backing)
	t.Cleanup(vmm.ResetTestBacking)

	kframe, err := pfa.Default.Alloc()
	if err != nil {
		t.Fatalf("alloc pml4: %v", err)
	}
	vmm.Bootstrap(kframe.Address())

	// The heap's grow() and Create's stack-seeding both write through the
	// heap's virtual addresses directly rather than via tableAtFn, so the
	// backing region needs to be real Go-heap memory, not a bare virtual
	// address -- the same reason heap_test.go's newTestHeap backs its heap
	// this way. t.Cleanup keeps buf reachable for the test's lifetime
	// since the heap only stores its address as a uintptr.
	const heapSize = 64 * mem.Mb
	buf := make([]byte, heapSize)
	t.Cleanup(func() { _ = buf })
	base := uintptr(unsafe.Pointer(&buf[0]))

	h := heap.New(vmm.Kernel(), base, heapSize)

	table = [MaxThreads]Thread{}
	currentThread = 0
	bootstrapped = false
	Init(h)

	return h
}

// TestCreateSeedsReadyThread exercises the slot-allocation half of
// Create's contract.
func TestCreateSeedsReadyThread(t *testing.T) {
	newTestScheduler(t)

	th, err := Create("worker", func(arg uintptr) {}, 0, 0, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if th.State != Ready {
		t.Errorf("expected new thread to be Ready, got %v", th.State)
	}
	if th.Context.RSP == 0 {
		t.Error("expected a seeded stack pointer")
	}
}

// TestCreateReusesDeadSlot confirms a Dead slot is recycled rather than
// left to exhaust the table.
func TestCreateReusesDeadSlot(t *testing.T) {
	newTestScheduler(t)

	first, err := Create("a", func(arg uintptr) {}, 0, 0, 1)
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	table[first.ID].State = Dead

	second, err := Create("b", func(arg uintptr) {}, 0, 0, 1)
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected dead slot %d to be reused, got %d", first.ID, second.ID)
	}
}

// TestPickNextRoundRobin exercises the selection policy in isolation,
// without going through a real context switch.
func TestPickNextRoundRobin(t *testing.T) {
	newTestScheduler(t)

	table[1].State = Ready
	table[2].State = Ready

	currentThread = 0
	if got := pickNext(); got != 1 {
		t.Errorf("expected next=1, got %d", got)
	}

	currentThread = 1
	if got := pickNext(); got != 2 {
		t.Errorf("expected next=2, got %d", got)
	}

	table[1].State = Dead
	table[2].State = Dead
	currentThread = 0
	if got := pickNext(); got != 0 {
		t.Errorf("expected fallback to current thread 0, got %d", got)
	}
}

// TestTableFullRejectsCreate exercises the thread table's fixed capacity.
func TestTableFullRejectsCreate(t *testing.T) {
	newTestScheduler(t)

	for i := 0; i < MaxThreads-1; i++ {
		if _, err := Create("t", func(arg uintptr) {}, 0, 0, 1); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	if _, err := Create("overflow", func(arg uintptr) {}, 0, 0, 1); err == nil {
		t.Fatal("expected thread table exhaustion to fail Create")
	}
}
