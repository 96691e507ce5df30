package pfa

import (
	"testing"

	"github.com/emberkernel/ember/kernel"
	"github.com/emberkernel/ember/kernel/hal/bootinfo"
	"github.com/emberkernel/ember/kernel/mem"
)

func oneRegionInfo(base, length uintptr) *bootinfo.Info {
	return &bootinfo.Info{
		MemoryMap: []bootinfo.MemoryMapEntry{
			{Base: base, Length: length, Type: bootinfo.RegionUsable},
		},
	}
}

// TestAllocFreeReuse allocates 3 frames, frees the middle one, allocates
// again and expects it to be reused.
func TestAllocFreeReuse(t *testing.T) {
	var a Allocator
	info := oneRegionInfo(0x100000, 256*uintptr(mem.PageSize))
	if err := a.Init(info); err != nil {
		t.Fatalf("init: %v", err)
	}

	f1, err := a.Alloc()
	if err != nil {
		t.Fatalf("alloc f1: %v", err)
	}
	f2, err := a.Alloc()
	if err != nil {
		t.Fatalf("alloc f2: %v", err)
	}
	f3, err := a.Alloc()
	if err != nil {
		t.Fatalf("alloc f3: %v", err)
	}
	_ = f1
	_ = f3

	a.Free(f2)

	f4, err := a.Alloc()
	if err != nil {
		t.Fatalf("alloc f4: %v", err)
	}
	if f4 != f2 {
		t.Errorf("expected freed frame %d to be reused, got %d", f2, f4)
	}

	if got := a.Stats().Used; got != 3 {
		t.Errorf("expected 3 used frames, got %d", got)
	}
}

func TestUsedPlusFreeEqualsTotal(t *testing.T) {
	var a Allocator
	info := oneRegionInfo(0x100000, 64*uintptr(mem.PageSize))
	if err := a.Init(info); err != nil {
		t.Fatalf("init: %v", err)
	}

	for i := 0; i < 10; i++ {
		if _, err := a.Alloc(); err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
	}

	stats := a.Stats()
	if stats.Used+stats.Free != stats.Total {
		t.Errorf("used(%d) + free(%d) != total(%d)", stats.Used, stats.Free, stats.Total)
	}
}

func TestReservedRangeNeverAllocated(t *testing.T) {
	var a Allocator
	info := oneRegionInfo(0x0, 256*uintptr(mem.PageSize))
	info.KernelStart = 0x0
	info.KernelEnd = 16 * uintptr(mem.PageSize)

	if err := a.Init(info); err != nil {
		t.Fatalf("init: %v", err)
	}

	for i := 0; i < 16; i++ {
		f, err := a.Alloc()
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		if f.Address() < info.KernelEnd {
			t.Fatalf("allocator handed out frame %#x which overlaps the reserved kernel image", f.Address())
		}
	}
}

func TestAllocContiguousFirstFit(t *testing.T) {
	var a Allocator
	info := oneRegionInfo(0x0, 32*uintptr(mem.PageSize))
	if err := a.Init(info); err != nil {
		t.Fatalf("init: %v", err)
	}

	// reserve frames 0 and 1 so the allocator must skip over them
	f0, _ := a.Alloc()
	f1, _ := a.Alloc()
	if f0 != 0 || f1 != 1 {
		t.Fatalf("unexpected initial allocations: %d %d", f0, f1)
	}

	run, err := a.AllocContiguous(4)
	if err != nil {
		t.Fatalf("alloc_contiguous: %v", err)
	}
	if run != 2 {
		t.Errorf("expected contiguous run to start at frame 2, got %d", run)
	}

	a.FreeContiguous(run, 4)
	if got := a.Stats().Used; got != 2 {
		t.Errorf("expected 2 frames still used after freeing the run, got %d", got)
	}
}

func TestOutOfMemory(t *testing.T) {
	var a Allocator
	info := oneRegionInfo(0x0, 2*uintptr(mem.PageSize))
	if err := a.Init(info); err != nil {
		t.Fatalf("init: %v", err)
	}

	if _, err := a.Alloc(); err != nil {
		t.Fatalf("alloc 1: %v", err)
	}
	if _, err := a.Alloc(); err != nil {
		t.Fatalf("alloc 2: %v", err)
	}
	if _, err := a.Alloc(); err == nil {
		t.Fatal("expected out-of-memory error on third allocation")
	} else if err.Kind != kernel.KindOutOfMemory {
		t.Errorf("expected KindOutOfMemory, got %v", err.Kind)
	}
}
