package vmm

import (
	"testing"

	"github.com/emberkernel/ember/kernel/hal/bootinfo"
	"github.com/emberkernel/ember/kernel/mem"
	"github.com/emberkernel/ember/kernel/mem/pfa"
)

// fakeTables backs tableAtFn with ordinary Go-heap arrays keyed by frame
// number, standing in for the HHDM alias a real boot environment provides.
// This is the same role gopher-os's ptePtrFn test hook plays in
// kernel/mem/vmm/walk_test.go: physical memory isn't real under `go test`,
// so entry resolution is redirected to host memory the test controls.
type fakeTables struct {
	byFrame map[mem.Frame]*[entriesPerTable]pageTableEntry
}

func newFakeTables() *fakeTables {
	return &fakeTables{byFrame: make(map[mem.Frame]*[entriesPerTable]pageTableEntry)}
}

func (f *fakeTables) resolve(frame mem.Frame) *[entriesPerTable]pageTableEntry {
	t, ok := f.byFrame[frame]
	if !ok {
		t = &[entriesPerTable]pageTableEntry{}
		f.byFrame[frame] = t
	}
	return t
}

func setupTest(t *testing.T) *AddressSpace {
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

	tables := newFakeTables()
	tableAtFn = tables.resolve
	t.Cleanup(func() { tableAtFn = hhdmTableAt })

	kernelFrame, err := pfa.Default.Alloc()
	if err != nil {
		t.Fatalf("alloc kernel pml4: %v", err)
	}
	kernelSpace = AddressSpace{pml4: kernelFrame}

	as, kerr := CreateAddressSpace()
	if kerr != nil {
		t.Fatalf("create address space: %v", kerr)
	}
	return as
}

// TestMapUnmapTranslateRoundTrip maps a virtual address to a freshly
// allocated frame with {Writable, User}, confirms Translate agrees,
// unmaps, and confirms Translate then fails.
func TestMapUnmapTranslateRoundTrip(t *testing.T) {
	as := setupTest(t)

	frame, err := pfa.Default.Alloc()
	if err != nil {
		t.Fatalf("alloc data frame: %v", err)
	}

	const v = uintptr(0x400000)
	if kerr := Map(as, v, frame.Address(), FlagRW|FlagUser); kerr != nil {
		t.Fatalf("map: %v", kerr)
	}

	got, kerr := Translate(as, v+0x10)
	if kerr != nil {
		t.Fatalf("translate after map: %v", kerr)
	}
	if want := frame.Address() + 0x10; got != want {
		t.Errorf("translate: got %#x, want %#x", got, want)
	}

	if kerr := Unmap(as, v); kerr != nil {
		t.Fatalf("unmap: %v", kerr)
	}

	if _, kerr := Translate(as, v); kerr == nil {
		t.Fatal("expected translate to fail after unmap")
	}
}

// TestCreateAddressSpaceSharesKernelUpperHalf checks that every address
// space's upper-half PML4 entries alias the kernel's, so two
// independently created address spaces agree on kernel mappings.
func TestCreateAddressSpaceSharesKernelUpperHalf(t *testing.T) {
	setupTest(t)

	kframe, err := pfa.Default.Alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	const kv = uintptr(0xffff800000000000)
	if kerr := Map(Kernel(), kv, kframe.Address(), FlagRW); kerr != nil {
		t.Fatalf("map into kernel space: %v", kerr)
	}

	other, kerr := CreateAddressSpace()
	if kerr != nil {
		t.Fatalf("create second address space: %v", kerr)
	}

	got, kerr := Translate(other, kv)
	if kerr != nil {
		t.Fatalf("translate kernel address from second address space: %v", kerr)
	}
	if got != kframe.Address() {
		t.Errorf("expected second address space to see the kernel mapping, got %#x want %#x", got, kframe.Address())
	}
}
