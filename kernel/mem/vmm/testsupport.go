package vmm

import "github.com/emberkernel/ember/kernel/mem"

// SetTestBacking redirects every page-table access to plain Go-heap memory
// keyed by physical address, for use by other packages' tests (e.g.
// kernel/mem/heap) that need a working VMM without a real HHDM mapping
// underneath them. Mirrors the mock hook kernel/mem/vmm's own tests use
// internally (see map_test.go's fakeTables).
func SetTestBacking(store map[uintptr][]byte) {
	tableAtFn = func(frame mem.Frame) *[entriesPerTable]pageTableEntry {
		addr := frame.Address()
		buf, ok := store[addr]
		if !ok {
			buf = make([]byte, mem.PageSize)
			store[addr] = buf
		}
		return (*[entriesPerTable]pageTableEntry)(ptrFromSlice(buf))
	}
}

// ResetTestBacking restores HHDM-based page table access.
func ResetTestBacking() {
	tableAtFn = hhdmTableAt
}
