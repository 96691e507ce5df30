package kernel

import (
	"github.com/emberkernel/ember/kernel/ahci"
	"github.com/emberkernel/ember/kernel/cache"
	"github.com/emberkernel/ember/kernel/cpu"
	"github.com/emberkernel/ember/kernel/hal/bootinfo"
	"github.com/emberkernel/ember/kernel/kfmt"
	"github.com/emberkernel/ember/kernel/mem"
	"github.com/emberkernel/ember/kernel/mem/heap"
	"github.com/emberkernel/ember/kernel/mem/hhdm"
	"github.com/emberkernel/ember/kernel/mem/pfa"
	"github.com/emberkernel/ember/kernel/mem/vmm"
	"github.com/emberkernel/ember/kernel/partition"
	"github.com/emberkernel/ember/kernel/pci"
	"github.com/emberkernel/ember/kernel/sched"
	"github.com/emberkernel/ember/kernel/trap"
)

// kernelHeapBase is a fixed virtual address well above any identity/HHDM
// range, mirroring gopher-os's reserved kernel-heap window convention
// (kernel/mem/vmm's EarlyReserveRegion).
const kernelHeapBase = 0xffffff0000000000
const kernelHeapSize = 256 * mem.Mb

// BootInfo and PML4PhysAddr are written by main (boot.go) before it calls
// Kmain, copied from the values the rt0 trampoline left for it; acquiring
// them is a boot-protocol handshake this package takes no part in.
var (
	BootInfo     *bootinfo.Info
	PML4PhysAddr uintptr
)

// Kmain is the kernel's real entry point, called once on the bootstrap
// stack with interrupts disabled. Boot order is heap and VMM first, then
// interrupts, then PCI/block/cache, since AHCI bring-up needs frames from
// the PFA and its MMIO reached through the HHDM, and thread-stack
// allocation needs a working heap. Never returns.
func Kmain() {
	info := BootInfo
	hhdm.Init(info.HHDMOffset)

	if err := pfa.Default.Init(info); err != nil {
		kfmt.Printf("[boot] pfa init failed: %v\n", err)
		haltForever()
	}

	vmm.Bootstrap(PML4PhysAddr)

	h := heap.New(vmm.Kernel(), kernelHeapBase, kernelHeapSize)
	sched.Init(h)

	trap.Init()

	addr, found := pci.FindAHCI()
	if !found {
		kfmt.Printf("[boot] no AHCI controller found\n")
		idleForever()
	}
	pci.EnableBusMasterAndMemorySpace(addr)

	ctrl, err := ahci.Init(pci.BAR5(addr))
	if err != nil {
		kfmt.Printf("[boot] ahci init failed: %v\n", err)
		idleForever()
	}

	disk := ahci.NewDisk(ctrl)
	children, perr := partition.Probe(disk)
	if perr != nil {
		kfmt.Printf("[boot] partition probe failed: %v\n", perr)
	} else {
		kfmt.Printf("[boot] found %d partitions\n", len(children))
	}

	// Nothing in this core consumes the cache yet -- the shell that would
	// issue reads/writes through it is out of scope here. Constructed so
	// its wiring (arena size, backing disk) is in place for whatever reads
	// through it first.
	bufferCache := cache.New(256)
	_ = bufferCache

	idleForever()
}

// idleForever yields forever once boot is complete. A real bootstrap
// thread would have further work here; this core stops at a working
// block I/O stack.
func idleForever() {
	for {
		sched.Yield()
	}
}

func haltForever() {
	cpu.DisableInterrupts()
	for {
		cpu.Halt()
	}
}
