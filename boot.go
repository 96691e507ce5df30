package main

import (
	"github.com/emberkernel/ember/kernel"
	"github.com/emberkernel/ember/kernel/hal/bootinfo"
)

// main is the only Go symbol visible (exported) from the rt0
// initialization code. It works as a trampoline for calling the actual
// kernel entrypoint (kernel.Kmain), and
// is intentionally defined to keep the Go compiler from optimizing away
// the kernel code it can't see a caller for.
//
// main is invoked by the rt0 assembly code after it has parsed the boot
// protocol's info structure, switched CR3 to the kernel's own PML4, and
// set up a stack main can run on. It is not expected to return; if it
// does, the rt0 code halts the CPU.
func main() {
	kernel.BootInfo = bootEnvInfo
	kernel.PML4PhysAddr = bootEnvPML4
	kernel.Kmain()
}

// bootEnvInfo and bootEnvPML4 are written by the rt0 trampoline before it
// calls main: the parsed boot protocol structure and the physical address
// of the page table already active in CR3. Populating them is the
// boot-handshake hardware side this package takes no part in.
var (
	bootEnvInfo *bootinfo.Info
	bootEnvPML4 uintptr
)
