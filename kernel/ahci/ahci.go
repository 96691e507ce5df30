// Package ahci implements a SATA DMA driver: HBA/port bring-up, command
// slot 0 usage, PRDT (scatter-gather) construction with a bounce-buffer
// fallback, and the 48-bit LBA READ/WRITE/FLUSH DMA EXT command path.
//
// gopher-os never implements a storage driver; the register layouts and
// bring-up sequence below follow the AHCI 1.3.1 specification directly,
// written in this tree's surrounding idiom: kernel.Error returns, kfmt
// diagnostics, HHDM-mapped MMIO access via kernel/mem/hhdm, bounded spin
// loops instead of interrupts (this driver polls rather than handling
// AHCI IRQs).
package ahci

import (
	"unsafe"

	"github.com/emberkernel/ember/kernel"
	"github.com/emberkernel/ember/kernel/cpu"
	"github.com/emberkernel/ember/kernel/kfmt"
	"github.com/emberkernel/ember/kernel/mem"
	"github.com/emberkernel/ember/kernel/mem/hhdm"
	"github.com/emberkernel/ember/kernel/mem/pfa"
	"github.com/emberkernel/ember/kernel/mem/vmm"
)

const modTag = "ahci"

// HBA register offsets (generic host control block).
const (
	regCAP = 0x00
	regGHC = 0x04
	regIS  = 0x08
	regPI  = 0x0C
	regVS  = 0x10
)

const ghcAE = 1 << 31

// Per-port register offsets, relative to 0x100 + portIndex*0x80.
const (
	portCLB   = 0x00
	portCLBU  = 0x04
	portFB    = 0x08
	portFBU   = 0x0C
	portIS    = 0x10
	portIE    = 0x14
	portCMD   = 0x18
	portTFD   = 0x20
	portSIG   = 0x24
	portSSTS  = 0x28
	portSERR  = 0x30
	portCI    = 0x38
)

const (
	cmdST  = 1 << 0
	cmdFRE = 1 << 4
	cmdFR  = 1 << 14
	cmdCR  = 1 << 15

	tfdBSY = 0x80
	tfdDRQ = 0x08
	tfdERR = 0x01

	sigATA = 0x00000101
)

const maxPRDTEntries = 128

// spinBudget bounds every hardware wait this driver performs; no loop
// spins forever waiting on a register bit.
const spinBudget = 1_000_000

var errTimeout = &kernel.Error{Module: modTag, Kind: kernel.KindDeviceTimeout, Message: "hardware spin budget exhausted"}
var errNotReady = &kernel.Error{Module: modTag, Kind: kernel.KindNotReady, Message: "no AHCI disk selected"}

// commandHeader is one of the 32 entries of a port's command list.
type commandHeader struct {
	flags  uint16 // cfl (bits 0-4), w (bit 6)
	prdtl  uint16
	prdbc  uint32
	ctba   uint32
	ctbaU  uint32
	_      [4]uint32
}

// prdtEntry is one scatter-gather fragment of a command table's PRDT.
type prdtEntry struct {
	dba   uint32
	dbaU  uint32
	_     uint32
	dbcIC uint32 // byte count-1 in low 22 bits, interrupt-on-completion in bit 31
}

// commandTable is the fixed-layout command FIS + ATAPI command + PRDT
// region pointed at by a command header's ctba/ctbaU.
type commandTable struct {
	cfis [64]byte
	acmd [16]byte
	_    [48]byte
	prdt [maxPRDTEntries]prdtEntry
}

// Port holds the live state of the single SATA port this core drives.
type Port struct {
	mmio        uintptr // HHDM-mapped base of the port's register block
	index       int
	commandList uintptr // virtual address of the 32-entry command list page
	fisBase     uintptr
	cmdTable    uintptr // virtual address of command table for slot 0
	selected    bool
}

// Controller is the HBA-wide state: its MMIO base and the one port this
// core selects for I/O.
type Controller struct {
	mmio uintptr
	port Port
}

// Init maps hbaPhysAddr through HHDM, verifies/sets GHC.AE, scans PI for
// the first port reporting an active SATA device (DET=3, IPM=1,
// sig=0x00000101), and brings that port up.
func Init(hbaPhysAddr uintptr) (*Controller, *kernel.Error) {
	c := &Controller{mmio: hhdm.PhysToVirt(hbaPhysAddr)}

	ghc := c.read32(regGHC)
	if ghc&ghcAE == 0 {
		c.write32(regGHC, ghc|ghcAE)
	}

	pi := c.read32(regPI)
	for i := 0; i < 32; i++ {
		if pi&(1<<uint(i)) == 0 {
			continue
		}
		if c.portActive(i) {
			if err := c.initPort(i); err != nil {
				return nil, err
			}
			kfmt.Printf("[%s] selected port %d\n", modTag, i)
			return c, nil
		}
	}
	return nil, errNotReady
}

// Reset stops and reinitializes the selected port, for recovery after a
// failed command sequence wedges it.
func (c *Controller) Reset() *kernel.Error {
	if !c.port.selected {
		return errNotReady
	}
	idx := c.port.index
	c.stopCommandEngine(&c.port)
	return c.initPort(idx)
}

func (c *Controller) portActive(index int) bool {
	base := c.mmio + 0x100 + uintptr(index)*0x80
	ssts := read32At(base + portSSTS)
	det := ssts & 0xF
	ipm := (ssts >> 8) & 0xF
	sig := read32At(base + portSIG)
	return det == 3 && ipm == 1 && sig == sigATA
}

func (c *Controller) initPort(index int) *kernel.Error {
	p := &c.port
	p.mmio = c.mmio + 0x100 + uintptr(index)*0x80
	p.index = index

	c.stopCommandEngine(p)

	p.write32(portSERR, 0xFFFFFFFF)
	p.write32(portIS, 0xFFFFFFFF)

	clFrame, err := pfa.Default.Alloc()
	if err != nil {
		return err
	}
	fisFrame, err := pfa.Default.Alloc()
	if err != nil {
		return err
	}
	ctFrame, err := pfa.Default.Alloc()
	if err != nil {
		return err
	}

	p.commandList = hhdm.PhysToVirt(clFrame.Address())
	p.fisBase = hhdm.PhysToVirt(fisFrame.Address())
	p.cmdTable = hhdm.PhysToVirt(ctFrame.Address())
	zeroPage(p.commandList)
	zeroPage(p.fisBase)
	zeroPage(p.cmdTable)

	p.write32(portCLB, uint32(clFrame.Address()))
	p.write32(portCLBU, uint32(clFrame.Address()>>32))
	p.write32(portFB, uint32(fisFrame.Address()))
	p.write32(portFBU, uint32(fisFrame.Address()>>32))

	hdr := p.commandHeader(0)
	hdr.ctba = uint32(ctFrame.Address())
	hdr.ctbaU = uint32(ctFrame.Address() >> 32)

	p.write32(portCMD, p.read32(portCMD)|cmdFRE)
	p.write32(portCMD, p.read32(portCMD)|cmdST)

	p.selected = true
	return nil
}

// stopCommandEngine clears ST and waits for CR to clear, then clears FRE
// and waits for FR to clear, each bounded by spinBudget.
func (c *Controller) stopCommandEngine(p *Port) *kernel.Error {
	p.write32(portCMD, p.read32(portCMD)&^cmdST)
	if err := spinUntil(func() bool { return p.read32(portCMD)&cmdCR == 0 }); err != nil {
		return err
	}
	p.write32(portCMD, p.read32(portCMD)&^cmdFRE)
	return spinUntil(func() bool { return p.read32(portCMD)&cmdFR == 0 })
}

func spinUntil(cond func() bool) *kernel.Error {
	for i := 0; i < spinBudget; i++ {
		if cond() {
			return nil
		}
		cpu.IOWait()
	}
	return errTimeout
}

func (p *Port) commandHeader(slot int) *commandHeader {
	return (*commandHeader)(unsafe.Pointer(p.commandList + uintptr(slot)*32))
}

func (p *Port) commandTable() *commandTable {
	return (*commandTable)(unsafe.Pointer(p.cmdTable))
}

func (p *Port) read32(offset uintptr) uint32  { return read32At(p.mmio + offset) }
func (p *Port) write32(offset uintptr, v uint32) { write32At(p.mmio+offset, v) }
func (c *Controller) read32(offset uintptr) uint32  { return read32At(c.mmio + offset) }
func (c *Controller) write32(offset uintptr, v uint32) { write32At(c.mmio+offset, v) }

func read32At(addr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(addr))
}

func write32At(addr uintptr, v uint32) {
	*(*uint32)(unsafe.Pointer(addr)) = v
}

func zeroPage(addr uintptr) {
	mem.Memset(addr, 0, mem.PageSize)
}

// translate resolves the physical address backing a kernel virtual
// address through the kernel address space's page table, used when
// scatter-gathering the caller's buffer directly instead of bouncing it.
func translate(addr uintptr) (uintptr, *kernel.Error) {
	return vmm.Translate(vmm.Kernel(), addr)
}
