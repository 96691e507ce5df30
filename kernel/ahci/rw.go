package ahci

import (
	"unsafe"

	"github.com/emberkernel/ember/kernel"
	"github.com/emberkernel/ember/kernel/kfmt"
	"github.com/emberkernel/ember/kernel/mem"
	"github.com/emberkernel/ember/kernel/mem/hhdm"
	"github.com/emberkernel/ember/kernel/mem/pfa"
)

// ATA commands, 48-bit LBA variants.
const (
	ataReadDMAExt    = 0x25
	ataWriteDMAExt   = 0x35
	ataFlushCacheExt = 0xEA
	ataIdentify      = 0xEC
)

const fisTypeRegH2D = 0x27

// buildH2D writes a Register Host-to-Device FIS for a 48-bit LBA command
// into dst.
func buildH2D(dst []byte, command byte, lba uint64, sectorCount uint16) {
	dst[0] = fisTypeRegH2D
	dst[1] = 1 << 7 // C bit: this is a command
	dst[2] = command
	dst[4] = byte(lba)
	dst[5] = byte(lba >> 8)
	dst[6] = byte(lba >> 16)
	dst[7] = 0x40 // device: LBA mode
	dst[8] = byte(lba >> 24)
	dst[9] = byte(lba >> 32)
	dst[10] = byte(lba >> 40)
	dst[12] = byte(sectorCount)
	dst[13] = byte(sectorCount >> 8)
}

// rw is the shared read/write/flush/identify primitive. command selects
// the ATA opcode placed in the H2D FIS directly; write only controls the
// PRDT/command-header direction bit and whether a bounce buffer is primed
// before or drained after the transfer.
func (c *Controller) rw(command byte, lba uint64, buf []byte, write bool) *kernel.Error {
	p := &c.port
	if !p.selected {
		return errNotReady
	}

	if p.read32(portCMD)&(cmdST|cmdFRE) != cmdST|cmdFRE {
		p.write32(portCMD, p.read32(portCMD)|cmdFRE|cmdST)
	}

	if err := spinUntil(func() bool { return p.read32(portTFD)&(tfdBSY|tfdDRQ) == 0 }); err != nil {
		return err
	}

	p.write32(portSERR, 0xFFFFFFFF)
	p.write32(portIS, 0xFFFFFFFF)

	ct := p.commandTable()
	prdtl, bounce, err := buildPRDT(ct, buf, write)
	if err != nil {
		return err
	}

	hdr := p.commandHeader(0)
	hdr.flags = uint16(fisLenWords) | flagsForWrite(write)
	hdr.prdtl = uint16(prdtl)
	hdr.prdbc = 0

	sectorCount := uint16(len(buf) / 512)
	buildH2D(ct.cfis[:], command, lba, sectorCount)

	p.write32(portCI, 1)

	if err := spinUntil(func() bool { return p.read32(portCI)&1 == 0 }); err != nil {
		kfmt.Printf("[%s] timeout: ci=%x tfd=%x is=%x serr=%x\n", modTag, p.read32(portCI), p.read32(portTFD), p.read32(portIS), p.read32(portSERR))
		return errTimeout
	}
	if p.read32(portTFD)&tfdERR != 0 {
		kfmt.Printf("[%s] device error: tfd=%x is=%x serr=%x\n", modTag, p.read32(portTFD), p.read32(portIS), p.read32(portSERR))
		return &kernel.Error{Module: modTag, Kind: kernel.KindDeviceError, Message: "ATA command reported an error"}
	}

	if !write && bounce != 0 {
		copyFromBounce(buf, bounce)
	}
	if bounce != 0 {
		pfa.Default.FreeContiguous(mem.FrameFromAddress(bounce), uint32(mem.Size(len(buf)).Pages()))
	}
	return nil
}

const fisLenWords = 5 // sizeof(Register H2D FIS) / 4

func flagsForWrite(write bool) uint16 {
	if write {
		return 1 << 6
	}
	return 0
}

// buildPRDT fills ct's PRDT by translating each 4 KiB-spanning fragment of
// buf's virtual address; if any fragment can't be translated or the
// fragment count would exceed maxPRDTEntries, it falls back to a
// physically contiguous bounce buffer. Returns the PRDT entry count and the
// physical address of the bounce buffer (0 if none was used).
func buildPRDT(ct *commandTable, buf []byte, write bool) (int, uintptr, *kernel.Error) {
	fragments, ok := scatterFragments(buf)
	if ok && len(fragments) <= maxPRDTEntries {
		for i, f := range fragments {
			ct.prdt[i] = prdtEntry{
				dba:   uint32(f.phys),
				dbaU:  uint32(f.phys >> 32),
				dbcIC: uint32(f.length-1) & 0x3FFFFF,
			}
		}
		return len(fragments), 0, nil
	}

	n := uint32(mem.Size(len(buf)).Pages())
	frame, err := pfa.Default.AllocContiguous(n)
	if err != nil {
		return 0, 0, err
	}
	bouncePhys := frame.Address()
	bounceVirt := hhdm.PhysToVirt(bouncePhys)
	if write {
		copyToBounce(bounceVirt, buf)
	}

	ct.prdt[0] = prdtEntry{
		dba:   uint32(bouncePhys),
		dbaU:  uint32(bouncePhys >> 32),
		dbcIC: uint32(len(buf)-1) & 0x3FFFFF,
	}
	return 1, bouncePhys, nil
}

type fragment struct {
	phys   uintptr
	length int
}

// scatterFragments splits buf into 4 KiB-aligned physical fragments,
// translating each through the kernel page table. Returns ok=false if any
// fragment cannot be translated.
func scatterFragments(buf []byte) ([]fragment, bool) {
	if len(buf) == 0 {
		return nil, true
	}
	base := uintptr(unsafe.Pointer(&buf[0]))
	end := base + uintptr(len(buf))

	var frags []fragment
	cur := base
	for cur < end {
		pageEnd := mem.AlignUp(cur + 1)
		if pageEnd > end {
			pageEnd = end
		}
		phys, err := translate(cur)
		if err != nil {
			return nil, false
		}
		frags = append(frags, fragment{phys: phys, length: int(pageEnd - cur)})
		cur = pageEnd
	}
	return frags, true
}

func copyToBounce(bounceVirt uintptr, buf []byte) {
	if len(buf) == 0 {
		return
	}
	mem.Memcopy(uintptr(unsafe.Pointer(&buf[0])), bounceVirt, mem.Size(len(buf)))
}

func copyFromBounce(buf []byte, bouncePhys uintptr) {
	if len(buf) == 0 {
		return
	}
	mem.Memcopy(hhdm.PhysToVirt(bouncePhys), uintptr(unsafe.Pointer(&buf[0])), mem.Size(len(buf)))
}

// ReadSectors reads len(buf)/512 sectors starting at lba.
func (c *Controller) ReadSectors(lba uint64, buf []byte) *kernel.Error {
	return c.rw(ataReadDMAExt, lba, buf, false)
}

// WriteSectors writes len(buf)/512 sectors starting at lba.
func (c *Controller) WriteSectors(lba uint64, buf []byte) *kernel.Error {
	return c.rw(ataWriteDMAExt, lba, buf, true)
}

// FlushCache issues FLUSH CACHE EXT with prdtl=0, the no-data command
// variant.
func (c *Controller) FlushCache() *kernel.Error {
	return c.rw(ataFlushCacheExt, 0, nil, false)
}
