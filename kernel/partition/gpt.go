// Package partition implements a GPT/MBR probe: GPT preferred, MBR
// fallback, each registering bounds-checked child block.Device values
// scoped to an LBA range.
//
// gopher-os carries no partition-table code; the header layouts and
// validation bounds below are taken directly from the UEFI and legacy
// MBR specifications, written in the surrounding packages' kernel.Error/
// kfmt idiom.
package partition

import (
	"encoding/binary"

	"github.com/emberkernel/ember/kernel"
	"github.com/emberkernel/ember/kernel/block"
)

const modTag = "partition"

const (
	gptSignature   = "EFI PART"
	gptHeaderLBA   = 1
	minHeaderSize  = 92
	maxHeaderSize  = 512
	maxEntrySize   = 1024
	maxNumEntries  = 4096
	maxEntrySectors = 1024 // total entry-array sectors bound
)

// Child is a bounds-checked view of a slice of a parent block.Device.
type Child struct {
	parent    block.Device
	name      string
	lbaStart  uint64
	lbaCount  uint64
	provenance string
}

var _ block.Device = (*Child)(nil)

func (c *Child) Name() string         { return c.name }
func (c *Child) SectorSize() uint32   { return c.parent.SectorSize() }
func (c *Child) TotalSectors() uint64 { return c.lbaCount }
func (c *Child) LBAStart() uint64     { return c.lbaStart }
func (c *Child) Provenance() string   { return c.provenance }

var errOutOfRange = &kernel.Error{Module: modTag, Kind: kernel.KindInvalidArgument, Message: "partition read/write out of range"}

var errOverlap = &kernel.Error{Module: modTag, Kind: kernel.KindInvalidArgument, Message: "partition table entries overlap or exceed device bounds"}

// validateChildren checks that every child's [lbaStart, lbaStart+lbaCount)
// range fits within [0, dev.TotalSectors()) and is disjoint from every
// other child's range. A TotalSectors() of 0 means the parent device
// couldn't report its size, so the bounds half of the check is skipped for
// it; the disjointness check still applies regardless.
func validateChildren(dev block.Device, children []*Child) *kernel.Error {
	total := dev.TotalSectors()
	for i, c := range children {
		end := c.lbaStart + c.lbaCount
		if total > 0 && (c.lbaStart >= total || end > total) {
			return errOverlap
		}
		for j := 0; j < i; j++ {
			o := children[j]
			oEnd := o.lbaStart + o.lbaCount
			if c.lbaStart < oEnd && o.lbaStart < end {
				return errOverlap
			}
		}
	}
	return nil
}

func (c *Child) checkRange(lba uint64, buf []byte) *kernel.Error {
	n := uint64(len(buf)) / uint64(c.parent.SectorSize())
	if c.lbaCount > 0 && lba+n > c.lbaCount {
		return errOutOfRange
	}
	return nil
}

func (c *Child) Read(lba uint64, buf []byte) *kernel.Error {
	if err := c.checkRange(lba, buf); err != nil {
		return err
	}
	return c.parent.Read(c.lbaStart+lba, buf)
}

func (c *Child) Write(lba uint64, buf []byte) *kernel.Error {
	if err := c.checkRange(lba, buf); err != nil {
		return err
	}
	return c.parent.Write(c.lbaStart+lba, buf)
}

func (c *Child) Flush() *kernel.Error { return c.parent.Flush() }

// gptHeader is the subset of the UEFI GPT header this core validates.
type gptHeader struct {
	signature   [8]byte
	headerSize  uint32
	partEntryLBA uint64
	numEntries  uint32
	entrySize   uint32
}

func parseGPTHeader(sector []byte) (gptHeader, bool) {
	var h gptHeader
	copy(h.signature[:], sector[0:8])
	if string(h.signature[:]) != gptSignature {
		return h, false
	}
	h.headerSize = binary.LittleEndian.Uint32(sector[12:16])
	h.partEntryLBA = binary.LittleEndian.Uint64(sector[72:80])
	h.numEntries = binary.LittleEndian.Uint32(sector[80:84])
	h.entrySize = binary.LittleEndian.Uint32(sector[84:88])

	if h.headerSize < minHeaderSize || h.headerSize > maxHeaderSize {
		return h, false
	}
	if h.entrySize < 128 || h.entrySize > maxEntrySize {
		return h, false
	}
	if h.numEntries < 1 || h.numEntries > maxNumEntries {
		return h, false
	}
	totalBytes := uint64(h.numEntries) * uint64(h.entrySize)
	if totalBytes > maxEntrySectors*uint64(block.SectorSize) {
		return h, false
	}
	return h, true
}

// ProbeGPT reads LBA 1 of dev and, if it carries a valid GPT header,
// returns a Child per non-zero-type entry whose first_lba <= last_lba.
func ProbeGPT(dev block.Device) ([]*Child, bool, *kernel.Error) {
	sector := make([]byte, block.SectorSize)
	if err := dev.Read(gptHeaderLBA, sector); err != nil {
		return nil, false, err
	}

	h, ok := parseGPTHeader(sector)
	if !ok {
		return nil, false, nil
	}

	entryBytes := uint64(h.numEntries) * uint64(h.entrySize)
	sectorsNeeded := (entryBytes + uint64(block.SectorSize) - 1) / uint64(block.SectorSize)
	raw := make([]byte, sectorsNeeded*uint64(block.SectorSize))
	if err := dev.Read(h.partEntryLBA, raw); err != nil {
		return nil, true, err
	}

	var children []*Child
	n := 0
	for i := uint32(0); i < h.numEntries; i++ {
		entry := raw[uint64(i)*uint64(h.entrySize):]
		typeGUID := entry[0:16]
		if allZero(typeGUID) {
			continue
		}
		first := binary.LittleEndian.Uint64(entry[32:40])
		last := binary.LittleEndian.Uint64(entry[40:48])
		if first > last {
			continue
		}
		n++
		children = append(children, &Child{
			parent:     dev,
			name:       childName(dev, n),
			lbaStart:   first,
			lbaCount:   last - first + 1,
			provenance: "GPT",
		})
	}
	if err := validateChildren(dev, children); err != nil {
		return nil, true, err
	}
	return children, true, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func childName(dev block.Device, n int) string {
	return dev.Name() + "p" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
