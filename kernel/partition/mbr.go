package partition

import (
	"encoding/binary"

	"github.com/emberkernel/ember/kernel"
	"github.com/emberkernel/ember/kernel/block"
)

const (
	mbrSignatureOffset = 510
	mbrEntriesOffset   = 446
	mbrEntrySize       = 16
	mbrNumEntries      = 4

	mbrProtectiveType = 0xEE
)

// ProbeMBR reads LBA 0 of dev and, if it carries the 0x55AA signature,
// returns a Child for every primary entry with non-zero type and count,
// ignoring the protective-MBR type (0xEE).
func ProbeMBR(dev block.Device) ([]*Child, bool, *kernel.Error) {
	sector := make([]byte, block.SectorSize)
	if err := dev.Read(0, sector); err != nil {
		return nil, false, err
	}

	if sector[mbrSignatureOffset] != 0x55 || sector[mbrSignatureOffset+1] != 0xAA {
		return nil, false, nil
	}

	var children []*Child
	n := 0
	for i := 0; i < mbrNumEntries; i++ {
		entry := sector[mbrEntriesOffset+i*mbrEntrySize:]
		partType := entry[4]
		lbaStart := binary.LittleEndian.Uint32(entry[8:12])
		lbaCount := binary.LittleEndian.Uint32(entry[12:16])

		if partType == 0 || partType == mbrProtectiveType || lbaCount == 0 {
			continue
		}

		n++
		children = append(children, &Child{
			parent:     dev,
			name:       childName(dev, n),
			lbaStart:   uint64(lbaStart),
			lbaCount:   uint64(lbaCount),
			provenance: "MBR",
		})
	}
	if err := validateChildren(dev, children); err != nil {
		return nil, true, err
	}
	return children, true, nil
}

// Probe tries GPT first, falling back to MBR. Returns a KindNotReady
// error if neither table is present; a table that is present but has no
// usable entries yields no children and no error.
func Probe(dev block.Device) ([]*Child, *kernel.Error) {
	if children, found, err := ProbeGPT(dev); err != nil {
		return nil, err
	} else if found {
		return children, nil
	}

	if children, found, err := ProbeMBR(dev); err != nil {
		return nil, err
	} else if found {
		return children, nil
	}

	return nil, &kernel.Error{Module: modTag, Kind: kernel.KindNotReady, Message: "no GPT or MBR partition table found"}
}
