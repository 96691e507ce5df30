// Package block defines the block-device capability-set abstraction: a
// {name, sector_size, total_sectors, read, write, flush} interface, with
// two concrete variants -- a raw AHCI disk and a bounds-checking partition
// wrapper around a parent device -- instead of a runtime vtable.
//
// gopher-os has no block-device layer to borrow from, so the Device
// interface and its two implementations are new code written in the
// kernel.Error/kfmt idiom the rest of this tree uses.
package block

import "github.com/emberkernel/ember/kernel"

// SectorSize is the only sector size this core supports.
const SectorSize = 512

// Device is implemented by both a raw AHCI disk and a partition wrapper.
// Reads/writes are synchronous and blocking; sector numbers are absolute
// within the device's own LBA space.
type Device interface {
	Name() string
	SectorSize() uint32
	TotalSectors() uint64 // 0 means unknown
	Read(lba uint64, buf []byte) *kernel.Error
	Write(lba uint64, buf []byte) *kernel.Error
	Flush() *kernel.Error
}
