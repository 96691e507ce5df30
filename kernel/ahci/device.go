package ahci

import (
	"github.com/emberkernel/ember/kernel"
	"github.com/emberkernel/ember/kernel/block"
)

// Disk adapts a Controller's single selected port to block.Device.
type Disk struct {
	ctrl *Controller
}

// NewDisk wraps ctrl as a block.Device named name.
func NewDisk(ctrl *Controller) *Disk {
	return &Disk{ctrl: ctrl}
}

var _ block.Device = (*Disk)(nil)

func (d *Disk) Name() string         { return "ahci0" }
func (d *Disk) SectorSize() uint32   { return block.SectorSize }
func (d *Disk) TotalSectors() uint64 { return 0 } // unknown; not read from IDENTIFY in this core

func (d *Disk) Read(lba uint64, buf []byte) *kernel.Error {
	return d.ctrl.ReadSectors(lba, buf)
}

func (d *Disk) Write(lba uint64, buf []byte) *kernel.Error {
	return d.ctrl.WriteSectors(lba, buf)
}

func (d *Disk) Flush() *kernel.Error {
	return d.ctrl.FlushCache()
}
