// Package pci implements legacy configuration-space access and a minimal
// scan for the AHCI controller.
//
// Grounded on gopher-os's kernel/cpu port-I/O wrappers (kernel/cpu and its
// In32/Out32 pair are exactly what 0xCF8/0xCFC addressing needs); gopher-os
// itself never implements a PCI scanner, so the scan/BAR-read logic here
// is new code in that package's idiom.
package pci

import "github.com/emberkernel/ember/kernel/cpu"

const (
	configAddress = 0xCF8
	configData    = 0xCFC

	classMassStorage  = 0x01
	subclassSATA      = 0x06
	progIfAHCI        = 0x01

	commandReg     = 0x04
	commandBusMstr = 1 << 2
	commandMemSpc  = 1 << 1
)

// Address identifies a PCI function by its bus/device/function triple.
type Address struct {
	Bus, Device, Function uint8
}

func configAddr(a Address, offset uint8) uint32 {
	return 1<<31 |
		uint32(a.Bus)<<16 |
		uint32(a.Device)<<11 |
		uint32(a.Function)<<8 |
		uint32(offset&0xFC)
}

// ReadConfig32 reads a 32-bit configuration-space register at offset.
func ReadConfig32(a Address, offset uint8) uint32 {
	cpu.Out32(configAddress, configAddr(a, offset))
	return cpu.In32(configData)
}

// WriteConfig32 writes val to the configuration-space register at offset.
func WriteConfig32(a Address, offset uint8, val uint32) {
	cpu.Out32(configAddress, configAddr(a, offset))
	cpu.Out32(configData, val)
}

func classInfo(a Address) (class, subclass, progIf uint8) {
	v := ReadConfig32(a, 0x08)
	return uint8(v >> 24), uint8(v >> 16), uint8(v >> 8)
}

func vendorID(a Address) uint16 {
	return uint16(ReadConfig32(a, 0x00))
}

// FindAHCI scans every bus/device/function for the AHCI HBA class
// (0x01/0x06, prog_if 0x01) and returns the first match.
func FindAHCI() (Address, bool) {
	for bus := 0; bus < 256; bus++ {
		for dev := 0; dev < 32; dev++ {
			for fn := 0; fn < 8; fn++ {
				a := Address{Bus: uint8(bus), Device: uint8(dev), Function: uint8(fn)}
				if vendorID(a) == 0xFFFF {
					continue
				}
				class, subclass, progIf := classInfo(a)
				if class == classMassStorage && subclass == subclassSATA && progIf == progIfAHCI {
					return a, true
				}
			}
		}
	}
	return Address{}, false
}

// EnableBusMasterAndMemorySpace sets the bus-master and memory-space
// enable bits in a's PCI command register.
func EnableBusMasterAndMemorySpace(a Address) {
	cmd := ReadConfig32(a, commandReg)
	cmd |= commandBusMstr | commandMemSpc
	WriteConfig32(a, commandReg, cmd&0xFFFF)
}

// BAR5 reads and returns the HBA's ABAR (MMIO base) from PCI BAR5.
func BAR5(a Address) uintptr {
	return uintptr(ReadConfig32(a, 0x24) &^ 0xF)
}
