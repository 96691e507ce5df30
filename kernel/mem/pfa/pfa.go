// Package pfa implements a physical frame allocator: a bitmap allocator
// over the firmware-usable regions of the memory map, at 4 KiB
// granularity, with a single bit per frame (0 = free).
//
// Grounded on gopher-os's kernel/mem/pmm/allocator/bitmap_allocator.go: one
// framePool per usable memory-map region, each carrying its own free-bitmap
// slice and free-frame counter, plus a first-fit scan for contiguous
// allocation (which bitmap_allocator.go itself does not implement —
// gopher-os never needed contiguous DMA buffers — so the scan here is new
// code written in that file's idiom: same pool/bitmap layout, same
// markFrame bit convention).
package pfa

import (
	"github.com/emberkernel/ember/kernel"
	"github.com/emberkernel/ember/kernel/hal/bootinfo"
	"github.com/emberkernel/ember/kernel/kfmt"
	"github.com/emberkernel/ember/kernel/mem"
)

const modTag = "pfa"

var errOutOfMemory = &kernel.Error{Module: modTag, Kind: kernel.KindOutOfMemory, Message: "no free frame satisfies the request"}

// pool tracks the free/used frames of one usable memory-map region with a
// dense bitmap, one bit per frame; bit set means "used".
type pool struct {
	startFrame mem.Frame
	frameCount uint32
	bitmap     []uint64
	freeCount  uint32
}

func (p *pool) endFrame() mem.Frame { return p.startFrame + mem.Frame(p.frameCount) }

func (p *pool) contains(f mem.Frame) bool {
	return f >= p.startFrame && f < p.endFrame()
}

func (p *pool) bitIndex(f mem.Frame) (word, bit uint32) {
	rel := uint32(f - p.startFrame)
	return rel >> 6, rel & 63
}

func (p *pool) isFree(f mem.Frame) bool {
	word, bit := p.bitIndex(f)
	return p.bitmap[word]&(uint64(1)<<bit) == 0
}

func (p *pool) mark(f mem.Frame, used bool) {
	word, bit := p.bitIndex(f)
	mask := uint64(1) << bit
	wasUsed := p.bitmap[word]&mask != 0
	if used == wasUsed {
		return
	}
	if used {
		p.bitmap[word] |= mask
		p.freeCount--
	} else {
		p.bitmap[word] &^= mask
		p.freeCount++
	}
}

// Stats reports allocator-wide page accounting.
type Stats struct {
	Total uint64
	Used  uint64
	Free  uint64
}

// Allocator is the process-wide physical frame allocator. Zero value is
// unusable until Init runs.
type Allocator struct {
	pools []pool
	total uint64
	used  uint64
}

// Default is the kernel-wide allocator instance, mirroring gopher-os's
// package-level `FrameAllocator` singleton.
var Default Allocator

// bitmapWords returns the number of uint64 words needed to hold frameCount
// bits, rounded up to a whole word.
func bitmapWords(frameCount uint32) uint32 {
	return (frameCount + 63) >> 6
}

// Init builds one pool per usable region in info's memory map, then
// reserves the kernel image so it is never handed out (pools are carved
// only from usable regions to begin with, so reserved memory can't occur
// there by construction). Each pool's bitmap is an ordinary Go slice, not
// storage carved from the tracked frames, so no frames are reserved for
// the bitmaps themselves.
func (a *Allocator) Init(info *bootinfo.Info) *kernel.Error {
	a.pools = a.pools[:0]
	a.total, a.used = 0, 0

	info.VisitUsable(func(r bootinfo.MemoryMapEntry) bool {
		start := mem.FrameFromAddress(mem.AlignUp(r.Base))
		end := mem.FrameFromAddress(mem.AlignDown(r.End()))
		if end <= start {
			return true
		}
		count := uint32(end - start)
		a.pools = append(a.pools, pool{startFrame: start, frameCount: count})
		a.total += uint64(count)
		return true
	})

	for i := range a.pools {
		p := &a.pools[i]
		p.bitmap = make([]uint64, bitmapWords(p.frameCount))
		p.freeCount = p.frameCount
	}

	a.reserveRange(info.KernelStart, info.KernelEnd)

	kfmt.Printf("[%s] %d pools, %d pages (%d MB) tracked\n", modTag, len(a.pools), a.total, a.total>>8)
	return nil
}

// reserveRange marks every frame touching [start, end) as used, wherever it
// falls within a tracked pool. Addresses outside every pool (i.e. inside a
// region the memory map never called usable) are already implicitly
// reserved and are silently ignored.
func (a *Allocator) reserveRange(start, end uintptr) {
	first := mem.FrameFromAddress(mem.AlignDown(start))
	last := mem.FrameFromAddress(mem.AlignUp(end))
	for f := first; f < last; f++ {
		if p := a.poolFor(f); p != nil && p.isFree(f) {
			p.mark(f, true)
			a.used++
		}
	}
}

func (a *Allocator) poolFor(f mem.Frame) *pool {
	for i := range a.pools {
		if a.pools[i].contains(f) {
			return &a.pools[i]
		}
	}
	return nil
}

// Alloc reserves and returns a single free frame.
func (a *Allocator) Alloc() (mem.Frame, *kernel.Error) {
	for i := range a.pools {
		p := &a.pools[i]
		if p.freeCount == 0 {
			continue
		}
		for f := p.startFrame; f < p.endFrame(); f++ {
			if p.isFree(f) {
				p.mark(f, true)
				a.used++
				return f, nil
			}
		}
	}
	return mem.InvalidFrame, errOutOfMemory
}

// AllocContiguous reserves n physically contiguous frames using a
// first-fit scan of each pool's bitmap (a pool is, by construction, one
// physically contiguous memory-map region, so a run can never cross a pool
// boundary).
func (a *Allocator) AllocContiguous(n uint32) (mem.Frame, *kernel.Error) {
	if n == 0 {
		return mem.InvalidFrame, &kernel.Error{Module: modTag, Kind: kernel.KindInvalidArgument, Message: "contiguous allocation of 0 frames requested"}
	}

	for i := range a.pools {
		p := &a.pools[i]
		if p.freeCount < n {
			continue
		}

		runStart := p.startFrame
		runLen := uint32(0)
		for f := p.startFrame; f < p.endFrame(); f++ {
			if p.isFree(f) {
				if runLen == 0 {
					runStart = f
				}
				runLen++
				if runLen == n {
					for g := runStart; g < runStart+mem.Frame(n); g++ {
						p.mark(g, true)
					}
					a.used += uint64(n)
					return runStart, nil
				}
				continue
			}
			runLen = 0
		}
	}
	return mem.InvalidFrame, errOutOfMemory
}

// Free releases a single frame previously returned by Alloc.
func (a *Allocator) Free(f mem.Frame) {
	if p := a.poolFor(f); p != nil && !p.isFree(f) {
		p.mark(f, false)
		a.used--
	}
}

// FreeContiguous releases n frames starting at first, previously returned
// by AllocContiguous.
func (a *Allocator) FreeContiguous(first mem.Frame, n uint32) {
	for f := first; f < first+mem.Frame(n); f++ {
		a.Free(f)
	}
}

// Stats reports total/used/free frame counts across all pools.
func (a *Allocator) Stats() Stats {
	return Stats{Total: a.total, Used: a.used, Free: a.total - a.used}
}
