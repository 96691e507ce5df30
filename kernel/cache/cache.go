// Package cache implements a 4 KiB write-back buffer cache: a fixed-N
// buffer arena with an open-chained hash table keyed by (dev, block_no)
// and a global LRU list touching every buffer.
//
// gopher-os has no buffer cache; the arena-of-records-plus-indices
// technique keeps every buffer reachable through exactly two intrusive
// lists rather than through owning pointers, written in the kernel.Error/
// kfmt idiom the rest of this tree uses.
package cache

import (
	"github.com/emberkernel/ember/kernel"
	"github.com/emberkernel/ember/kernel/block"
)

const modTag = "cache"

// blockBytes is the cache's fixed unit: 4 KiB = 8 sectors of 512 bytes.
const blockBytes = 4096
const sectorsPerBlock = blockBytes / block.SectorSize

const invalidIndex = -1

// buffer is one arena slot. hashNext/lruPrev/lruNext are indices into the
// arena, not pointers.
type buffer struct {
	dev      block.Device
	blockNo  uint64
	refcnt   int
	valid    bool
	dirty    bool
	data     [blockBytes]byte
	hashNext int
	lruPrev  int
	lruNext  int
}

// Stats reports cache-wide accounting.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Dirty     uint64
}

// Cache is a fixed-capacity buffer cache over block.Device.
type Cache struct {
	buffers   []buffer
	hashTable []int // capacity 2N+1, holds arena indices or invalidIndex
	lruHead   int
	lruTail   int
	stats     Stats
}

// New allocates a cache of n buffers (128 is a reasonable minimum, 256
// a typical working set for a single disk).
func New(n int) *Cache {
	c := &Cache{
		buffers:   make([]buffer, n),
		hashTable: make([]int, 2*n+1),
		lruHead:   invalidIndex,
		lruTail:   invalidIndex,
	}
	for i := range c.hashTable {
		c.hashTable[i] = invalidIndex
	}
	for i := range c.buffers {
		c.buffers[i].hashNext = invalidIndex
		c.buffers[i].lruPrev = invalidIndex
		c.buffers[i].lruNext = invalidIndex
	}
	return c
}

func (c *Cache) hashSlot(dev block.Device, blockNo uint64) int {
	h := uintptrHash(dev) ^ blockNo
	return int(h % uint64(len(c.hashTable)))
}

func (c *Cache) find(dev block.Device, blockNo uint64) int {
	slot := c.hashSlot(dev, blockNo)
	for i := c.hashTable[slot]; i != invalidIndex; i = c.buffers[i].hashNext {
		b := &c.buffers[i]
		if b.valid && b.dev == dev && b.blockNo == blockNo {
			return i
		}
	}
	return invalidIndex
}

func (c *Cache) hashInsert(index int) {
	b := &c.buffers[index]
	slot := c.hashSlot(b.dev, b.blockNo)
	b.hashNext = c.hashTable[slot]
	c.hashTable[slot] = index
}

func (c *Cache) hashRemove(index int) {
	b := &c.buffers[index]
	slot := c.hashSlot(b.dev, b.blockNo)
	if c.hashTable[slot] == index {
		c.hashTable[slot] = b.hashNext
		return
	}
	for i := c.hashTable[slot]; i != invalidIndex; i = c.buffers[i].hashNext {
		if c.buffers[i].hashNext == index {
			c.buffers[i].hashNext = b.hashNext
			return
		}
	}
}

func (c *Cache) lruRemove(index int) {
	b := &c.buffers[index]
	if b.lruPrev != invalidIndex {
		c.buffers[b.lruPrev].lruNext = b.lruNext
	} else {
		c.lruHead = b.lruNext
	}
	if b.lruNext != invalidIndex {
		c.buffers[b.lruNext].lruPrev = b.lruPrev
	} else {
		c.lruTail = b.lruPrev
	}
	b.lruPrev, b.lruNext = invalidIndex, invalidIndex
}

func (c *Cache) lruPushHead(index int) {
	b := &c.buffers[index]
	b.lruPrev = invalidIndex
	b.lruNext = c.lruHead
	if c.lruHead != invalidIndex {
		c.buffers[c.lruHead].lruPrev = index
	}
	c.lruHead = index
	if c.lruTail == invalidIndex {
		c.lruTail = index
	}
}

func (c *Cache) touch(index int) {
	c.lruRemove(index)
	c.lruPushHead(index)
}

var errCacheFull = &kernel.Error{Module: modTag, Kind: kernel.KindOutOfMemory, Message: "no evictable buffer available"}

// evictionVictim returns the first unallocated buffer if one exists,
// otherwise the LRU-tail-most buffer with refcnt==0, or invalidIndex if
// every buffer is pinned.
func (c *Cache) evictionVictim() int {
	for i := range c.buffers {
		if !c.buffers[i].valid {
			return i
		}
	}
	for i := c.lruTail; i != invalidIndex; i = c.buffers[i].lruPrev {
		if c.buffers[i].refcnt == 0 {
			return i
		}
	}
	return invalidIndex
}

// Get looks up (dev, blockNo): a hash hit bumps refcnt and moves the
// buffer to the LRU head; a miss selects and prepares an eviction victim,
// reads the block, and installs it.
func (c *Cache) Get(dev block.Device, blockNo uint64) (int, *kernel.Error) {
	if idx := c.find(dev, blockNo); idx != invalidIndex {
		c.buffers[idx].refcnt++
		c.touch(idx)
		c.stats.Hits++
		return idx, nil
	}

	c.stats.Misses++
	idx := c.evictionVictim()
	if idx == invalidIndex {
		return -1, errCacheFull
	}
	b := &c.buffers[idx]

	if b.valid {
		if b.dirty {
			if err := c.writeback(b); err != nil {
				return -1, err
			}
		}
		c.hashRemove(idx)
		c.lruRemove(idx)
		c.stats.Evictions++
	}

	if err := dev.Read(blockNo*sectorsPerBlock, b.data[:]); err != nil {
		b.valid = false
		return -1, err
	}

	b.dev = dev
	b.blockNo = blockNo
	b.valid = true
	b.dirty = false
	b.refcnt = 1
	c.hashInsert(idx)
	c.lruPushHead(idx)
	return idx, nil
}

// Put decrements a buffer's refcnt, never below 0; the buffer remains
// cached either way.
func (c *Cache) Put(index int) {
	if c.buffers[index].refcnt > 0 {
		c.buffers[index].refcnt--
	}
}

// Data returns the live 4 KiB page backing the buffer at index. Callers
// must hold a reference (obtained from Get) while reading or writing it.
func (c *Cache) Data(index int) []byte {
	return c.buffers[index].data[:]
}

// MarkDirty flags the buffer at index dirty, bumping the dirty counter on
// a clean-to-dirty transition.
func (c *Cache) MarkDirty(index int) {
	b := &c.buffers[index]
	if !b.dirty {
		b.dirty = true
		c.stats.Dirty++
	}
}

func (c *Cache) writeback(b *buffer) *kernel.Error {
	if err := b.dev.Write(b.blockNo*sectorsPerBlock, b.data[:]); err != nil {
		return err
	}
	b.dirty = false
	return nil
}

// SyncDev writes back every valid+dirty buffer belonging to dev, clears
// their dirty bits on success, then calls dev.Flush.
func (c *Cache) SyncDev(dev block.Device) *kernel.Error {
	for i := range c.buffers {
		b := &c.buffers[i]
		if b.valid && b.dev == dev && b.dirty {
			if err := c.writeback(b); err != nil {
				return err
			}
			c.stats.Dirty--
		}
	}
	return dev.Flush()
}

// SyncAll writes back every valid+dirty buffer regardless of device,
// without calling Flush; callers do device flushes explicitly.
func (c *Cache) SyncAll() *kernel.Error {
	for i := range c.buffers {
		b := &c.buffers[i]
		if b.valid && b.dirty {
			if err := c.writeback(b); err != nil {
				return err
			}
			c.stats.Dirty--
		}
	}
	return nil
}

// Stats returns a snapshot of the cache's hit/miss/eviction/dirty
// counters.
func (c *Cache) Stats() Stats { return c.stats }

// uintptrHash folds a block.Device interface value into a hashable
// integer via its dynamic pointer, good enough for the small hash table
// this core uses (one or a handful of devices total).
func uintptrHash(dev block.Device) uint64 {
	return uint64(interfacePointer(dev))
}
