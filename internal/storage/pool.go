package storage

import (
	"fmt"

	"github.com/diskfs/go-diskfs/filesystem"

	"github.com/pocketfw/savestore/internal/blockdev"
)

// PoolCap is the fixed number of concurrently open handles. Two covers the
// worst case on this device: reading an old save while writing its
// replacement.
const PoolCap = 2

// slot is one statically reserved open-file state: the underlying
// filesystem file, a private I/O buffer, and the attribute written at open.
type slot struct {
	file       filesystem.File
	path       string
	write      bool
	compressed bool
	buf        [blockdev.CacheSize]byte
	attr       [AttrSize]byte
}

// compOwner tracks which slot, if any, holds the shared compression working
// buffer. An explicit held flag avoids sentinel-index pitfalls.
type compOwner struct {
	held bool
	slot int
}

// pool is a bitmask-backed arena of handle slots. It is an admission gate,
// not a lock: capacity and compression exclusivity are enforced here.
type pool struct {
	slots [PoolCap]slot
	used  uint8
	comp  compOwner
}

// acquire claims a free slot, optionally reserving the compression working
// buffer for it. The returned slot is zeroed.
func (p *pool) acquire(wantCompression bool) (int, error) {
	for i := 0; i < PoolCap; i++ {
		bit := uint8(1) << i
		if p.used&bit != 0 {
			continue
		}
		p.used |= bit
		if wantCompression {
			if p.comp.held {
				// Roll back the allocation: the handle never existed.
				p.used &^= bit
				return 0, ErrCompressionBusy
			}
			p.comp = compOwner{held: true, slot: i}
		}
		p.slots[i] = slot{}
		return i, nil
	}
	return 0, ErrPoolExhausted
}

// release returns a slot to the pool, clearing compression ownership if this
// slot held it. Releasing a slot that is not allocated is a programming
// defect, not a runtime condition.
func (p *pool) release(i int) {
	if i < 0 || i >= PoolCap || p.used&(uint8(1)<<i) == 0 {
		panic(fmt.Sprintf("storage: release of untracked handle slot %d", i))
	}
	p.used &^= uint8(1) << i
	if p.comp.held && p.comp.slot == i {
		p.comp = compOwner{}
	}
	p.slots[i] = slot{}
}

// openCount returns the number of allocated slots.
func (p *pool) openCount() int {
	n := 0
	for i := 0; i < PoolCap; i++ {
		if p.used&(uint8(1)<<i) != 0 {
			n++
		}
	}
	return n
}
