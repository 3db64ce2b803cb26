// Package blockdev adapts the raw flash driver to the block-addressed
// read/program/erase/sync interface consumed by the filesystem layer.
//
// Flash on this target is memory-mapped for reads, but the controller cannot
// program or erase while the mapping is live, and a warm data cache serves
// stale lines after either operation. Every program and erase is therefore
// wrapped in the same hazard bracket: disable cache, invalidate, leave
// memory-mapped mode, issue the synchronous operation, re-enter mapped mode,
// re-enable the cache.
package blockdev

import (
	"errors"
	"fmt"

	"github.com/pocketfw/savestore/internal/flash"
)

const (
	// BlockSize is the erase block size. Fixed by the flash part.
	BlockSize = 4096

	// ProgramSize is the minimum program granularity. Program offsets and
	// lengths must be multiples of this.
	ProgramSize = 256

	// CacheSize is the per-handle I/O buffer size used by the storage
	// layer above.
	CacheSize = 256

	// LookaheadSize is the allocator lookahead window carried for the
	// filesystem configuration.
	LookaheadSize = 16

	// BlockCycles is the erase-cycle budget per block, informing the
	// filesystem's wear policy.
	BlockCycles = 500
)

var (
	// ErrGeometry is returned when the reserved region cannot be divided
	// into whole blocks.
	ErrGeometry = errors.New("blockdev: region size is not a multiple of the block size")

	// ErrOutOfRange is returned for accesses beyond the device geometry.
	ErrOutOfRange = errors.New("blockdev: access out of range")

	// ErrUnaligned is returned for program requests that violate the
	// program granularity. Misaligned requests are rejected, never
	// silently adjusted.
	ErrUnaligned = errors.New("blockdev: unaligned program")

	// ErrDeviceFault is returned when the underlying flash operation
	// failed after retrying.
	ErrDeviceFault = errors.New("blockdev: device fault")
)

// Geometry describes the block device configuration. BlockCount is always
// computed from the reserved region size, never hardcoded.
type Geometry struct {
	BlockSize     uint32 `json:"block_size"`
	BlockCount    uint32 `json:"block_count"`
	ProgramSize   uint32 `json:"program_size"`
	CacheSize     uint32 `json:"cache_size"`
	LookaheadSize uint32 `json:"lookahead_size"`
	BlockCycles   uint32 `json:"block_cycles"`
}

// Device is the flash block device adapter.
type Device struct {
	drv        flash.Driver
	blockCount uint32
}

// New wraps a flash driver as a block device. The driver's reserved region
// must be a non-zero multiple of BlockSize.
func New(drv flash.Driver) (*Device, error) {
	size := drv.Size()
	if size <= 0 || size%BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrGeometry, size)
	}
	return &Device{
		drv:        drv,
		blockCount: uint32(size / BlockSize),
	}, nil
}

// Geometry returns the computed device geometry.
func (d *Device) Geometry() Geometry {
	return Geometry{
		BlockSize:     BlockSize,
		BlockCount:    d.blockCount,
		ProgramSize:   ProgramSize,
		CacheSize:     CacheSize,
		LookaheadSize: LookaheadSize,
		BlockCycles:   BlockCycles,
	}
}

// Size returns the reserved region size in bytes.
func (d *Device) Size() int64 {
	return int64(d.blockCount) * BlockSize
}

func (d *Device) checkRange(block, off uint32, n int) error {
	if block >= d.blockCount || off > BlockSize || n > BlockSize-int(off) {
		return fmt.Errorf("%w: block %d off %d len %d", ErrOutOfRange, block, off, n)
	}
	return nil
}

// Read copies from the mapped flash region into p.
func (d *Device) Read(block, off uint32, p []byte) error {
	if err := d.checkRange(block, off, len(p)); err != nil {
		return err
	}
	addr := int64(block)*BlockSize + int64(off)
	if err := d.drv.Read(addr, p); err != nil {
		return fmt.Errorf("%w: read block %d: %v", ErrDeviceFault, block, err)
	}
	return nil
}

// bracket runs op under the mandatory coherency sequence. The mapped window
// and cache are restored even when op fails, so a fault never strands the
// device unreadable.
func (d *Device) bracket(op func() error) error {
	d.drv.DisableCache()
	err := d.drv.InvalidateCache()
	if err == nil {
		err = d.drv.ExitMemoryMapped()
		if err == nil {
			err = op()
			if rerr := d.drv.EnterMemoryMapped(); err == nil {
				err = rerr
			}
		}
	}
	d.drv.EnableCache()
	return err
}

// Program writes p at the given block offset. Offset and length must be
// multiples of ProgramSize. A faulted program is retried once before the
// fault is reported; flash bus errors are expected field conditions.
func (d *Device) Program(block, off uint32, p []byte) error {
	if err := d.checkRange(block, off, len(p)); err != nil {
		return err
	}
	if off%ProgramSize != 0 || len(p)%ProgramSize != 0 {
		return fmt.Errorf("%w: block %d off %d len %d", ErrUnaligned, block, off, len(p))
	}
	addr := int64(block)*BlockSize + int64(off)
	err := d.bracket(func() error {
		if err := d.drv.Program(addr, p); err != nil {
			return d.drv.Program(addr, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: program block %d off %d: %v", ErrDeviceFault, block, off, err)
	}
	return nil
}

// Erase resets a whole block to the erased state. Erase addresses are
// block-aligned by construction.
func (d *Device) Erase(block uint32) error {
	if block >= d.blockCount {
		return fmt.Errorf("%w: block %d", ErrOutOfRange, block)
	}
	addr := int64(block) * BlockSize
	err := d.bracket(func() error {
		return d.drv.Erase(addr, BlockSize)
	})
	if err != nil {
		return fmt.Errorf("%w: erase block %d: %v", ErrDeviceFault, block, err)
	}
	return nil
}

// Sync is a no-op: program and erase are synchronous on this target.
func (d *Device) Sync() error {
	return nil
}
