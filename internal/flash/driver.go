// Package flash defines the raw flash driver contract consumed by the block
// device layer, plus memory- and file-backed drivers.
//
// The contract mirrors a NOR flash part behind a memory-mapped controller:
// reads go through the mapped window, while program and erase are only legal
// once the controller has left memory-mapped mode. Drivers track the mapping
// and data-cache state so that callers skipping the coherency protocol fail
// loudly instead of reading stale data in the field.
package flash

import "errors"

// ErasedByte is the value of every byte in an erased region.
const ErasedByte = 0xFF

// EraseSize is the physical erase granularity in bytes. Erase addresses and
// lengths must be multiples of this.
const EraseSize = 4096

var (
	// ErrOutOfRange is returned for accesses beyond the reserved region.
	ErrOutOfRange = errors.New("flash: address out of range")

	// ErrUnaligned is returned for erases not aligned to EraseSize.
	ErrUnaligned = errors.New("flash: unaligned erase")

	// ErrMapped is returned when program/erase is attempted while the
	// region is still memory-mapped.
	ErrMapped = errors.New("flash: region is memory-mapped")

	// ErrNotMapped is returned when a read is attempted outside
	// memory-mapped mode.
	ErrNotMapped = errors.New("flash: region is not memory-mapped")

	// ErrCacheWarm is returned when program/erase is attempted without the
	// data cache disabled and invalidated first.
	ErrCacheWarm = errors.New("flash: data cache not invalidated")

	// ErrFault stands in for a hardware bus or wear fault.
	ErrFault = errors.New("flash: device fault")
)

// Driver is the raw flash driver collaborator. All addresses are byte
// offsets into the reserved region.
type Driver interface {
	// Size returns the size of the reserved region in bytes.
	Size() int64

	// Read copies from the mapped region. Valid only in memory-mapped mode.
	Read(addr int64, p []byte) error

	// Program writes p at addr synchronously. Valid only outside
	// memory-mapped mode with the data cache disabled and invalidated.
	// Programming can only clear bits; the target range must have been
	// erased for the data to land intact.
	Program(addr int64, p []byte) error

	// Erase resets [addr, addr+size) to ErasedByte. Same mode
	// preconditions as Program; addr and size must be EraseSize-aligned.
	Erase(addr, size int64) error

	// EnterMemoryMapped re-enables the memory-mapped window.
	EnterMemoryMapped() error

	// ExitMemoryMapped leaves memory-mapped mode so the controller can
	// issue program/erase commands.
	ExitMemoryMapped() error

	// EnableCache re-enables the data cache over the mapped window.
	EnableCache()

	// DisableCache disables the data cache.
	DisableCache()

	// InvalidateCache drops cached lines. The cache must be disabled
	// first; invalidating a live cache is an ordering bug.
	InvalidateCache() error
}
