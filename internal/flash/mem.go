package flash

import "fmt"

// MemDriver is a RAM-backed flash driver. It models NOR semantics (erase to
// 0xFF, program clears bits) and enforces the mapping/cache protocol, so it
// doubles as the reference device for adapter tests.
type MemDriver struct {
	mem []byte

	mapped       bool
	cacheEnabled bool
	cacheClean   bool

	// FailPrograms and FailErases make the next N calls fail with
	// ErrFault, for device-fault path tests.
	FailPrograms int
	FailErases   int
}

// NewMemDriver returns an erased in-memory region of the given size, in the
// boot state: memory-mapped with the data cache enabled.
func NewMemDriver(size int64) *MemDriver {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = ErasedByte
	}
	return &MemDriver{
		mem:          mem,
		mapped:       true,
		cacheEnabled: true,
	}
}

func (d *MemDriver) Size() int64 { return int64(len(d.mem)) }

// Mapped reports whether the region is currently memory-mapped.
func (d *MemDriver) Mapped() bool { return d.mapped }

// CacheEnabled reports whether the data cache is currently enabled.
func (d *MemDriver) CacheEnabled() bool { return d.cacheEnabled }

func (d *MemDriver) checkRange(addr int64, n int) error {
	if addr < 0 || addr+int64(n) > int64(len(d.mem)) {
		return fmt.Errorf("%w: %#x+%d", ErrOutOfRange, addr, n)
	}
	return nil
}

func (d *MemDriver) Read(addr int64, p []byte) error {
	if !d.mapped {
		return ErrNotMapped
	}
	if err := d.checkRange(addr, len(p)); err != nil {
		return err
	}
	copy(p, d.mem[addr:])
	return nil
}

func (d *MemDriver) checkProgramState() error {
	if d.mapped {
		return ErrMapped
	}
	if d.cacheEnabled || !d.cacheClean {
		return ErrCacheWarm
	}
	return nil
}

func (d *MemDriver) Program(addr int64, p []byte) error {
	if err := d.checkProgramState(); err != nil {
		return err
	}
	if err := d.checkRange(addr, len(p)); err != nil {
		return err
	}
	if d.FailPrograms > 0 {
		d.FailPrograms--
		return ErrFault
	}
	for i, b := range p {
		// NOR programming can only clear bits.
		d.mem[addr+int64(i)] &= b
	}
	return nil
}

func (d *MemDriver) Erase(addr, size int64) error {
	if err := d.checkProgramState(); err != nil {
		return err
	}
	if addr%EraseSize != 0 || size%EraseSize != 0 || size <= 0 {
		return fmt.Errorf("%w: %#x+%d", ErrUnaligned, addr, size)
	}
	if err := d.checkRange(addr, int(size)); err != nil {
		return err
	}
	if d.FailErases > 0 {
		d.FailErases--
		return ErrFault
	}
	for i := addr; i < addr+size; i++ {
		d.mem[i] = ErasedByte
	}
	return nil
}

func (d *MemDriver) EnterMemoryMapped() error {
	d.mapped = true
	return nil
}

func (d *MemDriver) ExitMemoryMapped() error {
	d.mapped = false
	return nil
}

func (d *MemDriver) EnableCache() {
	d.cacheEnabled = true
	d.cacheClean = false
}

func (d *MemDriver) DisableCache() {
	d.cacheEnabled = false
}

func (d *MemDriver) InvalidateCache() error {
	if d.cacheEnabled {
		return ErrCacheWarm
	}
	d.cacheClean = true
	return nil
}
