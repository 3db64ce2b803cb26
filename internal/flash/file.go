package flash

import (
	"fmt"
	"os"
)

// FileDriver is a flash driver backed by an image file on the host
// filesystem. It is used by the host-side tooling and for persistence tests;
// it enforces the same mapping/cache protocol as real hardware so image files
// and device flash see identical traffic.
type FileDriver struct {
	f    *os.File
	size int64

	mapped       bool
	cacheEnabled bool
	cacheClean   bool
}

// CreateFileDriver creates an image file of the given size, initialized to
// the erased state.
func CreateFileDriver(path string, size int64) (*FileDriver, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create image: %w", err)
	}
	blank := make([]byte, EraseSize)
	for i := range blank {
		blank[i] = ErasedByte
	}
	for off := int64(0); off < size; off += int64(len(blank)) {
		n := int64(len(blank))
		if size-off < n {
			n = size - off
		}
		if _, err := f.Write(blank[:n]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to blank image: %w", err)
		}
	}
	return &FileDriver{f: f, size: size, mapped: true, cacheEnabled: true}, nil
}

// OpenFileDriver opens an existing image file.
func OpenFileDriver(path string) (*FileDriver, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	return &FileDriver{f: f, size: info.Size(), mapped: true, cacheEnabled: true}, nil
}

func (d *FileDriver) Size() int64 { return d.size }

func (d *FileDriver) checkRange(addr int64, n int) error {
	if addr < 0 || addr+int64(n) > d.size {
		return fmt.Errorf("%w: %#x+%d", ErrOutOfRange, addr, n)
	}
	return nil
}

func (d *FileDriver) checkProgramState() error {
	if d.mapped {
		return ErrMapped
	}
	if d.cacheEnabled || !d.cacheClean {
		return ErrCacheWarm
	}
	return nil
}

func (d *FileDriver) Read(addr int64, p []byte) error {
	if !d.mapped {
		return ErrNotMapped
	}
	if err := d.checkRange(addr, len(p)); err != nil {
		return err
	}
	if _, err := d.f.ReadAt(p, addr); err != nil {
		return fmt.Errorf("%w: %v", ErrFault, err)
	}
	return nil
}

func (d *FileDriver) Program(addr int64, p []byte) error {
	if err := d.checkProgramState(); err != nil {
		return err
	}
	if err := d.checkRange(addr, len(p)); err != nil {
		return err
	}
	// Merge with existing contents: programming clears bits only.
	cur := make([]byte, len(p))
	if _, err := d.f.ReadAt(cur, addr); err != nil {
		return fmt.Errorf("%w: %v", ErrFault, err)
	}
	for i := range cur {
		cur[i] &= p[i]
	}
	if _, err := d.f.WriteAt(cur, addr); err != nil {
		return fmt.Errorf("%w: %v", ErrFault, err)
	}
	return nil
}

func (d *FileDriver) Erase(addr, size int64) error {
	if err := d.checkProgramState(); err != nil {
		return err
	}
	if addr%EraseSize != 0 || size%EraseSize != 0 || size <= 0 {
		return fmt.Errorf("%w: %#x+%d", ErrUnaligned, addr, size)
	}
	if err := d.checkRange(addr, int(size)); err != nil {
		return err
	}
	blank := make([]byte, EraseSize)
	for i := range blank {
		blank[i] = ErasedByte
	}
	for off := addr; off < addr+size; off += EraseSize {
		if _, err := d.f.WriteAt(blank, off); err != nil {
			return fmt.Errorf("%w: %v", ErrFault, err)
		}
	}
	return nil
}

func (d *FileDriver) EnterMemoryMapped() error {
	d.mapped = true
	return nil
}

func (d *FileDriver) ExitMemoryMapped() error {
	d.mapped = false
	return nil
}

func (d *FileDriver) EnableCache() {
	d.cacheEnabled = true
	d.cacheClean = false
}

func (d *FileDriver) DisableCache() {
	d.cacheEnabled = false
}

func (d *FileDriver) InvalidateCache() error {
	if d.cacheEnabled {
		return ErrCacheWarm
	}
	d.cacheClean = true
	return nil
}

// Close flushes and closes the backing image file.
func (d *FileDriver) Close() error {
	if err := d.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync image: %w", err)
	}
	return d.f.Close()
}
