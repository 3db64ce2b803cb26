package blockdev

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/diskfs/go-diskfs/backend"
)

// ErrNoOSFile is returned by Backend.Sys: the flash region is not backed by
// an OS file the filesystem library could hand off to.
var ErrNoOSFile = errors.New("blockdev: flash region is not an OS file")

// Backend exposes the block device as a go-diskfs backend.Storage so the
// filesystem library can be mounted directly on flash. Byte-addressed writes
// are translated into whole-block read-modify-write sequences, which keeps
// every physical program on the device's program granularity.
type Backend struct {
	dev *Device
	pos int64
}

var _ backend.Storage = (*Backend)(nil)
var _ backend.WritableFile = (*Backend)(nil)

// NewBackend wraps a block device for the filesystem library.
func NewBackend(dev *Device) *Backend {
	return &Backend{dev: dev}
}

// ReadAt reads into p starting at the byte offset off.
func (b *Backend) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: offset %d", ErrOutOfRange, off)
	}
	total := 0
	for len(p) > 0 {
		if off >= b.dev.Size() {
			return total, io.EOF
		}
		block := uint32(off / BlockSize)
		bo := uint32(off % BlockSize)
		n := BlockSize - int(bo)
		if n > len(p) {
			n = len(p)
		}
		if err := b.dev.Read(block, bo, p[:n]); err != nil {
			return total, err
		}
		p = p[n:]
		off += int64(n)
		total += n
	}
	return total, nil
}

// WriteAt writes p at the byte offset off, read-modify-writing each touched
// block. Blocks whose contents would not change are left alone to save erase
// cycles.
func (b *Backend) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > b.dev.Size() {
		return 0, fmt.Errorf("%w: offset %d len %d", ErrOutOfRange, off, len(p))
	}
	var blockBuf [BlockSize]byte
	total := 0
	for len(p) > 0 {
		block := uint32(off / BlockSize)
		bo := int(off % BlockSize)
		n := BlockSize - bo
		if n > len(p) {
			n = len(p)
		}
		if err := b.dev.Read(block, 0, blockBuf[:]); err != nil {
			return total, err
		}
		if !bytes.Equal(blockBuf[bo:bo+n], p[:n]) {
			copy(blockBuf[bo:], p[:n])
			if err := b.dev.Erase(block); err != nil {
				return total, err
			}
			if err := b.dev.Program(block, 0, blockBuf[:]); err != nil {
				return total, err
			}
		}
		p = p[n:]
		off += int64(n)
		total += n
	}
	return total, nil
}

// Read implements io.Reader over the region using the seek position.
func (b *Backend) Read(p []byte) (int, error) {
	n, err := b.ReadAt(p, b.pos)
	b.pos += int64(n)
	return n, err
}

// Write implements io.Writer over the region using the seek position.
func (b *Backend) Write(p []byte) (int, error) {
	n, err := b.WriteAt(p, b.pos)
	b.pos += int64(n)
	return n, err
}

// Seek implements io.Seeker.
func (b *Backend) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = b.pos + offset
	case io.SeekEnd:
		pos = b.dev.Size() + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("%w: seek to %d", ErrOutOfRange, pos)
	}
	b.pos = pos
	return pos, nil
}

// Stat implements fs.File.
func (b *Backend) Stat() (fs.FileInfo, error) {
	return regionInfo{size: b.dev.Size()}, nil
}

// Close flushes outstanding block operations. Program and erase are
// synchronous, so this delegates to the device's no-op sync.
func (b *Backend) Close() error {
	return b.dev.Sync()
}

// Sys reports that no OS-level file backs the region.
func (b *Backend) Sys() (*os.File, error) {
	return nil, ErrNoOSFile
}

// Writable returns the backend itself: the region is always writable.
func (b *Backend) Writable() (backend.WritableFile, error) {
	return b, nil
}

type regionInfo struct {
	size int64
}

func (i regionInfo) Name() string       { return "flash" }
func (i regionInfo) Size() int64        { return i.size }
func (i regionInfo) Mode() fs.FileMode  { return 0644 }
func (i regionInfo) ModTime() time.Time { return time.Time{} }
func (i regionInfo) IsDir() bool        { return false }
func (i regionInfo) Sys() any           { return nil }
