package blockdev

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/pocketfw/savestore/internal/flash"
)

func newTestDevice(t *testing.T, blocks int64) (*Device, *flash.MemDriver) {
	t.Helper()
	drv := flash.NewMemDriver(blocks * BlockSize)
	dev, err := New(drv)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return dev, drv
}

func TestGeometryComputedFromRegionSize(t *testing.T) {
	dev, _ := newTestDevice(t, 256)

	geo := dev.Geometry()
	if geo.BlockSize != 4096 {
		t.Errorf("expected block size 4096, got %d", geo.BlockSize)
	}
	if geo.BlockCount != 256 {
		t.Errorf("expected block count 256, got %d", geo.BlockCount)
	}
}

func TestGeometryRejectsPartialBlocks(t *testing.T) {
	drv := flash.NewMemDriver(BlockSize + 100)
	if _, err := New(drv); !errors.Is(err, ErrGeometry) {
		t.Errorf("expected ErrGeometry, got %v", err)
	}

	if _, err := New(flash.NewMemDriver(0)); !errors.Is(err, ErrGeometry) {
		t.Errorf("expected ErrGeometry for empty region, got %v", err)
	}
}

func TestProgramReadRoundTrip(t *testing.T) {
	dev, _ := newTestDevice(t, 4)

	data := make([]byte, ProgramSize)
	copy(data, "block device payload")
	if err := dev.Program(2, ProgramSize, data); err != nil {
		t.Fatalf("Program failed: %v", err)
	}

	got := make([]byte, ProgramSize)
	if err := dev.Read(2, ProgramSize, got); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read back %q, expected %q", got[:20], data[:20])
	}
}

func TestProgramRejectsUnaligned(t *testing.T) {
	dev, _ := newTestDevice(t, 4)

	aligned := make([]byte, ProgramSize)
	if err := dev.Program(0, 3, aligned); !errors.Is(err, ErrUnaligned) {
		t.Errorf("expected ErrUnaligned for offset, got %v", err)
	}
	if err := dev.Program(0, 0, make([]byte, ProgramSize-1)); !errors.Is(err, ErrUnaligned) {
		t.Errorf("expected ErrUnaligned for length, got %v", err)
	}
}

func TestOutOfRangeAccess(t *testing.T) {
	dev, _ := newTestDevice(t, 4)

	if err := dev.Read(4, 0, make([]byte, 1)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange for block, got %v", err)
	}
	if err := dev.Read(0, BlockSize-1, make([]byte, 2)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange for length, got %v", err)
	}
	if err := dev.Erase(7); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange for erase, got %v", err)
	}
}

// The MemDriver only accepts program/erase when the cache has been disabled
// and invalidated and the mapping dropped, so a successful operation proves
// the bracket ordering. This test additionally checks the device is restored
// to the mapped, cached boot state afterwards.
func TestCoherencyBracketRestoresState(t *testing.T) {
	dev, drv := newTestDevice(t, 2)

	if err := dev.Erase(1); err != nil {
		t.Fatalf("Erase failed: %v", err)
	}
	if !drv.Mapped() {
		t.Error("device left unmapped after erase")
	}
	if !drv.CacheEnabled() {
		t.Error("cache left disabled after erase")
	}

	if err := dev.Program(1, 0, make([]byte, ProgramSize)); err != nil {
		t.Fatalf("Program failed: %v", err)
	}
	if !drv.Mapped() {
		t.Error("device left unmapped after program")
	}
	if !drv.CacheEnabled() {
		t.Error("cache left disabled after program")
	}
}

func TestBracketRestoresStateOnFault(t *testing.T) {
	dev, drv := newTestDevice(t, 2)

	drv.FailErases = 1
	if err := dev.Erase(0); !errors.Is(err, ErrDeviceFault) {
		t.Fatalf("expected ErrDeviceFault, got %v", err)
	}
	if !drv.Mapped() || !drv.CacheEnabled() {
		t.Error("device not restored to mapped/cached state after fault")
	}

	// The region must still be readable.
	if err := dev.Read(0, 0, make([]byte, 16)); err != nil {
		t.Errorf("read after fault failed: %v", err)
	}
}

func TestProgramRetriesOnce(t *testing.T) {
	dev, drv := newTestDevice(t, 2)

	drv.FailPrograms = 1
	if err := dev.Program(0, 0, make([]byte, ProgramSize)); err != nil {
		t.Errorf("expected single fault to be retried, got %v", err)
	}

	drv.FailPrograms = 2
	if err := dev.Program(0, ProgramSize, make([]byte, ProgramSize)); !errors.Is(err, ErrDeviceFault) {
		t.Errorf("expected ErrDeviceFault after retry, got %v", err)
	}
}

func TestEraseDoesNotRetry(t *testing.T) {
	dev, drv := newTestDevice(t, 2)

	drv.FailErases = 1
	if err := dev.Erase(0); !errors.Is(err, ErrDeviceFault) {
		t.Errorf("expected ErrDeviceFault, got %v", err)
	}
}

func TestBackendWriteAtPreservesSurroundingBytes(t *testing.T) {
	dev, _ := newTestDevice(t, 2)
	b := NewBackend(dev)

	base := make([]byte, BlockSize)
	for i := range base {
		base[i] = byte(i)
	}
	if _, err := b.WriteAt(base, 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	// Overwrite a small unaligned window in the middle of the block.
	patch := []byte("patched!")
	if _, err := b.WriteAt(patch, 1000); err != nil {
		t.Fatalf("patch WriteAt failed: %v", err)
	}

	got := make([]byte, BlockSize)
	if _, err := b.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	copy(base[1000:], patch)
	if !bytes.Equal(got, base) {
		t.Error("read-modify-write corrupted surrounding bytes")
	}
}

func TestBackendWriteAtSpansBlocks(t *testing.T) {
	dev, _ := newTestDevice(t, 3)
	b := NewBackend(dev)

	data := make([]byte, BlockSize+512)
	for i := range data {
		data[i] = byte(i % 251)
	}
	off := int64(BlockSize - 256)
	if _, err := b.WriteAt(data, off); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	got := make([]byte, len(data))
	if _, err := b.ReadAt(got, off); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("cross-block write did not round trip")
	}
}

func TestBackendReadAtEOF(t *testing.T) {
	dev, _ := newTestDevice(t, 1)
	b := NewBackend(dev)

	if _, err := b.ReadAt(make([]byte, 1), dev.Size()); err != io.EOF {
		t.Errorf("expected io.EOF past end of region, got %v", err)
	}
}

func TestBackendSeekRead(t *testing.T) {
	dev, _ := newTestDevice(t, 1)
	b := NewBackend(dev)

	if _, err := b.WriteAt([]byte{0xAB}, 100); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if _, err := b.Seek(100, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	got := make([]byte, 1)
	if _, err := b.Read(got); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got[0] != 0xAB {
		t.Errorf("expected 0xAB, got %#x", got[0])
	}
}
