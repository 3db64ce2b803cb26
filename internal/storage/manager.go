// Package storage is the save-data storage manager: it mounts the filesystem
// over the flash block device, hands out open-file handles from a
// fixed-capacity pool, arbitrates the single shared compression slot, and
// stamps every file with a save-time attribute on open.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/fat32"

	"github.com/pocketfw/savestore/internal/blockdev"
	"github.com/pocketfw/savestore/internal/clock"
	"github.com/pocketfw/savestore/internal/flash"
)

var (
	ErrPoolExhausted   = errors.New("no free file handle slot")
	ErrCompressionBusy = errors.New("compression slot already in use")
	ErrNotFound        = errors.New("file not found")
	// ErrCompressionUnavailable gates the codec integration point: the
	// compression slot can be reserved, but routing data through the
	// codec is not available yet.
	ErrCompressionUnavailable = errors.New("compressed I/O not available")
	// ErrNotSeekable is returned for seeks on a compression-owning
	// handle; compressed streams are not randomly addressable.
	ErrNotSeekable = errors.New("compressed streams are not seekable")
)

const (
	// sectorSize is the logical sector size presented to the filesystem
	// library. Distinct from the flash erase block size: the block device
	// adapter aligns all physical traffic itself.
	sectorSize = 512

	volumeLabel = "SAVES"
)

// Manager owns the mounted filesystem instance, the block device adapter,
// the handle pool and the compression arbiter. One Manager exists per
// process; all state is reached through it rather than package globals.
type Manager struct {
	dev *blockdev.Device
	fs  filesystem.FileSystem
	clk clock.Clock

	mu   sync.Mutex
	pool pool
}

// New adapts the flash driver to a block device and mounts the filesystem,
// formatting on a first-mount failure. A mount failure after formatting is
// returned as an error; storage is mandatory, so callers treat it as fatal.
func New(drv flash.Driver, clk clock.Clock) (*Manager, error) {
	dev, err := blockdev.New(drv)
	if err != nil {
		return nil, err
	}
	fs, err := mount(dev)
	if err != nil {
		return nil, err
	}
	return &Manager{dev: dev, fs: fs, clk: clk}, nil
}

// mount tries to read an existing filesystem from the device and formats a
// fresh one if that fails. This should only happen on first boot.
func mount(dev *blockdev.Device) (filesystem.FileSystem, error) {
	b := blockdev.NewBackend(dev)
	fs, err := fat32.Read(b, dev.Size(), 0, sectorSize)
	if err == nil {
		return fs, nil
	}

	log.Printf("storage: mount failed (%v), formatting", err)
	if _, err := fat32.Create(b, dev.Size(), 0, sectorSize, volumeLabel); err != nil {
		return nil, fmt.Errorf("failed to format filesystem: %w", err)
	}
	fs, err = fat32.Read(b, dev.Size(), 0, sectorSize)
	if err != nil {
		return nil, fmt.Errorf("failed to mount after format: %w", err)
	}
	return fs, nil
}

// Geometry returns the block device geometry backing the store.
func (m *Manager) Geometry() blockdev.Geometry {
	return m.dev.Geometry()
}

// CompressionAvailable reports whether compressed handles can perform I/O.
// The slot arbitration is fully functional, but the codec integration is an
// extension point that is not wired yet.
func (m *Manager) CompressionAvailable() bool {
	return false
}

// OpenHandles returns the number of currently allocated handle slots.
func (m *Manager) OpenHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.openCount()
}

// Open opens path and returns a pooled handle. write selects
// create-or-truncate read-write mode versus must-exist read-only mode.
// compress reserves the shared compression slot for this handle.
func (m *Manager) Open(p string, write, compress bool) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	if now == 0 {
		// The RTC must be initialized before storage use; a zero
		// reading is a boot-sequencing defect.
		panic("storage: wall clock reads zero at open")
	}

	p = normalizePath(p)
	idx, err := m.pool.acquire(compress)
	if err != nil {
		return nil, err
	}
	s := &m.pool.slots[idx]

	flags := os.O_RDONLY
	if write {
		flags = os.O_CREATE | os.O_RDWR | os.O_TRUNC
		if dir := path.Dir(p); dir != "/" {
			if err := m.ensureDir(dir); err != nil {
				m.pool.release(idx)
				return nil, err
			}
		}
	}
	f, err := m.fs.OpenFile(p, flags)
	if err != nil {
		m.pool.release(idx)
		if isNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("failed to open %s: %w", p, err)
	}

	binary.BigEndian.PutUint32(s.attr[:], uint32(now))
	if err := m.writeAttr(p, s.attr); err != nil {
		f.Close()
		m.pool.release(idx)
		return nil, err
	}

	s.file = f
	s.path = p
	s.write = write
	s.compressed = compress

	return &File{m: m, idx: idx}, nil
}

// Entry describes one stored file for listings.
type Entry struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	SavedAt int64  `json:"saved_at"`
}

// List walks the store and returns every file with its size and the Unix
// time it was last opened. The attribute sidecar tree is not listed.
func (m *Manager) List() ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list("/")
}

func (m *Manager) list(dir string) ([]Entry, error) {
	infos, err := m.fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var entries []Entry
	for _, info := range infos {
		name := info.Name()
		if name == "." || name == ".." {
			continue
		}
		full := path.Join(dir, name)
		if full == attrDir {
			continue
		}
		if info.IsDir() {
			sub, err := m.list(full)
			if err != nil {
				return nil, err
			}
			entries = append(entries, sub...)
			continue
		}
		e := Entry{Name: full, Size: info.Size()}
		if attr, err := m.readAttr(full); err == nil {
			e.SavedAt = int64(binary.BigEndian.Uint32(attr[:]))
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// normalizePath ensures an absolute, cleaned path.
func normalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// isNotExist matches both os-style errors and the filesystem library's
// textual not-found errors.
func isNotExist(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "does not exist")
}

// ensureDir creates dirPath and any missing parents.
func (m *Manager) ensureDir(dirPath string) error {
	parts := strings.Split(dirPath, "/")
	currentPath := "/"
	for _, part := range parts {
		if part == "" {
			continue
		}
		currentPath = path.Join(currentPath, part)
		if err := m.fs.Mkdir(currentPath); err != nil && !os.IsExist(err) {
			return fmt.Errorf("failed to create directory %s: %w", currentPath, err)
		}
	}
	return nil
}
