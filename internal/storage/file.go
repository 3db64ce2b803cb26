package storage

import (
	"fmt"
	"io"
	"os"
)

// File is an open handle backed by a pool slot. It is not safe for
// concurrent use by multiple goroutines.
type File struct {
	m      *Manager
	idx    int
	closed bool
}

// Read reads from the underlying file. Fails on a compression-owning handle
// until the codec path is available.
func (f *File) Read(p []byte) (int, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	s := &f.m.pool.slots[f.idx]
	if s.compressed {
		return 0, ErrCompressionUnavailable
	}
	return s.file.Read(p)
}

// Write writes to the underlying file. Fails on a compression-owning handle
// until the codec path is available.
func (f *File) Write(p []byte) (int, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	s := &f.m.pool.slots[f.idx]
	if s.compressed {
		return 0, ErrCompressionUnavailable
	}
	return s.file.Write(p)
}

// Seek repositions the handle. Compressed streams are not randomly
// addressable, so seeking a compression-owning handle always fails.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	s := &f.m.pool.slots[f.idx]
	if s.compressed {
		return 0, ErrNotSeekable
	}
	return s.file.Seek(offset, whence)
}

// Close flushes and closes the underlying file and returns the slot to the
// pool. Closing a compression-owning handle frees the compression slot
// regardless of whether any compressed I/O completed. Closing a handle twice
// is a programming defect and panics.
func (f *File) Close() error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if f.closed {
		panic("storage: close of already-closed handle")
	}
	s := &f.m.pool.slots[f.idx]
	path := s.path
	err := s.file.Close()
	f.m.pool.release(f.idx)
	f.closed = true
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// WriteFile streams r into path through a pooled write handle, staging
// through the slot's private I/O buffer. Returns the number of bytes stored.
func (m *Manager) WriteFile(path string, r io.Reader) (int64, error) {
	f, err := m.Open(path, true, false)
	if err != nil {
		return 0, err
	}
	buf := m.pool.slots[f.idx].buf[:]
	var total int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return total, fmt.Errorf("failed to write %s: %w", path, werr)
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			return total, fmt.Errorf("failed to read input for %s: %w", path, rerr)
		}
	}
	if err := f.Close(); err != nil {
		return total, err
	}
	return total, nil
}

// ReadFile streams path into w through a pooled read handle.
func (m *Manager) ReadFile(path string, w io.Writer) (int64, error) {
	f, err := m.Open(path, false, false)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	buf := m.pool.slots[f.idx].buf[:]
	var total int64
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, fmt.Errorf("failed to stream %s: %w", path, werr)
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return total, fmt.Errorf("failed to read %s: %w", path, rerr)
		}
	}
	return total, nil
}
