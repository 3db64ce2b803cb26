package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
)

const (
	// AttrTag is the attribute identifier, 't' for time.
	AttrTag = 't'

	// AttrSize is the fixed attribute size: a 4-byte Unix timestamp.
	AttrSize = 4

	// attrDir is the sidecar tree holding one timestamp entry per file.
	// The filesystem library has no custom attribute support, so the
	// attribute lives next to the data inside the same store.
	attrDir = "/.attr"
)

// attrPath maps a file path to its sidecar attribute entry.
func attrPath(p string) string {
	return attrDir + p + "." + string(rune(AttrTag))
}

// writeAttr persists the timestamp attribute for p. Called on every
// successful open, before the handle is handed out.
func (m *Manager) writeAttr(p string, attr [AttrSize]byte) error {
	sidecar := attrPath(p)
	if err := m.ensureDir(path.Dir(sidecar)); err != nil {
		return fmt.Errorf("failed to prepare attribute dir: %w", err)
	}
	f, err := m.fs.OpenFile(sidecar, os.O_CREATE|os.O_RDWR|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to open attribute for %s: %w", p, err)
	}
	defer f.Close()
	if _, err := f.Write(attr[:]); err != nil {
		return fmt.Errorf("failed to write attribute for %s: %w", p, err)
	}
	return nil
}

// readAttr loads the timestamp attribute for p.
func (m *Manager) readAttr(p string) ([AttrSize]byte, error) {
	var attr [AttrSize]byte
	f, err := m.fs.OpenFile(attrPath(p), os.O_RDONLY)
	if err != nil {
		if isNotExist(err) {
			return attr, fmt.Errorf("%w: attribute for %s", ErrNotFound, p)
		}
		return attr, fmt.Errorf("failed to open attribute for %s: %w", p, err)
	}
	defer f.Close()
	if _, err := io.ReadFull(f, attr[:]); err != nil {
		return attr, fmt.Errorf("failed to read attribute for %s: %w", p, err)
	}
	return attr, nil
}

// Attribute returns the Unix time p was last opened, from its 't' attribute.
func (m *Manager) Attribute(p string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attr, err := m.readAttr(normalizePath(p))
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint32(attr[:])), nil
}
