package codec

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Deflate is a raw-deflate codec, matching the framing the ROM packing
// pipeline uses for banks that compress poorly under lz4.
type Deflate struct {
	window []byte
	level  int
}

// NewDeflate returns a deflate codec at the given compression level, bound
// to the working buffer.
func NewDeflate(window []byte, level int) (*Deflate, error) {
	c := &Deflate{level: level}
	if err := c.Reset(window); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Deflate) Reset(window []byte) error {
	if len(window) == 0 {
		return ErrNoWindow
	}
	c.window = window
	return nil
}

func (c *Deflate) Compress(dst io.Writer, src io.Reader) (int64, error) {
	zw, err := flate.NewWriter(dst, c.level)
	if err != nil {
		return 0, fmt.Errorf("deflate compress: %w", err)
	}
	n, err := copyWindow(zw, src, c.window)
	if err != nil {
		zw.Close()
		return n, fmt.Errorf("deflate compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("deflate compress: %w", err)
	}
	return n, nil
}

func (c *Deflate) Decompress(dst io.Writer, src io.Reader) (int64, error) {
	zr := flate.NewReader(src)
	defer zr.Close()
	var total int64
	for {
		if len(c.window) == 0 {
			return total, ErrNoWindow
		}
		n, rerr := zr.Read(c.window)
		if n > 0 {
			if _, werr := dst.Write(c.window[:n]); werr != nil {
				return total, fmt.Errorf("deflate decompress: %w", werr)
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, fmt.Errorf("deflate decompress: %w", rerr)
		}
	}
}

func (c *Deflate) Flush() error { return nil }
