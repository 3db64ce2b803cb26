package codec

import (
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// LZ4 is the lz4-frame codec. Frames carry their own terminator, so Flush is
// a no-op; each Compress call emits one complete frame.
type LZ4 struct {
	window []byte
}

// NewLZ4 returns an LZ4 codec bound to the given working buffer.
func NewLZ4(window []byte) (*LZ4, error) {
	c := &LZ4{}
	if err := c.Reset(window); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *LZ4) Reset(window []byte) error {
	if len(window) == 0 {
		return ErrNoWindow
	}
	c.window = window
	return nil
}

func (c *LZ4) Compress(dst io.Writer, src io.Reader) (int64, error) {
	zw := lz4.NewWriter(dst)
	n, err := copyWindow(zw, src, c.window)
	if err != nil {
		zw.Close()
		return n, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("lz4 compress: %w", err)
	}
	return n, nil
}

func (c *LZ4) Decompress(dst io.Writer, src io.Reader) (int64, error) {
	zr := lz4.NewReader(src)
	var total int64
	for {
		if len(c.window) == 0 {
			return total, ErrNoWindow
		}
		n, rerr := zr.Read(c.window)
		if n > 0 {
			if _, werr := dst.Write(c.window[:n]); werr != nil {
				return total, fmt.Errorf("lz4 decompress: %w", werr)
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, fmt.Errorf("lz4 decompress: %w", rerr)
		}
	}
}

func (c *LZ4) Flush() error { return nil }
