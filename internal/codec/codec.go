// Package codec defines the streaming compressor/decompressor collaborator
// used for save-data packing. The device-side storage manager only
// arbitrates the shared working buffer; actual codec routing happens in the
// host tooling until the firmware integration lands.
package codec

import (
	"errors"
	"io"
)

// ErrNoWindow is returned when a codec is used before Reset assigned it a
// working buffer.
var ErrNoWindow = errors.New("codec: no working buffer assigned")

// Codec compresses or decompresses one stream at a time through an
// externally owned working buffer.
type Codec interface {
	// Reset binds the codec to a working buffer and clears stream state.
	Reset(window []byte) error

	// Compress reads src to EOF and writes the compressed stream to dst,
	// returning the number of uncompressed bytes consumed.
	Compress(dst io.Writer, src io.Reader) (int64, error)

	// Decompress reads a compressed stream from src and writes the
	// decoded bytes to dst, returning the number of bytes produced.
	Decompress(dst io.Writer, src io.Reader) (int64, error)

	// Flush forces any buffered compressed data out. Codecs that frame
	// on Compress return may treat this as a no-op.
	Flush() error
}

// copyWindow is io.CopyBuffer restricted to the assigned working buffer, so
// all staging happens in externally owned memory.
func copyWindow(dst io.Writer, src io.Reader, window []byte) (int64, error) {
	if len(window) == 0 {
		return 0, ErrNoWindow
	}
	var total int64
	for {
		n, rerr := src.Read(window)
		if n > 0 {
			if _, werr := dst.Write(window[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}
