package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/klauspost/compress/flate"
)

func roundTrip(t *testing.T, c Codec, payload []byte) {
	t.Helper()

	var packed bytes.Buffer
	n, err := c.Compress(&packed, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("expected %d bytes consumed, got %d", len(payload), n)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	var unpacked bytes.Buffer
	n, err = c.Decompress(&unpacked, &packed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("expected %d bytes produced, got %d", len(payload), n)
	}
	if !bytes.Equal(unpacked.Bytes(), payload) {
		t.Error("payload did not round trip")
	}
}

// testPayload is repetitive enough to compress and long enough to exercise
// multiple window refills.
func testPayload() []byte {
	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i / 512)
	}
	return payload
}

func TestLZ4RoundTrip(t *testing.T) {
	c, err := NewLZ4(make([]byte, 4096))
	if err != nil {
		t.Fatalf("NewLZ4 failed: %v", err)
	}
	roundTrip(t, c, testPayload())
}

func TestDeflateRoundTrip(t *testing.T) {
	c, err := NewDeflate(make([]byte, 4096), flate.BestCompression)
	if err != nil {
		t.Fatalf("NewDeflate failed: %v", err)
	}
	roundTrip(t, c, testPayload())
}

func TestRejectsEmptyWindow(t *testing.T) {
	if _, err := NewLZ4(nil); !errors.Is(err, ErrNoWindow) {
		t.Errorf("expected ErrNoWindow from NewLZ4, got %v", err)
	}
	if _, err := NewDeflate(nil, flate.DefaultCompression); !errors.Is(err, ErrNoWindow) {
		t.Errorf("expected ErrNoWindow from NewDeflate, got %v", err)
	}
}

func TestResetRebindWindow(t *testing.T) {
	c, err := NewLZ4(make([]byte, 16))
	if err != nil {
		t.Fatalf("NewLZ4 failed: %v", err)
	}
	if err := c.Reset(make([]byte, 4096)); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	roundTrip(t, c, testPayload())
}
