// internal/store/codec.go
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Snapshot payloads larger than this are compressed before storage.
const compressThreshold = 512

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Marshal encodes v as JSON, zstd-compressed above a small threshold.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	if len(raw) < compressThreshold {
		return raw, nil
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return raw, nil
	}
	if _, err := enc.Write(raw); err != nil {
		_ = enc.Close()
		return raw, nil
	}
	if err := enc.Close(); err != nil {
		return raw, nil
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a payload produced by Marshal, transparently handling
// both compressed and plain-JSON forms.
func Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("unmarshal snapshot: empty payload")
	}
	if bytes.HasPrefix(data, zstdMagic) {
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("open snapshot decoder: %w", err)
		}
		defer dec.Close()

		raw, err := io.ReadAll(dec)
		if err != nil {
			return fmt.Errorf("decompress snapshot: %w", err)
		}
		data = raw
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return nil
}
