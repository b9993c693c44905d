package sequel

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	// CompressionThreshold is the minimum payload size before compression
	// is considered. zstd overhead is not worth it for smaller documents.
	CompressionThreshold = 2048

	// MaxDecompressedSize is the hard cap during decompression to prevent
	// compression bombs in hostile API responses.
	MaxDecompressedSize = 32 * 1024 * 1024 // 32MB
)

var (
	codecOnce   sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func codec() (*zstd.Encoder, *zstd.Decoder) {
	codecOnce.Do(func() {
		// EncodeAll/DecodeAll with nil targets are goroutine-safe,
		// so one shared codec serves the whole process.
		zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	})
	return zstdEncoder, zstdDecoder
}

// Payload holds the raw API document for a resource, compressed when large
// enough to be worth it. The detail view decodes on demand; the rest of
// the system only ever compares fingerprints.
type Payload struct {
	data       []byte
	compressed bool
	rawSize    int64
	fp         Fingerprint
}

// NewPayload wraps a raw API document. Documents above
// CompressionThreshold are stored zstd-compressed.
func NewPayload(raw []byte) *Payload {
	p := &Payload{
		rawSize: int64(len(raw)),
		fp:      FingerprintBytes(raw),
	}

	if len(raw) >= CompressionThreshold {
		enc, _ := codec()
		if enc != nil {
			p.data = enc.EncodeAll(raw, nil)
			p.compressed = true
			return p
		}
	}

	p.data = append([]byte(nil), raw...)
	return p
}

// Bytes returns the raw document, decompressing when needed.
func (p *Payload) Bytes() ([]byte, error) {
	if !p.compressed {
		return p.data, nil
	}
	_, dec := codec()
	if dec == nil {
		return nil, fmt.Errorf("zstd decoder unavailable")
	}
	raw, err := dec.DecodeAll(p.data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	return raw, nil
}

// RawSize returns the uncompressed size of the document.
func (p *Payload) RawSize() int64 { return p.rawSize }

// Fingerprint returns the BLAKE3 fingerprint of the raw document.
func (p *Payload) Fingerprint() Fingerprint { return p.fp }

// SizeBytes returns the in-memory footprint of the payload. The cache
// uses this instead of traversing the struct.
func (p *Payload) SizeBytes() int64 { return int64(len(p.data)) + 64 }
