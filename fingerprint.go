package sequel

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// FingerprintSize is the size of a BLAKE3 fingerprint in bytes (256 bits).
const FingerprintSize = 32

// Fingerprint is a BLAKE3 digest of a raw resource payload, used to detect
// whether a refreshed resource actually changed.
type Fingerprint [FingerprintSize]byte

// FingerprintBytes computes the BLAKE3 fingerprint of the given bytes.
func FingerprintBytes(data []byte) Fingerprint {
	return Fingerprint(blake3.Sum256(data))
}

// String returns the hex-encoded representation of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// ShortString returns a shortened hex representation for display.
func (f Fingerprint) ShortString() string {
	return hex.EncodeToString(f[:8])
}

// IsZero returns true if the fingerprint is all zeros (uninitialised).
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}
