package artifact

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest of an artifact's bytes.
type Digest [32]byte

// digestKey separates artifact digests from any other BLAKE3 use of the
// same bytes. Changing it invalidates every recorded digest.
var digestKey = [32]byte{
	'r', 'x', 'p', 'd', 'f', '.', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't', 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Sum computes the digest of data.
func Sum(data []byte) Digest {
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("artifact: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var d Digest
	copy(d[:], hasher.Sum(nil))
	return d
}

// String returns the hex encoding used in logs and CLI output.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the "rx-" prefixed first 12 hex characters.
func (d Digest) Short() string {
	return "rx-" + hex.EncodeToString(d[:6])
}

// ParseDigest parses a 64-character hex string.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parsing artifact digest: %w", err)
	}
	if len(decoded) != len(d) {
		return d, fmt.Errorf("artifact digest is %d bytes, want %d", len(decoded), len(d))
	}
	copy(d[:], decoded)
	return d, nil
}
