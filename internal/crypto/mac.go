package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"
)

// MACSize is the HMAC-SHA256 output size, stored as the trailing 32 bytes
// of every artifact.
const MACSize = sha256.Size

// NewMAC creates a new streaming HMAC-SHA256 keyed with K_mac, fed every
// byte written to the artifact in the exact order required by §4.3/§4.4.
func NewMAC(kMac []byte) hash.Hash {
	return hmac.New(sha256.New, kMac)
}
