// Package crypto derives and holds the keys one encrypt/decrypt
// operation needs: Argon2id key derivation, the AEAD and MAC
// constructors, and the zeroing helpers that scrub them from memory
// once an operation finishes.

package crypto

import (
	"crypto/subtle"
)

// SecureZero overwrites a byte slice with zeros to prevent sensitive data
// from persisting in memory. This helps mitigate memory dump attacks and
// reduces the window during which keys are recoverable from RAM.
//
// ⚠️ SECURITY NOTE: Due to Go's garbage collector and potential compiler
// optimizations, this function cannot guarantee complete erasure. However,
// it significantly reduces the attack surface compared to no cleanup.
//
// The function uses subtle.ConstantTimeCopy to prevent the compiler from
// optimizing away the zeroing operation.
func SecureZero(b []byte) {
	if len(b) == 0 {
		return
	}
	// Use constant-time copy from a zero slice to prevent optimization removal
	zeros := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zeros)
}

// SecureZeroMultiple zeros multiple byte slices in a single call.
// Useful for cleaning up multiple related keys or buffers.
func SecureZeroMultiple(slices ...[]byte) {
	for _, s := range slices {
		SecureZero(s)
	}
}

// CryptoContext holds the two derived keys for one operation.
// Use Close() to securely zero both when done.
type CryptoContext struct {
	KEnc   []byte
	KMac   []byte
	closed bool
}

// NewCryptoContext wraps a derived key pair. The caller retains ownership
// of the slices passed in; Close zeros them in place.
func NewCryptoContext(kEnc, kMac []byte) *CryptoContext {
	return &CryptoContext{KEnc: kEnc, KMac: kMac}
}

// Close securely zeros both derived keys.
// This should be called via defer immediately after creating the context.
func (cc *CryptoContext) Close() {
	if cc.closed {
		return
	}
	SecureZeroMultiple(cc.KEnc, cc.KMac)
	cc.KEnc = nil
	cc.KMac = nil
	cc.closed = true
}
