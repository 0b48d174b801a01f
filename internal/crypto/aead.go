package crypto

import (
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/vartec-chs/filecrypt/internal/errors"
)

const (
	// NonceSize is the XChaCha20-Poly1305 nonce length.
	NonceSize = chacha20poly1305.NonceSizeX
	// TagSize is the XChaCha20-Poly1305 authentication tag length.
	TagSize = chacha20poly1305.Overhead
)

// AEAD wraps an XChaCha20-Poly1305 instance keyed with K_enc. There is no
// associated data anywhere in this format.
type AEAD struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
		Overhead() int
	}
}

// NewAEAD constructs an AEAD instance from a 32-byte key.
func NewAEAD(key []byte) (*AEAD, error) {
	if len(key) != KeySize {
		return nil, errors.NewCryptoError("aead-init", errors.ErrInternal, nil)
	}
	a, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.NewCryptoError("aead-init", errors.ErrInternal, err)
	}
	return &AEAD{aead: a}, nil
}

// Seal encrypts plaintext with the given 24-byte nonce, returning
// ciphertext||tag. The ciphertext length equals len(plaintext); the tag
// is TagSize bytes.
func (a *AEAD) Seal(nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, errors.NewCryptoError("aead-seal", errors.ErrInternal, nil)
	}
	return a.aead.Seal(nil, nonce, plaintext, nil), nil
}

// Open decrypts ciphertext||tag with the given 24-byte nonce. A tag
// mismatch surfaces as ErrAuthFailure — the caller cannot distinguish a
// tampered chunk from a tampered header by inspecting the error.
func (a *AEAD) Open(nonce, sealed []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, errors.NewCryptoError("aead-open", errors.ErrInternal, nil)
	}
	plaintext, err := a.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.NewCryptoError("aead-open", errors.ErrAuthFailure, nil)
	}
	return plaintext, nil
}
