// Package crypto provides the cryptographic primitives for filecrypt
// artifacts. This is AUDIT-CRITICAL code - changes here directly affect
// encryption/decryption compatibility.
package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/vartec-chs/filecrypt/internal/errors"
)

// Params holds the Argon2id tuning knobs. The zero value is never valid;
// use DefaultParams unless a caller explicitly overrides them.
type Params struct {
	MemoryKiB   uint32
	Parallelism uint32
	Iterations  uint32
}

// DefaultParams matches the fixed defaults: memory cost 19456 KiB,
// parallelism 1, iterations 2. These MUST NOT change without a format
// version bump, or existing artifacts become undecryptable.
var DefaultParams = Params{
	MemoryKiB:   19456,
	Parallelism: 1,
	Iterations:  2,
}

const (
	// SaltSize is the number of random bytes generated per encryption.
	SaltSize = 16
	// kdfOutputSize is the total Argon2id output, split into K_enc||K_mac.
	kdfOutputSize = 64
	// KeySize is the size of each derived key (K_enc and K_mac).
	KeySize = 32
)

// RandomBytes generates n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.NewCryptoError("rand", errors.ErrInternal, err)
	}

	allZero := true
	for _, v := range b {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil, errors.NewCryptoError("rand", errors.ErrInternal, fmt.Errorf("produced all-zero bytes"))
	}

	return b, nil
}

// Derive turns a passphrase plus a salt into the two 256-bit keys K_enc
// and K_mac, per spec.md §4.1. If salt is nil, 16 fresh random bytes are
// generated. Fails with ErrInvalidInput if passphrase is empty or salt
// is supplied but empty.
func Derive(passphrase []byte, salt []byte, params Params) (kEnc, kMac, outSalt []byte, err error) {
	if len(passphrase) == 0 {
		return nil, nil, nil, errors.NewValidationError("passphrase", "must not be empty")
	}
	if salt != nil && len(salt) == 0 {
		return nil, nil, nil, errors.NewValidationError("salt", "must not be empty when supplied")
	}

	if salt == nil {
		salt, err = RandomBytes(SaltSize)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	out := argon2.IDKey(passphrase, salt, params.Iterations, params.MemoryKiB, uint8(params.Parallelism), kdfOutputSize)
	if len(out) != kdfOutputSize {
		return nil, nil, nil, errors.NewCryptoError("argon2", errors.ErrInternal, fmt.Errorf("got %d bytes, want %d", len(out), kdfOutputSize))
	}

	kEnc = make([]byte, KeySize)
	kMac = make([]byte, KeySize)
	copy(kEnc, out[:KeySize])
	copy(kMac, out[KeySize:])
	SecureZero(out)

	return kEnc, kMac, salt, nil
}

// ValidateParams checks Argon2id parameters for soundness per spec.md
// §4.1, returning zero or more human-readable messages. Messages prefixed
// implicitly as errors are: memory < 8, parallelism < 1, iterations < 1.
// A non-fatal warning is returned when memory < 19456 AND iterations < 3.
func ValidateParams(memory, parallelism, iterations uint32) []string {
	var msgs []string

	if memory < 8 {
		msgs = append(msgs, fmt.Sprintf("Memory cost %d KiB is below the minimum of 8 KiB", memory))
	}
	if parallelism < 1 {
		msgs = append(msgs, fmt.Sprintf("Parallelism %d must be at least 1", parallelism))
	}
	if iterations < 1 {
		msgs = append(msgs, fmt.Sprintf("Iterations %d must be at least 1", iterations))
	}

	if memory < 19456 && iterations < 3 {
		msgs = append(msgs, fmt.Sprintf("Memory cost %d KiB with %d iteration(s) is weaker than OWASP guidance", memory, iterations))
	}

	return msgs
}
