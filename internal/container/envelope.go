// Package container defines the artifact byte layout (spec §6, "Artifact
// layout") and its chunk framing. It performs no cryptographic
// operations — callers (internal/engine) are responsible for sealing/
// opening chunk payloads and for feeding written/read bytes to the
// whole-file MAC; this package only frames and parses fixed-width
// fields in big-endian, matching §4.2's "codec is purely structural".
package container

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vartec-chs/filecrypt/internal/errors"
)

// Magic is the 4-byte artifact magic, "AENC".
var Magic = [4]byte{'A', 'E', 'N', 'C'}

// Version is the single supported artifact version.
const Version byte = 0x01

const (
	SaltSize        = 16
	HeaderNonceSize = 24
	HeaderTagSize   = 16
	ChunkNonceSize  = 24
	ChunkTagSize    = 16
	TrailingMACSize = 32

	// MaxHeaderLen is the hard upper bound on the encrypted-header length
	// field; anything larger is Corrupt, per spec §4.2.
	MaxHeaderLen = 10000

	// MinEnvelopeSize is the smallest possible artifact: an empty
	// encrypted header and zero chunks.
	MinEnvelopeSize = 4 + 1 + SaltSize + HeaderNonceSize + 4 + 0 + HeaderTagSize + 4 + 8 + TrailingMACSize
)

// Prefix holds every artifact field up to (not including) the chunk
// stream and the trailing MAC.
type Prefix struct {
	Salt             []byte // SaltSize bytes
	HeaderNonce      []byte // HeaderNonceSize bytes
	HeaderCiphertext []byte // encrypted header bytes, length <= MaxHeaderLen
	HeaderTag        []byte // HeaderTagSize bytes
	ChunkSize        uint32
	ChunkCount       int64
}

// WritePrefix writes magic, version, and every Prefix field to w in the
// exact order and widths required by §4.3 step 4. The caller is
// responsible for also feeding these bytes to the streaming MAC (e.g.
// by wrapping w in io.MultiWriter with the MAC before calling this).
func WritePrefix(w io.Writer, p Prefix) error {
	if len(p.Salt) != SaltSize {
		return internalf("salt", fmt.Errorf("length %d, want %d", len(p.Salt), SaltSize))
	}
	if len(p.HeaderNonce) != HeaderNonceSize {
		return internalf("header_nonce", fmt.Errorf("length %d, want %d", len(p.HeaderNonce), HeaderNonceSize))
	}
	if len(p.HeaderTag) != HeaderTagSize {
		return internalf("header_tag", fmt.Errorf("length %d, want %d", len(p.HeaderTag), HeaderTagSize))
	}
	if len(p.HeaderCiphertext) > MaxHeaderLen {
		return errors.NewValidationError("header_len", fmt.Sprintf("length %d exceeds max %d", len(p.HeaderCiphertext), MaxHeaderLen))
	}

	if _, err := w.Write(Magic[:]); err != nil {
		return ioErr("write", "magic", err)
	}
	if _, err := w.Write([]byte{Version}); err != nil {
		return ioErr("write", "version", err)
	}
	if _, err := w.Write(p.Salt); err != nil {
		return ioErr("write", "salt", err)
	}
	if _, err := w.Write(p.HeaderNonce); err != nil {
		return ioErr("write", "header_nonce", err)
	}

	var headerLen [4]byte
	binary.BigEndian.PutUint32(headerLen[:], uint32(len(p.HeaderCiphertext)))
	if _, err := w.Write(headerLen[:]); err != nil {
		return ioErr("write", "header_len", err)
	}
	if _, err := w.Write(p.HeaderCiphertext); err != nil {
		return ioErr("write", "encrypted_header", err)
	}
	if _, err := w.Write(p.HeaderTag); err != nil {
		return ioErr("write", "header_tag", err)
	}

	var chunkSize [4]byte
	binary.BigEndian.PutUint32(chunkSize[:], p.ChunkSize)
	if _, err := w.Write(chunkSize[:]); err != nil {
		return ioErr("write", "chunk_size", err)
	}

	var chunkCount [8]byte
	binary.BigEndian.PutUint64(chunkCount[:], uint64(p.ChunkCount))
	if _, err := w.Write(chunkCount[:]); err != nil {
		return ioErr("write", "chunk_count", err)
	}

	return nil
}

// ReadPrefix reads and validates magic/version, then reads every Prefix
// field from r in order, per §4.4 steps 1-4 and 7. The caller is
// responsible for feeding the read bytes to the streaming MAC (e.g. by
// wrapping r in io.TeeReader with the MAC before calling this).
func ReadPrefix(r io.Reader) (Prefix, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return Prefix{}, corruptf("magic", err)
	}
	if magic != Magic {
		return Prefix{}, corruptf("magic", fmt.Errorf("got %q", magic[:]))
	}

	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return Prefix{}, corruptf("version", err)
	}
	if version[0] != Version {
		return Prefix{}, corruptf("version", fmt.Errorf("unsupported version %d", version[0]))
	}

	var p Prefix

	p.Salt = make([]byte, SaltSize)
	if _, err := io.ReadFull(r, p.Salt); err != nil {
		return Prefix{}, corruptf("salt", err)
	}

	p.HeaderNonce = make([]byte, HeaderNonceSize)
	if _, err := io.ReadFull(r, p.HeaderNonce); err != nil {
		return Prefix{}, corruptf("header_nonce", err)
	}

	var headerLenBuf [4]byte
	if _, err := io.ReadFull(r, headerLenBuf[:]); err != nil {
		return Prefix{}, corruptf("header_len", err)
	}
	headerLen := binary.BigEndian.Uint32(headerLenBuf[:])
	if headerLen > MaxHeaderLen {
		return Prefix{}, corruptf("header_len", fmt.Errorf("%d exceeds max %d", headerLen, MaxHeaderLen))
	}

	p.HeaderCiphertext = make([]byte, headerLen)
	if _, err := io.ReadFull(r, p.HeaderCiphertext); err != nil {
		return Prefix{}, corruptf("encrypted_header", err)
	}

	p.HeaderTag = make([]byte, HeaderTagSize)
	if _, err := io.ReadFull(r, p.HeaderTag); err != nil {
		return Prefix{}, corruptf("header_tag", err)
	}

	var chunkSizeBuf [4]byte
	if _, err := io.ReadFull(r, chunkSizeBuf[:]); err != nil {
		return Prefix{}, corruptf("chunk_size", err)
	}
	p.ChunkSize = binary.BigEndian.Uint32(chunkSizeBuf[:])
	if p.ChunkSize == 0 {
		return Prefix{}, corruptf("chunk_size", fmt.Errorf("must be positive"))
	}

	var chunkCountBuf [8]byte
	if _, err := io.ReadFull(r, chunkCountBuf[:]); err != nil {
		return Prefix{}, corruptf("chunk_count", err)
	}
	p.ChunkCount = int64(binary.BigEndian.Uint64(chunkCountBuf[:]))
	if p.ChunkCount < 0 {
		return Prefix{}, corruptf("chunk_count", fmt.Errorf("negative chunk count %d", p.ChunkCount))
	}

	return p, nil
}

// WriteChunk writes nonce||sealed (ciphertext||tag) to w, per §4.3 step 5.
func WriteChunk(w io.Writer, nonce, sealed []byte) error {
	if len(nonce) != ChunkNonceSize {
		return internalf("chunk_nonce", fmt.Errorf("length %d, want %d", len(nonce), ChunkNonceSize))
	}
	if _, err := w.Write(nonce); err != nil {
		return ioErr("write", "chunk_nonce", err)
	}
	if _, err := w.Write(sealed); err != nil {
		return ioErr("write", "chunk_payload", err)
	}
	return nil
}

// ReadChunk reads one framed chunk — nonce, then exactly
// plaintextLen+ChunkTagSize bytes of ciphertext||tag — per §4.4 step 8.
func ReadChunk(r io.Reader, plaintextLen int) (nonce, sealed []byte, err error) {
	nonce = make([]byte, ChunkNonceSize)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, nil, corruptf("chunk_nonce", err)
	}

	sealed = make([]byte, plaintextLen+ChunkTagSize)
	if _, err := io.ReadFull(r, sealed); err != nil {
		return nil, nil, corruptf("chunk_payload", err)
	}

	return nonce, sealed, nil
}

// ChunkPlaintextLen returns the expected plaintext length of chunk index
// i (0-based) given the total payload length and chunk size, per §4.4
// step 8's rule: chunkSize for all but the last chunk; for the last,
// compressedSize mod chunkSize, or chunkSize when that modulus is zero.
func ChunkPlaintextLen(i, chunkCount int64, chunkSize uint32, compressedSize int64) int {
	if i != chunkCount-1 {
		return int(chunkSize)
	}
	last := compressedSize % int64(chunkSize)
	if last == 0 {
		return int(chunkSize)
	}
	return int(last)
}

// ReadTrailingMAC reads the final TrailingMACSize bytes, which are never
// fed to the streaming MAC themselves.
func ReadTrailingMAC(r io.Reader) ([]byte, error) {
	mac := make([]byte, TrailingMACSize)
	if _, err := io.ReadFull(r, mac); err != nil {
		return nil, corruptf("trailing_mac", err)
	}
	return mac, nil
}

func corruptf(field string, err error) error {
	return errors.NewHeaderError(field, errors.ErrCorrupt, err)
}

func internalf(field string, err error) error {
	return errors.NewHeaderError(field, errors.ErrInternal, err)
}

func ioErr(op, field string, err error) error {
	return errors.NewFileError(op, field, errors.ErrIO, err)
}
