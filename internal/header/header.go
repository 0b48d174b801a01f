// Package header implements the encrypted-header plaintext record: the
// metadata describing an artifact's original content (uuid, name,
// extension, directory/compression flags, sizes). It is pure
// serialize/parse logic with no cryptographic operations of its own —
// the header bytes are AEAD-encrypted by the caller (internal/engine).
package header

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/vartec-chs/filecrypt/internal/errors"
)

const (
	// MaxUUIDLen is the maximum UUID byte length (u8 length prefix).
	MaxUUIDLen = 255
	// MaxNameLen is the maximum original_name byte length (u16 length prefix).
	MaxNameLen = 65535
	// MaxExtensionLen is the maximum original_extension byte length (u8 length prefix).
	MaxExtensionLen = 255
)

// Header is the plaintext record described by spec §3, serialized per
// the exact field order and widths of §6's "Encrypted-header plaintext
// layout".
type Header struct {
	UUID              string
	OriginalName      string
	OriginalExtension string
	WasDirectory      bool
	IsCompressed      bool
	OriginalSize      int64
	CompressedSize    int64
}

// Serialize encodes h using the fixed binary layout:
//
//	1  uuid_len (u8)
//	N1 uuid bytes
//	2  name_len (u16)
//	N2 name bytes
//	1  ext_len (u8)
//	N3 ext bytes
//	1  was_directory (0|1)
//	1  is_compressed (0|1)
//	8  original_size   (i64)
//	8  compressed_size (i64)
//
// Returns ErrInvalidInput if any length cap from spec §3 is exceeded, or
// if original_extension has a leading dot, or if compressed_size/
// original_size are negative.
func (h Header) Serialize() ([]byte, error) {
	uuidBytes := []byte(h.UUID)
	nameBytes := []byte(h.OriginalName)
	extBytes := []byte(h.OriginalExtension)

	if len(uuidBytes) > MaxUUIDLen {
		return nil, errors.NewValidationError("uuid", fmt.Sprintf("length %d exceeds max %d", len(uuidBytes), MaxUUIDLen))
	}
	if len(nameBytes) > MaxNameLen {
		return nil, errors.NewValidationError("original_name", fmt.Sprintf("length %d exceeds max %d", len(nameBytes), MaxNameLen))
	}
	if len(extBytes) > MaxExtensionLen {
		return nil, errors.NewValidationError("original_extension", fmt.Sprintf("length %d exceeds max %d", len(extBytes), MaxExtensionLen))
	}
	if len(extBytes) > 0 && extBytes[0] == '.' {
		return nil, errors.NewValidationError("original_extension", "must not have a leading dot")
	}
	if h.WasDirectory && len(extBytes) > 0 {
		return nil, errors.NewValidationError("original_extension", "must be empty when was_directory is true")
	}
	if h.OriginalSize < 0 {
		return nil, errors.NewValidationError("original_size", "must be >= 0")
	}
	if h.CompressedSize < 0 {
		return nil, errors.NewValidationError("compressed_size", "must be >= 0")
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(byte(len(uuidBytes)))
	buf.Write(uuidBytes)

	var nameLen [2]byte
	binary.BigEndian.PutUint16(nameLen[:], uint16(len(nameBytes)))
	buf.Write(nameLen[:])
	buf.Write(nameBytes)

	buf.WriteByte(byte(len(extBytes)))
	buf.Write(extBytes)

	buf.WriteByte(boolByte(h.WasDirectory))
	buf.WriteByte(boolByte(h.IsCompressed))

	var sizes [16]byte
	binary.BigEndian.PutUint64(sizes[0:8], uint64(h.OriginalSize))
	binary.BigEndian.PutUint64(sizes[8:16], uint64(h.CompressedSize))
	buf.Write(sizes[:])

	return buf.Bytes(), nil
}

// Parse decodes a Header from its exact serialized layout. Any short
// read, truncated field, or trailing garbage is reported as ErrCorrupt —
// callers reach this only after the encrypted header has already
// AEAD-verified, so a parse failure here indicates a format bug rather
// than tampering.
func Parse(data []byte) (Header, error) {
	r := bytes.NewReader(data)
	var h Header

	uuidLen, err := r.ReadByte()
	if err != nil {
		return Header{}, corruptf("uuid_len", err)
	}
	uuidBytes := make([]byte, uuidLen)
	if _, err := io.ReadFull(r, uuidBytes); err != nil {
		return Header{}, corruptf("uuid", err)
	}
	h.UUID = string(uuidBytes)

	var nameLenBuf [2]byte
	if _, err := io.ReadFull(r, nameLenBuf[:]); err != nil {
		return Header{}, corruptf("name_len", err)
	}
	nameLen := binary.BigEndian.Uint16(nameLenBuf[:])
	nameBytes := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBytes); err != nil {
		return Header{}, corruptf("original_name", err)
	}
	h.OriginalName = string(nameBytes)

	extLen, err := r.ReadByte()
	if err != nil {
		return Header{}, corruptf("ext_len", err)
	}
	extBytes := make([]byte, extLen)
	if _, err := io.ReadFull(r, extBytes); err != nil {
		return Header{}, corruptf("original_extension", err)
	}
	h.OriginalExtension = string(extBytes)

	wasDir, err := r.ReadByte()
	if err != nil {
		return Header{}, corruptf("was_directory", err)
	}
	h.WasDirectory = wasDir != 0

	isCompressed, err := r.ReadByte()
	if err != nil {
		return Header{}, corruptf("is_compressed", err)
	}
	h.IsCompressed = isCompressed != 0

	var sizes [16]byte
	if _, err := io.ReadFull(r, sizes[:]); err != nil {
		return Header{}, corruptf("sizes", err)
	}
	h.OriginalSize = int64(binary.BigEndian.Uint64(sizes[0:8]))
	h.CompressedSize = int64(binary.BigEndian.Uint64(sizes[8:16]))

	if r.Len() != 0 {
		return Header{}, errors.NewHeaderError("trailing-bytes", errors.ErrCorrupt, fmt.Errorf("%d unexpected trailing bytes", r.Len()))
	}

	return h, nil
}

// RestoreName rebuilds the original_name[.original_extension] base name
// a restore should recreate under the caller's output directory, per
// spec §4.5/§6/§9. It does not duplicate the extension when
// OriginalName already carries it.
func (h Header) RestoreName() string {
	if h.OriginalExtension == "" {
		return h.OriginalName
	}
	suffix := "." + h.OriginalExtension
	if strings.HasSuffix(h.OriginalName, suffix) {
		return h.OriginalName
	}
	return h.OriginalName + suffix
}

func corruptf(field string, err error) error {
	return errors.NewHeaderError(field, errors.ErrCorrupt, err)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
