package engine

import (
	"bytes"
	"compress/gzip"
	"crypto/subtle"
	"encoding/binary"
	"io"

	"github.com/google/uuid"

	"github.com/vartec-chs/filecrypt/internal/container"
	fcrypto "github.com/vartec-chs/filecrypt/internal/crypto"
	"github.com/vartec-chs/filecrypt/internal/errors"
	"github.com/vartec-chs/filecrypt/internal/header"
)

// BytesOptions configures EncryptBytes. NoGzip disables the default
// gzip compression of the payload, mirroring the CLI's --no-gzip flag.
type BytesOptions struct {
	UUID      string
	NoGzip    bool
	KDFParams fcrypto.Params
}

// EncryptBytes implements spec.md §9's small-buffer variant: the same
// magic/version/salt/trailing-HMAC envelope as the chunked format, but
// the payload is sealed as a single AEAD operation with no
// chunk_size/chunk_count framing. This is a distinct on-disk variant;
// artifacts produced here MUST NOT be fed to Decrypt, only DecryptBytes.
func EncryptBytes(data []byte, passphrase string, opts BytesOptions) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.NewValidationError("passphrase", "must not be empty")
	}
	if opts.KDFParams == (fcrypto.Params{}) {
		opts.KDFParams = fcrypto.DefaultParams
	}
	id := opts.UUID
	if id == "" {
		id = uuid.NewString()
	}

	payload := data
	isCompressed := !opts.NoGzip
	if isCompressed {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			return nil, errors.NewFileError("write", "gzip", errors.ErrInternal, err)
		}
		if err := gw.Close(); err != nil {
			return nil, errors.NewFileError("close", "gzip", errors.ErrInternal, err)
		}
		payload = buf.Bytes()
	}

	kEnc, kMac, salt, err := fcrypto.Derive([]byte(passphrase), nil, opts.KDFParams)
	if err != nil {
		return nil, err
	}
	cc := fcrypto.NewCryptoContext(kEnc, kMac)
	defer cc.Close()

	aead, err := fcrypto.NewAEAD(cc.KEnc)
	if err != nil {
		return nil, err
	}

	h := header.Header{
		UUID:           id,
		IsCompressed:   isCompressed,
		OriginalSize:   int64(len(data)),
		CompressedSize: int64(len(payload)),
	}
	headerPlain, err := h.Serialize()
	if err != nil {
		return nil, err
	}

	headerNonce, err := fcrypto.RandomBytes(fcrypto.NonceSize)
	if err != nil {
		return nil, err
	}
	headerSealed, err := aead.Seal(headerNonce, headerPlain)
	if err != nil {
		return nil, err
	}
	headerCiphertext := headerSealed[:len(headerSealed)-fcrypto.TagSize]
	headerTag := headerSealed[len(headerSealed)-fcrypto.TagSize:]

	payloadNonce, err := fcrypto.RandomBytes(fcrypto.NonceSize)
	if err != nil {
		return nil, err
	}
	payloadSealed, err := aead.Seal(payloadNonce, payload)
	if err != nil {
		return nil, err
	}

	mac := fcrypto.NewMAC(cc.KMac)
	var buf bytes.Buffer
	w := io.MultiWriter(&buf, mac)

	if _, err := w.Write(container.Magic[:]); err != nil {
		return nil, errors.NewFileError("write", "magic", errors.ErrInternal, err)
	}
	if _, err := w.Write([]byte{container.Version}); err != nil {
		return nil, errors.NewFileError("write", "version", errors.ErrInternal, err)
	}
	if _, err := w.Write(salt); err != nil {
		return nil, errors.NewFileError("write", "salt", errors.ErrInternal, err)
	}
	if _, err := w.Write(headerNonce); err != nil {
		return nil, errors.NewFileError("write", "header_nonce", errors.ErrInternal, err)
	}

	var headerLen [4]byte
	binary.BigEndian.PutUint32(headerLen[:], uint32(len(headerCiphertext)))
	if _, err := w.Write(headerLen[:]); err != nil {
		return nil, errors.NewFileError("write", "header_len", errors.ErrInternal, err)
	}
	if _, err := w.Write(headerCiphertext); err != nil {
		return nil, errors.NewFileError("write", "encrypted_header", errors.ErrInternal, err)
	}
	if _, err := w.Write(headerTag); err != nil {
		return nil, errors.NewFileError("write", "header_tag", errors.ErrInternal, err)
	}
	if _, err := w.Write(payloadNonce); err != nil {
		return nil, errors.NewFileError("write", "payload_nonce", errors.ErrInternal, err)
	}
	if _, err := w.Write(payloadSealed); err != nil {
		return nil, errors.NewFileError("write", "payload", errors.ErrInternal, err)
	}

	buf.Write(mac.Sum(nil))

	return buf.Bytes(), nil
}

// DecryptBytes reverses EncryptBytes. It MUST NOT be used on artifacts
// produced by Encrypt (the chunked format) — the two variants share a
// magic/version/salt/trailing-HMAC prefix but diverge immediately after
// the header tag, per spec.md §9.
func DecryptBytes(artifact []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.NewValidationError("passphrase", "must not be empty")
	}
	if len(artifact) < container.MinEnvelopeSize {
		return nil, errors.NewHeaderError("artifact", errors.ErrCorrupt, nil)
	}

	r := bytes.NewReader(artifact)
	captured := &captureReader{r: r}

	var magic [4]byte
	if _, err := io.ReadFull(captured, magic[:]); err != nil {
		return nil, errors.NewHeaderError("magic", errors.ErrCorrupt, err)
	}
	if magic != container.Magic {
		return nil, errors.NewHeaderError("magic", errors.ErrCorrupt, nil)
	}

	var version [1]byte
	if _, err := io.ReadFull(captured, version[:]); err != nil {
		return nil, errors.NewHeaderError("version", errors.ErrCorrupt, err)
	}
	if version[0] != container.Version {
		return nil, errors.NewHeaderError("version", errors.ErrCorrupt, nil)
	}

	salt := make([]byte, container.SaltSize)
	if _, err := io.ReadFull(captured, salt); err != nil {
		return nil, errors.NewHeaderError("salt", errors.ErrCorrupt, err)
	}

	headerNonce := make([]byte, container.HeaderNonceSize)
	if _, err := io.ReadFull(captured, headerNonce); err != nil {
		return nil, errors.NewHeaderError("header_nonce", errors.ErrCorrupt, err)
	}

	var headerLenBuf [4]byte
	if _, err := io.ReadFull(captured, headerLenBuf[:]); err != nil {
		return nil, errors.NewHeaderError("header_len", errors.ErrCorrupt, err)
	}
	headerLen := binary.BigEndian.Uint32(headerLenBuf[:])
	if headerLen > container.MaxHeaderLen {
		return nil, errors.NewHeaderError("header_len", errors.ErrCorrupt, nil)
	}

	headerCiphertext := make([]byte, headerLen)
	if _, err := io.ReadFull(captured, headerCiphertext); err != nil {
		return nil, errors.NewHeaderError("encrypted_header", errors.ErrCorrupt, err)
	}
	headerTag := make([]byte, container.HeaderTagSize)
	if _, err := io.ReadFull(captured, headerTag); err != nil {
		return nil, errors.NewHeaderError("header_tag", errors.ErrCorrupt, err)
	}

	kEnc, kMac, _, err := fcrypto.Derive([]byte(passphrase), salt, fcrypto.DefaultParams)
	if err != nil {
		return nil, err
	}
	cc := fcrypto.NewCryptoContext(kEnc, kMac)
	defer cc.Close()

	aead, err := fcrypto.NewAEAD(cc.KEnc)
	if err != nil {
		return nil, err
	}

	headerSealed := append(append([]byte{}, headerCiphertext...), headerTag...)
	headerPlain, err := aead.Open(headerNonce, headerSealed)
	if err != nil {
		return nil, err
	}
	h, err := header.Parse(headerPlain)
	if err != nil {
		return nil, err
	}

	payloadNonce := make([]byte, fcrypto.NonceSize)
	if _, err := io.ReadFull(captured, payloadNonce); err != nil {
		return nil, errors.NewHeaderError("payload_nonce", errors.ErrCorrupt, err)
	}

	remaining := artifact[len(captured.captured):]
	if len(remaining) < container.TrailingMACSize {
		return nil, errors.NewHeaderError("trailing_mac", errors.ErrCorrupt, nil)
	}
	payloadSealed := remaining[:len(remaining)-container.TrailingMACSize]
	storedMAC := remaining[len(remaining)-container.TrailingMACSize:]

	mac := fcrypto.NewMAC(cc.KMac)
	mac.Write(captured.captured)
	mac.Write(payloadSealed)
	if subtle.ConstantTimeCompare(mac.Sum(nil), storedMAC) != 1 {
		return nil, errors.NewCryptoError("mac-verify", errors.ErrAuthFailure, nil)
	}

	payload, err := aead.Open(payloadNonce, payloadSealed)
	if err != nil {
		return nil, err
	}

	if int64(len(payload)) != h.CompressedSize {
		return nil, errors.NewHeaderError("compressed_size", errors.ErrCorrupt, nil)
	}

	if !h.IsCompressed {
		return payload, nil
	}

	gr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, errors.NewFileError("read", "gzip", errors.ErrCorrupt, err)
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, errors.NewFileError("read", "gzip", errors.ErrCorrupt, err)
	}
	return out, nil
}
