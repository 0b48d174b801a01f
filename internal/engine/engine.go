// Package engine drives the bounded-memory chunked pipeline that turns a
// plaintext byte stream into a self-describing encrypted artifact and
// back. This is AUDIT-CRITICAL code: the byte order written here is the
// on-disk format, and changing it silently breaks every existing
// artifact.
//
// Encryption pipeline (mirrors the teacher's phased volume package):
//  1. Derive keys from the passphrase and a fresh salt.
//  2. Build and AEAD-encrypt the header.
//  3. Write the envelope prefix, feeding every byte to the streaming MAC.
//  4. Buffer the payload into fixed-size chunks, sealing and writing each.
//  5. Append the trailing whole-file MAC.
//
// Decryption reverses the process, verifying every tag before releasing
// any plaintext, and never distinguishes *which* tag failed.
package engine

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/vartec-chs/filecrypt/internal/container"
	fcrypto "github.com/vartec-chs/filecrypt/internal/crypto"
	"github.com/vartec-chs/filecrypt/internal/errors"
	"github.com/vartec-chs/filecrypt/internal/header"
	"github.com/vartec-chs/filecrypt/internal/log"
)

// DefaultChunkSize is the default chunk size (1 MiB), used whenever a
// caller does not override it.
const DefaultChunkSize uint32 = 1 << 20

// ProgressFunc receives (bytes processed so far, total bytes) after each
// chunk. The sequence is monotonically nondecreasing; the final call (if
// total > 0) reports processed == total.
type ProgressFunc func(processed, total int64)

func reportProgress(fn ProgressFunc, processed, total int64) {
	if fn != nil {
		fn(processed, total)
	}
}

// EncryptInput describes one encryption operation. Payload is the
// already-archived/compressed plaintext byte stream of known length
// PayloadSize (the Archive Façade populates these); OutputPath is the
// artifact's final location, created atomically.
type EncryptInput struct {
	Payload           io.Reader
	PayloadSize       int64
	OutputPath        string
	Passphrase        string
	UUID              string
	OriginalName      string
	OriginalExtension string
	WasDirectory      bool
	IsCompressed      bool
	OriginalSize      int64
	ChunkSize         uint32
	KDFParams         fcrypto.Params
	Progress          ProgressFunc
}

// EncryptResult summarizes a completed encryption, mirroring spec §6's
// encrypt() return value.
type EncryptResult struct {
	UUID              string
	OutputPath        string
	OriginalName      string
	WasDirectory      bool
	OriginalExtension string
	BytesWritten      int64
	OriginalSize      int64
}

func (in *EncryptInput) applyDefaults() {
	if in.ChunkSize == 0 {
		in.ChunkSize = DefaultChunkSize
	}
	if in.KDFParams == (fcrypto.Params{}) {
		in.KDFParams = fcrypto.DefaultParams
	}
	if in.UUID == "" {
		in.UUID = uuid.NewString()
	}
}

// Encrypt implements spec.md §4.3: derive keys, write the envelope
// prefix, stream the payload into fixed-size sealed chunks, and append
// the trailing HMAC-SHA256. The output is created under a temporary
// name and renamed into place only after every byte (including the
// trailing MAC) has been flushed; any error deletes the partial file.
func Encrypt(ctx context.Context, in EncryptInput) (EncryptResult, error) {
	in.applyDefaults()

	log.Debug("engine: starting encrypt", log.String("uuid", in.UUID), log.Int64("payload_size", in.PayloadSize))

	if in.Passphrase == "" {
		return EncryptResult{}, errors.NewValidationError("passphrase", "must not be empty")
	}
	if in.PayloadSize < 0 {
		return EncryptResult{}, errors.NewValidationError("payload_size", "must be >= 0")
	}
	if in.OutputPath == "" {
		return EncryptResult{}, errors.NewValidationError("output_path", "must not be empty")
	}

	kEnc, kMac, salt, err := fcrypto.Derive([]byte(in.Passphrase), nil, in.KDFParams)
	if err != nil {
		return EncryptResult{}, err
	}
	cc := fcrypto.NewCryptoContext(kEnc, kMac)
	defer cc.Close()

	tmpPath := in.OutputPath + ".incomplete"
	out, err := os.Create(tmpPath)
	if err != nil {
		return EncryptResult{}, errors.NewFileError("create", tmpPath, errors.ErrIO, err)
	}

	cleanup := func() {
		_ = out.Close()
		_ = os.Remove(tmpPath)
	}

	if err := encryptTo(ctx, out, in, cc, salt); err != nil {
		cleanup()
		log.Error("engine: encrypt failed", log.Err(err), log.String("uuid", in.UUID))
		return EncryptResult{}, err
	}

	if err := out.Sync(); err != nil {
		cleanup()
		return EncryptResult{}, errors.NewFileError("sync", tmpPath, errors.ErrIO, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return EncryptResult{}, errors.NewFileError("close", tmpPath, errors.ErrIO, err)
	}
	if err := os.Rename(tmpPath, in.OutputPath); err != nil {
		_ = os.Remove(tmpPath)
		return EncryptResult{}, errors.NewFileError("rename", tmpPath, errors.ErrIO, err)
	}

	log.Info("engine: encrypt complete", log.String("uuid", in.UUID), log.Int64("bytes_written", in.PayloadSize))

	return EncryptResult{
		UUID:              in.UUID,
		OutputPath:        in.OutputPath,
		OriginalName:      in.OriginalName,
		WasDirectory:      in.WasDirectory,
		OriginalExtension: in.OriginalExtension,
		BytesWritten:      in.PayloadSize,
		OriginalSize:      in.OriginalSize,
	}, nil
}

func encryptTo(ctx context.Context, out io.Writer, in EncryptInput, cc *fcrypto.CryptoContext, salt []byte) error {
	mac := fcrypto.NewMAC(cc.KMac)
	sink := io.MultiWriter(out, mac)

	aead, err := fcrypto.NewAEAD(cc.KEnc)
	if err != nil {
		return err
	}

	h := header.Header{
		UUID:              in.UUID,
		OriginalName:      in.OriginalName,
		OriginalExtension: in.OriginalExtension,
		WasDirectory:      in.WasDirectory,
		IsCompressed:      in.IsCompressed,
		OriginalSize:      in.OriginalSize,
		CompressedSize:    in.PayloadSize,
	}
	headerPlain, err := h.Serialize()
	if err != nil {
		return err
	}

	headerNonce, err := fcrypto.RandomBytes(fcrypto.NonceSize)
	if err != nil {
		return err
	}
	headerSealed, err := aead.Seal(headerNonce, headerPlain)
	if err != nil {
		return err
	}
	headerCiphertext := headerSealed[:len(headerSealed)-fcrypto.TagSize]
	headerTag := headerSealed[len(headerSealed)-fcrypto.TagSize:]

	chunkCount := expectedChunkCount(in.PayloadSize, in.ChunkSize)

	if err := container.WritePrefix(sink, container.Prefix{
		Salt:             salt,
		HeaderNonce:      headerNonce,
		HeaderCiphertext: headerCiphertext,
		HeaderTag:        headerTag,
		ChunkSize:        in.ChunkSize,
		ChunkCount:       chunkCount,
	}); err != nil {
		return err
	}

	if err := streamChunks(ctx, sink, aead, in.Payload, in.PayloadSize, in.ChunkSize, in.Progress); err != nil {
		return err
	}

	if _, err := out.Write(mac.Sum(nil)); err != nil {
		return errors.NewFileError("write", "trailing_mac", errors.ErrIO, err)
	}

	return nil
}

// streamChunks implements §4.3 steps 5-6: buffer the payload, slicing off
// and sealing exactly chunkSize bytes whenever enough are buffered, and
// sealing one final short chunk for the remainder.
func streamChunks(ctx context.Context, sink io.Writer, aead *fcrypto.AEAD, payload io.Reader, total int64, chunkSize uint32, progress ProgressFunc) error {
	buf := make([]byte, 0, chunkSize)
	read := make([]byte, chunkSize)
	var processed int64

	emit := func(plaintext []byte) error {
		nonce, err := fcrypto.RandomBytes(fcrypto.NonceSize)
		if err != nil {
			return err
		}
		sealed, err := aead.Seal(nonce, plaintext)
		if err != nil {
			return err
		}
		if err := container.WriteChunk(sink, nonce, sealed); err != nil {
			return err
		}
		fcrypto.SecureZero(plaintext)
		processed += int64(len(plaintext))
		reportProgress(progress, processed, total)
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "encrypt cancelled")
		}

		n, readErr := payload.Read(read)
		if n > 0 {
			buf = append(buf, read[:n]...)
			for len(buf) >= int(chunkSize) {
				if err := emit(buf[:chunkSize]); err != nil {
					return err
				}
				buf = buf[chunkSize:]
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errors.NewFileError("read", "payload", errors.ErrIO, readErr)
		}
	}

	if len(buf) > 0 {
		if err := emit(buf); err != nil {
			return err
		}
	}

	return nil
}

// expectedChunkCount mirrors encryptTo's chunk count formula, so
// decryptTo can reject a chunk_count field that doesn't match the
// compressed_size the (already AEAD-verified) header carries.
func expectedChunkCount(compressedSize int64, chunkSize uint32) int64 {
	if compressedSize <= 0 {
		return 0
	}
	return (compressedSize + int64(chunkSize) - 1) / int64(chunkSize)
}

// DecryptInput describes one decryption operation. ArtifactPath is
// opened for random access per spec.md §4.4; the decrypted payload is
// streamed to OutputPath.
type DecryptInput struct {
	ArtifactPath string
	OutputPath   string
	Passphrase   string
	Progress     ProgressFunc
}

// DecryptResult summarizes a completed decryption, mirroring spec §6's
// decrypt() return value.
type DecryptResult struct {
	UUID         string
	OutputPath   string
	OriginalName string
	WasDirectory bool
	BytesWritten int64
	Header       header.Header
}

// Decrypt implements spec.md §4.4: verify magic/version, derive keys,
// AEAD-open the header, then verify and release each chunk in order
// before finally checking the trailing whole-file MAC. No plaintext
// reaches OutputPath before its chunk's tag has verified.
func Decrypt(ctx context.Context, in DecryptInput) (DecryptResult, error) {
	if in.Passphrase == "" {
		return DecryptResult{}, errors.NewValidationError("passphrase", "must not be empty")
	}

	art, err := os.Open(in.ArtifactPath)
	if err != nil {
		return DecryptResult{}, errors.NewFileError("open", in.ArtifactPath, errors.ErrIO, err)
	}
	defer art.Close()

	out, err := os.Create(in.OutputPath)
	if err != nil {
		return DecryptResult{}, errors.NewFileError("create", in.OutputPath, errors.ErrIO, err)
	}

	cleanup := func() {
		_ = out.Close()
		_ = os.Remove(in.OutputPath)
	}

	h, written, err := decryptTo(ctx, out, art, in.Passphrase, in.Progress)
	if err != nil {
		cleanup()
		log.Error("engine: decrypt failed", log.Err(err))
		return DecryptResult{}, err
	}

	if err := out.Sync(); err != nil {
		cleanup()
		return DecryptResult{}, errors.NewFileError("sync", in.OutputPath, errors.ErrIO, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(in.OutputPath)
		return DecryptResult{}, errors.NewFileError("close", in.OutputPath, errors.ErrIO, err)
	}

	log.Info("engine: decrypt complete", log.String("uuid", h.UUID), log.Int64("bytes_written", written))

	return DecryptResult{
		UUID:         h.UUID,
		OutputPath:   in.OutputPath,
		OriginalName: h.OriginalName,
		WasDirectory: h.WasDirectory,
		BytesWritten: written,
		Header:       h,
	}, nil
}

func decryptTo(ctx context.Context, out io.Writer, art io.Reader, passphrase string, progress ProgressFunc) (header.Header, int64, error) {
	mac, cc, prefix, h, err := openHeader(art, passphrase)
	if err != nil {
		return header.Header{}, 0, err
	}
	defer cc.Close()

	aead, err := fcrypto.NewAEAD(cc.KEnc)
	if err != nil {
		return header.Header{}, 0, err
	}

	if wantChunks := expectedChunkCount(h.CompressedSize, prefix.ChunkSize); prefix.ChunkCount != wantChunks {
		return header.Header{}, 0, errors.NewHeaderError("chunk_count", errors.ErrCorrupt, fmt.Errorf("got %d chunks, want %d for compressed_size %d at chunk_size %d", prefix.ChunkCount, wantChunks, h.CompressedSize, prefix.ChunkSize))
	}

	tee := io.TeeReader(art, mac)

	var written int64
	for i := int64(0); i < prefix.ChunkCount; i++ {
		if err := ctx.Err(); err != nil {
			return header.Header{}, 0, errors.Wrap(err, "decrypt cancelled")
		}

		plaintextLen := container.ChunkPlaintextLen(i, prefix.ChunkCount, prefix.ChunkSize, h.CompressedSize)
		nonce, sealed, err := container.ReadChunk(tee, plaintextLen)
		if err != nil {
			return header.Header{}, 0, err
		}

		plaintext, err := aead.Open(nonce, sealed)
		if err != nil {
			return header.Header{}, 0, err
		}

		if _, err := out.Write(plaintext); err != nil {
			return header.Header{}, 0, errors.NewFileError("write", "payload", errors.ErrIO, err)
		}
		written += int64(len(plaintext))
		reportProgress(progress, written, h.CompressedSize)
	}

	storedMAC, err := container.ReadTrailingMAC(art)
	if err != nil {
		return header.Header{}, 0, err
	}
	if subtle.ConstantTimeCompare(mac.Sum(nil), storedMAC) != 1 {
		return header.Header{}, 0, errors.NewCryptoError("mac-verify", errors.ErrAuthFailure, nil)
	}

	return h, written, nil
}

// openHeader runs §4.4 steps 1-7: verify magic/version, derive keys,
// AEAD-open and parse the header, and read the chunk framing fields.
// It returns the streaming MAC already fed with everything read so far.
func openHeader(art io.Reader, passphrase string) (mac interface {
	io.Writer
	Sum(b []byte) []byte
}, cc *fcrypto.CryptoContext, prefix container.Prefix, h header.Header, err error) {
	// Magic/version/salt are read unkeyed since the MAC key depends on the
	// salt; they are fed to the MAC retroactively by re-deriving bytes we
	// already consumed is avoided by reading salt first, then starting the
	// MAC keyed, then feeding it everything read so far including the
	// magic/version/salt bytes via a buffering TeeReader from the start.
	var buf []byte
	captured := &captureReader{r: art}

	p, perr := container.ReadPrefix(captured)
	if perr != nil {
		return nil, nil, container.Prefix{}, header.Header{}, perr
	}
	buf = captured.captured

	kEnc, kMac, _, derr := fcrypto.Derive([]byte(passphrase), p.Salt, fcrypto.DefaultParams)
	if derr != nil {
		return nil, nil, container.Prefix{}, header.Header{}, derr
	}
	cc = fcrypto.NewCryptoContext(kEnc, kMac)

	m := fcrypto.NewMAC(cc.KMac)
	m.Write(buf)

	aead, aerr := fcrypto.NewAEAD(cc.KEnc)
	if aerr != nil {
		cc.Close()
		return nil, nil, container.Prefix{}, header.Header{}, aerr
	}

	sealedHeader := append(append([]byte{}, p.HeaderCiphertext...), p.HeaderTag...)
	headerPlain, operr := aead.Open(p.HeaderNonce, sealedHeader)
	if operr != nil {
		cc.Close()
		return nil, nil, container.Prefix{}, header.Header{}, operr
	}

	parsed, perr2 := header.Parse(headerPlain)
	if perr2 != nil {
		cc.Close()
		return nil, nil, container.Prefix{}, header.Header{}, perr2
	}

	return m, cc, p, parsed, nil
}

// captureReader records every byte read through it, so the streaming
// MAC can be fed the magic/version/salt/header/chunk-framing bytes even
// though the MAC key itself is only known after the salt is read.
type captureReader struct {
	r        io.Reader
	captured []byte
}

func (c *captureReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.captured = append(c.captured, p[:n]...)
	}
	return n, err
}

