package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	fcrypto "github.com/vartec-chs/filecrypt/internal/crypto"
	"github.com/vartec-chs/filecrypt/internal/errors"
)

// testKDFParams keeps Argon2id fast enough for a test suite; production
// callers use fcrypto.DefaultParams.
func testKDFParams() fcrypto.Params {
	return fcrypto.Params{MemoryKiB: 8, Parallelism: 1, Iterations: 1}
}

func encryptSample(t *testing.T, dir string, plaintext []byte, passphrase string, chunkSize uint32) (string, EncryptResult) {
	t.Helper()
	outPath := filepath.Join(dir, "artifact.aenc")
	res, err := Encrypt(context.Background(), EncryptInput{
		Payload:           bytes.NewReader(plaintext),
		PayloadSize:       int64(len(plaintext)),
		OutputPath:        outPath,
		Passphrase:        passphrase,
		OriginalName:      "sample.txt",
		OriginalExtension: "txt",
		OriginalSize:      int64(len(plaintext)),
		ChunkSize:         chunkSize,
		KDFParams:         testKDFParams(),
	})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return outPath, res
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	plaintext := []byte("Hello, World! This is a test file.")

	artifactPath, encRes := encryptSample(t, dir, plaintext, "password123", 1<<20)
	if encRes.OriginalSize != int64(len(plaintext)) {
		t.Fatalf("OriginalSize = %d, want %d", encRes.OriginalSize, len(plaintext))
	}

	outPath := filepath.Join(dir, "decrypted.txt")
	decRes, err := Decrypt(context.Background(), DecryptInput{
		ArtifactPath: artifactPath,
		OutputPath:   outPath,
		Passphrase:   "password123",
	})
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, plaintext)
	}
	if decRes.OriginalName != "sample.txt" {
		t.Fatalf("OriginalName = %q, want sample.txt", decRes.OriginalName)
	}
	if decRes.BytesWritten != int64(len(plaintext)) {
		t.Fatalf("BytesWritten = %d, want %d", decRes.BytesWritten, len(plaintext))
	}
}

func TestEncryptDecryptLargeSingleChunk(t *testing.T) {
	dir := t.TempDir()
	plaintext := bytes.Repeat([]byte{0x61}, 1<<20)

	artifactPath, _ := encryptSample(t, dir, plaintext, "password123", 1<<20)

	outPath := filepath.Join(dir, "decrypted.bin")
	_, err := Decrypt(context.Background(), DecryptInput{
		ArtifactPath: artifactPath,
		OutputPath:   outPath,
		Passphrase:   "password123",
	})
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("large single-chunk round trip mismatch, got %d bytes, want %d", len(got), len(plaintext))
	}
}

func TestEncryptDecryptEmptyPayload(t *testing.T) {
	dir := t.TempDir()
	artifactPath, res := encryptSample(t, dir, nil, "password123", 1<<20)
	if res.BytesWritten != 0 {
		t.Fatalf("BytesWritten = %d, want 0", res.BytesWritten)
	}

	outPath := filepath.Join(dir, "decrypted.bin")
	decRes, err := Decrypt(context.Background(), DecryptInput{
		ArtifactPath: artifactPath,
		OutputPath:   outPath,
		Passphrase:   "password123",
	})
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decRes.BytesWritten != 0 {
		t.Fatalf("BytesWritten = %d, want 0", decRes.BytesWritten)
	}
}

func TestDecryptWrongPassphraseFailsAuthAndLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	plaintext := []byte("secret contents")
	artifactPath, _ := encryptSample(t, dir, plaintext, "correct-password", 1<<20)

	outPath := filepath.Join(dir, "decrypted.bin")
	_, err := Decrypt(context.Background(), DecryptInput{
		ArtifactPath: artifactPath,
		OutputPath:   outPath,
		Passphrase:   "wrong-password",
	})
	if !errors.IsAuthFailure(err) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Fatalf("expected no output file after failed decrypt, stat err = %v", statErr)
	}
}

func TestDecryptTamperedChunkFailsAuth(t *testing.T) {
	dir := t.TempDir()
	plaintext := bytes.Repeat([]byte("chunk-test-data-"), 100)
	artifactPath, _ := encryptSample(t, dir, plaintext, "password123", 64)

	data, err := os.ReadFile(artifactPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	// Flip one byte past the fixed-size prefix, inside the chunk stream.
	tamperOffset := len(data) - 40
	data[tamperOffset] ^= 0xFF
	if err := os.WriteFile(artifactPath, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	outPath := filepath.Join(dir, "decrypted.bin")
	_, err = Decrypt(context.Background(), DecryptInput{
		ArtifactPath: artifactPath,
		OutputPath:   outPath,
		Passphrase:   "password123",
	})
	if !errors.IsAuthFailure(err) && !errors.IsCorrupt(err) {
		t.Fatalf("expected tamper to be detected as AuthFailure or Corrupt, got %v", err)
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Fatalf("expected no output file after tamper-detected decrypt, stat err = %v", statErr)
	}
}

func TestDecryptTamperedTrailingMACFailsAuth(t *testing.T) {
	dir := t.TempDir()
	plaintext := []byte("some plaintext long enough to matter")
	artifactPath, _ := encryptSample(t, dir, plaintext, "password123", 16)

	data, err := os.ReadFile(artifactPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(artifactPath, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	outPath := filepath.Join(dir, "decrypted.bin")
	_, err = Decrypt(context.Background(), DecryptInput{
		ArtifactPath: artifactPath,
		OutputPath:   outPath,
		Passphrase:   "password123",
	})
	if !errors.IsAuthFailure(err) {
		t.Fatalf("expected ErrAuthFailure from trailing MAC mismatch, got %v", err)
	}
}

func TestDecryptTruncatedArtifactFailsCleanly(t *testing.T) {
	dir := t.TempDir()
	plaintext := bytes.Repeat([]byte("truncate-me-"), 50)
	artifactPath, _ := encryptSample(t, dir, plaintext, "password123", 32)

	data, err := os.ReadFile(artifactPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	truncated := data[:len(data)-10]
	if err := os.WriteFile(artifactPath, truncated, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	outPath := filepath.Join(dir, "decrypted.bin")
	_, err = Decrypt(context.Background(), DecryptInput{
		ArtifactPath: artifactPath,
		OutputPath:   outPath,
		Passphrase:   "password123",
	})
	if err == nil {
		t.Fatal("expected an error decrypting a truncated artifact")
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Fatalf("expected no output file after failed decrypt, stat err = %v", statErr)
	}
}

func TestDecryptZeroedChunkSizeFailsCleanly(t *testing.T) {
	dir := t.TempDir()
	plaintext := bytes.Repeat([]byte("chunk-size-tamper-"), 200)
	artifactPath, _ := encryptSample(t, dir, plaintext, "password123", 1<<16)

	data, err := os.ReadFile(artifactPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	// header_len follows magic(4) + version(1) + salt(16) + header_nonce(24)
	const headerLenOffset = 4 + 1 + 16 + 24
	headerLen := binary.BigEndian.Uint32(data[headerLenOffset : headerLenOffset+4])
	chunkSizeOffset := headerLenOffset + 4 + int(headerLen) + 16

	// Zero all four bytes of chunk_size, which encryptSample wrote as
	// 64 KiB (0x00 0x01 0x00 0x00).
	data[chunkSizeOffset] = 0x00
	data[chunkSizeOffset+1] = 0x00
	data[chunkSizeOffset+2] = 0x00
	data[chunkSizeOffset+3] = 0x00
	if err := os.WriteFile(artifactPath, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	outPath := filepath.Join(dir, "decrypted.bin")
	_, err = Decrypt(context.Background(), DecryptInput{
		ArtifactPath: artifactPath,
		OutputPath:   outPath,
		Passphrase:   "password123",
	})
	if !errors.IsCorrupt(err) {
		t.Fatalf("expected ErrCorrupt for a zeroed chunk_size, got %v", err)
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Fatalf("expected no output file after rejected decrypt, stat err = %v", statErr)
	}
}

func TestChunkSizeIndependence(t *testing.T) {
	plaintext := bytes.Repeat([]byte("independence-check-"), 500)

	var results [][]byte
	for _, chunkSize := range []uint32{16, 64, 1 << 10, 1 << 20} {
		dir := t.TempDir()
		artifactPath, _ := encryptSample(t, dir, plaintext, "password123", chunkSize)

		outPath := filepath.Join(dir, "decrypted.bin")
		if _, err := Decrypt(context.Background(), DecryptInput{
			ArtifactPath: artifactPath,
			OutputPath:   outPath,
			Passphrase:   "password123",
		}); err != nil {
			t.Fatalf("Decrypt with chunkSize=%d: %v", chunkSize, err)
		}
		got, err := os.ReadFile(outPath)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		results = append(results, got)
	}

	for i := 1; i < len(results); i++ {
		if !bytes.Equal(results[0], results[i]) {
			t.Fatalf("chunk size should not affect plaintext recovery; result %d differs", i)
		}
	}
}

func TestReadHeaderMatchesEncryptedMetadata(t *testing.T) {
	dir := t.TempDir()
	plaintext := []byte("header visibility check")
	artifactPath, encRes := encryptSample(t, dir, plaintext, "password123", 1<<20)

	h, err := ReadHeader(context.Background(), artifactPath, "password123")
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.UUID != encRes.UUID {
		t.Fatalf("UUID = %q, want %q", h.UUID, encRes.UUID)
	}
	if h.OriginalName != "sample.txt" {
		t.Fatalf("OriginalName = %q, want sample.txt", h.OriginalName)
	}
	if h.OriginalSize != int64(len(plaintext)) {
		t.Fatalf("OriginalSize = %d, want %d", h.OriginalSize, len(plaintext))
	}
}

func TestReadHeaderWrongPassphraseFailsAuth(t *testing.T) {
	dir := t.TempDir()
	artifactPath, _ := encryptSample(t, dir, []byte("data"), "correct-password", 1<<20)

	_, err := ReadHeader(context.Background(), artifactPath, "wrong-password")
	if !errors.IsAuthFailure(err) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}
}

func TestReadHeaderDoesNotTouchChunkStream(t *testing.T) {
	dir := t.TempDir()
	plaintext := bytes.Repeat([]byte("x"), 1<<20+17)
	artifactPath, _ := encryptSample(t, dir, plaintext, "password123", 1<<10)

	data, err := os.ReadFile(artifactPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Corrupt a byte deep inside the chunk stream; ReadHeader must still
	// succeed since it never verifies chunks or the trailing MAC.
	data[len(data)/2] ^= 0xFF
	if err := os.WriteFile(artifactPath, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := ReadHeader(context.Background(), artifactPath, "password123"); err != nil {
		t.Fatalf("ReadHeader should ignore chunk-stream corruption, got %v", err)
	}
}

func TestEncryptProgressIsMonotonicAndReachesTotal(t *testing.T) {
	dir := t.TempDir()
	plaintext := bytes.Repeat([]byte("progress-"), 10000)

	var last int64
	var sawTotal bool
	outPath := filepath.Join(dir, "artifact.aenc")
	res, err := Encrypt(context.Background(), EncryptInput{
		Payload:      bytes.NewReader(plaintext),
		PayloadSize:  int64(len(plaintext)),
		OutputPath:   outPath,
		Passphrase:   "password123",
		OriginalSize: int64(len(plaintext)),
		ChunkSize:    256,
		KDFParams:    testKDFParams(),
		Progress: func(processed, total int64) {
			if processed < last {
				t.Fatalf("progress went backwards: %d after %d", processed, last)
			}
			last = processed
			if total != int64(len(plaintext)) {
				t.Fatalf("progress total = %d, want %d", total, len(plaintext))
			}
			if processed == total {
				sawTotal = true
			}
		},
	})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !sawTotal {
		t.Fatal("expected final progress call to report processed == total")
	}
	if res.BytesWritten != int64(len(plaintext)) {
		t.Fatalf("BytesWritten = %d, want %d", res.BytesWritten, len(plaintext))
	}
}

func TestEncryptCleansUpOnPayloadReadError(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "artifact.aenc")

	_, err := Encrypt(context.Background(), EncryptInput{
		Payload:      errReader{err: os.ErrClosed},
		PayloadSize:  100,
		OutputPath:   outPath,
		Passphrase:   "password123",
		OriginalSize: 100,
		ChunkSize:    16,
		KDFParams:    testKDFParams(),
	})
	if err == nil {
		t.Fatal("expected an error from a failing payload reader")
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Fatalf("expected no output artifact left behind, stat err = %v", statErr)
	}
	if _, statErr := os.Stat(outPath + ".incomplete"); !os.IsNotExist(statErr) {
		t.Fatalf("expected .incomplete temp file to be removed, stat err = %v", statErr)
	}
}

func TestValidatePassphraseRequired(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "artifact.aenc")
	_, err := Encrypt(context.Background(), EncryptInput{
		Payload:     bytes.NewReader([]byte("x")),
		PayloadSize: 1,
		OutputPath:  outPath,
	})
	if !errors.IsInvalidInput(err) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEncryptBytesDecryptBytesRoundTrip(t *testing.T) {
	plaintext := []byte("small in-memory payload")
	artifact, err := EncryptBytes(plaintext, "password123", BytesOptions{})
	if err != nil {
		t.Fatalf("EncryptBytes: %v", err)
	}

	got, err := DecryptBytes(artifact, "password123")
	if err != nil {
		t.Fatalf("DecryptBytes: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestEncryptBytesNoGzip(t *testing.T) {
	plaintext := []byte("uncompressed payload")
	artifact, err := EncryptBytes(plaintext, "password123", BytesOptions{NoGzip: true})
	if err != nil {
		t.Fatalf("EncryptBytes: %v", err)
	}

	got, err := DecryptBytes(artifact, "password123")
	if err != nil {
		t.Fatalf("DecryptBytes: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestDecryptBytesWrongPassphraseFailsAuth(t *testing.T) {
	artifact, err := EncryptBytes([]byte("data"), "correct-password", BytesOptions{})
	if err != nil {
		t.Fatalf("EncryptBytes: %v", err)
	}

	_, err = DecryptBytes(artifact, "wrong-password")
	if !errors.IsAuthFailure(err) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}
}

func TestDecryptBytesTamperedPayloadFailsAuth(t *testing.T) {
	artifact, err := EncryptBytes([]byte("tamper target data here"), "password123", BytesOptions{})
	if err != nil {
		t.Fatalf("EncryptBytes: %v", err)
	}
	artifact[len(artifact)-1] ^= 0xFF

	_, err = DecryptBytes(artifact, "password123")
	if !errors.IsAuthFailure(err) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}
}

func TestDecryptBytesRejectsShortArtifact(t *testing.T) {
	_, err := DecryptBytes([]byte("too short"), "password123")
	if !errors.IsCorrupt(err) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
