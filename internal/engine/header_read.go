package engine

import (
	"context"
	"os"

	"github.com/vartec-chs/filecrypt/internal/errors"
	"github.com/vartec-chs/filecrypt/internal/header"
	"github.com/vartec-chs/filecrypt/internal/log"
)

// ReadHeader implements spec.md §4.6: open the artifact, run steps 1-6
// of decryption only, and return the parsed header without touching the
// chunk stream or trailing MAC. Header AEAD verification still runs in
// full — a wrong passphrase fails exactly as it would for a full decrypt.
func ReadHeader(ctx context.Context, artifactPath, passphrase string) (header.Header, error) {
	if err := ctx.Err(); err != nil {
		return header.Header{}, errors.Wrap(err, "read_header cancelled")
	}
	if passphrase == "" {
		return header.Header{}, errors.NewValidationError("passphrase", "must not be empty")
	}

	art, err := os.Open(artifactPath)
	if err != nil {
		return header.Header{}, errors.NewFileError("open", artifactPath, errors.ErrIO, err)
	}
	defer art.Close()

	_, cc, _, h, err := openHeader(art, passphrase)
	if err != nil {
		log.Error("engine: read_header failed", log.Err(err), log.String("path", artifactPath))
		return header.Header{}, err
	}
	cc.Close()

	return h, nil
}
