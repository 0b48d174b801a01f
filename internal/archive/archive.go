// Package archive is the façade between on-disk files/directories and
// the byte stream internal/engine expects. A single file is gzipped
// into a temporary payload; a directory is zipped (no outer folder
// entry) and then optionally gzipped on top. Restoring reverses
// whichever combination the header records.
package archive

import (
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/vartec-chs/filecrypt/internal/errors"
	"github.com/vartec-chs/filecrypt/internal/header"
	"github.com/vartec-chs/filecrypt/internal/util"
)

// Prepared describes a payload staged on disk for internal/engine.Encrypt,
// along with the header fields it implies.
type Prepared struct {
	PayloadPath       string
	PayloadSize       int64
	OriginalName      string
	OriginalExtension string
	WasDirectory      bool
	IsCompressed      bool
	OriginalSize      int64
}

// Cleanup removes the temporary payload file. Callers must defer it
// after a successful Prepare call.
type Cleanup func()

// Prepare stages path (a file or a directory) into a temporary payload
// file suitable as internal/engine.EncryptInput.Payload, per spec §4.5's
// Archive Façade responsibilities. noGzip disables compression.
func Prepare(ctx context.Context, path string, noGzip bool) (Prepared, Cleanup, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Prepared{}, nil, errors.NewFileError("stat", path, errors.ErrIO, err)
	}

	if info.IsDir() {
		return prepareDirectory(ctx, path, noGzip)
	}
	return prepareFile(ctx, path, info, noGzip)
}

// PrepareMany stages one or more paths into a single payload, mirroring
// the original application's behaviour of bundling a multi-selection
// into one archive before encrypting it. A single path behaves exactly
// like Prepare; more than one path is always zipped (each path becomes
// a top-level entry) regardless of noGzip's effect on the outer stream.
func PrepareMany(ctx context.Context, paths []string, noGzip bool) (Prepared, Cleanup, error) {
	if len(paths) == 0 {
		return Prepared{}, nil, errors.NewValidationError("paths", "must not be empty")
	}
	if len(paths) == 1 {
		return Prepare(ctx, paths[0], noGzip)
	}
	return prepareBundle(ctx, paths, noGzip)
}

func prepareBundle(ctx context.Context, paths []string, noGzip bool) (Prepared, Cleanup, error) {
	tmp, err := os.CreateTemp("", "filecrypt-payload-*.tmp")
	if err != nil {
		return Prepared{}, nil, errors.NewFileError("create-temp", "bundle", errors.ErrIO, err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	var w io.Writer = tmp
	var gz *gzip.Writer
	if !noGzip {
		gz = gzip.NewWriter(tmp)
		w = gz
	}

	var originalSize int64
	zw := zip.NewWriter(w)

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			_ = zw.Close()
			_ = tmp.Close()
			cleanup()
			return Prepared{}, nil, errors.NewFileError("stat", p, errors.ErrIO, err)
		}
		size, err := addToZip(ctx, zw, p, filepath.Base(p), info)
		if err != nil {
			_ = zw.Close()
			_ = tmp.Close()
			cleanup()
			return Prepared{}, nil, err
		}
		originalSize += size
	}

	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		cleanup()
		return Prepared{}, nil, errors.NewFileError("close", "zip", errors.ErrInternal, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			_ = tmp.Close()
			cleanup()
			return Prepared{}, nil, errors.NewFileError("close", "gzip", errors.ErrInternal, err)
		}
	}

	size, err := finalizeTemp(tmp)
	if err != nil {
		cleanup()
		return Prepared{}, nil, err
	}

	return Prepared{
		PayloadPath:  tmp.Name(),
		PayloadSize:  size,
		OriginalName: "bundle",
		WasDirectory: true,
		IsCompressed: !noGzip,
		OriginalSize: originalSize,
	}, cleanup, nil
}

// addToZip writes p (a file or a directory) into zw under entryName,
// walking it if it's a directory, and returns the plaintext bytes
// written.
func addToZip(ctx context.Context, zw *zip.Writer, p, entryName string, info os.FileInfo) (int64, error) {
	if !info.IsDir() {
		return writeZipFile(ctx, zw, p, entryName, info)
	}

	var written int64
	err := filepath.Walk(p, func(cur string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(p, cur)
		if err != nil {
			return err
		}
		name := entryName
		if rel != "." {
			name = entryName + "/" + filepath.ToSlash(rel)
		}
		if fi.IsDir() {
			_, err := zw.Create(name + "/")
			return err
		}
		n, err := writeZipFile(ctx, zw, cur, name, fi)
		written += n
		return err
	})
	return written, err
}

func writeZipFile(ctx context.Context, zw *zip.Writer, path, entryName string, info os.FileInfo) (int64, error) {
	zh, err := zip.FileInfoHeader(info)
	if err != nil {
		return 0, err
	}
	zh.Name = entryName
	zh.Method = zip.Deflate

	entry, err := zw.CreateHeader(zh)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, errors.NewFileError("open", path, errors.ErrIO, err)
	}
	defer f.Close()

	if err := copyWithCancel(ctx, entry, f); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func prepareFile(ctx context.Context, path string, info os.FileInfo, noGzip bool) (Prepared, Cleanup, error) {
	tmp, err := os.CreateTemp("", "filecrypt-payload-*.tmp")
	if err != nil {
		return Prepared{}, nil, errors.NewFileError("create-temp", path, errors.ErrIO, err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	src, err := os.Open(path)
	if err != nil {
		_ = tmp.Close()
		cleanup()
		return Prepared{}, nil, errors.NewFileError("open", path, errors.ErrIO, err)
	}
	defer src.Close()

	var w io.Writer = tmp
	var gz *gzip.Writer
	if !noGzip {
		gz = gzip.NewWriter(tmp)
		w = gz
	}

	if err := copyWithCancel(ctx, w, src); err != nil {
		_ = tmp.Close()
		cleanup()
		return Prepared{}, nil, err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			_ = tmp.Close()
			cleanup()
			return Prepared{}, nil, errors.NewFileError("close", "gzip", errors.ErrInternal, err)
		}
	}

	size, err := finalizeTemp(tmp)
	if err != nil {
		cleanup()
		return Prepared{}, nil, err
	}

	name := filepath.Base(path)
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	base := strings.TrimSuffix(name, filepath.Ext(name))

	return Prepared{
		PayloadPath:       tmp.Name(),
		PayloadSize:       size,
		OriginalName:      base,
		OriginalExtension: ext,
		WasDirectory:      false,
		IsCompressed:      !noGzip,
		OriginalSize:      info.Size(),
	}, cleanup, nil
}

func prepareDirectory(ctx context.Context, dir string, noGzip bool) (Prepared, Cleanup, error) {
	tmp, err := os.CreateTemp("", "filecrypt-payload-*.tmp")
	if err != nil {
		return Prepared{}, nil, errors.NewFileError("create-temp", dir, errors.ErrIO, err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	var w io.Writer = tmp
	var gz *gzip.Writer
	if !noGzip {
		gz = gzip.NewWriter(tmp)
		w = gz
	}

	var originalSize int64
	zw := zip.NewWriter(w)

	err = filepath.Walk(dir, func(p string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)

		if fi.IsDir() {
			_, err := zw.Create(name + "/")
			return err
		}

		originalSize += fi.Size()

		zh, err := zip.FileInfoHeader(fi)
		if err != nil {
			return err
		}
		zh.Name = name
		zh.Method = zip.Deflate

		entry, err := zw.CreateHeader(zh)
		if err != nil {
			return err
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		return copyWithCancel(ctx, entry, f)
	})
	if err != nil {
		_ = zw.Close()
		_ = tmp.Close()
		cleanup()
		return Prepared{}, nil, errors.NewFileError("walk", dir, errors.ErrIO, err)
	}

	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		cleanup()
		return Prepared{}, nil, errors.NewFileError("close", "zip", errors.ErrInternal, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			_ = tmp.Close()
			cleanup()
			return Prepared{}, nil, errors.NewFileError("close", "gzip", errors.ErrInternal, err)
		}
	}

	size, err := finalizeTemp(tmp)
	if err != nil {
		cleanup()
		return Prepared{}, nil, err
	}

	return Prepared{
		PayloadPath:  tmp.Name(),
		PayloadSize:  size,
		OriginalName: filepath.Base(filepath.Clean(dir)),
		WasDirectory: true,
		IsCompressed: !noGzip,
		OriginalSize: originalSize,
	}, cleanup, nil
}

// Restore reverses Prepare: payloadPath holds the (possibly gzipped,
// possibly zipped) bytes internal/engine.Decrypt produced; h carries the
// flags recorded at encryption time; destPath is the file or directory
// to recreate.
func Restore(ctx context.Context, payloadPath string, h header.Header, destPath string) error {
	f, err := os.Open(payloadPath)
	if err != nil {
		return errors.NewFileError("open", payloadPath, errors.ErrIO, err)
	}
	defer f.Close()

	var r io.Reader = f
	if h.IsCompressed {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return errors.NewFileError("read", "gzip", errors.ErrCorrupt, err)
		}
		defer gr.Close()
		r = gr
	}

	if !h.WasDirectory {
		return restoreFile(ctx, r, destPath)
	}
	return restoreDirectory(ctx, r, destPath)
}

func restoreFile(ctx context.Context, r io.Reader, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o700); err != nil {
		return errors.NewFileError("mkdir", filepath.Dir(destPath), errors.ErrIO, err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return errors.NewFileError("create", destPath, errors.ErrIO, err)
	}
	if err := copyWithCancel(ctx, out, r); err != nil {
		_ = out.Close()
		_ = os.Remove(destPath)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(destPath)
		return errors.NewFileError("close", destPath, errors.ErrIO, err)
	}
	return nil
}

// restoreDirectory unzips r's contents into destPath. Since archive/zip
// requires a ReaderAt, the (possibly already-decompressed) stream is
// first buffered to a temp file.
func restoreDirectory(ctx context.Context, r io.Reader, destPath string) error {
	tmp, err := os.CreateTemp("", "filecrypt-unzip-*.tmp")
	if err != nil {
		return errors.NewFileError("create-temp", destPath, errors.ErrIO, err)
	}
	defer os.Remove(tmp.Name())

	if err := copyWithCancel(ctx, tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	defer tmp.Close()

	info, err := tmp.Stat()
	if err != nil {
		return errors.NewFileError("stat", tmp.Name(), errors.ErrIO, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return errors.NewFileError("seek", tmp.Name(), errors.ErrIO, err)
	}

	zr, err := zip.NewReader(tmp, info.Size())
	if err != nil {
		return errors.NewFileError("open", "zip", errors.ErrCorrupt, err)
	}

	if err := os.MkdirAll(destPath, 0o700); err != nil {
		return errors.NewFileError("mkdir", destPath, errors.ErrIO, err)
	}

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "restore cancelled")
		}
		// zip entry names always use "/", regardless of platform, so
		// fs.ValidPath (not filepath.IsLocal) is the correct check here:
		// it rejects absolute paths and any ".." path element without
		// flagging names that merely contain ".." as a substring. The
		// trailing "/" of a directory entry is trimmed first, since
		// fs.ValidPath rejects an empty final element.
		if !fs.ValidPath(strings.TrimSuffix(zf.Name, "/")) {
			return errors.NewHeaderError("zip-entry", errors.ErrCorrupt, fmt.Errorf("unsafe entry path %q", zf.Name))
		}

		outPath := filepath.Join(destPath, zf.Name)
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(outPath, 0o700); err != nil {
				return errors.NewFileError("mkdir", outPath, errors.ErrIO, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(outPath), 0o700); err != nil {
			return errors.NewFileError("mkdir", outPath, errors.ErrIO, err)
		}

		in, err := zf.Open()
		if err != nil {
			return errors.NewFileError("open", zf.Name, errors.ErrCorrupt, err)
		}
		out, err := os.Create(outPath)
		if err != nil {
			_ = in.Close()
			return errors.NewFileError("create", outPath, errors.ErrIO, err)
		}
		copyErr := copyWithCancel(ctx, out, in)
		_ = in.Close()
		if copyErr != nil {
			_ = out.Close()
			return copyErr
		}
		if err := out.Close(); err != nil {
			return errors.NewFileError("close", outPath, errors.ErrIO, err)
		}
	}

	return nil
}

func copyWithCancel(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := util.GetMiBBuffer()
	defer util.PutMiBBuffer(buf)

	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "archive operation cancelled")
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return errors.NewFileError("write", "payload", errors.ErrIO, err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return errors.NewFileError("read", "payload", errors.ErrIO, readErr)
		}
	}
}

func finalizeTemp(tmp *os.File) (int64, error) {
	info, err := tmp.Stat()
	if err != nil {
		_ = tmp.Close()
		return 0, errors.NewFileError("stat", tmp.Name(), errors.ErrIO, err)
	}
	size := info.Size()
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		_ = tmp.Close()
		return 0, errors.NewFileError("seek", tmp.Name(), errors.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, errors.NewFileError("close", tmp.Name(), errors.ErrIO, err)
	}
	return size, nil
}
