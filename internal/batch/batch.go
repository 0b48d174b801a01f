// Package batch drives concurrent encrypt/decrypt over many files or
// directories, one archive.Prepare/engine.Encrypt (or engine.Decrypt/
// archive.Restore) pipeline per item.
package batch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vartec-chs/filecrypt/internal/archive"
	fcrypto "github.com/vartec-chs/filecrypt/internal/crypto"
	"github.com/vartec-chs/filecrypt/internal/engine"
	"github.com/vartec-chs/filecrypt/internal/errors"
	"github.com/vartec-chs/filecrypt/internal/header"
	"github.com/vartec-chs/filecrypt/internal/log"
)

// DefaultConcurrency is used whenever Options.Concurrency is unset.
const DefaultConcurrency = 4

// Op identifies which operation an Item requests.
type Op int

const (
	OpEncrypt Op = iota
	OpDecrypt
)

// Item is one unit of work. For OpEncrypt, InputPath is the file or
// directory to encrypt and OutputPath is the artifact to create. For
// OpDecrypt, InputPath is the artifact and OutputPath is the directory
// the original file/directory is recreated under, as
// <OutputPath>/<original_name>[.<original_extension>].
type Item struct {
	Op         Op
	InputPath  string
	OutputPath string
}

// Options configures a Driver run.
type Options struct {
	Concurrency int
	ChunkSize   uint32
	NoGzip      bool
	KDFParams   fcrypto.Params
	// Progress is called after each item completes with aggregate
	// (itemsDone, itemsTotal, bytesDone, bytesTotal), in monotonic
	// nondecreasing order.
	Progress func(itemsDone, itemsTotal int, bytesDone, bytesTotal int64)
}

// Result is one item's outcome. Err is never inspected by string —
// callers use errors.Is/errors.As against internal/errors' taxonomy.
type Result struct {
	Item    Item
	Header  header.Header
	Bytes   int64
	Elapsed time.Duration
	Err     error
}

// Driver runs a batch of Items. The zero value is ready to use.
type Driver struct{}

// NewDriver returns a ready-to-use Driver.
func NewDriver() *Driver { return &Driver{} }

// Run executes every item, bounded by Options.Concurrency goroutines
// (matching §5's "batch driver MAY run several independent operations
// in parallel" with isolated per-item state). A failing item becomes a
// Result with a non-nil Err; the driver never retries and always
// continues to the remaining items.
func (d *Driver) Run(ctx context.Context, items []Item, passphrase string, opts Options) []Result {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}
	if concurrency == 0 {
		return nil
	}

	results := make([]Result, len(items))
	// progressMu serializes the counters and the Progress call so that
	// callbacks from concurrent workers arrive in nondecreasing order.
	var progressMu sync.Mutex
	var itemsDone int
	var bytesDone int64

	// bytesTotal is approximated from each item's on-disk size (the
	// artifact size for decrypt items stands in for the eventual
	// plaintext size, since the true size isn't known without opening
	// the header). Unreadable items just don't contribute.
	var bytesTotal int64
	for _, it := range items {
		if info, err := os.Stat(it.InputPath); err == nil {
			bytesTotal += info.Size()
		}
	}

	var wg sync.WaitGroup
	indices := make(chan int)

	wg.Add(concurrency)
	for w := 0; w < concurrency; w++ {
		go func() {
			defer wg.Done()
			for i := range indices {
				start := time.Now()
				var h header.Header
				var n int64
				var err error
				switch items[i].Op {
				case OpEncrypt:
					h, n, err = encryptOne(ctx, items[i], passphrase, opts)
				case OpDecrypt:
					h, n, err = decryptOne(ctx, items[i], passphrase)
				default:
					err = errors.NewValidationError("op", "unknown batch item operation")
				}

				results[i] = Result{Item: items[i], Header: h, Bytes: n, Elapsed: time.Since(start), Err: err}
				if err != nil {
					log.Error("batch: item failed", log.Err(err), log.String("input", items[i].InputPath))
				}

				progressMu.Lock()
				bytesDone += n
				itemsDone++
				if opts.Progress != nil {
					opts.Progress(itemsDone, len(items), bytesDone, bytesTotal)
				}
				progressMu.Unlock()
			}
		}()
	}

	for i := range items {
		select {
		case <-ctx.Done():
		case indices <- i:
			continue
		}
		break
	}
	close(indices)
	wg.Wait()

	return results
}

func encryptOne(ctx context.Context, it Item, passphrase string, opts Options) (header.Header, int64, error) {
	prepared, cleanup, err := archive.Prepare(ctx, it.InputPath, opts.NoGzip)
	if err != nil {
		return header.Header{}, 0, err
	}
	defer cleanup()

	payload, err := os.Open(prepared.PayloadPath)
	if err != nil {
		return header.Header{}, 0, errors.NewFileError("open", prepared.PayloadPath, errors.ErrIO, err)
	}
	defer payload.Close()

	res, err := engine.Encrypt(ctx, engine.EncryptInput{
		Payload:           payload,
		PayloadSize:       prepared.PayloadSize,
		OutputPath:        it.OutputPath,
		Passphrase:        passphrase,
		OriginalName:      prepared.OriginalName,
		OriginalExtension: prepared.OriginalExtension,
		WasDirectory:      prepared.WasDirectory,
		IsCompressed:      prepared.IsCompressed,
		OriginalSize:      prepared.OriginalSize,
		ChunkSize:         opts.ChunkSize,
		KDFParams:         opts.KDFParams,
	})
	if err != nil {
		return header.Header{}, 0, err
	}

	h := header.Header{
		UUID:              res.UUID,
		OriginalName:      res.OriginalName,
		OriginalExtension: res.OriginalExtension,
		WasDirectory:      res.WasDirectory,
		IsCompressed:      prepared.IsCompressed,
		OriginalSize:      res.OriginalSize,
		CompressedSize:    prepared.PayloadSize,
	}
	return h, res.BytesWritten, nil
}

func decryptOne(ctx context.Context, it Item, passphrase string) (header.Header, int64, error) {
	h, err := engine.ReadHeader(ctx, it.InputPath, passphrase)
	if err != nil {
		return header.Header{}, 0, err
	}

	tmpFile, err := os.CreateTemp("", "filecrypt-restore-*.tmp")
	if err != nil {
		return header.Header{}, 0, errors.NewFileError("create-temp", it.InputPath, errors.ErrIO, err)
	}
	tmp := tmpFile.Name()
	_ = tmpFile.Close()
	defer os.Remove(tmp)

	decRes, err := engine.Decrypt(ctx, engine.DecryptInput{
		ArtifactPath: it.InputPath,
		OutputPath:   tmp,
		Passphrase:   passphrase,
	})
	if err != nil {
		return header.Header{}, 0, err
	}

	destPath := filepath.Join(it.OutputPath, h.RestoreName())
	if err := archive.Restore(ctx, tmp, h, destPath); err != nil {
		return header.Header{}, 0, err
	}

	return h, decRes.BytesWritten, nil
}
