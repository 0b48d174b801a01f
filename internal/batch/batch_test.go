package batch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	fcrypto "github.com/vartec-chs/filecrypt/internal/crypto"
)

func weakParams() fcrypto.Params {
	return fcrypto.Params{MemoryKiB: 8, Parallelism: 1, Iterations: 1}
}

func TestDriverRunEncryptDecryptRoundTrip(t *testing.T) {
	dir := t.TempDir()

	var items []Item
	contents := map[string][]byte{
		"one.txt": []byte("contents of file one"),
		"two.txt": []byte("contents of file two, a little longer"),
	}
	for name, data := range contents {
		src := filepath.Join(dir, name)
		if err := os.WriteFile(src, data, 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		items = append(items, Item{
			Op:         OpEncrypt,
			InputPath:  src,
			OutputPath: src + ".aenc",
		})
	}

	var progressCalls int
	d := NewDriver()
	encResults := d.Run(context.Background(), items, "password123", Options{
		Concurrency: 2,
		ChunkSize:   1 << 16,
		KDFParams:   weakParams(),
		Progress:    func(done, total int, bytesDone, bytesTotal int64) { progressCalls++ },
	})
	if len(encResults) != len(items) {
		t.Fatalf("got %d results, want %d", len(encResults), len(items))
	}
	for _, r := range encResults {
		if r.Err != nil {
			t.Fatalf("encrypt %s: %v", r.Item.InputPath, r.Err)
		}
		if r.Elapsed <= 0 {
			t.Errorf("result for %s has zero elapsed time", r.Item.InputPath)
		}
	}
	if progressCalls != len(items) {
		t.Fatalf("progress called %d times, want %d", progressCalls, len(items))
	}

	restoreDir := filepath.Join(dir, "restored")
	var decItems []Item
	for name := range contents {
		src := filepath.Join(dir, name)
		decItems = append(decItems, Item{
			Op:         OpDecrypt,
			InputPath:  src + ".aenc",
			OutputPath: restoreDir,
		})
	}

	decResults := d.Run(context.Background(), decItems, "password123", Options{Concurrency: 2})
	if len(decResults) != len(decItems) {
		t.Fatalf("got %d results, want %d", len(decResults), len(decItems))
	}
	for _, r := range decResults {
		if r.Err != nil {
			t.Fatalf("decrypt %s: %v", r.Item.InputPath, r.Err)
		}
	}

	for name, want := range contents {
		got, err := os.ReadFile(filepath.Join(restoreDir, name))
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("file %s mismatch: got %q, want %q", name, got, want)
		}
	}
}

func TestDriverRunContinuesPastOneFailure(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.txt")
	if err := os.WriteFile(good, []byte("fine"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	missing := filepath.Join(dir, "does-not-exist.txt")

	items := []Item{
		{Op: OpEncrypt, InputPath: missing, OutputPath: missing + ".aenc"},
		{Op: OpEncrypt, InputPath: good, OutputPath: good + ".aenc"},
	}

	d := NewDriver()
	results := d.Run(context.Background(), items, "password123", Options{
		Concurrency: 2,
		KDFParams:   weakParams(),
	})
	if results[0].Err == nil {
		t.Fatal("expected an error for the missing input file")
	}
	if results[1].Err != nil {
		t.Fatalf("expected the second item to succeed, got %v", results[1].Err)
	}
}

func TestDriverRunMixedOpsInOneCall(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "mixed.txt")
	if err := os.WriteFile(src, []byte("mixed batch contents"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	d := NewDriver()
	encResults := d.Run(context.Background(), []Item{
		{Op: OpEncrypt, InputPath: src, OutputPath: src + ".aenc"},
	}, "password123", Options{KDFParams: weakParams()})
	if encResults[0].Err != nil {
		t.Fatalf("encrypt: %v", encResults[0].Err)
	}

	otherSrc := filepath.Join(dir, "other.txt")
	if err := os.WriteFile(otherSrc, []byte("other contents"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	restoreDir := filepath.Join(dir, "restored")
	mixed := []Item{
		{Op: OpDecrypt, InputPath: src + ".aenc", OutputPath: restoreDir},
		{Op: OpEncrypt, InputPath: otherSrc, OutputPath: otherSrc + ".aenc"},
	}
	results := d.Run(context.Background(), mixed, "password123", Options{KDFParams: weakParams()})
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("item %s: %v", r.Item.InputPath, r.Err)
		}
	}
	got, err := os.ReadFile(filepath.Join(restoreDir, "mixed.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, []byte("mixed batch contents")) {
		t.Fatalf("restored contents mismatch: got %q", got)
	}
}

func TestDriverRunEmptyItems(t *testing.T) {
	d := NewDriver()
	results := d.Run(context.Background(), nil, "password123", Options{})
	if len(results) != 0 {
		t.Fatalf("got %d results, want 0", len(results))
	}
}
