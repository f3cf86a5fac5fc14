package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDiskStoreRoundTrip(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore returned error: %v", err)
	}
	ctx := context.Background()

	if err := store.Save(ctx, "key-1", []byte("hello world")); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	reader, err := store.Open(ctx, "key-1")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := store.Remove(ctx, "key-1"); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if _, err := store.Open(ctx, "key-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestDiskStoreMissingKey(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore returned error: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Open(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Remove(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDiskStoreRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("NewDiskStore returned error: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"", "../escape", "a/b", ".."} {
		if err := store.Save(ctx, key, []byte("x")); err == nil {
			t.Fatalf("expected Save to reject key %q", key)
		}
		if _, err := store.Open(ctx, key); err == nil {
			t.Fatalf("expected Open to reject key %q", key)
		}
	}
}

func TestDiskStoreLeavesNoTempFilesOnOverwrite(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("NewDiskStore returned error: %v", err)
	}
	ctx := context.Background()

	if err := store.Save(ctx, "key-1", []byte("first")); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if err := store.Save(ctx, "key-1", []byte("second")); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read content dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Fatalf("temp file %s left behind", filepath.Join(dir, entry.Name()))
		}
	}
}
