package storage

import (
	"bytes"
	"context"
	"testing"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error: %v", err)
	}
	return store
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	data := []byte("tiff bytes")

	if err := store.Upload(ctx, "jobs/abc/input.tiff", data); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	got, err := store.Download(ctx, "jobs/abc/input.tiff")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Download() = %q, want %q", got, data)
	}

	exists, err := store.Exists(ctx, "jobs/abc/input.tiff")
	if err != nil || !exists {
		t.Errorf("Exists() = %v, %v; want true", exists, err)
	}
}

func TestLocalStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Upload(ctx, "k", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	exists, err := store.Exists(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("object should be gone after Delete()")
	}

	// Deleting a missing object is not an error.
	if err := store.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete() of missing object: %v", err)
	}
}

func TestLocalStoreDownloadMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Download(context.Background(), "nope"); err == nil {
		t.Fatal("Download() of missing object should fail")
	}
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "../escape", "/absolute"} {
		if err := store.Upload(ctx, key, []byte("x")); err == nil {
			t.Errorf("Upload(%q) should fail", key)
		}
	}
}

func TestLocalStoreOverwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Upload(ctx, "k", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := store.Upload(ctx, "k", []byte("two")); err != nil {
		t.Fatal(err)
	}

	got, err := store.Download(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "two" {
		t.Errorf("Download() = %q, want overwritten value", got)
	}
}
