package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/kursadbilgin/label-engine/internal/domain"
	"gocloud.dev/blob/memblob"
)

func newTestStore(t *testing.T) *ArtifactStore {
	t.Helper()

	store := NewArtifactStore(memblob.OpenBucket(nil), "labels/")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestArtifactStorePutGet(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	key := store.Key("01JOB", 2, domain.IdentifierPair{PalletNumber: "151026/7", Series: "151026-ABC123"})
	if key != "labels/jobs/01JOB/002-151026-7.pdf" {
		t.Fatalf("Key() = %q", key)
	}

	if err := store.Put(ctx, key, []byte("%PDF")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "%PDF" {
		t.Fatalf("Get() = %q, want %%PDF", got)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() of missing key error = %v", err)
	}
}

func TestOpenArtifactStore(t *testing.T) {
	t.Parallel()

	store, err := OpenArtifactStore(context.Background(), "mem://", "")
	if err != nil {
		t.Fatalf("OpenArtifactStore() error = %v", err)
	}
	defer store.Close()

	if _, err := OpenArtifactStore(context.Background(), " ", ""); err == nil {
		t.Fatal("expected error for empty url")
	}
}
