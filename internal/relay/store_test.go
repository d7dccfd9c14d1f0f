package relay

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/blindsend/blindsend/internal/exchange"
)

func testRecordStore(t *testing.T, store RecordStore) {
	ctx := context.Background()
	now := time.Now()

	rec := &Record{
		ID:                "rec-1",
		Mode:              exchange.ModeReceiver,
		State:             StateOpened,
		KDFSalt:           bytes.Repeat([]byte{1}, 16),
		KDFOps:            1,
		KDFMemLimit:       8192,
		ReceiverPublicKey: bytes.Repeat([]byte{2}, 32),
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         now.Add(time.Hour),
	}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(ctx, rec); !errors.Is(err, ErrRecordExists) {
		t.Errorf("Expected ErrRecordExists, got %v", err)
	}

	got, err := store.Get(ctx, "rec-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.State != StateOpened || !bytes.Equal(got.ReceiverPublicKey, rec.ReceiverPublicKey) {
		t.Errorf("Get returned %+v", got)
	}

	// the store hands out copies
	got.State = StateFinalized
	again, _ := store.Get(ctx, "rec-1")
	if again.State != StateOpened {
		t.Error("mutating a fetched record changed the stored one")
	}

	got.UploadID = "up-1"
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	again, _ = store.Get(ctx, "rec-1")
	if again.State != StateFinalized || again.UploadID != "up-1" {
		t.Errorf("Update not persisted: %+v", again)
	}

	old := &Record{ID: "rec-old", Mode: exchange.ModeSender, State: StateOpened,
		CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(-time.Minute)}
	if err := store.Create(ctx, old); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ids, err := store.Expired(ctx, now)
	if err != nil {
		t.Fatalf("Expired failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "rec-old" {
		t.Errorf("Expired = %v", ids)
	}

	if n, err := store.Count(ctx); err != nil || n != 2 {
		t.Errorf("Count = %d, %v", n, err)
	}

	if err := store.Delete(ctx, "rec-old"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "rec-old"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "rec-old"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound on second delete, got %v", err)
	}
	if err := store.Update(ctx, old); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound on update, got %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestMemoryRecordStore(t *testing.T) {
	testRecordStore(t, NewMemoryRecordStore())
}

func TestSQLiteRecordStore(t *testing.T) {
	store, err := NewSQLiteRecordStore(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRecordStore failed: %v", err)
	}
	defer store.Close()
	testRecordStore(t, store)
}

func TestSQLiteRecordStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	store, err := NewSQLiteRecordStore(path)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	rec := &Record{ID: "keep", Mode: exchange.ModeSender, State: StateComplete, Digest: "abc",
		CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = NewSQLiteRecordStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()
	got, err := store.Get(context.Background(), "keep")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.State != StateComplete || got.Digest != "abc" || got.Mode != exchange.ModeSender {
		t.Errorf("record after reopen = %+v", got)
	}
}

func testBlobStore(t *testing.T, store BlobStore) {
	ctx := context.Background()

	if _, err := store.Read(ctx, "missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Expected ErrBlobNotFound, got %v", err)
	}

	parts := [][]byte{[]byte("first-"), []byte("second-"), []byte("third")}
	for i, p := range parts {
		if err := store.Append(ctx, "b1", i+1, p); err != nil {
			t.Fatalf("Append %d failed: %v", i+1, err)
		}
	}
	got, err := store.Read(ctx, "b1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != "first-second-third" {
		t.Errorf("Read = %q", got)
	}

	if err := store.Delete(ctx, "b1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Read(ctx, "b1"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Expected ErrBlobNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "b1"); err != nil {
		t.Errorf("Deleting a missing blob failed: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestMemoryBlobStore(t *testing.T) {
	testBlobStore(t, NewMemoryBlobStore())
}

func TestBoltBlobStore(t *testing.T) {
	store, err := OpenBoltBlobStore(filepath.Join(t.TempDir(), "blobs.db"))
	if err != nil {
		t.Fatalf("OpenBoltBlobStore failed: %v", err)
	}
	defer store.Close()
	testBlobStore(t, store)
}

func TestBoltBlobStoreOrdersParts(t *testing.T) {
	store, err := OpenBoltBlobStore(filepath.Join(t.TempDir(), "blobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	// part 256 must sort after part 2 despite its first byte
	ctx := context.Background()
	for _, part := range []int{1, 2, 256} {
		if err := store.Append(ctx, "b", part, []byte{byte(part % 251)}); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := store.Read(ctx, "b")
	if !bytes.Equal(got, []byte{1, 2, 5}) {
		t.Errorf("Read = %v", got)
	}
}

func TestRecordTransitions(t *testing.T) {
	r := &Record{Mode: exchange.ModeReceiver, State: StateIssued}
	steps := []State{StateOpened, StateUploadPrepared, StateUploading, StateUploading, StateFinalized}
	for _, s := range steps {
		if err := r.TransitionTo(s); err != nil {
			t.Fatalf("TransitionTo(%s) failed: %v", s, err)
		}
	}
	if err := r.TransitionTo(StateUploading); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("Expected ErrInvalidStateTransition, got %v", err)
	}

	s := &Record{Mode: exchange.ModeSender, State: StateOpened}
	if err := s.TransitionTo(StateFinalized); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("sender records never finalize, got %v", err)
	}
	if err := s.TransitionTo(StateComplete); err != nil {
		t.Errorf("single-part sender upload: %v", err)
	}
}
