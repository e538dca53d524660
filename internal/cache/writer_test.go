package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"
)

func TestEntryWriterCommitPublishesAtomically(t *testing.T) {
	store := newTestStore(t).(*fileStore)
	loc := Locator{Scheme: "https", Host: "cdn.example.com", Path: "objects/commit"}

	writer, err := store.Create(loc)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	payload := []byte("chunked body")
	if _, err := writer.Write(payload[:4]); err != nil {
		t.Fatalf("write error: %v", err)
	}

	// Mid-stream the final path must stay absent and only the temp exist.
	if _, err := store.Stat(loc); err != ErrNotFound {
		t.Fatalf("final path visible mid-write: %v", err)
	}
	filePath, _ := store.entryPath(loc)
	if _, err := os.Stat(filePath + tmpSuffix); err != nil {
		t.Fatalf("temp file missing mid-write: %v", err)
	}

	if _, err := writer.Write(payload[4:]); err != nil {
		t.Fatalf("write error: %v", err)
	}
	entry, err := writer.Commit(nil)
	if err != nil {
		t.Fatalf("commit error: %v", err)
	}
	if entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", entry.SizeBytes)
	}

	if _, err := os.Stat(filePath + tmpSuffix); !os.IsNotExist(err) {
		t.Fatalf("temp file should be gone after commit")
	}

	sum := sha256.Sum256(payload)
	stored, err := store.StoredHash(loc)
	if err != nil {
		t.Fatalf("stored hash error: %v", err)
	}
	if stored != hex.EncodeToString(sum[:]) {
		t.Fatalf("hash side-car mismatch: %s", stored)
	}
}

func TestEntryWriterAbortRemovesTemp(t *testing.T) {
	store := newTestStore(t).(*fileStore)
	loc := Locator{Scheme: "https", Host: "cdn.example.com", Path: "objects/abort"}

	writer, err := store.Create(loc)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := writer.Write(bytes.Repeat([]byte("x"), 128)); err != nil {
		t.Fatalf("write error: %v", err)
	}
	writer.Abort()

	if _, err := store.Stat(loc); err != ErrNotFound {
		t.Fatalf("final path must stay absent after abort: %v", err)
	}
	filePath, _ := store.entryPath(loc)
	if _, err := os.Stat(filePath + tmpSuffix); !os.IsNotExist(err) {
		t.Fatalf("temp file should be removed after abort")
	}

	// Abort after abort is a no-op.
	writer.Abort()
}

func TestEntryWriterCommitWritesMetadata(t *testing.T) {
	store := newTestStore(t).(*fileStore)
	loc := Locator{Scheme: "https", Host: "cdn.example.com", Path: "objects/with-meta"}

	writer, err := store.Create(loc)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := writer.Write([]byte("object body")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if _, err := writer.Commit(&Metadata{CommitHash: "rev-1", LinkedETag: "abc", LinkedSize: "11"}); err != nil {
		t.Fatalf("commit error: %v", err)
	}

	meta, err := store.Metadata(loc)
	if err != nil {
		t.Fatalf("metadata error: %v", err)
	}
	if meta == nil || meta.CommitHash != "rev-1" {
		t.Fatalf("metadata mismatch: %+v", meta)
	}
}

func TestEntryWriterDoubleCommitRejected(t *testing.T) {
	store := newTestStore(t).(*fileStore)
	loc := Locator{Scheme: "https", Host: "cdn.example.com", Path: "objects/double"}

	writer, err := store.Create(loc)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := writer.Commit(nil); err != nil {
		t.Fatalf("first commit error: %v", err)
	}
	if _, err := writer.Commit(nil); err == nil {
		t.Fatalf("second commit should fail")
	}
}
