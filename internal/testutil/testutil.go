// Package testutil provides shared test helpers for setting up index databases and payload stores.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/notidx/internal/index"
	"github.com/starford/notidx/internal/models"
	"github.com/starford/notidx/internal/storage"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T, opts ...index.Option) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "notidx-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name(), Logger(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestPayloads creates temporary payload and scratch directories.
func TestPayloads(t *testing.T) *storage.FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(filepath.Join(dir, "payload"), filepath.Join(dir, "scratch"))
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

// MustNote inserts a note and returns its lid.
func MustNote(t *testing.T, db *index.DB, guid, title, content string) int64 {
	t.Helper()
	lid, err := db.UpsertNote(context.Background(), models.Note{GUID: guid, Title: title, Content: content})
	if err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}
	return lid
}

// MustResource inserts a resource and returns its lid.
func MustResource(t *testing.T, db *index.DB, r models.Resource) int64 {
	t.Helper()
	lid, err := db.UpsertResource(context.Background(), r)
	if err != nil {
		t.Fatalf("UpsertResource: %v", err)
	}
	return lid
}

// Eventually polls fn until it returns true or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
