package diskmanager

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/SpiritDemon-max/bustub-2022fall/storage_engine/page"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := Open(filepath.Join(dir, "pages.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestReadUnwrittenPageIsZeroed(t *testing.T) {
	m := newTestManager(t)

	buf := make([]byte, page.Size)
	for i := range buf {
		buf[i] = 0xFF
	}
	if err := m.ReadPage(3, buf); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: got %d", i, b)
		}
	}
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	m := newTestManager(t)

	want := make([]byte, page.Size)
	copy(want, []byte("hello page cache"))

	if err := m.WritePage(5, want); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	got := make([]byte, page.Size)
	if err := m.ReadPage(5, got); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}

	if !bytes.Equal(want, got) {
		t.Fatalf("round trip mismatch")
	}
}

func TestWritePageRejectsWrongSizedBuffer(t *testing.T) {
	m := newTestManager(t)

	if err := m.WritePage(0, make([]byte, page.Size-1)); err == nil {
		t.Fatalf("expected error for undersized buffer")
	}
}

func TestDeallocatePageIsNoOp(t *testing.T) {
	m := newTestManager(t)

	want := make([]byte, page.Size)
	copy(want, []byte("still here"))
	if err := m.WritePage(1, want); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := m.DeallocatePage(1); err != nil {
		t.Fatalf("DeallocatePage: %v", err)
	}

	got := make([]byte, page.Size)
	if err := m.ReadPage(1, got); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.Equal(want, got) {
		t.Fatalf("expected page bytes to survive a no-op deallocate")
	}
}

func TestSyncAndClose(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(filepath.Join(dir, "pages.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "pages.db")); err != nil {
		t.Fatalf("expected backing file to exist: %v", err)
	}
}
