package storage

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndLoadSession(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveSession(0, "sess-1", 42, "wss://resume.example"); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	id, seq, url, err := s.LoadSession(0)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if id != "sess-1" || seq != 42 || url != "wss://resume.example" {
		t.Fatalf("unexpected session state: %q %d %q", id, seq, url)
	}
}

func TestSaveSessionOverwrites(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveSession(0, "sess-1", 42, "wss://a"); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.SaveSession(0, "sess-2", 99, "wss://b"); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	id, seq, url, err := s.LoadSession(0)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if id != "sess-2" || seq != 99 || url != "wss://b" {
		t.Fatalf("overwrite not applied: %q %d %q", id, seq, url)
	}
}

func TestLoadMissingSession(t *testing.T) {
	s := newTestStore(t)

	id, seq, url, err := s.LoadSession(7)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if id != "" || seq != 0 || url != "" {
		t.Fatalf("missing shard must return zero state, got %q %d %q", id, seq, url)
	}
}

func TestClearSession(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveSession(0, "sess-1", 1, ""); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.SaveSession(1, "sess-2", 2, ""); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.ClearSession(0); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}

	if id, _, _, _ := s.LoadSession(0); id != "" {
		t.Fatalf("shard 0 should be cleared, got %q", id)
	}
	if id, _, _, _ := s.LoadSession(1); id != "sess-2" {
		t.Fatalf("shard 1 should be untouched, got %q", id)
	}

	if err := s.ClearAllSessions(); err != nil {
		t.Fatalf("ClearAllSessions: %v", err)
	}
	if id, _, _, _ := s.LoadSession(1); id != "" {
		t.Fatalf("all sessions should be cleared, got %q", id)
	}
}

func TestUninitializedStoreErrors(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err := s.SaveSession(0, "x", 1, ""); err == nil {
		t.Fatal("SaveSession on uninitialized store must fail")
	}
	if _, _, _, err := s.LoadSession(0); err == nil {
		t.Fatal("LoadSession on uninitialized store must fail")
	}
}
