package repl

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestHistory_Add(t *testing.T) {
	h := NewHistory("", 3)
	for _, cmd := range []string{"a", "b", "b", "  ", "c", "d"} {
		h.Add(cmd)
	}

	if got, want := h.Entries(), []string{"b", "c", "d"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Entries() = %v, want %v", got, want)
	}
	if h.Get(0) != "d" || h.Get(2) != "b" || h.Get(3) != "" || h.Get(-1) != "" {
		t.Error("Get() returned wrong entries")
	}
}

func TestHistory_SkipsTokens(t *testing.T) {
	h := NewHistory("", 0)
	h.Add("login eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.c2ln")
	if len(h.Entries()) != 0 {
		t.Errorf("token recorded: %v", h.Entries())
	}
}

func TestHistory_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "history")

	h := NewHistory(path, 10)
	h.Add("login alice")
	h.Add("whoami")
	if err := h.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("permissions = %o, want 600", info.Mode().Perm())
	}

	loaded := NewHistory(path, 10)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(loaded.Entries(), h.Entries()) {
		t.Errorf("loaded %v, want %v", loaded.Entries(), h.Entries())
	}
}

func TestHistory_NoFile(t *testing.T) {
	h := NewHistory("", 0)
	if err := h.Load(); err != nil {
		t.Error(err)
	}
	if err := h.Save(); err != nil {
		t.Error(err)
	}

	missing := NewHistory(filepath.Join(t.TempDir(), "none"), 0)
	if err := missing.Load(); err != nil {
		t.Errorf("Load() of a missing file: %v", err)
	}
}
