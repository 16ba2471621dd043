package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateServerMintsOnce(t *testing.T) {
	store := NewStore(t.TempDir())

	first, err := store.LoadOrCreateServer("north-keep")
	if err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected a minted id")
	}
	if first.Name != "north-keep" {
		t.Errorf("expected name north-keep, got %q", first.Name)
	}

	second, err := store.LoadOrCreateServer("north-keep")
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("id changed across restarts: %s != %s", second.ID, first.ID)
	}
}

func TestServerIdentityKeyedByName(t *testing.T) {
	store := NewStore(t.TempDir())

	a, err := store.LoadOrCreateServer("alpha")
	if err != nil {
		t.Fatalf("load alpha failed: %v", err)
	}
	b, err := store.LoadOrCreateServer("beta")
	if err != nil {
		t.Fatalf("load beta failed: %v", err)
	}
	if a.ID == b.ID {
		t.Error("different names must yield different identities")
	}
}

func TestUnnamedServerUsesFixedKey(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if _, err := store.LoadOrCreateServer(""); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "session", "server", "unnamed.json")); err != nil {
		t.Errorf("expected unnamed record file: %v", err)
	}
}

func TestLoadClientMissingIsNotAnError(t *testing.T) {
	store := NewStore(t.TempDir())

	_, ok, err := store.LoadClient("srv-1")
	if err != nil {
		t.Fatalf("missing record must not error: %v", err)
	}
	if ok {
		t.Error("expected no record")
	}
}

func TestSaveAndLoadClient(t *testing.T) {
	store := NewStore(t.TempDir())

	want := Identity{ID: "client-abc", Name: "wanderer"}
	if err := store.SaveClient("srv-1", want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, ok, err := store.LoadClient("srv-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a record")
	}
	if got != want {
		t.Errorf("loaded %+v, want %+v", got, want)
	}

	// A different server id has its own record.
	_, ok, err = store.LoadClient("srv-2")
	if err != nil {
		t.Fatalf("load srv-2 failed: %v", err)
	}
	if ok {
		t.Error("record leaked across server ids")
	}
}

func TestLoadCorruptRecordErrors(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	path := filepath.Join(dir, "session", "client", "srv-1.json")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, _, err := store.LoadClient("srv-1"); err == nil {
		t.Error("expected an error for a corrupt record")
	}
}

func TestDefaultDirHonorsEnvOverride(t *testing.T) {
	t.Setenv(DirEnv, "/tmp/mudlink-test")
	dir, err := DefaultDir()
	if err != nil {
		t.Fatalf("DefaultDir failed: %v", err)
	}
	if dir != "/tmp/mudlink-test" {
		t.Errorf("expected env override, got %q", dir)
	}
}
