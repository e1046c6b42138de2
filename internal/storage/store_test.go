package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if _, ok, err := m.Load(ctx, "fav_home"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	in := []byte(`{"address":"Home"}`)
	if err := m.Save(ctx, "fav_home", in); err != nil {
		t.Fatalf("save: %v", err)
	}
	in[0] = 'X' // caller mutation must not leak into the store
	got, ok, err := m.Load(ctx, "fav_home")
	if err != nil || !ok || string(got) != `{"address":"Home"}` {
		t.Fatalf("unexpected load %q ok=%v err=%v", got, ok, err)
	}
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "prefs.json")

	first := NewFileStore(path)
	if err := first.Save(ctx, "payment_method", []byte(`"wallet"`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := first.Save(ctx, "wallet_balance", []byte(`1000`)); err != nil {
		t.Fatalf("save: %v", err)
	}

	second := NewFileStore(path)
	got, ok, err := second.Load(ctx, "payment_method")
	if err != nil || !ok || string(got) != `"wallet"` {
		t.Fatalf("unexpected load %q ok=%v err=%v", got, ok, err)
	}
	if _, ok, _ := second.Load(ctx, "fav_work"); ok {
		t.Fatalf("expected miss for unknown key")
	}
}

func TestFileStoreCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := NewFileStore(path).Load(context.Background(), "fav_home"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNopStore(t *testing.T) {
	var s Store = NopStore{}
	if err := s.Save(context.Background(), "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Load(context.Background(), "k"); ok {
		t.Fatalf("nop store must never find a key")
	}
}

func TestPrefsKey(t *testing.T) {
	if prefsKey("") != "rider:prefs" || prefsKey("42") != "rider:prefs:42" {
		t.Fatalf("unexpected keys")
	}
}
