package profile

import (
	"os"
	"path/filepath"
	"testing"

	"nhathuocpos/backend/internal/domain"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "shop_profile.json"))

	p, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name == "" {
		t.Fatal("default profile has no name")
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "shop_profile.json"))

	want := domain.ShopProfile{
		Name:    "Nha Thuoc An Khang",
		Phone:   "028 3812 0000",
		Address: "12 Le Loi, Q1",
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Fatalf("profile = %+v, want %+v", got, want)
	}
}

func TestSaveRequiresName(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "shop_profile.json"))

	if err := s.Save(domain.ShopProfile{Phone: "0900"}); err == nil {
		t.Fatal("expected error for blank name")
	}
}

func TestLoadCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop_profile.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := NewStore(path).Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadBackfillsBlankName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop_profile.json")
	if err := os.WriteFile(path, []byte(`{"name":"","phone":"0900","address":""}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != Default().Name {
		t.Fatalf("name = %q, want default", p.Name)
	}
	if p.Phone != "0900" {
		t.Fatalf("phone = %q", p.Phone)
	}
}
