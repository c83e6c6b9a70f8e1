package storage

import (
	"context"
	"errors"
	"testing"
)

func TestLocalStorageReadWrite(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	if err := s.Write(ctx, "tasks/one.yaml", []byte("id: one")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	data, err := s.Read(ctx, "tasks/one.yaml")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "id: one" {
		t.Errorf("unexpected content: %q", data)
	}

	// Overwrites replace the content.
	if err := s.Write(ctx, "tasks/one.yaml", []byte("id: two")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	data, _ = s.Read(ctx, "tasks/one.yaml")
	if string(data) != "id: two" {
		t.Errorf("unexpected content after overwrite: %q", data)
	}
}

func TestLocalStorageReadMissing(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	_, err = s.Read(ctx, "tasks/missing.yaml")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalStorageList(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	for _, p := range []string{"work/a.yaml", "work/b.yaml", "tasks/c.yaml"} {
		if err := s.Write(ctx, p, []byte("x")); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	paths, err := s.List(ctx, "work")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %v", paths)
	}

	// Listing a prefix that was never written is empty, not an error.
	paths, err = s.List(ctx, "nothing")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("expected empty list, got %v", paths)
	}
}

func TestLocalStorageDeleteAndExists(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	if err := s.Write(ctx, "work/a.yaml", []byte("x")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	ok, err := s.Exists(ctx, "work/a.yaml")
	if err != nil || !ok {
		t.Fatalf("expected file to exist, got ok=%v err=%v", ok, err)
	}

	if err := s.Delete(ctx, "work/a.yaml"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	ok, err = s.Exists(ctx, "work/a.yaml")
	if err != nil || ok {
		t.Fatalf("expected file to be gone, got ok=%v err=%v", ok, err)
	}

	if err := s.Delete(ctx, "work/a.yaml"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
