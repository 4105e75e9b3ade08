package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/aibum/internal/cluster"
	"github.com/andresmejia3/aibum/internal/config"
	"github.com/andresmejia3/aibum/internal/types"
)

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "personGroups.json"))

	records, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	// Nested directory is created on first save
	s := NewFileStore(filepath.Join(t.TempDir(), "album", "personGroups.json"))

	want := []cluster.Record{
		{ID: "p1", Label: "Alice", Descriptor: types.Embedding{0.1, 0.2, 0.3}},
		{ID: "p2", Label: "", Descriptor: types.Embedding{-1, 0, 1}},
	}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Label != want[i].Label {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
		for j := range want[i].Descriptor {
			if got[i].Descriptor[j] != want[i].Descriptor[j] {
				t.Errorf("record %d descriptor[%d] = %v, want %v", i, j, got[i].Descriptor[j], want[i].Descriptor[j])
			}
		}
	}

	// No temp files are left next to the store
	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the store file, found %d entries", len(entries))
	}
}

func TestFileStore_SaveEmptyWritesArray(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "personGroups.json"))
	if err := s.Save(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[]" {
		t.Errorf("expected empty JSON array, got %q", data)
	}
}

func TestFileStore_LegacyObjectDescriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personGroups.json")
	legacy := `[{"id":"p1","label":"Alice","descriptor":{"0":0.5,"1":0.25}}]`
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}

	records, err := NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 1 || records[0].Descriptor[0] != 0.5 || records[0].Descriptor[1] != 0.25 {
		t.Errorf("unexpected records %+v", records)
	}
}

func TestFileStore_MalformedFileRejected(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"Garbage", "not json"},
		{"Missing descriptor", `[{"id":"p1","label":"x"}]`},
		{"Null element", `[{"id":"p1","descriptor":[1,null]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "personGroups.json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := NewFileStore(path).Load(context.Background())
			if !errors.Is(err, cluster.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestFileStore_Reset(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "personGroups.json"))

	// Resetting a store that was never written is fine
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset on missing file failed: %v", err)
	}

	if err := s.Save(ctx, []cluster.Record{{ID: "p1", Descriptor: types.Embedding{1}}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	records, err := s.Load(ctx)
	if err != nil || len(records) != 0 {
		t.Errorf("expected empty store after reset, got %v (err %v)", records, err)
	}
}

func TestFileStore_EngineRestoresAcrossSessions(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "personGroups.json"))

	first, err := cluster.Open(ctx, cluster.NewGroupStore(nil), s, cluster.Options{})
	if err != nil {
		t.Fatal(err)
	}
	id, err := first.ProcessFace(ctx, types.Face{Embedding: types.Embedding{0, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Relabel(ctx, id, "Alice"); err != nil {
		t.Fatal(err)
	}

	second, err := cluster.Open(ctx, cluster.NewGroupStore(nil), s, cluster.Options{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := second.ProcessFace(ctx, types.Face{Embedding: types.Embedding{0.1, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Errorf("expected face to rejoin %q, got %q", id, got)
	}
	groups := second.ListGroups()
	if len(groups) != 1 || groups[0].Label != "Alice" {
		t.Errorf("unexpected groups after restore: %+v", groups)
	}
}

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, config.StoreConfig{Backend: config.BackendFile, Path: "groups.json"})
	if err != nil {
		t.Fatalf("Open(file) failed: %v", err)
	}
	if fs, ok := b.(*FileStore); !ok || fs.Path() != "groups.json" {
		t.Errorf("expected FileStore at groups.json, got %#v", b)
	}

	if _, err := Open(ctx, config.StoreConfig{Backend: "redis"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
