//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/andresmejia3/aibum/internal/cluster"
	"github.com/andresmejia3/aibum/internal/types"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupStore starts a throwaway Postgres container and connects a Store to it.
// It requires Docker; the test is skipped when Docker is unavailable.
func setupStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "user",
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "aibum_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil || container == nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}
	connStr := fmt.Sprintf("postgres://user:password@%s:%s/aibum_test?sslmode=disable", host, port.Port())

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	t.Cleanup(func() { s.Close(ctx) })
	return s
}

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s := setupStore(t)
	ctx := context.Background()

	// --- Test Scenarios ---

	// Empty table loads as no records
	records, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load on empty table failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected 0 records, got %d", len(records))
	}

	// Save keeps order, labels and full float64 precision
	vecA := make(types.Embedding, 128)
	vecA[0] = 0.1234567890123
	vecB := make(types.Embedding, 128)
	vecB[1] = 1.0
	want := []cluster.Record{
		{ID: "zeta", Label: "Alice", Descriptor: vecA},
		{ID: "alpha", Label: "", Descriptor: vecB},
	}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(got))
	}
	if got[0].ID != "zeta" || got[1].ID != "alpha" {
		t.Errorf("Expected saved order [zeta alpha], got [%s %s]", got[0].ID, got[1].ID)
	}
	if got[0].Label != "Alice" {
		t.Errorf("Expected label 'Alice', got %q", got[0].Label)
	}
	if got[0].Descriptor[0] != vecA[0] {
		t.Errorf("Descriptor precision lost: got %v, want %v", got[0].Descriptor[0], vecA[0])
	}

	// Save replaces rather than appends
	if err := s.Save(ctx, want[1:]); err != nil {
		t.Fatalf("Second Save failed: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "alpha" {
		t.Errorf("Expected only 'alpha' after replace, got %+v", got)
	}

	// The engine restores and rejoins persisted persons through the store
	engine, err := cluster.Open(ctx, cluster.NewGroupStore(nil), s, cluster.Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	near := vecB.Clone()
	near[2] = 0.1
	id, err := engine.ProcessFace(ctx, types.Face{Embedding: near})
	if err != nil {
		t.Fatalf("ProcessFace failed: %v", err)
	}
	if id != "alpha" {
		t.Errorf("Expected face to rejoin 'alpha', got %q", id)
	}

	// Reset wipes the table but leaves it usable
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load after reset failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected 0 records after reset, got %d", len(got))
	}
}
