//go:build integration

package retrieval

import (
	"context"
	"fmt"
	"os"
	"testing"
)

// setupPGVector connects to the database named by ORACLE_TEST_PG_DSN. It
// skips the test when the variable is unset.
func setupPGVector(t *testing.T) *PGVectorStore {
	t.Helper()
	dsn := os.Getenv("ORACLE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("ORACLE_TEST_PG_DSN not set, skipping pgvector integration test")
	}
	ctx := context.Background()
	s, err := OpenPGVector(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("OpenPGVector: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `TRUNCATE embeddings`); err != nil {
		t.Fatalf("truncating: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPGVector_UpsertReplacesAndSearchOrders(t *testing.T) {
	s := setupPGVector(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v := []float32{1, float32(i) * 0.5, 0, 0}
		if err := s.Upsert(ctx, Record{OwnerTable: TableContent, OwnerID: fmt.Sprintf("r%d", i), Embedding: v}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if err := s.Upsert(ctx, Record{OwnerTable: TableContent, OwnerID: "r2", Embedding: []float32{1, 0, 0, 0}, Snippet: "moved"}); err != nil {
		t.Fatalf("Upsert replace: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}

	hits, err := s.Search(ctx, []float32{1, 0, 0, 0}, 3, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Distance < hits[i-1].Distance {
			t.Errorf("hits not ascending: %+v", hits)
		}
	}
	if hits[2].RefID != "r1" {
		t.Errorf("farthest = %s, want r1", hits[2].RefID)
	}
}

func TestPGVector_RoleFilter(t *testing.T) {
	s := setupPGVector(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, Record{OwnerTable: TableContent, OwnerID: "private", Visibility: []string{"mentor"}, Embedding: []float32{1, 0, 0, 0}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	hits, err := s.Search(ctx, []float32{1, 0, 0, 0}, 5, Filter{Role: "founder"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("founder saw %+v, want nothing", hits)
	}
}
