package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/oracle/internal/errs"
)

// mockVectorStore implements VectorStore for testing.
type mockVectorStore struct {
	upserts  []Record
	searchFn func(vector []float32, k int, f Filter) ([]Hit, error)
}

func (m *mockVectorStore) Upsert(_ context.Context, rec Record) error {
	m.upserts = append(m.upserts, rec)
	return nil
}
func (m *mockVectorStore) Search(_ context.Context, vector []float32, k int, f Filter) ([]Hit, error) {
	return m.searchFn(vector, k, f)
}
func (m *mockVectorStore) Delete(context.Context, string, string) error { return nil }
func (m *mockVectorStore) Count(context.Context) (int, error)           { return len(m.upserts), nil }

func TestRetriever_SearchPassesFilterAndK(t *testing.T) {
	var gotK int
	var gotFilter Filter
	store := &mockVectorStore{
		searchFn: func(_ []float32, k int, f Filter) ([]Hit, error) {
			gotK, gotFilter = k, f
			return []Hit{{RefTable: TableContent, RefID: "r1", Distance: 0.1}}, nil
		},
	}
	eng := &mockEngine{embedFn: func(context.Context, string, string) ([]float32, error) { return makeVector(4), nil }}
	r := NewRetriever(NewEmbedder(eng, "m"), store)

	hits, err := r.Search(context.Background(), "pricing mentor", 6, Filter{Role: "founder"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].RefID != "r1" {
		t.Errorf("hits = %+v", hits)
	}
	if gotK != 6 || gotFilter.Role != "founder" {
		t.Errorf("store got k=%d filter=%+v", gotK, gotFilter)
	}
}

func TestRetriever_SearchEmbeddingFailureSkipsStore(t *testing.T) {
	store := &mockVectorStore{
		searchFn: func([]float32, int, Filter) ([]Hit, error) {
			t.Fatal("store must not be searched after an embedding failure")
			return nil, nil
		},
	}
	eng := &mockEngine{embedFn: func(context.Context, string, string) ([]float32, error) { return nil, errors.New("down") }}
	r := NewRetriever(NewEmbedder(eng, "m"), store)

	_, err := r.Search(context.Background(), "q", 5, Filter{})
	if !errs.Is(err, errs.KindEmbedding) {
		t.Errorf("error = %v, want embedding error", err)
	}
}

func TestRetriever_IndexWritesNothingOnEmbeddingFailure(t *testing.T) {
	store := &mockVectorStore{}
	eng := &mockEngine{embedFn: func(context.Context, string, string) ([]float32, error) { return nil, errors.New("down") }}
	r := NewRetriever(NewEmbedder(eng, "m"), store)

	err := r.Index(context.Background(), Document{Table: TableContent, ID: "c1", Text: "hello"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(store.upserts) != 0 {
		t.Errorf("store received %d upserts, want 0", len(store.upserts))
	}
}

func TestRetriever_IndexBuildsRecord(t *testing.T) {
	store := &mockVectorStore{}
	eng := &mockEngine{embedFn: func(context.Context, string, string) ([]float32, error) { return makeVector(4), nil }}
	r := NewRetriever(NewEmbedder(eng, "m"), store)

	doc := Document{Table: TableContent, ID: "c1", Title: "Office hours", Text: "Mentors\n\n  meet   weekly", Visibility: []string{"founder"}}
	if err := r.Index(context.Background(), doc); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if len(store.upserts) != 1 {
		t.Fatalf("got %d upserts, want 1", len(store.upserts))
	}
	rec := store.upserts[0]
	if rec.OwnerTable != TableContent || rec.OwnerID != "c1" || rec.Title != "Office hours" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Snippet != "Mentors meet weekly" {
		t.Errorf("snippet = %q, want collapsed whitespace", rec.Snippet)
	}
	if len(rec.Embedding) != 4 || rec.UpdatedAt.IsZero() {
		t.Errorf("embedding/updated_at not set: %+v", rec)
	}
}

func TestSnippet_Truncates(t *testing.T) {
	long := strings.Repeat("é", snippetRunes+10)
	s := Snippet(long)
	if got := len([]rune(s)); got != snippetRunes+1 {
		t.Errorf("snippet has %d runes, want %d (+ellipsis)", got, snippetRunes+1)
	}
}
