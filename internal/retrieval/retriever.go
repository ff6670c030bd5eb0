package retrieval

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// snippetRunes bounds the text stored alongside each vector.
const snippetRunes = 400

// Document is text to be embedded and indexed under (Table, ID).
type Document struct {
	Table      string
	ID         string
	Title      string
	Text       string
	Visibility []string
}

// Retriever combines embedding and vector search.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Search embeds the query and returns the nearest hits, nearest first.
func (r *Retriever) Search(ctx context.Context, query string, k int, f Filter) ([]Hit, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.store.Search(ctx, vec, k, f)
}

// Index embeds doc.Text and upserts it. The embedding is computed before
// anything is written, so an embedding failure leaves the store untouched.
func (r *Retriever) Index(ctx context.Context, doc Document) error {
	vec, err := r.embedder.Embed(ctx, doc.Text)
	if err != nil {
		return err
	}
	return r.store.Upsert(ctx, Record{
		OwnerTable: doc.Table,
		OwnerID:    doc.ID,
		Title:      doc.Title,
		Snippet:    Snippet(doc.Text),
		Visibility: doc.Visibility,
		Embedding:  vec,
		UpdatedAt:  time.Now(),
	})
}

// Count returns the number of indexed vectors.
func (r *Retriever) Count(ctx context.Context) (int, error) {
	return r.store.Count(ctx)
}

// Snippet collapses whitespace and truncates text for display.
func Snippet(text string) string {
	s := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(s) <= snippetRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:snippetRunes]) + "…"
}
