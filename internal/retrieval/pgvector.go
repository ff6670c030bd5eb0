package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/kalambet/oracle/internal/errs"
)

var _ VectorStore = (*PGVectorStore)(nil)

// PGVectorStore is the Postgres + pgvector backend. Search uses the `<=>`
// cosine distance operator backed by an HNSW index.
type PGVectorStore struct {
	db   *sql.DB
	dims int
}

// OpenPGVector connects to dsn, verifies the connection and ensures the
// schema exists for vectors of the given dimensionality.
func OpenPGVector(ctx context.Context, dsn string, dims int) (*PGVectorStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}
	s := NewPGVectorStore(db, dims)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPGVectorStore wraps an existing Postgres handle.
func NewPGVectorStore(db *sql.DB, dims int) *PGVectorStore {
	return &PGVectorStore{db: db, dims: dims}
}

// EnsureSchema creates the extension, table and index if they are missing.
func (s *PGVectorStore) EnsureSchema(ctx context.Context) error {
	if s.dims <= 0 {
		return fmt.Errorf("pgvector store needs a positive dimension, got %d", s.dims)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings (
			owner_table TEXT NOT NULL,
			owner_id    TEXT NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			snippet     TEXT NOT NULL DEFAULT '',
			visibility  TEXT[] NOT NULL DEFAULT '{}',
			embedding   vector(%d) NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (owner_table, owner_id)
		)`, s.dims),
		`CREATE INDEX IF NOT EXISTS idx_embeddings_hnsw ON embeddings USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to ensure pgvector schema")
		}
	}
	return nil
}

// Upsert replaces the row for (OwnerTable, OwnerID) in one statement.
func (s *PGVectorStore) Upsert(ctx context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	if len(rec.Embedding) != s.dims {
		return errs.Validationf("retrieval.Upsert", "embedding has %d dimensions, store expects %d", len(rec.Embedding), s.dims)
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	stmt := `
		INSERT INTO embeddings (owner_table, owner_id, title, snippet, visibility, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner_table, owner_id)
		DO UPDATE SET
			title = EXCLUDED.title,
			snippet = EXCLUDED.snippet,
			visibility = EXCLUDED.visibility,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, stmt,
		rec.OwnerTable, rec.OwnerID, rec.Title, rec.Snippet,
		pq.Array(nonNilStrings(rec.Visibility)), pgvector.NewVector(rec.Embedding), updated.UTC(),
	)
	if err != nil {
		return errs.Storage("retrieval.Upsert", errors.Wrap(err, "failed to upsert embedding"))
	}
	return nil
}

// Search returns the nearest rows by cosine distance.
func (s *PGVectorStore) Search(ctx context.Context, vector []float32, k int, f Filter) ([]Hit, error) {
	k = ClampK(k)
	if norm(vector) == 0 {
		return nil, nil
	}
	query := `
		SELECT owner_table, owner_id, title, snippet, embedding <=> $1 AS distance
		FROM embeddings
		WHERE (cardinality($2::text[]) = 0 OR owner_table = ANY($2::text[]))
			AND ($3 = '' OR cardinality(visibility) = 0 OR $3 = ANY(visibility))
		ORDER BY distance ASC
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query,
		pgvector.NewVector(vector), pq.Array(nonNilStrings(f.Tables)), f.Role, k,
	)
	if err != nil {
		return nil, errs.Storage("retrieval.Search", errors.Wrap(err, "failed to search embeddings"))
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.RefTable, &h.RefID, &h.Title, &h.Snippet, &h.Distance); err != nil {
			return nil, errs.Storage("retrieval.Search", errors.Wrap(err, "failed to scan embedding hit"))
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("retrieval.Search", err)
	}
	return hits, nil
}

// Delete removes the row for (table, id).
func (s *PGVectorStore) Delete(ctx context.Context, table, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE owner_table = $1 AND owner_id = $2`, table, id)
	if err != nil {
		return errs.Storage("retrieval.Delete", errors.Wrap(err, "failed to delete embedding"))
	}
	return nil
}

// Count returns the number of stored vectors.
func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n); err != nil {
		return 0, errs.Storage("retrieval.Count", errors.Wrap(err, "failed to count embeddings"))
	}
	return n, nil
}

// Close releases the connection pool.
func (s *PGVectorStore) Close() error {
	return s.db.Close()
}
