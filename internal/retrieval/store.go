package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kalambet/oracle/internal/errs"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore keeps vectors in the embeddings table and answers searches with
// a brute-force cosine scan. It is the default backend; deployments with
// large corpora should use PGVectorStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The embeddings table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Upsert writes rec in a single INSERT ... ON CONFLICT statement so readers
// see either the old vector or the new one, never a mix.
func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	visibility, err := json.Marshal(nonNilStrings(rec.Visibility))
	if err != nil {
		return fmt.Errorf("encoding visibility: %w", err)
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embeddings (owner_table, owner_id, title, snippet, visibility, dimensions, vector, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_table, owner_id) DO UPDATE SET
			title = excluded.title,
			snippet = excluded.snippet,
			visibility = excluded.visibility,
			dimensions = excluded.dimensions,
			vector = excluded.vector,
			updated_at = excluded.updated_at`,
		rec.OwnerTable, rec.OwnerID, rec.Title, rec.Snippet, string(visibility),
		len(rec.Embedding), encodeFloat32s(rec.Embedding), updated.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errs.Storage("retrieval.Upsert", fmt.Errorf("upserting %s/%s: %w", rec.OwnerTable, rec.OwnerID, err))
	}
	return nil
}

// rowKey identifies an embedding row during the scan phase of Search.
// Title and snippet are fetched only for the winners.
type rowKey struct {
	Table    string
	ID       string
	Distance float64
}

// Search scans every vector matching f and keeps the k nearest.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, k int, f Filter) ([]Hit, error) {
	k = ClampK(k)
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	query := `SELECT owner_table, owner_id, visibility, vector FROM embeddings WHERE dimensions = ?`
	args := []any{len(vector)}
	if len(f.Tables) > 0 {
		query += ` AND owner_table IN (?` + strings.Repeat(",?", len(f.Tables)-1) + `)`
		for _, t := range f.Tables {
			args = append(args, t)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Storage("retrieval.Search", fmt.Errorf("querying vectors: %w", err))
	}
	defer rows.Close()

	h := &distanceHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var key rowKey
		var visibility string
		var blob []byte
		if err := rows.Scan(&key.Table, &key.ID, &visibility, &blob); err != nil {
			return nil, errs.Storage("retrieval.Search", fmt.Errorf("scanning row: %w", err))
		}
		if f.Role != "" {
			var roles []string
			if err := json.Unmarshal([]byte(visibility), &roles); err != nil {
				return nil, errs.Storage("retrieval.Search", fmt.Errorf("decoding visibility for %s/%s: %w", key.Table, key.ID, err))
			}
			if !f.allowsRoles(roles) {
				continue
			}
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, errs.Storage("retrieval.Search", fmt.Errorf("decoding embedding for %s/%s: %w", key.Table, key.ID, err))
		}

		key.Distance = 1 - float64(cosine(vector, buf, queryNorm))
		if h.Len() < k {
			heap.Push(h, key)
		} else if key.Distance < (*h)[0].Distance {
			(*h)[0] = key
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("retrieval.Search", fmt.Errorf("iterating rows: %w", err))
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Popping a max-heap yields the farthest first, so fill from the back.
	keys := make([]rowKey, h.Len())
	for i := len(keys) - 1; i >= 0; i-- {
		keys[i] = heap.Pop(h).(rowKey)
	}

	hits, err := s.fetchHits(ctx, keys)
	if err != nil {
		return nil, errs.Storage("retrieval.Search", err)
	}
	return hits, nil
}

// fetchHits loads title and snippet for the given keys, preserving order.
func (s *SQLiteStore) fetchHits(ctx context.Context, keys []rowKey) ([]Hit, error) {
	clauses := make([]string, len(keys))
	args := make([]any, 0, len(keys)*2)
	for i, k := range keys {
		clauses[i] = "(owner_table = ? AND owner_id = ?)"
		args = append(args, k.Table, k.ID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_table, owner_id, title, snippet FROM embeddings WHERE `+strings.Join(clauses, " OR "),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching top-k rows: %w", err)
	}
	defer rows.Close()

	type detail struct{ title, snippet string }
	details := make(map[[2]string]detail, len(keys))
	for rows.Next() {
		var table, id string
		var d detail
		if err := rows.Scan(&table, &id, &d.title, &d.snippet); err != nil {
			return nil, fmt.Errorf("scanning top-k row: %w", err)
		}
		details[[2]string{table, id}] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating top-k rows: %w", err)
	}

	hits := make([]Hit, 0, len(keys))
	for _, k := range keys {
		d, ok := details[[2]string{k.Table, k.ID}]
		if !ok {
			// Deleted between the scan and the fetch.
			continue
		}
		hits = append(hits, Hit{RefTable: k.Table, RefID: k.ID, Distance: k.Distance, Title: d.title, Snippet: d.snippet})
	}
	return hits, nil
}

// Delete removes the vector for (table, id).
func (s *SQLiteStore) Delete(ctx context.Context, table, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM embeddings WHERE owner_table = ? AND owner_id = ?", table, id); err != nil {
		return errs.Storage("retrieval.Delete", fmt.Errorf("deleting %s/%s: %w", table, id, err))
	}
	return nil
}

// Count returns the number of stored vectors.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&count); err != nil {
		return 0, errs.Storage("retrieval.Count", err)
	}
	return count, nil
}

// Get returns the stored record for (table, id), embedding included.
func (s *SQLiteStore) Get(ctx context.Context, table, id string) (Record, bool, error) {
	var r Record
	var visibility, updated string
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_table, owner_id, title, snippet, visibility, vector, updated_at
		FROM embeddings WHERE owner_table = ? AND owner_id = ?`, table, id,
	).Scan(&r.OwnerTable, &r.OwnerID, &r.Title, &r.Snippet, &visibility, &blob, &updated)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errs.Storage("retrieval.Get", err)
	}
	if err := json.Unmarshal([]byte(visibility), &r.Visibility); err != nil {
		return Record{}, false, fmt.Errorf("decoding visibility: %w", err)
	}
	if r.Embedding, err = decodeFloat32s(blob); err != nil {
		return Record{}, false, err
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339, updated); err != nil {
		return Record{}, false, fmt.Errorf("parsing updated_at: %w", err)
	}
	return r, true, nil
}

func validateRecord(rec Record) error {
	if rec.OwnerTable == "" || rec.OwnerID == "" {
		return errs.Validationf("retrieval.Upsert", "owner table and id are required")
	}
	if len(rec.Embedding) == 0 {
		return errs.Validationf("retrieval.Upsert", "embedding for %s/%s is empty", rec.OwnerTable, rec.OwnerID)
	}
	return nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is the precomputed L2 norm
// of a. Zero vectors and length mismatches score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// distanceHeap is a max-heap of rowKey ordered by Distance, so the root is
// the worst of the current top-k.
type distanceHeap []rowKey

func (h distanceHeap) Len() int            { return len(h) }
func (h distanceHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance }
func (h distanceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *distanceHeap) Push(x interface{}) { *h = append(*h, x.(rowKey)) }
func (h *distanceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
