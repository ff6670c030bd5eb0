package retrieval

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultK is the result count used when a caller passes k <= 0.
	DefaultK = 5
	// MaxK caps every search regardless of what the caller asks for.
	MaxK = 20
)

// Owner tables with embeddings.
const (
	TableContent      = "content_records"
	TableInteractions = "interaction_logs"
)

// VectorStore persists one embedding per (owner table, owner id) and answers
// nearest-neighbour queries.
//
// Distances are raw cosine distances (1 - cosine similarity), so results come
// back nearest first. Convert to a similarity only at presentation time via
// Similarity.
type VectorStore interface {
	// Upsert stores rec, atomically replacing any previous vector for the
	// same (OwnerTable, OwnerID).
	Upsert(ctx context.Context, rec Record) error

	// Search returns at most ClampK(k) hits ordered by ascending distance.
	Search(ctx context.Context, vector []float32, k int, f Filter) ([]Hit, error)

	// Delete removes the vector for (table, id). Missing rows are not an error.
	Delete(ctx context.Context, table, id string) error

	// Count returns the number of stored vectors.
	Count(ctx context.Context) (int, error)
}

// Record is one embedding row.
type Record struct {
	OwnerTable string
	OwnerID    string
	Title      string
	Snippet    string
	Visibility []string // roles allowed to see the row; empty means everyone
	Embedding  []float32
	UpdatedAt  time.Time
}

// Hit is a search result.
type Hit struct {
	RefTable string  `json:"refTable"`
	RefID    string  `json:"refId"`
	Distance float64 `json:"distance"`
	Snippet  string  `json:"snippet"`
	Title    string  `json:"title"`
}

// Filter narrows a search. The zero value matches every row.
type Filter struct {
	Tables []string // restrict to these owner tables
	Role   string   // when set, hide rows whose visibility excludes this role
}

func (f Filter) allowsTable(table string) bool {
	if len(f.Tables) == 0 {
		return true
	}
	for _, t := range f.Tables {
		if t == table {
			return true
		}
	}
	return false
}

func (f Filter) allowsRoles(visibility []string) bool {
	if f.Role == "" || len(visibility) == 0 {
		return true
	}
	for _, r := range visibility {
		if r == f.Role {
			return true
		}
	}
	return false
}

// ClampK normalizes a requested result count into [1, MaxK].
func ClampK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	if k > MaxK {
		return MaxK
	}
	return k
}

// Similarity converts a cosine distance into a score in [0, 1].
func Similarity(distance float64) float64 {
	return math.Max(0, math.Min(1, 1-distance))
}

// MeanDistance averages hit distances. With no hits it returns 1.0, which
// reads as "no similarity".
func MeanDistance(hits []Hit) float64 {
	if len(hits) == 0 {
		return 1.0
	}
	var sum float64
	for _, h := range hits {
		sum += h.Distance
	}
	return sum / float64(len(hits))
}
