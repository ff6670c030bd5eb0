// Package graph resolves structural neighbors of a team or person from the
// team membership table. Neighbors only enrich prompts; they never affect
// similarity ranking.
package graph

import (
	"context"
	"sort"

	"github.com/kalambet/oracle/internal/errs"
	"github.com/kalambet/oracle/internal/storage"
)

// Neighbor is an entity structurally related to a query subject.
type Neighbor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// MemberSource is the read side of the membership table.
type MemberSource interface {
	TeamMembers(ctx context.Context, teamID string) ([]storage.TeamMember, error)
	CoMembers(ctx context.Context, personID string) ([]storage.TeamMember, error)
}

// Resolver answers neighbor queries. It holds no state of its own.
type Resolver struct {
	src MemberSource
}

// NewResolver creates a Resolver reading from src.
func NewResolver(src MemberSource) *Resolver {
	return &Resolver{src: src}
}

// Neighbors returns the members of entityID when it names a team, otherwise
// the teammates of entityID across every team it belongs to. An entity with
// no relations yields an empty, non-nil slice.
func (r *Resolver) Neighbors(ctx context.Context, entityID string) ([]Neighbor, error) {
	const op = "graph.Neighbors"
	if entityID == "" {
		return []Neighbor{}, nil
	}

	members, err := r.src.TeamMembers(ctx, entityID)
	if err != nil {
		return nil, errs.Storage(op, err)
	}
	if len(members) == 0 {
		members, err = r.src.CoMembers(ctx, entityID)
		if err != nil {
			return nil, errs.Storage(op, err)
		}
	}
	return dedupe(members), nil
}

// dedupe collapses a person who shares several teams with the subject into
// one neighbor. The first role seen wins.
func dedupe(members []storage.TeamMember) []Neighbor {
	out := make([]Neighbor, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, ok := seen[m.PersonID]; ok {
			continue
		}
		seen[m.PersonID] = struct{}{}
		out = append(out, Neighbor{ID: m.PersonID, Name: m.Name, Role: m.Role})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}
