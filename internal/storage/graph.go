package storage

import (
	"context"
	"time"
)

// UpsertTeamMember adds a person to a team or updates their name and role.
func (s *Store) UpsertTeamMember(ctx context.Context, m TeamMember) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_members (team_id, person_id, name, role, joined_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(team_id, person_id) DO UPDATE SET name = excluded.name, role = excluded.role`,
		m.TeamID, m.PersonID, m.Name, m.Role, formatTime(m.JoinedAt),
	)
	return err
}

// RemoveTeamMember deletes a membership edge.
func (s *Store) RemoveTeamMember(ctx context.Context, teamID, personID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = ? AND person_id = ?`, teamID, personID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// TeamMembers returns the members of a team ordered by name.
func (s *Store) TeamMembers(ctx context.Context, teamID string) ([]TeamMember, error) {
	return s.queryMembers(ctx, `
		SELECT team_id, person_id, name, role, joined_at FROM team_members
		WHERE team_id = ? ORDER BY name ASC, person_id ASC`, teamID)
}

// CoMembers returns every membership row of the teams personID belongs to,
// excluding personID's own rows.
func (s *Store) CoMembers(ctx context.Context, personID string) ([]TeamMember, error) {
	return s.queryMembers(ctx, `
		SELECT m.team_id, m.person_id, m.name, m.role, m.joined_at
		FROM team_members m
		JOIN team_members self ON self.team_id = m.team_id AND self.person_id = ?
		WHERE m.person_id != self.person_id
		ORDER BY m.name ASC, m.person_id ASC`, personID)
}

func (s *Store) queryMembers(ctx context.Context, query string, arg string) ([]TeamMember, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TeamMember
	for rows.Next() {
		var m TeamMember
		var joined string
		if err := rows.Scan(&m.TeamID, &m.PersonID, &m.Name, &m.Role, &joined); err != nil {
			return nil, err
		}
		if m.JoinedAt, err = parseTime("joined_at", joined); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
