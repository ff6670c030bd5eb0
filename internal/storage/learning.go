package storage

import (
	"context"
	"database/sql"
	"time"
)

// --- Model preferences ---

// UpsertModelPreference replaces the row for p.ModelName.
func (s *Store) UpsertModelPreference(ctx context.Context, p ModelPreference) error {
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_preferences (model_name, performance_score, avg_satisfaction, helpful_rate, sample_count, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(model_name) DO UPDATE SET
			performance_score = excluded.performance_score,
			avg_satisfaction = excluded.avg_satisfaction,
			helpful_rate = excluded.helpful_rate,
			sample_count = excluded.sample_count,
			last_updated = excluded.last_updated`,
		p.ModelName, p.PerformanceScore, p.AvgSatisfaction, p.HelpfulRate, p.SampleCount, formatTime(p.LastUpdated),
	)
	return err
}

// ListModelPreferences returns all preferences, best performance first.
func (s *Store) ListModelPreferences(ctx context.Context) ([]ModelPreference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model_name, performance_score, avg_satisfaction, helpful_rate, sample_count, last_updated
		FROM model_preferences ORDER BY performance_score DESC, model_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefs []ModelPreference
	for rows.Next() {
		var p ModelPreference
		var updated string
		if err := rows.Scan(&p.ModelName, &p.PerformanceScore, &p.AvgSatisfaction, &p.HelpfulRate, &p.SampleCount, &updated); err != nil {
			return nil, err
		}
		if p.LastUpdated, err = parseTime("last_updated", updated); err != nil {
			return nil, err
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// --- Optimization insights ---

// SaveInsight appends an insight snapshot.
func (s *Store) SaveInsight(ctx context.Context, in OptimizationInsight) error {
	if in.GeneratedAt.IsZero() {
		in.GeneratedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO optimization_insights (id, type, insights_data, generated_at) VALUES (?, ?, ?, ?)`,
		in.ID, in.Type, in.InsightsData, formatTime(in.GeneratedAt),
	)
	return err
}

// LatestInsight returns the most recent snapshot of the given type.
func (s *Store) LatestInsight(ctx context.Context, typ string) (OptimizationInsight, error) {
	var in OptimizationInsight
	var generated string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, insights_data, generated_at FROM optimization_insights
		WHERE type = ? ORDER BY generated_at DESC, rowid DESC LIMIT 1`, typ,
	).Scan(&in.ID, &in.Type, &in.InsightsData, &generated)
	if err == sql.ErrNoRows {
		return OptimizationInsight{}, ErrNotFound
	}
	if err != nil {
		return OptimizationInsight{}, err
	}
	if in.GeneratedAt, err = parseTime("generated_at", generated); err != nil {
		return OptimizationInsight{}, err
	}
	return in, nil
}

// --- Connections ---

// SaveConnection inserts a connection outcome row.
func (s *Store) SaveConnection(ctx context.Context, c Connection) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	if c.Status == "" {
		c.Status = "pending"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (id, requester_id, target_id, suggestion_type, status, satisfaction, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.RequesterID, c.TargetID, c.SuggestionType, c.Status, nullInt(c.Satisfaction),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	return err
}

// UpdateConnection sets the status and, when non-nil, the satisfaction.
func (s *Store) UpdateConnection(ctx context.Context, id, status string, satisfaction *int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE connections SET status = ?, satisfaction = COALESCE(?, satisfaction), updated_at = ?
		WHERE id = ?`,
		status, nullInt(satisfaction), formatTime(time.Now()), id,
	)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// GetConnection returns a connection by ID.
func (s *Store) GetConnection(ctx context.Context, id string) (Connection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, requester_id, target_id, suggestion_type, status, satisfaction, created_at, updated_at
		FROM connections WHERE id = ?`, id)
	c, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return Connection{}, ErrNotFound
	}
	return c, err
}

// ListAcceptedConnectionsSince returns accepted connections updated at or
// after since.
func (s *Store) ListAcceptedConnectionsSince(ctx context.Context, since time.Time) ([]Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requester_id, target_id, suggestion_type, status, satisfaction, created_at, updated_at
		FROM connections
		WHERE status = 'accepted' AND updated_at >= ?
		ORDER BY updated_at ASC`, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanConnection(r rowScanner) (Connection, error) {
	var c Connection
	var satisfaction sql.NullInt64
	var created, updated string
	if err := r.Scan(&c.ID, &c.RequesterID, &c.TargetID, &c.SuggestionType, &c.Status, &satisfaction, &created, &updated); err != nil {
		return Connection{}, err
	}
	c.Satisfaction = intPtr(satisfaction)
	var err error
	if c.CreatedAt, err = parseTime("created_at", created); err != nil {
		return Connection{}, err
	}
	if c.UpdatedAt, err = parseTime("updated_at", updated); err != nil {
		return Connection{}, err
	}
	return c, nil
}
