package storage

import (
	"context"
	"database/sql"
	"time"
)

const interactionColumns = `id, actor_id, subject_id, query, response, model_used, confidence, evidence_count,
	similarity_score, processing_ms, status, error, satisfaction, helpful, created_at, feedback_at`

// SaveInteractionLog appends an interaction row.
func (s *Store) SaveInteractionLog(ctx context.Context, l InteractionLog) error {
	status := l.Status
	if status == "" {
		status = "completed"
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interaction_logs (id, actor_id, subject_id, query, response, model_used, confidence, evidence_count,
			similarity_score, processing_ms, status, error, satisfaction, helpful, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ActorID, l.SubjectID, l.Query, l.Response, l.ModelUsed, l.Confidence, l.EvidenceCount,
		l.SimilarityScore, l.ProcessingMS, status, l.Error, nullInt(l.Satisfaction), nullBool(l.Helpful),
		formatTime(l.CreatedAt),
	)
	return err
}

// GetInteractionLog returns an interaction by ID.
func (s *Store) GetInteractionLog(ctx context.Context, id string) (InteractionLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+interactionColumns+` FROM interaction_logs WHERE id = ?`, id)
	l, err := scanInteraction(row)
	if err == sql.ErrNoRows {
		return InteractionLog{}, ErrNotFound
	}
	return l, err
}

// UpdateInteractionFeedback sets the feedback columns of an interaction.
// A nil helpful leaves the existing value untouched.
func (s *Store) UpdateInteractionFeedback(ctx context.Context, id string, satisfaction int, helpful *bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE interaction_logs
		SET satisfaction = ?, helpful = COALESCE(?, helpful), feedback_at = ?
		WHERE id = ?`,
		satisfaction, nullBool(helpful), formatTime(time.Now()), id,
	)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// ListFeedbackSince returns completed interactions created at or after since
// that carry a satisfaction rating, oldest first.
func (s *Store) ListFeedbackSince(ctx context.Context, since time.Time) ([]InteractionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+interactionColumns+`
		FROM interaction_logs
		WHERE created_at >= ? AND satisfaction IS NOT NULL
		ORDER BY created_at ASC`, formatTime(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []InteractionLog
	for rows.Next() {
		l, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

// GetRecentInteractions returns the newest interactions.
func (s *Store) GetRecentInteractions(ctx context.Context, limit int) ([]InteractionLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+interactionColumns+` FROM interaction_logs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []InteractionLog
	for rows.Next() {
		l, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(r rowScanner) (InteractionLog, error) {
	var l InteractionLog
	var satisfaction, helpful sql.NullInt64
	var createdAt string
	var feedbackAt sql.NullString
	if err := r.Scan(&l.ID, &l.ActorID, &l.SubjectID, &l.Query, &l.Response, &l.ModelUsed, &l.Confidence,
		&l.EvidenceCount, &l.SimilarityScore, &l.ProcessingMS, &l.Status, &l.Error,
		&satisfaction, &helpful, &createdAt, &feedbackAt); err != nil {
		return InteractionLog{}, err
	}
	l.Satisfaction = intPtr(satisfaction)
	l.Helpful = boolPtr(helpful)
	t, err := parseTime("created_at", createdAt)
	if err != nil {
		return InteractionLog{}, err
	}
	l.CreatedAt = t
	if feedbackAt.Valid {
		ft, err := parseTime("feedback_at", feedbackAt.String)
		if err != nil {
			return InteractionLog{}, err
		}
		l.FeedbackAt = &ft
	}
	return l, nil
}
