package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SaveContent inserts or fully replaces a content record.
func (s *Store) SaveContent(ctx context.Context, c ContentRecord) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.Metadata == "" {
		c.Metadata = "{}"
	}
	if c.SourceType == "" {
		c.SourceType = "document"
	}
	visibility, err := json.Marshal(nonNil(c.RoleVisibility))
	if err != nil {
		return fmt.Errorf("encoding role visibility: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO content_records (id, title, text, metadata, role_visibility, source_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			text = excluded.text,
			metadata = excluded.metadata,
			role_visibility = excluded.role_visibility,
			source_type = excluded.source_type,
			updated_at = excluded.updated_at`,
		c.ID, c.Title, c.Text, c.Metadata, string(visibility), c.SourceType,
		formatTime(c.CreatedAt), formatTime(now),
	)
	return err
}

// GetContent returns a content record by ID.
func (s *Store) GetContent(ctx context.Context, id string) (ContentRecord, error) {
	var c ContentRecord
	var visibility, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, text, metadata, role_visibility, source_type, created_at, updated_at
		FROM content_records WHERE id = ?`, id,
	).Scan(&c.ID, &c.Title, &c.Text, &c.Metadata, &visibility, &c.SourceType, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return ContentRecord{}, ErrNotFound
	}
	if err != nil {
		return ContentRecord{}, err
	}
	if err := json.Unmarshal([]byte(visibility), &c.RoleVisibility); err != nil {
		return ContentRecord{}, fmt.Errorf("decoding role visibility for %s: %w", id, err)
	}
	if c.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return ContentRecord{}, err
	}
	if c.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return ContentRecord{}, err
	}
	return c, nil
}

// CountContent returns the number of stored content records.
func (s *Store) CountContent(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_records`).Scan(&n)
	return n, err
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
