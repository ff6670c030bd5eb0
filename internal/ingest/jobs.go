package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kalambet/oracle/internal/storage"
)

// Job types consumed by Worker.
const (
	JobEmbedInteraction = "embed_interaction"
	JobEmbedContent     = "embed_content"
)

// JobTypes lists every job type Worker claims.
var JobTypes = []string{JobEmbedInteraction, JobEmbedContent}

// InteractionPayload is the payload of an embed_interaction job.
type InteractionPayload struct {
	LogID string `json:"log_id"`
}

// ContentPayload is the payload of an embed_content job.
type ContentPayload struct {
	ContentID string `json:"content_id"`
}

// Enqueuer persists jobs.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Enqueue stores a pending job of the given type and returns its ID.
// maxAttempts <= 0 keeps the queue default.
func Enqueue(ctx context.Context, q Enqueuer, jobType string, payload any, maxAttempts int) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding %s payload: %w", jobType, err)
	}
	id := uuid.New().String()
	job := storage.Job{
		ID:          id,
		Type:        jobType,
		PayloadJSON: string(b),
	}
	if maxAttempts > 0 {
		job.MaxAttempts = maxAttempts
	}
	if err := q.EnqueueJob(ctx, job); err != nil {
		return "", fmt.Errorf("enqueueing %s job: %w", jobType, err)
	}
	return id, nil
}
