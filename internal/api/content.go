package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/oracle/internal/errs"
	"github.com/kalambet/oracle/internal/ingest"
	"github.com/kalambet/oracle/internal/storage"
)

// ContentRequest submits a document for asynchronous indexing. Either Text
// or Data (base64, for PDF or HTML uploads) must be set.
type ContentRequest struct {
	ID             string         `json:"id,omitempty"`
	Title          string         `json:"title,omitempty"`
	Text           string         `json:"text,omitempty"`
	Data           string         `json:"data,omitempty"`
	ContentType    string         `json:"contentType,omitempty"`
	SourceType     string         `json:"sourceType,omitempty"`
	RoleVisibility []string       `json:"roleVisibility,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ContentResponse acknowledges a queued document.
type ContentResponse struct {
	ID     string `json:"id"`
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// ConnectionRequest records a suggested collaboration.
type ConnectionRequest struct {
	RequesterID    string `json:"requesterId"`
	TargetID       string `json:"targetId"`
	SuggestionType string `json:"suggestionType"`
	Status         string `json:"status,omitempty"`
	Satisfaction   *int   `json:"satisfaction,omitempty"`
}

// ConnectionUpdate changes a connection's outcome.
type ConnectionUpdate struct {
	Status       string `json:"status"`
	Satisfaction *int   `json:"satisfaction,omitempty"`
}

var connectionStatuses = map[string]bool{"pending": true, "accepted": true, "declined": true}

func handleContent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ContentRequest
		if !decodeBody(w, r, maxContentBodyBytes, &req) {
			return
		}
		resp, err := submitContent(r.Context(), deps, req, "api")
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, resp)
	}
}

// submitContent stores the record and queues its embedding. The HTTP and MCP
// surfaces share it.
func submitContent(ctx context.Context, deps Deps, req ContentRequest, source string) (ContentResponse, error) {
	const op = "api.SubmitContent"
	var raw []byte
	switch {
	case req.Data != "":
		decoded, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			return ContentResponse{}, errs.Validationf(op, "data is not valid base64")
		}
		raw = decoded
	case strings.TrimSpace(req.Text) != "":
		raw = []byte(req.Text)
	default:
		return ContentResponse{}, errs.Validationf(op, "one of text or data is required")
	}

	extracted, err := ingest.Extract(req.ContentType, raw)
	if err != nil {
		return ContentResponse{}, errs.Validationf(op, "%v", err)
	}
	if extracted.Text == "" {
		return ContentResponse{}, errs.Validationf(op, "document contains no text")
	}

	title := req.Title
	if title == "" {
		title = extracted.Title
	}
	meta := "{}"
	if len(req.Metadata) > 0 {
		b, err := json.Marshal(req.Metadata)
		if err != nil {
			return ContentResponse{}, errs.Validationf(op, "metadata is not encodable: %v", err)
		}
		meta = string(b)
	}
	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = source
	}
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	rec := storage.ContentRecord{
		ID:             id,
		Title:          title,
		Text:           extracted.Text,
		Metadata:       meta,
		RoleVisibility: req.RoleVisibility,
		SourceType:     sourceType,
		CreatedAt:      time.Now().UTC(),
	}
	if err := deps.Store.SaveContent(ctx, rec); err != nil {
		return ContentResponse{}, errs.Storage(op, fmt.Errorf("saving content: %w", err))
	}
	jobID, err := ingest.Enqueue(ctx, deps.Store, ingest.JobEmbedContent, ingest.ContentPayload{ContentID: id}, deps.JobMaxAttempts)
	if err != nil {
		return ContentResponse{}, errs.Storage(op, err)
	}
	return ContentResponse{ID: id, JobID: jobID, Status: "queued"}, nil
}

func handleCreateConnection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "api.CreateConnection"
		var req ConnectionRequest
		if !decodeBody(w, r, deps.maxBody(), &req) {
			return
		}
		if req.RequesterID == "" || req.TargetID == "" {
			writeErr(w, r, errs.Validationf(op, "requesterId and targetId are required"))
			return
		}
		if req.Status == "" {
			req.Status = "pending"
		}
		if err := validateConnection(op, req.Status, req.Satisfaction); err != nil {
			writeErr(w, r, err)
			return
		}

		c := storage.Connection{
			ID:             uuid.New().String(),
			RequesterID:    req.RequesterID,
			TargetID:       req.TargetID,
			SuggestionType: req.SuggestionType,
			Status:         req.Status,
			Satisfaction:   req.Satisfaction,
		}
		if err := deps.Store.SaveConnection(r.Context(), c); err != nil {
			writeErr(w, r, errs.Storage(op, err))
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": c.ID, "status": c.Status})
	}
}

func handleUpdateConnection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "api.UpdateConnection"
		var req ConnectionUpdate
		if !decodeBody(w, r, deps.maxBody(), &req) {
			return
		}
		if err := validateConnection(op, req.Status, req.Satisfaction); err != nil {
			writeErr(w, r, err)
			return
		}

		id := chi.URLParam(r, "id")
		err := deps.Store.UpdateConnection(r.Context(), id, req.Status, req.Satisfaction)
		if errors.Is(err, storage.ErrNotFound) {
			writeErr(w, r, errs.NotFound(op, "connection "+id))
			return
		}
		if err != nil {
			writeErr(w, r, errs.Storage(op, err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
	}
}

func validateConnection(op, status string, satisfaction *int) error {
	if !connectionStatuses[status] {
		return errs.Validationf(op, "status must be one of pending, accepted, declined")
	}
	if satisfaction != nil && (*satisfaction < 1 || *satisfaction > 5) {
		return errs.Validationf(op, "satisfaction must be between 1 and 5")
	}
	return nil
}
