package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/oracle/internal/errs"
	"github.com/kalambet/oracle/internal/learning"
	"github.com/kalambet/oracle/internal/oracle"
	"github.com/kalambet/oracle/internal/retrieval"
)

// EmbedRequest indexes text under (table, id).
type EmbedRequest struct {
	Table          string   `json:"table"`
	ID             string   `json:"id"`
	Text           string   `json:"text"`
	Title          string   `json:"title,omitempty"`
	RoleVisibility []string `json:"roleVisibility,omitempty"`
}

// SearchRequest is a semantic search.
type SearchRequest struct {
	Query  string   `json:"query"`
	K      int      `json:"k,omitempty"`
	Role   string   `json:"role,omitempty"`
	Tables []string `json:"tables,omitempty"`
}

// SearchResponse lists hits nearest first.
type SearchResponse struct {
	Results []retrieval.Hit `json:"results"`
}

// LearningRequest names a learning loop action.
type LearningRequest struct {
	Action string `json:"action"`
}

// FeedbackRequest rates an interaction.
type FeedbackRequest struct {
	Satisfaction int   `json:"satisfaction"`
	Helpful      *bool `json:"helpful,omitempty"`
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Store.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": deps.Version})
	}
}

func handleEmbed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EmbedRequest
		if !decodeBody(w, r, deps.maxBody(), &req) {
			return
		}
		const op = "api.Embed"
		var missing []string
		if req.Table == "" {
			missing = append(missing, "table")
		}
		if req.ID == "" {
			missing = append(missing, "id")
		}
		if strings.TrimSpace(req.Text) == "" {
			missing = append(missing, "text")
		}
		if len(missing) > 0 {
			writeErr(w, r, errs.Validationf(op, "missing required fields: %s", strings.Join(missing, ", ")))
			return
		}

		err := deps.Indexer.Index(r.Context(), retrieval.Document{
			Table:      req.Table,
			ID:         req.ID,
			Title:      req.Title,
			Text:       req.Text,
			Visibility: req.RoleVisibility,
		})
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if !decodeBody(w, r, deps.maxBody(), &req) {
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			writeErr(w, r, errs.Validationf("api.Search", "query is required"))
			return
		}

		hits, err := deps.Searcher.Search(r.Context(), req.Query, deps.searchK(req.K), retrieval.Filter{
			Tables: req.Tables,
			Role:   req.Role,
		})
		if err != nil {
			writeErr(w, r, err)
			return
		}
		if hits == nil {
			hits = []retrieval.Hit{}
		}
		writeJSON(w, http.StatusOK, SearchResponse{Results: hits})
	}
}

func handleSuggest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req oracle.Request
		if !decodeBody(w, r, deps.maxBody(), &req) {
			return
		}
		res, err := deps.Suggester.Suggest(r.Context(), req)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res.Response)
	}
}

func handleLearningLoop(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LearningRequest
		if !decodeBody(w, r, deps.maxBody(), &req) {
			return
		}
		action, err := learning.ParseAction(req.Action)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		res, err := deps.Learner.Run(r.Context(), action)
		if err != nil {
			slog.ErrorContext(r.Context(), "learning loop failed", "action", action, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error": map[string]any{
					"message": errs.SafeMessage(err),
					"type":    string(errs.KindOf(err)),
				},
				"status": "error",
			})
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FeedbackRequest
		if !decodeBody(w, r, deps.maxBody(), &req) {
			return
		}
		id := chi.URLParam(r, "id")
		if err := deps.Feedback.Feedback(r.Context(), id, req.Satisfaction, req.Helpful); err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}
