package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func tagsJSON(names ...string) []byte {
	type entry struct {
		Name string `json:"name"`
	}
	type resp struct {
		Models []entry `json:"models"`
	}
	r := resp{}
	for _, n := range names {
		r.Models = append(r.Models, entry{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestOllamaEngine_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "hello from ollama"},
		})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	result, err := e.Chat(context.Background(), "llama3.2", []Message{
		{Role: "user", Content: "hi"},
	}, ChatOptions{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result != "hello from ollama" {
		t.Errorf("got %q, want %q", result, "hello from ollama")
	}
}

func TestOllamaEngine_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2, 0.3}},
		})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	vec, err := e.Embed(context.Background(), "nomic-embed-text", "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("got %d floats, want 3", len(vec))
	}
}

func TestOllamaEngine_IsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.2:latest"))
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	if !e.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
}

func TestOllamaEngine_IsRunning_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	e := NewOllamaEngine(srv.URL)
	if e.IsRunning(context.Background()) {
		t.Error("IsRunning() = true, want false")
	}
}

func TestOllamaEngine_HasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.2:latest", "mistral-nemo:latest"))
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	if !e.HasModel(context.Background(), "llama3.2") {
		t.Error("HasModel(llama3.2) = false, want true")
	}
	if e.HasModel(context.Background(), "qwen2.5") {
		t.Error("HasModel(qwen2.5) = true, want false")
	}
}

func TestOllamaEngine_PullModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			http.NotFound(w, r)
			return
		}
		enc := json.NewEncoder(w)
		enc.Encode(map[string]any{"status": "downloading", "total": 1000, "completed": 500})
		enc.Encode(map[string]any{"status": "downloading", "total": 1000, "completed": 1000})
		enc.Encode(map[string]any{"status": "success"})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	var progressCount int
	err := e.PullModel(context.Background(), "llama3.2", func(p PullProgress) {
		progressCount++
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if progressCount != 3 {
		t.Errorf("received %d progress updates, want 3", progressCount)
	}
}

func TestOllamaEngine_ChatSendsSchema(t *testing.T) {
	var format map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Format map[string]any `json:"format"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		format = body.Format
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "{}"},
		})
	}))
	defer srv.Close()

	maxItems := 3
	schema := &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"suggestions": {Type: "array", MaxItems: &maxItems, Items: &Schema{Type: "object"}},
		},
		Required: []string{"suggestions"},
	}

	e := NewOllamaEngine(srv.URL)
	if _, err := e.Chat(context.Background(), "llama3.2", nil, ChatOptions{Schema: schema}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	props, ok := format["properties"].(map[string]any)
	if !ok {
		t.Fatalf("format.properties missing: %v", format)
	}
	sugg, ok := props["suggestions"].(map[string]any)
	if !ok || sugg["maxItems"] != float64(3) {
		t.Errorf("suggestions schema = %v, want maxItems 3", props["suggestions"])
	}
}
