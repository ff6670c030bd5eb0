package engine

import "context"

// Engine abstracts a generative + embedding backend (Ollama, or any
// OpenAI-compatible provider). The suggestion generator and the embedder use
// this interface instead of depending on a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When opts.Schema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool
}

// ModelManager is implemented by backends that host their own models and can
// download missing ones.
type ModelManager interface {
	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
