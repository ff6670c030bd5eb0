package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/kalambet/oracle/internal/ollama"
)

var _ Engine = (*OpenAIEngine)(nil)

// OpenAIEngine talks to any OpenAI-compatible provider (OpenAI, OpenRouter,
// vLLM, LM Studio and similar).
type OpenAIEngine struct {
	client     *openai.Client
	dimensions int
}

// OpenAIConfig configures an OpenAIEngine.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	// Dimensions is forwarded to the embeddings endpoint when > 0.
	Dimensions int
	// Timeout bounds each HTTP call; zero leaves deadlines to the caller.
	Timeout time.Duration
}

// NewOpenAIEngine creates an engine for an OpenAI-compatible endpoint.
func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIEngine{
		client:     openai.NewClientWithConfig(clientConfig),
		dimensions: cfg.Dimensions,
	}
}

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}
	if opts.Schema != nil {
		raw, err := json.Marshal(opts.Schema)
		if err != nil {
			return "", fmt.Errorf("encoding schema: %w", err)
		}
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "response",
				Schema: json.RawMessage(raw),
			},
		}
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("create embeddings: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// IsRunning reports whether the provider answers a model listing.
func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.ListModels(ctx)
	return err == nil
}

// IsRateLimited reports whether err is a provider rate-limit response from
// either backend.
func IsRateLimited(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var statusErr *ollama.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RateLimited()
	}
	return false
}
