package engine

import "fmt"

// Provider names accepted by Detect.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider      string
	OllamaBaseURL string
	OpenAI        OpenAIConfig
}

// Detect returns the engine for the configured provider. An empty provider
// means Ollama.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Provider {
	case "", ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case ProviderOpenAI:
		return NewOpenAIEngine(cfg.OpenAI), nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
}
