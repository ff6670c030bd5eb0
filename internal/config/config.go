// Package config loads oracle settings. Sources are layered lowest first:
// built-in defaults, the config file, a .env file, ORACLE_* environment
// variables, then command-line flags bound by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kalambet/oracle/internal/retrieval"
)

type Config struct {
	Server      ServerConfig
	Engine      EngineConfig
	Storage     StorageConfig
	Retrieval   RetrievalConfig
	Generation  GenerationConfig
	Learning    LearningConfig
	Worker      WorkerConfig
	Preferences PreferencesConfig
	Log         LogConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	MaxBodyBytes int64
}

type EngineConfig struct {
	Provider        string // ollama | openai
	OllamaURL       string
	OpenAIBaseURL   string
	OpenAIAPIKey    string
	ChatModel       string
	CandidateModels []string
	EmbedModel      string
	EmbedDimensions int
	EmbedRPS        float64
	Temperature     float64
	RequestTimeout  time.Duration
}

type StorageConfig struct {
	DataDir       string
	VectorBackend string // sqlite | pgvector
	PostgresDSN   string
}

type RetrievalConfig struct {
	SearchK       int
	SuggestK      int
	ContextBudget int // prompt budget in estimated tokens
}

type GenerationConfig struct {
	MaxAttempts  int
	Backoff      time.Duration
	Timeout      time.Duration
	RepairPrompt bool
}

type LearningConfig struct {
	Enabled      bool
	LookbackDays int
	Interval     time.Duration
}

type WorkerConfig struct {
	PollInterval time.Duration
	Concurrency  int
	MaxAttempts  int
	// MaxPending caps the backlog of queued interaction embeddings.
	MaxPending int
}

type PreferencesConfig struct {
	RefreshInterval time.Duration
	RedisURL        string
}

type LogConfig struct {
	Level  string
	Format string // text | json
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         4000,
			MaxBodyBytes: 1 << 20,
		},
		Engine: EngineConfig{
			Provider:        "ollama",
			OllamaURL:       "http://localhost:11434",
			OpenAIBaseURL:   "https://api.openai.com/v1",
			ChatModel:       "llama3.2",
			EmbedModel:      "nomic-embed-text",
			EmbedDimensions: 768,
			Temperature:     0.2,
			RequestTimeout:  60 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:       defaultDataDir(),
			VectorBackend: "sqlite",
		},
		Retrieval: RetrievalConfig{
			SearchK:       retrieval.DefaultK,
			SuggestK:      6,
			ContextBudget: 4000,
		},
		Generation: GenerationConfig{
			MaxAttempts:  3,
			Backoff:      250 * time.Millisecond,
			Timeout:      90 * time.Second,
			RepairPrompt: true,
		},
		Learning: LearningConfig{
			Enabled:      true,
			LookbackDays: 7,
			Interval:     time.Hour,
		},
		Worker: WorkerConfig{
			PollInterval: 500 * time.Millisecond,
			Concurrency:  2,
			MaxAttempts:  3,
			MaxPending:   1000,
		},
		Preferences: PreferencesConfig{
			RefreshInterval: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Options controls where Load looks.
type Options struct {
	// File is an explicit config file; it must exist when set. Otherwise
	// config.{yaml,json,toml} is looked up in Dir().
	File string
	// EnvFile is loaded into the process environment without overriding
	// variables already set. Defaults to ".env"; a missing file is ignored.
	EnvFile string
	// Viper carries flag bindings from the caller. Nil means no flags.
	Viper *viper.Viper
}

// Load reads configuration from the default locations.
func Load() (Config, error) {
	return LoadWith(Options{})
}

// LoadWith reads configuration using o and validates the result.
func LoadWith(o Options) (Config, error) {
	envFile := o.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
	}

	v := o.Viper
	if v == nil {
		v = viper.New()
	}
	if o.File != "" {
		v.SetConfigFile(o.File)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(Dir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.File != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	for _, s := range specs {
		if err := v.BindEnv(s.key, s.env); err != nil {
			return Config{}, fmt.Errorf("binding %s: %w", s.env, err)
		}
	}

	cfg := defaults()
	if err := apply(&cfg, v); err != nil {
		return Config{}, err
	}

	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if val, err := secretGet(secretName(s.key)); err == nil && val != "" {
			s.apply(&cfg, val)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var problems []string
	switch c.Engine.Provider {
	case "ollama":
	case "openai":
		if c.Engine.OpenAIAPIKey == "" {
			problems = append(problems, "engine.openai_api_key is required when engine.provider is openai (set ORACLE_ENGINE_OPENAI_API_KEY)")
		}
	default:
		problems = append(problems, fmt.Sprintf("engine.provider must be ollama or openai, got %q", c.Engine.Provider))
	}
	switch c.Storage.VectorBackend {
	case "sqlite":
	case "pgvector":
		if c.Storage.PostgresDSN == "" {
			problems = append(problems, "storage.postgres_dsn is required when storage.vector_backend is pgvector")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.vector_backend must be sqlite or pgvector, got %q", c.Storage.VectorBackend))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Retrieval.SearchK < 1 || c.Retrieval.SearchK > retrieval.MaxK {
		problems = append(problems, fmt.Sprintf("retrieval.search_k must be between 1 and %d", retrieval.MaxK))
	}
	if c.Retrieval.SuggestK < 1 || c.Retrieval.SuggestK > retrieval.MaxK {
		problems = append(problems, fmt.Sprintf("retrieval.suggest_k must be between 1 and %d", retrieval.MaxK))
	}
	if c.Generation.MaxAttempts < 1 {
		problems = append(problems, "generation.max_attempts must be at least 1")
	}
	if c.Learning.LookbackDays < 1 {
		problems = append(problems, "learning.lookback_days must be at least 1")
	}
	if c.Worker.Concurrency < 1 {
		problems = append(problems, "worker.concurrency must be at least 1")
	}
	if c.Worker.MaxPending < 1 {
		problems = append(problems, "worker.max_pending must be at least 1")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format must be text or json, got %q", c.Log.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Lookback is the learning window as a duration.
func (c Config) Lookback() time.Duration {
	return time.Duration(c.Learning.LookbackDays) * 24 * time.Hour
}

// Dir is the directory holding config.yaml and secrets.json.
func Dir() string {
	if d := os.Getenv("ORACLE_CONFIG_DIR"); d != "" {
		return d
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "oracle")
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "oracle-data"
		}
	}
	return filepath.Join(dir, "oracle")
}
