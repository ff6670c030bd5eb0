package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "ORACLE_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "ORACLE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_body_bytes", typ: kInt, env: "ORACLE_SERVER_MAX_BODY_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxBodyBytes = int64(v.(int)) },
		extract: func(cfg Config) any { return cfg.Server.MaxBodyBytes },
	},
	{
		key: "engine.provider", typ: kString, env: "ORACLE_ENGINE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Engine.Provider = strings.ToLower(v.(string)) },
		extract: func(cfg Config) any { return cfg.Engine.Provider },
	},
	{
		key: "engine.ollama_url", typ: kString, env: "ORACLE_ENGINE_OLLAMA_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.OllamaURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.OllamaURL },
	},
	{
		key: "engine.openai_base_url", typ: kString, env: "ORACLE_ENGINE_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.OpenAIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.OpenAIBaseURL },
	},
	{
		key: "engine.openai_api_key", typ: kString, env: "ORACLE_ENGINE_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Engine.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.OpenAIAPIKey },
	},
	{
		key: "engine.chat_model", typ: kString, env: "ORACLE_ENGINE_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.ChatModel },
	},
	{
		key: "engine.candidate_models", typ: kList, env: "ORACLE_ENGINE_CANDIDATE_MODELS",
		apply:   func(cfg *Config, v any) { cfg.Engine.CandidateModels = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Engine.CandidateModels, ",") },
	},
	{
		key: "engine.embed_model", typ: kString, env: "ORACLE_ENGINE_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedModel },
	},
	{
		key: "engine.embed_dimensions", typ: kInt, env: "ORACLE_ENGINE_EMBED_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedDimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedDimensions },
	},
	{
		key: "engine.embed_rps", typ: kFloat, env: "ORACLE_ENGINE_EMBED_RPS",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedRPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedRPS },
	},
	{
		key: "engine.temperature", typ: kFloat, env: "ORACLE_ENGINE_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Engine.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Engine.Temperature },
	},
	{
		key: "engine.request_timeout", typ: kDuration, env: "ORACLE_ENGINE_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Engine.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Engine.RequestTimeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ORACLE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.vector_backend", typ: kString, env: "ORACLE_STORAGE_VECTOR_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.VectorBackend = strings.ToLower(v.(string)) },
		extract: func(cfg Config) any { return cfg.Storage.VectorBackend },
	},
	{
		key: "storage.postgres_dsn", typ: kString, env: "ORACLE_STORAGE_POSTGRES_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.PostgresDSN },
	},
	{
		key: "retrieval.search_k", typ: kInt, env: "ORACLE_RETRIEVAL_SEARCH_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.SearchK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.SearchK },
	},
	{
		key: "retrieval.suggest_k", typ: kInt, env: "ORACLE_RETRIEVAL_SUGGEST_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.SuggestK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.SuggestK },
	},
	{
		key: "retrieval.context_budget", typ: kInt, env: "ORACLE_RETRIEVAL_CONTEXT_BUDGET",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ContextBudget = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.ContextBudget },
	},
	{
		key: "generation.max_attempts", typ: kInt, env: "ORACLE_GENERATION_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxAttempts },
	},
	{
		key: "generation.backoff", typ: kDuration, env: "ORACLE_GENERATION_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Generation.Backoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.Backoff },
	},
	{
		key: "generation.timeout", typ: kDuration, env: "ORACLE_GENERATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.Timeout },
	},
	{
		key: "generation.repair_prompt", typ: kBool, env: "ORACLE_GENERATION_REPAIR_PROMPT",
		apply:   func(cfg *Config, v any) { cfg.Generation.RepairPrompt = v.(bool) },
		extract: func(cfg Config) any { return cfg.Generation.RepairPrompt },
	},
	{
		key: "learning.enabled", typ: kBool, env: "ORACLE_LEARNING_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Learning.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Learning.Enabled },
	},
	{
		key: "learning.lookback_days", typ: kInt, env: "ORACLE_LEARNING_LOOKBACK_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Learning.LookbackDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Learning.LookbackDays },
	},
	{
		key: "learning.interval", typ: kDuration, env: "ORACLE_LEARNING_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Learning.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Learning.Interval },
	},
	{
		key: "worker.poll_interval", typ: kDuration, env: "ORACLE_WORKER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Worker.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Worker.PollInterval },
	},
	{
		key: "worker.concurrency", typ: kInt, env: "ORACLE_WORKER_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Worker.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Worker.Concurrency },
	},
	{
		key: "worker.max_attempts", typ: kInt, env: "ORACLE_WORKER_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Worker.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Worker.MaxAttempts },
	},
	{
		key: "worker.max_pending", typ: kInt, env: "ORACLE_WORKER_MAX_PENDING",
		apply:   func(cfg *Config, v any) { cfg.Worker.MaxPending = v.(int) },
		extract: func(cfg Config) any { return cfg.Worker.MaxPending },
	},
	{
		key: "preferences.refresh_interval", typ: kDuration, env: "ORACLE_PREFERENCES_REFRESH_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Preferences.RefreshInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Preferences.RefreshInterval },
	},
	{
		key: "preferences.redis_url", typ: kString, env: "ORACLE_PREFERENCES_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Preferences.RedisURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Preferences.RedisURL },
	},
	{
		key: "log.level", typ: kString, env: "ORACLE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "ORACLE_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = strings.ToLower(v.(string)) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// apply copies every key viper knows about onto cfg. Viper resolves
// precedence between flags, env and file.
func apply(cfg *Config, v *viper.Viper) error {
	for _, s := range specs {
		if !v.IsSet(s.key) {
			continue
		}
		val, err := s.parse(v)
		if err != nil {
			return err
		}
		s.apply(cfg, val)
	}
	return nil
}

func (s keySpec) parse(v *viper.Viper) (any, error) {
	if s.typ == kList {
		if raw, ok := v.Get(s.key).(string); ok {
			return splitList(raw), nil
		}
		return v.GetStringSlice(s.key), nil
	}
	return s.parseString(v.GetString(s.key))
}

// parseString converts raw to the key's Go type. It is shared by loading and
// `config set`, so both reject the same values.
func (s keySpec) parseString(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch s.typ {
	case kString:
		return raw, nil
	case kInt:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid integer for %s: %q", s.key, raw)
		}
		return i, nil
	case kBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid bool for %s: %q", s.key, raw)
		}
		return b, nil
	case kFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number for %s: %q", s.key, raw)
		}
		return f, nil
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration for %s: %q", s.key, raw)
		}
		return d, nil
	case kList:
		return splitList(raw), nil
	}
	return nil, fmt.Errorf("unsupported type for %s", s.key)
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
