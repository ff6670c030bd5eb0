package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// isolate points the loader at an empty temp config dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ORACLE_CONFIG_DIR", dir)
	return dir
}

func loadIn(dir string) (Config, error) {
	return LoadWith(Options{EnvFile: filepath.Join(dir, ".env")})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestDefaults verifies all default values are applied when no config file exists.
func TestDefaults(t *testing.T) {
	dir := isolate(t)
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))

	cfg, err := loadIn(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Engine.Provider != "ollama" {
		t.Errorf("Engine.Provider = %q, want ollama", cfg.Engine.Provider)
	}
	if cfg.Engine.OllamaURL != "http://localhost:11434" {
		t.Errorf("Engine.OllamaURL = %q", cfg.Engine.OllamaURL)
	}
	if cfg.Storage.VectorBackend != "sqlite" {
		t.Errorf("Storage.VectorBackend = %q, want sqlite", cfg.Storage.VectorBackend)
	}
	if cfg.Storage.DataDir != filepath.Join(dir, "data", "oracle") {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Retrieval.SearchK != 5 || cfg.Retrieval.SuggestK != 6 {
		t.Errorf("Retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Generation.MaxAttempts != 3 || !cfg.Generation.RepairPrompt {
		t.Errorf("Generation = %+v", cfg.Generation)
	}
	if cfg.Learning.LookbackDays != 7 || cfg.Lookback() != 7*24*time.Hour {
		t.Errorf("Learning = %+v", cfg.Learning)
	}
	if cfg.Addr() != "127.0.0.1:4000" {
		t.Errorf("Addr = %q", cfg.Addr())
	}
}

func TestConfigFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.yaml"), `
server:
  port: 5050
engine:
  chat_model: qwen2.5
  candidate_models: [llama3.2, qwen2.5]
  temperature: 0.5
learning:
  interval: 30m
`)

	cfg, err := loadIn(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5050 {
		t.Errorf("Server.Port = %d, want 5050", cfg.Server.Port)
	}
	if cfg.Engine.ChatModel != "qwen2.5" {
		t.Errorf("Engine.ChatModel = %q", cfg.Engine.ChatModel)
	}
	if len(cfg.Engine.CandidateModels) != 2 || cfg.Engine.CandidateModels[1] != "qwen2.5" {
		t.Errorf("Engine.CandidateModels = %v", cfg.Engine.CandidateModels)
	}
	if cfg.Engine.Temperature != 0.5 {
		t.Errorf("Engine.Temperature = %v", cfg.Engine.Temperature)
	}
	if cfg.Learning.Interval != 30*time.Minute {
		t.Errorf("Learning.Interval = %v", cfg.Learning.Interval)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.yaml"), "engine:\n  chat_model: file-model\n")
	t.Setenv("ORACLE_ENGINE_CHAT_MODEL", "env-model")
	t.Setenv("ORACLE_ENGINE_CANDIDATE_MODELS", "a, b ,,c")

	cfg, err := loadIn(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.ChatModel != "env-model" {
		t.Errorf("Engine.ChatModel = %q, want env-model", cfg.Engine.ChatModel)
	}
	if strings.Join(cfg.Engine.CandidateModels, "|") != "a|b|c" {
		t.Errorf("Engine.CandidateModels = %v", cfg.Engine.CandidateModels)
	}
}

func TestDotEnvDoesNotOverrideEnv(t *testing.T) {
	dir := isolate(t)
	// Register cleanup for variables the .env file will set.
	t.Setenv("ORACLE_LOG_LEVEL", "")
	os.Unsetenv("ORACLE_LOG_LEVEL")
	t.Setenv("ORACLE_SERVER_PORT", "6001")

	writeFile(t, filepath.Join(dir, ".env"), "ORACLE_LOG_LEVEL=debug\nORACLE_SERVER_PORT=7001\n")

	cfg, err := loadIn(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug from .env", cfg.Log.Level)
	}
	if cfg.Server.Port != 6001 {
		t.Errorf("Server.Port = %d, want 6001 from the environment", cfg.Server.Port)
	}
}

func TestCallerOverridesEnv(t *testing.T) {
	dir := isolate(t)
	t.Setenv("ORACLE_SERVER_PORT", "6001")

	v := viper.New()
	v.Set("server.port", 9009)
	cfg, err := LoadWith(Options{EnvFile: filepath.Join(dir, ".env"), Viper: v})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9009 {
		t.Errorf("Server.Port = %d, want 9009", cfg.Server.Port)
	}
}

func TestExplicitFileMustExist(t *testing.T) {
	dir := isolate(t)
	_, err := LoadWith(Options{File: filepath.Join(dir, "missing.yaml"), EnvFile: filepath.Join(dir, ".env")})
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		env, value, want string
	}{
		{"ORACLE_GENERATION_BACKOFF", "fast", "invalid duration"},
		{"ORACLE_SERVER_PORT", "eighty", "invalid integer"},
		{"ORACLE_LEARNING_ENABLED", "sometimes", "invalid bool"},
		{"ORACLE_ENGINE_PROVIDER", "bedrock", "engine.provider"},
		{"ORACLE_STORAGE_VECTOR_BACKEND", "pgvector", "postgres_dsn"},
		{"ORACLE_RETRIEVAL_SEARCH_K", "21", "search_k"},
		{"ORACLE_LOG_FORMAT", "xml", "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			dir := isolate(t)
			t.Setenv(tt.env, tt.value)
			_, err := loadIn(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestOpenAIRequiresKey(t *testing.T) {
	dir := isolate(t)
	t.Setenv("ORACLE_ENGINE_PROVIDER", "openai")
	if _, err := loadIn(dir); err == nil || !strings.Contains(err.Error(), "openai_api_key") {
		t.Fatalf("error = %v, want missing key", err)
	}

	t.Setenv("ORACLE_ENGINE_OPENAI_API_KEY", "sk-test")
	cfg, err := loadIn(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.OpenAIAPIKey != "sk-test" {
		t.Errorf("OpenAIAPIKey = %q", cfg.Engine.OpenAIAPIKey)
	}
}

func TestSetKey(t *testing.T) {
	dir := isolate(t)

	if err := SetKey("engine.chat_model", "mistral"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := SetKey("learning.interval", "15m"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := SetKey("server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := SetKey("no.such_key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	cfg, err := loadIn(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.ChatModel != "mistral" {
		t.Errorf("Engine.ChatModel = %q, want mistral", cfg.Engine.ChatModel)
	}
	if cfg.Learning.Interval != 15*time.Minute {
		t.Errorf("Learning.Interval = %v, want 15m", cfg.Learning.Interval)
	}
}

func TestSetKey_SecretGoesToSecretsFile(t *testing.T) {
	dir := isolate(t)

	if err := SetKey("engine.openai_api_key", "sk-from-file"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "secrets.json"))
	if err != nil {
		t.Fatalf("reading secrets: %v", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		t.Fatalf("parsing secrets: %v", err)
	}
	if secrets["openai_api_key"] != "sk-from-file" {
		t.Errorf("secrets = %v", secrets)
	}
	if _, err := os.Stat(FilePath()); !os.IsNotExist(err) {
		t.Error("secret must not be written to the config file")
	}

	t.Setenv("ORACLE_ENGINE_PROVIDER", "openai")
	cfg, err := loadIn(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.OpenAIAPIKey != "sk-from-file" {
		t.Errorf("OpenAIAPIKey = %q", cfg.Engine.OpenAIAPIKey)
	}

	for _, k := range ShowAll(cfg) {
		if k.Key == "engine.openai_api_key" && k.Value != "********" {
			t.Errorf("secret shown as %q", k.Value)
		}
	}
}

func TestValidKeysMatchEnvConvention(t *testing.T) {
	for _, s := range specs {
		want := "ORACLE_" + strings.ToUpper(strings.ReplaceAll(s.key, ".", "_"))
		if s.env != want {
			t.Errorf("%s: env = %s, want %s", s.key, s.env, want)
		}
	}
	if len(ValidKeys()) != len(specs) {
		t.Errorf("ValidKeys has %d entries, want %d", len(ValidKeys()), len(specs))
	}
}
