package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
// Secrets are masked.
func ShowAll(cfg Config) []KeyInfo {
	result := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		val := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret && val != "" {
			val = "********"
		}
		result = append(result, KeyInfo{Key: s.key, EnvVar: s.env, Value: val})
	}
	return result
}

// FilePath is the config file `config set` writes to.
func FilePath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// SetKey validates value and persists it. Secrets go to secrets.json, every
// other key to the config file.
func SetKey(key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q (valid keys: %s)", key, strings.Join(ValidKeys(), ", "))
	}
	parsed, err := s.parseString(value)
	if err != nil {
		return err
	}
	if s.secret {
		return secretSet(secretName(key), value)
	}
	return writeFileKey(FilePath(), key, parsed)
}

// writeFileKey rewrites path with key set. A fresh viper instance is used so
// environment values never leak into the file.
func writeFileKey(path, key string, value any) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if d, ok := value.(fmt.Stringer); ok {
		value = d.String()
	}
	v.Set(key, value)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ValidKeys returns every config key name.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}

func secretName(key string) string {
	_, name, _ := strings.Cut(key, ".")
	return name
}
