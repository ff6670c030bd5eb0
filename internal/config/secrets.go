package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// secrets.json is a flat name→value object kept next to the config file
// with 0600 permissions.
func secretsFilePath() string {
	return filepath.Join(Dir(), "secrets.json")
}

func secretGet(name string) (string, error) {
	data, err := os.ReadFile(secretsFilePath())
	if err != nil {
		return "", fmt.Errorf("secrets not available: %w", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	val, ok := secrets[name]
	if !ok {
		return "", fmt.Errorf("secret %q not found", name)
	}
	return val, nil
}

func secretSet(name, value string) error {
	p := secretsFilePath()

	var secrets map[string]string
	data, err := os.ReadFile(p)
	if err == nil {
		if err := json.Unmarshal(data, &secrets); err != nil {
			return fmt.Errorf("parsing secrets file: %w", err)
		}
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	secrets[name] = value

	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, out, 0o600)
}
