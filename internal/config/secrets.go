package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// secretReader looks up secrets that are not set in the environment.
type secretReader interface {
	Get(account string) (string, error)
}

// SecretsFilePath returns the location of the secrets file.
func SecretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

// fileSecrets reads a JSON object of account → secret kept outside the
// config file, readable only by the owner.
type fileSecrets struct {
	path string
}

func (f fileSecrets) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f fileSecrets) Get(account string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[account]
	if !ok {
		return "", fmt.Errorf("secret %q not found", account)
	}
	return val, nil
}

func (f fileSecrets) Set(account, value string) error {
	secrets, err := f.read()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	secrets[account] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}
