package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrSecretNotFound is returned when the secrets file has no value for an account.
var ErrSecretNotFound = errors.New("secret not found")

func secretsFilePath() string {
	dir := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "secrets.json")
}

// fileSecrets is a flat account->value JSON file, mode 0600.
type fileSecrets struct {
	path string
}

func (f fileSecrets) Get(account string) (string, error) {
	var secrets map[string]string
	if err := readJSONFile(f.path, &secrets); err != nil {
		if os.IsNotExist(err) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	v, ok := secrets[account]
	if !ok {
		return "", ErrSecretNotFound
	}
	return v, nil
}

func (f fileSecrets) Set(account, value string) error {
	secrets := make(map[string]string)
	if err := readJSONFile(f.path, &secrets); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("parsing secrets file: %w", err)
	}
	secrets[account] = value
	return writeJSONFile(f.path, secrets)
}

// SetSecret stores a secret config key in the secrets file.
func SetSecret(key, value string) error {
	return setSecretIn(fileSecrets{path: secretsFilePath()}, key, value)
}

func setSecretIn(f fileSecrets, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if !s.secret {
			return fmt.Errorf("%q is not a secret; use config set", key)
		}
		if value == "" {
			return fmt.Errorf("empty value for %s", key)
		}
		return f.Set(s.account, value)
	}
	return fmt.Errorf("unknown config key: %q", key)
}
