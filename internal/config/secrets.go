package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoToken means no hosting token has been configured yet.
var ErrNoToken = errors.New("no hosting token configured (run `proofsync configure`)")

// secrets is the on-disk shape of ~/.proofsync/secrets.json. Kept apart
// from the config so the config file can be shared or committed without
// leaking the credential.
type secrets struct {
	HostingToken string `json:"hosting_token"`
}

func secretsPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "secrets.json"), nil
}

// LoadToken returns the stored hosting token. ErrNoToken if absent.
func LoadToken() (string, error) {
	path, err := secretsPath()
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("failed to read secrets file: %w", err)
	}

	var s secrets
	if err := json.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("failed to parse secrets file: %w", err)
	}
	if s.HostingToken == "" {
		return "", ErrNoToken
	}
	return s.HostingToken, nil
}

// SaveToken stores the hosting token with owner-only permissions.
func SaveToken(token string) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	path, err := secretsPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(secrets{HostingToken: token}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}
