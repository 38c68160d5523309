// Package auth stores the client secret outside the config file.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/zalando/go-keyring"
)

const serviceName = "daemon-console"

// ErrNotFound is returned when no secret is stored for a client.
var ErrNotFound = errors.New("no stored secret")

// SecretStore keeps one client secret per client ID, preferring the system
// keychain and falling back to a 0600 file.
type SecretStore struct {
	useKeyring  bool
	fallbackDir string
}

// NewSecretStore creates a secret store. DAEMON_NO_KEYRING forces the file.
func NewSecretStore(fallbackDir string) *SecretStore {
	if os.Getenv("DAEMON_NO_KEYRING") != "" {
		return &SecretStore{useKeyring: false, fallbackDir: fallbackDir}
	}

	// Test if keyring is available
	testKey := key("probe")
	if err := keyring.Set(serviceName, testKey, "probe"); err == nil {
		_ = keyring.Delete(serviceName, testKey) // Best-effort cleanup
		return &SecretStore{useKeyring: true, fallbackDir: fallbackDir}
	}
	return &SecretStore{useKeyring: false, fallbackDir: fallbackDir}
}

// key returns the keyring key for a client ID.
func key(clientID string) string {
	return fmt.Sprintf("daemon-console::%s", clientID)
}

// UsingKeyring returns true if the store is using the system keyring.
func (s *SecretStore) UsingKeyring() bool {
	return s.useKeyring
}

// Path is the fallback file.
func (s *SecretStore) Path() string {
	return filepath.Join(s.fallbackDir, "secrets.json")
}

// Load returns the secret stored for clientID, or ErrNotFound.
func (s *SecretStore) Load(clientID string) (string, error) {
	if clientID == "" {
		return "", ErrNotFound
	}
	if s.useKeyring {
		secret, err := keyring.Get(serviceName, key(clientID))
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return secret, err
	}

	all, err := s.loadAll()
	if err != nil {
		return "", err
	}
	secret, ok := all[clientID]
	if !ok {
		return "", ErrNotFound
	}
	return secret, nil
}

// Save stores the secret for clientID.
func (s *SecretStore) Save(clientID, secret string) error {
	if clientID == "" {
		return errors.New("client ID is required to store a secret")
	}
	if s.useKeyring {
		return keyring.Set(serviceName, key(clientID), secret)
	}

	all, err := s.loadAll()
	if err != nil {
		return err
	}
	all[clientID] = secret
	return s.saveAll(all)
}

// Delete removes the secret for clientID. Deleting a missing secret
// returns ErrNotFound.
func (s *SecretStore) Delete(clientID string) error {
	if s.useKeyring {
		err := keyring.Delete(serviceName, key(clientID))
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	all, err := s.loadAll()
	if err != nil {
		return err
	}
	if _, ok := all[clientID]; !ok {
		return ErrNotFound
	}
	delete(all, clientID)
	return s.saveAll(all)
}

func (s *SecretStore) loadAll() (map[string]string, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}

	var all map[string]string
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("invalid secrets file %s: %w", s.Path(), err)
	}
	if all == nil {
		all = make(map[string]string)
	}
	return all, nil
}

func (s *SecretStore) saveAll(all map[string]string) error {
	if err := os.MkdirAll(s.fallbackDir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write with randomized temp file name
	tmpFile, err := os.CreateTemp(s.fallbackDir, "secrets-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	// Windows: rename fails when destination exists.
	destPath := s.Path()
	if err := os.Rename(tmpPath, destPath); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(destPath)
			return os.Rename(tmpPath, destPath)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}
