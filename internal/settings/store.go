// Package settings is the configuration collaborator: it persists the
// credential, the API secret and a handful of feature flags. The auth core
// never touches the underlying storage format directly.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Well-known setting keys.
const (
	KeyLogin      = "credentials.login"
	KeySalt       = "credentials.salt"
	KeyHash       = "credentials.hash"
	KeyAPISecret  = "api.secret"
	KeyAPIEnabled = "api.enabled"
	KeyTimezone   = "general.timezone"
	KeyTitle      = "general.title"
)

// ErrUnauthorized is returned when writing an already-provisioned settings
// file without authentication.
var ErrUnauthorized = errors.New("settings write requires authentication")

// Store is the interface the auth core consumes.
type Store interface {
	// Get returns the value for key, or def when absent.
	Get(key, def string) string
	// GetBool returns the boolean value for key, or def when absent.
	GetBool(key string, def bool) bool
	// Set stages a value. It does not persist until Write is called.
	Set(key string, value any)
	// Write persists staged values. Once a credential exists, writing
	// requires an authenticated caller.
	Write(authenticated bool) error
	// IsConfigured reports whether a credential has been provisioned.
	IsConfigured() bool
}

// FileStore persists settings as a JSON document on disk.
type FileStore struct {
	path string

	mu     sync.RWMutex
	values map[string]any
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (or prepares to create) the settings file at path.
// A missing file is not an error: the system is simply unconfigured.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		values: make(map[string]any),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	return s, nil
}

// Get returns the string value for key, or def when absent or not a string.
func (s *FileStore) Get(key, def string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.values[key].(string); ok {
		return v
	}
	return def
}

// GetBool returns the boolean value for key, or def when absent.
func (s *FileStore) GetBool(key string, def bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.values[key].(bool); ok {
		return v
	}
	return def
}

// Set stages a value for the next Write.
func (s *FileStore) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
}

// IsConfigured reports whether a credential has been provisioned.
func (s *FileStore) IsConfigured() bool {
	return s.Get(KeyLogin, "") != ""
}

// Write persists the staged values to disk atomically. Writing an
// already-provisioned store requires authentication.
func (s *FileStore) Write(authenticated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Unauthenticated writes are only allowed before the credential exists
	// (the first-run install). Check the on-disk state, not the staged one,
	// so the install itself can stage the credential it is creating.
	if !authenticated && s.persistedCredentialExists() {
		return ErrUnauthorized
	}

	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}

	return nil
}

// persistedCredentialExists checks the file on disk for a credential.
// Callers must hold s.mu.
func (s *FileStore) persistedCredentialExists() bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	var persisted map[string]any
	if err := json.Unmarshal(data, &persisted); err != nil {
		return false
	}
	login, _ := persisted[KeyLogin].(string)
	return login != ""
}
