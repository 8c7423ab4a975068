package viewer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SessionStore persists viewer state as a yaml file.
type SessionStore struct {
	path string
}

// NewSessionStore creates a store backed by path.
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// Load reads the saved state. A missing file yields DefaultState.
func (s *SessionStore) Load() (State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultState(), nil
	}
	if err != nil {
		return DefaultState(), fmt.Errorf("read session file: %w", err)
	}

	state := DefaultState()
	if err := yaml.Unmarshal(data, &state); err != nil {
		return DefaultState(), fmt.Errorf("parse session file: %w", err)
	}
	return state.normalize(), nil
}

// Save writes state atomically.
func (s *SessionStore) Save(state State) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}
