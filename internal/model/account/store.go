package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyUsername is returned when an account file maps an empty username.
var ErrEmptyUsername = errors.New("account file contains an empty username")

// Store exposes account lookups for the authentication gate.
type Store interface {
	Lookup(username string) (Account, bool)
}

// MemoryStore implements Store with an immutable in-memory map.
type MemoryStore struct {
	items map[string]Account
}

// NewMemoryStore returns a MemoryStore holding a copy of secrets.
func NewMemoryStore(secrets map[string]string) *MemoryStore {
	items := make(map[string]Account, len(secrets))
	for username, secret := range secrets {
		items[username] = Account{Username: username, Secret: secret}
	}
	return &MemoryStore{items: items}
}

// LoadFile reads a username → secret document. JSON is the default format;
// files ending in .yaml or .yml are parsed as YAML.
func LoadFile(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	secrets := make(map[string]string)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &secrets)
	default:
		err = json.Unmarshal(data, &secrets)
	}
	if err != nil {
		return nil, fmt.Errorf("parse accounts file %s: %w", path, err)
	}

	for username := range secrets {
		if strings.TrimSpace(username) == "" {
			return nil, ErrEmptyUsername
		}
	}

	return NewMemoryStore(secrets), nil
}

// Lookup returns the account for username. The second result is false for
// unknown users, which therefore never match any submitted password.
func (s *MemoryStore) Lookup(username string) (Account, bool) {
	acct, ok := s.items[username]
	return acct, ok
}

// Usernames returns the configured usernames in sorted order.
func (s *MemoryStore) Usernames() []string {
	names := make([]string, 0, len(s.items))
	for name := range s.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
