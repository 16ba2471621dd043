// Package identity persists the stable ids both ends of a session
// carry across restarts. A server's identity is stored under its
// display name; a client stores one identity per server it has
// connected to, keyed by that server's id.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	// ConfigDir is the default base directory name under $HOME
	ConfigDir = ".mudlink"
	// DirEnv overrides the base directory when set
	DirEnv = "MUDLINK_DIR"

	// unnamedKey is the record key for a server started without a name
	unnamedKey = "unnamed"
)

// Identity is one persisted identity record
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Store reads and writes identity records under a base directory
type Store struct {
	base string
}

// DefaultDir returns the identity base directory: $MUDLINK_DIR if
// set, otherwise ~/.mudlink.
func DefaultDir() (string, error) {
	if dir := os.Getenv(DirEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ConfigDir), nil
}

// NewStore creates a store rooted at the given base directory
func NewStore(base string) *Store {
	return &Store{base: base}
}

// LoadOrCreateServer returns the server identity persisted for the
// given display name, minting and persisting a fresh one on first
// start. The same name always yields the same id.
func (s *Store) LoadOrCreateServer(name string) (Identity, error) {
	path := s.serverPath(name)
	id, ok, err := s.load(path)
	if err != nil {
		return Identity{}, err
	}
	if ok {
		return id, nil
	}

	id = Identity{ID: uuid.New().String(), Name: name}
	if err := s.save(path, id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// LoadClient returns the client identity previously issued by the
// server with the given id, if one was saved.
func (s *Store) LoadClient(serverID string) (Identity, bool, error) {
	return s.load(s.clientPath(serverID))
}

// SaveClient persists the client identity issued by the given server
func (s *Store) SaveClient(serverID string, id Identity) error {
	return s.save(s.clientPath(serverID), id)
}

func (s *Store) serverPath(name string) string {
	key := name
	if key == "" {
		key = unnamedKey
	}
	return filepath.Join(s.base, "session", "server", key+".json")
}

func (s *Store) clientPath(serverID string) string {
	return filepath.Join(s.base, "session", "client", serverID+".json")
}

func (s *Store) load(path string) (Identity, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Identity{}, false, nil
		}
		return Identity{}, false, fmt.Errorf("failed to read identity %s: %w", path, err)
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return Identity{}, false, fmt.Errorf("failed to parse identity %s: %w", path, err)
	}
	if id.ID == "" {
		return Identity{}, false, fmt.Errorf("identity %s has no id", path)
	}
	return id, true, nil
}

func (s *Store) save(path string, id Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create identity dir: %w", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write identity %s: %w", path, err)
	}
	return nil
}
