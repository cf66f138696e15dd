package client

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoToken signals an unauthenticated client. Session methods treat it as
// "logged out", not as a failure.
var ErrNoToken = errors.New("no access token stored")

// TokenStore persists the bearer token between runs.
type TokenStore interface {
	Token() (string, error)
	Save(token string) error
	Clear() error
}

const tokenFileName = "fareshare_token"

// FileTokenStore keeps the token in a single file under the user's config
// directory, mirroring how the web client uses one fixed localStorage key.
type FileTokenStore struct {
	path string
	mu   sync.Mutex
}

func NewFileTokenStore() (*FileTokenStore, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	dir = filepath.Join(dir, "fareshare")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileTokenStore{path: filepath.Join(dir, tokenFileName)}, nil
}

// NewFileTokenStoreAt uses an explicit file path. Tests point it at a temp dir.
func NewFileTokenStoreAt(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (s *FileTokenStore) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", err
	}
	if len(b) == 0 {
		return "", ErrNoToken
	}
	return string(b), nil
}

func (s *FileTokenStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(s.path, []byte(token), 0o600)
}

func (s *FileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MemoryTokenStore holds the token for the process lifetime only.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

func (s *MemoryTokenStore) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

func (s *MemoryTokenStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}
