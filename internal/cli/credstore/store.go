// Package credstore persists the current access token and the last-known
// user profile. The two entries are written and removed together; a
// token without a profile (or the reverse) is never reported.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/propertyhub-dev/propertyhub/internal/cli/client"
)

// Entry names as they appear in every backend
const (
	entryToken   = "access-token"
	entryUser    = "user"
	entryRefresh = "refresh-token"
)

var (
	// ErrNotFound is returned by backends for a missing entry
	ErrNotFound = errors.New("credential entry not found")
	// ErrNoSession is returned when a token update has no session to attach to
	ErrNoSession = errors.New("no stored session")
)

// Credentials is what a Store holds for one API endpoint
type Credentials struct {
	Token        string
	User         *client.User
	RefreshToken string
}

// Store defines the credential persistence operations.
// All operations are synchronous and local.
type Store interface {
	// Set overwrites token and user together
	Set(token string, user *client.User) error
	// SetToken replaces only the token of an existing session
	SetToken(token string) error
	// SetRefreshToken records the transport-level refresh credential
	SetRefreshToken(token string) error
	// Get returns nil when no complete session is stored
	Get() (*Credentials, error)
	// Clear removes every entry. Clearing an empty store is not an error.
	Clear() error
}

// backend is a flat key/value space scoped to one endpoint
type backend interface {
	get(name string) (string, error)
	set(name, value string) error
	delete(name string) error
}

// pairStore implements Store over a backend, keeping token and user paired
type pairStore struct {
	mu sync.Mutex
	b  backend
}

func newPairStore(b backend) *pairStore {
	return &pairStore{b: b}
}

func (s *pairStore) Set(token string, user *client.User) error {
	if token == "" || user == nil {
		return fmt.Errorf("refusing to store partial session")
	}

	userData, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevToken, prevTokenErr := s.b.get(entryToken)

	if err := s.b.set(entryToken, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	if err := s.b.set(entryUser, string(userData)); err != nil {
		// Roll back so the token never outlives its profile
		if prevTokenErr == nil {
			_ = s.b.set(entryToken, prevToken)
		} else {
			_ = s.b.delete(entryToken)
		}
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *pairStore) SetToken(token string) error {
	if token == "" {
		return fmt.Errorf("refusing to store empty token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.b.get(entryUser); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNoSession
		}
		return fmt.Errorf("failed to load user: %w", err)
	}
	if err := s.b.set(entryToken, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (s *pairStore) SetRefreshToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token == "" {
		return ignoreNotFound(s.b.delete(entryRefresh))
	}
	if err := s.b.set(entryRefresh, token); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

func (s *pairStore) Get() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, tokenErr := s.b.get(entryToken)
	userData, userErr := s.b.get(entryUser)

	for _, err := range []error{tokenErr, userErr} {
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("failed to load credentials: %w", err)
		}
	}

	if tokenErr != nil && userErr != nil {
		return nil, nil
	}
	if tokenErr != nil || userErr != nil || token == "" {
		// Orphaned half of a pair
		return nil, s.clearLocked()
	}

	var user client.User
	if err := json.Unmarshal([]byte(userData), &user); err != nil {
		return nil, s.clearLocked()
	}

	refresh, err := s.b.get(entryRefresh)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}

	return &Credentials{Token: token, User: &user, RefreshToken: refresh}, nil
}

func (s *pairStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked()
}

func (s *pairStore) clearLocked() error {
	var errs []error
	for _, name := range []string{entryToken, entryUser, entryRefresh} {
		if err := ignoreNotFound(s.b.delete(name)); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Backend names accepted by Open
const (
	BackendKeyring = "keyring"
	BackendFile    = "file"
	BackendMemory  = "memory"
)

// IsBackend reports whether name is a backend Open accepts; "" is not
func IsBackend(name string) bool {
	switch name {
	case BackendKeyring, BackendFile, BackendMemory:
		return true
	}
	return false
}

// Open returns the Store for the named backend, scoped to namespace
func Open(kind, namespace string) (Store, error) {
	switch kind {
	case "", BackendKeyring:
		return NewKeyringStore(namespace), nil
	case BackendFile:
		path, err := DefaultFilePath()
		if err != nil {
			return nil, err
		}
		return NewFileStore(path, namespace), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown credential backend %q (use keyring, file or memory)", kind)
}
