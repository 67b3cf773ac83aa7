package credstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/propertyhub-dev/propertyhub/internal/cli/client"
)

var testUser = &client.User{ID: "1", Name: "Ann", Email: "a@b.com", Role: "user"}

var errWriteFailed = errors.New("write failed")

// failingBackend wraps a memory backend and rejects writes to one entry
type failingBackend struct {
	*memoryBackend
	failOn string
}

func (f *failingBackend) set(name, value string) error {
	if name == f.failOn {
		return errWriteFailed
	}
	return f.memoryBackend.set(name, value)
}

// storeFactories runs the shared contract against every backend
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	keyring.MockInit()

	dir := t.TempDir()
	return map[string]func() Store{
		"memory":  NewMemoryStore,
		"keyring": func() Store { return NewKeyringStore(t.Name()) },
		"file":    func() Store { return NewFileStore(filepath.Join(dir, "credentials.json"), "https://api.example.com") },
	}
}

func TestStore_Contract(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()

			creds, err := s.Get()
			require.NoError(t, err)
			require.Nil(t, creds, "fresh store is empty")

			require.NoError(t, s.Set("T1", testUser))
			creds, err = s.Get()
			require.NoError(t, err)
			require.Equal(t, "T1", creds.Token)
			require.Equal(t, testUser, creds.User)

			require.NoError(t, s.SetToken("T2"))
			creds, err = s.Get()
			require.NoError(t, err)
			require.Equal(t, "T2", creds.Token)
			require.Equal(t, "user", creds.User.Role, "user untouched by token update")

			require.NoError(t, s.SetRefreshToken("R1"))
			creds, _ = s.Get()
			require.Equal(t, "R1", creds.RefreshToken)

			require.NoError(t, s.Clear())
			creds, err = s.Get()
			require.NoError(t, err)
			require.Nil(t, creds)

			require.NoError(t, s.Clear(), "clear is idempotent")
		})
	}
}

func TestStore_SetTokenWithoutSession(t *testing.T) {
	s := NewMemoryStore()
	require.ErrorIs(t, s.SetToken("T1"), ErrNoSession)

	creds, err := s.Get()
	require.NoError(t, err)
	require.Nil(t, creds)
}

func TestStore_RejectsPartialSet(t *testing.T) {
	s := NewMemoryStore()
	require.Error(t, s.Set("", testUser))
	require.Error(t, s.Set("T1", nil))
}

func TestStore_RollbackOnUserWriteFailure(t *testing.T) {
	b := &failingBackend{memoryBackend: &memoryBackend{entries: make(map[string]string)}}
	s := newPairStore(b)

	require.NoError(t, s.Set("T1", testUser))

	b.failOn = entryUser
	require.ErrorIs(t, s.Set("T2", &client.User{ID: "2", Role: "admin"}), errWriteFailed)

	creds, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, "T1", creds.Token, "token rolled back to its previous value")
	require.Equal(t, "1", creds.User.ID)
}

func TestStore_OrphanTokenIsCleared(t *testing.T) {
	b := &memoryBackend{entries: map[string]string{entryToken: "T1"}}
	s := newPairStore(b)

	creds, err := s.Get()
	require.NoError(t, err)
	require.Nil(t, creds)
	require.Empty(t, b.entries)
}

func TestStore_CorruptProfileIsCleared(t *testing.T) {
	b := &memoryBackend{entries: map[string]string{entryToken: "T1", entryUser: "{not json"}}
	s := newPairStore(b)

	creds, err := s.Get()
	require.NoError(t, err)
	require.Nil(t, creds)
	require.Empty(t, b.entries)
}

func TestFileStore_NamespacesAndPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")

	a := NewFileStore(path, "https://a.example")
	b := NewFileStore(path, "https://b.example")

	require.NoError(t, a.Set("TA", testUser))
	require.NoError(t, b.Set("TB", testUser))
	require.NoError(t, a.Clear())

	creds, err := b.Get()
	require.NoError(t, err)
	require.Equal(t, "TB", creds.Token)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestOpen(t *testing.T) {
	s, err := Open(BackendMemory, "x")
	require.NoError(t, err)
	require.NotNil(t, s)

	_, err = Open("vault", "x")
	require.Error(t, err)

	require.True(t, IsBackend(BackendFile))
	require.False(t, IsBackend("vault"))
	require.False(t, IsBackend(""))
}
