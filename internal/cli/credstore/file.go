package credstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	configDirName       = "propertyhub"
	credentialsFileName = "credentials.json"
)

// fileBackend keeps entries in a 0600 JSON file shared by all endpoints:
// {"<namespace>": {"access-token": "...", "user": "..."}}
type fileBackend struct {
	path      string
	namespace string
}

// fileLocks serialises read-modify-write cycles per file within the process
var fileLocks sync.Map

// DefaultFilePath returns ~/.config/propertyhub/credentials.json
func DefaultFilePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", configDirName, credentialsFileName), nil
}

// NewFileStore returns a Store persisted at path, scoped to namespace
func NewFileStore(path, namespace string) Store {
	return newPairStore(&fileBackend{path: path, namespace: namespace})
}

func (f *fileBackend) lock() func() {
	v, _ := fileLocks.LoadOrStore(f.path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (f *fileBackend) load() (map[string]map[string]string, error) {
	all := make(map[string]map[string]string)

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return all, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return all, nil
}

func (f *fileBackend) save(all map[string]map[string]string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod credentials file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *fileBackend) get(name string) (string, error) {
	unlock := f.lock()
	defer unlock()

	all, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := all[f.namespace][name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *fileBackend) set(name, value string) error {
	unlock := f.lock()
	defer unlock()

	all, err := f.load()
	if err != nil {
		return err
	}
	if all[f.namespace] == nil {
		all[f.namespace] = make(map[string]string)
	}
	all[f.namespace][name] = value
	return f.save(all)
}

func (f *fileBackend) delete(name string) error {
	unlock := f.lock()
	defer unlock()

	all, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := all[f.namespace][name]; !ok {
		return ErrNotFound
	}
	delete(all[f.namespace], name)
	if len(all[f.namespace]) == 0 {
		delete(all, f.namespace)
	}
	return f.save(all)
}
