package credstore

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	service = "propertyhub-cli"
)

// keyringBackend keeps entries in the OS keychain/credential manager
type keyringBackend struct {
	namespace string
}

// NewKeyringStore returns a Store backed by the OS keychain, scoped to namespace
// (normally the API base URL)
func NewKeyringStore(namespace string) Store {
	return newPairStore(&keyringBackend{namespace: namespace})
}

// key returns a unique keyring key per endpoint and entry
func (k *keyringBackend) key(name string) string {
	return fmt.Sprintf("%s-%s", name, k.namespace)
}

func (k *keyringBackend) get(name string) (string, error) {
	value, err := keyring.Get(service, k.key(name))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (k *keyringBackend) set(name, value string) error {
	return keyring.Set(service, k.key(name), value)
}

func (k *keyringBackend) delete(name string) error {
	if err := keyring.Delete(service, k.key(name)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}
