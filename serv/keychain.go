package serv

import (
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

// KeyringService is the keychain namespace for stored credentials.
const KeyringService = "sqlconsole"

// Keychain stores SQL login passwords in the OS credential store.
type Keychain struct {
	mu   sync.RWMutex
	ring keyring.Keyring
}

// OpenKeychain opens the OS keychain (macOS Keychain, Windows Credential
// Manager, Secret Service or pass).
func OpenKeychain() (*Keychain, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:   KeyringService,
		PassPrefix:    KeyringService,
		WinCredPrefix: KeyringService,
	})
	if err != nil {
		return nil, fmt.Errorf("open keychain: %w", err)
	}
	return NewKeychain(ring), nil
}

// NewKeychain wraps an already opened keyring.
func NewKeychain(ring keyring.Keyring) *Keychain {
	return &Keychain{ring: ring}
}

func passwordKey(user string) string {
	return "sql/" + user
}

// SetPassword stores the password for a SQL login.
func (k *Keychain) SetPassword(user, password string) error {
	if user == "" {
		return errors.New("user is required")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	return k.ring.Set(keyring.Item{
		Key:         passwordKey(user),
		Data:        []byte(password),
		Label:       KeyringService + " " + user,
		Description: "SQL Server login password",
	})
}

// Password returns the stored password for a SQL login.
func (k *Keychain) Password(user string) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	it, err := k.ring.Get(passwordKey(user))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("no password stored for '%s', run: sqlconsole creds set %s", user, user)
	}
	if err != nil {
		return "", err
	}
	return string(it.Data), nil
}

// DeletePassword removes the stored password for a SQL login.
func (k *Keychain) DeletePassword(user string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	err := k.ring.Remove(passwordKey(user))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}
