// Package entropy implements the cryptographic core of the Entropy
// messenger: hybrid X3DH+PQ session establishment, a Double Ratchet with
// header encryption, sender-key groups, sealed sender, media encryption,
// and the encrypted vault everything persists into.
//
// The App type is the command surface a host binds to. It owns the single
// vault handle behind one mutex; every command except the proof-of-work
// miner runs to completion while holding it, and sessions are values
// loaded and stored per operation.
package entropy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/term"

	"github.com/entropy-org/entropy/pkg/store"
)

const (
	identityVaultKey = "protocol_identity"
	sessionKeyPrefix = "session_"
	vaultFileName    = "vault.db"
)

type PassphraseHandler func() ([]byte, error)

func defaultPassphraseHandler() ([]byte, error) {
	// Prefer environment variable to avoid stdin prompts in GUI/daemon
	// contexts.
	if envPass := os.Getenv("ENTROPY_DB_PASSPHRASE"); envPass != "" {
		return []byte(envPass), nil
	}

	fmt.Println("Enter passphrase:")
	pass, err := term.ReadPassword(0)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(pass), nil
}

// App is the process-wide command surface over one vault.
type App struct {
	mu         sync.Mutex
	store      *store.Store
	dataDir    string
	profile    string
	passphrase PassphraseHandler
}

// New builds an App. The vault is not opened until InitVault.
func New(opts ...Option) (*App, error) {
	a := &App{
		profile:    os.Getenv("ENTROPY_PROFILE"),
		passphrase: defaultPassphraseHandler,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.dataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("getting user's config directory: %w", err)
		}
		a.dataDir = filepath.Join(base, "entropy")
	}

	return a, nil
}

// vaultPath is the profile-selected database file.
func (a *App) vaultPath() string {
	if a.profile == "" {
		return filepath.Join(a.dataDir, vaultFileName)
	}
	return filepath.Join(a.dataDir, "vault_"+a.profile+".db")
}

// secretPath is the profile-selected file for one named secret.
func (a *App) secretPath(key string) string {
	if a.profile == "" {
		return filepath.Join(a.dataDir, key+".secret")
	}
	return filepath.Join(a.dataDir, key+"_"+a.profile+".secret")
}

type Option func(*App)

func WithDataDir(dir string) Option {
	return func(a *App) { a.dataDir = dir }
}

func WithProfile(profile string) Option {
	return func(a *App) { a.profile = profile }
}

func WithPassphraseHandler(fn PassphraseHandler) Option {
	return func(a *App) { a.passphrase = fn }
}

func WithNoPassphrase() Option {
	return func(a *App) {
		a.passphrase = func() ([]byte, error) { return []byte(""), nil }
	}
}
