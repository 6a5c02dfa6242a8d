package entropy

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/entropy-org/entropy/pkg/store"
)

// InitVault opens (or creates) the profile's vault. When passphrase is
// empty the configured handler supplies one. Re-initializing an already
// open vault is a no-op.
func (a *App) InitVault(passphrase string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store != nil {
		return nil
	}
	if err := os.MkdirAll(a.dataDir, 0740); err != nil {
		return fmt.Errorf("%w: creating data directory: %v", ErrStorage, err)
	}

	pass := []byte(passphrase)
	if passphrase == "" {
		var err error
		if pass, err = a.passphrase(); err != nil {
			return fmt.Errorf("getting passphrase: %w", err)
		}
	}

	path := a.vaultPath()
	slog.Info("opening vault", slog.String("db_path", path))
	s, err := store.New(pass, path)
	if err != nil {
		return fmt.Errorf("%w: opening vault: %v", ErrStorage, err)
	}
	a.store = s
	return nil
}

// Close releases the vault handle.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}

func (a *App) closeLocked() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// NuclearReset destroys the vault file with a secure wipe and removes the
// profile's entropy_vault_salt secret file. Identity, sessions, and groups
// are gone after this; other secret files written by StoreSecret are left
// in place.
func (a *App) NuclearReset() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.closeLocked(); err != nil {
		slog.Warn("closing vault before reset", slog.Any("error", err))
	}
	slog.Info("nuclear reset", slog.String("db_path", a.vaultPath()))
	if err := store.Nuke(a.vaultPath()); err != nil {
		return fmt.Errorf("%w: wiping vault: %v", ErrStorage, err)
	}
	_ = os.Remove(a.secretPath("entropy_vault_salt"))
	return nil
}

// ExportVault returns a consistent byte-exact snapshot of the vault file.
func (a *App) ExportVault() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store != nil {
		data, err := a.store.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("%w: snapshotting vault: %v", ErrStorage, err)
		}
		return data, nil
	}
	data, err := os.ReadFile(a.vaultPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: vault does not exist", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: reading vault: %v", ErrStorage, err)
	}
	return data, nil
}

// ImportVault replaces the vault file wholesale. The in-memory handle is
// released first; the caller re-runs InitVault afterwards.
func (a *App) ImportVault(data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.closeLocked(); err != nil {
		return fmt.Errorf("%w: closing vault: %v", ErrStorage, err)
	}
	if err := os.MkdirAll(a.dataDir, 0740); err != nil {
		return fmt.Errorf("%w: creating data directory: %v", ErrStorage, err)
	}
	if err := os.WriteFile(a.vaultPath(), data, 0600); err != nil {
		return fmt.Errorf("%w: writing vault: %v", ErrStorage, err)
	}
	return nil
}

// VaultSave stores an arbitrary client value in the key/value table.
func (a *App) VaultSave(key, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return ErrNotInitialized
	}
	return a.store.Command(func(c store.Command) error {
		return c.Put(store.VaultBucket, []byte(key), []byte(value))
	})
}

// VaultLoad reads a key/value entry. Missing keys return
// store.ErrMissingItem, which Classify tags NotFound.
func (a *App) VaultLoad(key string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return "", ErrNotInitialized
	}
	var value []byte
	err := a.store.Query(func(q store.Query) error {
		var err error
		value, err = q.Get(store.VaultBucket, []byte(key))
		return err
	})
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// DumpVault exports every key/value entry, for host-level backup flows.
func (a *App) DumpVault() (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, ErrNotInitialized
	}
	data := make(map[string]string)
	err := a.store.Query(func(q store.Query) error {
		for k, v := range q.Iterate(store.VaultBucket) {
			data[string(k)] = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// RestoreVault writes back entries produced by DumpVault.
func (a *App) RestoreVault(data map[string]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return ErrNotInitialized
	}
	return a.store.Command(func(c store.Command) error {
		for k, v := range data {
			if err := c.Put(store.VaultBucket, []byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearVault drops every entry in the key/value table, leaving the other
// tables intact.
func (a *App) ClearVault() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return ErrNotInitialized
	}
	return a.store.Command(func(c store.Command) error {
		return c.Clear(store.VaultBucket)
	})
}

// StoreSecret writes a named secret as a per-profile file in the app data
// directory.
func (a *App) StoreSecret(key, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.MkdirAll(a.dataDir, 0740); err != nil {
		return fmt.Errorf("%w: creating data directory: %v", ErrStorage, err)
	}
	if err := os.WriteFile(a.secretPath(key), []byte(value), 0600); err != nil {
		return fmt.Errorf("%w: writing secret: %v", ErrStorage, err)
	}
	return nil
}

// GetSecret reads a named secret file.
func (a *App) GetSecret(key string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, err := os.ReadFile(a.secretPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: secret %q", ErrNotFound, key)
		}
		return "", fmt.Errorf("%w: reading secret: %v", ErrStorage, err)
	}
	return string(data), nil
}
