package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Nuke destroys the database file beyond recovery: three passes of random
// bytes, truncation, a rename to a random name, then removal. The store
// must be closed first.
func Nuke(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat: %w", err)
	}
	size := info.Size()

	file, err := os.OpenFile(path, os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open for overwrite: %w", err)
	}
	for pass := 0; pass < 3; pass++ {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return fmt.Errorf("seek: %w", err)
		}
		if _, err := io.CopyN(file, rand.Reader, size); err != nil {
			file.Close()
			return fmt.Errorf("overwrite pass %d: %w", pass+1, err)
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return fmt.Errorf("sync pass %d: %w", pass+1, err)
		}
	}
	if err := file.Truncate(0); err != nil {
		file.Close()
		return fmt.Errorf("truncate: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	scrambled := make([]byte, 16)
	rand.Read(scrambled)
	newPath := filepath.Join(filepath.Dir(path), hex.EncodeToString(scrambled))
	if err := os.Rename(path, newPath); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	if err := os.Remove(newPath); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}
