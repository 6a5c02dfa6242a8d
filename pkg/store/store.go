// Package store is the encrypted vault: a bbolt database whose buckets
// model the protocol's tables. Values are sealed with a data key that is
// wrapped by a passphrase-derived key, so the file is opaque at rest.
package store

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/entropy-org/entropy/internal/enigma"
)

// Bucket names. VaultBucket is the generic key/value table holding the
// identity and sessions; the rest mirror the original schema.
var (
	AuthBucket      = []byte("auth")
	VaultBucket     = []byte("vault")
	PendingBucket   = []byte("pending_messages")
	GroupsBucket    = []byte("groups")
	MessagesBucket  = []byte("messages")
	PeerIndexBucket = []byte("messages_peer_idx")
	BlobsBucket     = []byte("blobs")
)

const (
	kek = "key-encryption-key"
	dek = "data-encryption-key"
	dpk = "derived-passphrase-key"

	wrappedSaltKey = "wrapped-salt"
	wrappedKey     = "wrapped-key"
	deriveSaltKey  = "derive-salt"
	secretSaltKey  = "secret-salt"
)

var (
	ErrMissingBucket    = errors.New("bucket not found")
	ErrMissingItem      = errors.New("item not found")
	ErrFailedDecryption = errors.New("decryption failed")
)

type Store struct {
	db     *bolt.DB
	cipher *enigma.Enigma
	path   string
}

// New opens (or creates) the vault at path, unlocking the data key with
// the given passphrase.
func New(passphrase []byte, path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{
			AuthBucket, VaultBucket, PendingBucket, GroupsBucket,
			MessagesBucket, PeerIndexBucket, BlobsBucket,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("creating %s bucket: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	cipher, err := open(passphrase, db)
	if errors.Is(err, ErrMissingItem) {
		cipher, err = create(passphrase, db)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cipher: %w", err)
	}

	return &Store{db: db, cipher: cipher, path: path}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file backing this store.
func (s *Store) Path() string {
	return s.path
}

// open unwraps the data key with the passphrase-derived key.
func open(pass []byte, db *bolt.DB) (*enigma.Enigma, error) {
	var secretSalt, deriveSalt, wrappedSalt, wrapped []byte
	err := db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(AuthBucket)
		wrapped = bucket.Get([]byte(wrappedKey))
		deriveSalt = bucket.Get([]byte(deriveSaltKey))
		wrappedSalt = bucket.Get([]byte(wrappedSaltKey))
		secretSalt = bucket.Get([]byte(secretSaltKey))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get values: %w", err)
	}
	if secretSalt == nil || deriveSalt == nil || wrappedSalt == nil || wrapped == nil {
		return nil, ErrMissingItem
	}

	keyCipher, err := wrapCipher(pass, deriveSalt, wrappedSalt)
	if err != nil {
		return nil, err
	}
	secret, err := keyCipher.Decrypt(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap data key", ErrFailedDecryption)
	}
	return dataCipher(secret, secretSalt)
}

// create generates a fresh data key and stores it wrapped.
func create(pass []byte, db *bolt.DB) (*enigma.Enigma, error) {
	secret, secretSalt := random32(), random32()
	deriveSalt, wrappedSalt := random32(), random32()

	keyCipher, err := wrapCipher(pass, deriveSalt, wrappedSalt)
	if err != nil {
		return nil, err
	}
	wrapped := keyCipher.Encrypt(secret)

	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(AuthBucket)
		for key, value := range map[string][]byte{
			wrappedKey:     wrapped,
			wrappedSaltKey: wrappedSalt,
			deriveSaltKey:  deriveSalt,
			secretSaltKey:  secretSalt,
		} {
			if err := bucket.Put([]byte(key), value); err != nil {
				return fmt.Errorf("put %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update db: %w", err)
	}

	return dataCipher(secret, secretSalt)
}

func wrapCipher(pass, deriveSalt, wrappedSalt []byte) (*enigma.Enigma, error) {
	derivedPass, err := enigma.Derive(pass, deriveSalt, []byte(dpk), enigma.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive from pass: %w", err)
	}
	key, err := enigma.Derive(derivedPass, wrappedSalt, []byte(kek), enigma.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive kek: %w", err)
	}
	return enigma.NewEnigma(key)
}

func dataCipher(secret, secretSalt []byte) (*enigma.Enigma, error) {
	key, err := enigma.Derive(secret, secretSalt, []byte(dek), enigma.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive dek: %w", err)
	}
	return enigma.NewEnigma(key)
}

func random32() []byte {
	src := make([]byte, 32)
	rand.Read(src)
	return src
}

// Snapshot writes a consistent copy of the whole database, suitable for
// byte-exact export while the store stays open.
func (s *Store) Snapshot() ([]byte, error) {
	var buf bytes.Buffer
	err := s.db.View(func(tx *bolt.Tx) error {
		_, err := tx.WriteTo(&buf)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Query runs fn inside a read-only transaction.
func (s *Store) Query(fn func(q Query) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(Query{tx: tx, store: s})
	})
}

// Command runs fn inside a writable transaction.
func (s *Store) Command(fn func(c Command) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(Command{tx: tx, store: s})
	})
}
