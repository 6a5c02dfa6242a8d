package store

import (
	"fmt"
	"iter"
	"log/slog"

	bolt "go.etcd.io/bbolt"
)

type Query struct {
	tx    *bolt.Tx
	store *Store
}

// GetPlain returns the raw stored value.
func (q Query) GetPlain(bucket, key []byte) ([]byte, error) {
	b := q.tx.Bucket(bucket)
	if b == nil {
		return nil, ErrMissingBucket
	}
	value := b.Get(key)
	if value == nil {
		return nil, ErrMissingItem
	}
	// Return a copy to avoid accidental mutation of the underlying data.
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Get returns a value sealed with the vault data key.
func (q Query) Get(bucket, key []byte) ([]byte, error) {
	value, err := q.GetPlain(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := q.store.cipher.Decrypt(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedDecryption, err)
	}
	return data, nil
}

// IteratePlain walks a bucket yielding raw values.
func (q Query) IteratePlain(bucket []byte) iter.Seq2[[]byte, []byte] {
	b := q.tx.Bucket(bucket)
	return func(yield func(k, v []byte) bool) {
		if b == nil {
			return
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			kc := make([]byte, len(k))
			copy(kc, k)
			vc := make([]byte, len(v))
			copy(vc, v)
			if !yield(kc, vc) {
				return
			}
		}
	}
}

// Iterate walks a bucket yielding decrypted values. Entries that fail to
// decrypt are logged and skipped.
func (q Query) Iterate(bucket []byte) iter.Seq2[[]byte, []byte] {
	plain := q.IteratePlain(bucket)
	return func(yield func(k, v []byte) bool) {
		plain(func(k, v []byte) bool {
			data, err := q.store.cipher.Decrypt(v)
			if err != nil {
				slog.Warn(
					"decrypting value",
					slog.String("bucket", string(bucket)),
					slog.Any("error", err),
				)
				return true
			}
			return yield(k, data)
		})
	}
}
