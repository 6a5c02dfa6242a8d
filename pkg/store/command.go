package store

import (
	bolt "go.etcd.io/bbolt"
)

type Command struct {
	tx    *bolt.Tx
	store *Store
}

// PutPlain stores value as-is.
func (c Command) PutPlain(bucket, key, value []byte) error {
	b := c.tx.Bucket(bucket)
	if b == nil {
		return ErrMissingBucket
	}
	return b.Put(key, value)
}

// Put stores value sealed with the vault data key.
func (c Command) Put(bucket, key, value []byte) error {
	return c.PutPlain(bucket, key, c.store.cipher.Encrypt(value))
}

// Delete removes a key. Missing keys are not an error.
func (c Command) Delete(bucket, key []byte) error {
	b := c.tx.Bucket(bucket)
	if b == nil {
		return ErrMissingBucket
	}
	return b.Delete(key)
}

// Clear drops every entry in a bucket.
func (c Command) Clear(bucket []byte) error {
	b := c.tx.Bucket(bucket)
	if b == nil {
		return ErrMissingBucket
	}
	cur := b.Cursor()
	for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
		if err := cur.Delete(); err != nil {
			return err
		}
	}
	return nil
}
