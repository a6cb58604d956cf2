// Package boltblob implements blob.Store on top of bbolt, sharing the
// teacher's bucket-per-kind layout: one "chunks" bucket, key = content hash,
// value = raw ciphertext bytes. Grounded on pkg/storage/boltdb.go's
// db.Update/db.View + tx.Bucket(...).Put/Get/Delete idiom.
package boltblob

import (
	"context"
	"fmt"

	"github.com/ashmitkumar2005/rivault/internal/blob"
	bolt "go.etcd.io/bbolt"
)

var bucketChunks = []byte("chunks")

// Store is a bbolt-backed blob.Store.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) a bbolt database at path and ensures the
// chunks bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltblob: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketChunks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltblob: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(_ context.Context, data []byte) (string, error) {
	if len(data) > blob.MaxChunkBytes {
		return "", &blob.Error{Op: "put", Err: blob.ErrTooLarge}
	}
	ref := blob.RefFor(data)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		// Content-addressed: if it's already there, the bytes are
		// identical, so an overwrite is a no-op other than disk churn.
		return b.Put([]byte(ref), data)
	})
	if err != nil {
		return "", &blob.Error{Op: "put", Ref: ref, Err: err}
	}
	return ref, nil
}

func (s *Store) Get(_ context.Context, ref string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		v := b.Get([]byte(ref))
		if v == nil {
			return blob.ErrNotFound
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, &blob.Error{Op: "get", Ref: ref, Err: err}
	}
	return data, nil
}

func (s *Store) Delete(_ context.Context, ref string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChunks).Delete([]byte(ref))
	})
	if err != nil {
		return &blob.Error{Op: "delete", Ref: ref, Err: err}
	}
	return nil
}

// Keys returns every ref currently stored, for SweepOrphans.
func (s *Store) Keys() ([]string, error) {
	var refs []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChunks).ForEach(func(k, _ []byte) error {
			refs = append(refs, string(k))
			return nil
		})
	})
	return refs, err
}

func (s *Store) Close() error { return s.db.Close() }
