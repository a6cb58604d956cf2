// Package fsblob implements blob.Store as a sharded content-addressed
// directory tree, standing in for an external object storage service so the
// dispatcher can be exercised against a real out-of-process backend without
// pulling in a cloud SDK the rest of the retrieved pack never exercises.
package fsblob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ashmitkumar2005/rivault/internal/blob"
)

// Store is a filesystem-backed blob.Store rooted at Dir.
type Store struct {
	dir string
}

// Open ensures dir exists and returns a Store rooted there.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("fsblob: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// path shards by the first two hex characters of the ref to keep any single
// directory from accumulating an unbounded number of entries.
func (s *Store) path(ref string) string {
	if len(ref) < 2 {
		return filepath.Join(s.dir, ref)
	}
	return filepath.Join(s.dir, ref[:2], ref)
}

func (s *Store) Put(_ context.Context, data []byte) (string, error) {
	if len(data) > blob.MaxChunkBytes {
		return "", &blob.Error{Op: "put", Err: blob.ErrTooLarge}
	}
	ref := blob.RefFor(data)
	p := s.path(ref)
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return "", &blob.Error{Op: "put", Ref: ref, Err: err}
	}
	if _, err := os.Stat(p); err == nil {
		// Already stored under this content hash.
		return ref, nil
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", &blob.Error{Op: "put", Ref: ref, Err: err}
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return "", &blob.Error{Op: "put", Ref: ref, Err: err}
	}
	return ref, nil
}

func (s *Store) Get(_ context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(s.path(ref))
	if os.IsNotExist(err) {
		return nil, &blob.Error{Op: "get", Ref: ref, Err: blob.ErrNotFound}
	}
	if err != nil {
		return nil, &blob.Error{Op: "get", Ref: ref, Err: err}
	}
	return data, nil
}

func (s *Store) Delete(_ context.Context, ref string) error {
	err := os.Remove(s.path(ref))
	if err != nil && !os.IsNotExist(err) {
		return &blob.Error{Op: "delete", Ref: ref, Err: err}
	}
	return nil
}

// Keys walks the store and returns every ref present, for SweepOrphans.
func (s *Store) Keys() ([]string, error) {
	var refs []string
	err := filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		refs = append(refs, filepath.Base(path))
		return nil
	})
	return refs, err
}

func (s *Store) Close() error { return nil }
