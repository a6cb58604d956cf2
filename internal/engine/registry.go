package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ashmitkumar2005/rivault/internal/blob"
	"github.com/ashmitkumar2005/rivault/internal/rvmetrics"
)

// BlobOpener constructs the blob.Store a given user's actor should write
// chunks to. The serve command supplies one backed by config.BlobBackend
// (boltblob or fsblob), rooted under that user's data directory.
type BlobOpener func(userID, dataDir string) (blob.Store, error)

// Registry lazily constructs and caches one UserActor per user, the same
// register-on-first-use idiom as the teacher's metrics.RegisterComponent,
// generalized from "one registration per component" to "one actor per
// user ID seen on an incoming request".
type Registry struct {
	dataDir    string
	openBlob   BlobOpener
	mu         sync.RWMutex
	actors     map[string]*UserActor
}

// NewRegistry returns a Registry rooted at dataDir; each user's files live
// under dataDir/<userID>/.
func NewRegistry(dataDir string, openBlob BlobOpener) *Registry {
	return &Registry{
		dataDir:  dataDir,
		openBlob: openBlob,
		actors:   make(map[string]*UserActor),
	}
}

// Actor returns the UserActor for userID, creating it (and that user's data
// directory and database file) on first use.
func (r *Registry) Actor(userID string) (*UserActor, error) {
	r.mu.RLock()
	a, ok := r.actors[userID]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[userID]; ok {
		return a, nil
	}

	userDir := filepath.Join(r.dataDir, userID)
	if err := os.MkdirAll(userDir, 0o700); err != nil {
		return nil, fmt.Errorf("engine: create data dir for %s: %w", userID, err)
	}
	blobStore, err := r.openBlob(userID, userDir)
	if err != nil {
		return nil, fmt.Errorf("engine: open blob store for %s: %w", userID, err)
	}

	a, err = newUserActor(userID, filepath.Join(userDir, "metadata.db"), blobStore)
	if err != nil {
		blobStore.Close()
		return nil, err
	}

	r.actors[userID] = a
	rvmetrics.ActiveUserActors.Inc()
	return a, nil
}

// Close shuts down every actor the registry has created.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for id, a := range r.actors {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("engine: close actor %s: %w", id, err)
		}
		if err := a.blobStore.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("engine: close blob store %s: %w", id, err)
		}
		rvmetrics.ActiveUserActors.Dec()
	}
	return firstErr
}
