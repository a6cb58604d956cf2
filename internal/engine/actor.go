package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashmitkumar2005/rivault/internal/blob"
	"github.com/ashmitkumar2005/rivault/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const schemaVersion = 1

// defaultDriveQuotaBytes is the quota given to the default Drive created
// for every fresh user, per spec.md §4.3.
const defaultDriveQuotaBytes = 10 * 1024 * 1024 * 1024

// UserActor owns one user's bbolt database exclusively and serializes every
// call to it through a single goroutine, so the rest of the package never
// has to reason about concurrent writers to the same file.
type UserActor struct {
	userID    string
	db        *bolt.DB
	blobStore blob.Store

	cmdCh chan func()
	done  chan struct{}
}

// newUserActor opens dbPath (creating it if absent), ensures the meta
// bucket and system root exist, and starts the actor's command loop.
func newUserActor(userID, dbPath string, blobStore blob.Store) (*UserActor, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("engine: open db for %s: %w", userID, err)
	}

	a := &UserActor{
		userID:    userID,
		db:        db,
		blobStore: blobStore,
		cmdCh:     make(chan func()),
		done:      make(chan struct{}),
	}

	if err := a.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	go a.run()
	return a, nil
}

func (a *UserActor) run() {
	for {
		select {
		case cmd := <-a.cmdCh:
			cmd()
		case <-a.done:
			return
		}
	}
}

// do runs fn on the actor's single goroutine and waits for it to finish,
// giving every exported operation exclusive access to the database for the
// duration of fn without the caller taking a lock itself.
func (a *UserActor) do(fn func() error) error {
	result := make(chan error, 1)
	select {
	case a.cmdCh <- func() { result <- fn() }:
		return <-result
	case <-a.done:
		return newErr(KindInternal, "do", fmt.Errorf("actor for %s is closed", a.userID))
	}
}

// SerializeBlock runs fn with exclusive access to this user's metadata,
// spanning as many reads and writes as fn needs — the capability spec.md
// names for multi-key critical regions such as move (which must read the
// destination, check for cycles, and write the moved node atomically).
func (a *UserActor) SerializeBlock(fn func() error) error {
	return a.do(fn)
}

// Close stops the actor's goroutine and closes the underlying database.
// Safe to call once; the registry guarantees that.
func (a *UserActor) Close() error {
	close(a.done)
	return a.db.Close()
}

func (a *UserActor) migrate() error {
	return a.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if b.Get([]byte(keyRoot)) != nil {
			return nil
		}

		rootID := uuid.New().String()
		now := time.Now().UTC()
		root, err := json.Marshal(&types.Node{
			ID:        rootID,
			Kind:      types.KindSystemRoot,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		if err := b.Put(nodeKey(rootID), root); err != nil {
			return err
		}
		if err := b.Put([]byte(keyRoot), []byte(rootID)); err != nil {
			return err
		}

		driveID := uuid.New().String()
		drive, err := json.Marshal(&types.Node{
			ID:         driveID,
			ParentID:   rootID,
			Kind:       types.KindDrive,
			Name:       "Local Disk (C:)",
			QuotaBytes: defaultDriveQuotaBytes,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			return err
		}
		if err := b.Put(nodeKey(driveID), drive); err != nil {
			return err
		}
		driveChildren, err := json.Marshal([]string{})
		if err != nil {
			return err
		}
		if err := b.Put(childrenKey(driveID), driveChildren); err != nil {
			return err
		}

		children, err := json.Marshal([]string{driveID})
		if err != nil {
			return err
		}
		if err := b.Put(childrenKey(rootID), children); err != nil {
			return err
		}
		stats, err := json.Marshal(&types.Stats{DriveCount: 1})
		if err != nil {
			return err
		}
		if err := b.Put([]byte(keyStats), stats); err != nil {
			return err
		}
		return b.Put([]byte(keySystemVersion), []byte(fmt.Sprintf("%d", schemaVersion)))
	})
}
