package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashmitkumar2005/rivault/internal/blob"
	"github.com/ashmitkumar2005/rivault/internal/rvcrypto"
	"github.com/ashmitkumar2005/rivault/internal/rvmetrics"
	"github.com/ashmitkumar2005/rivault/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// --- low-level bucket helpers, always called from inside an actor's do() ---

func getNodeTx(b *bolt.Bucket, id string) (*types.Node, error) {
	v := b.Get(nodeKey(id))
	if v == nil {
		return nil, newErr(KindNotFound, "get_node", fmt.Errorf("node %s", id))
	}
	var n types.Node
	if err := json.Unmarshal(v, &n); err != nil {
		return nil, newErr(KindInternal, "get_node", err)
	}
	return &n, nil
}

func putNodeTx(b *bolt.Bucket, n *types.Node) error {
	data, err := json.Marshal(n)
	if err != nil {
		return newErr(KindInternal, "put_node", err)
	}
	if err := b.Put(nodeKey(n.ID), data); err != nil {
		return newErr(KindInternal, "put_node", err)
	}
	return nil
}

func getChildrenTx(b *bolt.Bucket, parentID string) ([]string, error) {
	v := b.Get(childrenKey(parentID))
	if v == nil {
		return []string{}, nil
	}
	var ids []string
	if err := json.Unmarshal(v, &ids); err != nil {
		return nil, newErr(KindInternal, "get_children", err)
	}
	return ids, nil
}

func putChildrenTx(b *bolt.Bucket, parentID string, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return newErr(KindInternal, "put_children", err)
	}
	return b.Put(childrenKey(parentID), data)
}

func addChildTx(b *bolt.Bucket, parentID, childID string) error {
	ids, err := getChildrenTx(b, parentID)
	if err != nil {
		return err
	}
	ids = append(ids, childID)
	return putChildrenTx(b, parentID, ids)
}

func removeChildTx(b *bolt.Bucket, parentID, childID string) error {
	ids, err := getChildrenTx(b, parentID)
	if err != nil {
		return err
	}
	out := ids[:0]
	for _, id := range ids {
		if id != childID {
			out = append(out, id)
		}
	}
	return putChildrenTx(b, parentID, out)
}

// siblingNameTaken reports whether parentID already has a child named name.
func siblingNameTaken(b *bolt.Bucket, parentID, name string, excludeID string) (bool, error) {
	ids, err := getChildrenTx(b, parentID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == excludeID {
			continue
		}
		child, err := getNodeTx(b, id)
		if err != nil {
			continue
		}
		if child.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// nearestDrive walks up from id looking for the first Drive ancestor
// (id itself included), returning nil if the tree up to the root never
// passes through one — only the system root's direct Drive children are
// quota-bound.
func nearestDrive(b *bolt.Bucket, id string) (*types.Node, error) {
	cur := id
	for cur != "" {
		n, err := getNodeTx(b, cur)
		if err != nil {
			return nil, err
		}
		if n.Kind == types.KindDrive {
			return n, nil
		}
		if n.Kind == types.KindSystemRoot {
			return nil, nil
		}
		cur = n.ParentID
	}
	return nil, nil
}

// isDescendant reports whether candidateID is id itself or appears
// somewhere below id in the tree, walking down via the children index.
// Used to reject a move that would create a cycle.
func isDescendant(b *bolt.Bucket, id, candidateID string) (bool, error) {
	if id == candidateID {
		return true, nil
	}
	children, err := getChildrenTx(b, id)
	if err != nil {
		return false, err
	}
	for _, c := range children {
		found, err := isDescendant(b, c, candidateID)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// subtreeSizeTx sums SizeBytes over every File descendant of id (id itself
// included), without mutating anything — used by Move to rebalance drive
// usage accounting before relocating a subtree.
func subtreeSizeTx(b *bolt.Bucket, id string) (int64, error) {
	n, err := getNodeTx(b, id)
	if err != nil {
		return 0, err
	}
	total := int64(0)
	if n.Kind == types.KindFile {
		total = n.SizeBytes
	}
	children, err := getChildrenTx(b, id)
	if err != nil {
		return 0, err
	}
	for _, c := range children {
		s, err := subtreeSizeTx(b, c)
		if err != nil {
			return 0, err
		}
		total += s
	}
	return total, nil
}

func getStatsTx(b *bolt.Bucket) (*types.Stats, error) {
	v := b.Get([]byte(keyStats))
	s := &types.Stats{}
	if v == nil {
		return s, nil
	}
	if err := json.Unmarshal(v, s); err != nil {
		return nil, newErr(KindInternal, "get_stats", err)
	}
	return s, nil
}

func putStatsTx(b *bolt.Bucket, s *types.Stats) error {
	data, err := json.Marshal(s)
	if err != nil {
		return newErr(KindInternal, "put_stats", err)
	}
	return b.Put([]byte(keyStats), data)
}

// --- exported operations, each serialized through the actor ---

// RootID returns this user's system root node ID, the entry point for
// listing their drives.
func (a *UserActor) RootID() (string, error) {
	var id string
	err := a.do(func() error {
		return a.db.View(func(tx *bolt.Tx) error {
			v := tx.Bucket(bucketMeta).Get([]byte(keyRoot))
			if v == nil {
				return newErr(KindInternal, "root_id", fmt.Errorf("root pointer missing"))
			}
			id = string(v)
			return nil
		})
	})
	return id, err
}

// GetNode returns a single node by ID.
func (a *UserActor) GetNode(id string) (*types.Node, error) {
	var out *types.Node
	err := a.do(func() error {
		return a.db.View(func(tx *bolt.Tx) error {
			n, err := getNodeTx(tx.Bucket(bucketMeta), id)
			if err != nil {
				return err
			}
			out = n.Clone()
			return nil
		})
	})
	return out, err
}

// GetFile returns a File node with its Chunks field populated from the
// chunk:{file_id}:{order} keyspace, for callers (the dispatcher's file
// metadata and download handlers) that need to know chunk boundaries.
func (a *UserActor) GetFile(id string) (*types.Node, error) {
	var out *types.Node
	err := a.do(func() error {
		return a.db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketMeta)
			n, err := getNodeTx(b, id)
			if err != nil {
				return err
			}
			if n.Kind != types.KindFile {
				return newErr(KindInvalidTarget, "get_file", fmt.Errorf("%s is not a file", id))
			}
			c := b.Cursor()
			prefix := chunkKeyPrefix(id)
			var chunks []types.ChunkRef
			for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
				var ref types.ChunkRef
				if err := json.Unmarshal(v, &ref); err == nil {
					chunks = append(chunks, ref)
				}
			}
			sortChunks(chunks)
			n.Chunks = chunks
			out = n.Clone()
			return nil
		})
	})
	return out, err
}

func sortChunks(chunks []types.ChunkRef) {
	for i := 1; i < len(chunks); i++ {
		for j := i; j > 0 && chunks[j].Order < chunks[j-1].Order; j-- {
			chunks[j], chunks[j-1] = chunks[j-1], chunks[j]
		}
	}
}

// ListChildren returns every direct child of parentID, in the order each was
// added under parentID (created there or moved there).
func (a *UserActor) ListChildren(parentID string) ([]*types.Node, error) {
	var out []*types.Node
	err := a.do(func() error {
		return a.db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketMeta)
			if _, err := getNodeTx(b, parentID); err != nil {
				return err
			}
			ids, err := getChildrenTx(b, parentID)
			if err != nil {
				return err
			}
			for _, id := range ids {
				n, err := getNodeTx(b, id)
				if err != nil {
					return err
				}
				out = append(out, n.Clone())
			}
			return nil
		})
	})
	return out, err
}

// CreateDrive creates a new Drive directly under the system root.
func (a *UserActor) CreateDrive(name string, quotaBytes int64) (*types.Node, error) {
	var out *types.Node
	err := a.do(func() error {
		return a.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketMeta)
			rootV := b.Get([]byte(keyRoot))
			if rootV == nil {
				return newErr(KindInternal, "create_drive", fmt.Errorf("root missing"))
			}
			root := string(rootV)
			taken, err := siblingNameTaken(b, root, name, "")
			if err != nil {
				return err
			}
			if taken {
				return newErr(KindNameConflict, "create_drive", fmt.Errorf("drive %q exists", name))
			}
			now := time.Now().UTC()
			drive := &types.Node{
				ID:         uuid.New().String(),
				ParentID:   root,
				Kind:       types.KindDrive,
				Name:       name,
				QuotaBytes: quotaBytes,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := putNodeTx(b, drive); err != nil {
				return err
			}
			if err := putChildrenTx(b, drive.ID, []string{}); err != nil {
				return err
			}
			if err := addChildTx(b, root, drive.ID); err != nil {
				return err
			}
			stats, err := getStatsTx(b)
			if err != nil {
				return err
			}
			stats.DriveCount++
			if err := putStatsTx(b, stats); err != nil {
				return err
			}
			out = drive.Clone()
			return nil
		})
	})
	return out, err
}

// CreateFolder creates a new Folder under parentID, which must be a
// container (Drive, Folder, or the system root).
func (a *UserActor) CreateFolder(parentID, name string) (*types.Node, error) {
	var out *types.Node
	err := a.do(func() error {
		return a.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketMeta)
			parent, err := getNodeTx(b, parentID)
			if err != nil {
				return err
			}
			if !parent.Kind.IsContainer() {
				return newErr(KindInvalidTarget, "create_folder", fmt.Errorf("%s cannot hold children", parent.Kind))
			}
			if parent.Locked {
				return newErr(KindForbidden, "create_folder", fmt.Errorf("parent is locked"))
			}
			taken, err := siblingNameTaken(b, parentID, name, "")
			if err != nil {
				return err
			}
			if taken {
				return newErr(KindNameConflict, "create_folder", fmt.Errorf("folder %q exists", name))
			}
			now := time.Now().UTC()
			folder := &types.Node{
				ID:        uuid.New().String(),
				ParentID:  parentID,
				Kind:      types.KindFolder,
				Name:      name,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := putNodeTx(b, folder); err != nil {
				return err
			}
			if err := putChildrenTx(b, folder.ID, []string{}); err != nil {
				return err
			}
			if err := addChildTx(b, parentID, folder.ID); err != nil {
				return err
			}
			stats, err := getStatsTx(b)
			if err != nil {
				return err
			}
			stats.FolderCount++
			if err := putStatsTx(b, stats); err != nil {
				return err
			}
			out = folder.Clone()
			return nil
		})
	})
	if err == nil {
		rvmetrics.FolderCount.Inc()
	}
	return out, err
}

// CreateFile creates a new File node under parentID. sizeBytes is the
// client-declared plaintext size, checked against the nearest ancestor
// Drive's remaining quota before the node is written. If a File sibling with
// the same name already exists it is overwritten in place (same ID, its old
// chunks deleted here, stats and drive usage adjusted by the size delta)
// rather than rejected, matching a cloud drive's usual "upload replaces"
// behavior; a same-name sibling that is not a File is a name conflict.
func (a *UserActor) CreateFile(parentID, name string, sizeBytes, chunkSizeBytes int64, mimeType string, enc *types.EncryptionInfo) (*types.Node, error) {
	var out *types.Node
	var bytesDelta int64
	var newFile bool
	err := a.do(func() error {
		return a.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketMeta)
			parent, err := getNodeTx(b, parentID)
			if err != nil {
				return err
			}
			if !parent.Kind.IsContainer() {
				return newErr(KindInvalidTarget, "create_file", fmt.Errorf("%s cannot hold children", parent.Kind))
			}
			if parent.Locked {
				return newErr(KindForbidden, "create_file", fmt.Errorf("parent is locked"))
			}

			drive, err := nearestDrive(b, parentID)
			if err != nil {
				return err
			}
			if drive != nil && drive.QuotaBytes > 0 && drive.UsageBytes+sizeBytes > drive.QuotaBytes {
				return newErr(KindQuotaExceeded, "create_file", fmt.Errorf("drive %s quota exceeded", drive.ID))
			}

			ids, err := getChildrenTx(b, parentID)
			if err != nil {
				return err
			}
			var existingID string
			for _, id := range ids {
				child, err := getNodeTx(b, id)
				if err != nil {
					continue
				}
				if child.Name == name {
					if child.Kind != types.KindFile {
						return newErr(KindNameConflict, "create_file", fmt.Errorf("%q exists", name))
					}
					existingID = id
					break
				}
			}

			now := time.Now().UTC()
			file := &types.Node{
				ID:             uuid.New().String(),
				ParentID:       parentID,
				Kind:           types.KindFile,
				Name:           name,
				SizeBytes:      sizeBytes,
				ChunkSizeBytes: chunkSizeBytes,
				MimeType:       mimeType,
				Encryption:     enc,
				CreatedAt:      now,
				UpdatedAt:      now,
			}

			if existingID != "" {
				old, err := getNodeTx(b, existingID)
				if err != nil {
					return err
				}
				if old.Locked {
					return newErr(KindForbidden, "create_file", fmt.Errorf("existing file %s is locked", existingID))
				}
				if err := deleteChunksTx(b, a.blobStore, existingID); err != nil {
					return err
				}
				file.ID = existingID
				if err := putNodeTx(b, file); err != nil {
					return err
				}
				if drive != nil {
					drive.UsageBytes += sizeBytes - old.SizeBytes
					if err := putNodeTx(b, drive); err != nil {
						return err
					}
				}
				bytesDelta = sizeBytes - old.SizeBytes
				stats, err := getStatsTx(b)
				if err != nil {
					return err
				}
				stats.TotalUsedBytes += bytesDelta
				if err := putStatsTx(b, stats); err != nil {
					return err
				}
				out = file.Clone()
				return nil
			}

			if err := putNodeTx(b, file); err != nil {
				return err
			}
			if err := addChildTx(b, parentID, file.ID); err != nil {
				return err
			}
			if drive != nil {
				drive.UsageBytes += sizeBytes
				if err := putNodeTx(b, drive); err != nil {
					return err
				}
			}
			stats, err := getStatsTx(b)
			if err != nil {
				return err
			}
			stats.FileCount++
			stats.TotalUsedBytes += sizeBytes
			if err := putStatsTx(b, stats); err != nil {
				return err
			}
			bytesDelta = sizeBytes
			newFile = true
			out = file.Clone()
			return nil
		})
	})
	if err == nil {
		rvmetrics.BytesStored.Add(float64(bytesDelta))
		if newFile {
			rvmetrics.FileCount.Inc()
		}
	}
	return out, err
}

// AppendChunk stores one ciphertext chunk for fileID at the given order.
// A second append at the same order wins over the first: the prior blob
// reference is deleted best-effort once the new one is durable, per
// DESIGN.md's concurrent-append resolution.
func (a *UserActor) AppendChunk(fileID string, order int, ciphertext []byte) (types.ChunkRef, error) {
	var out types.ChunkRef
	err := a.do(func() error {
		ref, err := a.blobStore.Put(context.Background(), ciphertext)
		if err != nil {
			return newErr(KindBlobError, "append_chunk", err)
		}
		var superseded string
		err = a.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketMeta)
			file, err := getNodeTx(b, fileID)
			if err != nil {
				return err
			}
			if file.Kind != types.KindFile {
				return newErr(KindInvalidTarget, "append_chunk", fmt.Errorf("%s is not a file", fileID))
			}
			if file.Locked {
				return newErr(KindForbidden, "append_chunk", fmt.Errorf("file is locked"))
			}

			var previous *types.ChunkRef
			if v := b.Get(chunkKey(fileID, order)); v != nil {
				var prev types.ChunkRef
				if err := json.Unmarshal(v, &prev); err == nil {
					previous = &prev
				}
			}

			newRef := types.ChunkRef{Order: order, BlobRef: ref, CiphertextSize: int64(len(ciphertext))}
			data, err := json.Marshal(newRef)
			if err != nil {
				return newErr(KindInternal, "append_chunk", err)
			}
			if err := b.Put(chunkKey(fileID, order), data); err != nil {
				return newErr(KindInternal, "append_chunk", err)
			}

			if previous != nil && previous.BlobRef != ref {
				superseded = previous.BlobRef
			}

			out = newRef
			return nil
		})
		if err != nil {
			return err
		}
		if superseded != "" {
			_ = a.blobStore.Delete(context.Background(), superseded) // best-effort
		}
		return nil
	})
	if err == nil {
		rvmetrics.ChunksStoredTotal.Inc()
	}
	return out, err
}

// ReadChunk returns the raw ciphertext stored for the chunk of fileID at the
// given order.
func (a *UserActor) ReadChunk(fileID string, order int) ([]byte, error) {
	var ref types.ChunkRef
	err := a.do(func() error {
		return a.db.View(func(tx *bolt.Tx) error {
			v := tx.Bucket(bucketMeta).Get(chunkKey(fileID, order))
			if v == nil {
				return newErr(KindNotFound, "read_chunk", fmt.Errorf("chunk %s:%d", fileID, order))
			}
			return json.Unmarshal(v, &ref)
		})
	})
	if err != nil {
		return nil, err
	}
	data, err := a.blobStore.Get(context.Background(), ref.BlobRef)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, newErr(KindBlobMissing, "read_chunk", err)
		}
		return nil, newErr(KindBlobError, "read_chunk", err)
	}
	return data, nil
}

// ChunkCount returns how many distinct chunk orders are stored for fileID so
// far. The download handler does not use it; it iterates GetFile's Chunks.
func (a *UserActor) ChunkCount(fileID string) (int, error) {
	count := 0
	err := a.do(func() error {
		return a.db.View(func(tx *bolt.Tx) error {
			c := tx.Bucket(bucketMeta).Cursor()
			prefix := chunkKeyPrefix(fileID)
			for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
				count++
			}
			return nil
		})
	})
	return count, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// deleteChunksTx removes every stored chunk for fileID, best-effort on the
// blob side (a failed blob delete does not fail the metadata transaction —
// the chunk becomes an orphan for SweepOrphans to find later).
func deleteChunksTx(b *bolt.Bucket, store blob.Store, fileID string) error {
	c := b.Cursor()
	prefix := chunkKeyPrefix(fileID)
	var keys [][]byte
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		var ref types.ChunkRef
		if err := json.Unmarshal(v, &ref); err == nil {
			_ = store.Delete(context.Background(), ref.BlobRef)
		}
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return newErr(KindInternal, "delete_chunks", err)
		}
	}
	return nil
}

// Rename changes a node's Name, rejecting a collision with an existing
// sibling.
func (a *UserActor) Rename(id, newName string) (*types.Node, error) {
	var out *types.Node
	err := a.do(func() error {
		return a.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketMeta)
			n, err := getNodeTx(b, id)
			if err != nil {
				return err
			}
			if n.Kind == types.KindSystemRoot {
				return newErr(KindInvalidTarget, "rename", fmt.Errorf("cannot rename the system root"))
			}
			if n.Locked {
				return newErr(KindForbidden, "rename", fmt.Errorf("node is locked"))
			}
			taken, err := siblingNameTaken(b, n.ParentID, newName, id)
			if err != nil {
				return err
			}
			if taken {
				return newErr(KindNameConflict, "rename", fmt.Errorf("%q exists", newName))
			}
			n.Name = newName
			n.UpdatedAt = time.Now().UTC()
			if err := putNodeTx(b, n); err != nil {
				return err
			}
			out = n.Clone()
			return nil
		})
	})
	return out, err
}

// Move relocates id to be a child of newParentID, rejecting moves that
// would create a cycle (moving a node into its own subtree) or that target
// a non-container.
func (a *UserActor) Move(id, newParentID string) (*types.Node, error) {
	var out *types.Node
	err := a.do(func() error {
		return a.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketMeta)
			n, err := getNodeTx(b, id)
			if err != nil {
				return err
			}
			if n.Kind == types.KindSystemRoot {
				return newErr(KindInvalidTarget, "move", fmt.Errorf("cannot move the system root"))
			}
			if n.Locked {
				return newErr(KindForbidden, "move", fmt.Errorf("node is locked"))
			}
			newParent, err := getNodeTx(b, newParentID)
			if err != nil {
				return err
			}
			if !newParent.Kind.IsContainer() {
				return newErr(KindInvalidTarget, "move", fmt.Errorf("%s cannot hold children", newParent.Kind))
			}
			if newParent.Locked {
				return newErr(KindForbidden, "move", fmt.Errorf("destination is locked"))
			}
			if newParentID == n.ParentID {
				out = n.Clone()
				return nil
			}
			cyclic, err := isDescendant(b, id, newParentID)
			if err != nil {
				return err
			}
			if cyclic {
				return newErr(KindCycle, "move", fmt.Errorf("cannot move %s into its own subtree", id))
			}
			taken, err := siblingNameTaken(b, newParentID, n.Name, id)
			if err != nil {
				return err
			}
			if taken {
				return newErr(KindNameConflict, "move", fmt.Errorf("%q exists at destination", n.Name))
			}

			oldParentID := n.ParentID
			size, err := subtreeSizeTx(b, id)
			if err != nil {
				return err
			}
			srcDrive, err := nearestDrive(b, oldParentID)
			if err != nil {
				return err
			}
			dstDrive, err := nearestDrive(b, newParentID)
			if err != nil {
				return err
			}
			sameDrive := srcDrive != nil && dstDrive != nil && srcDrive.ID == dstDrive.ID
			if !sameDrive && dstDrive != nil && dstDrive.QuotaBytes > 0 && dstDrive.UsageBytes+size > dstDrive.QuotaBytes {
				return newErr(KindQuotaExceeded, "move", fmt.Errorf("drive %s quota exceeded", dstDrive.ID))
			}

			if err := removeChildTx(b, oldParentID, id); err != nil {
				return err
			}
			if err := addChildTx(b, newParentID, id); err != nil {
				return err
			}
			n.ParentID = newParentID
			n.UpdatedAt = time.Now().UTC()
			if err := putNodeTx(b, n); err != nil {
				return err
			}

			if !sameDrive {
				if srcDrive != nil {
					srcDrive.UsageBytes -= size
					if err := putNodeTx(b, srcDrive); err != nil {
						return err
					}
				}
				if dstDrive != nil {
					dstDrive.UsageBytes += size
					if err := putNodeTx(b, dstDrive); err != nil {
						return err
					}
				}
			}

			out = n.Clone()
			return nil
		})
	})
	return out, err
}

// Delete removes id and, if it is a container, every descendant
// recursively. It refuses to delete a locked node or a node with a locked
// descendant.
func (a *UserActor) Delete(id string) error {
	var freedOut int64
	var filesOut, foldersOut int
	err := a.do(func() error {
		return a.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketMeta)
			n, err := getNodeTx(b, id)
			if err != nil {
				return err
			}
			if n.Kind == types.KindSystemRoot {
				return newErr(KindInvalidTarget, "delete", fmt.Errorf("cannot delete the system root"))
			}
			if locked, err := anyLockedInSubtree(b, id); err != nil {
				return err
			} else if locked {
				return newErr(KindForbidden, "delete", fmt.Errorf("%s or a descendant is locked", id))
			}

			drive, err := nearestDrive(b, n.ParentID)
			if err != nil {
				return err
			}
			freed, files, folders, err := deleteSubtreeTx(b, a.blobStore, id)
			if err != nil {
				return err
			}
			if err := removeChildTx(b, n.ParentID, id); err != nil {
				return err
			}
			freedOut, filesOut, foldersOut = freed, files, folders
			if n.Kind == types.KindDrive {
				// the drive node itself counted separately from stats.FileCount/FolderCount
				stats, err := getStatsTx(b)
				if err != nil {
					return err
				}
				stats.DriveCount--
				stats.FileCount -= files
				stats.FolderCount -= folders
				stats.TotalUsedBytes -= freed
				return putStatsTx(b, stats)
			}
			if drive != nil {
				drive.UsageBytes -= freed
				if err := putNodeTx(b, drive); err != nil {
					return err
				}
			}
			stats, err := getStatsTx(b)
			if err != nil {
				return err
			}
			stats.FileCount -= files
			stats.FolderCount -= folders
			stats.TotalUsedBytes -= freed
			return putStatsTx(b, stats)
		})
	})
	if err == nil {
		rvmetrics.FileCount.Sub(float64(filesOut))
		rvmetrics.FolderCount.Sub(float64(foldersOut))
		rvmetrics.BytesStored.Sub(float64(freedOut))
	}
	return err
}

func anyLockedInSubtree(b *bolt.Bucket, id string) (bool, error) {
	n, err := getNodeTx(b, id)
	if err != nil {
		return false, err
	}
	if n.Locked {
		return true, nil
	}
	children, err := getChildrenTx(b, id)
	if err != nil {
		return false, err
	}
	for _, c := range children {
		locked, err := anyLockedInSubtree(b, c)
		if err != nil {
			return false, err
		}
		if locked {
			return true, nil
		}
	}
	return false, nil
}

// deleteSubtreeTx deletes id and every descendant's node/children/chunk
// records, returning bytes freed and counts of files and folders removed
// (the node id itself is not counted if it is a Drive or the root — the
// caller accounts for those separately).
func deleteSubtreeTx(b *bolt.Bucket, store blob.Store, id string) (freed int64, files, folders int, err error) {
	n, err := getNodeTx(b, id)
	if err != nil {
		return 0, 0, 0, err
	}
	children, err := getChildrenTx(b, id)
	if err != nil {
		return 0, 0, 0, err
	}
	for _, c := range children {
		f, fi, fo, err := deleteSubtreeTx(b, store, c)
		if err != nil {
			return 0, 0, 0, err
		}
		freed += f
		files += fi
		folders += fo
	}

	switch n.Kind {
	case types.KindFile:
		if err := deleteChunksTx(b, store, id); err != nil {
			return 0, 0, 0, err
		}
		freed += n.SizeBytes
		files++
	case types.KindFolder:
		folders++
	}

	if err := b.Delete(nodeKey(id)); err != nil {
		return 0, 0, 0, newErr(KindInternal, "delete_subtree", err)
	}
	if err := b.Delete(childrenKey(id)); err != nil {
		return 0, 0, 0, newErr(KindInternal, "delete_subtree", err)
	}
	return freed, files, folders, nil
}

// Lock sets a lock secret on a node. secret is hashed before storage.
func (a *UserActor) Lock(id, secret string) error {
	return a.do(func() error {
		return a.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketMeta)
			n, err := getNodeTx(b, id)
			if err != nil {
				return err
			}
			salt, err := rvcrypto.GenerateSalt(rvcrypto.SaltSize)
			if err != nil {
				return newErr(KindInternal, "lock", err)
			}
			n.Locked = true
			n.SecretSalt = salt
			n.SecretHash = rvcrypto.HashLockSecret(secret, salt)
			n.UpdatedAt = time.Now().UTC()
			return putNodeTx(b, n)
		})
	})
}

// Unlock clears a node's lock after verifying secret against the stored
// hash. The override code is not known here: the dispatcher's unlock handler
// checks it with isOverrideCode and calls ForceUnlock instead.
func (a *UserActor) Unlock(id, secret string) error {
	return a.do(func() error {
		return a.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketMeta)
			n, err := getNodeTx(b, id)
			if err != nil {
				return err
			}
			if !n.Locked {
				return nil
			}
			if !rvcrypto.VerifyLockSecret(secret, n.SecretSalt, n.SecretHash) {
				return newErr(KindForbidden, "unlock", fmt.Errorf("wrong secret"))
			}
			n.Locked = false
			n.SecretHash = nil
			n.SecretSalt = nil
			n.UpdatedAt = time.Now().UTC()
			return putNodeTx(b, n)
		})
	})
}

// ForceUnlock clears a node's lock without verifying its secret. Callers
// must independently confirm authorization (the dispatcher only calls this
// after matching the configured override lock code) — the engine itself
// has no notion of an override code.
func (a *UserActor) ForceUnlock(id string) error {
	return a.do(func() error {
		return a.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketMeta)
			n, err := getNodeTx(b, id)
			if err != nil {
				return err
			}
			n.Locked = false
			n.SecretHash = nil
			n.SecretSalt = nil
			n.UpdatedAt = time.Now().UTC()
			return putNodeTx(b, n)
		})
	})
}

// VerifyLock reports whether secret unlocks id, without changing state.
func (a *UserActor) VerifyLock(id, secret string) (bool, error) {
	var ok bool
	err := a.do(func() error {
		return a.db.View(func(tx *bolt.Tx) error {
			n, err := getNodeTx(tx.Bucket(bucketMeta), id)
			if err != nil {
				return err
			}
			if !n.Locked {
				ok = true
				return nil
			}
			ok = rvcrypto.VerifyLockSecret(secret, n.SecretSalt, n.SecretHash)
			return nil
		})
	})
	return ok, err
}

// Stats returns the user's current aggregate usage.
func (a *UserActor) Stats() (*types.Stats, error) {
	var out *types.Stats
	err := a.do(func() error {
		return a.db.View(func(tx *bolt.Tx) error {
			s, err := getStatsTx(tx.Bucket(bucketMeta))
			if err != nil {
				return err
			}
			out = s
			return nil
		})
	})
	return out, err
}

// SweepOrphans deletes every chunk blob not referenced by a live File
// node's chunk keys. It is a best-effort operation, invoked explicitly
// (never automatically — see DESIGN.md open question 3) because it must
// list every blob ref and every chunk key, which is proportional to the
// whole tree rather than to one request.
func (a *UserActor) SweepOrphans(keys func() ([]string, error)) (int, error) {
	referenced := make(map[string]bool)
	err := a.do(func() error {
		return a.db.View(func(tx *bolt.Tx) error {
			c := tx.Bucket(bucketMeta).Cursor()
			prefix := []byte(prefixChunk)
			for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
				var ref types.ChunkRef
				if err := json.Unmarshal(v, &ref); err == nil {
					referenced[ref.BlobRef] = true
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	allRefs, err := keys()
	if err != nil {
		return 0, newErr(KindBlobError, "sweep_orphans", err)
	}

	removed := 0
	for _, ref := range allRefs {
		if referenced[ref] {
			continue
		}
		if err := a.blobStore.Delete(context.Background(), ref); err == nil {
			removed++
		}
	}
	rvmetrics.OrphanedChunksSwept.Add(float64(removed))
	return removed, nil
}
