package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Key prefixes and builders for the single "meta" bucket. Grounded on
// cellstate-treedb's prefixed-key-range technique (childPtrKey) rather than
// a bucket per record kind, since one user's tree is small enough that a
// single bucket with ordered keys is simpler to reason about than several.

var bucketMeta = []byte("meta")

const (
	keyRoot          = "root"
	keyStats         = "stats"
	keySystemVersion = "system_version"
	prefixNode       = "node:"
	prefixChildren   = "children:"
	prefixChunk      = "chunk:"
)

func nodeKey(id string) []byte { return []byte(prefixNode + id) }

func childrenKey(parentID string) []byte { return []byte(prefixChildren + parentID) }

func chunkKey(fileID string, order int) []byte {
	return []byte(fmt.Sprintf("%s%s:%08d", prefixChunk, fileID, order))
}

func chunkKeyPrefix(fileID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixChunk, fileID))
}

// chunkOrderFromKey extracts the order suffix from a chunk key produced by
// chunkKey. Nothing in the package calls it at present; SweepOrphans works
// from the BlobRef stored in each chunk record instead.
func chunkOrderFromKey(fileID string, key []byte) (int, bool) {
	prefix := chunkKeyPrefix(fileID)
	if !strings.HasPrefix(string(key), string(prefix)) {
		return 0, false
	}
	n, err := strconv.Atoi(string(key[len(prefix):]))
	if err != nil {
		return 0, false
	}
	return n, true
}
