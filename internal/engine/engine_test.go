package engine_test

import (
	"testing"

	"github.com/ashmitkumar2005/rivault/internal/blob"
	"github.com/ashmitkumar2005/rivault/internal/blob/fsblob"
	"github.com/ashmitkumar2005/rivault/internal/engine"
	"github.com/ashmitkumar2005/rivault/pkg/types"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *engine.Registry {
	t.Helper()
	dataDir := t.TempDir()
	return engine.NewRegistry(dataDir, func(userID, userDir string) (blob.Store, error) {
		return fsblob.Open(userDir + "/blobs")
	})
}

func TestCreateFolderAndListChildren(t *testing.T) {
	reg := newRegistry(t)
	a, err := reg.Actor("alice")
	require.NoError(t, err)

	drive, err := a.CreateDrive("personal", 0)
	require.NoError(t, err)

	folder, err := a.CreateFolder(drive.ID, "photos")
	require.NoError(t, err)
	require.Equal(t, "photos", folder.Name)

	children, err := a.ListChildren(drive.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, folder.ID, children[0].ID)
}

func TestCreateFolderNameConflict(t *testing.T) {
	reg := newRegistry(t)
	a, err := reg.Actor("alice")
	require.NoError(t, err)

	drive, err := a.CreateDrive("personal", 0)
	require.NoError(t, err)

	_, err = a.CreateFolder(drive.ID, "photos")
	require.NoError(t, err)
	_, err = a.CreateFolder(drive.ID, "photos")
	require.Error(t, err)
	require.Equal(t, engine.KindNameConflict, engine.KindOf(err))
}

func TestCreateFileQuotaExceeded(t *testing.T) {
	reg := newRegistry(t)
	a, err := reg.Actor("alice")
	require.NoError(t, err)

	drive, err := a.CreateDrive("small", 100)
	require.NoError(t, err)

	_, err = a.CreateFile(drive.ID, "big.bin", 200, 5<<20, "application/octet-stream", nil)
	require.Error(t, err)
	require.Equal(t, engine.KindQuotaExceeded, engine.KindOf(err))
}

func TestAppendChunkAndReadBack(t *testing.T) {
	reg := newRegistry(t)
	a, err := reg.Actor("alice")
	require.NoError(t, err)

	drive, err := a.CreateDrive("personal", 0)
	require.NoError(t, err)
	file, err := a.CreateFile(drive.ID, "note.txt", 5, 5<<20, "text/plain", nil)
	require.NoError(t, err)

	_, err = a.AppendChunk(file.ID, 0, []byte("hello"))
	require.NoError(t, err)

	got, err := a.ReadChunk(file.ID, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	count, err := a.ChunkCount(file.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestAppendChunkDedupesByOrder(t *testing.T) {
	reg := newRegistry(t)
	a, err := reg.Actor("alice")
	require.NoError(t, err)

	drive, _ := a.CreateDrive("personal", 0)
	file, _ := a.CreateFile(drive.ID, "note.txt", 5, 5<<20, "text/plain", nil)

	_, err = a.AppendChunk(file.ID, 0, []byte("first"))
	require.NoError(t, err)
	_, err = a.AppendChunk(file.ID, 0, []byte("secnd"))
	require.NoError(t, err)

	got, err := a.ReadChunk(file.ID, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("secnd"), got)

	count, err := a.ChunkCount(file.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMoveRejectsCycle(t *testing.T) {
	reg := newRegistry(t)
	a, err := reg.Actor("alice")
	require.NoError(t, err)

	drive, _ := a.CreateDrive("personal", 0)
	parent, _ := a.CreateFolder(drive.ID, "parent")
	child, _ := a.CreateFolder(parent.ID, "child")

	_, err = a.Move(parent.ID, child.ID)
	require.Error(t, err)
	require.Equal(t, engine.KindCycle, engine.KindOf(err))
}

func TestMoveRenameRoundTrip(t *testing.T) {
	reg := newRegistry(t)
	a, err := reg.Actor("alice")
	require.NoError(t, err)

	driveA, _ := a.CreateDrive("a", 0)
	driveB, _ := a.CreateDrive("b", 0)
	folder, err := a.CreateFolder(driveA.ID, "stuff")
	require.NoError(t, err)

	moved, err := a.Move(folder.ID, driveB.ID)
	require.NoError(t, err)
	require.Equal(t, driveB.ID, moved.ParentID)

	renamed, err := a.Rename(folder.ID, "renamed")
	require.NoError(t, err)
	require.Equal(t, "renamed", renamed.Name)
}

func TestLockUnlockVerify(t *testing.T) {
	reg := newRegistry(t)
	a, err := reg.Actor("alice")
	require.NoError(t, err)

	drive, _ := a.CreateDrive("personal", 0)
	folder, err := a.CreateFolder(drive.ID, "secret")
	require.NoError(t, err)

	require.NoError(t, a.Lock(folder.ID, "opensesame"))

	ok, err := a.VerifyLock(folder.ID, "wrong")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = a.Rename(folder.ID, "renamed")
	require.Error(t, err)
	require.Equal(t, engine.KindForbidden, engine.KindOf(err))

	err = a.Unlock(folder.ID, "wrong")
	require.Error(t, err)

	require.NoError(t, a.Unlock(folder.ID, "opensesame"))
	_, err = a.Rename(folder.ID, "renamed")
	require.NoError(t, err)
}

func TestDeleteRefusesLockedDescendant(t *testing.T) {
	reg := newRegistry(t)
	a, err := reg.Actor("alice")
	require.NoError(t, err)

	drive, _ := a.CreateDrive("personal", 0)
	folder, _ := a.CreateFolder(drive.ID, "top")
	inner, _ := a.CreateFolder(folder.ID, "inner")
	require.NoError(t, a.Lock(inner.ID, "secret"))

	err = a.Delete(folder.ID)
	require.Error(t, err)
	require.Equal(t, engine.KindForbidden, engine.KindOf(err))
}

func TestDeleteFreesQuotaAndStats(t *testing.T) {
	reg := newRegistry(t)
	a, err := reg.Actor("alice")
	require.NoError(t, err)

	drive, err := a.CreateDrive("personal", 1000)
	require.NoError(t, err)
	file, err := a.CreateFile(drive.ID, "f.bin", 100, 5<<20, "application/octet-stream", nil)
	require.NoError(t, err)

	stats, err := a.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.FileCount)
	require.Equal(t, int64(100), stats.TotalUsedBytes)

	require.NoError(t, a.Delete(file.ID))

	stats, err = a.Stats()
	require.NoError(t, err)
	require.Equal(t, 0, stats.FileCount)
	require.Equal(t, int64(0), stats.TotalUsedBytes)

	drv, err := a.GetNode(drive.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), drv.UsageBytes)
}

func TestFreshUserHasDefaultDrive(t *testing.T) {
	reg := newRegistry(t)
	a, err := reg.Actor("alice")
	require.NoError(t, err)

	rootID, err := a.RootID()
	require.NoError(t, err)
	children, err := a.ListChildren(rootID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, types.KindDrive, children[0].Kind)
	require.Equal(t, "Local Disk (C:)", children[0].Name)
	require.EqualValues(t, 10737418240, children[0].QuotaBytes)
	require.Equal(t, int64(0), children[0].UsageBytes)

	stats, err := a.Stats()
	require.NoError(t, err)
	require.Equal(t, 0, stats.FileCount)
	require.Equal(t, 0, stats.FolderCount)
	require.Equal(t, 1, stats.DriveCount)
}

func TestMoveAcrossDrivesRebalancesUsageAndRejectsOverQuota(t *testing.T) {
	reg := newRegistry(t)
	a, err := reg.Actor("alice")
	require.NoError(t, err)

	src, err := a.CreateDrive("src", 0)
	require.NoError(t, err)
	dst, err := a.CreateDrive("dst", 1000)
	require.NoError(t, err)

	file, err := a.CreateFile(src.ID, "f.bin", 400, 5<<20, "application/octet-stream", nil)
	require.NoError(t, err)

	moved, err := a.Move(file.ID, dst.ID)
	require.NoError(t, err)
	require.Equal(t, dst.ID, moved.ParentID)

	srcAfter, err := a.GetNode(src.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), srcAfter.UsageBytes)

	dstAfter, err := a.GetNode(dst.ID)
	require.NoError(t, err)
	require.Equal(t, int64(400), dstAfter.UsageBytes)

	_, err = a.CreateFile(dst.ID, "g.bin", 550, 5<<20, "application/octet-stream", nil)
	require.NoError(t, err)

	bigFile, err := a.CreateFile(src.ID, "big.bin", 700, 5<<20, "application/octet-stream", nil)
	require.NoError(t, err)

	_, err = a.Move(bigFile.ID, dst.ID)
	require.Error(t, err)
	require.Equal(t, engine.KindQuotaExceeded, engine.KindOf(err))

	dstAfter, err = a.GetNode(dst.ID)
	require.NoError(t, err)
	require.Equal(t, int64(950), dstAfter.UsageBytes)
	srcAfter, err = a.GetNode(src.ID)
	require.NoError(t, err)
	require.Equal(t, int64(700), srcAfter.UsageBytes)
}
