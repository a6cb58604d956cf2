package fsblob_test

import (
	"context"
	"testing"

	"github.com/ashmitkumar2005/rivault/internal/blob"
	"github.com/ashmitkumar2005/rivault/internal/blob/fsblob"
	"github.com/stretchr/testify/require"
)

func TestPutGetDeleteRoundTrip(t *testing.T) {
	store, err := fsblob.Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte("ciphertext chunk"))
	require.NoError(t, err)

	got, err := store.Get(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, []byte("ciphertext chunk"), got)

	require.NoError(t, store.Delete(ctx, ref))

	_, err = store.Get(ctx, ref)
	require.ErrorIs(t, err, blob.ErrNotFound)
}

func TestPutIsContentAddressed(t *testing.T) {
	store, err := fsblob.Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref1, err := store.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	ref2, err := store.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	require.Equal(t, ref1, ref2)
}
