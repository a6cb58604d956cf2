package rvcrypto_test

import (
	"testing"

	"github.com/ashmitkumar2005/rivault/internal/rvcrypto"
	"github.com/stretchr/testify/require"
)

func TestDeriveMasterKeyDeterministic(t *testing.T) {
	salt, err := rvcrypto.GenerateSalt(rvcrypto.SaltSize)
	require.NoError(t, err)

	k1 := rvcrypto.DeriveMasterKey("hunter2", salt, 1000)
	k2 := rvcrypto.DeriveMasterKey("hunter2", salt, 1000)
	require.Equal(t, k1, k2)
	require.Len(t, k1, rvcrypto.DataKeySize)

	k3 := rvcrypto.DeriveMasterKey("different", salt, 1000)
	require.NotEqual(t, k1, k3)
}

func TestWrapUnwrapDataKeyRoundTrip(t *testing.T) {
	salt, err := rvcrypto.GenerateSalt(rvcrypto.SaltSize)
	require.NoError(t, err)
	master := rvcrypto.DeriveMasterKey("correct horse battery staple", salt, 1000)

	dataKey, err := rvcrypto.GenerateDataKey()
	require.NoError(t, err)

	wrapped, nonce, err := rvcrypto.WrapDataKey(master, dataKey)
	require.NoError(t, err)

	unwrapped, err := rvcrypto.UnwrapDataKey(master, wrapped, nonce)
	require.NoError(t, err)
	require.Equal(t, dataKey, unwrapped)
}

func TestUnwrapDataKeyWrongMasterKeyFails(t *testing.T) {
	salt, _ := rvcrypto.GenerateSalt(rvcrypto.SaltSize)
	master := rvcrypto.DeriveMasterKey("pw1", salt, 1000)
	other := rvcrypto.DeriveMasterKey("pw2", salt, 1000)

	dataKey, _ := rvcrypto.GenerateDataKey()
	wrapped, nonce, err := rvcrypto.WrapDataKey(master, dataKey)
	require.NoError(t, err)

	_, err = rvcrypto.UnwrapDataKey(other, wrapped, nonce)
	require.ErrorIs(t, err, rvcrypto.ErrAuthentication)
}

func TestEncodeDecodeChunkRoundTrip(t *testing.T) {
	dataKey, err := rvcrypto.GenerateDataKey()
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	wire, err := rvcrypto.EncodeChunk(dataKey, plaintext)
	require.NoError(t, err)
	require.Len(t, wire, rvcrypto.NonceSize+rvcrypto.TagSize+len(plaintext))

	got, err := rvcrypto.DecodeChunk(dataKey, wire)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecodeChunkDetectsTamper(t *testing.T) {
	dataKey, err := rvcrypto.GenerateDataKey()
	require.NoError(t, err)

	wire, err := rvcrypto.EncodeChunk(dataKey, []byte("payload"))
	require.NoError(t, err)

	wire[len(wire)-1] ^= 0xFF // flip a ciphertext byte

	_, err = rvcrypto.DecodeChunk(dataKey, wire)
	require.ErrorIs(t, err, rvcrypto.ErrAuthentication)
}

func TestLockSecretHashVerify(t *testing.T) {
	salt, err := rvcrypto.GenerateSalt(rvcrypto.SaltSize)
	require.NoError(t, err)

	hash := rvcrypto.HashLockSecret("s3cret", salt)
	require.True(t, rvcrypto.VerifyLockSecret("s3cret", salt, hash))
	require.False(t, rvcrypto.VerifyLockSecret("wrong", salt, hash))
}
