package rvcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DataKeySize is the size in bytes of a per-file data key and of a
	// derived master key: both are AES-256 keys.
	DataKeySize = 32
	// SaltSize is the size in bytes of a PBKDF2 salt.
	SaltSize = 16
	// NonceSize is the AES-GCM nonce (IV) size used throughout this package.
	NonceSize = 12
	// TagSize is the AES-GCM authentication tag size.
	TagSize = 16
	// DefaultPBKDF2Iterations is used when a caller does not override it.
	DefaultPBKDF2Iterations = 100_000
)

// ErrAuthentication is returned when a ciphertext fails GCM authentication —
// either it was tampered with or the wrong key was used. Deliberately
// indistinguishable from any other decryption failure: a caller must not be
// able to use the error to probe for which byte was modified.
var ErrAuthentication = errors.New("rvcrypto: authentication failed")

// GenerateSalt returns n fresh random bytes, suitable as a PBKDF2 salt.
func GenerateSalt(n int) ([]byte, error) {
	salt := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("rvcrypto: generate salt: %w", err)
	}
	return salt, nil
}

// DeriveMasterKey derives a 32-byte AES-256 key from a user's password and
// a salt using PBKDF2-HMAC-SHA256 (the CLI's upload generates a fresh salt
// per file and stores it in that file's EncryptionInfo). iterations must match between
// derivations of the same key; callers should persist whatever value they
// used alongside the salt.
func DeriveMasterKey(password string, salt []byte, iterations int) []byte {
	if iterations <= 0 {
		iterations = DefaultPBKDF2Iterations
	}
	return pbkdf2.Key([]byte(password), salt, iterations, DataKeySize, sha256.New)
}

// GenerateDataKey returns a fresh random 256-bit key for encrypting one
// file's chunks.
func GenerateDataKey() ([]byte, error) {
	key := make([]byte, DataKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("rvcrypto: generate data key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("rvcrypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("rvcrypto: new gcm: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext under key with a fresh random nonce, returning the
// nonce and the sealed output (ciphertext with the GCM tag appended).
func Seal(key, plaintext []byte) (nonce, sealed []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("rvcrypto: generate nonce: %w", err)
	}
	sealed = gcm.Seal(nil, nonce, plaintext, nil)
	return nonce, sealed, nil
}

// Open decrypts a value produced by Seal. Any failure, whether from a wrong
// key, a wrong nonce, or a tampered ciphertext, is reported as
// ErrAuthentication.
func Open(key, nonce, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// WrapDataKey seals a file's data key under the user's master key.
func WrapDataKey(masterKey, dataKey []byte) (wrapped, nonce []byte, err error) {
	nonce, wrapped, err = Seal(masterKey, dataKey)
	return wrapped, nonce, err
}

// UnwrapDataKey recovers a file's data key given the user's master key.
func UnwrapDataKey(masterKey, wrapped, nonce []byte) ([]byte, error) {
	return Open(masterKey, nonce, wrapped)
}

// EncodeChunk encrypts one plaintext chunk under dataKey and serializes it
// to the wire layout IV(12) ‖ tag(16) ‖ ciphertext, the format every chunk
// takes over the wire and in blob storage. GCM natively appends the tag
// after the ciphertext; this reorders it to the front so a streaming reader
// can validate the tag before buffering the (potentially large) ciphertext.
func EncodeChunk(dataKey, plaintext []byte) ([]byte, error) {
	nonce, sealed, err := Seal(dataKey, plaintext)
	if err != nil {
		return nil, err
	}
	if len(sealed) < TagSize {
		return nil, fmt.Errorf("rvcrypto: sealed output shorter than tag size")
	}
	ciphertext, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	wire := make([]byte, 0, len(nonce)+len(tag)+len(ciphertext))
	wire = append(wire, nonce...)
	wire = append(wire, tag...)
	wire = append(wire, ciphertext...)
	return wire, nil
}

// DecodeChunk reverses EncodeChunk, verifying the tag as part of opening.
func DecodeChunk(dataKey, wire []byte) ([]byte, error) {
	if len(wire) < NonceSize+TagSize {
		return nil, fmt.Errorf("rvcrypto: chunk shorter than header")
	}
	nonce := wire[:NonceSize]
	tag := wire[NonceSize : NonceSize+TagSize]
	ciphertext := wire[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	return Open(dataKey, nonce, sealed)
}

// HashLockSecret derives a salted digest of a lock code for storage, so the
// metadata engine never holds a cleartext credential. salt is generated by
// the caller on first lock and reused on every verify.
func HashLockSecret(secret string, salt []byte) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(secret))
	return h.Sum(nil)
}

// VerifyLockSecret reports whether secret hashes to the same digest as hash
// under salt, in constant time.
func VerifyLockSecret(secret string, salt, hash []byte) bool {
	got := HashLockSecret(secret, salt)
	return subtle.ConstantTimeCompare(got, hash) == 1
}
