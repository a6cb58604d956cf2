/*
Package rvcrypto implements Rivault's client-side envelope encryption: the
server never sees a password, a master key, a data key, or plaintext bytes.

A master key is derived from the user's password and a salt with PBKDF2-
HMAC-SHA256 (DeriveMasterKey); the CLI uses a fresh salt, and so a distinct
master key, for each uploaded file. Every file gets its own random 256-bit data key
(GenerateDataKey), which is what actually encrypts the file's chunks; the
data key itself is wrapped under the master key (WrapDataKey/UnwrapDataKey)
and stored alongside the file's metadata. Losing a single file's data key
exposes only that file; rotating the password only requires re-wrapping data
keys, never re-encrypting file contents.

Chunk ciphertext travels as IV ‖ authentication tag ‖ ciphertext
(EncodeChunk/DecodeChunk), a flat layout chosen so the blob store never has
to parse anything — it just moves opaque bytes.
*/
package rvcrypto
