/*
Package types defines the persisted data model shared by the crypto,
blob, metadata-engine, and dispatcher packages.

The filesystem is one tree of Node values: a single SystemRoot, any number
of Drives under it, and Folders and Files nested below those. Every Node
carries the same envelope (ID, ParentID, Kind, timestamps); the fields below
that envelope are meaningful only for the Kind that declares them, so the
metadata engine can marshal and unmarshal any node without a type switch at
the storage boundary.

Creating a file node:

	f := &types.Node{
		ID:             uuid.New().String(),
		ParentID:       folder.ID,
		Kind:           types.KindFile,
		Name:           "report.pdf",
		SizeBytes:      1 << 20,
		ChunkSizeBytes: 5 << 20,
		MimeType:       "application/pdf",
		Encryption: &types.EncryptionInfo{
			WrappedDataKey: wrapped,
			WrapNonce:      nonce,
		},
	}
*/
package types
