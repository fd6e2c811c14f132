package crypto

import "encoding/binary"

// ObjectNonce derives the 96-bit nonce used to seal a whole object
// (header and payload) directly from the object's id: the low NonceSize bytes of the
// id, taken verbatim. Object ids are random (or, for the root object,
// derived once from the key schedule), so reusing them as nonces is
// safe as long as no two live objects ever share an id.
func ObjectNonce(objectID [32]byte) [NonceSize]byte {
	var n [NonceSize]byte
	copy(n[:], objectID[:NonceSize])
	return n
}

// ChunkNonce derives a chunk's nonce from its containing object's nonce,
// XORing the chunk's little-endian encrypted length into the first 4
// bytes. Two chunks in the same object with the same encrypted length
// get the same nonce; their (key, nonce) pairs still differ whenever
// their content differs, because each chunk's key comes from
// ChunkCryptoKey over its own content hash.
func ChunkNonce(objectNonce [NonceSize]byte, encryptedLen uint32) [NonceSize]byte {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], encryptedLen)

	n := objectNonce
	for i := 0; i < 4; i++ {
		n[i] ^= lenBytes[i]
	}
	return n
}
