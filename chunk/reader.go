package chunk

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	zcrypto "github.com/symmetree-labs/zerostash-sub000/crypto"
	"github.com/symmetree-labs/zerostash-sub000/object"
)

// ObjectSource fetches a raw sealed object buffer by id; satisfied by
// backend.Backend's Read method.
type ObjectSource interface {
	Read(id object.ID) ([]byte, error)
}

// Reader resolves Pointers back into plaintext chunk data.
type Reader struct {
	source   ObjectSource
	chunkKey [zcrypto.KeySize]byte

	// cache avoids re-opening the same object for consecutive pointers
	// that share it, which is the common case when reading a file back
	// sequentially.
	cachedID  object.ID
	cachedObj *object.Reader
}

// NewReader builds a Reader against source, using chunkKey to recover
// each chunk's convergent encryption key.
func NewReader(source ObjectSource, chunkKey [zcrypto.KeySize]byte) *Reader {
	return &Reader{source: source, chunkKey: chunkKey}
}

// ReadChunk fetches, decrypts, decompresses, and verifies the content
// hash of the chunk named by p.
func (r *Reader) ReadChunk(p Pointer) ([]byte, error) {
	obj, err := r.object(p.ObjectID)
	if err != nil {
		return nil, err
	}

	ciphertext, err := obj.Slice(p.Offset, p.EncryptedLen)
	if err != nil {
		return nil, fmt.Errorf("slicing chunk payload: %w", err)
	}

	sealed := make([]byte, 0, len(ciphertext)+zcrypto.TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, p.Tag[:]...)

	key := zcrypto.ChunkCryptoKey(r.chunkKey, p.ContentHash)
	objNonce := zcrypto.ObjectNonce(p.ObjectID)
	chunkNonce := zcrypto.ChunkNonce(objNonce, p.EncryptedLen)

	compressed, err := zcrypto.Open(key, chunkNonce, sealed, p.ContentHash[:])
	if err != nil {
		return nil, fmt.Errorf("opening chunk at object %s offset %d: %w", p.ObjectID, p.Offset, err)
	}

	zr := lz4.NewReader(bytes.NewReader(compressed))
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompressing chunk: %w", err)
	}

	got := zcrypto.SecureHash(data)
	if got != p.ContentHash {
		return nil, fmt.Errorf("chunk content hash mismatch at object %s offset %d: data corrupted or pointer wrong", p.ObjectID, p.Offset)
	}

	return data, nil
}

func (r *Reader) object(id object.ID) (*object.Reader, error) {
	if r.cachedObj != nil && r.cachedID == id {
		return r.cachedObj, nil
	}

	raw, err := r.source.Read(id)
	if err != nil {
		return nil, fmt.Errorf("fetching object %s: %w", id, err)
	}
	obj, err := object.Open(id, raw, r.chunkKey)
	if err != nil {
		return nil, fmt.Errorf("opening object %s: %w", id, err)
	}

	r.cachedID, r.cachedObj = id, obj
	return obj, nil
}
