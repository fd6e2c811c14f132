package chunk

import (
	"bytes"
	"fmt"

	"github.com/pierrec/lz4/v4"

	zcrypto "github.com/symmetree-labs/zerostash-sub000/crypto"
	"github.com/symmetree-labs/zerostash-sub000/object"
)

// Backend is the minimal surface a chunk Writer needs to persist sealed
// objects; it is satisfied by backend.Backend.
type Backend interface {
	Write(id object.ID, data []byte) error
}

// Writer compresses, convergently encrypts, and packs plaintext chunks
// into fixed-size objects, rolling to a fresh object and flushing the
// sealed predecessor to a Backend whenever the current one fills up.
//
// Grounded on infinitree/src/object/writer.rs: a Writer owns exactly one
// "parked" object at a time and transparently reseals+stores+replaces it
// when a chunk no longer fits.
type Writer struct {
	backend  Backend
	chunkKey [zcrypto.KeySize]byte

	current *object.Writer
}

// NewWriter starts a Writer against backend, using chunkKey to derive
// each chunk's convergent encryption key.
func NewWriter(backend Backend, chunkKey [zcrypto.KeySize]byte) (*Writer, error) {
	id, err := object.NewID()
	if err != nil {
		return nil, fmt.Errorf("allocating initial chunk object: %w", err)
	}
	return &Writer{
		backend:  backend,
		chunkKey: chunkKey,
		current:  object.NewWriter(id),
	}, nil
}

// WriteChunk compresses and convergently encrypts data, packs it into
// the writer's current object (rolling to a new one first if it
// wouldn't fit), and returns the Pointer needed to retrieve it later.
//
// WriteChunk does not itself deduplicate: calling it twice with
// identical data produces two ciphertexts stored at two locations
// (byte-identical only when both land in the same object, since the
// chunk nonce is derived from the object id). Callers wanting dedup (e.g. repository.Repository)
// must track seen content hashes themselves and skip the call, keeping
// only the Pointer from the first write — that's what convergent
// encryption exists to make safe to do lazily.
func (w *Writer) WriteChunk(data []byte) (Pointer, error) {
	hash := zcrypto.SecureHash(data)

	var compressed bytes.Buffer
	zw := lz4.NewWriter(&compressed)
	if _, err := zw.Write(data); err != nil {
		return Pointer{}, fmt.Errorf("compressing chunk: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Pointer{}, fmt.Errorf("closing lz4 frame: %w", err)
	}

	key := zcrypto.ChunkCryptoKey(w.chunkKey, hash)
	encryptedLen := compressed.Len() + zcrypto.TagSize

	if encryptedLen > w.current.Remaining() {
		if err := w.rotate(); err != nil {
			return Pointer{}, err
		}
	}
	if encryptedLen > object.PayloadSize {
		return Pointer{}, fmt.Errorf("%w: chunk of %d bytes (payload capacity %d)", ErrChunkTooLarge, encryptedLen, object.PayloadSize)
	}

	objNonce := zcrypto.ObjectNonce(w.current.ID())
	chunkNonce := zcrypto.ChunkNonce(objNonce, uint32(compressed.Len()))

	sealed, err := zcrypto.Seal(key, chunkNonce, compressed.Bytes(), hash[:])
	if err != nil {
		return Pointer{}, fmt.Errorf("sealing chunk: %w", err)
	}

	ciphertext := sealed[:len(sealed)-zcrypto.TagSize]
	var tag [zcrypto.TagSize]byte
	copy(tag[:], sealed[len(sealed)-zcrypto.TagSize:])

	offset, err := w.current.Append(ciphertext)
	if err != nil {
		return Pointer{}, fmt.Errorf("packing chunk into object: %w", err)
	}

	return Pointer{
		ObjectID:     w.current.ID(),
		Offset:       uint32(offset),
		EncryptedLen: uint32(len(ciphertext)),
		ContentHash:  hash,
		Tag:          tag,
	}, nil
}

// rotate seals and stores the current object, replacing it with a fresh
// one.
func (w *Writer) rotate() error {
	sealed, err := w.current.Seal(w.chunkKey)
	if err != nil {
		return fmt.Errorf("sealing full chunk object: %w", err)
	}
	if err := w.backend.Write(w.current.ID(), sealed); err != nil {
		return fmt.Errorf("storing chunk object: %w", err)
	}

	id, err := object.NewID()
	if err != nil {
		return fmt.Errorf("allocating next chunk object: %w", err)
	}
	w.current = object.NewWriter(id)
	return nil
}

// Flush seals and stores whatever is in the current object, even if not
// full, and starts a fresh one. Callers must call Flush when done
// writing so the final, possibly-partial object isn't lost.
func (w *Writer) Flush() error {
	return w.rotate()
}

// ErrChunkTooLarge is returned when a chunk's compressed, encrypted form
// cannot fit in any object, even an otherwise-empty one.
var ErrChunkTooLarge = fmt.Errorf("chunk too large to fit in an object")
