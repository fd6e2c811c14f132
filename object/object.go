// Package object implements the fixed-size encrypted storage unit that
// every chunk and index record is ultimately packed into. It plays the
// same role the teacher's bits.Chunk/ObjectStore pair plays in
// bits/bits.go, generalized from an arbitrary-length git blob chunk to
// a fixed-capacity, header-and-tag-framed block.
package object

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	zcrypto "github.com/symmetree-labs/zerostash-sub000/crypto"
)

const (
	// Size is the total on-disk/on-wire size of every object, header
	// region and tag included.
	Size = 4 * 1024 * 1024

	// HeaderSize is the reserved region at the front of every object.
	// It's zero-filled for plain data objects and holds a MessagePack
	// Header::V1 record for index objects.
	HeaderSize = 512

	// TagSize is the trailing AEAD tag width.
	TagSize = zcrypto.TagSize

	// PayloadSize is the usable space between the header and the tag.
	PayloadSize = Size - HeaderSize - TagSize
)

// ID uniquely names an object. Ids are 32 bytes: the low 12 are reused
// directly as the object's AEAD nonce (see crypto.ObjectNonce), so ids
// must never repeat across an account's lifetime.
type ID [32]byte

// String renders the id as lowercase hex, matching the teacher's
// Repository.Path two-level hex sharding input.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// NewID returns a fresh random object id, sourced from the system
// CSPRNG exactly as the teacher sources chunk keys in bits/bits.go
// callers (crypto/rand, not math/rand).
func NewID() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("generating object id: %w", err)
	}
	return id, nil
}

// Writer assembles one object's worth of plaintext payload and seals it
// into ciphertext ready to hand to a backend. It is not safe for
// concurrent use; chunk.Writer and index.Writer each own exactly one.
type Writer struct {
	id      ID
	payload []byte // PayloadSize, written front-to-back
	used    int
	header  []byte // HeaderSize, zero until WriteHeader
}

// NewWriter allocates a Writer for a fresh object id.
func NewWriter(id ID) *Writer {
	return &Writer{
		id:      id,
		payload: make([]byte, PayloadSize),
		header:  make([]byte, HeaderSize),
	}
}

// ID returns the object id this writer is assembling.
func (w *Writer) ID() ID { return w.id }

// Remaining reports how many payload bytes are still free.
func (w *Writer) Remaining() int {
	return PayloadSize - w.used
}

// Append copies p into the payload at the current write position,
// returning the offset it was written at. It fails if p does not fit in
// the remaining space; callers (chunk.Writer, index.Writer) are
// expected to check Remaining first and roll to a new object otherwise.
func (w *Writer) Append(p []byte) (offset int, err error) {
	if len(p) > w.Remaining() {
		return 0, fmt.Errorf("object %s: append of %d bytes exceeds remaining %d", w.id, len(p), w.Remaining())
	}
	offset = w.used
	copy(w.payload[offset:], p)
	w.used += len(p)
	return offset, nil
}

// WriteHeader installs the (already-serialized) header record for this
// object. It must fit within HeaderSize; the rest is left zero.
func (w *Writer) WriteHeader(h []byte) error {
	if len(h) > HeaderSize {
		return fmt.Errorf("header of %d bytes exceeds %d byte budget", len(h), HeaderSize)
	}
	for i := range w.header {
		w.header[i] = 0
	}
	copy(w.header, h)
	return nil
}

// Seal pads the unused payload tail with CSPRNG bytes (so ciphertext
// length never reveals how much real data an object holds), encrypts
// header+payload under the given key, and appends the AEAD tag,
// producing the final on-disk object buffer.
func (w *Writer) Seal(key [zcrypto.KeySize]byte) ([]byte, error) {
	if err := zcrypto.RandomFill(w.payload[w.used:]); err != nil {
		return nil, fmt.Errorf("padding object %s: %w", w.id, err)
	}

	plain := make([]byte, 0, HeaderSize+PayloadSize)
	plain = append(plain, w.header...)
	plain = append(plain, w.payload...)

	nonce := zcrypto.ObjectNonce(w.id)
	sealed, err := zcrypto.Seal(key, nonce, plain, w.id[:])
	if err != nil {
		return nil, fmt.Errorf("sealing object %s: %w", w.id, err)
	}
	if len(sealed) != Size {
		return nil, fmt.Errorf("sealed object %s has unexpected size %d, want %d", w.id, len(sealed), Size)
	}
	return sealed, nil
}

// Reader exposes the decrypted header and payload of an object fetched
// from a backend.
type Reader struct {
	id      ID
	header  []byte
	payload []byte
}

// Open decrypts a raw on-disk object buffer (as returned by a backend
// Read) under key, verifying its AEAD tag, and splits it into header and
// payload regions.
func Open(id ID, sealed []byte, key [zcrypto.KeySize]byte) (*Reader, error) {
	if len(sealed) != Size {
		return nil, fmt.Errorf("object %s: buffer is %d bytes, want %d", id, len(sealed), Size)
	}

	nonce := zcrypto.ObjectNonce(id)
	plain, err := zcrypto.Open(key, nonce, sealed, id[:])
	if err != nil {
		return nil, fmt.Errorf("opening object %s: %w", id, err)
	}

	return &Reader{
		id:      id,
		header:  plain[:HeaderSize],
		payload: plain[HeaderSize:],
	}, nil
}

// ID returns the object id this reader was opened for.
func (r *Reader) ID() ID { return r.id }

// Header returns the raw 512-byte header region.
func (r *Reader) Header() []byte { return r.header }

// Payload returns the decrypted payload region (PayloadSize bytes,
// including CSPRNG padding in any unused tail).
func (r *Reader) Payload() []byte { return r.payload }

// Slice returns the payload bytes in [offset, offset+length).
func (r *Reader) Slice(offset, length uint32) ([]byte, error) {
	end := uint64(offset) + uint64(length)
	if end > uint64(len(r.payload)) {
		return nil, fmt.Errorf("object %s: slice [%d:%d) out of bounds (payload is %d bytes)", r.id, offset, end, len(r.payload))
	}
	return r.payload[offset:end], nil
}
