package index

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	zcrypto "github.com/symmetree-labs/zerostash-sub000/crypto"
	"github.com/symmetree-labs/zerostash-sub000/object"
)

// Backend is the minimal surface an index Writer needs; satisfied by
// backend.Backend.
type Backend interface {
	Write(id object.ID, data []byte) error
}

// Transaction records where a field's segment begins: which object and
// which byte offset into that object's decompressed record stream. A
// reader opens the object, skips to the offset, and decodes envelopes
// from there.
type Transaction struct {
	StartObject object.ID
	StartOffset uint32
}

// Writer packs Envelope records for every index field into a chain of
// fixed-size encrypted objects, one LZ4 frame of MessagePack-encoded
// envelopes per object. Rolling to the next object happens whenever the
// current object doesn't have enough headroom for another record; the
// outgoing object's header records the incoming object's id so readers
// can follow the chain.
//
// Grounded on infinitree/src/index/writer.rs's Idle/Parked/Encoding
// state machine, collapsed here into "buffer plaintext records, flush
// the whole buffer as one LZ4 frame when the object is sealed" since Go
// doesn't need the Rust version's explicit resumable encoder state.
type Writer struct {
	backend  Backend
	indexKey [zcrypto.KeySize]byte

	current    *object.Writer
	plain      bytes.Buffer // uncompressed envelopes written so far, this object
	enc        *msgpack.Encoder
	generation uint64

	// fieldOffsets records, for every field that has written at least one
	// record into the current object, the offset its segment began at —
	// becomes that field's Header.Offsets entry when the object seals.
	fieldOffsets map[string]uint32
}

// flushThreshold leaves headroom for LZ4 framing overhead and the final
// compression pass; we roll to a new object once the raw (uncompressed)
// buffer alone would leave less than this much slack.
const flushThreshold = 4096

// NewWriter starts an index Writer at the given commit generation.
func NewWriter(backend Backend, indexKey [zcrypto.KeySize]byte, generation uint64) (*Writer, error) {
	id, err := object.NewID()
	if err != nil {
		return nil, fmt.Errorf("allocating initial index object: %w", err)
	}
	w := &Writer{
		backend:      backend,
		indexKey:     indexKey,
		current:      object.NewWriter(id),
		generation:   generation,
		fieldOffsets: make(map[string]uint32),
	}
	w.enc = msgpack.NewEncoder(&w.plain)
	return w, nil
}

// SetGeneration overrides the generation value embedded in every
// subsequent WriteRecord call. A commit's generation is derived from the
// field→start-object map it is about to record (see
// repository.Repository.Commit), which is only knowable once the
// Writer's starting object — fixed since NewWriter via CurrentObject —
// is in hand, so callers construct the Writer first and finalize its
// generation before writing any records.
func (w *Writer) SetGeneration(generation uint64) {
	w.generation = generation
}

// CurrentObject returns the id of the object currently being filled;
// this is what a fresh field Transaction should record as its start
// once WriteRecord below is called.
func (w *Writer) CurrentObject() object.ID { return w.current.ID() }

// Offset returns the current uncompressed byte offset within the
// object being filled — the position the next WriteRecord call will
// write at.
func (w *Writer) Offset() uint32 { return uint32(w.plain.Len()) }

// WriteRecord appends one envelope to the stream, rolling to a fresh
// object first if the current one is nearly full. It returns the
// Transaction position the record was written at, which the first
// record of a field's segment in a commit should be remembered as.
func (w *Writer) WriteRecord(field string, kind Kind, payload []byte) (Transaction, error) {
	if object.PayloadSize-w.plain.Len() < flushThreshold {
		if err := w.rotate(field); err != nil {
			return Transaction{}, err
		}
	}

	if _, ok := w.fieldOffsets[field]; !ok {
		w.fieldOffsets[field] = w.Offset()
	}

	txn := Transaction{StartObject: w.current.ID(), StartOffset: w.Offset()}

	env := Envelope{Field: field, Generation: w.generation, Kind: kind, Payload: payload}
	if err := w.enc.Encode(env); err != nil {
		return Transaction{}, fmt.Errorf("encoding index record for field %q: %w", field, err)
	}

	return txn, nil
}

// rotate compresses and seals whatever has accumulated for the current
// object, stores it with a header pointing field (the field whose next
// record triggered the rotation) at a fresh object, and resets the
// writer onto that fresh object.
func (w *Writer) rotate(field string) error {
	next, err := object.NewID()
	if err != nil {
		return fmt.Errorf("allocating next index object: %w", err)
	}
	if err := w.sealCurrent(&next, field); err != nil {
		return err
	}

	w.current = object.NewWriter(next)
	w.plain.Reset()
	w.enc = msgpack.NewEncoder(&w.plain)
	w.fieldOffsets = make(map[string]uint32)
	return nil
}

// sealCurrent LZ4-frames the buffered plaintext, packs it into the
// current object's payload, writes the header (pointing field's entry
// at next, if any; every other field's Next stays nil), seals, and
// stores the object.
func (w *Writer) sealCurrent(next *object.ID, field string) error {
	var compressed bytes.Buffer
	zw := lz4.NewWriter(&compressed)
	if _, err := zw.Write(w.plain.Bytes()); err != nil {
		return fmt.Errorf("compressing index stream: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing index lz4 frame: %w", err)
	}

	if compressed.Len() > object.PayloadSize {
		return fmt.Errorf("index object payload of %d compressed bytes exceeds capacity %d", compressed.Len(), object.PayloadSize)
	}

	if _, err := w.current.Append(compressed.Bytes()); err != nil {
		return fmt.Errorf("packing index stream into object: %w", err)
	}

	names := make([]string, 0, len(w.fieldOffsets))
	for name := range w.fieldOffsets {
		names = append(names, name)
	}
	sort.Strings(names)

	offsets := make([]FieldOffset, 0, len(names))
	for _, name := range names {
		fo := FieldOffset{Name: name, Offset: w.fieldOffsets[name]}
		if name == field {
			fo.Next = next
		}
		offsets = append(offsets, fo)
	}

	header := Header{Offsets: offsets, End: uint32(compressed.Len())}
	raw, err := header.Encode()
	if err != nil {
		return err
	}
	if err := w.current.WriteHeader(raw); err != nil {
		return err
	}

	sealed, err := w.current.Seal(w.indexKey)
	if err != nil {
		return fmt.Errorf("sealing index object: %w", err)
	}
	if err := w.backend.Write(w.current.ID(), sealed); err != nil {
		return fmt.Errorf("storing index object: %w", err)
	}
	return nil
}

// Flush seals and stores whatever has accumulated in the current
// object, without chaining to a next object (every field's Offsets
// entry gets a nil Next). Call this once at the end of a commit.
func (w *Writer) Flush() error {
	return w.sealCurrent(nil, "")
}
