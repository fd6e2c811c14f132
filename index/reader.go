package index

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	zcrypto "github.com/symmetree-labs/zerostash-sub000/crypto"
	"github.com/symmetree-labs/zerostash-sub000/object"
)

// ObjectSource fetches a raw sealed object buffer by id; satisfied by
// backend.Backend's Read method.
type ObjectSource interface {
	Read(id object.ID) ([]byte, error)
}

// Reader decodes index field streams back into Envelopes.
//
// Grounded on infinitree/src/index/reader.rs's open/field/transaction
// trio: open fetches+decrypts+deserializes a header, field decodes a
// bounded record stream, transaction follows each field's own offsets
// chain across objects.
type Reader struct {
	source   ObjectSource
	indexKey [zcrypto.KeySize]byte
}

// NewReader builds a Reader against source, using indexKey to decrypt
// index objects.
func NewReader(source ObjectSource, indexKey [zcrypto.KeySize]byte) *Reader {
	return &Reader{source: source, indexKey: indexKey}
}

// open fetches, decrypts, and parses the header of the index object
// named by id.
func (r *Reader) open(id object.ID) (*object.Reader, Header, error) {
	raw, err := r.source.Read(id)
	if err != nil {
		return nil, Header{}, fmt.Errorf("fetching index object %s: %w", id, err)
	}
	obj, err := object.Open(id, raw, r.indexKey)
	if err != nil {
		return nil, Header{}, fmt.Errorf("opening index object %s: %w", id, err)
	}
	h, err := DecodeHeader(obj.Header())
	if err != nil {
		return nil, Header{}, fmt.Errorf("decoding header of index object %s: %w", id, err)
	}
	return obj, h, nil
}

// ResolvedTransaction pairs a Transaction (the position recorded by
// Writer.WriteRecord) with the commit generation whose segment for a
// field begins there.
type ResolvedTransaction struct {
	Transaction
	Generation uint64
}

// decodeFieldSegment decodes Envelopes matching (field, generation) out
// of decompressed, starting at skip, until either a non-matching record
// follows at least one match (the segment ends within this object — ok
// returns nil) or the decoder runs out of records (ErrEndOfList — the
// segment may continue into another object).
func decodeFieldSegment(decompressed []byte, skip uint32, field string, generation uint64) ([]Envelope, error) {
	if uint32(len(decompressed)) < skip {
		return nil, fmt.Errorf("transaction offset %d beyond decompressed length %d", skip, len(decompressed))
	}

	var out []Envelope
	matchedAny := false
	dec := msgpack.NewDecoder(bytes.NewReader(decompressed[skip:]))
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			if err == io.EOF {
				return out, ErrEndOfList
			}
			return nil, fmt.Errorf("decoding index envelope: %w", err)
		}

		if env.Field == field && env.Generation == generation {
			matchedAny = true
			out = append(out, env)
		} else if matchedAny {
			return out, nil
		}
	}
}

// ReadTransaction decodes every Envelope belonging to field and
// generation, starting at txn and following field's own offsets chain
// across objects until either the chain ends or a record no longer
// matches (field, generation) after having matched at least once,
// whichever comes first — field writes within one commit are
// contiguous, so this captures exactly one commit's segment even when
// it spans multiple objects, and even when other fields committed
// alongside it stop continuing at a different object.
func (r *Reader) ReadTransaction(txn ResolvedTransaction, field string) ([]Envelope, error) {
	var out []Envelope

	objID := txn.StartObject
	start := txn.StartOffset
	first := true

	for {
		obj, header, err := r.open(objID)
		if err != nil {
			return nil, err
		}

		if !first {
			fo, ok := header.fieldOffset(field)
			if !ok {
				return nil, fmt.Errorf("object %s: %w: %q", objID, ErrNoField, field)
			}
			start = fo.Offset
		}
		first = false

		payload, err := obj.Slice(0, header.End)
		if err != nil {
			return nil, fmt.Errorf("slicing index payload of object %s: %w", objID, err)
		}

		zr := lz4.NewReader(bytes.NewReader(payload))
		decompressed, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("decompressing index object %s: %w", objID, err)
		}

		envs, derr := decodeFieldSegment(decompressed, start, field, txn.Generation)
		out = append(out, envs...)
		if derr != nil && !errors.Is(derr, ErrEndOfList) {
			return nil, fmt.Errorf("decoding index envelope in object %s: %w", objID, derr)
		}
		if derr == nil {
			// the contiguous run for this field/generation ended within
			// this object's payload; nothing further in the chain
			// belongs to this transaction.
			return out, nil
		}

		fo, ok := header.fieldOffset(field)
		if !ok || fo.Next == nil {
			return out, nil
		}
		objID = *fo.Next
	}
}

// TransactionResolver decides which of a field's recorded transactions
// (one per commit that touched it, ordered most-recent-first) to
// replay, and in what order.
type TransactionResolver int

const (
	// FirstOnly replays only the most recent transaction — correct for
	// Serialized, where the latest commit simply wins.
	FirstOnly TransactionResolver = iota

	// FullHistory replays every recorded transaction, most-recent-first,
	// without ever overwriting a key already set by a more recent one —
	// correct for VersionedMap, whose current layer must reflect the
	// latest write to each key.
	FullHistory
)

// ReadField decodes field's full recorded history per the given
// resolver policy. txns must already be ordered most-recent-first (the
// order repository.Repository's root index records them in).
func (r *Reader) ReadField(field string, txns []ResolvedTransaction, resolver TransactionResolver) ([]Envelope, error) {
	if len(txns) == 0 {
		return nil, nil
	}

	switch resolver {
	case FirstOnly:
		return r.ReadTransaction(txns[0], field)
	case FullHistory:
		var all []Envelope
		for _, txn := range txns {
			envs, err := r.ReadTransaction(txn, field)
			if err != nil {
				return nil, fmt.Errorf("replaying transaction at generation %d: %w", txn.Generation, err)
			}
			all = append(all, envs...)
		}
		return all, nil
	default:
		return nil, fmt.Errorf("unknown transaction resolver %d", resolver)
	}
}
