package repository

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	zcrypto "github.com/symmetree-labs/zerostash-sub000/crypto"
	"github.com/symmetree-labs/zerostash-sub000/index"
	"github.com/symmetree-labs/zerostash-sub000/object"
)

// LogEntry records one commit: when it happened and the message the
// caller supplied, restoring the `0s log`-equivalent feature dropped
// from the distilled spec (see zerostash/src/commands/log.rs).
type LogEntry struct {
	Generation uint64    `msgpack:"g"`
	Time       time.Time `msgpack:"t"`
	Message    string    `msgpack:"m"`
}

// rootIndex is the sole content of the fixed-id root object: for every
// field ever committed, its full transaction history (most-recent
// first), plus the commit log. Grounded on the root index design in
// infinitree/src/tree.rs (an `objects: ObjectIndex` field-name → start-
// object-id map, appended and deduplicated on every commit).
type rootIndex struct {
	Objects map[string][]index.ResolvedTransaction `msgpack:"o"`
	Log     []LogEntry                             `msgpack:"l"`
}

func newRootIndex() *rootIndex {
	return &rootIndex{Objects: make(map[string][]index.ResolvedTransaction)}
}

// record prepends txn to field's history — most-recent-first, matching
// the order index.Reader.ReadField(..., FullHistory) expects.
func (r *rootIndex) record(field string, txn index.ResolvedTransaction) {
	r.Objects[field] = append([]index.ResolvedTransaction{txn}, r.Objects[field]...)
}

// readRootIndex fetches and decrypts the fixed-id root object and
// decodes its rootIndex payload. A not-yet-initialized stash (no
// commits ever made) returns an empty rootIndex rather than an error.
func readRootIndex(source index.ObjectSource, indexKey [zcrypto.KeySize]byte, rootID object.ID) (*rootIndex, error) {
	raw, err := source.Read(rootID)
	if err != nil {
		return newRootIndex(), nil //nolint:nilerr // absent root object means an empty, uninitialized stash
	}

	obj, err := object.Open(rootID, raw, indexKey)
	if err != nil {
		return nil, fmt.Errorf("opening root object: %w", err)
	}

	length := decodeRootLength(obj.Header())
	payload, err := obj.Slice(0, length)
	if err != nil {
		return nil, fmt.Errorf("slicing root index payload: %w", err)
	}

	var ri rootIndex
	if err := msgpack.Unmarshal(payload, &ri); err != nil {
		return nil, fmt.Errorf("decoding root index: %w", err)
	}
	if ri.Objects == nil {
		ri.Objects = make(map[string][]index.ResolvedTransaction)
	}
	return &ri, nil
}

// writeRootIndex serializes ri and seals it into the fixed-id root
// object, overwriting whatever was there before.
func writeRootIndex(ri *rootIndex, backend interface {
	Write(object.ID, []byte) error
}, indexKey [zcrypto.KeySize]byte, rootID object.ID) error {
	payload, err := msgpack.Marshal(ri)
	if err != nil {
		return fmt.Errorf("encoding root index: %w", err)
	}
	if len(payload) > object.PayloadSize {
		return fmt.Errorf("root index of %d bytes exceeds object payload capacity %d (commit history has grown too large for a single root object)", len(payload), object.PayloadSize)
	}

	w := object.NewWriter(rootID)
	if _, err := w.Append(payload); err != nil {
		return fmt.Errorf("packing root index: %w", err)
	}
	if err := w.WriteHeader(encodeRootLength(uint32(len(payload)))); err != nil {
		return err
	}

	sealed, err := w.Seal(indexKey)
	if err != nil {
		return fmt.Errorf("sealing root object: %w", err)
	}
	return backend.Write(rootID, sealed)
}

func encodeRootLength(n uint32) []byte {
	return []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
}

func decodeRootLength(header []byte) uint32 {
	return uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16 | uint32(header[3])<<24
}
