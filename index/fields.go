package index

import "fmt"

// StorageStrategy picks where a field entry's value actually lives.
// Local keeps the value inline in the index stream; Sparse stores the
// value as a data-object chunk (via chunk.Writer, outside this
// package) and keeps only a pointer in the index stream — useful for
// large values that would otherwise bloat every index object.
//
// This package only defines the enum. Nothing in this repository
// selects Sparse: every field kind here, and every field
// repository.Repository commits, stores its values inline (Local).
type StorageStrategy uint8

const (
	Local StorageStrategy = iota
	Sparse
)

// Map is an insertion-deduplicated key/value field: the first Put for
// a given key wins, later Puts for the same key are silently ignored.
// Grounded on infinitree/src/index/fields/map.rs.
type Map[K comparable, V any] struct {
	entries map[K]V
}

// NewMap returns an empty Map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{entries: make(map[K]V)}
}

// Put inserts k/v if k is not already present, reporting whether the
// insert happened.
func (m *Map[K, V]) Put(k K, v V) bool {
	if _, exists := m.entries[k]; exists {
		return false
	}
	m.entries[k] = v
	return true
}

// Get returns the value for k, if present.
func (m *Map[K, V]) Get(k K) (V, bool) {
	v, ok := m.entries[k]
	return v, ok
}

// Len reports the number of entries.
func (m *Map[K, V]) Len() int { return len(m.entries) }

// Range calls fn for every entry, in unspecified order, stopping early
// if fn returns false.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for k, v := range m.entries {
		if !fn(k, v) {
			return
		}
	}
}

type mapRecord[K any, V any] struct {
	K K `msgpack:"k"`
	V V `msgpack:"v"`
}

// Encode writes every entry as a Map record via w, returning the
// Transaction position of the first record written (or the zero
// Transaction if the map is empty).
func (m *Map[K, V]) Encode(w *Writer, field string) (Transaction, bool, error) {
	var first Transaction
	set := false
	for k, v := range m.entries {
		payload, err := marshal(mapRecord[K, V]{K: k, V: v})
		if err != nil {
			return Transaction{}, false, fmt.Errorf("encoding map entry for field %q: %w", field, err)
		}
		txn, err := w.WriteRecord(field, KindMap, payload)
		if err != nil {
			return Transaction{}, false, err
		}
		if !set {
			first, set = txn, true
		}
	}
	return first, set, nil
}

// DecodeMap rebuilds a Map from the envelopes of its latest recorded
// transaction (Map has no cross-commit history; FirstOnly is the only
// sensible resolver for it).
func DecodeMap[K comparable, V any](envs []Envelope) (*Map[K, V], error) {
	m := NewMap[K, V]()
	for _, e := range envs {
		if e.Kind != KindMap {
			continue
		}
		var rec mapRecord[K, V]
		if err := unmarshal(e.Payload, &rec); err != nil {
			return nil, fmt.Errorf("decoding map record for field %q: %w", e.Field, err)
		}
		m.Put(rec.K, rec.V)
	}
	return m, nil
}

// Set is a degenerate Map[T, struct{}], grounded on
// infinitree/src/index/fields/set.rs.
type Set[T comparable] struct {
	inner *Map[T, struct{}]
}

// NewSet returns an empty Set.
func NewSet[T comparable]() *Set[T] {
	return &Set[T]{inner: NewMap[T, struct{}]()}
}

// Add inserts v, reporting whether it was newly added.
func (s *Set[T]) Add(v T) bool { return s.inner.Put(v, struct{}{}) }

// Has reports whether v is a member.
func (s *Set[T]) Has(v T) bool {
	_, ok := s.inner.Get(v)
	return ok
}

// Len reports the number of members.
func (s *Set[T]) Len() int { return s.inner.Len() }

// Range calls fn for every member, stopping early if fn returns false.
func (s *Set[T]) Range(fn func(T) bool) {
	s.inner.Range(func(k T, _ struct{}) bool { return fn(k) })
}

// Encode delegates to the underlying Map's Encode.
func (s *Set[T]) Encode(w *Writer, field string) (Transaction, bool, error) {
	return s.inner.Encode(w, field)
}

// DecodeSet delegates to DecodeMap.
func DecodeSet[T comparable](envs []Envelope) (*Set[T], error) {
	inner, err := DecodeMap[T, struct{}](envs)
	if err != nil {
		return nil, err
	}
	return &Set[T]{inner: inner}, nil
}

// Serialized holds a single value where the latest commit always wins
// entirely (no merge with prior commits). Grounded on
// infinitree/src/index/fields/serialized.rs.
type Serialized[T any] struct {
	Value T
}

// Encode writes the single value as one record.
func (s *Serialized[T]) Encode(w *Writer, field string) (Transaction, error) {
	payload, err := marshal(s.Value)
	if err != nil {
		return Transaction{}, fmt.Errorf("encoding serialized field %q: %w", field, err)
	}
	return w.WriteRecord(field, KindSerialized, payload)
}

// DecodeSerialized reads the value out of the latest transaction's
// envelopes (there should be exactly one, the most recent write).
func DecodeSerialized[T any](envs []Envelope) (*Serialized[T], error) {
	var out Serialized[T]
	for _, e := range envs {
		if e.Kind != KindSerialized {
			continue
		}
		if err := unmarshal(e.Payload, &out.Value); err != nil {
			return nil, fmt.Errorf("decoding serialized field %q: %w", e.Field, err)
		}
	}
	return &out, nil
}

// VersionedMap is a two-layer key/value field: base holds everything
// resolved from prior commits' history, puts/dels hold changes staged
// since the last Commit. Deletes are tombstones that must survive
// replay even when they remove a key that exists in base.
//
// Grounded on infinitree/src/index/fields/versioned.rs.
type VersionedMap[K comparable, V any] struct {
	base map[K]V
	puts map[K]V
	dels map[K]struct{}
}

// NewVersionedMap returns an empty VersionedMap.
func NewVersionedMap[K comparable, V any]() *VersionedMap[K, V] {
	return &VersionedMap[K, V]{
		base: make(map[K]V),
		puts: make(map[K]V),
		dels: make(map[K]struct{}),
	}
}

// Put stages k/v for the next commit, overwriting any prior pending
// put or delete for k.
func (v *VersionedMap[K, V]) Put(k K, val V) {
	delete(v.dels, k)
	v.puts[k] = val
}

// Delete stages a tombstone for k, overwriting any prior pending put.
func (v *VersionedMap[K, V]) Delete(k K) {
	delete(v.puts, k)
	v.dels[k] = struct{}{}
}

// Dirty reports whether any puts or deletes are staged for the next
// Encode call.
func (v *VersionedMap[K, V]) Dirty() bool {
	return len(v.puts) > 0 || len(v.dels) > 0
}

// Get resolves k through the pending layer first, then the base layer
// established by prior commits.
func (v *VersionedMap[K, V]) Get(k K) (V, bool) {
	if _, tombstoned := v.dels[k]; tombstoned {
		var zero V
		return zero, false
	}
	if val, ok := v.puts[k]; ok {
		return val, true
	}
	val, ok := v.base[k]
	return val, ok
}

// Range calls fn for every currently-visible key/value, merging base
// and pending layers and skipping tombstoned keys.
func (v *VersionedMap[K, V]) Range(fn func(K, V) bool) {
	seen := make(map[K]struct{}, len(v.puts)+len(v.base))
	for k, val := range v.puts {
		seen[k] = struct{}{}
		if !fn(k, val) {
			return
		}
	}
	for k, val := range v.base {
		if _, done := seen[k]; done {
			continue
		}
		if _, tombstoned := v.dels[k]; tombstoned {
			continue
		}
		if !fn(k, val) {
			return
		}
	}
}

type versionedRecord[K any, V any] struct {
	K K `msgpack:"k"`
	V V `msgpack:"v"`
}
type versionedDelRecord[K any] struct {
	K K `msgpack:"k"`
}

// Encode writes every staged put/delete as its own record, then merges
// the staged layer into base and clears it — matching commit semantics
// where a successful commit folds pending changes into the committed
// baseline.
func (v *VersionedMap[K, V]) Encode(w *Writer, field string) (Transaction, bool, error) {
	var first Transaction
	set := false

	for k, val := range v.puts {
		payload, err := marshal(versionedRecord[K, V]{K: k, V: val})
		if err != nil {
			return Transaction{}, false, fmt.Errorf("encoding versioned put for field %q: %w", field, err)
		}
		txn, err := w.WriteRecord(field, KindVersionedMapPut, payload)
		if err != nil {
			return Transaction{}, false, err
		}
		if !set {
			first, set = txn, true
		}
	}
	for k := range v.dels {
		payload, err := marshal(versionedDelRecord[K]{K: k})
		if err != nil {
			return Transaction{}, false, fmt.Errorf("encoding versioned delete for field %q: %w", field, err)
		}
		txn, err := w.WriteRecord(field, KindVersionedMapDelete, payload)
		if err != nil {
			return Transaction{}, false, err
		}
		if !set {
			first, set = txn, true
		}
	}

	for k, val := range v.puts {
		v.base[k] = val
	}
	for k := range v.dels {
		delete(v.base, k)
	}
	v.puts = make(map[K]V)
	v.dels = make(map[K]struct{})

	return first, set, nil
}

// DecodeVersionedMap reconstructs the committed state of a
// VersionedMap by replaying envs — which must already be every
// transaction's records concatenated most-recent-transaction-first, as
// Reader.ReadField(..., FullHistory) produces — applying each record
// only the first time its key is seen. That "most-recent-first,
// first-seen-wins" order is exactly equivalent to replaying the
// original Put/Delete calls in chronological order and taking the
// final state.
func DecodeVersionedMap[K comparable, V any](envs []Envelope) (*VersionedMap[K, V], error) {
	vm := NewVersionedMap[K, V]()
	seen := make(map[K]struct{})

	for _, e := range envs {
		switch e.Kind {
		case KindVersionedMapPut:
			var rec versionedRecord[K, V]
			if err := unmarshal(e.Payload, &rec); err != nil {
				return nil, fmt.Errorf("decoding versioned put for field %q: %w", e.Field, err)
			}
			if _, ok := seen[rec.K]; ok {
				continue
			}
			seen[rec.K] = struct{}{}
			vm.base[rec.K] = rec.V
		case KindVersionedMapDelete:
			var rec versionedDelRecord[K]
			if err := unmarshal(e.Payload, &rec); err != nil {
				return nil, fmt.Errorf("decoding versioned delete for field %q: %w", e.Field, err)
			}
			if _, ok := seen[rec.K]; ok {
				continue
			}
			seen[rec.K] = struct{}{}
			// tombstoned: deliberately not added to base.
		}
	}

	return vm, nil
}
