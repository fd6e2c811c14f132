package index_test

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/symmetree-labs/zerostash-sub000/index"
	"github.com/symmetree-labs/zerostash-sub000/object"
)

type memBackend struct {
	mu      sync.Mutex
	objects map[object.ID][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{objects: make(map[object.ID][]byte)}
}

func (m *memBackend) Write(id object.ID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[id] = buf
	return nil
}

func (m *memBackend) Read(id object.ID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.objects[id]
	if !ok {
		return nil, fmt.Errorf("object %s not found", id)
	}
	return buf, nil
}

func testIndexKey() [32]byte {
	var k [32]byte
	copy(k[:], bytes.Repeat([]byte{0x2a}, 32))
	return k
}

func TestMapEncodeDecodeRoundTrip(t *testing.T) {
	backend := newMemBackend()
	key := testIndexKey()

	w, err := index.NewWriter(backend, key, 1)
	if err != nil {
		t.Fatal(err)
	}

	m := index.NewMap[string, int]()
	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("a", 99) // ignored, first write wins

	txn, ok, err := m.Encode(w, "files")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a transaction to be recorded")
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	r := index.NewReader(backend, key)
	rtxn := index.ResolvedTransaction{Transaction: txn, Generation: 1}
	envs, err := r.ReadField("files", []index.ResolvedTransaction{rtxn}, index.FirstOnly)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := index.DecodeMap[string, int](envs)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := decoded.Get("a"); !ok || v != 1 {
		t.Errorf("key a = %v, %v; want 1, true", v, ok)
	}
	if v, ok := decoded.Get("b"); !ok || v != 2 {
		t.Errorf("key b = %v, %v; want 2, true", v, ok)
	}
	if decoded.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", decoded.Len())
	}
}

func TestSerializedLatestCommitWins(t *testing.T) {
	backend := newMemBackend()
	key := testIndexKey()

	w1, err := index.NewWriter(backend, key, 1)
	if err != nil {
		t.Fatal(err)
	}
	s1 := &index.Serialized[string]{Value: "first"}
	txn1, err := s1.Encode(w1, "root")
	if err != nil {
		t.Fatal(err)
	}
	if err := w1.Flush(); err != nil {
		t.Fatal(err)
	}

	w2, err := index.NewWriter(backend, key, 2)
	if err != nil {
		t.Fatal(err)
	}
	s2 := &index.Serialized[string]{Value: "second"}
	txn2, err := s2.Encode(w2, "root")
	if err != nil {
		t.Fatal(err)
	}
	if err := w2.Flush(); err != nil {
		t.Fatal(err)
	}

	r := index.NewReader(backend, key)
	rtxns := []index.ResolvedTransaction{
		{Transaction: txn2, Generation: 2},
		{Transaction: txn1, Generation: 1},
	}
	envs, err := r.ReadField("root", rtxns, index.FirstOnly)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := index.DecodeSerialized[string](envs)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Value != "second" {
		t.Errorf("got %q, want %q", decoded.Value, "second")
	}
}

func TestVersionedMapCommitAndReplay(t *testing.T) {
	backend := newMemBackend()
	key := testIndexKey()

	vm := index.NewVersionedMap[string, int]()
	vm.Put("a", 1)
	vm.Put("b", 2)

	w1, err := index.NewWriter(backend, key, 1)
	if err != nil {
		t.Fatal(err)
	}
	txn1, ok, err := vm.Encode(w1, "files")
	if err != nil || !ok {
		t.Fatalf("encode gen1: ok=%v err=%v", ok, err)
	}
	if err := w1.Flush(); err != nil {
		t.Fatal(err)
	}

	vm.Put("c", 3)
	vm.Delete("a")

	w2, err := index.NewWriter(backend, key, 2)
	if err != nil {
		t.Fatal(err)
	}
	txn2, ok, err := vm.Encode(w2, "files")
	if err != nil || !ok {
		t.Fatalf("encode gen2: ok=%v err=%v", ok, err)
	}
	if err := w2.Flush(); err != nil {
		t.Fatal(err)
	}

	r := index.NewReader(backend, key)
	rtxns := []index.ResolvedTransaction{
		{Transaction: txn2, Generation: 2},
		{Transaction: txn1, Generation: 1},
	}
	envs, err := r.ReadField("files", rtxns, index.FullHistory)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := index.DecodeVersionedMap[string, int](envs)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := decoded.Get("a"); ok {
		t.Error("expected key a to be tombstoned")
	}
	if v, ok := decoded.Get("b"); !ok || v != 2 {
		t.Errorf("key b = %v, %v; want 2, true", v, ok)
	}
	if v, ok := decoded.Get("c"); !ok || v != 3 {
		t.Errorf("key c = %v, %v; want 3, true", v, ok)
	}
}

func TestSetEncodeDecode(t *testing.T) {
	backend := newMemBackend()
	key := testIndexKey()

	w, err := index.NewWriter(backend, key, 1)
	if err != nil {
		t.Fatal(err)
	}
	s := index.NewSet[string]()
	s.Add("x")
	s.Add("y")

	txn, ok, err := s.Encode(w, "tags")
	if err != nil || !ok {
		t.Fatalf("encode: ok=%v err=%v", ok, err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	r := index.NewReader(backend, key)
	rtxn := index.ResolvedTransaction{Transaction: txn, Generation: 1}
	envs, err := r.ReadField("tags", []index.ResolvedTransaction{rtxn}, index.FirstOnly)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := index.DecodeSet[string](envs)
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.Has("x") || !decoded.Has("y") {
		t.Error("expected both members present after round trip")
	}
	if decoded.Len() != 2 {
		t.Errorf("expected 2 members, got %d", decoded.Len())
	}
}

func TestWriterRollsAcrossMultipleObjects(t *testing.T) {
	backend := newMemBackend()
	key := testIndexKey()

	w, err := index.NewWriter(backend, key, 1)
	if err != nil {
		t.Fatal(err)
	}

	m := index.NewMap[int, string]()
	// Enough distinct entries, each padded out, that the uncompressed
	// record stream exceeds a single object's payload capacity and the
	// writer is forced to rotate at least once.
	padding := strings.Repeat("x", 200)
	for i := 0; i < 25000; i++ {
		m.Put(i, fmt.Sprintf("value-%08d-%s", i, padding))
	}

	firstTxn, ok, err := m.Encode(w, "big")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a transaction")
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	if len(backend.objects) < 2 {
		t.Fatalf("expected the stream to span multiple objects, got %d", len(backend.objects))
	}

	r := index.NewReader(backend, key)
	rtxn := index.ResolvedTransaction{Transaction: firstTxn, Generation: 1}
	envs, err := r.ReadField("big", []index.ResolvedTransaction{rtxn}, index.FirstOnly)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := index.DecodeMap[int, string](envs)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Len() != 25000 {
		t.Errorf("expected 25000 entries after replay across objects, got %d", decoded.Len())
	}
	want := fmt.Sprintf("value-%08d-%s", 24999, padding)
	if v, ok := decoded.Get(24999); !ok || v != want {
		t.Errorf("last entry = %q, %v", v, ok)
	}
}

func TestMultiFieldCommitStraddlesRotation(t *testing.T) {
	backend := newMemBackend()
	key := testIndexKey()

	w, err := index.NewWriter(backend, key, 7)
	if err != nil {
		t.Fatal(err)
	}

	// "files" alone is large enough to force at least one rotation before
	// "chunks" ever gets a record written, so "files" is read across a
	// chain of objects while both fields end up with distinct offsets
	// within the last object, whose header records both.
	files := index.NewMap[int, string]()
	padding := strings.Repeat("x", 200)
	for i := 0; i < 25000; i++ {
		files.Put(i, fmt.Sprintf("value-%08d-%s", i, padding))
	}
	filesTxn, ok, err := files.Encode(w, "files")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a files transaction")
	}

	chunks := index.NewSet[string]()
	chunks.Add("chunk-a")
	chunks.Add("chunk-b")
	chunksTxn, ok, err := chunks.Encode(w, "chunks")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a chunks transaction")
	}

	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(backend.objects) < 2 {
		t.Fatalf("expected the commit to span multiple objects, got %d", len(backend.objects))
	}

	r := index.NewReader(backend, key)

	filesEnvs, err := r.ReadField("files", []index.ResolvedTransaction{{Transaction: filesTxn, Generation: 7}}, index.FirstOnly)
	if err != nil {
		t.Fatal(err)
	}
	decodedFiles, err := index.DecodeMap[int, string](filesEnvs)
	if err != nil {
		t.Fatal(err)
	}
	if decodedFiles.Len() != 25000 {
		t.Errorf("expected 25000 files entries, got %d", decodedFiles.Len())
	}

	chunksEnvs, err := r.ReadField("chunks", []index.ResolvedTransaction{{Transaction: chunksTxn, Generation: 7}}, index.FirstOnly)
	if err != nil {
		t.Fatal(err)
	}
	decodedChunks, err := index.DecodeSet[string](chunksEnvs)
	if err != nil {
		t.Fatal(err)
	}
	if !decodedChunks.Has("chunk-a") || !decodedChunks.Has("chunk-b") {
		t.Error("expected both chunk entries to survive the shared, straddled commit")
	}
	if decodedChunks.Len() != 2 {
		t.Errorf("expected 2 chunk entries, got %d", decodedChunks.Len())
	}
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	id, err := object.NewID()
	if err != nil {
		t.Fatal(err)
	}
	h := index.Header{
		Offsets: []index.FieldOffset{
			{Name: "files", Offset: 0, Next: &id},
			{Name: "chunks", Offset: 128, Next: nil},
		},
		End: 4096,
	}

	raw, err := h.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) > object.HeaderSize {
		t.Fatalf("encoded header exceeds budget: %d", len(raw))
	}

	decoded, err := index.DecodeHeader(raw)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.End != 4096 {
		t.Errorf("End = %d, want 4096", decoded.End)
	}
	if len(decoded.Offsets) != 2 {
		t.Fatalf("expected 2 field offsets, got %d", len(decoded.Offsets))
	}

	byName := make(map[string]index.FieldOffset, len(decoded.Offsets))
	for _, fo := range decoded.Offsets {
		byName[fo.Name] = fo
	}

	files, ok := byName["files"]
	if !ok || files.Offset != 0 || files.Next == nil || *files.Next != id {
		t.Errorf("files offset did not round-trip: %+v", files)
	}
	chunks, ok := byName["chunks"]
	if !ok || chunks.Offset != 128 || chunks.Next != nil {
		t.Errorf("chunks offset did not round-trip: %+v", chunks)
	}
}
