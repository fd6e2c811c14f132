package chunk_test

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/symmetree-labs/zerostash-sub000/chunk"
	"github.com/symmetree-labs/zerostash-sub000/object"
)

// memBackend is an in-process stand-in for backend.Backend, just enough
// to satisfy chunk.Backend and chunk.ObjectSource.
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

func randomData(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, n)
	r.Read(buf)
	return buf
}

func TestBupSplitterCoversInputExactly(t *testing.T) {
	data := randomData(1024*1024, 1)

	chunks, err := (chunk.BupSplitter{}).Split(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}

	var reassembled []byte
	for i, c := range chunks {
		if c.Offset != int64(len(reassembled)) {
			t.Errorf("chunk %d offset %d, expected %d", i, c.Offset, len(reassembled))
		}
		if len(c.Data) > chunk.MaxChunkSize {
			t.Errorf("chunk %d exceeds MaxChunkSize: %d", i, len(c.Data))
		}
		reassembled = append(reassembled, c.Data...)
	}
	if !bytes.Equal(reassembled, data) {
		t.Error("reassembled chunks do not equal original input")
	}
}

func TestSeaSplitterCoversInputExactly(t *testing.T) {
	data := randomData(1024*1024, 2)

	chunks, err := (chunk.SeaSplitter{}).Split(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}

	var reassembled []byte
	for _, c := range chunks {
		if len(c.Data) > chunk.MaxChunkSize {
			t.Errorf("chunk exceeds MaxChunkSize: %d", len(c.Data))
		}
		reassembled = append(reassembled, c.Data...)
	}
	if !bytes.Equal(reassembled, data) {
		t.Error("reassembled chunks do not equal original input")
	}
}

func TestSplittersDeterministic(t *testing.T) {
	data := randomData(512*1024, 3)

	c1, err := (chunk.BupSplitter{}).Split(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	c2, err := (chunk.BupSplitter{}).Split(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(c1) != len(c2) {
		t.Fatalf("non-deterministic split: %d vs %d chunks", len(c1), len(c2))
	}
	for i := range c1 {
		if c1[i].Offset != c2[i].Offset || !bytes.Equal(c1[i].Data, c2[i].Data) {
			t.Fatalf("chunk %d differs between identical splits", i)
		}
	}
}

func TestSplitEmptyInput(t *testing.T) {
	chunks, err := (chunk.BupSplitter{}).Split(bytes.NewReader(nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for empty input, got %d", len(chunks))
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	backend := newMemBackend()
	var chunkKey [32]byte
	copy(chunkKey[:], bytes.Repeat([]byte{0x03}, 32))

	w, err := chunk.NewWriter(backend, chunkKey)
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("the quick brown fox jumps over the lazy dog")
	ptr, err := w.WriteChunk(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	r := chunk.NewReader(backend, chunkKey)
	got, err := r.ReadChunk(ptr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round trip mismatch: got %q want %q", got, data)
	}
}

func TestWriterRotatesOnFullObject(t *testing.T) {
	backend := newMemBackend()
	var chunkKey [32]byte

	w, err := chunk.NewWriter(backend, chunkKey)
	if err != nil {
		t.Fatal(err)
	}

	// Large, incompressible chunks (about 6 MiB in total) to overflow a
	// single 4 MiB object and force at least one rotation.
	var pointers []chunk.Pointer
	for i := 0; i < 20; i++ {
		data := randomData(300*1024, int64(i))
		ptr, err := w.WriteChunk(data)
		if err != nil {
			t.Fatal(err)
		}
		pointers = append(pointers, ptr)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	seen := map[object.ID]bool{}
	for _, p := range pointers {
		seen[p.ObjectID] = true
	}
	if len(seen) < 2 {
		t.Error("expected chunk writes to span more than one object")
	}
}

func TestReaderDetectsTamperedPointer(t *testing.T) {
	backend := newMemBackend()
	var chunkKey [32]byte

	w, err := chunk.NewWriter(backend, chunkKey)
	if err != nil {
		t.Fatal(err)
	}
	ptr, err := w.WriteChunk([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	ptr.ContentHash[0] ^= 0xFF

	r := chunk.NewReader(backend, chunkKey)
	if _, err := r.ReadChunk(ptr); err == nil {
		t.Error("expected tampered pointer content hash to be rejected")
	}
}

func TestBalancerRoundRobinsAndFlushes(t *testing.T) {
	backend := newMemBackend()
	var chunkKey [32]byte

	b, err := chunk.NewBalancer(backend, chunkKey, 3)
	if err != nil {
		t.Fatal(err)
	}

	var pointers []chunk.Pointer
	for i := 0; i < 9; i++ {
		ptr, err := b.WriteChunk([]byte(fmt.Sprintf("chunk-%d", i)))
		if err != nil {
			t.Fatal(err)
		}
		pointers = append(pointers, ptr)
	}
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}

	r := chunk.NewReader(backend, chunkKey)
	for i, ptr := range pointers {
		data, err := r.ReadChunk(ptr)
		if err != nil {
			t.Fatal(err)
		}
		want := fmt.Sprintf("chunk-%d", i)
		if string(data) != want {
			t.Errorf("chunk %d = %q, want %q", i, data, want)
		}
	}
}
