package backend_test

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/symmetree-labs/zerostash-sub000/backend"
	"github.com/symmetree-labs/zerostash-sub000/object"
)

func newID(b byte) object.ID {
	var id object.ID
	for i := range id {
		id[i] = b
	}
	return id
}

func TestDirectoryWriteReadDelete(t *testing.T) {
	dir, err := backend.NewDirectory(t.TempDir(), 8)
	if err != nil {
		t.Fatal(err)
	}
	defer dir.Close()

	id := newID(0x11)
	data := bytes.Repeat([]byte{0xAB}, 1024)

	if err := dir.Write(id, data); err != nil {
		t.Fatal(err)
	}

	got, err := dir.Read(id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("read data does not match what was written")
	}

	has, err := dir.Has(id)
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("expected manifest to record the written object")
	}

	if err := dir.Delete([]object.ID{id}); err != nil {
		t.Fatal(err)
	}

	if _, err := dir.Read(id); err == nil {
		t.Error("expected read of deleted object to fail")
	}
	has, err = dir.Has(id)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("expected manifest entry to be removed after delete")
	}
}

func TestDirectoryReadMissingReturnsNotFound(t *testing.T) {
	dir, err := backend.NewDirectory(t.TempDir(), 8)
	if err != nil {
		t.Fatal(err)
	}
	defer dir.Close()

	if _, err := dir.Read(newID(0x99)); err == nil {
		t.Error("expected read of unknown object to fail")
	}
}

func TestDirectorySurvivesReopen(t *testing.T) {
	root := t.TempDir()

	dir1, err := backend.NewDirectory(root, 8)
	if err != nil {
		t.Fatal(err)
	}
	id := newID(0x22)
	data := []byte("persisted across reopen")
	if err := dir1.Write(id, data); err != nil {
		t.Fatal(err)
	}
	if err := dir1.Close(); err != nil {
		t.Fatal(err)
	}

	dir2, err := backend.NewDirectory(root, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer dir2.Close()

	got, err := dir2.Read(id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("object did not survive a directory reopen")
	}
}

// fakeUpstream is a minimal in-memory backend.Backend used to exercise
// backend.Cache without touching S3.
type fakeUpstream struct {
	mu      sync.Mutex
	objects map[object.ID][]byte
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{objects: make(map[object.ID][]byte)}
}

func (f *fakeUpstream) Write(id object.ID, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	f.objects[id] = buf
	return nil
}

func (f *fakeUpstream) Read(id object.ID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[id]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", id, backend.ErrNotFound)
	}
	return data, nil
}

func (f *fakeUpstream) Delete(ids []object.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.objects, id)
	}
	return nil
}

func (f *fakeUpstream) Preload(ids []object.ID) error { return nil }
func (f *fakeUpstream) Sync() error                   { return nil }

func TestCacheWriteReadThroughUpstream(t *testing.T) {
	upstream := newFakeUpstream()
	cache, err := backend.NewCache(t.TempDir(), 8, upstream)
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	id := newID(0x33)
	data := []byte("cached object")

	if err := cache.Write(id, data); err != nil {
		t.Fatal(err)
	}
	if err := cache.Sync(); err != nil {
		t.Fatal(err)
	}

	upstream.mu.Lock()
	_, onUpstream := upstream.objects[id]
	upstream.mu.Unlock()
	if !onUpstream {
		t.Error("expected Sync to guarantee the object reached upstream")
	}

	got, err := cache.Read(id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("cache read does not match written data")
	}
}

func TestCacheEvictionWaitsForUpload(t *testing.T) {
	upstream := newFakeUpstream()
	// Capacity 1 forces an eviction on every write after the first.
	cache, err := backend.NewCache(t.TempDir(), 1, upstream)
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	id1 := newID(0x01)
	id2 := newID(0x02)

	if err := cache.Write(id1, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := cache.Write(id2, []byte("second")); err != nil {
		t.Fatal(err)
	}
	if err := cache.Sync(); err != nil {
		t.Fatal(err)
	}

	// id1 was evicted locally, but must still be fetchable from upstream
	// since eviction is required to wait for the upload to land first.
	got, err := cache.Read(id1)
	if err != nil {
		t.Fatalf("expected evicted object to remain readable via upstream: %v", err)
	}
	if string(got) != "first" {
		t.Errorf("got %q, want %q", got, "first")
	}
}

func TestCachePopulatesLocallyOnUpstreamRead(t *testing.T) {
	upstream := newFakeUpstream()
	id := newID(0x44)
	if err := upstream.Write(id, []byte("from upstream")); err != nil {
		t.Fatal(err)
	}

	cache, err := backend.NewCache(t.TempDir(), 8, upstream)
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	got, err := cache.Read(id)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "from upstream" {
		t.Errorf("got %q, want %q", got, "from upstream")
	}

	// With the upstream copy gone, a second read must be served locally.
	if err := upstream.Delete([]object.ID{id}); err != nil {
		t.Fatal(err)
	}
	got, err = cache.Read(id)
	if err != nil {
		t.Fatalf("expected object to be cached locally after upstream read: %v", err)
	}
	if string(got) != "from upstream" {
		t.Errorf("local copy = %q, want %q", got, "from upstream")
	}
}
