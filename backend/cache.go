package backend

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/symmetree-labs/zerostash-sub000/object"
)

// Cache layers a bounded local Directory in front of an upstream
// Backend: writes land locally first and are asynchronously pushed
// upstream, reads prefer the local copy, and eviction from the bounded
// local set waits for any in-flight upload of that object before
// deleting its local copy, so an evicted-too-soon object is never lost.
//
// Grounded on infinitree's backends::s3::Cache, which keeps the same
// "never evict until upstream has it" invariant using futures rather
// than Go channels.
type Cache struct {
	local    *Directory
	upstream Backend

	mu        sync.Mutex
	resident  *lru.Cache[object.ID, struct{}]
	inflight  map[object.ID]chan struct{}
}

// NewCache builds a Cache over upstream, keeping up to capacity objects
// resident in localDir at once.
func NewCache(localDir string, capacity int, upstream Backend) (*Cache, error) {
	local, err := NewDirectory(localDir, capacity)
	if err != nil {
		return nil, fmt.Errorf("opening cache local directory: %w", err)
	}

	c := &Cache{
		local:    local,
		upstream: upstream,
		inflight: make(map[object.ID]chan struct{}),
	}

	resident, err := lru.NewWithEvict[object.ID, struct{}](capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("constructing cache residency tracker: %w", err)
	}
	c.resident = resident

	return c, nil
}

// onEvict runs synchronously inside the LRU's Add (when capacity is
// exceeded) or Remove call, in the calling goroutine. It takes c.mu
// itself, so callers must not hold c.mu around resident.Add/Remove. It
// only waits on the in-flight upload and deletes the local copy.
func (c *Cache) onEvict(id object.ID, _ struct{}) {
	c.mu.Lock()
	done, uploading := c.inflight[id]
	c.mu.Unlock()

	if uploading {
		<-done // block until the upstream upload finishes
	}
	_ = c.local.Delete([]object.ID{id})
}

func (c *Cache) Write(id object.ID, data []byte) error {
	if err := c.local.Write(id, data); err != nil {
		return fmt.Errorf("writing object %s to cache: %w", id, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.inflight[id] = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			c.mu.Lock()
			delete(c.inflight, id)
			c.mu.Unlock()
		}()
		if err := c.upstream.Write(id, data); err != nil {
			// Best-effort: the object stays resident locally, so a
			// subsequent Sync/retry can still find it to re-upload.
			return
		}
	}()

	c.resident.Add(id, struct{}{})

	return nil
}

func (c *Cache) Read(id object.ID) ([]byte, error) {
	if data, err := c.local.Read(id); err == nil {
		c.resident.Add(id, struct{}{})
		return data, nil
	}

	data, err := c.upstream.Read(id)
	if err != nil {
		return nil, err
	}

	if err := c.local.Write(id, data); err != nil {
		return nil, fmt.Errorf("populating cache for object %s: %w", id, err)
	}
	c.resident.Add(id, struct{}{})

	return data, nil
}

func (c *Cache) Delete(ids []object.ID) error {
	if err := c.local.Delete(ids); err != nil {
		return err
	}
	for _, id := range ids {
		c.resident.Remove(id)
	}
	return c.upstream.Delete(ids)
}

// Preload fetches ids into the local cache ahead of time, via the
// upstream's own Preload plus an eager Read for anything not yet
// resident locally.
func (c *Cache) Preload(ids []object.ID) error {
	var missing []object.ID
	c.mu.Lock()
	for _, id := range ids {
		if !c.resident.Contains(id) {
			missing = append(missing, id)
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return nil
	}
	if err := c.upstream.Preload(missing); err != nil {
		return fmt.Errorf("preloading upstream: %w", err)
	}
	for _, id := range missing {
		if _, err := c.Read(id); err != nil {
			return fmt.Errorf("preloading object %s: %w", id, err)
		}
	}
	return nil
}

// Sync waits for every queued upload to finish, then syncs the upstream
// backend.
func (c *Cache) Sync() error {
	c.mu.Lock()
	pending := make([]chan struct{}, 0, len(c.inflight))
	for _, done := range c.inflight {
		pending = append(pending, done)
	}
	c.mu.Unlock()

	for _, done := range pending {
		<-done
	}
	return c.upstream.Sync()
}

// Close releases the local directory's manifest handle.
func (c *Cache) Close() error {
	return c.local.Close()
}
