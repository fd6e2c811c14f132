package backend

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/symmetree-labs/zerostash-sub000/object"
)

// manifestBucket names the boltdb bucket that records which object ids
// are resident on disk, matching the teacher's IndexBucket pattern in
// bits/db.go/bits/repository.go (there: a bucket of pushed chunk
// keys; here: a bucket of locally-written object ids, so Directory.Has
// can answer "do I have this" without touching the filesystem).
// Directory has no method that lists the manifest's contents.
var manifestBucket = []byte("objects_v1")

// Directory is a Backend that stores each object as a file under a
// two-level hex-sharded directory tree, exactly the layout the teacher
// builds in Repository.Path (first byte pair as a subdirectory, the
// remainder as the filename) — generalized from 32-byte chunk keys to
// 32-byte object ids. A bounded LRU keeps recently-read object bytes in
// memory, and a boltdb manifest records which ids have been written,
// which Has answers from. Preload is a no-op.
type Directory struct {
	root string
	db   *bolt.DB
	read *lru.Cache[object.ID, []byte]
}

// NewDirectory opens (creating if necessary) a Directory backend rooted
// at root, with a read cache holding up to cacheEntries whole objects.
func NewDirectory(root string, cacheEntries int) (*Directory, error) {
	if err := os.MkdirAll(root, 0777); err != nil {
		return nil, fmt.Errorf("creating object directory '%s': %w", root, err)
	}

	dbPath := filepath.Join(root, "manifest.db")
	db, err := bolt.Open(dbPath, 0666, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening object manifest '%s': %w", dbPath, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(manifestBucket)
		return err
	}); err != nil {
		return nil, fmt.Errorf("creating manifest bucket: %w", err)
	}

	cache, err := lru.New[object.ID, []byte](cacheEntries)
	if err != nil {
		return nil, fmt.Errorf("constructing read cache: %w", err)
	}

	return &Directory{root: root, db: db, read: cache}, nil
}

// Path returns the on-disk file path for an object id, creating its
// parent shard directory first if mkdir is set.
func (d *Directory) Path(id object.ID, mkdir bool) (string, error) {
	dir := filepath.Join(d.root, fmt.Sprintf("%x", id[:2]))
	if mkdir {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return "", fmt.Errorf("creating object shard dir '%s': %w", dir, err)
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%x", id[2:])), nil
}

func (d *Directory) Write(id object.ID, data []byte) error {
	path, err := d.Path(id, true)
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(path, data, 0666); err != nil {
		return fmt.Errorf("writing object '%s': %w", path, err)
	}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(manifestBucket).Put(id[:], []byte{1})
	}); err != nil {
		return fmt.Errorf("recording object %s in manifest: %w", id, err)
	}

	d.read.Add(id, data)
	return nil
}

func (d *Directory) Read(id object.ID) ([]byte, error) {
	if data, ok := d.read.Get(id); ok {
		return data, nil
	}

	path, err := d.Path(id, false)
	if err != nil {
		return nil, err
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("reading object '%s': %w", path, err)
	}

	d.read.Add(id, data)
	return data, nil
}

func (d *Directory) Delete(ids []object.ID) error {
	for _, id := range ids {
		path, err := d.Path(id, false)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("deleting object '%s': %w", path, err)
		}
		d.read.Remove(id)
		if err := d.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(manifestBucket).Delete(id[:])
		}); err != nil {
			return fmt.Errorf("removing object %s from manifest: %w", id, err)
		}
	}
	return nil
}

// Preload is a no-op for Directory: local disk reads are already as
// fast as this backend gets, so there is nothing worth prefetching
// ahead of a synchronous Read.
func (d *Directory) Preload(ids []object.ID) error { return nil }

// Sync is a no-op: every Write already completed synchronously.
func (d *Directory) Sync() error { return nil }

// Has reports whether id is recorded in the manifest, without touching
// the filesystem.
func (d *Directory) Has(id object.ID) (bool, error) {
	var found bool
	err := d.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(manifestBucket).Get(id[:]) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking manifest for object %s: %w", id, err)
	}
	return found, nil
}

// Close releases the manifest database handle.
func (d *Directory) Close() error {
	return d.db.Close()
}
