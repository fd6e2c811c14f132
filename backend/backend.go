// Package backend implements the persistent stores objects are written
// to and read from: a local Directory, a remote S3, and a Cache that
// layers a bounded local Directory in front of any other Backend.
//
// Grounded on the teacher's bits/s3.go (S3Remote) and bits/db.go/
// bits/repository.go (boltdb-backed local bookkeeping, two-level hex
// sharding via Repository.Path), generalized from "chunk keys the
// teacher already knows about" to "fixed-size encrypted objects".
package backend

import (
	"fmt"

	"github.com/symmetree-labs/zerostash-sub000/object"
)

// Backend stores and retrieves whole, already-sealed objects. It knows
// nothing about encryption, chunking, or indices — just opaque,
// Size-byte blobs keyed by object.ID.
type Backend interface {
	// Write persists data (which must be exactly object.Size bytes)
	// under id. Writing the same id twice is a no-op on the second
	// call for content-addressed backends; callers never rely on this.
	Write(id object.ID, data []byte) error

	// Read fetches the object stored under id.
	Read(id object.ID) ([]byte, error)

	// Delete removes the objects named by ids. Missing ids are not an
	// error. Nothing in the core write/read/commit path calls this; it
	// exists for an external compaction tool (see design notes on
	// compaction being out of scope).
	Delete(ids []object.ID) error

	// Preload hints that ids will likely be read soon, letting backends
	// that benefit from batching (S3, Cache) start fetching ahead of
	// the synchronous Read calls that will follow.
	Preload(ids []object.ID) error

	// Sync blocks until every Write accepted so far is durable.
	Sync() error
}

// ErrNotFound is wrapped and returned by Read when no object exists
// under the requested id.
var ErrNotFound = fmt.Errorf("object not found")
