package repository

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	zbackend "github.com/symmetree-labs/zerostash-sub000/backend"
	"github.com/symmetree-labs/zerostash-sub000/chunk"
	zcrypto "github.com/symmetree-labs/zerostash-sub000/crypto"
	"github.com/symmetree-labs/zerostash-sub000/index"
	"github.com/symmetree-labs/zerostash-sub000/object"
)

const filesField = "files"

// FileEntry is one committed file's metadata: its permission bits,
// modification time, total size, and the ordered list of chunks that
// reassemble it.
type FileEntry struct {
	Mode    os.FileMode     `msgpack:"mode"`
	ModTime time.Time       `msgpack:"mtime"`
	Size    int64           `msgpack:"size"`
	Chunks  []chunk.Pointer `msgpack:"chunks"`
}

// Repository is an open, authenticated handle onto a stash: it owns the
// key schedule, the backend, the in-memory VersionedMap of committed
// files, and the commit log. It plays the role the teacher's
// bits.Repository plays for a git working tree, generalized from
// "git blob chunk bookkeeping" to "the whole encrypted object store".
//
// Grounded on bits/repository.go's Repository struct and NewRepository
// constructor (progress-reporting goroutine, remote wiring) and
// infinitree/src/tree.rs (root index, commit semantics).
type Repository struct {
	schedule *zcrypto.Schedule
	backend  zbackend.Backend
	conf     *Conf

	rootID object.ID

	mu      sync.Mutex
	log     []LogEntry
	objects map[string][]index.ResolvedTransaction

	files *index.VersionedMap[string, FileEntry]

	balancer *chunk.Balancer
	reader   *chunk.Reader

	progress *progressReporter

	// seen deduplicates chunk writes within this process: if a content
	// hash has already been written once (in this session, to this
	// backend), reuse its Pointer instead of writing the identical
	// ciphertext again. Convergent encryption makes this safe to do
	// lazily rather than requiring a global index scan first.
	seenMu sync.Mutex
	seen   map[[32]byte]chunk.Pointer
}

// Open authenticates against backend with schedule and loads (or
// initializes, if the stash has never been committed to) the
// repository's file index and commit log.
func Open(schedule *zcrypto.Schedule, be zbackend.Backend, conf *Conf, progressFn ProgressFn) (*Repository, error) {
	if conf == nil {
		conf = DefaultConf()
	}

	repo := &Repository{
		schedule: schedule,
		backend:  be,
		conf:     conf,
		rootID:   object.ID(schedule.RootObjectID),
		progress: newProgressReporter(progressFn),
		seen:     make(map[[32]byte]chunk.Pointer),
	}

	ri, err := readRootIndex(be, schedule.IndexKey, repo.rootID)
	if err != nil {
		return nil, fmt.Errorf("reading root index: %w", err)
	}
	repo.objects = ri.Objects
	repo.log = ri.Log

	ir := index.NewReader(be, schedule.IndexKey)
	envs, err := ir.ReadField(filesField, repo.objects[filesField], index.FullHistory)
	if err != nil {
		return nil, fmt.Errorf("replaying %q field: %w", filesField, err)
	}
	files, err := index.DecodeVersionedMap[string, FileEntry](envs)
	if err != nil {
		return nil, fmt.Errorf("decoding %q field: %w", filesField, err)
	}
	repo.files = files

	balancer, err := chunk.NewBalancer(be, schedule.ChunkKey, conf.BalancerWriters)
	if err != nil {
		return nil, fmt.Errorf("starting chunk balancer: %w", err)
	}
	repo.balancer = balancer
	repo.reader = chunk.NewReader(be, schedule.ChunkKey)

	return repo, nil
}

// Put splits r into content-defined chunks via splitter, writes any
// not already seen this session, and stages path's new FileEntry for
// the next Commit.
func (repo *Repository) Put(path string, r io.Reader, mode os.FileMode, modTime time.Time, splitter chunk.Splitter) error {
	chunks, err := splitter.Split(r)
	if err != nil {
		return fmt.Errorf("splitting %q: %w", path, err)
	}

	var size int64
	pointers := make([]chunk.Pointer, 0, len(chunks))
	for _, c := range chunks {
		hash := zcrypto.SecureHash(c.Data)

		repo.seenMu.Lock()
		p, dup := repo.seen[hash]
		repo.seenMu.Unlock()

		if dup {
			repo.progress.emit(OpDedup, int64(len(c.Data)))
		} else {
			p, err = repo.balancer.WriteChunk(c.Data)
			if err != nil {
				return fmt.Errorf("writing chunk of %q at offset %d: %w", path, c.Offset, err)
			}
			repo.seenMu.Lock()
			repo.seen[hash] = p
			repo.seenMu.Unlock()
			repo.progress.emit(OpWrite, int64(len(c.Data)))
		}

		pointers = append(pointers, p)
		size += int64(len(c.Data))
	}

	repo.mu.Lock()
	repo.files.Put(path, FileEntry{Mode: mode, ModTime: modTime, Size: size, Chunks: pointers})
	repo.mu.Unlock()

	return nil
}

// Delete stages a tombstone for path, removing it on the next Commit
// even though its chunks remain in the backend (compaction is out of
// scope; see SPEC_FULL.md).
func (repo *Repository) Delete(path string) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.files.Delete(path)
}

// Get writes path's current content to w, resolving every chunk in
// order.
func (repo *Repository) Get(path string, w io.Writer) error {
	repo.mu.Lock()
	entry, ok := repo.files.Get(path)
	repo.mu.Unlock()
	if !ok {
		return fmt.Errorf("%q: %w", path, ErrNotFound)
	}

	for _, p := range entry.Chunks {
		data, err := repo.reader.ReadChunk(p)
		if err != nil {
			return fmt.Errorf("reading chunk of %q at object %s offset %d: %w", path, p.ObjectID, p.Offset, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("writing %q: %w", path, err)
		}
		repo.progress.emit(OpRead, int64(len(data)))
	}
	return nil
}

// Stat returns path's committed metadata without reading its content.
func (repo *Repository) Stat(path string) (FileEntry, bool) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	return repo.files.Get(path)
}

// List calls fn for every currently-committed path, in unspecified
// order.
func (repo *Repository) List(fn func(path string, entry FileEntry) bool) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.files.Range(fn)
}

// Commit flushes every pending chunk write, persists the staged file
// index changes as a new generation, and records message against it in
// the commit log. A commit's generation is the BLAKE2b hash of the
// field→start-object map it is about to record, not a running counter:
// it is derived from what the commit actually writes rather than
// assigned sequentially.
func (repo *Repository) Commit(message string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if err := repo.balancer.Flush(); err != nil {
		return fmt.Errorf("flushing chunk writers: %w", err)
	}

	iw, err := index.NewWriter(repo.backend, repo.schedule.IndexKey, 0)
	if err != nil {
		return fmt.Errorf("starting index writer: %w", err)
	}

	starts := make(map[string]object.ID)
	if repo.files.Dirty() {
		starts[filesField] = iw.CurrentObject()
	}
	generation := commitGeneration(starts)
	iw.SetGeneration(generation)

	txn, wrote, err := repo.files.Encode(iw, filesField)
	if err != nil {
		return fmt.Errorf("encoding %q field for commit %d: %w", filesField, generation, err)
	}
	if err := iw.Flush(); err != nil {
		return fmt.Errorf("flushing index for commit %d: %w", generation, err)
	}

	if wrote {
		repo.objects[filesField] = append([]index.ResolvedTransaction{{
			Transaction: txn,
			Generation:  generation,
		}}, repo.objects[filesField]...)
	}

	repo.log = append([]LogEntry{{
		Generation: generation,
		Time:       time.Now(),
		Message:    message,
	}}, repo.log...)

	ri := &rootIndex{Objects: repo.objects, Log: repo.log}
	if err := writeRootIndex(ri, repo.backend, repo.schedule.IndexKey, repo.rootID); err != nil {
		return fmt.Errorf("persisting root index for commit %d: %w", generation, err)
	}

	if err := repo.backend.Sync(); err != nil {
		return fmt.Errorf("syncing backend after commit %d: %w", generation, err)
	}

	return nil
}

// commitGeneration hashes the field→start-object map a commit is about
// to record into its generation number: BLAKE2b over each field name and
// the object id its segment starts at, fields sorted by name so the
// result doesn't depend on Go's randomized map iteration order.
func commitGeneration(starts map[string]object.ID) uint64 {
	names := make([]string, 0, len(starts))
	for name := range starts {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		buf.WriteString(name)
		buf.WriteByte(0)
		id := starts[name]
		buf.Write(id[:])
	}

	sum := zcrypto.SecureHash(buf.Bytes())
	return binary.BigEndian.Uint64(sum[:8])
}

// Log returns the commit log, most-recent-first.
func (repo *Repository) Log() []LogEntry {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	out := make([]LogEntry, len(repo.log))
	copy(out, repo.log)
	return out
}

// Close releases the key schedule's master secret and the backend, if
// it implements io.Closer.
func (repo *Repository) Close() error {
	repo.progress.close()
	repo.schedule.Close()
	if c, ok := repo.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ErrNotFound is returned by Get/Stat when no committed entry exists
// for the requested path.
var ErrNotFound = fmt.Errorf("file not found in stash")
