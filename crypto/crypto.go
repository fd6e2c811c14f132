// Package crypto derives the key schedule for a stash and performs the
// AEAD sealing and opening used by the object and chunk layers.
//
// The schedule mirrors the teacher's single-master-secret design in
// bits/repository.go (there: a raw AES key read from disk) but replaces
// AES-CBC with ChaCha20-Poly1305 and adds Argon2id password stretching
// and BLAKE2b-keyed subkey derivation, as required for convergent,
// per-purpose keys.
package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the width of every key in the schedule, in bytes.
	KeySize = 32

	// NonceSize is the ChaCha20-Poly1305 nonce width, in bytes.
	NonceSize = chacha20poly1305.NonceSize

	// TagSize is the ChaCha20-Poly1305 authentication tag width, in bytes.
	TagSize = chacha20poly1305.Overhead
)

// subkey contexts, each 8 bytes, hashed as the message of a keyed
// BLAKE2b (see subkey).
var (
	ctxRootObjectID = []byte("_0s_root")
	ctxIndexKey     = []byte("_0s_meta")
	ctxChunkKey     = []byte("_0s_obj_")
)

// Argon2id tuning. These are conservative interactive-use parameters;
// a stash format version bump would be required to change them since
// they feed directly into the master key.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// Schedule holds every derived key needed to operate on a stash. It is
// produced once from a username/password pair and reused for the
// lifetime of the repository.
type Schedule struct {
	// RootObjectID seeds the deterministic root index object id.
	RootObjectID [KeySize]byte

	// IndexKey seals and opens index objects (field streams, headers).
	IndexKey [KeySize]byte

	// ChunkKey is XORed with each chunk's content hash to produce that
	// chunk's convergent encryption key.
	ChunkKey [KeySize]byte

	master [KeySize]byte
}

// NewSchedule derives a full key Schedule from a username and password.
// The username salts the Argon2id password hash; it need not be secret,
// but it must be stable for a given stash (changing it changes every
// derived key).
func NewSchedule(username, password string) (*Schedule, error) {
	salt := blake2b.Sum256([]byte(username))

	master := argon2.IDKey([]byte(password), salt[:], argonTime, argonMemory, argonThreads, KeySize)

	s := &Schedule{}
	copy(s.master[:], master)

	root, err := subkey(s.master[:], ctxRootObjectID)
	if err != nil {
		return nil, fmt.Errorf("deriving root object id subkey: %w", err)
	}
	idx, err := subkey(s.master[:], ctxIndexKey)
	if err != nil {
		return nil, fmt.Errorf("deriving index subkey: %w", err)
	}
	chunk, err := subkey(s.master[:], ctxChunkKey)
	if err != nil {
		return nil, fmt.Errorf("deriving chunk subkey: %w", err)
	}

	s.RootObjectID = root
	s.IndexKey = idx
	s.ChunkKey = chunk

	return s, nil
}

// subkey runs keyed BLAKE2b over the context bytes, using masterKey as
// the MAC key, giving domain-separated 32-byte subkeys from one secret.
func subkey(masterKey, context []byte) ([KeySize]byte, error) {
	var out [KeySize]byte

	h, err := blake2b.New(KeySize, masterKey)
	if err != nil {
		return out, fmt.Errorf("blake2b keyed hash: %w", err)
	}
	if _, err := h.Write(context); err != nil {
		return out, fmt.Errorf("blake2b write: %w", err)
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Close zeroizes the schedule's master secret. The derived subkeys are
// left intact since callers typically hold them for the process
// lifetime; only the seed is scrubbed.
func (s *Schedule) Close() {
	for i := range s.master {
		s.master[i] = 0
	}
}

// SecureHash returns the keyless BLAKE2b-256 digest of data, used as the
// convergent content hash chunks are deduplicated and encrypted by.
func SecureHash(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// ChunkCryptoKey XORs the schedule's chunk key with a chunk's content
// hash, producing the convergent per-chunk AEAD key: identical
// plaintext always yields the identical key. The ciphertext also
// depends on the chunk nonce (see ChunkNonce).
func ChunkCryptoKey(chunkKey [KeySize]byte, contentHash [32]byte) [KeySize]byte {
	var out [KeySize]byte
	for i := range out {
		out[i] = chunkKey[i] ^ contentHash[i]
	}
	return out
}

// Seal encrypts and authenticates plaintext under key and nonce,
// appending the tag, via ChaCha20-Poly1305.
func Seal(key [KeySize]byte, nonce [NonceSize]byte, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("constructing aead: %w", err)
	}
	return aead.Seal(nil, nonce[:], plaintext, aad), nil
}

// Open verifies and decrypts ciphertext (which includes the trailing
// tag) under key and nonce.
func Open(key [KeySize]byte, nonce [NonceSize]byte, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("constructing aead: %w", err)
	}
	pt, err := aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return pt, nil
}

// RandomFill overwrites buf with CSPRNG bytes, used to pad the unused
// tail of an object before it is sealed so ciphertext length never
// betrays the amount of real payload.
func RandomFill(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

// ErrAuthFailed is returned (wrapped) whenever AEAD verification fails,
// meaning the ciphertext was tampered with or the wrong key was used.
var ErrAuthFailed = fmt.Errorf("authentication failed")
