// Package chunk implements content-defined splitting of plaintext
// streams, the fixed-format chunk pointer, and the object-backed
// writer/reader/balancer that pack and seal split chunks.
//
// The splitter strategies are grounded on libzerostash/src/rollsum.rs
// (bup-style) and libzerostash/src/splitter.rs (SeaHash-style); the
// third, ResticSplitter, reuses the teacher's own chunking dependency
// (github.com/restic/chunker, see bits/repository.go) as an additional
// pluggable strategy rather than discarding it.
package chunk

import (
	"bytes"
	"fmt"
	"io"

	"github.com/restic/chunker"
)

const (
	// AvgChunkSize is the target average chunk size for both the bup
	// and SeaHash splitters.
	AvgChunkSize = 64 * 1024

	// MaxChunkSize hard-caps any single chunk regardless of splitter,
	// independent of what the rolling hash would otherwise allow.
	MaxChunkSize = 256 * 1024

	windowSize = 64
)

// Chunk is one content-defined slice of an input stream together with
// its offset in that stream.
type Chunk struct {
	Offset int64
	Data   []byte
}

// Splitter divides a byte stream into content-defined chunks. Split must
// consume r to EOF and return every chunk covering the input exactly
// once, in order, with no gaps or overlaps.
type Splitter interface {
	Split(r io.Reader) ([]Chunk, error)
}

// BupSplitter implements the bup/rsync-style rolling checksum splitter:
// a 64-byte trailing window accumulates two mod-2^16 sums (s1, s2); a
// chunk boundary falls wherever s2's low bits are all 1, giving a
// geometric chunk-size distribution around AvgChunkSize.
type BupSplitter struct{}

func (BupSplitter) Split(r io.Reader) ([]Chunk, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading splitter input: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	const splitMask = uint32(AvgChunkSize - 1)

	var chunks []Chunk
	start := 0
	var s1, s2 uint32
	windowStart := 0

	addByte := func(b byte) {
		s1 += uint32(b) + 1
		s2 += s1
	}
	dropByte := func(b byte) {
		s1 -= uint32(b) + 1
		s2 -= uint32(windowSize) * (uint32(b) + 1)
	}

	for i := 0; i < len(data); i++ {
		addByte(data[i])
		if i-windowStart+1 > windowSize {
			dropByte(data[windowStart])
			windowStart++
		}

		size := i - start + 1
		atBoundary := size >= windowSize && (s2&splitMask) == splitMask
		if atBoundary || size >= MaxChunkSize {
			chunks = append(chunks, Chunk{Offset: int64(start), Data: data[start : i+1]})
			start = i + 1
			windowStart = start
			s1, s2 = 0, 0
		}
	}
	if start < len(data) {
		chunks = append(chunks, Chunk{Offset: int64(start), Data: data[start:]})
	}
	return chunks, nil
}

// SeaSplitter implements the SeaHash-style splitter: a 64-byte window is
// rehashed with a SeaHash-derived stride mix at every byte, and a
// boundary falls wherever the hash's low bits are all 1. Unlike
// BupSplitter's incremental rollsum, this recomputes over the trailing
// window at each position, matching the non-incremental formulation in
// libzerostash/src/splitter.rs.
type SeaSplitter struct{}

func (SeaSplitter) Split(r io.Reader) ([]Chunk, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading splitter input: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	const splitMask = uint64(AvgChunkSize - 1)

	var chunks []Chunk
	start := 0

	for i := 0; i < len(data); i++ {
		size := i - start + 1
		if size < windowSize {
			continue
		}
		h := seaHashWindow(data[i-windowSize+1 : i+1])
		if h&splitMask == splitMask || size >= MaxChunkSize {
			chunks = append(chunks, Chunk{Offset: int64(start), Data: data[start : i+1]})
			start = i + 1
		}
	}
	if start < len(data) {
		chunks = append(chunks, Chunk{Offset: int64(start), Data: data[start:]})
	}
	return chunks, nil
}

// seaHashWindow is a SeaHash-derived mixing function over a fixed 8-byte
// stride: each 8-byte group is folded in with SeaHash's diffusion
// multiply-rotate-xor, matching the shape (not the exact reference
// vectors) of the algorithm described in libzerostash/src/splitter.rs.
func seaHashWindow(window []byte) uint64 {
	const (
		seed0 = 0x16f11fe89b0d677c
		seed1 = 0xb480a793d8e6c86c
		seed2 = 0x6fe2e5aaf078ebc9
		seed3 = 0x14f994a4c5259381
		prime = 0x2f72b6655b664a65
	)
	a, b, c, d := uint64(seed0), uint64(seed1), uint64(seed2), uint64(seed3)

	for len(window) >= 8 {
		v := uint64(window[0]) | uint64(window[1])<<8 | uint64(window[2])<<16 | uint64(window[3])<<24 |
			uint64(window[4])<<32 | uint64(window[5])<<40 | uint64(window[6])<<48 | uint64(window[7])<<56
		a = diffuse(a ^ v)
		a, b, c, d = b, c, d, a
		window = window[8:]
	}
	if len(window) > 0 {
		var buf [8]byte
		copy(buf[:], window)
		v := uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
			uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56
		a = diffuse(a ^ v ^ uint64(len(window)))
	}
	return diffuse(a ^ b ^ c ^ d ^ prime)
}

func diffuse(x uint64) uint64 {
	x *= 0x6eed0e9da4d94a4f
	x ^= (x >> 32) >> (x >> 60)
	x *= 0x6eed0e9da4d94a4f
	return x
}

// ResticSplitter wraps github.com/restic/chunker's Rabin-fingerprint
// splitter as a third, opt-in strategy, exactly the dependency the
// teacher already wired in bits/repository.go, repurposed here to the
// same Splitter interface rather than dropped.
type ResticSplitter struct {
	// Pol is the Rabin polynomial chunks are split with. When Pol is
	// zero, Split picks a fresh chunker.RandomPolynomial() on every
	// call, so two calls over the same input need not produce the same
	// chunk boundaries; set Pol for repeatable splits.
	Pol chunker.Pol
}

func (s ResticSplitter) Split(r io.Reader) ([]Chunk, error) {
	pol := s.Pol
	if pol == 0 {
		var err error
		pol, err = chunker.RandomPolynomial()
		if err != nil {
			return nil, fmt.Errorf("selecting restic chunker polynomial: %w", err)
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading splitter input: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	c := chunker.NewWithBoundaries(bytes.NewReader(data), pol, AvgChunkSize/2, MaxChunkSize)
	buf := make([]byte, MaxChunkSize)

	var chunks []Chunk
	var offset int64
	for {
		ch, err := c.Next(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("restic chunker: %w", err)
		}
		cp := make([]byte, len(ch.Data))
		copy(cp, ch.Data)
		chunks = append(chunks, Chunk{Offset: offset, Data: cp})
		offset += int64(len(cp))
	}
	return chunks, nil
}
