package chunk

import "fmt"

// Balancer stripes WriteChunk calls across N independent Writer
// instances behind a bounded channel, so a single logical file's chunks
// land spread across several objects instead of funneling through one.
// This is the chunk.Writer-for-parallelism companion the original
// splitter pipeline assumes is available whenever chunk writes outpace
// a single object's encode-and-flush rate.
//
// Grounded on infinitree/src/object/write_balancer.rs, which hands out
// writers round-robin from a fixed pool via a channel rather than
// picking one at random or always using the least-loaded.
type Balancer struct {
	writers []*Writer
	next    chan *Writer
}

// NewBalancer builds a Balancer over n Writers, each independently
// talking to backend with the same chunkKey.
func NewBalancer(backend Backend, chunkKey [32]byte, n int) (*Balancer, error) {
	if n < 1 {
		return nil, fmt.Errorf("balancer requires at least 1 writer, got %d", n)
	}

	b := &Balancer{
		writers: make([]*Writer, n),
		next:    make(chan *Writer, n),
	}
	for i := 0; i < n; i++ {
		w, err := NewWriter(backend, chunkKey)
		if err != nil {
			return nil, fmt.Errorf("starting balancer writer %d: %w", i, err)
		}
		b.writers[i] = w
	}
	for _, w := range b.writers {
		b.next <- w
	}
	return b, nil
}

// WriteChunk hands the chunk to whichever writer the round-robin
// channel offers next, then returns that writer to the back of the
// queue. Safe for concurrent use by multiple goroutines splitting the
// same logical file.
func (b *Balancer) WriteChunk(data []byte) (Pointer, error) {
	w := <-b.next
	defer func() { b.next <- w }()
	return w.WriteChunk(data)
}

// Flush flushes every underlying writer, sealing and storing whatever
// partial objects remain.
func (b *Balancer) Flush() error {
	for i, w := range b.writers {
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flushing balancer writer %d: %w", i, err)
		}
	}
	return nil
}
