package repository

import (
	"fmt"
	"io"
	"time"

	"github.com/VividCortex/ewma"
	humanize "github.com/dustin/go-humanize"
)

// Op names which pipeline stage a ProgressEvent came from, mirroring the
// teacher's KeyOp.Op in bits/repository.go (there: IndexOp/PushOp/
// FetchOp over chunk keys; here: the same idea over chunk/object
// throughput during split/commit/checkout).
type Op string

const (
	OpSplit Op = "split"
	OpWrite Op = "write"
	OpRead  Op = "read"
	OpDedup Op = "dedup"
)

// Event is one unit of progress: an operation and how many plaintext
// bytes it moved.
type Event struct {
	Op    Op
	Bytes int64
}

// ProgressFn receives each Event along with a smoothed throughput
// figure (bytes/sec), exactly the signature shape of the teacher's
// Repository.KeyProgressFn.
type ProgressFn func(Event, float64)

// defaultProgressFn renders events with go-humanize, matching
// bits/repository.go's default fmt.Fprintf(repo.output, ...) reporter.
func defaultProgressFn(w io.Writer) ProgressFn {
	return func(e Event, throughput float64) {
		fmt.Fprintf(w, "%s %s (%s/s)\n", e.Op, humanize.Bytes(uint64(e.Bytes)), humanize.Bytes(uint64(throughput)))
	}
}

// progressReporter smooths raw Events into a smoothed throughput figure
// via an EWMA, matching the goroutine NewRepository spins up around
// repo.keyProgressCh.
type progressReporter struct {
	ch chan Event
	fn ProgressFn
}

func newProgressReporter(fn ProgressFn) *progressReporter {
	if fn == nil {
		fn = defaultProgressFn(io.Discard)
	}
	r := &progressReporter{ch: make(chan Event, 64), fn: fn}

	go func() {
		lastT := time.Now()
		avg := ewma.NewMovingAverage()
		for e := range r.ch {
			now := time.Now()
			diff := now.Sub(lastT)
			if e.Bytes > 0 && diff > 0 {
				avg.Add(float64(e.Bytes) / diff.Seconds())
			}
			r.fn(e, avg.Value())
			lastT = now
		}
	}()

	return r
}

func (r *progressReporter) emit(op Op, n int64) {
	select {
	case r.ch <- Event{Op: op, Bytes: n}:
	default:
		// reporter is behind; drop rather than block the hot path.
	}
}

func (r *progressReporter) close() { close(r.ch) }
