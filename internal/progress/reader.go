// Package progress reports how many bytes have been read from a stream.
package progress

import "io"

// Default notification granularity.
const (
	KnownChunk   = 16 * 1024
	UnknownChunk = 256 * 1024
)

// Listener receives the cumulative number of bytes read.
type Listener func(transferred int64)

// Option configures a Reader.
type Option func(*Reader)

// WithChunks overrides the notification granularity for streams of known
// and unknown size. Non-positive values keep the default.
func WithChunks(known, unknown int64) Option {
	return func(r *Reader) {
		if known > 0 {
			r.known = known
		}
		if unknown > 0 {
			r.unknown = unknown
		}
	}
}

// Reader wraps a source and notifies a Listener as bytes pass through.
//
// The listener is called with each multiple of the chunk size the total
// crosses, and once more at end of stream with the final total unless that
// value was just reported. Reported values are strictly increasing, and the
// set of values depends only on the stream length, not on how reads are
// sized. An empty stream reports 0 exactly once.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	src      io.Reader
	listener Listener

	known, unknown int64
	chunk          int64

	total        int64
	lastNotified int64
	eof          bool
}

// NewReader wraps src. size is the expected length, or a non-positive value
// if it is unknown; it selects the chunk size only.
func NewReader(src io.Reader, size int64, listener Listener, opts ...Option) *Reader {
	r := &Reader{
		src:          src,
		listener:     listener,
		known:        KnownChunk,
		unknown:      UnknownChunk,
		lastNotified: -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.chunk = r.unknown
	if size > 0 {
		r.chunk = r.known
	}
	return r
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		prev := r.total
		r.total += int64(n)
		// Report every chunk boundary crossed by this read.
		for mark := (prev/r.chunk + 1) * r.chunk; mark <= r.total; mark += r.chunk {
			r.notify(mark)
		}
	}
	if err == io.EOF && !r.eof {
		r.eof = true
		if r.lastNotified != r.total {
			r.notify(r.total)
		}
	}
	return n, err
}

// Close closes the source if it implements io.Closer.
func (r *Reader) Close() error {
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Transferred returns the number of bytes read so far.
func (r *Reader) Transferred() int64 {
	return r.total
}

func (r *Reader) notify(v int64) {
	r.lastNotified = v
	if r.listener != nil {
		r.listener(v)
	}
}
