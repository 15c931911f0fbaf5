package recordstore

import (
	"context"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
)

// Codec converts between a domain record and its single-line form.
type Codec[T any] interface {
	Encode(T) (string, error)
	Decode(string) (T, error)
}

// Typed interprets the lines of a Store as records of type T.
type Typed[T any] struct {
	store   *Store
	codec   Codec[T]
	invalid func(line string, err error)
}

// TypedOption configures a Typed store.
type TypedOption[T any] func(*Typed[T])

// WithDropInvalid makes undecodable lines be skipped instead of failing the
// operation. report is called for each dropped line; the line disappears
// from the file on the next write.
func WithDropInvalid[T any](report func(line string, err error)) TypedOption[T] {
	return func(t *Typed[T]) {
		t.invalid = report
	}
}

// NewTyped wraps store with codec.
func NewTyped[T any](store *Store, codec Codec[T], opts ...TypedOption[T]) *Typed[T] {
	t := &Typed[T]{store: store, codec: codec}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Store returns the underlying line store.
func (t *Typed[T]) Store() *Store {
	return t.store
}

// All decodes every record in file order.
func (t *Typed[T]) All(ctx context.Context) ([]T, error) {
	lines, err := t.store.Lines(ctx)
	if err != nil {
		return nil, err
	}
	return t.decodeAll(lines)
}

// Add encodes rec and inserts it if an identical line is not present.
func (t *Typed[T]) Add(ctx context.Context, rec T) error {
	line, err := t.codec.Encode(rec)
	if err != nil {
		return err
	}
	return t.store.Add(ctx, line)
}

// Update runs fn on the decoded records while holding the lock and writes
// the result back if fn reports a change. An error from fn aborts the update
// without writing.
func (t *Typed[T]) Update(ctx context.Context, fn func(recs []T) ([]T, bool, error)) error {
	var fnErr error
	err := t.store.Update(ctx, func(lines []string) ([]string, bool) {
		recs, err := t.decodeAll(lines)
		if err != nil {
			fnErr = err
			return nil, false
		}
		next, changed, err := fn(recs)
		if err != nil {
			fnErr = err
			return nil, false
		}
		if !changed {
			return nil, false
		}
		out := make([]string, 0, len(next))
		for _, r := range next {
			line, err := t.codec.Encode(r)
			if err != nil {
				fnErr = err
				return nil, false
			}
			out = append(out, line)
		}
		return out, true
	})
	if fnErr != nil {
		return fnErr
	}
	return err
}

func (t *Typed[T]) decodeAll(lines []string) ([]T, error) {
	recs := make([]T, 0, len(lines))
	for i, line := range lines {
		rec, err := t.codec.Decode(line)
		if err != nil && t.invalid != nil {
			t.invalid(line, err)
			continue
		}
		if err != nil {
			var fe *errors.FormatError
			if errors.As(err, &fe) {
				return nil, fe.WithSource(t.store.Path()).WithLine(i + 1)
			}
			return nil, errors.NewFormatError("decode record").
				WithSource(t.store.Path()).WithLine(i + 1).WithCause(err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
