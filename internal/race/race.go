// Package race runs several ways of obtaining the same value concurrently and
// settles on the best one by rank.
//
// Every candidate starts immediately. The race resolves to the lowest-ranked
// success as soon as every lower rank has finished (failed), without waiting
// for higher ranks; those are cancelled through their context. If every
// candidate fails, the race resolves to a failure carrying all the errors.
package race

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
	"github.com/Iron-Ham/jnlpcache/internal/logging"
)

// State is the lifecycle state of one candidate.
type State int

const (
	Pending State = iota
	Running
	Succeeded
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// Candidate is one way of producing a value. Lower Rank is preferred. Run
// must return promptly once its context is cancelled; a candidate that does
// not still never delays resolution.
type Candidate[T any] struct {
	Rank int
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Outcome is the resolved result of a race. It is a success iff Err is nil,
// in which case Rank, Name and Value describe the winner.
type Outcome[T any] struct {
	Rank  int
	Name  string
	Value T
	Err   error
}

// OK reports whether the race produced a value.
func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

// Option configures a race.
type Option func(*options)

type options struct {
	logger *logging.Logger
}

// WithLogger sets the logger for candidate transitions.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

type result[T any] struct {
	idx   int
	value T
	err   error
}

// Race is a running race. Create it with Start.
type Race[T any] struct {
	cands   []Candidate[T] // sorted by rank
	cancels []context.CancelFunc
	results chan result[T]
	logger  *logging.Logger

	mu     sync.Mutex
	states []State
	values []T

	done    chan struct{}
	outcome Outcome[T]
	winner  int

	wg conc.WaitGroup

	leftoverOnce sync.Once
	leftovers    []T
}

// Start validates the candidates and launches all of them. It does not
// block. Ranks must be unique and at least one candidate is required.
func Start[T any](ctx context.Context, candidates []Candidate[T], opts ...Option) (*Race[T], error) {
	if len(candidates) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "race: no candidates")
	}
	cands := slices.Clone(candidates)
	slices.SortStableFunc(cands, func(a, b Candidate[T]) int { return a.Rank - b.Rank })
	for i, c := range cands {
		if c.Run == nil {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "race: candidate %d has no Run", c.Rank)
		}
		if i > 0 && cands[i-1].Rank == c.Rank {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "race: duplicate rank %d", c.Rank)
		}
	}

	o := options{logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Race[T]{
		cands:   cands,
		cancels: make([]context.CancelFunc, len(cands)),
		results: make(chan result[T], len(cands)),
		logger:  o.logger,
		states:  make([]State, len(cands)),
		values:  make([]T, len(cands)),
		done:    make(chan struct{}),
		winner:  -1,
	}

	ctxs := make([]context.Context, len(cands))
	for i := range cands {
		ctxs[i], r.cancels[i] = context.WithCancel(ctx)
	}
	for i := range cands {
		r.wg.Go(func() { r.run(ctxs[i], i) })
	}
	go r.coordinate(ctx)

	return r, nil
}

// Run starts the candidates and waits for the outcome.
func Run[T any](ctx context.Context, candidates []Candidate[T], opts ...Option) (Outcome[T], error) {
	r, err := Start(ctx, candidates, opts...)
	if err != nil {
		return Outcome[T]{}, err
	}
	return r.Wait(context.Background()), nil
}

// Wait blocks until the race resolves and returns its outcome. If ctx is
// done first, Wait returns a failure wrapping ErrCanceled without affecting
// the race itself.
func (r *Race[T]) Wait(ctx context.Context) Outcome[T] {
	select {
	case <-r.done:
		return r.outcome
	case <-ctx.Done():
		return Outcome[T]{Rank: -1, Err: errors.Wrapf(errors.ErrCanceled, "waiting for race: %v", ctx.Err())}
	}
}

// Done is closed once the race has resolved.
func (r *Race[T]) Done() <-chan struct{} {
	return r.done
}

// States returns a snapshot of every candidate's state keyed by rank.
func (r *Race[T]) States() map[int]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]State, len(r.cands))
	for i, c := range r.cands {
		out[c.Rank] = r.states[i]
	}
	return out
}

// Settle blocks until every candidate function has returned, including those
// that were cancelled after resolution.
func (r *Race[T]) Settle() {
	r.wg.Wait()
}

// Leftovers waits for every candidate to return and yields the values of
// successful candidates other than the winner, including results that
// arrived after they were cancelled. Callers use it to release resources
// such as temporary files held by losing values.
func (r *Race[T]) Leftovers() []T {
	r.leftoverOnce.Do(func() {
		r.Settle()
		<-r.done

		r.mu.Lock()
		for i, s := range r.states {
			if s == Succeeded && i != r.winner {
				r.leftovers = append(r.leftovers, r.values[i])
			}
		}
		r.mu.Unlock()

		// The coordinator has stopped reading; whatever is still buffered
		// arrived after resolution.
		for {
			select {
			case res := <-r.results:
				if res.err == nil {
					r.leftovers = append(r.leftovers, res.value)
				}
				continue
			default:
			}
			break
		}
	})
	return r.leftovers
}

func (r *Race[T]) run(ctx context.Context, i int) {
	c := r.cands[i]

	r.mu.Lock()
	if r.states[i] != Pending {
		r.mu.Unlock()
		return
	}
	r.states[i] = Running
	r.mu.Unlock()

	var (
		value T
		err   error
		pc    panics.Catcher
	)
	pc.Try(func() { value, err = c.Run(ctx) })
	if rec := pc.Recovered(); rec != nil {
		err = fmt.Errorf("candidate %q panicked: %w", c.Name, rec.AsError())
	}
	r.results <- result[T]{idx: i, value: value, err: err}
}

func (r *Race[T]) coordinate(parent context.Context) {
	var failures []error
	for {
		select {
		case res := <-r.results:
			if r.record(res) {
				failures = append(failures, res.err)
			}
			if r.tryResolve(failures) {
				return
			}
		case <-parent.Done():
			// Drain results that already arrived so they count as terminal.
			for drained := false; !drained; {
				select {
				case res := <-r.results:
					if r.record(res) {
						failures = append(failures, res.err)
					}
				default:
					drained = true
				}
			}
			if r.tryResolve(failures) {
				return
			}
			r.cancelFrom(0)
			failures = append(failures, errors.Wrapf(errors.ErrCanceled, "race: %v", context.Cause(parent)))
			r.resolve(Outcome[T]{Rank: -1, Err: errors.NewRaceError(failures)})
			return
		}
	}
}

// record applies a candidate result and reports whether it was a failure.
func (r *Race[T]) record(res result[T]) bool {
	c := r.cands[res.idx]
	log := r.logger.WithCandidate(c.Rank, c.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states[res.idx].Terminal() {
		return false
	}
	if res.err != nil {
		r.states[res.idx] = Failed
		log.Debug("candidate failed", "error", res.err.Error(), "kind", errors.Kind(res.err))
		return true
	}
	r.states[res.idx] = Succeeded
	r.values[res.idx] = res.value
	log.Debug("candidate succeeded")
	return false
}

// tryResolve resolves the race if its outcome is already determined.
func (r *Race[T]) tryResolve(failures []error) bool {
	r.mu.Lock()
	winner := -1
	allFailed := true
	var value T
	for i, s := range r.states {
		if s == Failed {
			continue
		}
		allFailed = false
		if s == Succeeded {
			winner = i
			value = r.values[i]
		}
		break
	}
	r.mu.Unlock()

	if allFailed {
		r.resolve(Outcome[T]{Rank: -1, Err: errors.NewRaceError(failures)})
		return true
	}
	if winner < 0 {
		return false
	}

	r.cancelFrom(winner + 1)
	c := r.cands[winner]
	r.winner = winner
	r.resolve(Outcome[T]{Rank: c.Rank, Name: c.Name, Value: value})
	return true
}

// cancelFrom cancels every non-terminal candidate at index i or above.
func (r *Race[T]) cancelFrom(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for j := i; j < len(r.cands); j++ {
		if !r.states[j].Terminal() {
			r.states[j] = Cancelled
			r.cancels[j]()
			r.logger.WithCandidate(r.cands[j].Rank, r.cands[j].Name).Debug("candidate cancelled")
		}
	}
}

func (r *Race[T]) resolve(o Outcome[T]) {
	r.outcome = o
	// Winner and earlier ranks are terminal; release their contexts too.
	for _, cancel := range r.cancels {
		cancel()
	}
	close(r.done)
	if o.Err != nil {
		r.logger.Debug("race failed", "error", o.Err.Error())
	} else {
		r.logger.WithCandidate(o.Rank, o.Name).Debug("race resolved")
	}
}
