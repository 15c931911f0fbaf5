package filelock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// pollInterval is how often a cancellable Lock retries a contended flock.
const pollInterval = 25 * time.Millisecond

// Owner identifies one logical holder of a Lock. The zero value is never
// used; owners are created by WithOwner.
type Owner struct {
	id uint64
}

// String returns a short identifier for log output.
func (o *Owner) String() string {
	if o == nil {
		return "none"
	}
	return fmt.Sprintf("owner-%d", o.id)
}

var ownerSeq atomic.Uint64

type ownerKey struct{}

// WithOwner returns ctx unchanged if it already carries an owner, and
// otherwise a child context carrying a fresh owner.
func WithOwner(ctx context.Context) context.Context {
	if OwnerFrom(ctx) != nil {
		return ctx
	}
	return NewOwner(ctx)
}

// NewOwner returns a child context carrying a fresh owner, even if ctx
// already has one. Use it when handing work to another goroutine that must
// not share the caller's holds.
func NewOwner(ctx context.Context) context.Context {
	return context.WithValue(ctx, ownerKey{}, &Owner{id: ownerSeq.Add(1)})
}

// OwnerFrom returns the owner carried by ctx, or nil.
func OwnerFrom(ctx context.Context) *Owner {
	o, _ := ctx.Value(ownerKey{}).(*Owner)
	return o
}
