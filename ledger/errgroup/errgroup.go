package errgroup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/LerianStudio/lib-ledger/ledger/runtime"
)

// ErrPanicRecovered is returned when a goroutine in the group panics.
var ErrPanicRecovered = errors.New("errgroup: panic recovered")

// Group manages a set of goroutines that share a cancellation context.
// The first error returned by any goroutine cancels the group's context
// and is returned by Wait. Subsequent errors are discarded.
type Group struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
	logger  log.Logger
	sem     chan struct{}
}

// SetLogger sets the logger used to report recovered panics.
func (grp *Group) SetLogger(logger log.Logger) {
	if grp == nil {
		return
	}

	grp.logger = logger
}

// SetLimit bounds the number of goroutines running at once. Go blocks while
// the limit is reached. A non-positive n removes the bound. It must not be
// called while goroutines are running.
func (grp *Group) SetLimit(n int) {
	if n <= 0 {
		grp.sem = nil
		return
	}

	grp.sem = make(chan struct{}, n)
}

func (grp *Group) effectiveCtx() context.Context {
	if grp.ctx != nil {
		return grp.ctx
	}

	return context.Background()
}

// WithContext returns a new Group and a derived context.Context.
// The derived context is canceled when the first goroutine in the Group
// returns a non-nil error or when Wait returns, whichever occurs first.
func WithContext(ctx context.Context) (*Group, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &Group{ctx: ctx, cancel: cancel}, ctx
}

func (grp *Group) fail(err error) {
	grp.errOnce.Do(func() {
		grp.err = err
		if grp.cancel != nil {
			grp.cancel()
		}
	})
}

// Go starts fn in a new goroutine. The first non-nil error returned by a
// goroutine is recorded and cancels the group context.
func (grp *Group) Go(fn func() error) {
	if grp.sem != nil {
		grp.sem <- struct{}{}
	}

	grp.wg.Add(1)

	go func() {
		defer grp.wg.Done()
		defer func() {
			if grp.sem != nil {
				<-grp.sem
			}
		}()
		defer func() {
			if recovered := recover(); recovered != nil {
				runtime.HandlePanicValue(grp.effectiveCtx(), grp.logger, recovered, "errgroup", "group.Go")
				grp.fail(fmt.Errorf("%w: %v", ErrPanicRecovered, recovered))
			}
		}()

		if err := fn(); err != nil {
			grp.fail(err)
		}
	}()
}

// Wait blocks until all goroutines have returned, cancels the group context,
// and returns the first recorded error.
func (grp *Group) Wait() error {
	grp.wg.Wait()

	if grp.cancel != nil {
		grp.cancel()
	}

	return grp.err
}
