//go:build unit

package errgroup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_FirstErrorWinsAndCancels(t *testing.T) {
	t.Parallel()

	first := errors.New("first")
	grp, ctx := WithContext(context.Background())

	grp.Go(func() error { return first })
	grp.Go(func() error {
		<-ctx.Done()
		return errors.New("second")
	})

	assert.ErrorIs(t, grp.Wait(), first)
	assert.Error(t, ctx.Err())
}

func TestGroup_AllSucceed(t *testing.T) {
	t.Parallel()

	var n atomic.Int32

	grp, _ := WithContext(context.Background())
	for i := 0; i < 10; i++ {
		grp.Go(func() error {
			n.Add(1)
			return nil
		})
	}

	require.NoError(t, grp.Wait())
	assert.Equal(t, int32(10), n.Load())
}

func TestGroup_PanicBecomesError(t *testing.T) {
	t.Parallel()

	grp, _ := WithContext(context.Background())
	grp.SetLogger(log.NewNop())
	grp.Go(func() error { panic("bad worker") })

	err := grp.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPanicRecovered)
	assert.Contains(t, err.Error(), "bad worker")
}

func TestGroup_ZeroValueUsable(t *testing.T) {
	t.Parallel()

	var grp Group
	grp.Go(func() error { return nil })

	assert.NoError(t, grp.Wait())
}

func TestGroup_SetLimitBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32

	grp, _ := WithContext(context.Background())
	grp.SetLimit(2)

	for i := 0; i < 8; i++ {
		grp.Go(func() error {
			cur := running.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}

			time.Sleep(5 * time.Millisecond)
			running.Add(-1)

			return nil
		})
	}

	require.NoError(t, grp.Wait())
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Positive(t, peak.Load())
}
