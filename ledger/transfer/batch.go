package transfer

import (
	"context"

	"github.com/LerianStudio/lib-ledger/ledger/errgroup"
	"github.com/LerianStudio/lib-ledger/ledger/transaction"
)

// Result pairs a batch entry with its outcome.
type Result struct {
	Outcome transaction.Outcome
	Err     error
}

// TransferBatch runs each request in its own unit of work, at most the batch
// limit at a time. Results follow the order of reqs. One transfer failing
// does not cancel the others; the returned error is non-nil only when a
// transfer panicked.
func (s *Service) TransferBatch(ctx context.Context, reqs []transaction.TransferRequest) ([]Result, error) {
	results := make([]Result, len(reqs))

	var group errgroup.Group

	group.SetLogger(s.logger)
	group.SetLimit(s.batchLimit)

	for i := range reqs {
		group.Go(func() error {
			outcome, err := s.Transfer(ctx, reqs[i])
			results[i] = Result{Outcome: outcome, Err: err}

			return nil
		})
	}

	return results, group.Wait()
}
