package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

var (
	// MetricTransfersProcessed counts finished transfers by final state and mode.
	MetricTransfersProcessed = Metric{
		Name:        "ledger_transfers_processed",
		Unit:        "1",
		Description: "Number of transfers that reached a final state.",
	}

	// MetricTransferDuration measures wall time from begin to final state.
	MetricTransferDuration = Metric{
		Name:        "ledger_transfer_duration",
		Unit:        "ms",
		Description: "Duration of a transfer from begin to final state.",
		Buckets:     DefaultLatencyBuckets,
	}

	// MetricReconciliationRequired counts transfers left partially committed.
	MetricReconciliationRequired = Metric{
		Name:        "ledger_transfers_reconciliation_required",
		Unit:        "1",
		Description: "Number of transfers committed without the destination credit.",
	}

	// MetricUnitOfWorkRollbacks counts rollbacks by kind (checkpoint or all).
	MetricUnitOfWorkRollbacks = Metric{
		Name:        "ledger_uow_rollbacks",
		Unit:        "1",
		Description: "Number of unit-of-work rollbacks.",
	}

	// MetricAssertionFailed counts failed runtime assertions.
	MetricAssertionFailed = Metric{
		Name:        "ledger_assertion_failed",
		Unit:        "1",
		Description: "Number of failed assertions.",
	}
)

// RecordTransferOutcome increments the processed counter for a final state.
func (f *MetricsFactory) RecordTransferOutcome(ctx context.Context, state, mode string, attributes ...attribute.KeyValue) error {
	b, err := f.Counter(MetricTransfersProcessed)
	if err != nil {
		return err
	}

	return b.WithAttributes(attribute.String("state", state), attribute.String("mode", mode)).
		WithAttributes(attributes...).
		AddOne(ctx)
}

// RecordTransferDuration records d in milliseconds against the final state.
func (f *MetricsFactory) RecordTransferDuration(ctx context.Context, state string, d time.Duration) error {
	b, err := f.Histogram(MetricTransferDuration)
	if err != nil {
		return err
	}

	return b.WithAttributes(attribute.String("state", state)).Record(ctx, d.Milliseconds())
}

// RecordReconciliationRequired increments the partial-commit counter.
func (f *MetricsFactory) RecordReconciliationRequired(ctx context.Context, attributes ...attribute.KeyValue) error {
	b, err := f.Counter(MetricReconciliationRequired)
	if err != nil {
		return err
	}

	return b.WithAttributes(attributes...).AddOne(ctx)
}

// RecordRollback increments the rollback counter for kind.
func (f *MetricsFactory) RecordRollback(ctx context.Context, kind string) error {
	b, err := f.Counter(MetricUnitOfWorkRollbacks)
	if err != nil {
		return err
	}

	return b.WithAttributes(attribute.String("kind", kind)).AddOne(ctx)
}
