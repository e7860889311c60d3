package reconciliation

import (
	"context"
	"time"

	"github.com/LerianStudio/lib-ledger/ledger/internal/nilcheck"
	"github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/LerianStudio/lib-ledger/ledger/transaction"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Notice describes one partially committed transfer.
type Notice struct {
	TransferID    uuid.UUID         `json:"transferId"`
	SourceID      int64             `json:"sourceId"`
	DestinationID int64             `json:"destinationId"`
	Amount        decimal.Decimal   `json:"amount"`
	State         transaction.State `json:"state"`
	Cause         string            `json:"cause,omitempty"`
	OccurredAt    time.Time         `json:"occurredAt"`
}

// NewNotice builds the notice for req finished with outcome.
func NewNotice(req transaction.TransferRequest, outcome transaction.Outcome, at time.Time) Notice {
	n := Notice{
		TransferID:    req.ID,
		SourceID:      req.SourceID,
		DestinationID: req.DestinationID,
		Amount:        req.Amount,
		State:         outcome.State,
		OccurredAt:    at.UTC(),
	}

	if outcome.Cause != nil {
		n.Cause = outcome.Cause.Error()
	}

	return n
}

// Notifier receives reconciliation notices.
type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

// LogNotifier logs each notice at warn level.
type LogNotifier struct {
	logger log.Logger
}

func NewLogNotifier(logger log.Logger) *LogNotifier {
	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, notice Notice) error {
	n.logger.Log(ctx, log.LevelWarn, "transfer requires reconciliation",
		log.String("transfer_id", notice.TransferID.String()),
		log.Int64("source_id", notice.SourceID),
		log.Int64("destination_id", notice.DestinationID),
		log.String("amount", notice.Amount.String()),
		log.String("cause", notice.Cause),
	)

	return nil
}
