package constant

// Span and metric attribute keys.
const (
	AttrTransferID    = "transfer.id"
	AttrTransferState = "transfer.state"
	AttrTransferMode  = "transfer.mode"
	AttrSourceID      = "account.source_id"
	AttrDestinationID = "account.destination_id"
	AttrCheckpoint    = "uow.checkpoint"
	AttrStore         = "uow.store"
)

// TelemetrySDKName identifies this library in resource attributes.
const TelemetrySDKName = "lib-ledger/opentelemetry"
