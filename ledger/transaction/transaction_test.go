//go:build unit

package transaction

import (
	"errors"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferRequest_Validate(t *testing.T) {
	t.Parallel()

	valid := NewTransferRequest(1, 2, decimal.NewFromInt(500))

	tests := []struct {
		name  string
		edit  func(r *TransferRequest)
		field string
	}{
		{"valid", func(*TransferRequest) {}, ""},
		{"nil id", func(r *TransferRequest) { r.ID = uuid.Nil }, "id"},
		{"zero source", func(r *TransferRequest) { r.SourceID = 0 }, "sourceId"},
		{"negative destination", func(r *TransferRequest) { r.DestinationID = -3 }, "destinationId"},
		{"same account", func(r *TransferRequest) { r.DestinationID = r.SourceID }, "destinationId"},
		{"zero amount", func(r *TransferRequest) { r.Amount = decimal.Zero }, "amount"},
		{"negative amount", func(r *TransferRequest) { r.Amount = decimal.NewFromInt(-1) }, "amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := valid
			tt.edit(&r)

			err := r.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}

			var domainErr DomainError
			require.True(t, errors.As(err, &domainErr))
			assert.Equal(t, ErrorInvalidInput, domainErr.Code)
			assert.Equal(t, tt.field, domainErr.Field)
		})
	}
}

func TestTransferRequest_CheckpointName(t *testing.T) {
	t.Parallel()

	r := TransferRequest{ID: uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")}

	assert.Equal(t, "transfer_6ba7b8109dad11d180b400c04fd430c8", r.CheckpointName())
	assert.Regexp(t, regexp.MustCompile(`^[a-z_][a-z0-9_]*$`), NewTransferRequest(1, 2, decimal.NewFromInt(1)).CheckpointName())
}

func TestTransferRequest_Descriptions(t *testing.T) {
	t.Parallel()

	r := NewTransferRequest(1, 2, decimal.RequireFromString("500.25"))

	assert.Equal(t, "withdrawal of 500.25 from account 1", r.WithdrawalDescription())
	assert.Equal(t, "deposit of 500.25 to account 2", r.DepositDescription())
}

func TestValidateTransition(t *testing.T) {
	t.Parallel()

	allowed := [][2]State{
		{StateStarted, StateDebited},
		{StateDebited, StateCheckpointed},
		{StateCheckpointed, StateCredited},
		{StateCredited, StateCommitted},
		{StateCheckpointed, StateRecovering},
		{StateCredited, StateRecovering},
		{StateRecovering, StatePartiallyCommitted},
		{StateStarted, StateAborted},
		{StateDebited, StateAborted},
		{StateRecovering, StateAborted},
	}

	for _, edge := range allowed {
		assert.NoError(t, ValidateTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}

	rejected := [][2]State{
		{StateStarted, StateCommitted},
		{StateDebited, StateRecovering},
		{StateStarted, StateRecovering},
		{StateCommitted, StateAborted},
		{StatePartiallyCommitted, StateCommitted},
		{StateAborted, StateStarted},
		{StateDebited, StateCredited},
	}

	for _, edge := range rejected {
		err := ValidateTransition(edge[0], edge[1])

		var domainErr DomainError
		require.True(t, errors.As(err, &domainErr), "%s -> %s", edge[0], edge[1])
		assert.Equal(t, ErrorInvalidStateTransition, domainErr.Code)
	}
}

func TestState_IsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, StateCommitted.IsTerminal())
	assert.True(t, StatePartiallyCommitted.IsTerminal())
	assert.True(t, StateAborted.IsTerminal())
	assert.False(t, StateRecovering.IsTerminal())
	assert.False(t, StateStarted.IsTerminal())
}

func TestApplyOperation(t *testing.T) {
	t.Parallel()

	thousand := decimal.NewFromInt(1000)

	got, err := ApplyOperation(thousand, OperationDebit, decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(500)))

	got, err = ApplyOperation(thousand, OperationDebit, thousand)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = ApplyOperation(thousand, OperationDebit, decimal.NewFromInt(5000))
	require.Error(t, err)
	assert.True(t, got.Equal(thousand))
	assert.Equal(t, ErrorInsufficientFunds, err.(DomainError).Code)

	got, err = ApplyOperation(decimal.NewFromInt(300), OperationCredit, decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(800)))

	_, err = ApplyOperation(thousand, OperationCredit, decimal.Zero)
	assert.Equal(t, ErrorInvalidInput, err.(DomainError).Code)

	_, err = ApplyOperation(thousand, Operation("ON_HOLD"), decimal.NewFromInt(1))
	assert.Equal(t, ErrorInvalidInput, err.(DomainError).Code)
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeCheckpoint, m)

	m, err = ParseMode(" FULL_REVERSAL ")
	require.NoError(t, err)
	assert.Equal(t, ModeFullReversal, m)

	_, err = ParseMode("best_effort")
	assert.Error(t, err)
}

func TestOutcome_Partial(t *testing.T) {
	t.Parallel()

	assert.True(t, Outcome{State: StatePartiallyCommitted}.Partial())
	assert.False(t, Outcome{State: StateCommitted}.Partial())
}
