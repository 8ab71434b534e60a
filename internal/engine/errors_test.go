package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumehq/reflex/internal/accessor"
	"github.com/lumehq/reflex/internal/gate"
	"github.com/lumehq/reflex/internal/store"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      RuntimeErrorCode
		retryable bool
	}{
		{"gate busy", gate.ErrBusy, ErrCodeSystemBusy, true},
		{"wrapped busy", fmt.Errorf("claim: %w", gate.ErrBusy), ErrCodeSystemBusy, true},
		{"not found", store.ErrNotFound, ErrCodeEntityNotFound, false},
		{"unimplemented", accessor.ErrUnimplemented, ErrCodeUnimplemented, false},
		{
			"transport exhausted",
			&accessor.RetryableError{Attempts: 3, Err: errors.New("timeout")},
			ErrCodeTransportRetryable,
			true,
		},
		{"anything else", errors.New("boom"), ErrCodeEvalFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err, "t1", "cases")

			var re *RuntimeError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.code, re.Code)
			assert.Equal(t, tt.retryable, re.Retryable())
			assert.Equal(t, "t1", re.TenantID)
			assert.Equal(t, "cases", re.DomainID)
		})
	}
}

func TestClassifyPassesThroughRuntimeError(t *testing.T) {
	orig := &RuntimeError{Code: ErrCodeConfigInvalid, Message: "bad expression"}
	err := classify(orig, "t1", "cases")

	var re *RuntimeError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ErrCodeConfigInvalid, re.Code)
	assert.Equal(t, "t1", re.TenantID, "context is filled in on the way out")
}

func TestRuntimeErrorUnwrap(t *testing.T) {
	inner := errors.New("root cause")
	err := &RuntimeError{Code: ErrCodeEvalFailed, Message: "evaluate", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), string(ErrCodeEvalFailed))
	assert.Contains(t, err.Error(), "evaluate")
}
