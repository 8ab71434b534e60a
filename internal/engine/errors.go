package engine

import (
	"errors"
	"fmt"

	"github.com/lumehq/reflex/internal/accessor"
	"github.com/lumehq/reflex/internal/expr"
	"github.com/lumehq/reflex/internal/gate"
	"github.com/lumehq/reflex/internal/store"
)

// RuntimeError is a job-level failure with a classification code. The
// code decides the orchestrator's reaction: retryable codes requeue the
// job with backoff, terminal codes fail it with a tenant-visible log
// entry.
type RuntimeError struct {
	Code     RuntimeErrorCode
	Message  string
	TenantID string
	DomainID string
	Err      error
}

// RuntimeErrorCode categorizes job failures.
type RuntimeErrorCode string

const (
	// ErrCodeEvalFailed is an expression data-shape failure that leaked
	// to the job level. Per-item failures are normally recorded and
	// isolated; this code only appears when nothing else was salvageable.
	ErrCodeEvalFailed RuntimeErrorCode = "EVAL_FAILED"

	// ErrCodeConfigInvalid is a malformed domain, field, or target.
	// Terminal for the job.
	ErrCodeConfigInvalid RuntimeErrorCode = "CONFIG_INVALID"

	// ErrCodeSystemBusy means the domain gate is held. Retryable.
	ErrCodeSystemBusy RuntimeErrorCode = "SYSTEM_BUSY"

	// ErrCodeEntityNotFound means a target's owning entity vanished.
	// The node stays dirty for a future retry.
	ErrCodeEntityNotFound RuntimeErrorCode = "ENTITY_NOT_FOUND"

	// ErrCodeTransportRetryable means an outbound call exhausted its
	// retry budget. The whole job requeues.
	ErrCodeTransportRetryable RuntimeErrorCode = "TRANSPORT_RETRYABLE"

	// ErrCodeUnimplemented marks an operation with no supported path,
	// e.g. case write-back. Fatal to the job, not to the worker.
	ErrCodeUnimplemented RuntimeErrorCode = "UNIMPLEMENTED"
)

func (e *RuntimeError) Error() string {
	if e.TenantID != "" && e.DomainID != "" {
		return fmt.Sprintf("%s: %s (tenant=%s, domain=%s)", e.Code, e.Message, e.TenantID, e.DomainID)
	}
	if e.TenantID != "" {
		return fmt.Sprintf("%s: %s (tenant=%s)", e.Code, e.Message, e.TenantID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Retryable reports whether the orchestrator should requeue the job.
func (e *RuntimeError) Retryable() bool {
	switch e.Code {
	case ErrCodeSystemBusy, ErrCodeTransportRetryable:
		return true
	}
	return false
}

// IsRetryable reports whether err should requeue its job.
func IsRetryable(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}

// IsBusy reports whether err is the gate's fail-fast rejection.
func IsBusy(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeSystemBusy
	}
	return false
}

// classify wraps an underlying failure into a RuntimeError, mapping the
// collaborator error types onto the taxonomy. Already-classified errors
// pass through with tenant/domain context filled in when missing.
func classify(err error, tenantID, domainID string) *RuntimeError {
	var re *RuntimeError
	if errors.As(err, &re) {
		if re.TenantID == "" {
			re.TenantID = tenantID
		}
		if re.DomainID == "" {
			re.DomainID = domainID
		}
		return re
	}

	code := ErrCodeEvalFailed
	switch {
	case errors.Is(err, gate.ErrBusy):
		code = ErrCodeSystemBusy
	case errors.Is(err, store.ErrNotFound):
		code = ErrCodeEntityNotFound
	case errors.Is(err, accessor.ErrUnimplemented):
		code = ErrCodeUnimplemented
	case accessor.IsRetryable(err):
		code = ErrCodeTransportRetryable
	case expr.IsConfigError(err):
		code = ErrCodeConfigInvalid
	}

	return &RuntimeError{
		Code:     code,
		Message:  err.Error(),
		TenantID: tenantID,
		DomainID: domainID,
		Err:      err,
	}
}
