package scheduler

import (
	"errors"
	"fmt"
)

// Error codes carried by ExecutionError. One code per failure class of the
// execution pipeline; per-recipient send failures are captured in the result's
// error messages instead of being raised.
const (
	CodeValidationFailed            = "VALIDATION_FAILED"
	CodeRecipientResolutionFailed   = "RECIPIENT_RESOLUTION_FAILED"
	CodeSendFailed                  = "SEND_FAILED"
	CodeSchedulingComputationFailed = "SCHEDULING_COMPUTATION_FAILED"
)

// Scheduler error constants
var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrSegmentNotFound  = errors.New("segment not found")
)

// ExecutionError describes why an execution failed before or during its send
// loop. Code selects the failure class, Err carries the underlying cause.
type ExecutionError struct {
	Code    string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func NewExecutionError(code, message string, err error) *ExecutionError {
	return &ExecutionError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewExecutionErrorf(code, message string, err error, args ...any) *ExecutionError {
	return &ExecutionError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}
