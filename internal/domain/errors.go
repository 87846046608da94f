package domain

import (
	"errors"
	"fmt"
)

var (
	ErrComponentNotFound       = errors.New("component not found")
	ErrVersionNotFound         = errors.New("version not found")
	ErrInvalidVersion          = errors.New("invalid version")
	ErrMissingParameter        = errors.New("missing parameter")
	ErrInvalidParameterType    = errors.New("invalid parameter type")
	ErrPublishValidationFailed = errors.New("did not pass publish validation")
	ErrVersionAlreadyExists    = errors.New("version already exists")
	ErrFunctionNotFound        = errors.New("function not found")
	ErrExecutionTimeout        = errors.New("execution timed out")
	ErrExecution               = errors.New("component execution failed")
	ErrStorageNotFound         = errors.New("file not found")
	ErrUnauthorized            = errors.New("unauthorized")
)

// ParameterError reports the declared parameter that failed to decode.
type ParameterError struct {
	Name     string
	Expected PrimitiveType
	Err      error
}

func (e *ParameterError) Error() string {
	if errors.Is(e.Err, ErrInvalidParameterType) {
		return fmt.Sprintf("%s: %q must be a %s", e.Err, e.Name, e.Expected)
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Name)
}

func (e *ParameterError) Unwrap() error {
	return e.Err
}

// ValidationError carries the reason a publish was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return ErrPublishValidationFailed.Error()
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrPublishValidationFailed
}

// ExecutionError wraps a failure raised by component code. Error() never
// includes the cause so it is safe to hand to clients; log Cause instead.
type ExecutionError struct {
	Function string
	Cause    error
}

func (e *ExecutionError) Error() string {
	return ErrExecution.Error()
}

func (e *ExecutionError) Unwrap() error {
	return ErrExecution
}
