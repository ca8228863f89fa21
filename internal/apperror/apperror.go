// Package apperror defines the error taxonomy shared by every layer of the runner.
//
// ERROR CATEGORIES:
// Each sentinel below names one class of failure. Lower layers wrap them with
// fmt.Errorf("...: %w", err) and upper layers test them with errors.Is, so the
// HTTP handler and the orchestrator can decide what the caller sees without
// string matching:
//
//	input errors      → ErrEmptySource, ErrUnsupportedLanguage, ErrValidation
//	toolchain errors  → ErrToolchainMissing
//	transport errors  → ErrUnauthorized, ErrRateLimited
//
// Compile errors, runtime errors and timeouts are NOT errors at this level:
// they are normal outcomes carried inside the execution result.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrEmptySource         = errors.New("empty source")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrToolchainMissing    = errors.New("toolchain missing")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrRateLimited         = errors.New("rate limited")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// EmptySource is returned before any workspace is allocated.
func EmptySource() *AppError {
	return &AppError{
		Err:     ErrEmptySource,
		Message: "no code provided",
		Field:   "code",
	}
}

// UnsupportedLanguage reports a language tag outside the fixed set.
func UnsupportedLanguage(tag string) *AppError {
	return &AppError{
		Err:     ErrUnsupportedLanguage,
		Message: fmt.Sprintf("unsupported language %q", tag),
		Field:   "language",
	}
}

// ToolchainMissing reports an interpreter or compiler that is not on PATH.
// It is a per-operation condition, never a startup failure.
func ToolchainMissing(tool string) *AppError {
	return &AppError{
		Err:     ErrToolchainMissing,
		Message: fmt.Sprintf("%s not found on PATH", tool),
	}
}

// Unauthorized returns an AppError for a missing or invalid service token.
// HTTP handlers map this to 401 Unauthorized.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// RateLimited is returned by the rate-limit middleware (HTTP 429).
func RateLimited() *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Message: "too many requests",
	}
}
