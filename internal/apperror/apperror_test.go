package apperror

import (
	"errors"
	"fmt"
	"testing"
)

// TABLE-DRIVEN TESTS:
// Each case checks that errors.Is() identifies the error class through
// any amount of fmt.Errorf wrapping.
func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "EmptySource wraps ErrEmptySource",
			err:       EmptySource(),
			target:    ErrEmptySource,
			wantMatch: true,
		},
		{
			name:      "UnsupportedLanguage wraps ErrUnsupportedLanguage",
			err:       UnsupportedLanguage("cobol"),
			target:    ErrUnsupportedLanguage,
			wantMatch: true,
		},
		{
			name:      "ToolchainMissing survives wrapping",
			err:       fmt.Errorf("runner: starting g++: %w", ToolchainMissing("g++")),
			target:    ErrToolchainMissing,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("code", "code is too long"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "EmptySource does NOT match ErrUnsupportedLanguage",
			err:       EmptySource(),
			target:    ErrUnsupportedLanguage,
			wantMatch: false,
		},
		{
			name:      "Unauthorized does NOT match ErrValidation",
			err:       Unauthorized("missing token"),
			target:    ErrValidation,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "UnsupportedLanguage quotes the tag",
			err:         UnsupportedLanguage("cobol"),
			wantMessage: `unsupported language "cobol"`,
		},
		{
			name:        "ToolchainMissing names the tool",
			err:         ToolchainMissing("javac"),
			wantMessage: "javac not found on PATH",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("code", "code is required"),
			wantMessage: "code is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestAsExtractsField(t *testing.T) {
	err := fmt.Errorf("engine: %w", UnsupportedLanguage("ruby"))

	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("errors.As() did not find *AppError in chain")
	}
	if appErr.Field != "language" {
		t.Errorf("Field = %q, want %q", appErr.Field, "language")
	}
}
