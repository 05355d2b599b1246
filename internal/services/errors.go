package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks invalid caller input (bad upload parameters and the like).
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups for unknown or already-consumed resources.
	ErrNotFound = errors.New("not found")
	// ErrOutOfRange marks a chunk index outside the session's declared range.
	ErrOutOfRange = errors.New("chunk index out of range")
	// ErrSizeMismatch marks a chunk body whose length differs from the expected size.
	ErrSizeMismatch = errors.New("chunk size mismatch")
	// ErrIncomplete marks a finalize attempt before every chunk arrived.
	ErrIncomplete = errors.New("upload incomplete")
	// ErrStaleTransition marks a compare-and-set whose expected states no longer hold.
	ErrStaleTransition = errors.New("stale transition")
	// ErrLaunch marks an engine that refused to start.
	ErrLaunch = errors.New("engine launch failure")
	// ErrEngine marks an engine that crashed mid-run.
	ErrEngine = errors.New("engine failure")
	// ErrTimeout marks an operation that exceeded its allotted time.
	ErrTimeout = errors.New("timeout")
	// ErrTransient marks infrastructure failures worth another delivery attempt.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsClientError reports whether an error stems from caller input rather than
// system state, so transports can surface it without retry.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrSizeMismatch) ||
		errors.Is(err, ErrIncomplete)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
