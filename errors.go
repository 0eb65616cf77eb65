package poe

import (
	"errors"
	"fmt"
)

// HaltError reports that the application cannot execute a block
// deterministically, typically because the claim store failed. The
// block is never committed and the connection refuses further blocks.
type HaltError struct {
	Reason string
	Height uint64
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("HALT at height %d: %s", e.Height, e.Reason)
}

// NewHaltError creates a new HaltError.
func NewHaltError(height uint64, reason string) *HaltError {
	return &HaltError{Height: height, Reason: reason}
}

// IsHalt reports whether err carries a HaltError and returns it.
func IsHalt(err error) (*HaltError, bool) {
	var h *HaltError
	if errors.As(err, &h) {
		return h, true
	}
	return nil, false
}

// Haltf creates a HaltError with a formatted reason.
func Haltf(height uint64, format string, args ...any) *HaltError {
	return NewHaltError(height, fmt.Sprintf(format, args...))
}
