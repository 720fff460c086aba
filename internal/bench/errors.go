package bench

import (
	"context"
	"errors"
)

// Error taxonomy shared by every component. Callers wrap these with %w and
// match with errors.Is.
var (
	ErrIO          = errors.New("io error")
	ErrSpawn       = errors.New("process spawn failed")
	ErrBackend     = errors.New("backend error")
	ErrTimeout     = errors.New("operation timed out")
	ErrParse       = errors.New("parse error")
	ErrOther       = errors.New("benchmark error")
	ErrInvalidRate = errors.New("rate must be greater than zero")
)

// Values of the "type" label on operation counters.
const (
	TypeOK      = ""
	TypeError   = "error"
	TypeTimeout = "timeout"
)

// ErrorType classifies err into the "type" label used by operation counters.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return TypeOK
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return TypeTimeout
	default:
		return TypeError
	}
}
