package history

import (
	"errors"
	"fmt"

	"github.com/afroash/aranet-archive/internal/models"
)

var (
	// ErrBusy is returned by Decode when the device is still assembling the
	// requested page. It is a signal to wait and read again, not a failure.
	ErrBusy = errors.New("history: device busy")

	// ErrDuplicateSample means the same (timestamp, kind) slot was written
	// twice during one fetch. This indicates a decoding bug and aborts the fetch.
	ErrDuplicateSample = errors.New("history: duplicate sample")

	// ErrUnresponsive is wrapped in a TransportError when the device keeps
	// answering busy past the configured retry limit.
	ErrUnresponsive = errors.New("history: device stayed busy")
)

// TransportError wraps a failure reported by the transport collaborator.
// It is fatal to the whole fetch.
type TransportError struct {
	Op   string
	Kind models.ParameterKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("history: %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError describes a malformed or truncated log response. It aborts the
// pagination of Kind only.
type DecodeError struct {
	Kind   models.ParameterKind
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("history: decode %s: %s", e.Kind, e.Reason)
}

func decodeErrorf(kind models.ParameterKind, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindError records a parameter kind that was abandoned part way through a
// fetch. Samples collected before the failure are kept.
type KindError struct {
	Kind    models.ParameterKind
	Samples int
	Err     error
}

func (e *KindError) Error() string {
	return fmt.Sprintf("%s aborted after %d samples: %v", e.Kind, e.Samples, e.Err)
}

func (e *KindError) Unwrap() error { return e.Err }
