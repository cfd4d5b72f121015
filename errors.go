package remotekit

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers can decide how to react without
// matching on protocol-specific causes.
type ErrorKind int

const (
	// KindUnknown is the zero kind for unclassified failures.
	KindUnknown ErrorKind = iota
	// KindConnection covers auth failures, timeouts and unreachable hosts.
	KindConnection
	// KindProtocol covers operations the remote rejected: not found,
	// permission denied, quota exceeded.
	KindProtocol
	// KindIO covers local disk failures: full, permission, interrupted.
	KindIO
	// KindValidation covers bad input: missing credentials, malformed URIs,
	// destination-exists without overwrite.
	KindValidation
)

// String returns a short tag for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindIO:
		return "io"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Common failure causes
var (
	ErrNotExist      = errors.New("file does not exist")
	ErrExist         = errors.New("file already exists")
	ErrPermission    = errors.New("permission denied")
	ErrAuth          = errors.New("authentication failed")
	ErrTimeout       = errors.New("operation timed out")
	ErrUnreachable   = errors.New("host unreachable")
	ErrClosed        = errors.New("already closed")
	ErrNotDir        = errors.New("not a directory")
	ErrIsDir         = errors.New("is a directory")
	ErrNoCredentials = errors.New("no credentials available")
	ErrMalformedURI  = errors.New("malformed URI")
	ErrNotSupported  = errors.New("operation not supported")
	ErrNoStrategy    = errors.New("no transfer strategy for scheme pair")
	ErrPoolClosed    = errors.New("connection pool is shut down")
)

// OpError records a failed operation, the path it targeted, its kind, and
// the original cause.
type OpError struct {
	Op   string
	Path string
	Kind ErrorKind
	Err  error
}

// Error implements the error interface
func (e *OpError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *OpError) Unwrap() error {
	return e.Err
}

// NewOpError wraps cause with operation context and a kind.
func NewOpError(op, path string, kind ErrorKind, cause error) *OpError {
	return &OpError{Op: op, Path: path, Kind: kind, Err: cause}
}

func connErr(op, path string, cause error) *OpError {
	return NewOpError(op, path, KindConnection, cause)
}

func protoErr(op, path string, cause error) *OpError {
	return NewOpError(op, path, KindProtocol, cause)
}

func ioErr(op, path string, cause error) *OpError {
	return NewOpError(op, path, KindIO, cause)
}

func validationErr(op, path string, cause error) *OpError {
	return NewOpError(op, path, KindValidation, cause)
}

// KindOf extracts the ErrorKind from err, or KindUnknown if err carries none.
func KindOf(err error) ErrorKind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindConnection
	}
	return KindUnknown
}

// IsConnectionError reports whether err is a connection-class failure
// (auth, timeout, unreachable host).
func IsConnectionError(err error) bool {
	return KindOf(err) == KindConnection
}

// IsValidationError reports whether err is an input error.
func IsValidationError(err error) bool {
	return KindOf(err) == KindValidation
}

// IsNotExist reports whether an error indicates that a file or directory
// does not exist
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// IsExist reports whether an error indicates that a file or directory
// already exists
func IsExist(err error) bool {
	return errors.Is(err, ErrExist)
}

// IsTimeout reports whether an error indicates an exceeded deadline.
// Timeouts are retryable failures; they never poison pool state.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
