package types

import (
	"errors"
	"fmt"
	"strings"
)

// Row and lookup errors.
var (
	ErrNotFound      = errors.New("row not found")
	ErrInvalidKey    = errors.New("invalid row key")
	ErrDuplicateKey  = errors.New("duplicate row key")
	ErrUnknownColumn = errors.New("unknown column")
	ErrInvalidData   = errors.New("invalid row data")
)

// Wire errors.
var (
	ErrDecode             = errors.New("decode failed")
	ErrEncode             = errors.New("encode failed")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrRemovalBlocked     = errors.New("removal blocked")
	ErrServer             = errors.New("master error")
)

// CannotRemoveReason names one row that prevents a removal.
type CannotRemoveReason struct {
	Table       TableID
	Key         string
	Description string
}

func (r CannotRemoveReason) String() string {
	return fmt.Sprintf("%s %s: %s", r.Table, r.Key, r.Description)
}

// CannotRemoveError carries every reason a removal was rejected.
// errors.Is(err, ErrRemovalBlocked) reports true.
type CannotRemoveError struct {
	Table   TableID
	Key     string
	Reasons []CannotRemoveReason
}

func (e *CannotRemoveError) Error() string {
	parts := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		parts[i] = r.String()
	}
	return fmt.Sprintf("cannot remove %s %s: %s", e.Table, e.Key, strings.Join(parts, "; "))
}

func (e *CannotRemoveError) Is(target error) bool {
	return target == ErrRemovalBlocked
}

// ServerError is a failure status answered by the master.
// errors.Is(err, ErrServer) reports true; not-found answers also match
// ErrNotFound and unknown versions match ErrUnsupportedVersion.
type ServerError struct {
	Status  byte
	Message string
	cause   error
}

// NewServerError returns a ServerError that also matches cause (may be nil).
func NewServerError(status byte, message string, cause error) *ServerError {
	return &ServerError{Status: status, Message: message, cause: cause}
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("master status %d: %s", e.Status, e.Message)
}

func (e *ServerError) Is(target error) bool {
	if target == ErrServer {
		return true
	}
	return e.cause != nil && target == e.cause
}
