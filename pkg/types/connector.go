package types

import (
	"context"
	"errors"
)

// Connector is the composition root handed to callers: it attaches to a
// master, hands out tables by name, and detaches when done.
type Connector interface {
	// GetTable returns the Table for the given schema-qualified name.
	// Returns ErrTableNotFound if the name is not a standard table.
	GetTable(name string) (Table, error)

	// Attach connects to the master described by config and negotiates the
	// protocol version. Returns ErrAlreadyAttached if called while attached.
	Attach(ctx context.Context, config Config) error

	// Detach releases the transport. Idempotent: multiple calls succeed.
	// After Detach, table reads return ErrDetached.
	Detach() error
}

// Connector lifecycle errors.
var (
	ErrDetached        = errors.New("connector is detached")
	ErrAlreadyAttached = errors.New("connector is already attached")
	ErrTableNotFound   = errors.New("table not found")
)
