package types

import "context"

// TableState is the cache state of one client-side table.
type TableState int

// Table states. A table starts Stale (nothing loaded), becomes Fresh after a
// complete fetch, and returns to Stale when the master invalidates it.
const (
	Stale TableState = iota
	Fresh
)

func (s TableState) String() string {
	if s == Fresh {
		return "fresh"
	}
	return "stale"
}

// Table provides uniform access to one cached remote table.
// Get and Fetch return any; callers type-assert to the concrete row struct
// (for example *email.Address). Keys are given in their text form and parsed
// according to the table's key column.
type Table interface {
	// ID returns the wire identifier of the table.
	ID() TableID

	// Name returns the schema-qualified table name.
	Name() string

	// Columns returns the stored column names in wire order.
	Columns() []string

	// State reports whether the cached rows are trusted.
	State() TableState

	// Invalidate marks the table stale. The next read re-fetches all rows.
	Invalidate()

	// GetKey retrieves the row with the given key.
	// Returns ErrNotFound if no row exists with that key.
	GetKey(ctx context.Context, key string) (any, error)

	// Fetch returns all rows whose columns equal the filter values, in
	// insertion order. An empty filter returns every row.
	Fetch(ctx context.Context, filter map[string]any) ([]any, error)

	// RemoveKey removes the row with the given key on the master.
	// Returns a *CannotRemoveError when dependent rows block the removal.
	RemoveKey(ctx context.Context, key string) error

	// CheckRemoveKey lists every reason the row cannot be removed. An empty
	// result means the removal would be accepted.
	CheckRemoveKey(ctx context.Context, key string) ([]CannotRemoveReason, error)
}
