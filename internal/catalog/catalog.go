// Package catalog describes every table the master serves: its row codec,
// key policy, foreign keys and the extra tables a change to it invalidates.
package catalog

import (
	"fmt"

	"github.com/mesh-intelligence/aoserv/internal/codec"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// Reference is a foreign key from Column of the owning table to the primary
// key of Target.
type Reference struct {
	Column      string
	Target      types.TableID
	Description string
}

// Definition describes one table.
type Definition struct {
	ID    types.TableID
	Codec codec.RowCodec

	// AutoKey makes the master assign the primary key on add.
	AutoKey bool

	References []Reference

	// Invalidates lists tables that must be re-fetched whenever this table
	// changes, in addition to the table itself.
	Invalidates []types.TableID

	// Seed rows are inserted when the table is empty at attach.
	Seed []any
}

// Name returns the table name.
func (d *Definition) Name() string { return d.ID.String() }

// Catalog is an immutable set of table definitions.
type Catalog struct {
	defs   []*Definition
	byID   map[types.TableID]*Definition
	byName map[string]*Definition
}

// New validates defs and returns a Catalog. Definitions keep their order.
func New(defs ...Definition) (*Catalog, error) {
	c := &Catalog{
		byID:   make(map[types.TableID]*Definition, len(defs)),
		byName: make(map[string]*Definition, len(defs)),
	}
	for i := range defs {
		d := defs[i]
		if d.Codec == nil {
			return nil, fmt.Errorf("table %s has no codec", d.ID)
		}
		if d.Codec.Table() != d.ID {
			return nil, fmt.Errorf("table %s uses the codec of %s", d.ID, d.Codec.Table())
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("table %s defined twice", d.ID)
		}
		if d.AutoKey && d.Codec.KeyKind() != codec.KindInt {
			return nil, fmt.Errorf("table %s has an auto key of kind %s", d.ID, d.Codec.KeyKind())
		}
		c.byID[d.ID] = &d
		c.byName[d.Name()] = &d
		c.defs = append(c.defs, &d)
	}
	for _, d := range c.defs {
		cols := make(map[string]bool)
		for _, name := range d.Codec.Columns() {
			cols[name] = true
		}
		for _, ref := range d.References {
			if !cols[ref.Column] {
				return nil, fmt.Errorf("table %s references through unknown column %q", d.ID, ref.Column)
			}
			if _, ok := c.byID[ref.Target]; !ok {
				return nil, fmt.Errorf("table %s references unknown table %s", d.ID, ref.Target)
			}
		}
		for _, id := range d.Invalidates {
			if _, ok := c.byID[id]; !ok {
				return nil, fmt.Errorf("table %s invalidates unknown table %s", d.ID, id)
			}
		}
	}
	return c, nil
}

// Get returns the definition of id.
func (c *Catalog) Get(id types.TableID) (*Definition, error) {
	d, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrTableNotFound, id)
	}
	return d, nil
}

// Lookup returns the definition of the table named name.
func (c *Catalog) Lookup(name string) (*Definition, error) {
	d, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrTableNotFound, name)
	}
	return d, nil
}

// Definitions returns every definition in declaration order.
func (c *Catalog) Definitions() []*Definition {
	out := make([]*Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Dependent is a foreign key pointing at a table.
type Dependent struct {
	Table     *Definition
	Reference Reference
}

// Dependents returns every reference to target, in declaration order.
func (c *Catalog) Dependents(target types.TableID) []Dependent {
	var out []Dependent
	for _, d := range c.defs {
		for _, ref := range d.References {
			if ref.Target == target {
				out = append(out, Dependent{Table: d, Reference: ref})
			}
		}
	}
	return out
}

// Invalidations returns the tables to re-fetch after id changes: id itself
// followed by its extra invalidations.
func (c *Catalog) Invalidations(id types.TableID) []types.TableID {
	out := []types.TableID{id}
	if d, ok := c.byID[id]; ok {
		for _, extra := range d.Invalidates {
			if extra != id {
				out = append(out, extra)
			}
		}
	}
	return out
}
