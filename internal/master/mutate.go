package master

import (
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/mesh-intelligence/aoserv/internal/catalog"
	"github.com/mesh-intelligence/aoserv/internal/protocol"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// errPersist marks a change rolled back because its JSONL file could not
// be rewritten.
var errPersist = errors.New("persisting table")

// sqlArg widens key values to the integer type SQLite binds.
func sqlArg(v any) any {
	switch v := v.(type) {
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	}
	return v
}

func (b *Backend) definition(id types.TableID) (*catalog.Definition, error) {
	if !b.attached {
		return nil, types.ErrDetached
	}
	return b.catalog.Get(id)
}

// Rows returns every row of table id in key order.
func (b *Backend) Rows(id types.TableID) ([]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	def, err := b.definition(id)
	if err != nil {
		return nil, err
	}
	return b.selectRows(b.db, def)
}

// Add inserts row into table id and returns its key. Auto keys are
// assigned by the database and any key in row is ignored.
func (b *Backend) Add(id types.TableID, row any) (key any, invalidated []types.TableID, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	def, err := b.definition(id)
	if err != nil {
		return nil, nil, err
	}
	values, err := def.Codec.Values(row)
	if err != nil {
		return nil, nil, err
	}

	tx, err := b.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	if err := b.checkReferences(tx, def, values, nil); err != nil {
		return nil, nil, err
	}
	if def.AutoKey {
		_, rest := splitKey(def, values)
		res, err := tx.Exec(insertSQL(def, true), rest...)
		if err != nil {
			return nil, nil, err
		}
		rowid, err := res.LastInsertId()
		if err != nil {
			return nil, nil, err
		}
		if rowid > math.MaxInt32 {
			return nil, nil, fmt.Errorf("%s: assigned key %d overflows int", def.Name(), rowid)
		}
		key = int32(rowid)
	} else {
		key, err = def.Codec.KeyAny(row)
		if err != nil {
			return nil, nil, err
		}
		found, err := exists(tx, def, sqlArg(key))
		if err != nil {
			return nil, nil, err
		}
		if found {
			return nil, nil, fmt.Errorf("%w: %s %v", types.ErrDuplicateKey, def.Name(), key)
		}
		if _, err := tx.Exec(insertSQL(def, false), values...); err != nil {
			return nil, nil, err
		}
	}
	invalidated, err = b.commit(tx, def)
	if err != nil {
		return nil, nil, err
	}
	return key, invalidated, nil
}

// Update replaces the row of table id that has the key of row. Only the
// columns on the wire at version v are written; columns v cannot carry keep
// their stored values.
func (b *Backend) Update(id types.TableID, row any, v protocol.Version) ([]types.TableID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	def, err := b.definition(id)
	if err != nil {
		return nil, err
	}
	values, err := def.Codec.Values(row)
	if err != nil {
		return nil, err
	}

	tx, err := b.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	present := make(map[string]bool)
	for _, name := range def.Codec.WireFields(v) {
		present[name] = true
	}
	key, sets, args := updateColumns(def, values, present)
	found, err := exists(tx, def, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s %v", types.ErrNotFound, def.Name(), key)
	}
	if err := b.checkReferences(tx, def, values, present); err != nil {
		return nil, err
	}
	if len(sets) > 0 {
		if _, err := tx.Exec(updateSQL(def, sets), append(args, key)...); err != nil {
			return nil, err
		}
	}
	return b.commit(tx, def)
}

// Remove deletes the row of table id with key. It fails with a
// *CannotRemoveError naming every dependent row.
func (b *Backend) Remove(id types.TableID, key any) ([]types.TableID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	def, err := b.definition(id)
	if err != nil {
		return nil, err
	}

	tx, err := b.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	reasons, err := b.removalReasons(tx, def, key)
	if err != nil {
		return nil, err
	}
	if len(reasons) > 0 {
		return nil, &types.CannotRemoveError{Table: def.ID, Key: fmt.Sprint(key), Reasons: reasons}
	}
	if _, err := tx.Exec(
		fmt.Sprintf("DELETE FROM %s WHERE %s = ?", sqlTable(def.ID), quote(def.Codec.KeyColumn())), sqlArg(key),
	); err != nil {
		return nil, err
	}
	return b.commit(tx, def)
}

// CheckRemove lists every row that blocks removing key from table id.
func (b *Backend) CheckRemove(id types.TableID, key any) ([]types.CannotRemoveReason, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	def, err := b.definition(id)
	if err != nil {
		return nil, err
	}
	return b.removalReasons(b.db, def, key)
}

// commit writes the JSONL file of def from the uncommitted rows of tx, then
// commits tx and returns the tables to invalidate. When the file cannot be
// written the caller's deferred rollback discards the change.
func (b *Backend) commit(tx *sql.Tx, def *catalog.Definition) ([]types.TableID, error) {
	log := b.logger.WithField("table", def.Name())
	if err := b.persistTable(tx, def); err != nil {
		log.WithError(err).Error("change rolled back, table not persisted")
		return nil, fmt.Errorf("%w: %w", errPersist, err)
	}
	if err := tx.Commit(); err != nil {
		if perr := b.persistTable(b.db, def); perr != nil {
			log.WithError(perr).Error("restoring table file after failed commit")
		}
		return nil, err
	}
	return b.catalog.Invalidations(def.ID), nil
}

// checkReferences fails with ErrNotFound when a non-null foreign key of the
// row does not resolve. A non-nil only limits the check to those columns.
func (b *Backend) checkReferences(q querier, def *catalog.Definition, values []any, only map[string]bool) error {
	index := make(map[string]int)
	for i, col := range def.Codec.ColumnInfo() {
		index[col.Name] = i
	}
	for _, ref := range def.References {
		if only != nil && !only[ref.Column] {
			continue
		}
		v := values[index[ref.Column]]
		if v == nil {
			continue
		}
		target, err := b.catalog.Get(ref.Target)
		if err != nil {
			return err
		}
		found, err := exists(q, target, v)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s.%s references missing %s %v", types.ErrNotFound, def.Name(), ref.Column, target.Name(), v)
		}
	}
	return nil
}

// removalReasons returns one reason per row referencing key. The row must
// exist.
func (b *Backend) removalReasons(q querier, def *catalog.Definition, key any) ([]types.CannotRemoveReason, error) {
	found, err := exists(q, def, sqlArg(key))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s %v", types.ErrNotFound, def.Name(), key)
	}

	var reasons []types.CannotRemoveReason
	for _, dep := range b.catalog.Dependents(def.ID) {
		description := dep.Reference.Description
		if description == "" {
			description = fmt.Sprintf("%s.%s references %s %v", dep.Table.Name(), dep.Reference.Column, def.Name(), key)
		}
		keys, err := referencingKeys(q, dep, sqlArg(key))
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			reasons = append(reasons, types.CannotRemoveReason{
				Table:       dep.Table.ID,
				Key:         k,
				Description: description,
			})
		}
	}
	return reasons, nil
}

func referencingKeys(q querier, dep catalog.Dependent, key any) ([]string, error) {
	keyCol := quote(dep.Table.Codec.KeyColumn())
	rows, err := q.Query(
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s",
			keyCol, sqlTable(dep.Table.ID), quote(dep.Reference.Column), keyCol),
		key,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k sql.NullString
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k.String)
	}
	return keys, rows.Err()
}
