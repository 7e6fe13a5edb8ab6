package master

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/aoserv/internal/catalog"
	"github.com/mesh-intelligence/aoserv/internal/codec"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// sqlTable returns the SQLite table name of id.
func sqlTable(id types.TableID) string {
	return strings.ReplaceAll(id.String(), ".", "_")
}

// quote quotes a column identifier.
func quote(name string) string { return `"` + name + `"` }

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	return strings.Join(quoted, ", ")
}

// createTableSQL returns the DDL for def. An INTEGER key is the rowid
// alias, so SQLite assigns it when an insert omits it.
func createTableSQL(def *catalog.Definition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (", sqlTable(def.ID))
	for i, col := range def.Codec.ColumnInfo() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", quote(col.Name), codec.SQLType(col.Kind))
		if col.Key {
			b.WriteString(" PRIMARY KEY")
		} else if col.Kind != codec.KindNullString && col.Kind != codec.KindTime {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString(")")
	return b.String()
}

// selectSQL selects every stored column of def in key order.
func selectSQL(def *catalog.Definition) string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		quoteAll(def.Codec.Columns()), sqlTable(def.ID), quote(def.Codec.KeyColumn()))
}

// insertSQL inserts every stored column of def. With omitKey the key column
// is left to SQLite.
func insertSQL(def *catalog.Definition, omitKey bool) string {
	var cols []string
	for _, col := range def.Codec.ColumnInfo() {
		if omitKey && col.Key {
			continue
		}
		cols = append(cols, col.Name)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		sqlTable(def.ID), quoteAll(cols), placeholders(len(cols)))
}

// updateSQL sets the named columns of def; the key is the last argument.
func updateSQL(def *catalog.Definition, cols []string) string {
	sets := make([]string, len(cols))
	for i, name := range cols {
		sets[i] = quote(name) + " = ?"
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		sqlTable(def.ID), strings.Join(sets, ", "), quote(def.Codec.KeyColumn()))
}

// updateColumns picks the key and the non-key columns in present from
// values, in ColumnInfo order.
func updateColumns(def *catalog.Definition, values []any, present map[string]bool) (key any, cols []string, args []any) {
	for i, col := range def.Codec.ColumnInfo() {
		switch {
		case col.Key:
			key = values[i]
		case present[col.Name]:
			cols = append(cols, col.Name)
			args = append(args, values[i])
		}
	}
	return key, cols, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// splitKey separates the key argument from the other column values, in
// ColumnInfo order.
func splitKey(def *catalog.Definition, values []any) (key any, rest []any) {
	for i, col := range def.Codec.ColumnInfo() {
		if col.Key {
			key = values[i]
			continue
		}
		rest = append(rest, values[i])
	}
	return key, rest
}
