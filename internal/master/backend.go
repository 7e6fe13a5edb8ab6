// Package master implements the server side of the table protocol on top
// of SQLite. JSONL files in the data directory are the source of truth:
// they are loaded into a fresh database at Attach and rewritten after every
// successful mutation.
package master

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/aoserv/internal/catalog"
	"github.com/mesh-intelligence/aoserv/internal/wire"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// databaseFile is rebuilt from the JSONL files on every Attach.
const databaseFile = "master.db"

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Backend) { b.logger = l }
}

// Backend serves the tables of a catalog from SQLite.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	catalog  *catalog.Catalog
	logger   logrus.FieldLogger
}

var _ wire.Handler = (*Backend)(nil)

// NewBackend returns a detached backend for the tables of cat.
func NewBackend(cat *catalog.Catalog, opts ...Option) *Backend {
	b := &Backend{catalog: cat}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		b.logger = l
	}
	b.logger = b.logger.WithField("component", "master")
	return b
}

// Catalog returns the served tables.
func (b *Backend) Catalog() *catalog.Catalog { return b.catalog }

// Attach creates DataDir if needed, builds the SQLite schema, loads every
// JSONL file and seeds built-in rows into empty tables.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if config.DataDir == "" {
		return types.ErrDataDirEmpty
	}
	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return err
	}

	dbPath := filepath.Join(config.DataDir, databaseFile)
	_ = os.Remove(dbPath)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	// One connection keeps transactions and reads on the same database view.
	db.SetMaxOpenConns(1)

	for _, def := range b.catalog.Definitions() {
		if _, err := db.Exec(createTableSQL(def)); err != nil {
			db.Close()
			return fmt.Errorf("creating %s: %w", def.Name(), err)
		}
	}

	b.db = db
	b.config = config
	if err := b.loadAllJSONL(); err != nil {
		b.closeLocked()
		return fmt.Errorf("load JSONL: %w", err)
	}
	if err := b.seedLocked(); err != nil {
		b.closeLocked()
		return fmt.Errorf("seed: %w", err)
	}

	b.attached = true
	b.logger.WithField("data_dir", config.DataDir).Info("attached")
	return nil
}

// Detach closes the database. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	b.attached = false
	return b.closeLocked()
}

func (b *Backend) closeLocked() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// loadAllJSONL inserts the rows of every JSONL file in one transaction.
// Malformed lines and rows that do not decode or violate the key are
// skipped.
func (b *Backend) loadAllJSONL() error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	for _, def := range b.catalog.Definitions() {
		records, skipped, err := readJSONL(jsonlPath(b.config.DataDir, def))
		if err != nil {
			return err
		}
		loaded, rejected := insertRecords(tx, def, records)
		log := b.logger.WithField("table", def.Name())
		if skipped+rejected > 0 {
			log.WithField("skipped", skipped+rejected).Warn("skipped unreadable rows")
		}
		log.WithField("rows", loaded).Debug("loaded")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}

// insertRecords decodes each record into a row of def and inserts it.
func insertRecords(tx *sql.Tx, def *catalog.Definition, records []json.RawMessage) (loaded, rejected int) {
	if len(records) == 0 {
		return 0, 0
	}
	stmt, err := tx.Prepare(insertSQL(def, false))
	if err != nil {
		return 0, len(records)
	}
	defer stmt.Close()

	for _, rec := range records {
		row := def.Codec.New()
		if err := json.Unmarshal(rec, row); err != nil {
			rejected++
			continue
		}
		values, err := def.Codec.Values(row)
		if err != nil {
			rejected++
			continue
		}
		if _, err := stmt.Exec(values...); err != nil {
			rejected++
			continue
		}
		loaded++
	}
	return loaded, rejected
}

// seedLocked inserts the built-in rows of every empty seeded table and
// persists them.
func (b *Backend) seedLocked() error {
	for _, def := range b.catalog.Definitions() {
		if len(def.Seed) == 0 {
			continue
		}
		var count int
		if err := b.db.QueryRow("SELECT COUNT(*) FROM " + sqlTable(def.ID)).Scan(&count); err != nil {
			return fmt.Errorf("counting %s: %w", def.Name(), err)
		}
		if count > 0 {
			continue
		}

		tx, err := b.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning seed transaction: %w", err)
		}
		for _, row := range def.Seed {
			values, err := def.Codec.Values(row)
			if err == nil {
				_, err = tx.Exec(insertSQL(def, false), values...)
			}
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("seeding %s: %w", def.Name(), err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing seed transaction: %w", err)
		}
		if err := b.persistTable(b.db, def); err != nil {
			return err
		}
		b.logger.WithFields(logrus.Fields{"table": def.Name(), "rows": len(def.Seed)}).Info("seeded built-in rows")
	}
	return nil
}

// persistTable rewrites the JSONL file of def from the rows visible to q.
func (b *Backend) persistTable(q querier, def *catalog.Definition) error {
	rows, err := b.selectRows(q, def)
	if err != nil {
		return err
	}
	records := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshaling %s row: %w", def.Name(), err)
		}
		records = append(records, data)
	}
	if err := writeJSONL(jsonlPath(b.config.DataDir, def), records); err != nil {
		return fmt.Errorf("writing %s: %w", def.Name(), err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
	Exec(query string, args ...any) (sql.Result, error)
}

// selectRows returns every row of def in key order.
func (b *Backend) selectRows(q querier, def *catalog.Definition) ([]any, error) {
	rows, err := q.Query(selectSQL(def))
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", def.Name(), err)
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		row := def.Codec.New()
		targets, err := def.Codec.ScanTargets(row)
		if err != nil {
			return nil, err
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", def.Name(), err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// exists reports whether def has a row with key.
func exists(q querier, def *catalog.Definition, key any) (bool, error) {
	var one int
	err := q.QueryRow(
		fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?", sqlTable(def.ID), quote(def.Codec.KeyColumn())), key,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
