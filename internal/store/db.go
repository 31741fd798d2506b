package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/hack-pad/hackpadfs"
)

// Mode of a transaction.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// DB is an open database. It is safe for concurrent use; transactions are
// serialized.
type DB struct {
	name    string
	factory *Factory

	mu        sync.RWMutex // Guards |version|, |tables| and |closed|.
	db        *sql.DB
	version   int
	tables    map[string]*tableInfo
	snapshots hackpadfs.FS
	closed    bool
}

type tableInfo struct {
	name          string
	keyPath       string
	autoIncrement bool
	indexes       map[string]IndexOptions
}

// Name of the database.
func (d *DB) Name() string { return d.name }

// Version of the database schema.
func (d *DB) Version() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Tables returns the sorted table names.
func (d *DB) Tables() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes the database. A later Factory.Open reopens it.
func (d *DB) Close() error {
	if d.factory != nil {
		d.factory.forget(d.name)
	}
	return d.close()
}

func (d *DB) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

// Transaction runs |fn| as one atomic unit of work over |tables|. If |fn|
// or any operation within it fails, all of its writes are discarded. The Tx
// must not be retained: once |fn| returns, further use of it fails with
// ErrTransactionInactive.
func (d *DB) Transaction(ctx context.Context, tables []string, mode Mode, fn func(tx *Tx) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return opError("transaction", "", ErrClosed)
	}
	scope := make(map[string]*tableInfo, len(tables))
	for _, name := range tables {
		info, ok := d.tables[name]
		if !ok {
			return opError("transaction", name, ErrNoSuchTable)
		}
		scope[name] = info
	}

	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return opError("transaction", "", err)
	}
	tx := &Tx{ctx: ctx, tx: sqlTx, mode: mode, scope: scope}

	var committed bool
	defer func() {
		tx.finish()
		if !committed {
			sqlTx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.failure(); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return opError("commit", "", err)
	}
	committed = true

	if tx.wrote && d.snapshots != nil {
		d.saveSnapshotLocked(ctx)
	}
	return nil
}

func (d *DB) loadCatalog(ctx context.Context) error {
	tables, err := readCatalog(ctx, d.db)
	if err != nil {
		return opError("open", "", err)
	}
	d.tables = tables
	return nil
}

func readCatalog(ctx context.Context, q queryer) (map[string]*tableInfo, error) {
	tables := make(map[string]*tableInfo)

	rows, err := q.QueryContext(ctx, `SELECT name, key_path, auto_increment FROM _tables`)
	if err != nil {
		return nil, fmt.Errorf("failed to read tables: %w", err)
	}
	for rows.Next() {
		var info tableInfo
		var autoIncrement int
		if err := rows.Scan(&info.name, &info.keyPath, &autoIncrement); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		info.autoIncrement = autoIncrement != 0
		info.indexes = make(map[string]IndexOptions)
		tables[info.name] = &info
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `SELECT table_name, name, key_path, is_unique FROM _indexes`)
	if err != nil {
		return nil, fmt.Errorf("failed to read indexes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var table string
		var idx IndexOptions
		var unique int
		if err := rows.Scan(&table, &idx.Name, &idx.KeyPath, &unique); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		idx.Unique = unique != 0
		if t, ok := tables[table]; ok {
			t.indexes[idx.Name] = idx
		}
	}
	return tables, rows.Err()
}

func cloneCatalog(in map[string]*tableInfo) map[string]*tableInfo {
	out := make(map[string]*tableInfo, len(in))
	for name, t := range in {
		c := *t
		c.indexes = make(map[string]IndexOptions, len(t.indexes))
		for k, v := range t.indexes {
			c.indexes[k] = v
		}
		out[name] = &c
	}
	return out
}
