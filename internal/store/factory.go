// Package store provides durable keyed tables with secondary indexes over
// SQLite. Uses ncruces/go-sqlite3/driver, which runs both natively and under
// WASM.
//
// A Factory opens named databases. Each database carries a version and is
// upgraded additively by an UpgradeFunc, which may only create tables and
// indexes. Records are JSON objects keyed by a field (the table key path) or
// by an auto-incremented integer. All reads and writes happen inside
// DB.Transaction, whose Tx is valid only for the duration of its callback.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	"github.com/hack-pad/hackpadfs"
	_ "github.com/ncruces/go-sqlite3/driver"
	log "github.com/sirupsen/logrus"
)

// metaSchema holds the table catalog of a database.
const metaSchema = `
CREATE TABLE IF NOT EXISTS _tables (
    name TEXT PRIMARY KEY,
    key_path TEXT NOT NULL,
    auto_increment INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS _indexes (
    table_name TEXT NOT NULL,
    name TEXT NOT NULL,
    key_path TEXT NOT NULL,
    is_unique INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (table_name, name)
);
`

var dbNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// UpgradeFunc is invoked once per version transition with the version found
// on disk (0 for a new database). It runs inside a single transaction.
type UpgradeFunc func(u *Upgrade, oldVersion int) error

// Factory opens databases under Dir. An empty Dir opens in-memory databases,
// which are restored from and saved to Snapshots when it is set.
type Factory struct {
	Dir       string
	Snapshots hackpadfs.FS

	mu   sync.Mutex
	open map[string]*DB
}

// NewFactory returns a Factory rooted at dir.
func NewFactory(dir string) *Factory {
	return &Factory{Dir: dir, open: make(map[string]*DB)}
}

// Open returns the database |name| at |version|, running |upgrade| if the
// stored version is older. Opening an already open database at its current
// version returns the same handle.
func (f *Factory) Open(ctx context.Context, name string, version int, upgrade UpgradeFunc) (*DB, error) {
	if !dbNameRe.MatchString(name) {
		return nil, opError("open", "", fmt.Errorf("%w: %q", ErrInvalidName, name))
	}
	if version < 1 {
		return nil, opError("open", "", ErrInvalidVersion)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.open == nil {
		f.open = make(map[string]*DB)
	}
	if d, ok := f.open[name]; ok {
		if err := d.upgradeTo(ctx, version, upgrade); err != nil {
			return nil, err
		}
		return d, nil
	}

	d, err := f.openDB(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := d.upgradeTo(ctx, version, upgrade); err != nil {
		d.db.Close()
		return nil, err
	}
	f.open[name] = d
	return d, nil
}

// Close closes every database opened by the Factory.
func (f *Factory) Close() error {
	f.mu.Lock()
	var dbs []*DB
	for _, d := range f.open {
		dbs = append(dbs, d)
	}
	f.open = make(map[string]*DB)
	f.mu.Unlock()

	var firstErr error
	for _, d := range dbs {
		if err := d.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *Factory) forget(name string) {
	f.mu.Lock()
	delete(f.open, name)
	f.mu.Unlock()
}

func (f *Factory) openDB(ctx context.Context, name string) (*DB, error) {
	dsn := ":memory:"
	if f.Dir != "" {
		if err := os.MkdirAll(f.Dir, 0o755); err != nil {
			return nil, opError("open", "", fmt.Errorf("failed to create store dir: %w", err))
		}
		dsn = "file:" + filepath.Join(f.Dir, name+".db") + "?_pragma=busy_timeout(10000)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, opError("open", "", fmt.Errorf("failed to open database: %w", err))
	}
	// One connection: keeps an in-memory database alive and serializes
	// transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, metaSchema); err != nil {
		db.Close()
		return nil, opError("open", "", fmt.Errorf("failed to create schema: %w", err))
	}

	d := &DB{name: name, db: db, factory: f}
	if f.Dir == "" && f.Snapshots != nil {
		d.snapshots = f.Snapshots
		if err := d.restoreSnapshot(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	if d.version, err = readVersion(ctx, db); err != nil {
		db.Close()
		return nil, opError("open", "", err)
	}
	if err := d.loadCatalog(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func readVersion(ctx context.Context, q queryer) (int, error) {
	var v int
	if err := q.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read version: %w", err)
	}
	return v, nil
}

func writeVersion(ctx context.Context, e execer, v int) error {
	if _, err := e.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(v)); err != nil {
		return fmt.Errorf("failed to write version: %w", err)
	}
	return nil
}

// upgradeTo runs |upgrade| when |version| is newer than the database's.
func (d *DB) upgradeTo(ctx context.Context, version int, upgrade UpgradeFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return opError("open", "", ErrClosed)
	}
	switch {
	case version < d.version:
		return opError("open", "", fmt.Errorf("%w: %s is at version %d, requested %d",
			ErrVersionDowngrade, d.name, d.version, version))
	case version == d.version:
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return opError("upgrade", "", err)
	}
	defer tx.Rollback()

	u := &Upgrade{ctx: ctx, tx: tx, tables: cloneCatalog(d.tables), newVersion: version}
	if upgrade != nil {
		if err := upgrade(u, d.version); err != nil {
			return opError("upgrade", "", err)
		}
	}
	if err := writeVersion(ctx, tx, version); err != nil {
		return opError("upgrade", "", err)
	}
	if err := tx.Commit(); err != nil {
		return opError("upgrade", "", err)
	}

	log.WithFields(log.Fields{
		"db":   d.name,
		"from": d.version,
		"to":   version,
	}).Info("upgraded database")

	d.version = version
	d.tables = u.tables
	if d.snapshots != nil {
		d.saveSnapshotLocked(ctx)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
