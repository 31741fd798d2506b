package store

import (
	"context"
	"database/sql"
	"fmt"
)

// TableOptions configure a new table.
type TableOptions struct {
	// KeyPath names the record field holding the primary key.
	KeyPath string `json:"keyPath"`
	// AutoIncrement allocates integer keys for records without one, and
	// writes the allocated key back into KeyPath.
	AutoIncrement bool `json:"autoIncrement,omitempty"`
}

// IndexOptions configure a secondary index over a record field.
type IndexOptions struct {
	Name    string `json:"name"`
	KeyPath string `json:"keyPath"`
	Unique  bool   `json:"unique,omitempty"`
}

// Upgrade is the schema handle passed to an UpgradeFunc. It only permits
// additive changes.
type Upgrade struct {
	ctx        context.Context
	tx         *sql.Tx
	tables     map[string]*tableInfo
	newVersion int
}

// NewVersion is the version the database is being upgraded to.
func (u *Upgrade) NewVersion() int { return u.newVersion }

// HasTable reports whether |name| exists.
func (u *Upgrade) HasTable(name string) bool {
	_, ok := u.tables[name]
	return ok
}

// HasIndex reports whether |table| has index |name|.
func (u *Upgrade) HasIndex(table, name string) bool {
	t, ok := u.tables[table]
	if !ok {
		return false
	}
	_, ok = t.indexes[name]
	return ok
}

// CreateTable creates table |name|.
func (u *Upgrade) CreateTable(name string, opts TableOptions) error {
	if err := validIdent(name); err != nil {
		return opError("create table", name, err)
	}
	if opts.KeyPath == "" {
		opts.KeyPath = "id"
	}
	if err := validIdent(opts.KeyPath); err != nil {
		return opError("create table", name, err)
	}
	if u.HasTable(name) {
		return opError("create table", name, ErrTableExists)
	}
	if err := createTable(u.ctx, u.tx, name, opts); err != nil {
		return opError("create table", name, err)
	}
	u.tables[name] = &tableInfo{
		name:          name,
		keyPath:       opts.KeyPath,
		autoIncrement: opts.AutoIncrement,
		indexes:       make(map[string]IndexOptions),
	}
	return nil
}

// CreateIndex adds a secondary index to |table|.
func (u *Upgrade) CreateIndex(table string, opts IndexOptions) error {
	t, ok := u.tables[table]
	if !ok {
		return opError("create index", table, ErrNoSuchTable)
	}
	if err := validIdent(opts.Name); err != nil {
		return opError("create index", table, err)
	}
	if err := validIdent(opts.KeyPath); err != nil {
		return opError("create index", table, err)
	}
	if _, ok := t.indexes[opts.Name]; ok {
		return opError("create index", table, ErrIndexExists)
	}
	if err := createIndex(u.ctx, u.tx, table, opts); err != nil {
		return opError("create index", table, err)
	}
	t.indexes[opts.Name] = opts
	return nil
}

func createTable(ctx context.Context, e execer, name string, opts TableOptions) error {
	var ddl string
	if opts.AutoIncrement {
		ddl = fmt.Sprintf(`CREATE TABLE %s (key INTEGER PRIMARY KEY AUTOINCREMENT, value TEXT NOT NULL)`, dataTable(name))
	} else {
		// Untyped key column: integers and strings keep their own type.
		ddl = fmt.Sprintf(`CREATE TABLE %s (key NOT NULL PRIMARY KEY, value TEXT NOT NULL)`, dataTable(name))
	}
	if _, err := e.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	if _, err := e.ExecContext(ctx,
		`INSERT INTO _tables (name, key_path, auto_increment) VALUES (?, ?, ?)`,
		name, opts.KeyPath, boolToInt(opts.AutoIncrement)); err != nil {
		return fmt.Errorf("failed to register table: %w", err)
	}
	return nil
}

func createIndex(ctx context.Context, e execer, table string, opts IndexOptions) error {
	unique := ""
	if opts.Unique {
		unique = "UNIQUE "
	}
	ddl := fmt.Sprintf(`CREATE %sINDEX %s ON %s (json_extract(value, '%s'))`,
		unique, indexName(table, opts.Name), dataTable(table), jsonPath(opts.KeyPath))
	if _, err := e.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if _, err := e.ExecContext(ctx,
		`INSERT INTO _indexes (table_name, name, key_path, is_unique) VALUES (?, ?, ?, ?)`,
		table, opts.Name, opts.KeyPath, boolToInt(opts.Unique)); err != nil {
		return fmt.Errorf("failed to register index: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
