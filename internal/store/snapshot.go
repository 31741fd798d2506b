package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/hack-pad/hackpadfs"
	log "github.com/sirupsen/logrus"
)

// Snapshot is a portable JSON export of a database: its version, its
// catalog and every record. It lets an in-memory database survive restarts
// of a WASM host whose only durable storage is a hackpadfs.FS.
type Snapshot struct {
	Name    string          `json:"name"`
	Version int             `json:"version"`
	Tables  []SnapshotTable `json:"tables"`
}

// SnapshotTable is one table of a Snapshot.
type SnapshotTable struct {
	Name    string         `json:"name"`
	Options TableOptions   `json:"options"`
	Indexes []IndexOptions `json:"indexes,omitempty"`
	Records []Record       `json:"records"`
}

// Export serializes the database.
func (d *DB) Export(ctx context.Context) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, opError("export", "", ErrClosed)
	}
	return d.exportLocked(ctx)
}

func (d *DB) exportLocked(ctx context.Context) ([]byte, error) {
	snap := Snapshot{Name: d.name, Version: d.version}

	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		info := d.tables[name]
		records, err := queryRecords(ctx, d.db, name)
		if err != nil {
			return nil, opError("export", name, err)
		}
		st := SnapshotTable{
			Name:    name,
			Options: TableOptions{KeyPath: info.keyPath, AutoIncrement: info.autoIncrement},
			Records: records,
		}
		for _, idx := range info.indexes {
			st.Indexes = append(st.Indexes, idx)
		}
		sort.Slice(st.Indexes, func(i, j int) bool { return st.Indexes[i].Name < st.Indexes[j].Name })
		snap.Tables = append(snap.Tables, st)
	}
	return json.Marshal(snap)
}

// importSnapshot loads |data| into an empty database.
func (d *DB) importSnapshot(ctx context.Context, data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("import unmarshal: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, st := range snap.Tables {
		if err := validIdent(st.Name); err != nil {
			return err
		}
		if err := validIdent(st.Options.KeyPath); err != nil {
			return err
		}
		if err := createTable(ctx, tx, st.Name, st.Options); err != nil {
			return fmt.Errorf("import table %s: %w", st.Name, err)
		}
		for _, idx := range st.Indexes {
			if err := validIdent(idx.Name); err != nil {
				return err
			}
			if err := validIdent(idx.KeyPath); err != nil {
				return err
			}
			if err := createIndex(ctx, tx, st.Name, idx); err != nil {
				return fmt.Errorf("import index %s: %w", idx.Name, err)
			}
		}
		for _, rec := range st.Records {
			key, err := NormalizeKey(rec.Key)
			if err != nil {
				return fmt.Errorf("import %s: %w", st.Name, err)
			}
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`INSERT INTO %s (key, value) VALUES (?, ?)`, dataTable(st.Name)),
				key, string(rec.Value)); err != nil {
				return fmt.Errorf("import %s record: %w", st.Name, err)
			}
		}
	}
	if err := writeVersion(ctx, tx, snap.Version); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DB) snapshotPath() string { return d.name + ".snapshot.json" }

// restoreSnapshot imports a previously saved snapshot, if one exists.
func (d *DB) restoreSnapshot(ctx context.Context) error {
	data, err := hackpadfs.ReadFile(d.snapshots, d.snapshotPath())
	if errors.Is(err, hackpadfs.ErrNotExist) {
		return nil
	} else if err != nil {
		return opError("restore", "", fmt.Errorf("failed to read snapshot: %w", err))
	}
	if err := d.importSnapshot(ctx, data); err != nil {
		return opError("restore", "", err)
	}
	return nil
}

// saveSnapshotLocked persists the database. Failures are logged: the
// committed transaction stands and the next write retries the save.
func (d *DB) saveSnapshotLocked(ctx context.Context) {
	data, err := d.exportLocked(ctx)
	if err == nil {
		err = hackpadfs.WriteFullFile(d.snapshots, d.snapshotPath(), data, 0o644)
	}
	if err != nil {
		log.WithFields(log.Fields{"db": d.name, "err": err}).Warn("failed to save snapshot")
	}
}
