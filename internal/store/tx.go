package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
)

// Tx is a scoped unit of work handed to a Transaction callback.
type Tx struct {
	ctx   context.Context
	tx    *sql.Tx
	mode  Mode
	scope map[string]*tableInfo

	mu    sync.Mutex
	done  bool
	err   error // First failed operation, which aborts the transaction.
	wrote bool
}

// Mode of the transaction.
func (t *Tx) Mode() Mode { return t.mode }

// Table returns a table within the transaction scope.
func (t *Tx) Table(name string) (*Table, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return nil, opError("table", name, ErrTransactionInactive)
	}
	info, ok := t.scope[name]
	if !ok {
		return nil, opError("table", name, ErrNoSuchTable)
	}
	return &Table{tx: t, info: info}, nil
}

func (t *Tx) finish() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}

func (t *Tx) failure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// run executes |fn| while holding the Tx, recording its failure.
func (t *Tx) run(op, table string, write bool, fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return opError(op, table, ErrTransactionInactive)
	}
	if write && t.mode != ReadWrite {
		return opError(op, table, ErrReadOnly)
	}
	if err := fn(); err != nil {
		err = opError(op, table, err)
		if t.err == nil {
			t.err = err
		}
		return err
	}
	if write {
		t.wrote = true
	}
	return nil
}

// Record is a key and its JSON value.
type Record struct {
	Key   Key             `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Table is a keyed table within a transaction.
type Table struct {
	tx   *Tx
	info *tableInfo
}

// Name of the table.
func (tb *Table) Name() string { return tb.info.name }

// Get returns the record stored under |key|, or nil if there is none.
func (tb *Table) Get(key any) (json.RawMessage, error) {
	k, err := NormalizeKey(key)
	if err != nil {
		return nil, opError("get", tb.info.name, err)
	}

	var value json.RawMessage
	err = tb.tx.run("get", tb.info.name, false, func() error {
		var s string
		err := tb.tx.tx.QueryRowContext(tb.tx.ctx,
			fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, dataTable(tb.info.name)), k).Scan(&s)
		if err == sql.ErrNoRows {
			return nil
		} else if err != nil {
			return err
		}
		value = json.RawMessage(s)
		return nil
	})
	return value, err
}

// Put inserts or replaces |record|, which must encode to a JSON object, and
// returns its key.
func (tb *Table) Put(record any) (Key, error) {
	raw, err := encodeRecord(record)
	if err != nil {
		return nil, opError("put", tb.info.name, err)
	}
	key, err := extractKey(raw, tb.info.keyPath)
	if err != nil {
		return nil, opError("put", tb.info.name, err)
	}
	if key == nil && !tb.info.autoIncrement {
		return nil, opError("put", tb.info.name, fmt.Errorf("%w: missing %q", ErrMalformedKey, tb.info.keyPath))
	}
	if _, isString := key.(string); isString && tb.info.autoIncrement {
		return nil, opError("put", tb.info.name, fmt.Errorf("%w: auto-increment keys are integers", ErrMalformedKey))
	}

	table := dataTable(tb.info.name)
	err = tb.tx.run("put", tb.info.name, true, func() error {
		if key != nil {
			_, err := tb.tx.tx.ExecContext(tb.tx.ctx, fmt.Sprintf(`
				INSERT INTO %s (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value
			`, table), key, string(raw))
			return err
		}

		res, err := tb.tx.tx.ExecContext(tb.tx.ctx,
			fmt.Sprintf(`INSERT INTO %s (value) VALUES (?)`, table), string(raw))
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		// Write the allocated key back into the record.
		if _, err := tb.tx.tx.ExecContext(tb.tx.ctx,
			fmt.Sprintf(`UPDATE %s SET value = json_set(value, '%s', key) WHERE key = ?`,
				table, jsonPath(tb.info.keyPath)), id); err != nil {
			return err
		}
		key = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

// Delete removes the record stored under |key|, if any.
func (tb *Table) Delete(key any) error {
	k, err := NormalizeKey(key)
	if err != nil {
		return opError("delete", tb.info.name, err)
	}
	return tb.tx.run("delete", tb.info.name, true, func() error {
		_, err := tb.tx.tx.ExecContext(tb.tx.ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, dataTable(tb.info.name)), k)
		return err
	})
}

// GetAll returns every record in key order.
func (tb *Table) GetAll() ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := tb.tx.run("get all", tb.info.name, false, func() error {
		var err error
		out, err = queryValues(tb.tx.ctx, tb.tx.tx,
			fmt.Sprintf(`SELECT value FROM %s ORDER BY key`, dataTable(tb.info.name)))
		return err
	})
	return out, err
}

// Records returns every key and record in key order.
func (tb *Table) Records() ([]Record, error) {
	var out []Record
	err := tb.tx.run("records", tb.info.name, false, func() error {
		var err error
		out, err = queryRecords(tb.tx.ctx, tb.tx.tx, tb.info.name)
		return err
	})
	return out, err
}

// Count returns the number of records.
func (tb *Table) Count() (int, error) {
	var n int
	err := tb.tx.run("count", tb.info.name, false, func() error {
		return tb.tx.tx.QueryRowContext(tb.tx.ctx,
			fmt.Sprintf(`SELECT COUNT(*) FROM %s`, dataTable(tb.info.name))).Scan(&n)
	})
	return n, err
}

// Index returns the secondary index |name|.
func (tb *Table) Index(name string) (*Index, error) {
	idx, ok := tb.info.indexes[name]
	if !ok {
		return nil, opError("index", tb.info.name, fmt.Errorf("%w: %q", ErrNoSuchIndex, name))
	}
	return &Index{table: tb, opts: idx}, nil
}

// Index is a secondary index of a Table.
type Index struct {
	table *Table
	opts  IndexOptions
}

// GetAll returns the records whose indexed field equals |value|, in key order.
func (ix *Index) GetAll(value any) ([]json.RawMessage, error) {
	v, err := NormalizeKey(value)
	if err != nil {
		return nil, opError("index get all", ix.table.info.name, err)
	}
	var out []json.RawMessage
	err = ix.table.tx.run("index get all", ix.table.info.name, false, func() error {
		var err error
		out, err = queryValues(ix.table.tx.ctx, ix.table.tx.tx,
			fmt.Sprintf(`SELECT value FROM %s WHERE json_extract(value, '%s') = ? ORDER BY key`,
				dataTable(ix.table.info.name), jsonPath(ix.opts.KeyPath)), v)
		return err
	})
	return out, err
}

func queryValues(ctx context.Context, q queryer, query string, args ...any) ([]json.RawMessage, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(s))
	}
	return out, rows.Err()
}

func queryRecords(ctx context.Context, q queryer, table string) ([]Record, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`SELECT key, value FROM %s ORDER BY key`, dataTable(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var k any
		var s string
		if err := rows.Scan(&k, &s); err != nil {
			return nil, err
		}
		out = append(out, Record{Key: scanKey(k), Value: json.RawMessage(s)})
	}
	return out, rows.Err()
}

// GetAs decodes the record under |key| into a T. The boolean is false when
// there is no such record.
func GetAs[T any](tb *Table, key any) (*T, bool, error) {
	raw, err := tb.Get(key)
	if err != nil || raw == nil {
		return nil, false, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, opError("decode", tb.info.name, err)
	}
	return &v, true, nil
}

// DecodeAll decodes a list of records into Ts.
func DecodeAll[T any](raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, opError("decode", "", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// GetAllAs decodes every record of the table into Ts, in key order.
func GetAllAs[T any](tb *Table) ([]T, error) {
	raws, err := tb.GetAll()
	if err != nil {
		return nil, err
	}
	out, err := DecodeAll[T](raws)
	if err != nil {
		return nil, opError("decode", tb.info.name, err)
	}
	return out, nil
}
