package store

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionDowngrade is returned by Open when the requested version is
	// lower than the version already on disk.
	ErrVersionDowngrade = errors.New("version downgrade requested")
	// ErrInvalidVersion is returned by Open for versions below 1.
	ErrInvalidVersion = errors.New("version must be at least 1")
	// ErrInvalidName rejects database, table, index and key path names which
	// are not plain identifiers.
	ErrInvalidName = errors.New("invalid name")
	// ErrMalformedKey rejects keys which are neither integers nor non-empty
	// strings, and records whose key path does not yield such a key.
	ErrMalformedKey = errors.New("malformed key")
	// ErrNoSuchTable is returned for tables which do not exist or are outside
	// of the transaction scope.
	ErrNoSuchTable = errors.New("no such table")
	// ErrNoSuchIndex is returned for unknown indexes.
	ErrNoSuchIndex = errors.New("no such index")
	// ErrTableExists is returned by Upgrade.CreateTable for existing tables.
	ErrTableExists = errors.New("table already exists")
	// ErrIndexExists is returned by Upgrade.CreateIndex for existing indexes.
	ErrIndexExists = errors.New("index already exists")
	// ErrTransactionInactive is returned when a Tx is used after its
	// Transaction callback has returned.
	ErrTransactionInactive = errors.New("transaction is no longer active")
	// ErrReadOnly is returned for writes within a ReadOnly transaction.
	ErrReadOnly = errors.New("transaction is read-only")
	// ErrClosed is returned for operations on a closed DB.
	ErrClosed = errors.New("database is closed")
)

// StoreError annotates a failed store operation.
type StoreError struct {
	Op    string
	Table string
	Err   error
}

func (e *StoreError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func opError(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Table: table, Err: err}
}
