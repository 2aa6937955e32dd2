// Package store defines the Record Store capability: a key-addressable
// persistent store of field mappings, partitioned by table and keyed by the
// record id.
//
// Two implementations ship with the module: store/sqlstore (bun over SQLite
// or Postgres) and store/memstore (in-process, backed by the cache package).
package store

import (
	"context"
	"errors"

	"github.com/gabrielgits/crudrepo/record"
)

// ErrNotFound is returned when a table holds no record with the requested id.
var ErrNotFound = errors.New("store: record not found")

// ErrExists is returned by Insert when the table already holds the id.
var ErrExists = errors.New("store: record already exists")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Predicate selects records during a Search.
type Predicate func(record.Fields) bool

// Store is the Record Store capability consumed by the repositories.
type Store interface {
	// Save inserts or replaces a record. A record without an id (missing or 0)
	// is assigned the next id of its table. The stored mapping is returned.
	Save(ctx context.Context, table string, fields record.Fields) (record.Fields, error)
	// Insert stores a new record. A record without an id is assigned the next
	// id of its table; an id already in use fails with ErrExists.
	Insert(ctx context.Context, table string, fields record.Fields) (record.Fields, error)
	// SaveAll upserts every record and reports how many were written.
	SaveAll(ctx context.Context, table string, items []record.Fields) (int, error)
	// GetAll returns every record of a table ordered by id.
	GetAll(ctx context.Context, table string) ([]record.Fields, error)
	// Get returns one record or ErrNotFound.
	Get(ctx context.Context, table string, id int64) (record.Fields, error)
	// Update merges fields into the stored record identified by fields' id and
	// returns the merged mapping, or ErrNotFound.
	Update(ctx context.Context, table string, fields record.Fields) (record.Fields, error)
	// Delete removes one record and returns its id, or ErrNotFound.
	Delete(ctx context.Context, table string, id int64) (int64, error)
	// DeleteAll removes every record of a table and returns the count.
	DeleteAll(ctx context.Context, table string) (int64, error)
	// Find returns the records matching every filter, ordered by id.
	Find(ctx context.Context, table string, filters record.Filters) ([]record.Fields, error)
	// Search returns the records accepted by pred, ordered by id.
	Search(ctx context.Context, table string, pred Predicate) ([]record.Fields, error)
	Close() error
}

// RawSearcher is implemented by stores that accept raw query predicates.
type RawSearcher interface {
	Raw(ctx context.Context, table string, where string, args ...any) ([]record.Fields, error)
}

// Filter keeps the items accepted by pred. Stores that evaluate predicates in
// process share it.
func Filter(items []record.Fields, pred Predicate) []record.Fields {
	out := make([]record.Fields, 0, len(items))
	for _, item := range items {
		if pred(item) {
			out = append(out, item)
		}
	}
	return out
}
