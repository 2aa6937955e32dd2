// Package repository defines the record repository contract shared by the
// remote-only, local-only and cache-aside variants, together with the error
// taxonomy every variant reports through.
package repository

import (
	"context"

	"github.com/gabrielgits/crudrepo/record"
)

// Repository is the uniform contract over one table.
type Repository[T record.Record] interface {
	// Table is the fixed table name of this repository.
	Table() string

	List(ctx context.Context) ([]T, error)
	GetByID(ctx context.Context, id int64) (T, error)
	// Create stores item and returns it with the fields the backend assigned.
	Create(ctx context.Context, item T) (T, error)
	// Update applies a partial field set to the record with the given id.
	Update(ctx context.Context, id int64, fields record.Fields) (T, error)
	// Delete removes one record and returns its id.
	Delete(ctx context.Context, id int64) (int64, error)
	// DeleteAll removes every record of the table and returns the count.
	DeleteAll(ctx context.Context) (int64, error)
	// ListWhere returns the records whose fields equal every filter value.
	ListWhere(ctx context.Context, filters record.Filters) ([]T, error)
	// Replace updates item when its id resolves and creates it otherwise.
	Replace(ctx context.Context, item T) (T, error)
}

// Upserter is the subset of Repository that Replace builds on.
type Upserter[T record.Record] interface {
	GetByID(ctx context.Context, id int64) (T, error)
	Create(ctx context.Context, item T) (T, error)
	Update(ctx context.Context, id int64, fields record.Fields) (T, error)
}

// Replace is the derived upsert: GetByID(item id) and Update with the item's
// fields on success. Any lookup failure, not only a miss, leads to Create.
func Replace[T record.Record](ctx context.Context, repo Upserter[T], item T) (T, error) {
	id := item.RecordID()
	if _, err := repo.GetByID(ctx, id); err != nil {
		return repo.Create(ctx, item)
	}

	fields, err := item.ToFields()
	if err != nil {
		var zero T
		return zero, err
	}
	return repo.Update(ctx, id, fields)
}
