package repository

import (
	"context"
	"fmt"

	"github.com/gabrielgits/crudrepo/record"
	"github.com/gabrielgits/crudrepo/store"
)

var _ Repository[record.Document] = (*Local[record.Document])(nil)

// Local forwards every operation to a Record Store.
type Local[T record.Record] struct {
	store  store.Store
	table  string
	decode record.Decoder[T]
}

// NewLocal binds s to table. A nil decode uses record.DecodeJSON.
func NewLocal[T record.Record](s store.Store, table string, decode record.Decoder[T]) *Local[T] {
	if decode == nil {
		decode = record.DecodeJSON[T]
	}
	return &Local[T]{store: s, table: table, decode: decode}
}

func (l *Local[T]) Table() string { return l.table }

func (l *Local[T]) List(ctx context.Context) ([]T, error) {
	items, err := l.store.GetAll(ctx, l.table)
	if err != nil {
		return nil, FromStore("list", l.table, 0, err)
	}
	return l.decodeAll("list", items)
}

func (l *Local[T]) ListWhere(ctx context.Context, filters record.Filters) ([]T, error) {
	if len(filters) == 0 {
		return l.List(ctx)
	}
	items, err := l.store.Find(ctx, l.table, filters)
	if err != nil {
		return nil, FromStore("list where", l.table, 0, err)
	}
	return l.decodeAll("list where", items)
}

func (l *Local[T]) GetByID(ctx context.Context, id int64) (T, error) {
	fields, err := l.store.Get(ctx, l.table, id)
	if err != nil {
		var zero T
		return zero, FromStore("get", l.table, id, err)
	}
	return l.decodeOne("get", fields)
}

// Create inserts item; a zero id is replaced by the next id of the table. An
// id that is already stored fails with a StoreError wrapping store.ErrExists.
func (l *Local[T]) Create(ctx context.Context, item T) (T, error) {
	var zero T
	fields, err := item.ToFields()
	if err != nil {
		return zero, fmt.Errorf("repository: create %s: %w", l.table, err)
	}
	saved, err := l.store.Insert(ctx, l.table, fields)
	if err != nil {
		return zero, FromStore("create", l.table, item.RecordID(), err)
	}
	return l.decodeOne("create", saved)
}

func (l *Local[T]) Update(ctx context.Context, id int64, fields record.Fields) (T, error) {
	merged, err := l.store.Update(ctx, l.table, fields.WithID(id))
	if err != nil {
		var zero T
		return zero, FromStore("update", l.table, id, err)
	}
	return l.decodeOne("update", merged)
}

func (l *Local[T]) Delete(ctx context.Context, id int64) (int64, error) {
	deleted, err := l.store.Delete(ctx, l.table, id)
	if err != nil {
		return 0, FromStore("delete", l.table, id, err)
	}
	return deleted, nil
}

func (l *Local[T]) DeleteAll(ctx context.Context) (int64, error) {
	n, err := l.store.DeleteAll(ctx, l.table)
	if err != nil {
		return 0, FromStore("delete all", l.table, 0, err)
	}
	return n, nil
}

func (l *Local[T]) Replace(ctx context.Context, item T) (T, error) {
	return Replace[T](ctx, l, item)
}

func (l *Local[T]) decodeOne(op string, fields record.Fields) (T, error) {
	item, err := l.decode(fields)
	if err != nil {
		var zero T
		return zero, &StoreError{Op: op, Table: l.table, Err: fmt.Errorf("undecodable record: %w", err)}
	}
	return item, nil
}

func (l *Local[T]) decodeAll(op string, items []record.Fields) ([]T, error) {
	out, err := record.Decode(l.decode, items)
	if err != nil {
		return nil, &StoreError{Op: op, Table: l.table, Err: err}
	}
	return out, nil
}
