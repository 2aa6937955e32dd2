package repository

import (
	"context"
	"fmt"

	"github.com/gabrielgits/crudrepo/record"
	"github.com/gabrielgits/crudrepo/remote"
)

var _ Repository[record.Document] = (*Remote[record.Document])(nil)

// Remote forwards every operation to the Remote Endpoint.
type Remote[T record.Record] struct {
	client *remote.Client
	table  string
	decode record.Decoder[T]
}

// NewRemote binds client to table. A nil decode uses record.DecodeJSON.
func NewRemote[T record.Record](client *remote.Client, table string, decode record.Decoder[T]) *Remote[T] {
	if decode == nil {
		decode = record.DecodeJSON[T]
	}
	return &Remote[T]{client: client, table: table, decode: decode}
}

func (r *Remote[T]) Table() string { return r.table }

// Client exposes the underlying client, e.g. to rotate the bearer token.
func (r *Remote[T]) Client() *remote.Client { return r.client }

func (r *Remote[T]) List(ctx context.Context) ([]T, error) {
	return r.list(ctx, "list", remote.TablePath(r.table))
}

func (r *Remote[T]) ListWhere(ctx context.Context, filters record.Filters) ([]T, error) {
	if len(filters) == 0 {
		return r.List(ctx)
	}
	return r.list(ctx, "list where", remote.FilterPath(r.table, filters))
}

func (r *Remote[T]) list(ctx context.Context, op string, path []string) ([]T, error) {
	env, err := r.client.Get(ctx, path...)
	if err != nil {
		return nil, FromRemote(op, r.table, err)
	}
	items, err := env.List()
	if err != nil {
		return nil, FromRemote(op, r.table, err)
	}
	out, err := record.Decode(r.decode, items)
	if err != nil {
		return nil, FromRemote(op, r.table, err)
	}
	return out, nil
}

func (r *Remote[T]) GetByID(ctx context.Context, id int64) (T, error) {
	var zero T
	env, err := r.client.Get(ctx, remote.ItemPath(r.table, id)...)
	if err != nil {
		return zero, FromRemote("get", r.table, err)
	}
	fields, err := env.Fields()
	if err != nil {
		return zero, FromRemote("get", r.table, err)
	}
	return r.decodeOne("get", fields)
}

func (r *Remote[T]) Create(ctx context.Context, item T) (T, error) {
	var zero T
	fields, err := item.ToFields()
	if err != nil {
		return zero, fmt.Errorf("repository: create %s: %w", r.table, err)
	}
	if id, ok := fields.ID(); ok && id == 0 {
		delete(fields, record.IDField)
	}

	env, err := r.client.Post(ctx, fields, remote.TablePath(r.table)...)
	if err != nil {
		return zero, FromRemote("create", r.table, err)
	}

	created, err := env.Fields()
	if err != nil {
		// some endpoints answer with the new id only
		id, ok := env.Int()
		if !ok {
			return zero, FromRemote("create", r.table, err)
		}
		created = fields.WithID(id)
	}
	return r.decodeOne("create", created)
}

func (r *Remote[T]) Update(ctx context.Context, id int64, fields record.Fields) (T, error) {
	var zero T
	env, err := r.client.Put(ctx, fields.WithID(id), remote.ItemPath(r.table, id)...)
	if err != nil {
		return zero, FromRemote("update", r.table, err)
	}

	updated, err := env.Fields()
	if err != nil {
		// no record in the answer; read back the current state
		return r.GetByID(ctx, id)
	}
	return r.decodeOne("update", updated)
}

func (r *Remote[T]) Delete(ctx context.Context, id int64) (int64, error) {
	env, err := r.client.Delete(ctx, remote.ItemPath(r.table, id)...)
	if err != nil {
		return 0, FromRemote("delete", r.table, err)
	}
	if deleted, ok := env.Int(); ok {
		return deleted, nil
	}
	return id, nil
}

func (r *Remote[T]) DeleteAll(ctx context.Context) (int64, error) {
	env, err := r.client.Delete(ctx, remote.TablePath(r.table)...)
	if err != nil {
		return 0, FromRemote("delete all", r.table, err)
	}
	n, _ := env.Int()
	return n, nil
}

func (r *Remote[T]) Replace(ctx context.Context, item T) (T, error) {
	return Replace[T](ctx, r, item)
}

func (r *Remote[T]) decodeOne(op string, fields record.Fields) (T, error) {
	item, err := r.decode(fields)
	if err != nil {
		var zero T
		return zero, FromRemote(op, r.table, fmt.Errorf("undecodable record: %w", err))
	}
	return item, nil
}
