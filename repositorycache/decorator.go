package repositorycache

import (
	"context"
	"errors"

	"github.com/gabrielgits/crudrepo/pkg/logging"
	"github.com/gabrielgits/crudrepo/record"
	"github.com/gabrielgits/crudrepo/remote"
	"github.com/gabrielgits/crudrepo/repository"
	"github.com/gabrielgits/crudrepo/store"
)

// Interface assertion to ensure CachedRepository implements Repository[T]
var _ repository.Repository[record.Document] = (*CachedRepository[record.Document])(nil)

// Option configures a CachedRepository.
type Option func(*options)

type options struct {
	log                logging.Logger
	observer           MirrorObserver
	unfilteredFallback bool
}

// WithLogger sets the logger for fallbacks (debug) and mirror failures (warn).
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMirrorObserver registers a callback for every mirror write failure.
func WithMirrorObserver(fn MirrorObserver) Option {
	return func(o *options) { o.observer = fn }
}

// WithUnfilteredFallback makes ListWhere return the whole mirrored table when
// the remote is unavailable, instead of applying the filters locally.
func WithUnfilteredFallback() Option {
	return func(o *options) { o.unfilteredFallback = true }
}

// CachedRepository decorates a remote repository with a local mirror: reads
// fall back to the mirror when the remote fails, successful writes are
// mirrored, and deletes are applied remotely first.
type CachedRepository[T record.Record] struct {
	remote *repository.Remote[T]
	store  store.Store
	table  string
	decode record.Decoder[T]
	opts   options
}

// New creates a CachedRepository for table over client and the mirror store s.
// A nil decode uses record.DecodeJSON.
func New[T record.Record](client *remote.Client, s store.Store, table string, decode record.Decoder[T], opts ...Option) *CachedRepository[T] {
	if decode == nil {
		decode = record.DecodeJSON[T]
	}
	o := options{log: logging.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.With("table", table)

	return &CachedRepository[T]{
		remote: repository.NewRemote[T](client, table, decode),
		store:  s,
		table:  table,
		decode: decode,
		opts:   o,
	}
}

// Table returns the table both the remote and the mirror are bound to.
func (c *CachedRepository[T]) Table() string { return c.table }

// SetToken replaces the bearer token for subsequent remote calls. The mirror
// is never authenticated.
func (c *CachedRepository[T]) SetToken(token string) {
	c.remote.Client().SetToken(token)
}

// GetByID reads from the remote and mirrors the result. When the remote is
// unreachable or answers with a failure the mirrored copy is returned; a
// mirror miss is a NotFoundError.
func (c *CachedRepository[T]) GetByID(ctx context.Context, id int64) (T, error) {
	item, err := c.remote.GetByID(ctx, id)
	if err == nil {
		c.mirrorOne(ctx, "get", id, item)
		return item, nil
	}
	c.opts.log.Debug(ctx, "remote get failed, reading mirror", "id", id, "error", err)

	var zero T
	fields, serr := c.store.Get(ctx, c.table, id)
	if serr != nil {
		if !errors.Is(serr, store.ErrNotFound) {
			c.opts.log.Warn(ctx, "mirror read failed", "id", id, "error", serr)
		}
		return zero, &repository.NotFoundError{Table: c.table, ID: id}
	}
	item, derr := c.decode(fields)
	if derr != nil {
		c.opts.log.Warn(ctx, "mirrored record is undecodable", "id", id, "error", derr)
		return zero, &repository.NotFoundError{Table: c.table, ID: id}
	}
	return item, nil
}

// List reads every record from the remote and mirrors them, falling back to
// the mirrored table.
func (c *CachedRepository[T]) List(ctx context.Context) ([]T, error) {
	items, err := c.remote.List(ctx)
	if err == nil {
		c.mirrorAll(ctx, "list", items)
		return items, nil
	}
	c.opts.log.Debug(ctx, "remote list failed, reading mirror", "error", err)

	fields, serr := c.store.GetAll(ctx, c.table)
	if serr != nil {
		return nil, repository.FromStore("list", c.table, 0, serr)
	}
	return c.decodeMirror("list", fields)
}

// ListWhere filters remotely through the path convention and mirrors the
// matches. The fallback applies the same filters to the mirror unless
// WithUnfilteredFallback was given.
func (c *CachedRepository[T]) ListWhere(ctx context.Context, filters record.Filters) ([]T, error) {
	items, err := c.remote.ListWhere(ctx, filters)
	if err == nil {
		c.mirrorAll(ctx, "list where", items)
		return items, nil
	}
	c.opts.log.Debug(ctx, "remote filtered list failed, reading mirror", "filters", len(filters), "error", err)

	var (
		fields []record.Fields
		serr   error
	)
	if c.opts.unfilteredFallback || len(filters) == 0 {
		fields, serr = c.store.GetAll(ctx, c.table)
	} else {
		fields, serr = c.store.Find(ctx, c.table, filters)
	}
	if serr != nil {
		return nil, repository.FromStore("list where", c.table, 0, serr)
	}
	return c.decodeMirror("list where", fields)
}

// Create writes to the remote only; a remote failure leaves the mirror
// untouched. The created record is mirrored.
func (c *CachedRepository[T]) Create(ctx context.Context, item T) (T, error) {
	created, err := c.remote.Create(ctx, item)
	if err != nil {
		return created, err
	}
	c.mirrorOne(ctx, "create", created.RecordID(), created)
	return created, nil
}

// Update writes to the remote only and mirrors the updated record.
func (c *CachedRepository[T]) Update(ctx context.Context, id int64, fields record.Fields) (T, error) {
	updated, err := c.remote.Update(ctx, id, fields)
	if err != nil {
		return updated, err
	}
	c.mirrorOne(ctx, "update", id, updated)
	return updated, nil
}

// Delete removes the record remotely, then from the mirror. A record that was
// never mirrored is not an error.
func (c *CachedRepository[T]) Delete(ctx context.Context, id int64) (int64, error) {
	deleted, err := c.remote.Delete(ctx, id)
	if err != nil {
		return 0, err
	}
	if _, serr := c.store.Delete(ctx, c.table, id); serr != nil && !errors.Is(serr, store.ErrNotFound) {
		return 0, repository.FromStore("delete", c.table, id, serr)
	}
	return deleted, nil
}

// DeleteAll empties the remote table, then the mirror. The remote count is
// returned.
func (c *CachedRepository[T]) DeleteAll(ctx context.Context) (int64, error) {
	n, err := c.remote.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	if _, serr := c.store.DeleteAll(ctx, c.table); serr != nil {
		return 0, repository.FromStore("delete all", c.table, 0, serr)
	}
	return n, nil
}

// Replace updates item when GetByID resolves it and creates it otherwise.
// GetByID falls back to the mirror, so an offline mirror hit still leads to
// an Update, which then fails remotely.
func (c *CachedRepository[T]) Replace(ctx context.Context, item T) (T, error) {
	return repository.Replace[T](ctx, c, item)
}

// mirrorOne stores item under id, the identifier the remote call was made
// with, whatever id the payload itself carried.
func (c *CachedRepository[T]) mirrorOne(ctx context.Context, op string, id int64, item T) {
	if id == 0 {
		c.reportMirrorFailure(ctx, MirrorFailure{Op: op, Table: c.table, Err: ErrMissingID})
		return
	}
	fields, err := item.ToFields()
	if err == nil {
		_, err = c.store.Save(ctx, c.table, fields.WithID(id))
	}
	if err != nil {
		c.reportMirrorFailure(ctx, MirrorFailure{Op: op, Table: c.table, ID: id, Err: err})
	}
}

// mirrorAll stores the records that carry an id. The others are reported and
// skipped: the mirror never assigns ids of its own.
func (c *CachedRepository[T]) mirrorAll(ctx context.Context, op string, items []T) {
	if len(items) == 0 {
		return
	}
	batch := make([]record.Fields, 0, len(items))
	for _, item := range items {
		id := item.RecordID()
		if id == 0 {
			c.reportMirrorFailure(ctx, MirrorFailure{Op: op, Table: c.table, Err: ErrMissingID})
			continue
		}
		fields, err := item.ToFields()
		if err != nil {
			c.reportMirrorFailure(ctx, MirrorFailure{Op: op, Table: c.table, ID: id, Err: err})
			continue
		}
		batch = append(batch, fields.WithID(id))
	}
	if len(batch) == 0 {
		return
	}
	if _, err := c.store.SaveAll(ctx, c.table, batch); err != nil {
		c.reportMirrorFailure(ctx, MirrorFailure{Op: op, Table: c.table, Err: err})
	}
}

func (c *CachedRepository[T]) reportMirrorFailure(ctx context.Context, failure MirrorFailure) {
	c.opts.log.Warn(ctx, "mirror write failed", "op", failure.Op, "id", failure.ID, "error", failure.Err)
	recordMirrorFailure(ctx, failure)
	if c.opts.observer != nil {
		c.opts.observer(ctx, failure)
	}
}

func (c *CachedRepository[T]) decodeMirror(op string, fields []record.Fields) ([]T, error) {
	items, err := record.Decode(c.decode, fields)
	if err != nil {
		return nil, &repository.StoreError{Op: op, Table: c.table, Err: err}
	}
	return items, nil
}
