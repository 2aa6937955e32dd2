package di

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gabrielgits/crudrepo/cache"
	"github.com/gabrielgits/crudrepo/pkg/config"
	"github.com/gabrielgits/crudrepo/pkg/logging"
	"github.com/gabrielgits/crudrepo/record"
	"github.com/gabrielgits/crudrepo/remote"
	"github.com/gabrielgits/crudrepo/repository"
	"github.com/gabrielgits/crudrepo/repositorycache"
	"github.com/gabrielgits/crudrepo/store"
	"github.com/gabrielgits/crudrepo/store/memstore"
	"github.com/gabrielgits/crudrepo/store/sqlstore"
)

// ErrNoRemote is returned when a remote-backed repository is requested from a
// container configured without a base URL.
var ErrNoRemote = errors.New("di: no remote endpoint configured")

// Option customizes how a Container builds its components.
type Option func(*Container)

// WithLogger injects a logger instead of building one from the log settings.
func WithLogger(l logging.Logger) Option {
	return func(c *Container) { c.log = l }
}

// WithLogOutput redirects the configured logger, which writes to stderr by
// default.
func WithLogOutput(w io.Writer) Option {
	return func(c *Container) { c.logOutput = w }
}

// WithStore injects the local store. The container closes it on Close.
func WithStore(s store.Store) Option {
	return func(c *Container) { c.store = s }
}

// WithRemoteOptions passes extra options to the remote client.
func WithRemoteOptions(opts ...remote.Option) Option {
	return func(c *Container) { c.remoteOpts = append(c.remoteOpts, opts...) }
}

// Container owns the shared components behind every repository: one logger,
// one local store and one remote client. Repositories for different tables
// built from the same container share them.
type Container struct {
	cfg        config.Config
	log        logging.Logger
	logOutput  io.Writer
	store      store.Store
	client     *remote.Client
	remoteOpts []remote.Option
}

// NewContainer builds the components described by cfg. The remote client is
// only created when cfg.Remote.BaseURL is set; the store is opened lazily by
// the sql driver and eagerly by the memory driver.
func NewContainer(cfg config.Config, opts ...Option) (*Container, error) {
	c := &Container{cfg: cfg, logOutput: os.Stderr}
	for _, opt := range opts {
		opt(c)
	}

	if c.log == nil {
		log, err := logging.New(cfg.Log.Level, cfg.Log.Format, c.logOutput)
		if err != nil {
			return nil, fmt.Errorf("di: logger: %w", err)
		}
		c.log = log
	}

	if c.store == nil {
		s, err := openStore(cfg.Store, c.log)
		if err != nil {
			return nil, err
		}
		c.store = s
	}

	if cfg.Remote.BaseURL != "" {
		client, err := remote.New(remote.Config{
			BaseURL:   cfg.Remote.BaseURL,
			Timeout:   cfg.Remote.Timeout,
			Token:     cfg.Remote.Token,
			UserAgent: cfg.Remote.UserAgent,
		}, append([]remote.Option{remote.WithLogger(c.log)}, c.remoteOpts...)...)
		if err != nil {
			_ = c.store.Close()
			return nil, fmt.Errorf("di: remote: %w", err)
		}
		c.client = client
	} else if cfg.Mode != config.ModeLocal {
		_ = c.store.Close()
		return nil, ErrNoRemote
	}

	return c, nil
}

// NewContainerFromFile loads the configuration at path (plus environment
// overrides) and builds a container from it.
func NewContainerFromFile(path string, opts ...Option) (*Container, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return NewContainer(cfg, opts...)
}

func openStore(cfg config.StoreConfig, log logging.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		s, err := memstore.Open(cache.Config{
			Capacity:           cfg.Memory.Capacity,
			NumShards:          cfg.Memory.NumShards,
			TTL:                cfg.Memory.TTL,
			EvictionPercentage: cfg.Memory.EvictionPercentage,
		})
		if err != nil {
			return nil, fmt.Errorf("di: memory store: %w", err)
		}
		return s, nil
	case config.DriverSQLite, config.DriverPostgres:
		s, err := sqlstore.New(sqlstore.Config{Driver: cfg.Driver, DSN: cfg.DSN}, sqlstore.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("di: sql store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("di: unknown store driver %q", cfg.Driver)
	}
}

// Config returns the configuration the container was built from.
func (c *Container) Config() config.Config { return c.cfg }

func (c *Container) Logger() logging.Logger { return c.log }

func (c *Container) Store() store.Store { return c.store }

// Client returns the remote client, or nil in local mode without a base URL.
func (c *Container) Client() *remote.Client { return c.client }

// Close releases the local store.
func (c *Container) Close() error {
	return c.store.Close()
}

// NewCachedRepository returns the cache-aside repository for table. An empty
// table is derived from T's type name; a nil decode uses record.DecodeJSON.
//
// Go methods cannot have type parameters, so this is a package-level function:
//
//	users, err := di.NewCachedRepository[User](container, "", nil)
func NewCachedRepository[T record.Record](c *Container, table string, decode record.Decoder[T], opts ...repositorycache.Option) (*repositorycache.CachedRepository[T], error) {
	if c.client == nil {
		return nil, ErrNoRemote
	}
	opts = append([]repositorycache.Option{repositorycache.WithLogger(c.log)}, opts...)
	return repositorycache.New[T](c.client, c.store, tableFor[T](table), decode, opts...), nil
}

// NewRemoteRepository returns a repository that only talks to the remote.
func NewRemoteRepository[T record.Record](c *Container, table string, decode record.Decoder[T]) (*repository.Remote[T], error) {
	if c.client == nil {
		return nil, ErrNoRemote
	}
	return repository.NewRemote[T](c.client, tableFor[T](table), decode), nil
}

// NewLocalRepository returns a repository that only uses the local store.
func NewLocalRepository[T record.Record](c *Container, table string, decode record.Decoder[T]) *repository.Local[T] {
	return repository.NewLocal[T](c.store, tableFor[T](table), decode)
}

// NewRepository returns the variant selected by the configured mode.
func NewRepository[T record.Record](c *Container, table string, decode record.Decoder[T]) (repository.Repository[T], error) {
	switch c.cfg.Mode {
	case config.ModeLocal:
		return NewLocalRepository[T](c, table, decode), nil
	case config.ModeRemote:
		repo, err := NewRemoteRepository[T](c, table, decode)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		repo, err := NewCachedRepository[T](c, table, decode)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
}

func tableFor[T record.Record](table string) string {
	if table != "" {
		return table
	}
	return record.TableName[T]()
}
