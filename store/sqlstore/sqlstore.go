// Package sqlstore is a Record Store on bun. Records of every table share one
// mirror_records table keyed by (table_name, record_id); the record itself is
// kept as a JSON payload.
//
// The database handle is opened lazily on first use. A failed open is retried
// by the next call.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gabrielgits/crudrepo/pkg/logging"
	"github.com/gabrielgits/crudrepo/record"
	"github.com/gabrielgits/crudrepo/store"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	_ store.Store       = (*Store)(nil)
	_ store.RawSearcher = (*Store)(nil)
)

// Config selects the database.
type Config struct {
	Driver string
	DSN    string
}

type mirrorRow struct {
	bun.BaseModel `bun:"table:mirror_records,alias:mr"`

	Table     string    `bun:"table_name,pk"`
	ID        int64     `bun:"record_id,pk"`
	Payload   string    `bun:"payload,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type Option func(*Store)

func WithLogger(l logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Store is a bun-backed store.Store.
type Store struct {
	cfg Config
	log logging.Logger
	now func() time.Time

	mu     sync.Mutex
	db     *bun.DB
	closed bool
}

// New validates cfg and returns a store that connects on first use.
func New(cfg Config, opts ...Option) (*Store, error) {
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
	case "":
		cfg.Driver = DriverSQLite
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, errors.New("sqlstore: dsn is required")
	}

	s := &Store{
		cfg: cfg,
		log: logging.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// conn returns the shared handle, opening and migrating it when absent.
func (s *Store) conn(ctx context.Context) (*bun.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	if s.db != nil {
		return s.db, nil
	}

	db, err := s.open(ctx)
	if err != nil {
		s.log.Warn(ctx, "store connection failed", "driver", s.cfg.Driver, "error", err)
		return nil, err
	}
	s.db = db
	s.log.Debug(ctx, "store connected", "driver", s.cfg.Driver)
	return db, nil
}

func (s *Store) open(ctx context.Context) (*bun.DB, error) {
	var (
		sqldb *sql.DB
		err   error
	)
	switch s.cfg.Driver {
	case DriverSQLite:
		sqldb, err = sql.Open("sqlite3", sqliteDSN(s.cfg.DSN))
		if err == nil && isMemoryDSN(s.cfg.DSN) {
			// every new connection would see a fresh empty database
			sqldb.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		sqldb, err = sql.Open("postgres", s.cfg.DSN)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", s.cfg.Driver, err)
	}

	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", s.cfg.Driver, err)
	}
	if err := Migrate(ctx, sqldb, s.cfg.Driver); err != nil {
		sqldb.Close()
		return nil, err
	}

	if s.cfg.Driver == DriverPostgres {
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

func sqliteDSN(dsn string) string {
	if isMemoryDSN(dsn) || strings.Contains(dsn, "?") {
		return dsn
	}
	// immediate transactions take the write lock up front, so concurrent
	// writers wait on the busy timeout instead of failing on a stale read
	return dsn + "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
}

// Save implements store.Store.
func (s *Store) Save(ctx context.Context, table string, fields record.Fields) (record.Fields, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var saved record.Fields
	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		saved, err = s.upsert(ctx, tx, table, fields)
		return err
	})
	return saved, err
}

// Insert implements store.Store.
func (s *Store) Insert(ctx context.Context, table string, fields record.Fields) (record.Fields, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var saved record.Fields
	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		id, ok := fields.ID()
		if !ok || id == 0 {
			saved, err = s.insertNext(ctx, tx, table, fields)
			return err
		}
		row, err := s.row(table, fields)
		if err != nil {
			return err
		}
		inserted, err := s.insertNew(ctx, tx, row)
		if err != nil {
			return err
		}
		if !inserted {
			return store.ErrExists
		}
		saved, err = decode(row)
		return err
	})
	return saved, err
}

// SaveAll implements store.Store. The batch is written in one transaction.
func (s *Store) SaveAll(ctx context.Context, table string, items []record.Fields) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, item := range items {
			if _, err := s.upsert(ctx, tx, table, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// idAttempts bounds how often an insert retries after losing its id to a
// concurrent writer.
const idAttempts = 16

func (s *Store) upsert(ctx context.Context, tx bun.Tx, table string, fields record.Fields) (record.Fields, error) {
	id, ok := fields.ID()
	if !ok || id == 0 {
		return s.insertNext(ctx, tx, table, fields)
	}

	row, err := s.row(table, fields.WithID(id))
	if err != nil {
		return nil, err
	}

	_, err = tx.NewInsert().
		Model(row).
		On("CONFLICT (table_name, record_id) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: save %s/%d: %w", table, id, err)
	}
	return decode(row)
}

// insertNext stores fields under MAX(record_id)+1. The insert never touches an
// existing row: when a concurrent writer took the id first nothing is
// inserted and the next id is read again.
func (s *Store) insertNext(ctx context.Context, tx bun.Tx, table string, fields record.Fields) (record.Fields, error) {
	var last int64
	for attempt := 0; attempt < idAttempts; attempt++ {
		var max int64
		err := tx.NewSelect().
			Model((*mirrorRow)(nil)).
			ColumnExpr("COALESCE(MAX(record_id), 0)").
			Where("table_name = ?", table).
			Scan(ctx, &max)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: next id for %s: %w", table, err)
		}
		id := max + 1
		if id <= last {
			id = last + 1
		}
		last = id

		row, err := s.row(table, fields.WithID(id))
		if err != nil {
			return nil, err
		}
		inserted, err := s.insertNew(ctx, tx, row)
		if err != nil {
			return nil, err
		}
		if inserted {
			return decode(row)
		}
		s.log.Debug(ctx, "record id taken by a concurrent writer, retrying", "table", table, "id", id)
	}
	return nil, fmt.Errorf("sqlstore: save %s: no free id after %d attempts", table, idAttempts)
}

// insertNew writes row unless its key is taken and reports whether it did.
func (s *Store) insertNew(ctx context.Context, tx bun.Tx, row *mirrorRow) (bool, error) {
	res, err := tx.NewInsert().
		Model(row).
		On("CONFLICT (table_name, record_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("sqlstore: save %s/%d: %w", row.Table, row.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlstore: save %s/%d: %w", row.Table, row.ID, err)
	}
	return n == 1, nil
}

// GetAll implements store.Store.
func (s *Store) GetAll(ctx context.Context, table string) ([]record.Fields, error) {
	return s.selectRows(ctx, table, "")
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, table string, id int64) (record.Fields, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	row, err := getRow(ctx, db, table, id)
	if err != nil {
		return nil, err
	}
	return decode(row)
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, table string, fields record.Fields) (record.Fields, error) {
	id, ok := fields.ID()
	if !ok {
		return nil, fmt.Errorf("sqlstore: update %s: missing %q field", table, record.IDField)
	}
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var merged record.Fields
	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := getRow(ctx, tx, table, id)
		if err != nil {
			return err
		}
		existing, err := decode(current)
		if err != nil {
			return err
		}

		row, err := s.row(table, existing.Merge(fields).WithID(id))
		if err != nil {
			return err
		}
		_, err = tx.NewUpdate().
			Model(row).
			Column("payload", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("sqlstore: update %s/%d: %w", table, id, err)
		}
		merged, err = decode(row)
		return err
	})
	return merged, err
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, table string, id int64) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	res, err := db.NewDelete().
		Model((*mirrorRow)(nil)).
		Where("table_name = ?", table).
		Where("record_id = ?", id).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete %s/%d: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete %s/%d: %w", table, id, err)
	}
	if n == 0 {
		return 0, store.ErrNotFound
	}
	return id, nil
}

// DeleteAll implements store.Store.
func (s *Store) DeleteAll(ctx context.Context, table string) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	res, err := db.NewDelete().
		Model((*mirrorRow)(nil)).
		Where("table_name = ?", table).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete all %s: %w", table, err)
	}
	return res.RowsAffected()
}

// Find implements store.Store. Payloads are opaque JSON to the database, so
// filters are evaluated after loading the table.
func (s *Store) Find(ctx context.Context, table string, filters record.Filters) ([]record.Fields, error) {
	return s.Search(ctx, table, filters.Match)
}

// Search implements store.Store.
func (s *Store) Search(ctx context.Context, table string, pred store.Predicate) ([]record.Fields, error) {
	all, err := s.GetAll(ctx, table)
	if err != nil {
		return nil, err
	}
	return store.Filter(all, pred), nil
}

// Raw returns the records of table matching a raw SQL condition over the
// mirror_records columns, e.g.
//
//	s.Raw(ctx, "users", "json_extract(payload, '$.name') = ?", "A")
func (s *Store) Raw(ctx context.Context, table string, where string, args ...any) ([]record.Fields, error) {
	if strings.TrimSpace(where) == "" {
		return nil, errors.New("sqlstore: raw query requires a condition")
	}
	return s.selectRows(ctx, table, where, args...)
}

// Close releases the database handle. Later calls fail with store.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) selectRows(ctx context.Context, table, where string, args ...any) ([]record.Fields, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []mirrorRow
	q := db.NewSelect().
		Model(&rows).
		Where("table_name = ?", table)
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Order("record_id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("sqlstore: select %s: %w", table, err)
	}

	out := make([]record.Fields, 0, len(rows))
	for i := range rows {
		fields, err := decode(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, fields)
	}
	return out, nil
}

func getRow(ctx context.Context, db bun.IDB, table string, id int64) (*mirrorRow, error) {
	row := new(mirrorRow)
	err := db.NewSelect().
		Model(row).
		Where("table_name = ?", table).
		Where("record_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get %s/%d: %w", table, id, err)
	}
	return row, nil
}

func (s *Store) row(table string, fields record.Fields) (*mirrorRow, error) {
	id, _ := fields.ID()
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode %s/%d: %w", table, id, err)
	}
	return &mirrorRow{
		Table:     table,
		ID:        id,
		Payload:   string(payload),
		UpdatedAt: s.now().UTC(),
	}, nil
}

func decode(row *mirrorRow) (record.Fields, error) {
	var fields record.Fields
	if err := json.Unmarshal([]byte(row.Payload), &fields); err != nil {
		return nil, fmt.Errorf("sqlstore: decode %s/%d: %w", row.Table, row.ID, err)
	}
	return fields, nil
}
