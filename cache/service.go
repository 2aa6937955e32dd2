package cache

import "context"

// KeySerializer builds mirror keys from a table name and a record id.
// It is responsible for producing stable keys that can be parsed back and
// scanned by table prefix.
type KeySerializer interface {
	SerializeKey(table string, id int64) string
	TablePrefix(table string) string
	ParseKey(key string) (table string, id int64, ok bool)
}

// CacheService exposes the in-process key/value operations the memory record
// store is built on. It is exported so that other packages can provide
// alternate cache backends.
type CacheService interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	Keys(ctx context.Context, prefix string) []string
}
