// Package cache provides the in-process key/value service and the mirror key
// layout used by the memory record store.
//
// # Overview
//
// This package exports two interfaces and their default implementations:
//
//   - CacheService: Get/Set/Delete plus prefix scans over an in-process cache
//   - KeySerializer: Builds "<table>::<id>" keys and parses them back
//
// The default CacheService is backed by sturdyc (see internal/cacheinfra).
// Entries expire after the configured TTL and are evicted in batches once the
// cache reaches capacity, which is acceptable for a mirror: a missing entry
// only means the next offline read falls through to "not found".
//
// # Basic Usage
//
//	svc, err := cache.NewCacheService(cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	keys := cache.NewDefaultKeySerializer()
//
//	_ = svc.Set(ctx, keys.SerializeKey("users", 5), payload)
//	for _, key := range svc.Keys(ctx, keys.TablePrefix("users")) {
//		table, id, _ := keys.ParseKey(key)
//		...
//	}
//
// # Key Layout
//
// Keys are the table name and the decimal id joined by KeySeparator. Because
// table names may contain the separator, ParseKey takes the id from the last
// segment.
//
// # See Also
//
// The store/memstore package builds a full record store on top of this one.
package cache
