// Package repositorycache provides the cache-aside repository: a record
// repository backed by a Remote Endpoint and mirrored into a local Record
// Store so that reads keep working while the network is down.
//
// # Overview
//
// CachedRepository composes a remote.Client and a store.Store bound to the
// same table. The remote is the source of truth whenever it is reachable; the
// store is a mirror of every record fetched, listed, created or updated
// through the repository.
//
// # Basic Usage
//
//	client, _ := remote.New(remote.Config{BaseURL: "https://api.example.com"})
//	mirror, _ := sqlstore.New(sqlstore.Config{Driver: "sqlite", DSN: "mirror.db"})
//
//	users := repositorycache.New[User](client, mirror, "users", nil,
//		repositorycache.WithLogger(logger))
//
//	u, err := users.GetByID(ctx, 5)
//
// # Reads
//
// GetByID, List and ListWhere ask the remote first. A successful answer is
// mirrored and returned. A transport failure, a status:false envelope or an
// undecodable payload falls back to the mirror. GetByID reports a
// repository.NotFoundError when the mirror has nothing either; read paths
// never surface transport errors.
//
// ListWhere encodes its filters positionally into the path
// ({table}/{k1}/{v1}/...). On fallback the filters are applied to the mirror;
// WithUnfilteredFallback returns the whole mirrored table instead.
//
// # Writes
//
// Create and Update must succeed remotely. A failure is returned as-is and
// the mirror is not touched, so no record ever exists only locally. Delete
// and DeleteAll also go to the remote first and then remove the mirrored
// rows; a failing mirror delete is a repository.StoreError.
//
// Replace is GetByID followed by Update, or by Create when GetByID fails for
// any reason.
//
// # Mirror failures
//
// Mirror writes after a successful remote call are best-effort. Failures are
// logged at warn level, passed to the WithMirrorObserver callback and
// recorded in contexts created by CollectMirrorFailures. They never change
// the result of the call.
//
// # Concurrency
//
// A CachedRepository is safe for concurrent use. Calls are not serialized
// against each other; concurrent updates of one id race and the store's
// single-row write decides the mirrored value.
package repositorycache
