// Package stores persists the build history kept in the froyopack cache.
//
// The cache is a single SQLite database (modernc.org/sqlite, no cgo) whose
// schema is managed with golang-migrate from migrations embedded in the
// binary. Every build is recorded with its status, artifact location and
// index digest; the digest lets a rebuild detect that its inputs did not
// change. Non-fatal warnings raised during a build are stored alongside it.
//
// Usage:
//
//	store, err := stores.NewSQLiteStore(stores.Config{Path: ".froyopack/cache.db"})
//	if err != nil {
//		return err
//	}
//	if err := store.Init(ctx); err != nil {
//		return err
//	}
//	defer store.Close()
//	if err := store.Migrate(ctx); err != nil {
//		return err
//	}
//
//	latest, err := store.GetLatestBuild(ctx, "inventory")
package stores
