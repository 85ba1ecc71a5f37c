// Package database provides SQLite connectivity for the node registry.
//
// This package manages:
//   - Database connection with optional WAL mode
//   - Schema migrations embedded in the binary
//   - Connection lifecycle and health checks
//
// The registry is written by exactly one process, so the pool is limited to
// a single connection: every statement, and every transaction, is serialised
// by database/sql itself.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
