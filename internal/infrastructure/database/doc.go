// Package database provides the SQLite connection that backs the graph store.
//
// This package manages:
//   - File databases with WAL journaling, or private in-memory databases
//   - Schema migrations embedded in the binary (see the migrations package)
//   - Checkpointing the write-ahead log when the store is flushed
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
