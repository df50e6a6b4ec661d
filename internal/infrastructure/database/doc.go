// Package database provides SQLite connectivity for Gray Logic Show.
//
// It opens the database with WAL mode and a busy timeout, and applies the
// embedded schema migrations that back scene persistence.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: each file pair YYYYMMDD_HHMMSS_name.{up,down}.sql
// is applied once inside its own transaction.
package database
