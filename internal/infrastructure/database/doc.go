// Package database provides the SQLite connection used by the lifecycle
// journal.
//
// Open configures WAL mode, the busy timeout and a single connection, then
// pings the file. Migrations are plain SQL files named
// YYYYMMDD_HHMMSS_description.up.sql (with an optional .down.sql) read from
// any fs.FS:
//
//	db, err := database.Open(database.FromConfig(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Source()); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or defaulted, and
// columns are never dropped or renamed.
package database
