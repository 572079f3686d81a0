// Package database opens the SQLite file behind the run journal and
// applies its migrations.
//
//	db, err := database.Open(database.Config{Path: cfg.Journal.Path, WALMode: true, BusyTimeout: 5})
//	...
//	applied, err := db.Migrate(ctx, migrations.FS)
//
// Migrations are YYYYMMDD_HHMMSS_description.up.sql files applied in name
// order, each in its own transaction. They only add: new columns are
// nullable or defaulted and nothing is dropped, so an older vrpncore can
// still read a newer journal.
package database
