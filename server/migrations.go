package server

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// Open or create the DB
func openDB(log logs.Log, config dbh.DBConfig) (*gorm.DB, error) {
	log.Infof("Opening DB (%v)", config.LogSafeDescription())
	if config.Driver == dbh.DriverSqlite {
		os.MkdirAll(filepath.Dir(config.Database), 0770)
	}
	db, err := dbh.OpenDB(log, config, migrations(log), 0)
	if err != nil {
		return nil, err
	}
	if config.Driver == dbh.DriverSqlite {
		// SQLite allows one writer at a time, and concurrent analyze requests would
		// otherwise fail with "database is locked"
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return db, nil
}

func migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE upload(
			id INTEGER PRIMARY KEY,
			key TEXT NOT NULL,
			size INT NOT NULL,
			content_type TEXT,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX idx_upload_key ON upload(key);

		CREATE TABLE analysis(
			id INTEGER PRIMARY KEY,
			image_key TEXT NOT NULL,
			sentence TEXT NOT NULL,
			label TEXT,
			prominence REAL,
			num_detections INT NOT NULL,
			num_drawn INT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		ALTER TABLE analysis ADD COLUMN show_objects BOOLEAN NOT NULL DEFAULT FALSE;
		ALTER TABLE analysis ADD COLUMN width INT NOT NULL DEFAULT 0;
		ALTER TABLE analysis ADD COLUMN height INT NOT NULL DEFAULT 0;
	`))

	return migs
}
