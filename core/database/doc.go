// Package database connects to the sync journal database through GORM.
//
// MySQL is used in production; SQLite serves single-node setups and tests.
// The inspector helpers read a table's columns so callers can verify an
// existing schema before writing to it.
//
// # Usage
//
//	db, err := database.Connect(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	missing, err := database.MissingColumns(db, "sync_journal", []string{"device_id", "outcome"})
package database
