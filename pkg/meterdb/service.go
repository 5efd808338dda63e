// MeterDB contains the raw responses read from the meters, the daily
// aggregates derived from them and, optionally, stored diagnostics.
// Only meter_poller writes to it but any service can read it.
package meterdb

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Open connects to the sqlite file at path and applies migrations.
func Open(path string, log logrus.FieldLogger) (*MeterDB, error) {
	if path == "" {
		return nil, fmt.Errorf("no database path configured")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Verify connection
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// sqlite allows one writer; keep a single connection so the feed and
	// the poller never contend for the file lock.
	db.SetMaxOpenConns(1)

	m := &MeterDB{db: db, path: path, log: log}
	if err := m.InitializeDatabase(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// InitializeDatabase applies any migration not yet recorded.
func (m *MeterDB) InitializeDatabase() error {
	// Create DB before migrations
	if _, err := m.db.Exec("SELECT 1;"); err != nil {
		return fmt.Errorf("could not create DB: %w", err)
	}

	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(
		m.db,
		migrationFS,
		"migrations",
	)

	var n int
	if err := m.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'raw_meter_data'").Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("migrations did not create raw_meter_data in %s", m.path)
	}
	return nil
}

// SetDontWrite makes record inserts log instead of writing. Other writers
// of the database check DontWrite.
func (m *MeterDB) SetDontWrite(dontWrite bool) {
	m.dontWrite = dontWrite
}

func (m *MeterDB) DontWrite() bool {
	return m.dontWrite
}

func (m *MeterDB) Path() string {
	return m.path
}

func (m *MeterDB) GetDB() *sql.DB {
	return m.db
}

func (m *MeterDB) Close() error {
	return m.db.Close()
}
