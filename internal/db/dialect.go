package db

import (
	"fmt"
	"strings"
)

const (
	Postgres = "postgres"
	SQLite   = "sqlite"
	MySQL    = "mysql"
)

// Dialect captures the few places where the supported stores disagree.
type Dialect struct {
	Name       string
	DriverName string // database/sql driver name
	tripIDCol  string // surrogate key column definition for trips
	createView string
	tableOpts  string
	ignorePre  string // INSERT prefix that skips conflicting rows
	ignorePost string // ... or suffix doing the same
}

var dialects = map[string]Dialect{
	Postgres: {
		Name:       Postgres,
		DriverName: "pgx",
		tripIDCol:  "trip_id SERIAL PRIMARY KEY",
		createView: "CREATE OR REPLACE VIEW",
		ignorePre:  "INSERT INTO",
		ignorePost: " ON CONFLICT DO NOTHING",
	},
	SQLite: {
		Name:       SQLite,
		DriverName: "sqlite",
		tripIDCol:  "trip_id INTEGER PRIMARY KEY AUTOINCREMENT",
		createView: "CREATE VIEW IF NOT EXISTS",
		ignorePre:  "INSERT INTO",
		ignorePost: " ON CONFLICT DO NOTHING",
	},
	MySQL: {
		Name:       MySQL,
		DriverName: "mysql",
		tripIDCol:  "trip_id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY",
		createView: "CREATE OR REPLACE VIEW",
		tableOpts:  " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		ignorePre:  "INSERT IGNORE INTO",
	},
}

// DialectFor accepts the store names plus the driver aliases people tend to type.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "postgres", "postgresql", "pgx", "pg":
		return dialects[Postgres], nil
	case "sqlite", "sqlite3":
		return dialects[SQLite], nil
	case "mysql", "mariadb":
		return dialects[MySQL], nil
	}
	return Dialect{}, fmt.Errorf("unsupported database driver %q", name)
}

// InsertIgnore builds a named-parameter insert that leaves existing rows untouched.
func (d Dialect) InsertIgnore(table string, cols ...string) string {
	params := make([]string, len(cols))
	for i, c := range cols {
		params[i] = ":" + c
	}
	return fmt.Sprintf("%s %s (%s) VALUES (%s)%s",
		d.ignorePre, table, strings.Join(cols, ", "), strings.Join(params, ", "), d.ignorePost)
}
