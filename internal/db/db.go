package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// DB is a connection pool bound to the dialect it was opened with.
type DB struct {
	*sqlx.DB
	Dialect Dialect
}

// Open opens a pool for driver ("postgres", "sqlite" or "mysql"). It does not
// contact the server; call Ping for that.
func Open(driver, dsn string) (*DB, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if d.Name == SQLite {
		dsn = sqliteDSN(dsn)
	}
	x, err := sqlx.Open(d.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name, err)
	}
	if d.Name == SQLite {
		// An in-memory database exists per connection.
		x.SetMaxOpenConns(1)
	} else {
		x.SetMaxOpenConns(20)
		x.SetMaxIdleConns(5)
		x.SetConnMaxLifetime(30 * time.Minute)
	}
	return &DB{DB: x, Dialect: d}, nil
}

func Ping(ctx context.Context, db *DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// sqliteDSN turns on foreign key enforcement, which SQLite leaves off by default.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}
