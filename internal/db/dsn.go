package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
)

// WithDBName returns a DSN identical to the input but with the database path replaced.
// Supports postgres:// and postgresql:// schemes.
func WithDBName(dsn, database string) (string, error) {
	u, err := parsePostgresURL(dsn)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(database, "/") {
		u.Path = "/" + database
	} else {
		u.Path = database
	}
	return u.String(), nil
}

// DBName returns the database named in a postgres URL DSN.
func DBName(dsn string) (string, error) {
	u, err := parsePostgresURL(dsn)
	if err != nil {
		return "", err
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "", fmt.Errorf("DSN names no database")
	}
	return name, nil
}

func parsePostgresURL(dsn string) (*url.URL, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty DSN")
	}
	// allow missing scheme by prefixing postgres://
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	return u, nil
}

// CreateDatabase drops and recreates the database named in dsn, going
// through the cluster's maintenance database "postgres". PostgreSQL only.
func CreateDatabase(ctx context.Context, dsn string) error {
	name, err := DBName(dsn)
	if err != nil {
		return err
	}
	rootDSN, err := WithDBName(dsn, "postgres")
	if err != nil {
		return err
	}
	meta, err := sql.Open("pgx", rootDSN)
	if err != nil {
		return fmt.Errorf("open maintenance db: %w", err)
	}
	defer meta.Close()

	ident := pgx.Identifier{name}.Sanitize()
	for _, q := range []string{
		"DROP DATABASE IF EXISTS " + ident,
		"CREATE DATABASE " + ident + " WITH ENCODING 'UTF8' TEMPLATE template0",
	} {
		if _, err := meta.ExecContext(ctx, q); err != nil {
			return &SchemaError{Statement: q, Err: err}
		}
	}
	return nil
}
