package db

import (
	"context"
	"fmt"
	"strings"
)

// Tables in creation order. Each only references tables before it.
var Tables = []string{"time", "locations", "trips", "steps"}

const ViewTripsTime = "trips_time"

// SchemaError is a failed DDL statement. It is always fatal.
type SchemaError struct {
	Statement string
	Err       error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: %s: %v", e.Statement, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

func (d Dialect) createTableStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS time (
			departure_ts    BIGINT NOT NULL,
			minute          SMALLINT NOT NULL,
			hour            SMALLINT NOT NULL,
			day             SMALLINT NOT NULL,
			week_of_year    SMALLINT NOT NULL,
			month           SMALLINT NOT NULL,
			year            INT NOT NULL,
			is_weekday      BOOLEAN NOT NULL,
			PRIMARY KEY (departure_ts)
		)` + d.tableOpts,

		`CREATE TABLE IF NOT EXISTS locations (
			location_id     CHAR(1) PRIMARY KEY,
			latitude        DOUBLE PRECISION NOT NULL,
			longitude       DOUBLE PRECISION NOT NULL
		)` + d.tableOpts,

		`CREATE TABLE IF NOT EXISTS trips (
			` + d.tripIDCol + `,
			departure_ts        BIGINT NOT NULL,
			start_location_id   CHAR(1) NOT NULL,
			duration            INT NOT NULL,
			num_steps           SMALLINT NOT NULL,
			UNIQUE (departure_ts, start_location_id),
			FOREIGN KEY (start_location_id) REFERENCES locations (location_id),
			FOREIGN KEY (departure_ts) REFERENCES time (departure_ts)
		)` + d.tableOpts,

		`CREATE TABLE IF NOT EXISTS steps (
			departure_ts        BIGINT NOT NULL,
			start_location_id   CHAR(1) NOT NULL,
			step_num            SMALLINT NOT NULL,
			line_name           VARCHAR(5) NOT NULL,
			PRIMARY KEY (departure_ts, start_location_id, step_num),
			FOREIGN KEY (departure_ts, start_location_id) REFERENCES trips (departure_ts, start_location_id)
		)` + d.tableOpts,
	}
}

func (d Dialect) dropStatements() []string {
	stmts := []string{"DROP VIEW IF EXISTS " + ViewTripsTime}
	for i := len(Tables) - 1; i >= 0; i-- {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+Tables[i])
	}
	return stmts
}

func (d Dialect) createViewStatement() string {
	return d.createView + " " + ViewTripsTime + ` AS
		SELECT *
		FROM trips
		JOIN time USING (departure_ts)`
}

// DropAll removes the view and all tables, dependents first.
func (db *DB) DropAll(ctx context.Context) error {
	return db.execDDL(ctx, db.Dialect.dropStatements()...)
}

// CreateAll creates any missing tables in dependency order.
func (db *DB) CreateAll(ctx context.Context) error {
	return db.execDDL(ctx, db.Dialect.createTableStatements()...)
}

// CreateView creates the trips_time read view.
func (db *DB) CreateView(ctx context.Context) error {
	return db.execDDL(ctx, db.Dialect.createViewStatement())
}

// EnsureSchema creates whatever is missing and leaves existing data alone.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if err := db.CreateAll(ctx); err != nil {
		return err
	}
	return db.CreateView(ctx)
}

// Reset drops and recreates the whole schema.
func (db *DB) Reset(ctx context.Context) error {
	if err := db.DropAll(ctx); err != nil {
		return err
	}
	return db.EnsureSchema(ctx)
}

func (db *DB) execDDL(ctx context.Context, stmts ...string) error {
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return &SchemaError{Statement: firstLine(q), Err: err}
		}
	}
	return nil
}

func firstLine(q string) string {
	for i, c := range q {
		if c == '\n' || c == '(' {
			return strings.TrimSpace(q[:i])
		}
	}
	return q
}
