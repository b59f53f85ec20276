package db

import (
	"context"
	"fmt"

	"transit-etl/internal/etl"
)

// Loader writes transformed trips. Every table is insert-if-absent, so
// reloading a file that already went in changes nothing.
type Loader struct {
	db *DB

	insertTime     string
	insertLocation string
	insertTrip     string
	insertStep     string
}

func NewLoader(db *DB) *Loader {
	d := db.Dialect
	return &Loader{
		db:             db,
		insertTime:     d.InsertIgnore("time", "departure_ts", "minute", "hour", "day", "week_of_year", "month", "year", "is_weekday"),
		insertLocation: d.InsertIgnore("locations", "location_id", "latitude", "longitude"),
		insertTrip:     d.InsertIgnore("trips", "departure_ts", "start_location_id", "duration", "num_steps"),
		insertStep:     d.InsertIgnore("steps", "departure_ts", "start_location_id", "step_num", "line_name"),
	}
}

// Load writes one trip inside a single transaction: time and locations
// first, then the trip, then its steps.
func (l *Loader) Load(ctx context.Context, path string, rows etl.Rows) (etl.LoadResult, error) {
	var res etl.LoadResult

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, l.loadErr(path, "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NamedExecContext(ctx, l.insertTime, rows.Time); err != nil {
		return res, l.loadErr(path, "insert time", err)
	}
	if _, err := tx.NamedExecContext(ctx, l.insertLocation, rows.Location); err != nil {
		return res, l.loadErr(path, "insert location", err)
	}
	r, err := tx.NamedExecContext(ctx, l.insertTrip, rows.Trip)
	if err != nil {
		return res, l.loadErr(path, "insert trip", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return res, l.loadErr(path, "insert trip", err)
	}
	res.TripInserted = n > 0

	for _, s := range rows.Steps {
		if _, err := tx.NamedExecContext(ctx, l.insertStep, s); err != nil {
			return res, l.loadErr(path, fmt.Sprintf("insert step %d", s.StepNum), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return etl.LoadResult{}, l.loadErr(path, "commit", err)
	}
	return res, nil
}

func (l *Loader) loadErr(path, op string, err error) error {
	return &etl.LoadError{
		Path:  path,
		Fatal: IsConnectionError(err),
		Err:   fmt.Errorf("%s: %w", op, err),
	}
}
