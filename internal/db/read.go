package db

import (
	"context"
	"fmt"
)

// TripTime is one row of the trips_time view.
type TripTime struct {
	TripID          int64  `db:"trip_id" json:"tripId"`
	DepartureTS     int64  `db:"departure_ts" json:"departureTs"`
	StartLocationID string `db:"start_location_id" json:"startLocationId"`
	Duration        int    `db:"duration" json:"duration"`
	NumSteps        int    `db:"num_steps" json:"numSteps"`
	Minute          int    `db:"minute" json:"minute"`
	Hour            int    `db:"hour" json:"hour"`
	Day             int    `db:"day" json:"day"`
	WeekOfYear      int    `db:"week_of_year" json:"weekOfYear"`
	Month           int    `db:"month" json:"month"`
	Year            int    `db:"year" json:"year"`
	IsWeekday       bool   `db:"is_weekday" json:"isWeekday"`
}

// ReadTripsTime returns the whole joined view, oldest departure first.
func (db *DB) ReadTripsTime(ctx context.Context) ([]TripTime, error) {
	q := `SELECT trip_id, departure_ts, start_location_id, duration, num_steps,
              minute, hour, day, week_of_year, month, year, is_weekday
          FROM ` + ViewTripsTime + `
          ORDER BY departure_ts, start_location_id`
	rows := []TripTime{}
	if err := db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("query %s: %w", ViewTripsTime, err)
	}
	return rows, nil
}

// CountRows returns the number of rows in one of the schema's tables.
func (db *DB) CountRows(ctx context.Context, table string) (int, error) {
	known := table == ViewTripsTime
	for _, t := range Tables {
		known = known || t == table
	}
	if !known {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	if err := db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
