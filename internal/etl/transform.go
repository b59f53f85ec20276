package etl

import (
	"time"
)

// MaxLineNameLen matches steps.line_name VARCHAR(5).
const MaxLineNameLen = 5

// Transform derives the four row groups for one trip. Calendar fields are
// taken from the departure time as seen in loc; a nil loc means UTC.
func Transform(rec TripRecord, loc *time.Location) (Rows, error) {
	fail := func(reason string) (Rows, error) {
		return Rows{}, &TransformError{DepartureTS: rec.DepartureTS, StartLocationID: rec.StartLocationID, Reason: reason}
	}
	if rec.ArrivalTS < rec.DepartureTS {
		return fail("arrival before departure")
	}
	if rec.DurationMinutes <= 0 {
		return fail("duration must be positive")
	}

	rows := Rows{
		Location: LocationRow{
			LocationID: rec.StartLocationID,
			Latitude:   rec.Start.Lat,
			Longitude:  rec.Start.Lng,
		},
		Trip: TripRow{
			DepartureTS:     rec.DepartureTS,
			StartLocationID: rec.StartLocationID,
			Duration:        rec.DurationMinutes,
			NumSteps:        len(rec.Steps),
		},
		Time:  TimeBucket(rec.DepartureTS, loc),
		Steps: make([]StepRow, 0, len(rec.Steps)),
	}
	for _, s := range rec.Steps {
		rows.Steps = append(rows.Steps, StepRow{
			DepartureTS:     rec.DepartureTS,
			StartLocationID: rec.StartLocationID,
			StepNum:         s.StepNumber,
			LineName:        truncateRunes(s.LineName, MaxLineNameLen),
		})
	}
	return rows, nil
}

// TimeBucket decomposes an epoch timestamp into calendar fields.
func TimeBucket(ts int64, loc *time.Location) TimeRow {
	if loc == nil {
		loc = time.UTC
	}
	t := time.Unix(ts, 0).In(loc)
	day := isoWeekday(t.Weekday())
	_, week := t.ISOWeek()
	return TimeRow{
		DepartureTS: ts,
		Minute:      t.Minute(),
		Hour:        t.Hour(),
		Day:         day,
		WeekOfYear:  week,
		Month:       int(t.Month()),
		Year:        t.Year(),
		IsWeekday:   day != 6 && day != 7,
	}
}

func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
