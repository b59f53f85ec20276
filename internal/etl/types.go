package etl

// Endpoint identifiers. Every trip starts at one of the two and ends at the other.
const (
	LocationA = "A"
	LocationB = "B"
)

type Coordinates struct {
	Lat float64
	Lng float64
}

// TripRecord is one directions response flattened to the fields the loader needs.
type TripRecord struct {
	StartLocationID string
	Start           Coordinates
	DepartureTS     int64 // epoch seconds
	ArrivalTS       int64 // epoch seconds
	DurationMinutes int   // floor((arrival-departure)/60)
	Steps           []StepRecord
}

// StepRecord is a single transit leg. Walking legs never become StepRecords.
type StepRecord struct {
	StepNumber     int // 1-based, dense over transit legs only
	DistanceMeters int
	Instructions   string
	LineName       string
}

type LocationRow struct {
	LocationID string  `db:"location_id"`
	Latitude   float64 `db:"latitude"`
	Longitude  float64 `db:"longitude"`
}

type TripRow struct {
	DepartureTS     int64  `db:"departure_ts"`
	StartLocationID string `db:"start_location_id"`
	Duration        int    `db:"duration"` // minutes
	NumSteps        int    `db:"num_steps"`
}

type TimeRow struct {
	DepartureTS int64 `db:"departure_ts"`
	Minute      int   `db:"minute"`
	Hour        int   `db:"hour"`
	Day         int   `db:"day"` // ISO weekday, 1=Monday..7=Sunday
	WeekOfYear  int   `db:"week_of_year"`
	Month       int   `db:"month"`
	Year        int   `db:"year"`
	IsWeekday   bool  `db:"is_weekday"`
}

type StepRow struct {
	DepartureTS     int64  `db:"departure_ts"`
	StartLocationID string `db:"start_location_id"`
	StepNum         int    `db:"step_num"`
	LineName        string `db:"line_name"`
}

// Rows holds everything written for a single trip.
type Rows struct {
	Location LocationRow
	Trip     TripRow
	Time     TimeRow
	Steps    []StepRow
}

// LoadResult reports what a load actually changed.
type LoadResult struct {
	TripInserted bool // false when the trip was already present
}
