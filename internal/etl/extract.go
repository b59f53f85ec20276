package etl

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Staged document as written by the collector, one per trip direction.
type stagedDoc struct {
	StartLocationID *string      `json:"start_location_id"`
	StartLocation   *latLng      `json:"start_location"`
	DepartureTime   *int64       `json:"departure_time"`
	ArrivalTime     *int64       `json:"arrival_time"`
	Duration        *int         `json:"duration"`
	Steps           []stagedStep `json:"steps"`
}

type stagedStep struct {
	Step             int             `json:"step"`
	Distance         int             `json:"distance"`
	HTMLInstructions string          `json:"html_instructions"`
	LineName         string          `json:"line_name"`
	TravelMode       string          `json:"travel_mode"`
	TransitDetails   *transitDetails `json:"transit_details"`
}

type latLng struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type transitDetails struct {
	Line struct {
		ShortName string `json:"short_name"`
		Name      string `json:"name"`
	} `json:"line"`
}

func (t *transitDetails) lineName() string {
	if t == nil {
		return ""
	}
	if s := strings.TrimSpace(t.Line.ShortName); s != "" {
		return s
	}
	return strings.TrimSpace(t.Line.Name)
}

// Raw directions response: {"status":"OK","routes":[...]} or a bare route array.
type rawResponse struct {
	Status string     `json:"status"`
	Routes []rawRoute `json:"routes"`
}

type rawRoute struct {
	Legs []rawLeg `json:"legs"`
}

type rawLeg struct {
	StartLocation *latLng   `json:"start_location"`
	DepartureTime *rawValue `json:"departure_time"`
	ArrivalTime   *rawValue `json:"arrival_time"`
	Steps         []rawStep `json:"steps"`
}

type rawValue struct {
	Value *int64 `json:"value"`
}

type rawStep struct {
	Distance struct {
		Value int `json:"value"`
	} `json:"distance"`
	HTMLInstructions string          `json:"html_instructions"`
	TravelMode       string          `json:"travel_mode"`
	TransitDetails   *transitDetails `json:"transit_details"`
}

// ExtractFile reads and extracts a single staged file.
func ExtractFile(path string) (TripRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return TripRecord{}, &MalformedRecordError{Path: path, Reason: "read file", Err: err}
	}
	return Extract(path, b)
}

// Extract parses either a staged document or a raw directions response.
// path is used for error context and, for raw responses, to derive the start
// location id from the parent directory (data/<id>/file.json).
func Extract(path string, data []byte) (TripRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return TripRecord{}, &MalformedRecordError{Path: path, Reason: "empty document"}
	}

	if data[0] == '[' {
		var routes []rawRoute
		if err := json.Unmarshal(data, &routes); err != nil {
			return TripRecord{}, &MalformedRecordError{Path: path, Reason: "invalid JSON", Err: err}
		}
		return fromRoutes(path, routes)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return TripRecord{}, &MalformedRecordError{Path: path, Reason: "invalid JSON", Err: err}
	}
	if _, ok := probe["routes"]; ok {
		var resp rawResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return TripRecord{}, &MalformedRecordError{Path: path, Reason: "invalid directions response", Err: err}
		}
		if resp.Status != "" && resp.Status != "OK" {
			return TripRecord{}, &MalformedRecordError{Path: path, Reason: "directions status " + resp.Status}
		}
		return fromRoutes(path, resp.Routes)
	}

	var doc stagedDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return TripRecord{}, &MalformedRecordError{Path: path, Reason: "invalid staged document", Err: err}
	}
	return fromStaged(path, doc)
}

func fromStaged(path string, doc stagedDoc) (TripRecord, error) {
	missing := func(field string) error {
		return &MalformedRecordError{Path: path, Reason: "missing " + field}
	}
	switch {
	case doc.StartLocationID == nil:
		return TripRecord{}, missing("start_location_id")
	case doc.StartLocation == nil || doc.StartLocation.Lat == nil || doc.StartLocation.Lng == nil:
		return TripRecord{}, missing("start_location")
	case doc.DepartureTime == nil:
		return TripRecord{}, missing("departure_time")
	case doc.ArrivalTime == nil:
		return TripRecord{}, missing("arrival_time")
	case doc.Duration == nil:
		return TripRecord{}, missing("duration")
	case doc.Steps == nil:
		return TripRecord{}, missing("steps")
	}
	id, err := locationID(path, *doc.StartLocationID)
	if err != nil {
		return TripRecord{}, err
	}

	rec := newRecord(id, doc.StartLocation, *doc.DepartureTime, *doc.ArrivalTime)
	for _, s := range doc.Steps {
		if !s.isTransit() {
			continue
		}
		line := s.TransitDetails.lineName()
		if line == "" {
			line = strings.TrimSpace(s.LineName)
		}
		rec.Steps = append(rec.Steps, StepRecord{
			StepNumber:     len(rec.Steps) + 1,
			DistanceMeters: s.Distance,
			Instructions:   s.HTMLInstructions,
			LineName:       line,
		})
	}
	return rec, nil
}

// isTransit prefers an explicit marker. Files from the legacy collector carry
// none, and that collector only ever wrote legs that had a transit line.
func (s stagedStep) isTransit() bool {
	switch {
	case s.TransitDetails != nil:
		return true
	case s.TravelMode != "":
		return strings.EqualFold(s.TravelMode, "TRANSIT")
	default:
		return strings.TrimSpace(s.LineName) != ""
	}
}

func fromRoutes(path string, routes []rawRoute) (TripRecord, error) {
	if len(routes) == 0 {
		return TripRecord{}, &MalformedRecordError{Path: path, Reason: "no routes"}
	}
	if len(routes[0].Legs) == 0 {
		return TripRecord{}, &MalformedRecordError{Path: path, Reason: "first route has no legs"}
	}
	leg := routes[0].Legs[0]
	switch {
	case leg.StartLocation == nil || leg.StartLocation.Lat == nil || leg.StartLocation.Lng == nil:
		return TripRecord{}, &MalformedRecordError{Path: path, Reason: "missing legs[0].start_location"}
	case leg.DepartureTime == nil || leg.DepartureTime.Value == nil:
		return TripRecord{}, &MalformedRecordError{Path: path, Reason: "missing legs[0].departure_time"}
	case leg.ArrivalTime == nil || leg.ArrivalTime.Value == nil:
		return TripRecord{}, &MalformedRecordError{Path: path, Reason: "missing legs[0].arrival_time"}
	case leg.Steps == nil:
		return TripRecord{}, &MalformedRecordError{Path: path, Reason: "missing legs[0].steps"}
	}
	id, err := locationID(path, filepath.Base(filepath.Dir(path)))
	if err != nil {
		return TripRecord{}, err
	}

	rec := newRecord(id, leg.StartLocation, *leg.DepartureTime.Value, *leg.ArrivalTime.Value)
	for _, s := range leg.Steps {
		if s.TransitDetails == nil {
			continue
		}
		rec.Steps = append(rec.Steps, StepRecord{
			StepNumber:     len(rec.Steps) + 1,
			DistanceMeters: s.Distance.Value,
			Instructions:   s.HTMLInstructions,
			LineName:       s.TransitDetails.lineName(),
		})
	}
	return rec, nil
}

func newRecord(id string, start *latLng, departure, arrival int64) TripRecord {
	return TripRecord{
		StartLocationID: id,
		Start:           Coordinates{Lat: *start.Lat, Lng: *start.Lng},
		DepartureTS:     departure,
		ArrivalTS:       arrival,
		DurationMinutes: durationMinutes(departure, arrival),
		Steps:           []StepRecord{},
	}
}

func durationMinutes(departure, arrival int64) int {
	d := arrival - departure
	m := d / 60
	if d%60 != 0 && d < 0 {
		m--
	}
	return int(m)
}

func locationID(path, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id != LocationA && id != LocationB {
		return "", &MalformedRecordError{Path: path, Reason: "start location id must be A or B, got " + strconv.Quote(id)}
	}
	return id, nil
}
