package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"transit-etl/internal/db"
)

type fakeStore struct {
	rows    []db.TripTime
	readErr error
	pingErr error
}

func (f *fakeStore) ReadTripsTime(context.Context) ([]db.TripTime, error) { return f.rows, f.readErr }
func (f *fakeStore) PingContext(context.Context) error                     { return f.pingErr }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTripsTime(t *testing.T) {
	store := &fakeStore{rows: []db.TripTime{
		{TripID: 1, DepartureTS: 1599926400, StartLocationID: "A", Duration: 35, NumSteps: 2, Hour: 12, Day: 6, WeekOfYear: 37, Month: 9, Year: 2020},
		{TripID: 2, DepartureTS: 1600185600, StartLocationID: "B", Duration: 41, NumSteps: 1, Hour: 12, Day: 2, WeekOfYear: 38, Month: 9, Year: 2020, IsWeekday: true},
	}}
	rec := get(t, NewServer(store, nil).Router([]string{"*"}), "/api/trips-time")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("missing CORS header")
	}
	var body struct {
		Trips []db.TripTime `json:"trips"`
		Count int           `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 || len(body.Trips) != 2 || body.Trips[1] != store.rows[1] {
		t.Errorf("body = %+v", body)
	}
}

func TestTripsTimeEmpty(t *testing.T) {
	rec := get(t, NewServer(&fakeStore{rows: []db.TripTime{}}, nil).Router([]string{"*"}), "/api/trips-time")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if string(body["trips"]) != "[]" {
		t.Errorf("trips = %s, want []", body["trips"])
	}
}

func TestTripsTimeError(t *testing.T) {
	rec := get(t, NewServer(&fakeStore{readErr: errors.New("no such table")}, nil).Router(nil), "/api/trips-time")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		pingErr error
		want    int
	}{
		{"up", nil, http.StatusOK},
		{"down", errors.New("connection refused"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, NewServer(&fakeStore{pingErr: tt.pingErr}, nil).Router(nil), "/health")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	if rec := get(t, NewServer(&fakeStore{}, metrics).Router(nil), "/metrics"); rec.Code != http.StatusTeapot {
		t.Errorf("with metrics: status = %d", rec.Code)
	}
	if rec := get(t, NewServer(&fakeStore{}, nil).Router(nil), "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("without metrics: status = %d, want 404", rec.Code)
	}
}
