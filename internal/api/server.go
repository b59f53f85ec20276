// Package api serves the trips_time read view to the dashboard.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"transit-etl/internal/db"
)

// Store is the read side the handlers need.
type Store interface {
	ReadTripsTime(ctx context.Context) ([]db.TripTime, error)
	PingContext(ctx context.Context) error
}

type Server struct {
	store   Store
	metrics http.Handler
}

// NewServer builds the handler set. metrics may be nil.
func NewServer(store Store, metrics http.Handler) *Server {
	return &Server{store: store, metrics: metrics}
}

// Router returns the chi router with all routes mounted.
func (s *Server) Router(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", s.health)
	r.Get("/api/trips-time", s.tripsTime)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "error",
			"database":  "disconnected",
			"timestamp": time.Now().UTC(),
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"database":  "connected",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) tripsTime(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ReadTripsTime(r.Context())
	if err != nil {
		log.Printf("read trips_time: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read trips"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trips": rows,
		"count": len(rows),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}
