package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"transit-etl/internal/etl"
)

type NATSPublisher struct {
	nc      *nats.Conn
	prefix  string
	metrics PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("tripetl"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "transit"
	}
	return &NATSPublisher{nc: nc, prefix: prefix, metrics: m}, nil
}

// Close flushes pending messages before closing the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

type TripLoaded struct {
	RunID           string   `json:"runId"`
	Path            string   `json:"path"`
	DepartureTS     int64    `json:"departureTs"`
	StartLocationID string   `json:"startLocationId"`
	Duration        int      `json:"duration"`
	NumSteps        int      `json:"numSteps"`
	Lines           []string `json:"lines"`
	IsWeekday       bool     `json:"isWeekday"`
}

type BatchCompleted struct {
	RunID       string    `json:"runId"`
	Root        string    `json:"root"`
	Found       int       `json:"found"`
	Loaded      int       `json:"loaded"`
	Duplicates  int       `json:"duplicates"`
	Skipped     int       `json:"skipped"`
	ElapsedMs   int64     `json:"elapsedMs"`
	CompletedAt time.Time `json:"completedAt"`
}

// PublishTripLoaded announces a new trip on <prefix>.trips.<location>.
func (p *NATSPublisher) PublishTripLoaded(runID, path string, rows etl.Rows) error {
	msg := TripLoaded{
		RunID:           runID,
		Path:            path,
		DepartureTS:     rows.Trip.DepartureTS,
		StartLocationID: rows.Trip.StartLocationID,
		Duration:        rows.Trip.Duration,
		NumSteps:        rows.Trip.NumSteps,
		Lines:           make([]string, 0, len(rows.Steps)),
		IsWeekday:       rows.Time.IsWeekday,
	}
	for _, s := range rows.Steps {
		msg.Lines = append(msg.Lines, s.LineName)
	}
	return p.publish(fmt.Sprintf("%s.trips.%s", p.prefix, subjectToken(rows.Trip.StartLocationID)), msg)
}

// PublishBatchCompleted announces a finished run on <prefix>.batches.
func (p *NATSPublisher) PublishBatchCompleted(rep etl.Report) error {
	return p.publish(p.prefix+".batches", BatchCompleted{
		RunID:       rep.RunID,
		Root:        rep.Root,
		Found:       rep.Found,
		Loaded:      rep.Loaded,
		Duplicates:  rep.Duplicates,
		Skipped:     len(rep.Skipped),
		ElapsedMs:   rep.Elapsed.Milliseconds(),
		CompletedAt: time.Now().UTC(),
	})
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
