package etl

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"transit-etl/internal/metrics"
)

const DefaultProgressEvery = 50

// Loader writes one trip's rows in a single unit of work.
type Loader interface {
	Load(ctx context.Context, path string, rows Rows) (LoadResult, error)
}

// EventPublisher is notified about new trips and finished batches.
type EventPublisher interface {
	PublishTripLoaded(runID, path string, rows Rows) error
	PublishBatchCompleted(rep Report) error
}

// Skip is a file that was left out of the batch.
type Skip struct {
	Path string
	Err  error
}

type Report struct {
	RunID      string
	Root       string
	Found      int
	Loaded     int
	Duplicates int // trips already present from an earlier run
	Skipped    []Skip
	Elapsed    time.Duration
}

type Batch struct {
	loader        Loader
	tz            *time.Location
	progressEvery int
	metrics       *metrics.Collector
	events        EventPublisher
}

// NewBatch builds a driver. metrics and events may be nil.
func NewBatch(loader Loader, tz *time.Location, progressEvery int, m *metrics.Collector, events EventPublisher) *Batch {
	if progressEvery <= 0 {
		progressEvery = DefaultProgressEvery
	}
	return &Batch{
		loader:        loader,
		tz:            tz,
		progressEvery: progressEvery,
		metrics:       m,
		events:        events,
	}
}

// Run loads every staged file under root. Bad files are logged and skipped;
// the returned error is non-nil only for failures that stop the whole batch.
func (b *Batch) Run(ctx context.Context, root string) (Report, error) {
	start := time.Now()
	rep := Report{RunID: uuid.NewString(), Root: root}

	files, err := FindStagedFiles(root)
	if err != nil {
		return rep, fmt.Errorf("scan %s: %w", root, err)
	}
	rep.Found = len(files)
	if b.metrics != nil {
		b.metrics.FilesFound.Set(float64(len(files)))
	}
	log.Printf("run %s: %d files found in %s", rep.RunID, len(files), root)

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			rep.Elapsed = time.Since(start)
			return rep, fmt.Errorf("run %s interrupted: %w", rep.RunID, err)
		}

		fileStart := time.Now()
		rows, res, err := b.processFile(ctx, path)
		result := metrics.ResultLoaded
		switch {
		case err == nil && res.TripInserted:
			rep.Loaded++
			if b.events != nil {
				if perr := b.events.PublishTripLoaded(rep.RunID, path, rows); perr != nil {
					log.Printf("publish trip %s: %v", path, perr)
				}
			}
		case err == nil:
			rep.Duplicates++
			result = metrics.ResultDuplicate
		case IsFatal(err):
			rep.Elapsed = time.Since(start)
			log.Printf("run %s aborted at %s after %d/%d files: %v", rep.RunID, path, i, len(files), err)
			return rep, err
		default:
			rep.Skipped = append(rep.Skipped, Skip{Path: path, Err: err})
			result = metrics.ResultSkipped
			log.Printf("skipping %s: %v", path, err)
		}
		if b.metrics != nil {
			b.metrics.ObserveLoad(result, time.Since(fileStart))
		}

		if n := i + 1; n%b.progressEvery == 0 || n == len(files) {
			log.Printf("%d/%d files processed.", n, len(files))
		}
	}

	rep.Elapsed = time.Since(start)
	if b.metrics != nil {
		b.metrics.BatchDuration.Set(rep.Elapsed.Seconds())
		b.metrics.LastSuccess.SetToCurrentTime()
	}
	if b.events != nil {
		if err := b.events.PublishBatchCompleted(rep); err != nil {
			log.Printf("publish batch %s: %v", rep.RunID, err)
		}
	}
	log.Printf("run %s done in %s: loaded=%d duplicates=%d skipped=%d",
		rep.RunID, rep.Elapsed.Round(time.Millisecond), rep.Loaded, rep.Duplicates, len(rep.Skipped))
	return rep, nil
}

func (b *Batch) processFile(ctx context.Context, path string) (Rows, LoadResult, error) {
	rec, err := ExtractFile(path)
	if err != nil {
		return Rows{}, LoadResult{}, err
	}
	rows, err := Transform(rec, b.tz)
	if err != nil {
		return Rows{}, LoadResult{}, err
	}
	res, err := b.loader.Load(ctx, path, rows)
	return rows, res, err
}

// FindStagedFiles returns every .json file below root, sorted by path.
func FindStagedFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
