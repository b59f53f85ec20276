package etl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"transit-etl/internal/metrics"
)

// memLoader keeps trips in memory, keyed the way the trips table is.
type memLoader struct {
	mu    sync.Mutex
	trips map[string]Rows
	fail  map[string]error // by base name
	calls int
}

func newMemLoader() *memLoader {
	return &memLoader{trips: map[string]Rows{}, fail: map[string]error{}}
}

func (l *memLoader) Load(_ context.Context, path string, rows Rows) (LoadResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if err, ok := l.fail[filepath.Base(path)]; ok {
		return LoadResult{}, err
	}
	key := fmt.Sprintf("%d/%s", rows.Trip.DepartureTS, rows.Trip.StartLocationID)
	if _, ok := l.trips[key]; ok {
		return LoadResult{}, nil
	}
	l.trips[key] = rows
	return LoadResult{TripInserted: true}, nil
}

type recordingPublisher struct {
	trips   []string
	batches []Report
}

func (p *recordingPublisher) PublishTripLoaded(_, path string, _ Rows) error {
	p.trips = append(p.trips, path)
	return nil
}

func (p *recordingPublisher) PublishBatchCompleted(rep Report) error {
	p.batches = append(p.batches, rep)
	return nil
}

func stagedTrip(id string, dep int64) string {
	return fmt.Sprintf(`{"start_location_id":%q,"start_location":{"lat":40.7,"lng":-74.0},"departure_time":%d,"arrival_time":%d,"duration":25,"steps":[{"step":1,"distance":3000,"html_instructions":"Take bus","line_name":"B62"}]}`,
		id, dep, dep+1500)
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// stageTree writes n valid files split over A and B plus one malformed file.
func stageTree(t *testing.T, n int) string {
	t.Helper()
	root := t.TempDir()
	for i := 0; i < n; i++ {
		id := LocationA
		if i%2 == 1 {
			id = LocationB
		}
		dep := int64(1600000000 + i*900)
		writeFile(t, filepath.Join(root, id, fmt.Sprintf("%d.json", dep)), stagedTrip(id, dep))
	}
	writeFile(t, filepath.Join(root, LocationA, "broken.json"), `{"start_location_id":"A","start_location":{"lat":1,"lng":2},"arrival_time":1600001800,"duration":30,"steps":[]}`)
	writeFile(t, filepath.Join(root, LocationA, "notes.txt"), "not staged")
	return root
}

func TestBatchSkipsMalformedFiles(t *testing.T) {
	root := stageTree(t, 10)
	loader := newMemLoader()
	pub := &recordingPublisher{}
	m := metrics.NewCollector()

	rep, err := NewBatch(loader, time.UTC, 4, m, pub).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Found != 11 {
		t.Errorf("Found = %d, want 11", rep.Found)
	}
	if rep.Loaded != 10 {
		t.Errorf("Loaded = %d, want 10", rep.Loaded)
	}
	if len(rep.Skipped) != 1 || filepath.Base(rep.Skipped[0].Path) != "broken.json" {
		t.Fatalf("Skipped = %+v, want broken.json only", rep.Skipped)
	}
	var me *MalformedRecordError
	if !errors.As(rep.Skipped[0].Err, &me) {
		t.Errorf("skip reason = %v, want *MalformedRecordError", rep.Skipped[0].Err)
	}
	if loader.calls != 10 {
		t.Errorf("loader called %d times, want 10", loader.calls)
	}
	if len(pub.trips) != 10 || len(pub.batches) != 1 {
		t.Errorf("published %d trips and %d batches", len(pub.trips), len(pub.batches))
	}
	if rep.RunID == "" || pub.batches[0].RunID != rep.RunID {
		t.Errorf("run id not carried to the batch event")
	}
}

func TestBatchRerunCountsDuplicates(t *testing.T) {
	root := stageTree(t, 6)
	loader := newMemLoader()
	b := NewBatch(loader, time.UTC, 0, nil, nil)

	if _, err := b.Run(context.Background(), root); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	rep, err := b.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if rep.Loaded != 0 || rep.Duplicates != 6 {
		t.Errorf("rerun Loaded=%d Duplicates=%d, want 0 and 6", rep.Loaded, rep.Duplicates)
	}
	if len(loader.trips) != 6 {
		t.Errorf("stored %d trips, want 6", len(loader.trips))
	}
}

func TestBatchAbortsOnFatalLoadError(t *testing.T) {
	root := stageTree(t, 6)
	loader := newMemLoader()
	// files sort A/... before B/..., and 1600001800.json is the second A file
	loader.fail["1600001800.json"] = &LoadError{Path: "x", Fatal: true, Err: errors.New("connection refused")}
	pub := &recordingPublisher{}

	rep, err := NewBatch(loader, time.UTC, 0, nil, pub).Run(context.Background(), root)
	if !IsFatal(err) {
		t.Fatalf("err = %v, want fatal", err)
	}
	if rep.Loaded != 1 {
		t.Errorf("Loaded = %d, want 1 before the abort", rep.Loaded)
	}
	if len(pub.batches) != 0 {
		t.Errorf("aborted run must not publish a batch event")
	}
}

func TestBatchSkipsNonFatalLoadError(t *testing.T) {
	root := stageTree(t, 4)
	loader := newMemLoader()
	loader.fail["1600000000.json"] = &LoadError{Path: "x", Err: errors.New("value too long")}

	rep, err := NewBatch(loader, time.UTC, 0, nil, nil).Run(context.Background(), root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Loaded != 3 || len(rep.Skipped) != 2 {
		t.Errorf("Loaded=%d Skipped=%d, want 3 and 2", rep.Loaded, len(rep.Skipped))
	}
}

func TestBatchStopsWhenCancelled(t *testing.T) {
	root := stageTree(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBatch(newMemLoader(), time.UTC, 0, nil, nil).Run(ctx, root)
	if !errors.Is(err, context.Canceled) || !IsFatal(err) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestBatchEmptyRoot(t *testing.T) {
	rep, err := NewBatch(newMemLoader(), time.UTC, 0, nil, nil).Run(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Found != 0 || rep.Loaded != 0 {
		t.Errorf("rep = %+v", rep)
	}
}

func TestBatchMissingRoot(t *testing.T) {
	_, err := NewBatch(newMemLoader(), time.UTC, 0, nil, nil).Run(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected an error for a missing root")
	}
}

func TestFindStagedFiles(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"B/2.json", "A/1.JSON", "A/readme.md", "A/nested/3.json"} {
		writeFile(t, filepath.Join(root, filepath.FromSlash(p)), "{}")
	}
	files, err := FindStagedFiles(root)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(root, "A", "1.JSON"),
		filepath.Join(root, "A", "nested", "3.json"),
		filepath.Join(root, "B", "2.json"),
	}
	if len(files) != len(want) {
		t.Fatalf("files = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, files[i], want[i])
		}
	}
}
