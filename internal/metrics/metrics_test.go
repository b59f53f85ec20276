package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveLoad(t *testing.T) {
	c := NewCollector()
	c.ObserveLoad(ResultLoaded, 10*time.Millisecond)
	c.ObserveLoad(ResultLoaded, 20*time.Millisecond)
	c.ObserveLoad(ResultSkipped, time.Millisecond)

	if got := testutil.ToFloat64(c.Files.WithLabelValues(ResultLoaded)); got != 2 {
		t.Errorf("loaded = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Files.WithLabelValues(ResultSkipped)); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.LoadDuration); got != 1 {
		t.Errorf("load duration series = %d", got)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.FilesFound.Set(11)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "tripetl_files_found 11") {
		t.Errorf("metrics output missing files_found:\n%s", body)
	}
}
