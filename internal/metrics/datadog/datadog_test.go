package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"songplays/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush.
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

func quietOptions(fs *fakeSubmitter) Options {
	return Options{
		JobName:    "job1",
		FlushEvery: 24 * time.Hour,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(1000, 0) },
		newTicker:  func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	}
}

// TestResolveEnvTag verifies ENV wins over DD_ENV and blanks are ignored.
func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestWrapInitErr(t *testing.T) {
	if got := wrapInitErr(nil); got != nil {
		t.Fatalf("wrapInitErr(nil)=%v, want nil", got)
	}

	in := errors.New("boom")
	got := wrapInitErr(in)
	if got == nil || !strings.Contains(got.Error(), "datadog metrics init:") {
		t.Fatalf("wrapInitErr prefix missing: %v", got)
	}
	if !errors.Is(got, in) {
		t.Fatalf("wrapInitErr did not wrap original error: got=%v", got)
	}
}

func TestNewBackend_RequiresAPIKeyWithoutSeam(t *testing.T) {
	t.Setenv("DD_API_KEY", "")

	_, err := NewBackend(context.Background(), Options{})
	if err == nil || !strings.Contains(err.Error(), "DD_API_KEY") {
		t.Fatalf("expected DD_API_KEY error, got %v", err)
	}
}

func TestPairKeyRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{name: "normal", a: "song_data", b: "ok"},
		{name: "empty_first", a: "", b: "ok"},
		{name: "empty_second", a: "users", b: ""},
		{name: "both_empty", a: "", b: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, b := splitPairKey(pairKey(tc.a, tc.b))
			if a != tc.a || b != tc.b {
				t.Fatalf("roundtrip got=(%q,%q), want=(%q,%q)", a, b, tc.a, tc.b)
			}
		})
	}

	a, b := splitPairKey("no-sep")
	if a != "no-sep" || b != "unknown" {
		t.Fatalf("splitPairKey()=(%q,%q), want (no-sep,unknown)", a, b)
	}
}

func TestWithTags(t *testing.T) {
	base := []string{"env:test", "job:etl"}
	got := withTags(base, "tree:log_data", "status:ok")
	want := []string{"env:test", "job:etl", "tree:log_data", "status:ok"}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("withTags()=%v, want %v", got, want)
	}
	got[0] = "env:mutated"
	if base[0] == "env:mutated" {
		t.Fatalf("withTags output aliases base slice")
	}
}

func TestPercentileNearestRank(t *testing.T) {
	tests := []struct {
		name string
		s    []float64
		p    float64
		want float64
	}{
		{name: "empty", s: nil, p: 0.50, want: 0},
		{name: "single", s: []float64{7}, p: 0.95, want: 7},
		{name: "p_le_0", s: []float64{1, 2, 3}, p: -1, want: 1},
		{name: "p_ge_1", s: []float64{1, 2, 3}, p: 2, want: 3},
		{name: "median", s: []float64{1, 2, 3, 4, 5}, p: 0.50, want: 3},
		{name: "p90_small_n", s: []float64{1, 2, 3, 4, 5}, p: 0.90, want: 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := percentileNearestRank(tc.s, tc.p); got != tc.want {
				t.Fatalf("percentileNearestRank(%v,%v)=%v, want %v", tc.s, tc.p, got, tc.want)
			}
		})
	}
}

func TestCountAndGaugeSeries(t *testing.T) {
	now := int64(1234567)

	g := gaugeSeries("etl.test.gauge", 3.14, []string{"env:test"}, now)
	if g.Type == nil || *g.Type != datadogV2.METRICINTAKETYPE_GAUGE {
		t.Fatalf("Type=%v, want GAUGE", g.Type)
	}
	if len(g.Points) != 1 || *g.Points[0].Timestamp != now || *g.Points[0].Value != 3.14 {
		t.Fatalf("unexpected gauge points: %+v", g.Points)
	}

	c := countSeries("etl.test.count", 2, nil, now)
	if c.Type == nil || *c.Type != datadogV2.METRICINTAKETYPE_COUNT {
		t.Fatalf("Type=%v, want COUNT", c.Type)
	}
}

func TestAddPercentiles(t *testing.T) {
	orig := []float64{5, 1, 3, 2, 4}
	in := append([]float64(nil), orig...)
	tags := []string{"tree:song_data", "status:ok"}

	var series []datadogV2.MetricSeries
	addPercentiles(&series, "etl.file.duration_seconds", in, tags, 999)

	if len(series) != 6 {
		t.Fatalf("series.len=%d, want 6", len(series))
	}
	if !reflect.DeepEqual(in, orig) {
		t.Fatalf("samples mutated: got %v, want %v", in, orig)
	}
	for _, s := range series {
		if !contains(s.Tags, "tree:song_data") {
			t.Fatalf("series %q missing tree tag; tags=%v", s.Metric, s.Tags)
		}
		switch s.Metric {
		case "etl.file.duration_seconds.samples":
			if *s.Points[0].Value != 5 {
				t.Fatalf("samples=%v, want 5", *s.Points[0].Value)
			}
		case "etl.file.duration_seconds.max":
			if *s.Points[0].Value != 5 {
				t.Fatalf("max=%v, want 5", *s.Points[0].Value)
			}
		}
	}

	series = nil
	addPercentiles(&series, "x", nil, nil, 1)
	if len(series) != 0 {
		t.Fatalf("empty samples should add nothing")
	}
}

func TestNewBackend_Defaults(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		Tags:      []string{"team:data"},
		submitter: fs,
		newTicker: func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v, want nil", err)
	}
	defer func() { _ = b.Close() }()

	if !contains(b.baseTags, "job:songplays-etl") || !contains(b.baseTags, "team:data") {
		t.Fatalf("unexpected baseTags: %v", b.baseTags)
	}
	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%s, want 60s", b.flushEvery)
	}
}

func TestFlush_SubmitsAndResets(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.FilesTotal, 2, metrics.Labels{"tree": "song_data", "status": "ok"})
	b.IncCounter(metrics.RowsTotal, 3, metrics.Labels{"table": "users", "outcome": "inserted"})
	b.IncCounter(metrics.LookupsTotal, 1, metrics.Labels{"result": "miss"})
	b.ObserveHistogram(metrics.FileDurationSeconds, 0.5, metrics.Labels{"tree": "song_data", "status": "ok"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
	if len(b.fileCounts) != 0 || len(b.rowCounts) != 0 || len(b.lookupCounts) != 0 || len(b.durationSamples) != 0 {
		t.Fatalf("buffers not reset after Flush")
	}

	payload, _ := fs.last()
	var names []string
	for _, s := range payload.Series {
		names = append(names, s.Metric)
	}
	sort.Strings(names)

	for _, w := range []string{
		"etl.files.total",
		"etl.rows.total",
		"etl.lookups.total",
		"etl.file.duration_seconds.p50",
		"etl.file.duration_seconds.samples",
	} {
		if !contains(names, w) {
			t.Fatalf("payload missing metric %q; got=%v", w, names)
		}
	}

	for _, s := range payload.Series {
		if s.Metric == "etl.rows.total" {
			if !contains(s.Tags, "table:users") || !contains(s.Tags, "outcome:inserted") || !contains(s.Tags, "job:job1") {
				t.Fatalf("rows series tags=%v", s.Tags)
			}
			if *s.Points[0].Timestamp != 1000 {
				t.Fatalf("timestamp=%d, want 1000", *s.Points[0].Timestamp)
			}
		}
	}
}

func TestFlush_SubmitErrorStillResets(t *testing.T) {
	fs := &fakeSubmitter{err: errors.New("intake down")}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { fs.err = nil; _ = b.Close() }()

	b.IncCounter(metrics.LookupsTotal, 1, metrics.Labels{"result": "hit"})
	if err := b.Flush(); err == nil {
		t.Fatalf("expected submit error")
	}
	if len(b.lookupCounts) != 0 {
		t.Fatalf("buffers should reset on failed submit")
	}
}

func TestFlush_NoDataDoesNotSubmit(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 0 {
		t.Fatalf("unexpected submission count=%d, want 0", fs.count())
	}
}

func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		JobName:    "job1",
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(2000, 0) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"tree": "log_data", "status": "ok"})

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) && fs.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected at least one background Flush submission; got %d", fs.count())
	}

	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"tree": "log_data", "status": "ok"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v, want nil", err)
	}
	if fs.count() < 2 {
		t.Fatalf("expected at least 2 submissions after Close; got %d", fs.count())
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() err=%v, want nil", err)
	}
}

func TestBackend_ConcurrentAccess(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	workers := runtime.GOMAXPROCS(0) * 4
	iters := 2000

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"tree": "log_data", "status": "ok"})
				b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"table": "songplays", "outcome": "inserted"})
				b.IncCounter(metrics.LookupsTotal, 1, metrics.Labels{"result": "hit"})
				b.ObserveHistogram(metrics.FileDurationSeconds, 0.01, metrics.Labels{"tree": "log_data", "status": "ok"})
			}
		}()
	}
	wg.Wait()

	if got := b.fileCounts[pairKey("log_data", "ok")]; got != float64(workers*iters) {
		t.Fatalf("file count=%v, want %d", got, workers*iters)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
}

func TestIncCounterAndObserveHistogram_EdgeCases(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.FilesTotal, 0, metrics.Labels{"tree": "song_data"})
	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{})
	b.IncCounter("unknown_total", 1, metrics.Labels{"x": "y"})
	b.ObserveHistogram(metrics.FileDurationSeconds, -1, metrics.Labels{"tree": "song_data"})
	b.ObserveHistogram("unknown_seconds", 1, nil)
	b.IncCounter(metrics.LookupsTotal, 1, metrics.Labels{})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	payload, ok := fs.last()
	if !ok {
		t.Fatalf("missing payload")
	}
	if len(payload.Series) != 1 {
		t.Fatalf("expected only the lookup series, got %d", len(payload.Series))
	}
	s := payload.Series[0]
	if s.Metric != "etl.lookups.total" || !contains(s.Tags, "result:unknown") {
		t.Fatalf("unexpected series %q tags=%v", s.Metric, s.Tags)
	}
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty_returns_nil", in: "", want: nil},
		{name: "trims_and_skips_empty_segments", in: " env:prod , ,service:etl,  ,team:data ", want: []string{"env:prod", "service:etl", "team:data"}},
		{name: "single_tag", in: "service:etl", want: []string{"service:etl"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseTagsCSV(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseTagsCSV(%q)=%v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
