package observe

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/elocute/pkg/types"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// hasAttr reports whether set contains key=value.
func hasAttr(set attribute.Set, key, value string) bool {
	v, ok := set.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

// sumFor returns the int64 sum data point matching key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if hasAttr(dp.Attributes, key, value) {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordAssessment(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAssessment(ctx, "en-US", StatusOK, 3*time.Second, 12*time.Second)
	m.RecordAssessment(ctx, "en-US", StatusOK, 4*time.Second, 0)
	m.RecordAssessment(ctx, "en-US", StatusTimeout, 60*time.Second, 5*time.Second)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "elocute.assessments", "status", StatusOK); got != 2 {
		t.Errorf("ok assessments = %d, want 2", got)
	}
	if got := sumFor(t, rm, "elocute.assessments", "status", StatusTimeout); got != 1 {
		t.Errorf("timeout assessments = %d, want 1", got)
	}

	met := findMetric(rm, "elocute.audio.duration")
	if met == nil {
		t.Fatal("audio duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("audio duration data = %+v", met.Data)
	}
	// Zero-length audio is not recorded.
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("audio samples = %d, want 2", got)
	}
}

func TestRecordScores(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordScores(ctx, types.Scores{Pronunciation: 86, Accuracy: 90, Fluency: 70, Completeness: 100, Prosody: 80, ProsodyAssessed: true})
	m.RecordScores(ctx, types.Scores{Pronunciation: 50, Accuracy: 50, Fluency: 50, Completeness: 50})

	rm := collect(t, reader)
	met := findMetric(rm, "elocute.assessment.score")
	if met == nil {
		t.Fatal("score metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("score metric is not a histogram")
	}
	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		v, _ := dp.Attributes.Value("metric")
		counts[v.AsString()] = dp.Count
	}
	if counts["pronunciation"] != 2 || counts["prosody"] != 1 {
		t.Errorf("score sample counts = %v", counts)
	}
}

func TestRecordErrorCountsSkipsZero(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordErrorCounts(ctx, map[string]int{"Omission": 2, "Insertion": 0, "Monotone": 1})

	rm := collect(t, reader)
	if got := sumFor(t, rm, "elocute.word_errors", "error_type", "Omission"); got != 2 {
		t.Errorf("omissions = %d, want 2", got)
	}
	met := findMetric(rm, "elocute.word_errors")
	sum := met.Data.(metricdata.Sum[int64])
	for _, dp := range sum.DataPoints {
		if hasAttr(dp.Attributes, "error_type", "Insertion") {
			t.Error("zero count recorded for Insertion")
		}
	}
}

func TestCountersWithAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUtterances(ctx, "zh-CN", 3)
	m.RecordUtterances(ctx, "zh-CN", 2)
	m.RecordCancellation(ctx, "1008")
	m.RecordProviderRequest(ctx, "azure", "assess", "ok")
	m.RecordProviderRequest(ctx, "azure", "assess", "ok")
	m.RecordProviderError(ctx, "openai", "llm")

	rm := collect(t, reader)
	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"elocute.utterances", "language", "zh-CN", 5},
		{"elocute.recognizer.cancellations", "code", "1008", 1},
		{"elocute.provider.requests", "status", "ok", 2},
		{"elocute.provider.errors", "provider", "openai", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sumFor(t, rm, tc.name, tc.key, tc.value); got != tc.want {
				t.Errorf("%s = %d, want %d", tc.name, got, tc.want)
			}
		})
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "elocute.active_sessions")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("gauge value = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
