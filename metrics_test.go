package formguard

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{EnableLatencyHistograms: true})

	m.Inc(MetricCaptchaIssued)
	m.Inc(MetricCaptchaIssued)
	m.Inc(MetricTOTPSuccess)
	m.Observe(MetricAuthorizeLatency, 3*time.Millisecond)
	m.Observe(MetricAuthorizeLatency, 700*time.Millisecond)

	if got := m.Value(MetricCaptchaIssued); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}

	s := m.Snapshot()
	if s.Counters[MetricTOTPSuccess] != 1 {
		t.Fatalf("expected 1, got %d", s.Counters[MetricTOTPSuccess])
	}
	buckets := s.Histograms[MetricAuthorizeLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	if buckets[0] != 1 || buckets[histBucketCount-1] != 1 {
		t.Fatalf("unexpected bucket distribution: %v", buckets)
	}
}

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m := NewMetrics(MetricsConfig{Disabled: true})

	m.Inc(MetricCaptchaIssued)
	m.Observe(MetricAuthorizeLatency, time.Millisecond)

	if m.Enabled() {
		t.Fatal("expected disabled metrics")
	}
	s := m.Snapshot()
	if len(s.Counters) != 0 || len(s.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", s)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricCaptchaIssued)
	m.Observe(MetricAuthorizeLatency, time.Millisecond)
	if m.Value(MetricCaptchaIssued) != 0 {
		t.Fatal("expected zero from nil receiver")
	}
	_ = m.Snapshot()
}

func TestMetricsConcurrentIncrements(t *testing.T) {
	m := NewMetrics(MetricsConfig{})

	const workers = 8
	const perWorker = 1000

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricAuthorizeAllowed)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricAuthorizeAllowed); got != workers*perWorker {
		t.Fatalf("expected %d, got %d", workers*perWorker, got)
	}
}

func TestBucketIndexBoundaries(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{time.Millisecond, 0},
		{5 * time.Millisecond, 0},
		{6 * time.Millisecond, 1},
		{25 * time.Millisecond, 2},
		{90 * time.Millisecond, 4},
		{400 * time.Millisecond, 6},
		{2 * time.Second, 7},
	}
	for _, tc := range cases {
		if got := bucketIndex(tc.d); got != tc.want {
			t.Fatalf("bucketIndex(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}
