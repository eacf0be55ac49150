package analyzer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opswatch/opswatch/internal/engine"
	"github.com/opswatch/opswatch/internal/feed"
	"github.com/opswatch/opswatch/internal/metrics"
	"github.com/opswatch/opswatch/internal/model"
	natstransport "github.com/opswatch/opswatch/internal/nats"
	"github.com/opswatch/opswatch/internal/store"
)

// Prometheus collectors register on the default registry, so all tests
// in this package share one Metrics instance.
var testMetrics = metrics.NewMetrics()

type capturingPublisher struct {
	published map[string][]interface{}
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{published: make(map[string][]interface{})}
}

func (p *capturingPublisher) Publish(subject string, payload interface{}) error {
	p.published[subject] = append(p.published[subject], payload)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRunOnceCorrelatesStoredIndicators(t *testing.T) {
	st := store.NewMemoryStore(100, 100)
	defer st.Close()

	_, err := st.AddEvent(model.SecurityEvent{
		Source:    "203.0.113.7",
		EventType: "intrusion_attempt",
		Severity:  "high",
		Message:   "blocked inbound connection",
		Platform:  "qradar",
	})
	require.NoError(t, err)

	_, added, err := st.AddIndicator(model.ThreatIndicator{
		Indicator:     "203.0.113.7",
		IndicatorType: "ip",
		ThreatType:    "botnet",
		Severity:      "high",
		Confidence:    90,
		Source:        "test-feed",
	})
	require.NoError(t, err)
	require.True(t, added)

	pub := newCapturingPublisher()
	a := New(st, nil, pub, testMetrics, 100, time.Second, testLogger())

	snapshot, err := a.RunOnce()
	require.NoError(t, err)

	assert.Equal(t, 1, snapshot.EventCount)
	assert.Equal(t, 1, snapshot.IndicatorCount)
	require.Len(t, snapshot.Correlated, 1)
	assert.Equal(t, "203.0.113.7", snapshot.Correlated[0].Source)
	assert.Equal(t, 90.0, snapshot.Correlated[0].CorrelationScore)

	assert.Len(t, pub.published[natstransport.SubjectSnapshot], 1)
	assert.Len(t, pub.published[natstransport.SubjectFindings], 1)
}

func TestRunOnceSkipsFindingsWhenNothingCorrelates(t *testing.T) {
	st := store.NewMemoryStore(100, 100)
	defer st.Close()

	_, err := st.AddEvent(model.SecurityEvent{
		Source:    "10.0.0.1",
		EventType: "login",
		Severity:  "low",
		Message:   "user login",
		Platform:  "splunk",
	})
	require.NoError(t, err)

	pub := newCapturingPublisher()
	a := New(st, nil, pub, testMetrics, 100, time.Second, testLogger())

	snapshot, err := a.RunOnce()
	require.NoError(t, err)

	assert.Empty(t, snapshot.Correlated)
	assert.Len(t, pub.published[natstransport.SubjectSnapshot], 1)
	assert.Empty(t, pub.published[natstransport.SubjectFindings])
}

func TestRunOnceMergesFeedIndicators(t *testing.T) {
	dir := t.TempDir()
	feedYAML := `source: unit-feed
indicators:
  - indicator: 198.51.100.23
    indicator_type: ip
    threat_type: scanner
    severity: medium
    confidence: 70
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unit.yaml"), []byte(feedYAML), 0o644))

	loader := feed.NewLoader(dir, testLogger())
	_, err := loader.LoadSnapshot()
	require.NoError(t, err)

	st := store.NewMemoryStore(100, 100)
	defer st.Close()

	_, err = st.AddEvent(model.SecurityEvent{
		Source:    "198.51.100.23",
		EventType: "port_scan",
		Severity:  "medium",
		Message:   "scan detected",
		Platform:  "wireshark",
	})
	require.NoError(t, err)

	a := New(st, loader, newCapturingPublisher(), testMetrics, 100, time.Second, testLogger())

	snapshot, err := a.RunOnce()
	require.NoError(t, err)

	require.Len(t, snapshot.Correlated, 1)
	assert.Equal(t, "unit-feed", snapshot.Correlated[0].CorrelatedThreats[0].Source)
}

func TestRunOnceFeedPrescreenOnlyAffectsCorrelation(t *testing.T) {
	dir := t.TempDir()
	feedYAML := `source: unit-feed
indicators:
  - indicator: evil.example.com
    indicator_type: domain
    threat_type: phishing
    severity: high
    confidence: 95
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unit.yaml"), []byte(feedYAML), 0o644))

	loader := feed.NewLoader(dir, testLogger())
	_, err := loader.LoadSnapshot()
	require.NoError(t, err)

	st := store.NewMemoryStore(100, 100)
	defer st.Close()

	_, err = st.AddEvent(model.SecurityEvent{
		Source:    "10.0.0.9",
		EventType: "login",
		Severity:  "low",
		Message:   "user login",
		Platform:  "elk",
	})
	require.NoError(t, err)

	a := New(st, loader, newCapturingPublisher(), testMetrics, 100, time.Second, testLogger())

	snapshot, err := a.RunOnce()
	require.NoError(t, err)

	// No event can match the feed, so correlation skips it. Risk scoring
	// must still see the high-confidence feed indicator.
	assert.Empty(t, snapshot.Correlated)
	assert.Equal(t, 1, snapshot.IndicatorCount)

	events, err := st.RecentEvents(100, "")
	require.NoError(t, err)
	behavior, err := st.RecentBehavior(100)
	require.NoError(t, err)
	unscreened := engine.GenerateRiskScore(events, behavior, loader.GetSnapshot().Indicators)
	assert.InDelta(t, unscreened, snapshot.RiskScore, 1e-9)
	assert.InDelta(t, 0.15, snapshot.RiskScore, 1e-9)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := store.NewMemoryStore(10, 10)
	defer st.Close()

	a := New(st, nil, newCapturingPublisher(), testMetrics, 10, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("analyzer did not stop after context cancellation")
	}
}
