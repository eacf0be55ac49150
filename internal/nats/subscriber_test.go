package nats

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opswatch/opswatch/internal/metrics"
	"github.com/opswatch/opswatch/internal/store"
	"github.com/opswatch/opswatch/internal/validate"
)

// Prometheus collectors register on the default registry, so all tests
// in this package share one Metrics instance and assert on deltas.
var testMetrics = metrics.NewMetrics()

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestSubscriber(t *testing.T) (*Subscriber, store.Store) {
	t.Helper()

	st := store.NewMemoryStore(100, 100)
	t.Cleanup(func() { st.Close() })

	validator, err := validate.NewSchemaValidator(filepath.Join("..", "..", "schemas"), testLogger())
	require.NoError(t, err)

	return NewSubscriber(nil, st, validator, "opswatch", testMetrics, testLogger()), st
}

func ingested(recordType string) float64 {
	return testutil.ToFloat64(testMetrics.EventsIngestedTotal.WithLabelValues(recordType))
}

func invalid(recordType string) float64 {
	return testutil.ToFloat64(testMetrics.EventsInvalidTotal.WithLabelValues(recordType))
}

func TestHandleSecurityEvent_StoresValidPayload(t *testing.T) {
	sub, st := newTestSubscriber(t)
	before := ingested(validate.TypeSecurityEvent)

	sub.handleSecurityEvent(&nats.Msg{Subject: SubjectSecurityEvents, Data: []byte(`{
		"source": "203.0.113.7",
		"event_type": "intrusion_attempt",
		"severity": "high",
		"message": "blocked inbound connection",
		"platform": "qradar"
	}`)})

	events, err := st.RecentEvents(10, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, "intrusion_attempt", events[0].EventType)
	assert.Equal(t, before+1, ingested(validate.TypeSecurityEvent))
}

func TestHandleSecurityEvent_DropsInvalidPayload(t *testing.T) {
	sub, st := newTestSubscriber(t)
	beforeInvalid := invalid(validate.TypeSecurityEvent)
	beforeIngested := ingested(validate.TypeSecurityEvent)

	// Missing severity and message.
	sub.handleSecurityEvent(&nats.Msg{Subject: SubjectSecurityEvents, Data: []byte(`{
		"source": "203.0.113.7",
		"event_type": "intrusion_attempt",
		"platform": "qradar"
	}`)})
	// Malformed JSON.
	sub.handleSecurityEvent(&nats.Msg{Subject: SubjectSecurityEvents, Data: []byte(`not json`)})

	events, err := st.RecentEvents(10, "")
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, beforeInvalid+2, invalid(validate.TypeSecurityEvent))
	assert.Equal(t, beforeIngested, ingested(validate.TypeSecurityEvent))
}

func TestHandleNetworkPacket_StoresValidPayload(t *testing.T) {
	sub, st := newTestSubscriber(t)
	before := ingested(validate.TypeNetworkPacket)

	sub.handleNetworkPacket(&nats.Msg{Subject: SubjectNetworkPackets, Data: []byte(`{
		"source_ip": "10.0.0.2",
		"destination_ip": "10.0.0.3",
		"protocol": "ICMP"
	}`)})

	packets, err := st.RecentPackets(10)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, "ICMP", packets[0].Protocol)
	assert.Equal(t, before+1, ingested(validate.TypeNetworkPacket))
}

func TestHandleUserBehavior_DropsInvalidPayload(t *testing.T) {
	sub, st := newTestSubscriber(t)
	before := invalid(validate.TypeUserBehavior)

	// Missing action.
	sub.handleUserBehavior(&nats.Msg{Subject: SubjectUserBehavior, Data: []byte(`{
		"user_id": "alice"
	}`)})

	records, err := st.RecentBehavior(10)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, before+1, invalid(validate.TypeUserBehavior))
}

func TestHandleThreatIndicator_Deduplicates(t *testing.T) {
	sub, st := newTestSubscriber(t)
	before := ingested(validate.TypeThreatIndicator)

	payload := []byte(`{
		"indicator": "198.51.100.40",
		"indicator_type": "ip",
		"threat_type": "botnet",
		"severity": "high",
		"confidence": 90,
		"source": "unit-feed"
	}`)
	sub.handleThreatIndicator(&nats.Msg{Subject: SubjectThreatIndicator, Data: payload})
	sub.handleThreatIndicator(&nats.Msg{Subject: SubjectThreatIndicator, Data: payload})

	indicators, err := st.RecentIndicators(10)
	require.NoError(t, err)
	require.Len(t, indicators, 1)
	assert.Equal(t, "198.51.100.40", indicators[0].Indicator)
	assert.Equal(t, before+1, ingested(validate.TypeThreatIndicator))
}
