package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opswatch/opswatch/internal/model"
)

func TestMemoryStore_AddEvent(t *testing.T) {
	s := NewMemoryStore(100, 100)

	event, err := s.AddEvent(model.SecurityEvent{
		Source:    "10.0.0.1",
		EventType: "intrusion_attempt",
		Severity:  "high",
		Message:   "failed ssh logins",
		Platform:  "qradar",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())

	events, err := s.RecentEvents(10, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.ID, events[0].ID)
}

func TestMemoryStore_NonPositiveCapacities(t *testing.T) {
	s := NewMemoryStore(0, 0)

	_, err := s.AddEvent(model.SecurityEvent{
		Source:    "10.0.0.1",
		EventType: "test",
		Severity:  "low",
		Message:   "m",
		Platform:  "elk",
	})
	require.NoError(t, err)

	_, added, err := s.AddIndicator(model.ThreatIndicator{
		Indicator:     "203.0.113.1",
		IndicatorType: "ip",
		ThreatType:    "scanner",
		Severity:      "low",
		Confidence:    50,
		Source:        "unit",
	})
	require.NoError(t, err)
	assert.True(t, added)

	events, err := s.RecentEvents(10, "")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestMemoryStore_RecentEventsOrderAndLimit(t *testing.T) {
	s := NewMemoryStore(100, 100)

	base := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.AddEvent(model.SecurityEvent{
			ID:        string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Source:    "10.0.0.1",
			Severity:  "low",
			Platform:  "splunk",
		})
		require.NoError(t, err)
	}

	events, err := s.RecentEvents(3, "")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e", events[0].ID)
	assert.Equal(t, "d", events[1].ID)
	assert.Equal(t, "c", events[2].ID)
}

func TestMemoryStore_RecentEventsPlatformFilter(t *testing.T) {
	s := NewMemoryStore(100, 100)

	_, err := s.AddEvent(model.SecurityEvent{Source: "a", Platform: "qradar"})
	require.NoError(t, err)
	_, err = s.AddEvent(model.SecurityEvent{Source: "b", Platform: "elk"})
	require.NoError(t, err)

	events, err := s.RecentEvents(10, "elk")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].Source)
}

func TestMemoryStore_EventsBySeverity(t *testing.T) {
	s := NewMemoryStore(100, 100)

	_, err := s.AddEvent(model.SecurityEvent{Source: "a", Severity: "critical"})
	require.NoError(t, err)
	_, err = s.AddEvent(model.SecurityEvent{Source: "b", Severity: "low"})
	require.NoError(t, err)
	_, err = s.AddEvent(model.SecurityEvent{Source: "c", Severity: "critical"})
	require.NoError(t, err)

	events, err := s.EventsBySeverity("critical")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestMemoryStore_EventsByTimeRange(t *testing.T) {
	s := NewMemoryStore(100, 100)

	base := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		_, err := s.AddEvent(model.SecurityEvent{
			Source:    "x",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	events, err := s.EventsByTimeRange(base.Add(2*time.Hour), base.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, 4) // bounds inclusive
}

func TestMemoryStore_RingEvictsOldest(t *testing.T) {
	s := NewMemoryStore(3, 100)

	for i := 0; i < 5; i++ {
		_, err := s.AddEvent(model.SecurityEvent{Source: "x"})
		require.NoError(t, err)
	}

	events, err := s.RecentEvents(0, "")
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestMemoryStore_IndicatorDedupe(t *testing.T) {
	s := NewMemoryStore(100, 100)

	first, added, err := s.AddIndicator(model.ThreatIndicator{
		Indicator:     "1.2.3.4",
		IndicatorType: "ip",
		Confidence:    90,
	})
	require.NoError(t, err)
	assert.True(t, added)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.FirstSeen.IsZero())

	_, added, err = s.AddIndicator(model.ThreatIndicator{
		Indicator:     "1.2.3.4",
		IndicatorType: "ip",
		Confidence:    50,
	})
	require.NoError(t, err)
	assert.False(t, added)

	indicators, err := s.RecentIndicators(10)
	require.NoError(t, err)
	assert.Len(t, indicators, 1)
}

func TestMemoryStore_AnomalousBehavior(t *testing.T) {
	s := NewMemoryStore(100, 100)

	_, err := s.AddBehavior(model.UserBehaviorRecord{UserID: "u1", Action: "login", AnomalyScore: 95})
	require.NoError(t, err)
	_, err = s.AddBehavior(model.UserBehaviorRecord{UserID: "u2", Action: "login", AnomalyScore: 70})
	require.NoError(t, err)
	_, err = s.AddBehavior(model.UserBehaviorRecord{UserID: "u3", Action: "login"})
	require.NoError(t, err)

	records, err := s.AnomalousBehavior()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "u1", records[0].UserID)
}

func TestMemoryStore_BehaviorByUser(t *testing.T) {
	s := NewMemoryStore(100, 100)

	for i := 0; i < 3; i++ {
		_, err := s.AddBehavior(model.UserBehaviorRecord{UserID: "u1", Action: "login"})
		require.NoError(t, err)
	}
	_, err := s.AddBehavior(model.UserBehaviorRecord{UserID: "u2", Action: "login"})
	require.NoError(t, err)

	records, err := s.BehaviorByUser("u1")
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestMemoryStore_Stats(t *testing.T) {
	s := NewMemoryStore(100, 100)

	_, err := s.AddEvent(model.SecurityEvent{Source: "x"})
	require.NoError(t, err)
	_, err = s.AddPacket(model.NetworkPacket{SourceIP: "10.0.0.1", DestinationIP: "10.0.0.2", Protocol: "TCP"})
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 1, stats["events"])
	assert.Equal(t, 1, stats["packets"])
	assert.Equal(t, 0, stats["behavior"])
}
