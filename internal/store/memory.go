package store

import (
	"container/ring"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opswatch/opswatch/internal/model"
)

// MemoryStore provides thread-safe bounded storage for all four record
// types. Each collection lives in its own ring buffer so old records fall
// off once capacity is reached; threat indicators are additionally
// deduplicated by indicator value through an LRU cache.
type MemoryStore struct {
	mu sync.RWMutex

	events     *ring.Ring
	indicators *ring.Ring
	packets    *ring.Ring
	behavior   *ring.Ring

	indicatorSeen *lru.Cache[string, bool]

	maxRecords int
	dedupeCap  int
}

// NewMemoryStore creates a memory store with the given per-collection
// capacity and indicator dedupe capacity. Non-positive capacities are
// raised to 1; ring.New and lru.New reject them.
func NewMemoryStore(maxRecords, dedupeCap int) *MemoryStore {
	if maxRecords <= 0 {
		maxRecords = 1
	}
	if dedupeCap <= 0 {
		dedupeCap = 1
	}
	seen, _ := lru.New[string, bool](dedupeCap)

	return &MemoryStore{
		events:        ring.New(maxRecords),
		indicators:    ring.New(maxRecords),
		packets:       ring.New(maxRecords),
		behavior:      ring.New(maxRecords),
		indicatorSeen: seen,
		maxRecords:    maxRecords,
		dedupeCap:     dedupeCap,
	}
}

// AddEvent stores a security event, assigning an ID and timestamp when
// the caller left them empty.
func (s *MemoryStore) AddEvent(event model.SecurityEvent) (model.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	s.events.Value = event
	s.events = s.events.Next()

	return event, nil
}

// RecentEvents returns up to limit events, newest first, optionally
// filtered by platform.
func (s *MemoryStore) RecentEvents(limit int, platform string) ([]model.SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []model.SecurityEvent
	s.events.Do(func(value interface{}) {
		if event, ok := value.(model.SecurityEvent); ok {
			if platform == "" || event.Platform == platform {
				events = append(events, event)
			}
		}
	})

	sortNewestFirst(events, func(e model.SecurityEvent) time.Time { return e.Timestamp })
	return capped(events, limit), nil
}

// EventsBySeverity returns all stored events with the exact severity,
// newest first.
func (s *MemoryStore) EventsBySeverity(severity string) ([]model.SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []model.SecurityEvent
	s.events.Do(func(value interface{}) {
		if event, ok := value.(model.SecurityEvent); ok && event.Severity == severity {
			events = append(events, event)
		}
	})

	sortNewestFirst(events, func(e model.SecurityEvent) time.Time { return e.Timestamp })
	return events, nil
}

// EventsByTimeRange returns events with start <= timestamp <= end.
func (s *MemoryStore) EventsByTimeRange(start, end time.Time) ([]model.SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []model.SecurityEvent
	s.events.Do(func(value interface{}) {
		event, ok := value.(model.SecurityEvent)
		if !ok {
			return
		}
		if !event.Timestamp.Before(start) && !event.Timestamp.After(end) {
			events = append(events, event)
		}
	})

	sortNewestFirst(events, func(e model.SecurityEvent) time.Time { return e.Timestamp })
	return events, nil
}

// AddIndicator stores a threat indicator unless its indicator value has
// been seen before.
func (s *MemoryStore) AddIndicator(indicator model.ThreatIndicator) (model.ThreatIndicator, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.indicatorSeen.Get(indicator.Indicator); exists {
		return indicator, false, nil
	}
	s.indicatorSeen.Add(indicator.Indicator, true)

	if indicator.ID == "" {
		indicator.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if indicator.FirstSeen.IsZero() {
		indicator.FirstSeen = now
	}
	if indicator.LastSeen.IsZero() {
		indicator.LastSeen = now
	}

	s.indicators.Value = indicator
	s.indicators = s.indicators.Next()

	return indicator, true, nil
}

// RecentIndicators returns up to limit indicators ordered by last-seen
// time, newest first.
func (s *MemoryStore) RecentIndicators(limit int) ([]model.ThreatIndicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var indicators []model.ThreatIndicator
	s.indicators.Do(func(value interface{}) {
		if indicator, ok := value.(model.ThreatIndicator); ok {
			indicators = append(indicators, indicator)
		}
	})

	sortNewestFirst(indicators, func(i model.ThreatIndicator) time.Time { return i.LastSeen })
	return capped(indicators, limit), nil
}

// AddPacket stores a network packet.
func (s *MemoryStore) AddPacket(packet model.NetworkPacket) (model.NetworkPacket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if packet.ID == "" {
		packet.ID = uuid.NewString()
	}
	if packet.Timestamp.IsZero() {
		packet.Timestamp = time.Now().UTC()
	}

	s.packets.Value = packet
	s.packets = s.packets.Next()

	return packet, nil
}

// RecentPackets returns up to limit packets, newest first.
func (s *MemoryStore) RecentPackets(limit int) ([]model.NetworkPacket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var packets []model.NetworkPacket
	s.packets.Do(func(value interface{}) {
		if packet, ok := value.(model.NetworkPacket); ok {
			packets = append(packets, packet)
		}
	})

	sortNewestFirst(packets, func(p model.NetworkPacket) time.Time { return p.Timestamp })
	return capped(packets, limit), nil
}

// AddBehavior stores a user behavior record.
func (s *MemoryStore) AddBehavior(record model.UserBehaviorRecord) (model.UserBehaviorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	s.behavior.Value = record
	s.behavior = s.behavior.Next()

	return record, nil
}

// RecentBehavior returns up to limit behavior records, newest first.
func (s *MemoryStore) RecentBehavior(limit int) ([]model.UserBehaviorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []model.UserBehaviorRecord
	s.behavior.Do(func(value interface{}) {
		if record, ok := value.(model.UserBehaviorRecord); ok {
			records = append(records, record)
		}
	})

	sortNewestFirst(records, func(r model.UserBehaviorRecord) time.Time { return r.Timestamp })
	return capped(records, limit), nil
}

// BehaviorByUser returns all behavior records for a user, newest first.
func (s *MemoryStore) BehaviorByUser(userID string) ([]model.UserBehaviorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []model.UserBehaviorRecord
	s.behavior.Do(func(value interface{}) {
		if record, ok := value.(model.UserBehaviorRecord); ok && record.UserID == userID {
			records = append(records, record)
		}
	})

	sortNewestFirst(records, func(r model.UserBehaviorRecord) time.Time { return r.Timestamp })
	return records, nil
}

// AnomalousBehavior returns behavior records whose stored anomaly score
// exceeds the anomalous floor, newest first.
func (s *MemoryStore) AnomalousBehavior() ([]model.UserBehaviorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []model.UserBehaviorRecord
	s.behavior.Do(func(value interface{}) {
		if record, ok := value.(model.UserBehaviorRecord); ok && record.AnomalyScore > anomalousScoreFloor {
			records = append(records, record)
		}
	})

	sortNewestFirst(records, func(r model.UserBehaviorRecord) time.Time { return r.Timestamp })
	return records, nil
}

// Stats returns store occupancy counters.
func (s *MemoryStore) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"events":      ringCount(s.events),
		"indicators":  ringCount(s.indicators),
		"packets":     ringCount(s.packets),
		"behavior":    ringCount(s.behavior),
		"max_records": s.maxRecords,
		"dedupe_cap":  s.dedupeCap,
		"dedupe_size": s.indicatorSeen.Len(),
	}
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

func ringCount(r *ring.Ring) int {
	count := 0
	r.Do(func(value interface{}) {
		if value != nil {
			count++
		}
	})
	return count
}

func sortNewestFirst[T any](items []T, ts func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return ts(items[i]).After(ts(items[j]))
	})
}

func capped[T any](items []T, limit int) []T {
	if limit > 0 && limit < len(items) {
		return items[:limit]
	}
	return items
}
