package store

import (
	"time"

	"github.com/opswatch/opswatch/internal/model"
)

// Store is the record storage consumed by the API and the analyzer. The
// engine itself never touches a Store; callers fetch a window of records
// and hand the engine plain slices.
type Store interface {
	AddEvent(event model.SecurityEvent) (model.SecurityEvent, error)
	RecentEvents(limit int, platform string) ([]model.SecurityEvent, error)
	EventsBySeverity(severity string) ([]model.SecurityEvent, error)
	EventsByTimeRange(start, end time.Time) ([]model.SecurityEvent, error)

	// AddIndicator reports false when the indicator value was already
	// present and the record was dropped as a duplicate.
	AddIndicator(indicator model.ThreatIndicator) (model.ThreatIndicator, bool, error)
	RecentIndicators(limit int) ([]model.ThreatIndicator, error)

	AddPacket(packet model.NetworkPacket) (model.NetworkPacket, error)
	RecentPackets(limit int) ([]model.NetworkPacket, error)

	AddBehavior(record model.UserBehaviorRecord) (model.UserBehaviorRecord, error)
	RecentBehavior(limit int) ([]model.UserBehaviorRecord, error)
	BehaviorByUser(userID string) ([]model.UserBehaviorRecord, error)
	AnomalousBehavior() ([]model.UserBehaviorRecord, error)

	Stats() map[string]interface{}
	Close() error
}

// anomalousScoreFloor mirrors the analyzer's notion of an anomalous user
// record for the canned anomalous-activity query.
const anomalousScoreFloor = 70
