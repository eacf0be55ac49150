package model

import (
	"time"
)

// SecurityEvent represents a normalized security event from one of the
// monitored platforms (qradar, splunk, elk, wireshark, alienvault).
type SecurityEvent struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Source      string                 `json:"source"`
	Destination string                 `json:"destination,omitempty"`
	EventType   string                 `json:"event_type"`
	Severity    string                 `json:"severity"` // low, medium, high, critical
	Protocol    string                 `json:"protocol,omitempty"`
	Port        int                    `json:"port,omitempty"`
	Message     string                 `json:"message"`
	RawData     map[string]interface{} `json:"raw_data,omitempty"`
	Platform    string                 `json:"platform"`
	Processed   bool                   `json:"processed"`
}

// ThreatIndicator represents a single indicator of compromise from a
// threat-intelligence feed.
type ThreatIndicator struct {
	ID            string    `json:"id"`
	Indicator     string    `json:"indicator"`
	IndicatorType string    `json:"indicator_type"` // ip, domain, hash, url
	ThreatType    string    `json:"threat_type"`
	Severity      string    `json:"severity"`
	Confidence    int       `json:"confidence"` // 0 to 100
	Source        string    `json:"source"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	Description   string    `json:"description,omitempty"`
}

// NetworkPacket represents a captured network packet summary.
type NetworkPacket struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	SourceIP        string    `json:"source_ip"`
	DestinationIP   string    `json:"destination_ip"`
	SourcePort      int       `json:"source_port,omitempty"`
	DestinationPort int       `json:"destination_port,omitempty"`
	Protocol        string    `json:"protocol"`
	PacketSize      int       `json:"packet_size,omitempty"` // <= 0 means size unknown
	Flags           string    `json:"flags,omitempty"`
	Payload         string    `json:"payload,omitempty"`
}

// UserBehaviorRecord represents a single user action observation.
type UserBehaviorRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Action       string    `json:"action"`
	Timestamp    time.Time `json:"timestamp"`
	SourceIP     string    `json:"source_ip,omitempty"`
	DeviceInfo   string    `json:"device_info,omitempty"`
	AnomalyScore int       `json:"anomaly_score,omitempty"` // 0 to 100
	RiskLevel    string    `json:"risk_level,omitempty"`
}

// AnomalyResult is the output of the behavior and traffic analyzers.
// Score accumulates unbounded heuristic additions; Confidence is the
// score clamped to [0,100].
type AnomalyResult struct {
	IsAnomaly  bool     `json:"is_anomaly"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Factors    []string `json:"factors"`
}

// CorrelatedEvent is a security event enriched with the threat indicators
// it matched and the mean confidence across those matches.
type CorrelatedEvent struct {
	SecurityEvent
	CorrelatedThreats []ThreatIndicator `json:"correlated_threats"`
	CorrelationScore  float64           `json:"correlation_score"`
}

// severityLevels ranks severities for minimum-severity filtering.
var severityLevels = map[string]int{
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

// SeverityRank returns the numeric rank of a severity, or 0 if unknown.
func SeverityRank(severity string) int {
	return severityLevels[severity]
}

// ValidSeverity reports whether the severity is one of the known levels.
func ValidSeverity(severity string) bool {
	_, ok := severityLevels[severity]
	return ok
}
