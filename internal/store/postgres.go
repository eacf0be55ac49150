package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/opswatch/opswatch/internal/model"
)

// PostgresStore persists records in PostgreSQL. It implements the same
// Store interface as MemoryStore so the service can swap backends via
// configuration. Table creation is the operator's concern.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore opens a connection pool against the given DSN.
func NewPostgresStore(dsn string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// AddEvent inserts a security event.
func (s *PostgresStore) AddEvent(event model.SecurityEvent) (model.SecurityEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	rawData, err := marshalRawData(event.RawData)
	if err != nil {
		return event, err
	}

	query := `
		INSERT INTO security_events
			(id, timestamp, source, destination, event_type, severity, protocol, port, message, raw_data, platform, processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.Exec(query, event.ID, event.Timestamp, event.Source, event.Destination,
		event.EventType, event.Severity, event.Protocol, event.Port, event.Message,
		rawData, event.Platform, event.Processed)
	if err != nil {
		return event, fmt.Errorf("failed to insert event: %w", err)
	}

	return event, nil
}

// RecentEvents returns up to limit events, newest first, optionally
// filtered by platform.
func (s *PostgresStore) RecentEvents(limit int, platform string) ([]model.SecurityEvent, error) {
	query := `
		SELECT id, timestamp, source, destination, event_type, severity, protocol, port, message, raw_data, platform, processed
		FROM security_events
		WHERE $1 = '' OR platform = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := s.db.Query(query, platform, normalizedLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// EventsBySeverity returns all events with the exact severity, newest first.
func (s *PostgresStore) EventsBySeverity(severity string) ([]model.SecurityEvent, error) {
	query := `
		SELECT id, timestamp, source, destination, event_type, severity, protocol, port, message, raw_data, platform, processed
		FROM security_events
		WHERE severity = $1
		ORDER BY timestamp DESC
	`
	rows, err := s.db.Query(query, severity)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by severity: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// EventsByTimeRange returns events within [start, end], newest first.
func (s *PostgresStore) EventsByTimeRange(start, end time.Time) ([]model.SecurityEvent, error) {
	query := `
		SELECT id, timestamp, source, destination, event_type, severity, protocol, port, message, raw_data, platform, processed
		FROM security_events
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp DESC
	`
	rows, err := s.db.Query(query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by time range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// AddIndicator inserts a threat indicator, updating last_seen on
// indicator-value conflicts instead of inserting a duplicate.
func (s *PostgresStore) AddIndicator(indicator model.ThreatIndicator) (model.ThreatIndicator, bool, error) {
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

	query := `
		INSERT INTO threat_indicators
			(id, indicator, indicator_type, threat_type, severity, confidence, source, first_seen, last_seen, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (indicator) DO UPDATE SET last_seen = EXCLUDED.last_seen
		RETURNING id = $1
	`
	var inserted bool
	err := s.db.QueryRow(query, indicator.ID, indicator.Indicator, indicator.IndicatorType,
		indicator.ThreatType, indicator.Severity, indicator.Confidence, indicator.Source,
		indicator.FirstSeen, indicator.LastSeen, indicator.Description).Scan(&inserted)
	if err != nil {
		return indicator, false, fmt.Errorf("failed to insert indicator: %w", err)
	}

	return indicator, inserted, nil
}

// RecentIndicators returns up to limit indicators by last_seen, newest first.
func (s *PostgresStore) RecentIndicators(limit int) ([]model.ThreatIndicator, error) {
	query := `
		SELECT id, indicator, indicator_type, threat_type, severity, confidence, source, first_seen, last_seen, description
		FROM threat_indicators
		ORDER BY last_seen DESC
		LIMIT $1
	`
	rows, err := s.db.Query(query, normalizedLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query indicators: %w", err)
	}
	defer rows.Close()

	var indicators []model.ThreatIndicator
	for rows.Next() {
		var ind model.ThreatIndicator
		var description sql.NullString
		err := rows.Scan(&ind.ID, &ind.Indicator, &ind.IndicatorType, &ind.ThreatType,
			&ind.Severity, &ind.Confidence, &ind.Source, &ind.FirstSeen, &ind.LastSeen, &description)
		if err != nil {
			return nil, fmt.Errorf("failed to scan indicator: %w", err)
		}
		ind.Description = description.String
		indicators = append(indicators, ind)
	}

	return indicators, rows.Err()
}

// AddPacket inserts a network packet.
func (s *PostgresStore) AddPacket(packet model.NetworkPacket) (model.NetworkPacket, error) {
	if packet.ID == "" {
		packet.ID = uuid.NewString()
	}
	if packet.Timestamp.IsZero() {
		packet.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO network_packets
			(id, timestamp, source_ip, destination_ip, source_port, destination_port, protocol, packet_size, flags, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.Exec(query, packet.ID, packet.Timestamp, packet.SourceIP, packet.DestinationIP,
		packet.SourcePort, packet.DestinationPort, packet.Protocol, packet.PacketSize,
		packet.Flags, packet.Payload)
	if err != nil {
		return packet, fmt.Errorf("failed to insert packet: %w", err)
	}

	return packet, nil
}

// RecentPackets returns up to limit packets, newest first.
func (s *PostgresStore) RecentPackets(limit int) ([]model.NetworkPacket, error) {
	query := `
		SELECT id, timestamp, source_ip, destination_ip, source_port, destination_port, protocol, packet_size, flags, payload
		FROM network_packets
		ORDER BY timestamp DESC
		LIMIT $1
	`
	rows, err := s.db.Query(query, normalizedLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query packets: %w", err)
	}
	defer rows.Close()

	var packets []model.NetworkPacket
	for rows.Next() {
		var p model.NetworkPacket
		err := rows.Scan(&p.ID, &p.Timestamp, &p.SourceIP, &p.DestinationIP, &p.SourcePort,
			&p.DestinationPort, &p.Protocol, &p.PacketSize, &p.Flags, &p.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to scan packet: %w", err)
		}
		packets = append(packets, p)
	}

	return packets, rows.Err()
}

// AddBehavior inserts a user behavior record.
func (s *PostgresStore) AddBehavior(record model.UserBehaviorRecord) (model.UserBehaviorRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO user_behavior
			(id, user_id, action, timestamp, source_ip, device_info, anomaly_score, risk_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.Exec(query, record.ID, record.UserID, record.Action, record.Timestamp,
		record.SourceIP, record.DeviceInfo, record.AnomalyScore, record.RiskLevel)
	if err != nil {
		return record, fmt.Errorf("failed to insert behavior record: %w", err)
	}

	return record, nil
}

// RecentBehavior returns up to limit behavior records, newest first.
func (s *PostgresStore) RecentBehavior(limit int) ([]model.UserBehaviorRecord, error) {
	query := behaviorSelect + ` ORDER BY timestamp DESC LIMIT $1`
	rows, err := s.db.Query(query, normalizedLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query behavior: %w", err)
	}
	defer rows.Close()

	return scanBehavior(rows)
}

// BehaviorByUser returns all behavior records for a user, newest first.
func (s *PostgresStore) BehaviorByUser(userID string) ([]model.UserBehaviorRecord, error) {
	query := behaviorSelect + ` WHERE user_id = $1 ORDER BY timestamp DESC`
	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query behavior by user: %w", err)
	}
	defer rows.Close()

	return scanBehavior(rows)
}

// AnomalousBehavior returns behavior records above the anomalous floor,
// newest first.
func (s *PostgresStore) AnomalousBehavior() ([]model.UserBehaviorRecord, error) {
	query := behaviorSelect + ` WHERE anomaly_score > $1 ORDER BY timestamp DESC`
	rows, err := s.db.Query(query, anomalousScoreFloor)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalous behavior: %w", err)
	}
	defer rows.Close()

	return scanBehavior(rows)
}

// Stats returns row counts per table.
func (s *PostgresStore) Stats() map[string]interface{} {
	stats := map[string]interface{}{}
	for name, table := range map[string]string{
		"events":     "security_events",
		"indicators": "threat_indicators",
		"packets":    "network_packets",
		"behavior":   "user_behavior",
	} {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count); err != nil {
			s.logger.Warn("Failed to count table rows", "table", table, "error", err)
			continue
		}
		stats[name] = count
	}
	return stats
}

const behaviorSelect = `
	SELECT id, user_id, action, timestamp, source_ip, device_info, anomaly_score, risk_level
	FROM user_behavior`

func scanEvents(rows *sql.Rows) ([]model.SecurityEvent, error) {
	var events []model.SecurityEvent
	for rows.Next() {
		var event model.SecurityEvent
		var destination, protocol sql.NullString
		var port sql.NullInt64
		var rawData []byte
		err := rows.Scan(&event.ID, &event.Timestamp, &event.Source, &destination,
			&event.EventType, &event.Severity, &protocol, &port, &event.Message,
			&rawData, &event.Platform, &event.Processed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Destination = destination.String
		event.Protocol = protocol.String
		event.Port = int(port.Int64)
		if len(rawData) > 0 {
			if err := json.Unmarshal(rawData, &event.RawData); err != nil {
				return nil, fmt.Errorf("failed to decode raw data: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanBehavior(rows *sql.Rows) ([]model.UserBehaviorRecord, error) {
	var records []model.UserBehaviorRecord
	for rows.Next() {
		var record model.UserBehaviorRecord
		var sourceIP, deviceInfo, riskLevel sql.NullString
		var anomalyScore sql.NullInt64
		err := rows.Scan(&record.ID, &record.UserID, &record.Action, &record.Timestamp,
			&sourceIP, &deviceInfo, &anomalyScore, &riskLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to scan behavior record: %w", err)
		}
		record.SourceIP = sourceIP.String
		record.DeviceInfo = deviceInfo.String
		record.AnomalyScore = int(anomalyScore.Int64)
		record.RiskLevel = riskLevel.String
		records = append(records, record)
	}
	return records, rows.Err()
}

func marshalRawData(rawData map[string]interface{}) ([]byte, error) {
	if rawData == nil {
		return nil, nil
	}
	data, err := json.Marshal(rawData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode raw data: %w", err)
	}
	return data, nil
}

func normalizedLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
