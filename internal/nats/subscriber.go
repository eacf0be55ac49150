// Package nats provides the NATS ingestion and publishing transport.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/opswatch/opswatch/internal/metrics"
	"github.com/opswatch/opswatch/internal/model"
	"github.com/opswatch/opswatch/internal/store"
	"github.com/opswatch/opswatch/internal/validate"
)

// Ingest subjects, one per record type.
const (
	SubjectSecurityEvents  = "events.security"
	SubjectNetworkPackets  = "events.network"
	SubjectUserBehavior    = "events.behavior"
	SubjectThreatIndicator = "threats.indicator"
)

// Subscriber consumes record streams from NATS, validates them, and
// writes them to the store.
type Subscriber struct {
	nc        *nats.Conn
	store     store.Store
	validator *validate.SchemaValidator
	metrics   *metrics.Metrics
	logger    *slog.Logger
	queue     string

	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber bound to the given store.
func NewSubscriber(nc *nats.Conn, st store.Store, validator *validate.SchemaValidator, queue string, m *metrics.Metrics, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		nc:        nc,
		store:     st,
		validator: validator,
		metrics:   m,
		logger:    logger,
		queue:     queue,
	}
}

// Subscribe starts queue subscriptions for all record subjects and
// blocks until the context is cancelled, then drains gracefully.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	s.logger.Info("Subscribing to record subjects", "queue", s.queue)

	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{SubjectSecurityEvents, s.handleSecurityEvent},
		{SubjectNetworkPackets, s.handleNetworkPacket},
		{SubjectUserBehavior, s.handleUserBehavior},
		{SubjectThreatIndicator, s.handleThreatIndicator},
	}

	for _, h := range handlers {
		sub, err := s.nc.QueueSubscribe(h.subject, s.queue, h.handler)
		if err != nil {
			s.unsubscribeAll()
			return fmt.Errorf("failed to subscribe to %s: %w", h.subject, err)
		}
		s.subs = append(s.subs, sub)
		s.logger.Info("Subscribed", "subject", h.subject, "queue", s.queue)
	}

	<-ctx.Done()

	s.logger.Info("Draining subscriptions")
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			s.logger.Error("Failed to drain subscription", "subject", sub.Subject, "error", err)
		}
	}
	return nil
}

func (s *Subscriber) handleSecurityEvent(msg *nats.Msg) {
	if !s.valid(validate.TypeSecurityEvent, msg) {
		return
	}

	var event model.SecurityEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.reject(validate.TypeSecurityEvent, err)
		return
	}

	stored, err := s.store.AddEvent(event)
	if err != nil {
		s.logger.Error("Failed to store security event", "error", err)
		return
	}

	s.metrics.IncIngested(validate.TypeSecurityEvent)
	s.logger.Debug("Security event ingested", "event_id", stored.ID, "severity", stored.Severity, "platform", stored.Platform)
}

func (s *Subscriber) handleNetworkPacket(msg *nats.Msg) {
	if !s.valid(validate.TypeNetworkPacket, msg) {
		return
	}

	var packet model.NetworkPacket
	if err := json.Unmarshal(msg.Data, &packet); err != nil {
		s.reject(validate.TypeNetworkPacket, err)
		return
	}

	if _, err := s.store.AddPacket(packet); err != nil {
		s.logger.Error("Failed to store network packet", "error", err)
		return
	}

	s.metrics.IncIngested(validate.TypeNetworkPacket)
}

func (s *Subscriber) handleUserBehavior(msg *nats.Msg) {
	if !s.valid(validate.TypeUserBehavior, msg) {
		return
	}

	var record model.UserBehaviorRecord
	if err := json.Unmarshal(msg.Data, &record); err != nil {
		s.reject(validate.TypeUserBehavior, err)
		return
	}

	if _, err := s.store.AddBehavior(record); err != nil {
		s.logger.Error("Failed to store behavior record", "error", err)
		return
	}

	s.metrics.IncIngested(validate.TypeUserBehavior)
}

func (s *Subscriber) handleThreatIndicator(msg *nats.Msg) {
	if !s.valid(validate.TypeThreatIndicator, msg) {
		return
	}

	var indicator model.ThreatIndicator
	if err := json.Unmarshal(msg.Data, &indicator); err != nil {
		s.reject(validate.TypeThreatIndicator, err)
		return
	}

	stored, added, err := s.store.AddIndicator(indicator)
	if err != nil {
		s.logger.Error("Failed to store threat indicator", "error", err)
		return
	}
	if !added {
		s.logger.Debug("Duplicate indicator dropped", "indicator", stored.Indicator)
		return
	}

	s.metrics.IncIngested(validate.TypeThreatIndicator)
	s.logger.Debug("Threat indicator ingested", "indicator", stored.Indicator, "type", stored.IndicatorType)
}

// valid runs schema validation and records rejects.
func (s *Subscriber) valid(recordType string, msg *nats.Msg) bool {
	if err := s.validator.Validate(recordType, msg.Data); err != nil {
		s.reject(recordType, err)
		return false
	}
	return true
}

func (s *Subscriber) reject(recordType string, err error) {
	s.metrics.IncInvalid(recordType)
	s.logger.Warn("Invalid record dropped", "record_type", recordType, "error", err)
}

func (s *Subscriber) unsubscribeAll() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}
