// Package api exposes the HTTP surface of the opswatch service.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opswatch/opswatch/internal/engine"
	"github.com/opswatch/opswatch/internal/feed"
	"github.com/opswatch/opswatch/internal/metrics"
	"github.com/opswatch/opswatch/internal/model"
	"github.com/opswatch/opswatch/internal/store"
	"github.com/opswatch/opswatch/internal/validate"
)

const maxBodySize = 1024 * 1024 // 1MB

// HTTPAPI provides HTTP endpoints for the opswatch service
type HTTPAPI struct {
	store       store.Store
	feeds       *feed.Loader
	validator   *validate.SchemaValidator
	metrics     *metrics.Metrics
	natsConn    *nats.Conn
	logger      *slog.Logger
	windowLimit int
}

// NewHTTPAPI creates a new HTTP API instance
func NewHTTPAPI(st store.Store, feeds *feed.Loader, validator *validate.SchemaValidator, m *metrics.Metrics, natsConn *nats.Conn, windowLimit int, logger *slog.Logger) *HTTPAPI {
	return &HTTPAPI{
		store:       st,
		feeds:       feeds,
		validator:   validator,
		metrics:     m,
		natsConn:    natsConn,
		logger:      logger,
		windowLimit: windowLimit,
	}
}

// SetupRoutes configures HTTP routes
func (api *HTTPAPI) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/events", api.handleEvents)
	mux.HandleFunc("/events/severity/", api.handleEventsBySeverity)
	mux.HandleFunc("/threats", api.handleThreats)
	mux.HandleFunc("/packets", api.handlePackets)
	mux.HandleFunc("/behavior", api.handleBehavior)
	mux.HandleFunc("/behavior/anomalous", api.handleAnomalousBehavior)
	mux.HandleFunc("/analytics/behavior", api.handleAnalyticsBehavior)
	mux.HandleFunc("/analytics/traffic", api.handleAnalyticsTraffic)
	mux.HandleFunc("/analytics/correlated", api.handleAnalyticsCorrelated)
	mux.HandleFunc("/analytics/risk", api.handleAnalyticsRisk)
	mux.HandleFunc("/analytics/dashboard", api.handleDashboard)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", api.handleHealth)
	mux.HandleFunc("/readyz", api.handleReady)
}

// handleEvents handles GET /events and POST /events
func (api *HTTPAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var events []model.SecurityEvent
		var err error
		if startStr, endStr := r.URL.Query().Get("start"), r.URL.Query().Get("end"); startStr != "" && endStr != "" {
			start, serr := time.Parse(time.RFC3339, startStr)
			end, eerr := time.Parse(time.RFC3339, endStr)
			if serr != nil || eerr != nil {
				http.Error(w, "start and end must be RFC3339 timestamps", http.StatusBadRequest)
				return
			}
			events, err = api.store.EventsByTimeRange(start, end)
		} else {
			events, err = api.store.RecentEvents(api.limit(r), r.URL.Query().Get("platform"))
		}
		if err != nil {
			http.Error(w, "Failed to fetch events", http.StatusInternalServerError)
			return
		}
		api.writeJSON(w, http.StatusOK, map[string]interface{}{
			"events":    events,
			"count":     len(events),
			"timestamp": time.Now().UTC(),
		})
	case http.MethodPost:
		body, err := api.readBody(w, r)
		if err != nil {
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}
		if err := api.validator.Validate(validate.TypeSecurityEvent, body); err != nil {
			api.metrics.IncInvalid(validate.TypeSecurityEvent)
			http.Error(w, fmt.Sprintf("Invalid event: %v", err), http.StatusBadRequest)
			return
		}
		var event model.SecurityEvent
		if err := json.Unmarshal(body, &event); err != nil {
			http.Error(w, "Failed to parse request body", http.StatusBadRequest)
			return
		}
		stored, err := api.store.AddEvent(event)
		if err != nil {
			http.Error(w, "Failed to store event", http.StatusInternalServerError)
			return
		}
		api.metrics.IncIngested(validate.TypeSecurityEvent)
		api.writeJSON(w, http.StatusCreated, stored)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleEventsBySeverity handles GET /events/severity/{severity}
func (api *HTTPAPI) handleEventsBySeverity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	severity := strings.TrimPrefix(r.URL.Path, "/events/severity/")
	if severity == "" || !model.ValidSeverity(severity) {
		http.Error(w, "Invalid severity", http.StatusBadRequest)
		return
	}

	events, err := api.store.EventsBySeverity(severity)
	if err != nil {
		http.Error(w, "Failed to fetch events", http.StatusInternalServerError)
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":    events,
		"severity":  severity,
		"count":     len(events),
		"timestamp": time.Now().UTC(),
	})
}

// handleThreats handles GET /threats and POST /threats
func (api *HTTPAPI) handleThreats(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		indicators, err := api.store.RecentIndicators(api.limit(r))
		if err != nil {
			http.Error(w, "Failed to fetch indicators", http.StatusInternalServerError)
			return
		}
		api.writeJSON(w, http.StatusOK, map[string]interface{}{
			"threats":   indicators,
			"count":     len(indicators),
			"timestamp": time.Now().UTC(),
		})
	case http.MethodPost:
		body, err := api.readBody(w, r)
		if err != nil {
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}
		if err := api.validator.Validate(validate.TypeThreatIndicator, body); err != nil {
			api.metrics.IncInvalid(validate.TypeThreatIndicator)
			http.Error(w, fmt.Sprintf("Invalid indicator: %v", err), http.StatusBadRequest)
			return
		}
		var indicator model.ThreatIndicator
		if err := json.Unmarshal(body, &indicator); err != nil {
			http.Error(w, "Failed to parse request body", http.StatusBadRequest)
			return
		}
		stored, added, err := api.store.AddIndicator(indicator)
		if err != nil {
			http.Error(w, "Failed to store indicator", http.StatusInternalServerError)
			return
		}
		if !added {
			api.writeJSON(w, http.StatusOK, map[string]interface{}{
				"message":   "Indicator already known",
				"indicator": stored.Indicator,
				"timestamp": time.Now().UTC(),
			})
			return
		}
		api.metrics.IncIngested(validate.TypeThreatIndicator)
		api.writeJSON(w, http.StatusCreated, stored)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePackets handles GET /packets and POST /packets
func (api *HTTPAPI) handlePackets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		packets, err := api.store.RecentPackets(api.limit(r))
		if err != nil {
			http.Error(w, "Failed to fetch packets", http.StatusInternalServerError)
			return
		}
		api.writeJSON(w, http.StatusOK, map[string]interface{}{
			"packets":   packets,
			"count":     len(packets),
			"timestamp": time.Now().UTC(),
		})
	case http.MethodPost:
		body, err := api.readBody(w, r)
		if err != nil {
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}
		if err := api.validator.Validate(validate.TypeNetworkPacket, body); err != nil {
			api.metrics.IncInvalid(validate.TypeNetworkPacket)
			http.Error(w, fmt.Sprintf("Invalid packet: %v", err), http.StatusBadRequest)
			return
		}
		var packet model.NetworkPacket
		if err := json.Unmarshal(body, &packet); err != nil {
			http.Error(w, "Failed to parse request body", http.StatusBadRequest)
			return
		}
		stored, err := api.store.AddPacket(packet)
		if err != nil {
			http.Error(w, "Failed to store packet", http.StatusInternalServerError)
			return
		}
		api.metrics.IncIngested(validate.TypeNetworkPacket)
		api.writeJSON(w, http.StatusCreated, stored)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleBehavior handles GET /behavior and POST /behavior
func (api *HTTPAPI) handleBehavior(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if userID := r.URL.Query().Get("user_id"); userID != "" {
			records, err := api.store.BehaviorByUser(userID)
			if err != nil {
				http.Error(w, "Failed to fetch behavior records", http.StatusInternalServerError)
				return
			}
			api.writeJSON(w, http.StatusOK, map[string]interface{}{
				"behavior":  records,
				"user_id":   userID,
				"count":     len(records),
				"timestamp": time.Now().UTC(),
			})
			return
		}
		records, err := api.store.RecentBehavior(api.limit(r))
		if err != nil {
			http.Error(w, "Failed to fetch behavior records", http.StatusInternalServerError)
			return
		}
		api.writeJSON(w, http.StatusOK, map[string]interface{}{
			"behavior":  records,
			"count":     len(records),
			"timestamp": time.Now().UTC(),
		})
	case http.MethodPost:
		body, err := api.readBody(w, r)
		if err != nil {
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}
		if err := api.validator.Validate(validate.TypeUserBehavior, body); err != nil {
			api.metrics.IncInvalid(validate.TypeUserBehavior)
			http.Error(w, fmt.Sprintf("Invalid behavior record: %v", err), http.StatusBadRequest)
			return
		}
		var record model.UserBehaviorRecord
		if err := json.Unmarshal(body, &record); err != nil {
			http.Error(w, "Failed to parse request body", http.StatusBadRequest)
			return
		}
		stored, err := api.store.AddBehavior(record)
		if err != nil {
			http.Error(w, "Failed to store behavior record", http.StatusInternalServerError)
			return
		}
		api.metrics.IncIngested(validate.TypeUserBehavior)
		api.writeJSON(w, http.StatusCreated, stored)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAnomalousBehavior handles GET /behavior/anomalous
func (api *HTTPAPI) handleAnomalousBehavior(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := api.store.AnomalousBehavior()
	if err != nil {
		http.Error(w, "Failed to fetch behavior records", http.StatusInternalServerError)
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"behavior":  records,
		"count":     len(records),
		"timestamp": time.Now().UTC(),
	})
}

// handleAnalyticsBehavior handles GET /analytics/behavior
func (api *HTTPAPI) handleAnalyticsBehavior(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := api.store.RecentBehavior(api.limit(r))
	if err != nil {
		http.Error(w, "Failed to fetch behavior records", http.StatusInternalServerError)
		return
	}

	api.metrics.IncAnalysis("behavior")
	result := engine.DetectUserBehaviorAnomaly(records)

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"analysis":  result,
		"count":     len(records),
		"timestamp": time.Now().UTC(),
	})
}

// handleAnalyticsTraffic handles GET /analytics/traffic
func (api *HTTPAPI) handleAnalyticsTraffic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	packets, err := api.store.RecentPackets(api.limit(r))
	if err != nil {
		http.Error(w, "Failed to fetch packets", http.StatusInternalServerError)
		return
	}

	api.metrics.IncAnalysis("traffic")
	result := engine.DetectNetworkAnomaly(packets)

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"analysis":  result,
		"count":     len(packets),
		"timestamp": time.Now().UTC(),
	})
}

// handleAnalyticsCorrelated handles GET /analytics/correlated
func (api *HTTPAPI) handleAnalyticsCorrelated(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := api.limit(r)
	events, err := api.store.RecentEvents(limit, "")
	if err != nil {
		http.Error(w, "Failed to fetch events", http.StatusInternalServerError)
		return
	}
	indicators, err := api.indicators(limit)
	if err != nil {
		http.Error(w, "Failed to fetch indicators", http.StatusInternalServerError)
		return
	}

	api.metrics.IncAnalysis("correlation")
	correlated := engine.CorrelateThreatEvents(events, indicators)

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"correlated": correlated,
		"count":      len(correlated),
		"timestamp":  time.Now().UTC(),
	})
}

// handleAnalyticsRisk handles GET /analytics/risk
func (api *HTTPAPI) handleAnalyticsRisk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := api.limit(r)
	events, err := api.store.RecentEvents(limit, "")
	if err != nil {
		http.Error(w, "Failed to fetch events", http.StatusInternalServerError)
		return
	}
	behavior, err := api.store.RecentBehavior(limit)
	if err != nil {
		http.Error(w, "Failed to fetch behavior records", http.StatusInternalServerError)
		return
	}
	indicators, err := api.indicators(limit)
	if err != nil {
		http.Error(w, "Failed to fetch indicators", http.StatusInternalServerError)
		return
	}

	api.metrics.IncAnalysis("risk")
	riskScore := engine.GenerateRiskScore(events, behavior, indicators)

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"risk_score": riskScore,
		"timestamp":  time.Now().UTC(),
	})
}

// handleDashboard handles GET /analytics/dashboard
func (api *HTTPAPI) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := api.limit(r)
	events, err := api.store.RecentEvents(limit, "")
	if err != nil {
		http.Error(w, "Failed to fetch events", http.StatusInternalServerError)
		return
	}
	behavior, err := api.store.RecentBehavior(limit)
	if err != nil {
		http.Error(w, "Failed to fetch behavior records", http.StatusInternalServerError)
		return
	}
	anomalous, err := api.store.AnomalousBehavior()
	if err != nil {
		http.Error(w, "Failed to fetch behavior records", http.StatusInternalServerError)
		return
	}
	indicators, err := api.indicators(limit)
	if err != nil {
		http.Error(w, "Failed to fetch indicators", http.StatusInternalServerError)
		return
	}

	// Active offenses are the high and critical events in the window.
	activeOffenses := 0
	eventsLastMinute := 0
	cutoff := time.Now().Add(-time.Minute)
	for _, event := range events {
		if event.Severity == "high" || event.Severity == "critical" {
			activeOffenses++
		}
		if event.Timestamp.After(cutoff) {
			eventsLastMinute++
		}
	}

	riskScore := engine.GenerateRiskScore(events, behavior, indicators)
	api.metrics.RiskScore.Set(riskScore)

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_events":      len(events),
		"active_offenses":   activeOffenses,
		"events_per_second": float64(eventsLastMinute) / 60.0,
		"risk_score":        riskScore,
		"threat_indicators": len(indicators),
		"anomalous_users":   len(anomalous),
		"stats":             api.store.Stats(),
		"timestamp":         time.Now().UTC(),
	})
}

// handleHealth handles GET /healthz
func (api *HTTPAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"stats":     api.store.Stats(),
	})
}

// handleReady handles GET /readyz
func (api *HTTPAPI) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	natsConnected := api.natsConn != nil && api.natsConn.IsConnected()
	api.metrics.SetNatsConnected(natsConnected)

	snapshot := api.feeds.GetSnapshot()
	feedsLoaded := snapshot.Version > 0

	ready := natsConnected && feedsLoaded
	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	api.writeJSON(w, statusCode, map[string]interface{}{
		"status":          status,
		"timestamp":       time.Now().UTC(),
		"nats_connected":  natsConnected,
		"feeds_loaded":    feedsLoaded,
		"indicator_count": len(snapshot.Indicators),
	})
}

// indicators merges stored indicators with the current feed snapshot.
func (api *HTTPAPI) indicators(limit int) ([]model.ThreatIndicator, error) {
	stored, err := api.store.RecentIndicators(limit)
	if err != nil {
		return nil, err
	}
	if api.feeds == nil {
		return stored, nil
	}
	snapshot := api.feeds.GetSnapshot()
	if len(snapshot.Indicators) == 0 {
		return stored, nil
	}
	merged := make([]model.ThreatIndicator, 0, len(stored)+len(snapshot.Indicators))
	merged = append(merged, stored...)
	merged = append(merged, snapshot.Indicators...)
	return merged, nil
}

// limit parses the ?limit= query parameter, falling back to the
// configured window limit.
func (api *HTTPAPI) limit(r *http.Request) int {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return api.windowLimit
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return api.windowLimit
	}
	return limit
}

func (api *HTTPAPI) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	return io.ReadAll(r.Body)
}

func (api *HTTPAPI) writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		api.logger.Error("Failed to encode response", "error", err)
	}
}
