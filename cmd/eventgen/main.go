// Command eventgen publishes randomized security records to NATS for
// demos and load testing.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opswatch/opswatch/internal/model"
	natstransport "github.com/opswatch/opswatch/internal/nats"
)

var (
	platforms  = []string{"qradar", "splunk", "elk", "wireshark", "alienvault"}
	severities = []string{"low", "medium", "high", "critical"}
	eventTypes = []string{"login_failure", "port_scan", "malware_detected", "policy_violation", "intrusion_attempt", "data_exfiltration"}
	protocols  = []string{"TCP", "UDP", "ICMP", "HTTP", "DNS"}
	actions    = []string{"login", "logout", "file_access", "file_download", "privilege_escalation", "config_change"}
	users      = []string{"alice", "bob", "carol", "dave", "mallory"}
	threats    = []string{"botnet", "phishing", "ransomware", "c2", "scanner"}
)

func main() {
	natsURL := getEnv("OPSWATCH_NATS_URL", "nats://localhost:4222")
	ratePerSec := getEnvInt("EVENTGEN_RATE", 10)
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	total := getEnvInt("EVENTGEN_COUNT", 0) // 0 means run until interrupted

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	nc, err := nats.Connect(natsURL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	logger.Info("Starting event generator", "nats_url", natsURL, "rate_per_sec", ratePerSec, "count", total)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(ratePerSec))
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-sigChan:
			logger.Info("Event generator stopped", "sent", sent)
			return
		case <-ticker.C:
			subject, payload := randomRecord()
			data, err := json.Marshal(payload)
			if err != nil {
				logger.Error("Failed to marshal record", "error", err)
				continue
			}
			if err := nc.Publish(subject, data); err != nil {
				logger.Error("Failed to publish record", "subject", subject, "error", err)
				continue
			}
			sent++
			if total > 0 && sent >= total {
				if err := nc.Flush(); err != nil {
					logger.Error("Failed to flush", "error", err)
				}
				logger.Info("Event generator finished", "sent", sent)
				return
			}
		}
	}
}

// randomRecord picks a record type and generates a plausible payload.
func randomRecord() (string, interface{}) {
	switch rand.Intn(4) {
	case 0:
		return natstransport.SubjectSecurityEvents, randomEvent()
	case 1:
		return natstransport.SubjectNetworkPackets, randomPacket()
	case 2:
		return natstransport.SubjectUserBehavior, randomBehavior()
	default:
		return natstransport.SubjectThreatIndicator, randomIndicator()
	}
}

func randomEvent() model.SecurityEvent {
	eventType := pick(eventTypes)
	return model.SecurityEvent{
		Timestamp:   time.Now().UTC(),
		Source:      randomIP(),
		Destination: randomIP(),
		EventType:   eventType,
		Severity:    pick(severities),
		Protocol:    pick(protocols),
		Port:        rand.Intn(65535),
		Message:     fmt.Sprintf("%s detected", eventType),
		Platform:    pick(platforms),
	}
}

func randomPacket() model.NetworkPacket {
	size := 64 + rand.Intn(1400)
	// Occasionally emit an oversized packet to light up the analyzer.
	if rand.Intn(20) == 0 {
		size = 10000 + rand.Intn(50000)
	}
	return model.NetworkPacket{
		Timestamp:       time.Now().UTC(),
		SourceIP:        randomIP(),
		DestinationIP:   randomIP(),
		SourcePort:      1024 + rand.Intn(64000),
		DestinationPort: rand.Intn(65535),
		Protocol:        pick(protocols),
		PacketSize:      size,
	}
}

func randomBehavior() model.UserBehaviorRecord {
	return model.UserBehaviorRecord{
		UserID:       pick(users),
		Action:       pick(actions),
		Timestamp:    time.Now().UTC(),
		SourceIP:     randomIP(),
		DeviceInfo:   "eventgen",
		AnomalyScore: rand.Intn(101),
	}
}

func randomIndicator() model.ThreatIndicator {
	return model.ThreatIndicator{
		Indicator:     randomIP(),
		IndicatorType: "ip",
		ThreatType:    pick(threats),
		Severity:      pick(severities),
		Confidence:    50 + rand.Intn(51),
		Source:        "eventgen",
		FirstSeen:     time.Now().UTC(),
		LastSeen:      time.Now().UTC(),
	}
}

func randomIP() string {
	return fmt.Sprintf("10.%d.%d.%d", rand.Intn(256), rand.Intn(256), rand.Intn(256))
}

func pick(values []string) string {
	return values[rand.Intn(len(values))]
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
