package nats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/nats-io/nats.go"
)

// Output subjects for analysis results.
const (
	SubjectSnapshot = "analytics.snapshot"
	SubjectFindings = "findings.correlated"
)

const contentEncodingHeader = "x-content-encoding"

// Publisher publishes analysis results to NATS. Payloads above
// minCompressSize are zstd-compressed with a content-encoding header.
type Publisher struct {
	nc              *nats.Conn
	logger          *slog.Logger
	minCompressSize int
	encoder         *zstd.Encoder
}

// NewPublisher creates a publisher. A minCompressSize of zero or less
// disables compression.
func NewPublisher(nc *nats.Conn, minCompressSize int, logger *slog.Logger) (*Publisher, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &Publisher{
		nc:              nc,
		logger:          logger,
		minCompressSize: minCompressSize,
		encoder:         encoder,
	}, nil
}

// Publish serializes payload as JSON and publishes it to subject.
func (p *Publisher) Publish(subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", subject, err)
	}

	msg := nats.NewMsg(subject)
	msg.Header.Set("x-published-at", time.Now().UTC().Format(time.RFC3339))
	msg.Data = data

	if p.minCompressSize > 0 && len(data) >= p.minCompressSize {
		compressed := p.encoder.EncodeAll(data, nil)
		if len(compressed) < len(data) {
			msg.Data = compressed
			msg.Header.Set(contentEncodingHeader, "zstd")
			p.logger.Debug("Compressed payload", "subject", subject, "raw_bytes", len(data), "compressed_bytes", len(compressed))
		}
	}

	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close releases the compression encoder.
func (p *Publisher) Close() {
	p.encoder.Close()
}
