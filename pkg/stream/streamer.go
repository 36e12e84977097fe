// Package stream publishes sensitive-file records to downstream consumers.
package stream

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Tributary-ai-services/fsmatcher/pkg/types"
)

// Streamer publishes record events
type Streamer interface {
	// Stream publishes events
	Stream(ctx context.Context, events []Event) error

	// Close flushes pending messages and closes the connection
	Close() error
}

// Event wraps a sensitive-file record for publishing.
type Event struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	ConfigVersion string    `json:"config_version"`

	Record *types.SensitiveFile `json:"record"`

	// Encoded attestation, sent as a message header rather than in the body
	Attestation string `json:"-"`
}

// NewEvent creates an event for rec with a fresh ID.
func NewEvent(rec *types.SensitiveFile, configVersion string) Event {
	return Event{
		ID:            uuid.New().String(),
		Timestamp:     time.Now().UTC(),
		ConfigVersion: configVersion,
		Record:        rec,
	}
}

// StreamerConfig configures the streamer
type StreamerConfig struct {
	// Kafka settings
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topics  Topics   `yaml:"topics" json:"topics"`

	// Records whose highest rule level is at least this also go to Topics.Critical.
	// Zero disables critical routing.
	CriticalLevel int32 `yaml:"critical_level" json:"critical_level"`

	// Producer settings
	BatchSize     int           `yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
	Compression   string        `yaml:"compression" json:"compression"`     // "none", "gzip", "snappy", "lz4"
	RequiredAcks  string        `yaml:"required_acks" json:"required_acks"` // "none", "leader", "all"

	// Retry settings
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
}

// Topics defines Kafka topics
type Topics struct {
	Records  string `yaml:"records" json:"records"`   // every record
	Critical string `yaml:"critical" json:"critical"` // high-level records only
}

// DefaultStreamerConfig returns default streamer configuration
func DefaultStreamerConfig() *StreamerConfig {
	return &StreamerConfig{
		Brokers: []string{"localhost:9092"},
		Topics: Topics{
			Records:  "fsmatcher.records",
			Critical: "fsmatcher.records.critical",
		},
		CriticalLevel: 3,
		BatchSize:     100,
		FlushInterval: time.Second,
		Compression:   "snappy",
		RequiredAcks:  "all",
		MaxRetries:    3,
		RetryBackoff:  100 * time.Millisecond,
	}
}
