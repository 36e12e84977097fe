// Package config provides configuration loading and validation for the
// fsmatcher service. It supports YAML configuration files with environment
// variable substitution.
package config

import (
	"time"

	"github.com/Tributary-ai-services/fsmatcher/pkg/log"
)

// Config is the top-level configuration structure mirroring fsmatcher.yaml.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Matcher     MatcherConfig     `yaml:"matcher"`
	Attestation AttestationConfig `yaml:"attestation"`
	Streaming   StreamingConfig   `yaml:"streaming"`
	Spool       SpoolConfig       `yaml:"spool"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServiceConfig holds service identification metadata.
type ServiceConfig struct {
	ID          string `yaml:"id"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// MatcherConfig locates the rule set and format map documents.
type MatcherConfig struct {
	RulesFile   string `yaml:"rules_file"`
	FormatsFile string `yaml:"formats_file"`

	// Validate both documents against their JSON schemas before loading.
	StrictSchema bool `yaml:"strict_schema"`
}

// AttestationConfig holds record signing and deduplication settings.
type AttestationConfig struct {
	Enabled    bool          `yaml:"enabled"`
	SigningKey string        `yaml:"signing_key"`
	TTL        time.Duration `yaml:"ttl"`
	Dedup      bool          `yaml:"dedup"`
}

// StreamingConfig holds Kafka streaming settings.
type StreamingConfig struct {
	Enabled bool `yaml:"enabled"`
	// "kafka", or "local" to log events in-process instead of publishing
	Backend       string        `yaml:"backend"`
	CriticalLevel int32         `yaml:"critical_level"`
	Timeout       time.Duration `yaml:"timeout"`
	Kafka         KafkaConfig   `yaml:"kafka"`
}

// KafkaConfig holds Kafka connection and producer settings.
type KafkaConfig struct {
	Brokers  []string            `yaml:"brokers"`
	Topics   KafkaTopicsConfig   `yaml:"topics"`
	Producer KafkaProducerConfig `yaml:"producer"`
}

// KafkaTopicsConfig maps topic names to Kafka topic strings.
type KafkaTopicsConfig struct {
	Records  string `yaml:"records"`
	Critical string `yaml:"critical"`
}

// KafkaProducerConfig holds Kafka producer settings.
type KafkaProducerConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Compression   string        `yaml:"compression"`
	RequiredAcks  string        `yaml:"required_acks"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// SpoolConfig holds drop-directory watcher settings.
type SpoolConfig struct {
	Dir             string        `yaml:"dir"`
	Pattern         string        `yaml:"pattern"`
	Workers         int           `yaml:"workers"`
	RemoveProcessed bool          `yaml:"remove_processed"`
	Debounce        time.Duration `yaml:"debounce"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string         `yaml:"level"`
	Format string         `yaml:"format"`
	Output string         `yaml:"output"` // "stderr", "stdout" or "file"
	File   log.FileConfig `yaml:"file"`
}
