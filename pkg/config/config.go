package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tributary-ai-services/fsmatcher/pkg/attest"
	"github.com/Tributary-ai-services/fsmatcher/pkg/log"
	"github.com/Tributary-ai-services/fsmatcher/pkg/pipeline"
	"github.com/Tributary-ai-services/fsmatcher/pkg/spool"
	"github.com/Tributary-ai-services/fsmatcher/pkg/stream"
)

// Streaming backends.
const (
	BackendKafka = "kafka"
	BackendLocal = "local"
)

// envVarPattern matches ${VAR} and ${VAR:-default} expressions.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Default returns a configuration with every section at its default.
// Matcher documents, the signing key and brokers are left for the caller.
func Default() *Config {
	sc := stream.DefaultStreamerConfig()
	return &Config{
		Service: ServiceConfig{
			ID:          "fsmatcher",
			Environment: "development",
		},
		Attestation: AttestationConfig{
			TTL:   time.Hour,
			Dedup: true,
		},
		Streaming: StreamingConfig{
			Backend:       BackendKafka,
			CriticalLevel: sc.CriticalLevel,
			Timeout:       10 * time.Second,
			Kafka: KafkaConfig{
				Topics: KafkaTopicsConfig{
					Records:  sc.Topics.Records,
					Critical: sc.Topics.Critical,
				},
				Producer: KafkaProducerConfig{
					BatchSize:     sc.BatchSize,
					FlushInterval: sc.FlushInterval,
					Compression:   sc.Compression,
					RequiredAcks:  sc.RequiredAcks,
					MaxRetries:    sc.MaxRetries,
					RetryBackoff:  sc.RetryBackoff,
				},
			},
		},
		Spool: SpoolConfig{
			Pattern:  "*.json",
			Workers:  4,
			Debounce: 200 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
			File:   log.EngineFileConfig(""),
		},
	}
}

// LoadConfig reads a YAML config file, performs environment variable
// substitution on the raw bytes, then unmarshals over [Default].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	data = substituteEnvVars(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns in content
// with the corresponding environment variable values. If a variable is not
// set and no default is provided, the expression is replaced with an empty
// string.
func substituteEnvVars(content []byte) []byte {
	return envVarPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		groups := envVarPattern.FindSubmatch(match)
		if groups == nil {
			return match
		}

		val, ok := os.LookupEnv(string(groups[1]))
		if ok && val != "" {
			return []byte(val)
		}
		// groups[2] is nil when there is no ":-" default
		if groups[2] != nil {
			return groups[2]
		}
		return []byte("")
	})
}

// Validate performs basic validation on a loaded Config. It checks that
// required fields are set and that values are within expected ranges.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Service.ID == "" {
		return fmt.Errorf("service.id is required")
	}

	if cfg.Matcher.RulesFile == "" {
		return fmt.Errorf("matcher.rules_file is required")
	}
	if cfg.Matcher.FormatsFile == "" {
		return fmt.Errorf("matcher.formats_file is required")
	}

	if cfg.Attestation.Enabled {
		if cfg.Attestation.SigningKey == "" {
			return fmt.Errorf("attestation.signing_key is required when attestation is enabled")
		}
		if cfg.Attestation.TTL < 0 {
			return fmt.Errorf("attestation.ttl must be non-negative, got %v", cfg.Attestation.TTL)
		}
	}

	switch cfg.Streaming.Backend {
	case "", BackendKafka, BackendLocal:
	default:
		return fmt.Errorf("streaming.backend %q is not valid; must be one of: kafka, local", cfg.Streaming.Backend)
	}
	if cfg.Streaming.Enabled && cfg.Streaming.Backend != BackendLocal {
		if len(cfg.Streaming.Kafka.Brokers) == 0 {
			return fmt.Errorf("streaming.kafka.brokers is required when streaming is enabled")
		}
		if cfg.Streaming.Kafka.Topics.Records == "" {
			return fmt.Errorf("streaming.kafka.topics.records is required when streaming is enabled")
		}
	}
	if cfg.Streaming.CriticalLevel < 0 {
		return fmt.Errorf("streaming.critical_level must be non-negative, got %d", cfg.Streaming.CriticalLevel)
	}

	switch cfg.Streaming.Kafka.Producer.Compression {
	case "", "none", "gzip", "snappy", "lz4":
	default:
		return fmt.Errorf("streaming.kafka.producer.compression %q is not valid; must be one of: none, gzip, snappy, lz4",
			cfg.Streaming.Kafka.Producer.Compression)
	}
	switch cfg.Streaming.Kafka.Producer.RequiredAcks {
	case "", "none", "leader", "all":
	default:
		return fmt.Errorf("streaming.kafka.producer.required_acks %q is not valid; must be one of: none, leader, all",
			cfg.Streaming.Kafka.Producer.RequiredAcks)
	}

	if cfg.Spool.Workers < 0 {
		return fmt.Errorf("spool.workers must be non-negative, got %d", cfg.Spool.Workers)
	}

	if level := cfg.Logging.Level; level != "" {
		if _, err := log.GetLevel(level); err != nil {
			return fmt.Errorf("logging.level %q is not valid: %w", level, err)
		}
	}
	if format := cfg.Logging.Format; format != "" {
		if _, err := log.GetFormat(format); err != nil {
			return fmt.Errorf("logging.format %q is not valid: %w", format, err)
		}
	}
	switch cfg.Logging.Output {
	case "", "stderr", "stdout":
	case "file":
		if cfg.Logging.File.Path == "" {
			return fmt.Errorf("logging.file.path is required when logging.output is file")
		}
	default:
		return fmt.Errorf("logging.output %q is not valid; must be one of: stderr, stdout, file", cfg.Logging.Output)
	}

	return nil
}

// StreamerConfig converts the streaming section to a [stream.StreamerConfig].
func (c *Config) StreamerConfig() *stream.StreamerConfig {
	k := c.Streaming.Kafka
	return &stream.StreamerConfig{
		Brokers: k.Brokers,
		Topics: stream.Topics{
			Records:  k.Topics.Records,
			Critical: k.Topics.Critical,
		},
		CriticalLevel: c.Streaming.CriticalLevel,
		BatchSize:     k.Producer.BatchSize,
		FlushInterval: k.Producer.FlushInterval,
		Compression:   k.Producer.Compression,
		RequiredAcks:  k.Producer.RequiredAcks,
		MaxRetries:    k.Producer.MaxRetries,
		RetryBackoff:  k.Producer.RetryBackoff,
	}
}

// AttestorConfig converts the attestation section to an [attest.AttestorConfig].
func (c *Config) AttestorConfig() *attest.AttestorConfig {
	return &attest.AttestorConfig{
		ServiceID:     c.Service.ID,
		DefaultTTL:    c.Attestation.TTL,
		EnableCaching: c.Attestation.Dedup,
	}
}

// ProcessorConfig derives the pipeline settings.
func (c *Config) ProcessorConfig() *pipeline.ProcessorConfig {
	return &pipeline.ProcessorConfig{
		EnableAttestation:  c.Attestation.Enabled,
		EnableStreaming:    c.Streaming.Enabled,
		SuppressDuplicates: c.Attestation.Dedup,
		StreamTimeout:      c.Streaming.Timeout,
	}
}

// SpoolConfig converts the spool section to a [spool.Config].
func (c *Config) SpoolConfig() spool.Config {
	return spool.Config{
		Dir:             c.Spool.Dir,
		Pattern:         c.Spool.Pattern,
		Workers:         c.Spool.Workers,
		RemoveProcessed: c.Spool.RemoveProcessed,
		Debounce:        c.Spool.Debounce,
	}
}
