// Package pipeline orchestrates the check, attest and report workflow for
// scanner results.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Tributary-ai-services/fsmatcher/pkg/attest"
	"github.com/Tributary-ai-services/fsmatcher/pkg/types"
)

// Processor is the main entry point for result processing
type Processor interface {
	// Process performs the full pipeline for one file:
	// check -> sign -> dedup -> stream
	Process(ctx context.Context, req Request) (*Result, error)

	// Batch processes requests with at most workers running concurrently.
	// Results are returned in request order.
	Batch(ctx context.Context, reqs []Request, workers int) ([]*Result, error)

	// Close releases resources
	Close() error
}

// Checker evaluates a scanner result against the installed rules.
type Checker interface {
	Check(raw []byte, path string) (*types.SensitiveFile, error)
	ConfigVersion() string
}

// Request is one scanner result for one file.
type Request struct {
	Path   string          `json:"path"`
	Result json.RawMessage `json:"result"`
}

// Result contains the output of processing one request
type Result struct {
	Path string `json:"path"`

	// Nil when no rule matched
	Record *types.SensitiveFile `json:"record,omitempty"`

	Attestation *attest.Attestation `json:"attestation,omitempty"`
	Duplicate   bool                `json:"duplicate,omitempty"`
	Streamed    bool                `json:"streamed"`

	// Set by Batch when this request failed; Process returns the error instead.
	Err error `json:"-"`

	Metrics Metrics `json:"metrics"`
}

// Metrics contains performance information
type Metrics struct {
	TotalDuration  time.Duration `json:"total_duration"`
	CheckDuration  time.Duration `json:"check_duration"`
	AttestDuration time.Duration `json:"attest_duration,omitempty"`
	StreamDuration time.Duration `json:"stream_duration,omitempty"`
}

// ProcessorConfig configures the processor
type ProcessorConfig struct {
	// Feature toggles
	EnableAttestation bool `yaml:"enable_attestation" json:"enable_attestation"`
	EnableStreaming   bool `yaml:"enable_streaming" json:"enable_streaming"`

	// Duplicates are still returned but not streamed.
	SuppressDuplicates bool `yaml:"suppress_duplicates" json:"suppress_duplicates"`

	StreamTimeout time.Duration `yaml:"stream_timeout" json:"stream_timeout"`
}

// DefaultProcessorConfig returns default processor configuration
func DefaultProcessorConfig() *ProcessorConfig {
	return &ProcessorConfig{
		EnableAttestation:  true,
		EnableStreaming:    true,
		SuppressDuplicates: true,
		StreamTimeout:      10 * time.Second,
	}
}
