// Package attest signs sensitive-file records and suppresses repeated
// reports of the same content and rule combination.
package attest

import (
	"context"
	"time"

	"github.com/Tributary-ai-services/fsmatcher/pkg/types"
)

// Attestation records that a file's content was reported for a set of rules.
type Attestation struct {
	ID            string    `json:"id"`
	Key           string    `json:"key"` // sha256|rule ids
	ConfigVersion string    `json:"config_version"`
	Path          string    `json:"path"`
	RuleIDs       []int32   `json:"rule_ids"`
	ReportedAt    time.Time `json:"reported_at"`
	ReportedBy    string    `json:"reported_by"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Result is the outcome of attesting a record.
type Result struct {
	Attestation *Attestation
	// Duplicate is set when an unexpired attestation for the same key
	// already existed; Attestation is then the earlier one.
	Duplicate bool
}

// Attestor signs records and tracks which ones were already reported.
type Attestor interface {
	// Attest signs rec in place and records it.
	Attest(ctx context.Context, rec *types.SensitiveFile, configVersion string) (*Result, error)

	// Verify checks the signature carried by rec.
	Verify(ctx context.Context, rec *types.SensitiveFile) error
}

// Signer signs records using HMAC
type Signer interface {
	// Sign computes the signature of rec.
	Sign(rec *types.SensitiveFile) (string, error)

	// Verify checks rec.Signature.
	Verify(rec *types.SensitiveFile) error
}

// Cache caches attestations by key.
type Cache interface {
	// Get returns the attestation for key, or nil if absent or expired.
	Get(ctx context.Context, key string) (*Attestation, error)

	Set(ctx context.Context, attestation *Attestation) error

	Delete(ctx context.Context, key string) error
}

// AttestorConfig configures the attestor
type AttestorConfig struct {
	ServiceID     string        `json:"service_id"`
	DefaultTTL    time.Duration `json:"default_ttl"`
	EnableCaching bool          `json:"enable_caching"`
}

// DefaultAttestorConfig returns default attestor configuration
func DefaultAttestorConfig() *AttestorConfig {
	return &AttestorConfig{
		ServiceID:     "fsmatcher",
		DefaultTTL:    time.Hour,
		EnableCaching: true,
	}
}

// HeaderAttestation is the message header carrying an encoded attestation.
const HeaderAttestation = "X-FSM-Attestation"
