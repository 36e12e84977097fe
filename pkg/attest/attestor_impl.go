package attest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tributary-ai-services/fsmatcher/pkg/types"
)

// defaultAttestor implements the Attestor interface combining signer and cache.
type defaultAttestor struct {
	signer Signer
	cache  Cache
	config *AttestorConfig
	now    func() time.Time

	// serializes the check-then-set on the cache
	mu sync.Mutex
}

// NewAttestor creates a new Attestor with an HMAC signer and memory cache.
func NewAttestor(signingKey []byte, config *AttestorConfig) Attestor {
	return NewAttestorWithComponents(NewHMACSigner(signingKey), NewMemoryCache(), config)
}

// NewAttestorWithComponents creates a new Attestor with provided signer and cache.
func NewAttestorWithComponents(signer Signer, cache Cache, config *AttestorConfig) Attestor {
	if config == nil {
		config = DefaultAttestorConfig()
	}
	return &defaultAttestor{
		signer: signer,
		cache:  cache,
		config: config,
		now:    time.Now,
	}
}

// Attest signs rec and records an attestation for it. If caching is enabled
// and the same content was already reported for the same rules within the
// TTL, the earlier attestation is returned with Duplicate set.
func (a *defaultAttestor) Attest(ctx context.Context, rec *types.SensitiveFile, configVersion string) (*Result, error) {
	if rec == nil {
		return nil, fmt.Errorf("record is nil")
	}

	sig, err := a.signer.Sign(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to sign record: %w", err)
	}
	rec.Signature = sig

	key := RecordKey(rec)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.config.EnableCaching {
		cached, err := a.cache.Get(ctx, key)
		if err == nil && cached != nil {
			return &Result{Attestation: cached, Duplicate: true}, nil
		}
	}

	now := a.now()
	att := &Attestation{
		ID:            uuid.New().String(),
		Key:           key,
		ConfigVersion: configVersion,
		Path:          rec.File.Path,
		RuleIDs:       rec.RuleIDs(),
		ReportedAt:    now,
		ReportedBy:    a.config.ServiceID,
		ExpiresAt:     now.Add(a.config.DefaultTTL),
	}

	if a.config.EnableCaching {
		if err := a.cache.Set(ctx, att); err != nil {
			// Cache failure is non-fatal: the record is reported again next time.
			slog.WarnContext(ctx, "failed to cache attestation",
				slog.String("key", key),
				slog.Any("error", err),
			)
		}
	}

	return &Result{Attestation: att}, nil
}

// Verify checks the record's signature.
func (a *defaultAttestor) Verify(_ context.Context, rec *types.SensitiveFile) error {
	if err := a.signer.Verify(rec); err != nil {
		return fmt.Errorf("record signature invalid: %w", err)
	}
	return nil
}
