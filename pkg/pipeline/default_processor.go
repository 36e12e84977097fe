package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Tributary-ai-services/fsmatcher/pkg/attest"
	"github.com/Tributary-ai-services/fsmatcher/pkg/stream"
)

// defaultProcessor implements the Processor interface.
type defaultProcessor struct {
	checker  Checker
	attestor attest.Attestor
	streamer stream.Streamer
	config   *ProcessorConfig
	logger   *slog.Logger
}

var _ Processor = (*defaultProcessor)(nil)

// ProcessorOption is a functional option for configuring a defaultProcessor.
type ProcessorOption func(*defaultProcessor)

// WithAttestor sets the attestor on the processor.
func WithAttestor(a attest.Attestor) ProcessorOption {
	return func(p *defaultProcessor) {
		p.attestor = a
	}
}

// WithStreamer sets the streamer on the processor.
func WithStreamer(s stream.Streamer) ProcessorOption {
	return func(p *defaultProcessor) {
		p.streamer = s
	}
}

// WithConfig sets the processor configuration.
func WithConfig(cfg *ProcessorConfig) ProcessorOption {
	return func(p *defaultProcessor) {
		if cfg != nil {
			p.config = cfg
		}
	}
}

// WithLogger sets the logger used for non-fatal failures.
func WithLogger(l *slog.Logger) ProcessorOption {
	return func(p *defaultProcessor) {
		p.logger = l
	}
}

// NewProcessor creates a new Processor around checker.
// The checker is required; all other components are optional.
func NewProcessor(checker Checker, opts ...ProcessorOption) Processor {
	p := &defaultProcessor{
		checker: checker,
		config:  DefaultProcessorConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *defaultProcessor) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// Process checks one scanner result. Attestation and streaming failures are
// logged and do not fail the request; check failures do.
func (p *defaultProcessor) Process(ctx context.Context, req Request) (*Result, error) {
	startTime := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Path: req.Path}

	// Step 1: Match
	rec, err := p.checker.Check(req.Result, req.Path)
	result.Metrics.CheckDuration = time.Since(startTime)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", req.Path, err)
	}
	if rec == nil {
		result.Metrics.TotalDuration = time.Since(startTime)
		return result, nil
	}
	result.Record = rec

	version := p.checker.ConfigVersion()

	// Step 2: Sign and dedup
	if p.config.EnableAttestation && p.attestor != nil {
		attestStart := time.Now()

		res, err := p.attestor.Attest(ctx, rec, version)
		if err != nil {
			p.log().WarnContext(ctx, "failed to attest record",
				slog.String("path", req.Path),
				slog.Any("error", err),
			)
		} else {
			result.Attestation = res.Attestation
			result.Duplicate = res.Duplicate
		}

		result.Metrics.AttestDuration = time.Since(attestStart)
	}

	// Step 3: Stream
	if p.config.EnableStreaming && p.streamer != nil && !(result.Duplicate && p.config.SuppressDuplicates) {
		streamStart := time.Now()

		event := stream.NewEvent(rec, version)
		if result.Attestation != nil {
			if enc, err := attest.EncodeAttestation(result.Attestation); err == nil {
				event.Attestation = enc
			}
		}

		streamCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.config.StreamTimeout > 0 {
			streamCtx, cancel = context.WithTimeout(ctx, p.config.StreamTimeout)
		}
		err := p.streamer.Stream(streamCtx, []stream.Event{event})
		cancel()

		if err != nil {
			p.log().WarnContext(ctx, "failed to stream record",
				slog.String("path", req.Path),
				slog.String("event_id", event.ID),
				slog.Any("error", err),
			)
		} else {
			result.Streamed = true
		}

		result.Metrics.StreamDuration = time.Since(streamStart)
	}

	result.Metrics.TotalDuration = time.Since(startTime)

	return result, nil
}

// Batch processes reqs concurrently. A failing request is reported in its
// Result.Err and does not stop the others; Batch itself only fails when ctx
// is done.
func (p *defaultProcessor) Batch(ctx context.Context, reqs []Request, workers int) ([]*Result, error) {
	if workers <= 0 {
		workers = 1
	}

	results := make([]*Result, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, req := range reqs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := p.Process(gctx, req)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
					return err
				}
				res = &Result{Path: req.Path, Err: err}
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// Close releases resources held by the processor's sub-components.
func (p *defaultProcessor) Close() error {
	if p.streamer != nil {
		if err := p.streamer.Close(); err != nil {
			return fmt.Errorf("streamer close: %w", err)
		}
	}
	return nil
}
