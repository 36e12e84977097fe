package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Tributary-ai-services/fsmatcher/pkg/attest"
	"github.com/Tributary-ai-services/fsmatcher/pkg/config"
	"github.com/Tributary-ai-services/fsmatcher/pkg/log"
	"github.com/Tributary-ai-services/fsmatcher/pkg/matcher"
	"github.com/Tributary-ai-services/fsmatcher/pkg/pipeline"
	"github.com/Tributary-ai-services/fsmatcher/pkg/rules"
	"github.com/Tributary-ai-services/fsmatcher/pkg/schema"
	"github.com/Tributary-ai-services/fsmatcher/pkg/stream"
)

// loadEngine reads the rule set and format map from disk and returns an
// initialized engine. With strict set both documents must pass schema
// validation.
func loadEngine(rulesPath, formatsPath string, strict bool, logger *slog.Logger) (*matcher.Engine, error) {
	var v rules.DocumentValidator
	if strict {
		docs, err := schema.NewDocuments()
		if err != nil {
			return nil, err
		}
		v = docs
	}

	rs, fm, err := rules.LoadFiles(rulesPath, formatsPath, v)
	if err != nil {
		return nil, err
	}

	store := rules.NewStore()
	if err := store.Init(rs, fm); err != nil {
		return nil, err
	}

	logger.Debug("rules loaded",
		slog.String("config_version", rs.ConfigVersion),
		slog.Int("rules", len(rs.Rules)),
		slog.Int("formats", len(fm.Format)),
	)

	return matcher.NewEngine(store, logger)
}

// app holds the components built from a service configuration.
type app struct {
	cfg    *config.Config
	engine *matcher.Engine
	proc   pipeline.Processor
	logger *slog.Logger

	closers []io.Closer
}

// newApp wires logging, the engine, the attestor and the Kafka streamer
// according to cfg. stderr and stdout are the command's writers.
func newApp(cfg *config.Config, stderr, stdout io.Writer) (*app, error) {
	a := &app{cfg: cfg}

	logger, err := a.setupLogging(stderr, stdout)
	if err != nil {
		return nil, err
	}
	a.logger = logger

	engine, err := loadEngine(cfg.Matcher.RulesFile, cfg.Matcher.FormatsFile, cfg.Matcher.StrictSchema, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.engine = engine

	opts := []pipeline.ProcessorOption{
		pipeline.WithConfig(cfg.ProcessorConfig()),
		pipeline.WithLogger(logger),
	}

	if cfg.Attestation.Enabled {
		opts = append(opts, pipeline.WithAttestor(
			attest.NewAttestor([]byte(cfg.Attestation.SigningKey), cfg.AttestorConfig()),
		))
	}

	if cfg.Streaming.Enabled {
		s, err := a.newStreamer()
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		opts = append(opts, pipeline.WithStreamer(s))
	}

	a.proc = pipeline.NewProcessor(engine, opts...)

	logger.Info("fsmatcher ready",
		slog.String("service", cfg.Service.ID),
		slog.String("environment", cfg.Service.Environment),
		slog.String("config_version", engine.ConfigVersion()),
		slog.Bool("attestation", cfg.Attestation.Enabled),
		slog.Bool("streaming", cfg.Streaming.Enabled),
	)

	return a, nil
}

// newStreamer builds the configured streaming backend. The local backend
// logs every routed event instead of publishing it.
//
//nolint:ireturn // Streamer is the pipeline's contract.
func (a *app) newStreamer() (stream.Streamer, error) {
	if a.cfg.Streaming.Backend != config.BackendLocal {
		ks, err := stream.NewKafkaStreamer(a.cfg.StreamerConfig())
		if err != nil {
			return nil, fmt.Errorf("kafka streamer: %w", err)
		}
		return ks, nil
	}

	ls := stream.NewLocalStreamer(a.cfg.StreamerConfig())
	ls.OnPublish(func(topic string, event stream.Event) {
		a.logger.Info("event published",
			slog.String("topic", topic),
			slog.String("event_id", event.ID),
			slog.String("path", event.Record.File.Path),
			slog.Int("max_level", int(event.Record.MaxLevel())),
			slog.Bool("attested", event.Attestation != ""),
		)
	})
	return ls, nil
}

func (a *app) setupLogging(stderr, stdout io.Writer) (*slog.Logger, error) {
	lc := a.cfg.Logging

	level, err := log.GetLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	format, err := log.GetFormat(lc.Format)
	if err != nil {
		return nil, fmt.Errorf("logging.format: %w", err)
	}

	switch lc.Output {
	case "file":
		closer, err := log.Setup(lc.File, level, format)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closer)
	case "stdout":
		slog.SetDefault(slog.New(log.CreateHandler(stdout, level, format)))
	default:
		slog.SetDefault(slog.New(log.CreateHandler(stderr, level, format)))
	}

	return slog.Default().With(slog.String("service", a.cfg.Service.ID)), nil
}

// Close shuts down the processor and then the log file.
func (a *app) Close() error {
	var errs []error
	if a.proc != nil {
		errs = append(errs, a.proc.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}
