// Package spool watches a scanner drop directory and feeds each result
// envelope through a pipeline.Processor.
//
// An envelope is a JSON file of the form:
//
//	{"path": "/data/report.docx", "result": { ...scanner result... }}
package spool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/Tributary-ai-services/fsmatcher/pkg/pipeline"
)

// ErrInvalidEnvelope is returned for spool files that are not valid envelopes.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Config configures the watcher.
type Config struct {
	Dir             string        `yaml:"dir"`
	Pattern         string        `yaml:"pattern"`
	Workers         int           `yaml:"workers"`
	RemoveProcessed bool          `yaml:"remove_processed"`
	Debounce        time.Duration `yaml:"debounce"`
}

// DefaultConfig returns a Config with the given directory and defaults for
// everything else.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:      dir,
		Pattern:  "*.json",
		Workers:  4,
		Debounce: 200 * time.Millisecond,
	}
}

// ResultHandler is called once per processed envelope. res is nil when err
// is set.
type ResultHandler func(file string, res *pipeline.Result, err error)

// Option configures a Watcher.
type Option func(*Watcher)

// WithResultHandler sets the callback invoked after each envelope.
func WithResultHandler(h ResultHandler) Option {
	return func(w *Watcher) {
		w.onResult = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// Watcher processes envelopes dropped into a directory.
type Watcher struct {
	cfg      Config
	proc     pipeline.Processor
	onResult ResultHandler
	logger   *slog.Logger

	mu       sync.Mutex
	pending  map[string]time.Time // last event per file
	inflight map[string]struct{}
}

// NewWatcher creates a watcher. Zero-valued config fields take their defaults.
func NewWatcher(proc pipeline.Processor, cfg Config, opts ...Option) (*Watcher, error) {
	if proc == nil {
		return nil, errors.New("processor is required")
	}
	if cfg.Dir == "" {
		return nil, errors.New("spool directory is required")
	}

	def := DefaultConfig(cfg.Dir)
	if cfg.Pattern == "" {
		cfg.Pattern = def.Pattern
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if _, err := filepath.Match(cfg.Pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid spool pattern %q: %w", cfg.Pattern, err)
	}

	w := &Watcher{
		cfg:      cfg,
		proc:     proc,
		pending:  make(map[string]time.Time),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Watcher) log() *slog.Logger {
	if w.logger != nil {
		return w.logger
	}
	return slog.Default()
}

// Run watches the spool directory until ctx is done. Envelopes already
// present when Run starts are processed too. Run waits for in-flight
// envelopes before returning.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create spool directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.Dir, err)
	}

	g := new(errgroup.Group)
	g.SetLimit(w.cfg.Workers)
	defer func() { _ = g.Wait() }()

	if err := w.scanExisting(); err != nil {
		return err
	}

	w.log().InfoContext(ctx, "watching spool directory",
		slog.String("dir", w.cfg.Dir),
		slog.String("pattern", w.cfg.Pattern),
		slog.Int("workers", w.cfg.Workers),
	)

	ticker := time.NewTicker(max(w.cfg.Debounce/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !w.matches(event.Name) {
				continue
			}
			w.mu.Lock()
			w.pending[event.Name] = time.Now()
			w.mu.Unlock()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log().WarnContext(ctx, "spool watcher error", slog.Any("error", err))

		case now := <-ticker.C:
			w.dispatch(ctx, g, now)
		}
	}
}

func (w *Watcher) matches(name string) bool {
	ok, _ := filepath.Match(w.cfg.Pattern, filepath.Base(name))
	return ok
}

func (w *Watcher) scanExisting() error {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return fmt.Errorf("read spool directory: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() || !w.matches(e.Name()) {
			continue
		}
		// Zero time: due on the first tick.
		w.pending[filepath.Join(w.cfg.Dir, e.Name())] = time.Time{}
	}
	return nil
}

// dispatch starts workers for files whose last event is older than the
// debounce interval. Files stay pending while all workers are busy.
func (w *Watcher) dispatch(ctx context.Context, g *errgroup.Group, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for file, last := range w.pending {
		if now.Sub(last) < w.cfg.Debounce {
			continue
		}
		if _, busy := w.inflight[file]; busy {
			continue
		}

		started := g.TryGo(func() error {
			w.handle(ctx, file)

			w.mu.Lock()
			delete(w.inflight, file)
			w.mu.Unlock()
			return nil
		})
		if !started {
			return
		}
		w.inflight[file] = struct{}{}
		delete(w.pending, file)
	}
}

func (w *Watcher) handle(ctx context.Context, file string) {
	req, err := ReadEnvelope(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		w.log().WarnContext(ctx, "skipping spool file",
			slog.String("file", file),
			slog.Any("error", err),
		)
		w.report(file, nil, err)
		return
	}

	res, err := w.proc.Process(ctx, req)
	if err != nil {
		w.log().WarnContext(ctx, "failed to process spool file",
			slog.String("file", file),
			slog.String("path", req.Path),
			slog.Any("error", err),
		)
		w.report(file, nil, err)
		return
	}

	w.report(file, res, nil)

	if w.cfg.RemoveProcessed {
		if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.log().WarnContext(ctx, "failed to remove spool file",
				slog.String("file", file),
				slog.Any("error", err),
			)
		}
	}
}

func (w *Watcher) report(file string, res *pipeline.Result, err error) {
	if w.onResult != nil {
		w.onResult(file, res, err)
	}
}

// ReadEnvelope reads and decodes one envelope file.
func ReadEnvelope(file string) (pipeline.Request, error) {
	var req pipeline.Request

	data, err := os.ReadFile(file)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %s: %w", ErrInvalidEnvelope, file, err)
	}
	if req.Path == "" || len(req.Result) == 0 {
		return req, fmt.Errorf("%w: %s: path and result are required", ErrInvalidEnvelope, file)
	}
	return req, nil
}
