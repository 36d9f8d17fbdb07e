package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/deccp/internal/selector"
	"github.com/brensch/deccp/internal/work"
)

// Event names handed to the Recorder.
const (
	EventDecompiled = "decompile_end"
	EventError      = "error"
)

// Recorder persists per-entry events. Errors are logged and otherwise ignored.
type Recorder interface {
	LogEntryEvent(ctx context.Context, entry, event, outputPath, message string, duration *time.Duration) error
}

// Options configures optional sink behaviour.
type Options struct {
	KeepIntermediate bool
	Recorder         Recorder
}

// Sink applies outcomes: it writes recovered sources and accumulates failures.
// It is not safe for concurrent use; a single goroutine owns it.
type Sink struct {
	sel    selector.Selector
	opts   Options
	logger *slog.Logger

	errs      work.ErrorMap
	succeeded int
}

// New returns a Sink writing beneath sel.OutputRoot.
func New(sel selector.Selector, logger *slog.Logger, opts Options) *Sink {
	return &Sink{
		sel:    sel,
		opts:   opts,
		logger: logger,
		errs:   make(work.ErrorMap),
	}
}

// Apply performs the terminal effect for one outcome and returns the outcome as applied.
// A success that cannot be written is converted into a failure so every item ends up
// either on disk or in the error map.
func (s *Sink) Apply(ctx context.Context, o work.Outcome) work.Outcome {
	if s.opts.KeepIntermediate && len(o.Payload) > 0 {
		s.writeIntermediate(o)
	}

	if !o.Failed() {
		dest, err := s.write(o)
		if err == nil {
			s.succeeded++
			s.logger.Info("Decompiled", slog.String("path", s.sel.Rel(dest)), slog.Duration("duration", o.Elapsed))
			s.record(ctx, o.Name, EventDecompiled, dest, "", o.Elapsed)
			return o
		}
		failed := work.Failure(o.Name, err.Error())
		failed.Elapsed = o.Elapsed
		o = failed
	}

	s.errs[o.Name] = o.Err
	s.logger.Error("Decompile failed", slog.String("entry", o.Name), slog.String("error", o.Err))
	s.record(ctx, o.Name, EventError, "", o.Err, o.Elapsed)
	return o
}

// Errors returns the accumulated error map. The map is owned by the sink.
func (s *Sink) Errors() work.ErrorMap { return s.errs }

// Succeeded returns the number of sources written.
func (s *Sink) Succeeded() int { return s.succeeded }

func (s *Sink) write(o work.Outcome) (string, error) {
	dest, err := s.sel.DestinationPath(o.Name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(dest, []byte(o.Source), 0o644); err != nil {
		// Never leave a partial file behind: it would be skipped on the next run.
		_ = os.Remove(dest)
		return "", fmt.Errorf("write %s: %w", s.sel.Rel(dest), err)
	}
	return dest, nil
}

func (s *Sink) writeIntermediate(o work.Outcome) {
	p, err := s.sel.IntermediatePath(o.Name)
	if err != nil {
		return
	}
	if err = os.MkdirAll(filepath.Dir(p), 0o755); err == nil {
		err = os.WriteFile(p, o.Payload, 0o644)
	}
	if err != nil {
		s.logger.Warn("Failed to write intermediate payload.", slog.String("entry", o.Name), "error", err)
	}
}

func (s *Sink) record(ctx context.Context, entry, event, outputPath, message string, elapsed time.Duration) {
	if s.opts.Recorder == nil {
		return
	}
	d := elapsed
	if err := s.opts.Recorder.LogEntryEvent(ctx, entry, event, outputPath, message, &d); err != nil {
		s.logger.Warn("Failed to record event.", slog.String("entry", entry), slog.String("event", event), "error", err)
	}
}
