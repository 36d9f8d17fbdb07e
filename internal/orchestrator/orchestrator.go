package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brensch/deccp/internal/archive"
	"github.com/brensch/deccp/internal/config"
	"github.com/brensch/deccp/internal/db"
	"github.com/brensch/deccp/internal/decode"
	"github.com/brensch/deccp/internal/pool"
	"github.com/brensch/deccp/internal/report"
	"github.com/brensch/deccp/internal/selector"
	"github.com/brensch/deccp/internal/sink"
	"github.com/brensch/deccp/internal/work"
)

// Observer receives progress notifications. Started is called from pool workers and
// may run concurrently; the other calls come from the goroutine running RunDecompile.
type Observer interface {
	Planned(total int, skipped []string, queued int)
	Started(name string)
	Applied(o work.Outcome)
	Finished(s Summary)
}

// History reports entries decompiled by earlier runs.
type History interface {
	CompletedEntries(ctx context.Context, logger *slog.Logger) (map[string]bool, error)
}

// Deps are the collaborators of a run. Only Decompiler is required.
type Deps struct {
	Decompiler decode.Decompiler
	Recorder   sink.Recorder
	History    History
	Observer   Observer
	RunID      string
}

// Summary describes a finished run.
type Summary struct {
	RunID      string
	Total      int
	Skipped    int
	Succeeded  int
	Failed     int
	ErrorsPath string
	Duration   time.Duration
}

// RunDecompile processes every unit entry of cfg.Archive that has no output yet.
// Only archive and finalize errors are returned; per-entry failures end up in the
// error report.
func RunDecompile(ctx context.Context, cfg *config.Config, deps Deps, logger *slog.Logger) (Summary, error) {
	start := time.Now()
	if deps.Decompiler == nil {
		return Summary{}, errors.New("no decompiler configured")
	}
	if deps.RunID == "" {
		deps.RunID = db.NewRunID()
	}
	summary := Summary{RunID: deps.RunID}
	outputRoot := cfg.ResolveOutputDir()
	logger = logger.With(slog.String("run_id", deps.RunID))

	reader, err := archive.Open(cfg.Archive, cfg.UnitSuffix)
	if err != nil {
		return summary, err
	}
	defer reader.Close()

	sel := selector.New(outputRoot, cfg.TargetSuffix)
	plan, err := sel.Plan(reader, logger)
	if err != nil {
		return summary, err
	}
	// The payloads are in memory now; release the archive before the pool starts.
	if err := reader.Close(); err != nil {
		logger.Warn("Failed to close archive.", "error", err)
	}

	summary.Total = plan.Total()
	summary.Skipped = len(plan.Skipped)
	record(ctx, deps.Recorder, logger, db.RunEntry, db.EventRunStart, "",
		fmt.Sprintf("archive=%s entries=%d queued=%d", cfg.Archive, summary.Total, len(plan.Items)), nil)
	for _, name := range plan.Skipped {
		record(ctx, deps.Recorder, logger, name, db.EventSkip, "", "output exists", nil)
	}
	warnMissingOutputs(ctx, deps.History, plan.Items, logger)
	if deps.Observer != nil {
		deps.Observer.Planned(summary.Total, plan.Skipped, len(plan.Items)+len(plan.Rejected))
	}

	if len(plan.Items) == 0 && len(plan.Rejected) == 0 {
		logger.Info("Nothing to do.")
		return finish(ctx, deps, summary, start, logger), nil
	}

	s := sink.New(sel, logger, sink.Options{
		KeepIntermediate: cfg.KeepIntermediate,
		Recorder:         deps.Recorder,
	})
	apply := func(o work.Outcome) {
		applied := s.Apply(ctx, o)
		if deps.Observer != nil {
			deps.Observer.Applied(applied)
		}
	}

	for _, name := range report.Names(plan.Rejected) {
		apply(work.Failure(name, plan.Rejected[name]))
	}

	adapter := &decode.Adapter{
		Decompiler: deps.Decompiler,
		ScanZlib:   cfg.ScanZlib,
		Timeout:    cfg.ItemTimeout,
		Logger:     logger,
	}
	task := pool.Task(adapter.Decode)
	if obs := deps.Observer; obs != nil {
		task = func(ctx context.Context, item work.Item) work.Outcome {
			obs.Started(item.Name)
			return adapter.Decode(ctx, item)
		}
	}
	logger.Info("Decompiling entries.", slog.Int("queued", len(plan.Items)), slog.Int("workers", cfg.Jobs))
	for o := range pool.Run(ctx, plan.Items, cfg.Jobs, task) {
		apply(o)
	}

	summary.Succeeded = s.Succeeded()
	summary.Failed = len(s.Errors())
	path, err := report.Finalize(s.Errors(), outputRoot)
	if err != nil {
		return finish(ctx, deps, summary, start, logger), err
	}
	if path != "" {
		summary.ErrorsPath = path
		logger.Info("Wrote errors", slog.String("path", sel.Rel(path)), slog.Int("count", summary.Failed))
	}
	return finish(ctx, deps, summary, start, logger), nil
}

func finish(ctx context.Context, deps Deps, summary Summary, start time.Time, logger *slog.Logger) Summary {
	summary.Duration = time.Since(start)
	record(ctx, deps.Recorder, logger, db.RunEntry, db.EventRunEnd, "",
		fmt.Sprintf("succeeded=%d failed=%d skipped=%d", summary.Succeeded, summary.Failed, summary.Skipped), &summary.Duration)
	logger.Info("Run finished.",
		slog.Int("total", summary.Total),
		slog.Int("skipped", summary.Skipped),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", summary.Duration),
	)
	if deps.Observer != nil {
		deps.Observer.Finished(summary)
	}
	return summary
}

// warnMissingOutputs flags entries the event log says were decompiled before but whose
// output has since disappeared. The filesystem stays authoritative: they are redone.
func warnMissingOutputs(ctx context.Context, h History, items []work.Item, logger *slog.Logger) {
	if h == nil || len(items) == 0 {
		return
	}
	completed, err := h.CompletedEntries(ctx, logger)
	if err != nil {
		logger.Warn("Failed to read event history.", "error", err)
	}
	for _, it := range items {
		if completed[it.Name] {
			logger.Warn("Output from an earlier run is missing, decompiling again.", slog.String("entry", it.Name))
		}
	}
}

func record(ctx context.Context, r sink.Recorder, logger *slog.Logger, entry, event, outputPath, message string, d *time.Duration) {
	if r == nil {
		return
	}
	if err := r.LogEntryEvent(ctx, entry, event, outputPath, message, d); err != nil {
		logger.Warn("Failed to record event.", slog.String("entry", entry), slog.String("event", event), "error", err)
	}
}
