package selector

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/brensch/deccp/internal/work"
)

const (
	// ClientCodeDir is the directory under the output root that mirrors the archive tree.
	ClientCodeDir = "client_code"
	// DefaultTargetSuffix replaces the unit suffix on written files.
	DefaultTargetSuffix = ".py"
	// IntermediateDir holds decompressed payloads when intermediates are kept.
	IntermediateDir = "decompressed"
)

// Decision is the result of the skip check for one entry.
type Decision int

const (
	Keep Decision = iota
	Skip
)

func (d Decision) String() string {
	if d == Skip {
		return "skip"
	}
	return "keep"
}

// Source is the subset of the archive reader the selector needs.
type Source interface {
	Entries() []string
	Read(name string) ([]byte, error)
}

// Selector maps entry names to destination paths and decides which entries still need work.
type Selector struct {
	OutputRoot   string
	TargetSuffix string
}

// New returns a Selector rooted at outputRoot. An empty targetSuffix means DefaultTargetSuffix.
func New(outputRoot, targetSuffix string) Selector {
	if targetSuffix == "" {
		targetSuffix = DefaultTargetSuffix
	}
	return Selector{OutputRoot: outputRoot, TargetSuffix: targetSuffix}
}

// DestinationPath returns <OutputRoot>/client_code/<name with its final suffix replaced>.
// Names that are absolute or climb out of client_code are rejected.
func (s Selector) DestinationPath(name string) (string, error) {
	return s.pathUnder(ClientCodeDir, s.TargetSuffix, name)
}

// IntermediatePath returns <OutputRoot>/decompressed/<name>.pyc, where the decompressed
// payload of name is dumped for debugging.
func (s Selector) IntermediatePath(name string) (string, error) {
	return s.pathUnder(IntermediateDir, ".pyc", name)
}

func (s Selector) pathUnder(dir, suffix, name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("unsafe entry name %q", name)
	}
	if ext := path.Ext(clean); ext != "" {
		clean = strings.TrimSuffix(clean, ext)
	}
	return filepath.Join(s.OutputRoot, dir, filepath.FromSlash(clean+suffix)), nil
}

// Rel returns p relative to the output root for log output, or p itself if that fails.
func (s Selector) Rel(p string) string {
	rel, err := filepath.Rel(s.OutputRoot, p)
	if err != nil {
		return p
	}
	return rel
}

// Select decides whether name needs processing. It only stats the destination.
func (s Selector) Select(name string) (Decision, string, error) {
	dest, err := s.DestinationPath(name)
	if err != nil {
		return Keep, "", err
	}
	info, err := os.Stat(dest)
	if err == nil && info.Mode().IsRegular() {
		return Skip, dest, nil
	}
	return Keep, dest, nil
}

// Plan is the prefetched set of work for one run.
type Plan struct {
	Items    []work.Item
	Skipped  []string          // Entries whose destination already exists
	Rejected map[string]string // Entries that cannot be mapped to a destination, with the reason
}

// Total is the number of unit entries the plan covers.
func (p Plan) Total() int {
	return len(p.Items) + len(p.Skipped) + len(p.Rejected)
}

// Plan applies Select to every entry and reads the payload of each kept entry up front,
// so workers never touch the archive handle. A read failure aborts planning.
func (s Selector) Plan(src Source, logger *slog.Logger) (Plan, error) {
	plan := Plan{Rejected: make(map[string]string)}
	for _, name := range src.Entries() {
		decision, dest, err := s.Select(name)
		if err != nil {
			logger.Warn("Rejecting entry.", slog.String("entry", name), "error", err)
			plan.Rejected[name] = err.Error()
			continue
		}
		if decision == Skip {
			logger.Info("Skip", slog.String("path", s.Rel(dest)))
			plan.Skipped = append(plan.Skipped, name)
			continue
		}
		payload, err := src.Read(name)
		if err != nil {
			return Plan{}, err
		}
		plan.Items = append(plan.Items, work.Item{Name: name, Payload: payload})
	}
	return plan, nil
}
