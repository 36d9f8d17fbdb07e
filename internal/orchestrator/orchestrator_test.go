package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zlib"

	"github.com/brensch/deccp/internal/archive"
	"github.com/brensch/deccp/internal/config"
	"github.com/brensch/deccp/internal/db"
	"github.com/brensch/deccp/internal/report"
	"github.com/brensch/deccp/internal/work"
)

type member struct {
	name string
	data []byte
}

func deflate(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeArchive(t *testing.T, dir string, members []member) string {
	t.Helper()
	path := filepath.Join(dir, "code.ccp")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for _, m := range members {
		w, err := zw.Create(m.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(m.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

// echoDecompiler returns the decompressed payload as source and counts calls per entry.
type echoDecompiler struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newEcho() *echoDecompiler {
	return &echoDecompiler{calls: make(map[string]int), fail: make(map[string]error)}
}

func (d *echoDecompiler) Decompile(_ context.Context, payload []byte, name string) (string, error) {
	d.mu.Lock()
	d.calls[name]++
	err := d.fail[name]
	d.mu.Unlock()
	if err != nil {
		return "", err
	}
	return "# " + string(payload) + "\n", nil
}

func (d *echoDecompiler) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		n += c
	}
	return n
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scenario(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	path := writeArchive(t, dir, []member{
		{"a.pyj", deflate(t, "a")},
		{"b.pyj", []byte("this is not zlib")},
		{"notes.txt", []byte("ignored")},
		{"c.pyj", deflate(t, "c")},
	})
	cfg := config.Default()
	cfg.Archive = path
	cfg.Jobs = 2
	return cfg, dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestRunDecompileScenario(t *testing.T) {
	cfg, dir := scenario(t)
	dec := newEcho()

	summary, err := RunDecompile(context.Background(), cfg, Deps{Decompiler: dec}, discard())
	if err != nil {
		t.Fatalf("RunDecompile: %v", err)
	}

	if got := readFile(t, filepath.Join(dir, "client_code", "a.py")); got != "# a\n" {
		t.Errorf("a.py = %q", got)
	}
	if got := readFile(t, filepath.Join(dir, "client_code", "c.py")); got != "# c\n" {
		t.Errorf("c.py = %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "client_code", "b.py")); !os.IsNotExist(err) {
		t.Error("b.py must not exist")
	}

	errs, err := report.Load(filepath.Join(dir, report.ErrorsFileName))
	if err != nil {
		t.Fatalf("load report: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error, got %v", errs)
	}
	if msg := errs["b.pyj"]; !strings.HasPrefix(msg, "decompress b.pyj:") {
		t.Errorf("b.pyj message = %q", msg)
	}
	if dec.calls["b.pyj"] != 0 {
		t.Error("decompiler must not be called for undecompressable entries")
	}

	if summary.Total != 3 || summary.Succeeded != 2 || summary.Failed != 1 || summary.Skipped != 0 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.ErrorsPath != filepath.Join(dir, report.ErrorsFileName) {
		t.Errorf("ErrorsPath = %q", summary.ErrorsPath)
	}
	if summary.RunID == "" {
		t.Error("expected a run id")
	}
}

func TestRunDecompileIdempotent(t *testing.T) {
	cfg, dir := scenario(t)
	if _, err := RunDecompile(context.Background(), cfg, Deps{Decompiler: newEcho()}, discard()); err != nil {
		t.Fatal(err)
	}
	aPath := filepath.Join(dir, "client_code", "a.py")
	before, _ := os.Stat(aPath)

	dec := newEcho()
	summary, err := RunDecompile(context.Background(), cfg, Deps{Decompiler: dec}, discard())
	if err != nil {
		t.Fatal(err)
	}
	if dec.calls["a.pyj"] != 0 || dec.calls["c.pyj"] != 0 {
		t.Errorf("second run re-decompiled finished entries: %v", dec.calls)
	}
	if summary.Skipped != 2 || summary.Failed != 1 {
		t.Errorf("unexpected second-run summary %+v", summary)
	}
	after, _ := os.Stat(aPath)
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("existing output was rewritten")
	}
	errs, _ := report.Load(filepath.Join(dir, report.ErrorsFileName))
	if _, ok := errs["b.pyj"]; !ok || len(errs) != 1 {
		t.Errorf("second-run report = %v", errs)
	}
}

func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(p) == ".ccp" {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[rel] = string(data)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestRunDecompileWidthInvariance(t *testing.T) {
	members := make([]member, 0, 40)
	for i := 0; i < 40; i++ {
		name := fmt.Sprintf("pkg%d/mod%02d.pyj", i%4, i)
		data := deflate(t, name)
		if i%7 == 0 {
			data = []byte("corrupt")
		}
		members = append(members, member{name, data})
	}

	var results []map[string]string
	for _, jobs := range []int{1, 8} {
		dir := t.TempDir()
		cfg := config.Default()
		cfg.Archive = writeArchive(t, dir, members)
		cfg.Jobs = jobs
		if _, err := RunDecompile(context.Background(), cfg, Deps{Decompiler: newEcho()}, discard()); err != nil {
			t.Fatalf("jobs=%d: %v", jobs, err)
		}
		results = append(results, snapshot(t, dir))
	}

	if len(results[0]) != len(results[1]) {
		t.Fatalf("file sets differ: %d vs %d files", len(results[0]), len(results[1]))
	}
	for k, v := range results[0] {
		if results[1][k] != v {
			t.Errorf("%s differs between widths", k)
		}
	}
}

func TestRunDecompileSkipsExistingOutput(t *testing.T) {
	cfg, dir := scenario(t)
	existing := filepath.Join(dir, "client_code", "a.py")
	if err := os.MkdirAll(filepath.Dir(existing), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(existing, []byte("hand written"), 0o644); err != nil {
		t.Fatal(err)
	}

	dec := newEcho()
	if _, err := RunDecompile(context.Background(), cfg, Deps{Decompiler: dec}, discard()); err != nil {
		t.Fatal(err)
	}
	if dec.calls["a.pyj"] != 0 {
		t.Error("decompiler called for an entry with existing output")
	}
	if dec.calls["c.pyj"] != 1 {
		t.Errorf("expected c.pyj decompiled once, got %d", dec.calls["c.pyj"])
	}
	if got := readFile(t, existing); got != "hand written" {
		t.Errorf("existing output modified: %q", got)
	}
}

func TestRunDecompileNoFailuresWritesNoReport(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Archive = writeArchive(t, dir, []member{{"a.pyj", deflate(t, "a")}, {"b.pyj", deflate(t, "b")}})

	summary, err := RunDecompile(context.Background(), cfg, Deps{Decompiler: newEcho()}, discard())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, report.ErrorsFileName)); !os.IsNotExist(err) {
		t.Error("diagnostic file must not exist after a clean run")
	}
	if summary.ErrorsPath != "" || summary.Failed != 0 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestRunDecompileNothingToDo(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Archive = writeArchive(t, dir, []member{{"readme.txt", []byte("x")}})

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	dec := newEcho()
	summary, err := RunDecompile(context.Background(), cfg, Deps{Decompiler: dec}, logger)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Total != 0 || dec.total() != 0 {
		t.Errorf("expected empty run, got %+v with %d calls", summary, dec.total())
	}
	if !strings.Contains(logs.String(), "Nothing to do.") {
		t.Errorf("expected 'Nothing to do.' log, got:\n%s", logs.String())
	}
}

func TestRunDecompileDecompilerError(t *testing.T) {
	cfg, dir := scenario(t)
	dec := newEcho()
	dec.fail["c.pyj"] = errors.New("unsupported opcode 0x99")

	summary, err := RunDecompile(context.Background(), cfg, Deps{Decompiler: dec}, discard())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 2 {
		t.Errorf("expected 2 failures, got %d", summary.Failed)
	}
	errs, _ := report.Load(filepath.Join(dir, report.ErrorsFileName))
	if msg := errs["c.pyj"]; !strings.Contains(msg, "unsupported opcode 0x99") {
		t.Errorf("c.pyj message = %q", msg)
	}
}

func TestRunDecompileArchiveErrorIsFatal(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Archive = filepath.Join(dir, "code.ccp")
	if err := os.WriteFile(cfg.Archive, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	dec := newEcho()

	_, err := RunDecompile(context.Background(), cfg, Deps{Decompiler: dec}, discard())
	var aerr *archive.Error
	if !errors.As(err, &aerr) {
		t.Fatalf("expected *archive.Error, got %v", err)
	}
	if dec.total() != 0 {
		t.Error("no work may be scheduled after an archive error")
	}
	if _, err := os.Stat(filepath.Join(dir, "client_code")); !os.IsNotExist(err) {
		t.Error("no output may be created after an archive error")
	}
}

func TestRunDecompileOutputDefaultsToArchiveDir(t *testing.T) {
	archiveDir := t.TempDir()
	outDir := t.TempDir()
	cfg := config.Default()
	cfg.Archive = writeArchive(t, archiveDir, []member{{"a.pyj", deflate(t, "a")}})

	if _, err := RunDecompile(context.Background(), cfg, Deps{Decompiler: newEcho()}, discard()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(archiveDir, "client_code", "a.py")); err != nil {
		t.Errorf("expected output next to archive: %v", err)
	}

	cfg.OutputDir = outDir
	if _, err := RunDecompile(context.Background(), cfg, Deps{Decompiler: newEcho()}, discard()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "client_code", "a.py")); err != nil {
		t.Errorf("expected output under -o root: %v", err)
	}
}

type memRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *memRecorder) LogEntryEvent(_ context.Context, entry, event, _, _ string, _ *time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event+":"+entry)
	return nil
}

type memHistory map[string]bool

func (h memHistory) CompletedEntries(context.Context, *slog.Logger) (map[string]bool, error) {
	return h, nil
}

type memObserver struct {
	total, queued int
	skipped       []string
	applied       []string
	finished      *Summary

	mu      sync.Mutex
	started []string
}

func (o *memObserver) Planned(total int, skipped []string, queued int) {
	o.total, o.skipped, o.queued = total, skipped, queued
}
func (o *memObserver) Started(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, name)
}
func (o *memObserver) Applied(out work.Outcome) { o.applied = append(o.applied, out.Name) }
func (o *memObserver) Finished(s Summary)       { o.finished = &s }

func TestRunDecompileRecorderHistoryAndObserver(t *testing.T) {
	cfg, dir := scenario(t)
	existing := filepath.Join(dir, "client_code", "a.py")
	os.MkdirAll(filepath.Dir(existing), 0o755)
	os.WriteFile(existing, []byte("x"), 0o644)

	rec := &memRecorder{}
	obs := &memObserver{}
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	deps := Deps{
		Decompiler: newEcho(),
		Recorder:   rec,
		History:    memHistory{"c.pyj": true},
		Observer:   obs,
		RunID:      "run00001",
	}

	summary, err := RunDecompile(context.Background(), cfg, deps, logger)
	if err != nil {
		t.Fatal(err)
	}
	if summary.RunID != "run00001" {
		t.Errorf("RunID = %q", summary.RunID)
	}

	sort.Strings(rec.events)
	want := []string{
		db.EventDecompileEnd + ":c.pyj",
		db.EventError + ":b.pyj",
		db.EventRunEnd + ":" + db.RunEntry,
		db.EventRunStart + ":" + db.RunEntry,
		db.EventSkip + ":a.pyj",
	}
	if strings.Join(rec.events, ",") != strings.Join(want, ",") {
		t.Errorf("recorded events = %v, want %v", rec.events, want)
	}

	if obs.total != 3 || len(obs.skipped) != 1 || obs.skipped[0] != "a.pyj" || obs.queued != 2 {
		t.Errorf("Planned(%d, %v, %d)", obs.total, obs.skipped, obs.queued)
	}
	sort.Strings(obs.started)
	if strings.Join(obs.started, ",") != "b.pyj,c.pyj" {
		t.Errorf("started = %v", obs.started)
	}
	if len(obs.applied) != 2 {
		t.Errorf("applied = %v", obs.applied)
	}
	if obs.finished == nil || obs.finished.Failed != 1 {
		t.Errorf("finished = %+v", obs.finished)
	}
	if !strings.Contains(logs.String(), "Output from an earlier run is missing") {
		t.Error("expected warning for entry whose earlier output disappeared")
	}
}
