package analyser

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/brensch/deccp/internal/db"
)

func seed(t *testing.T) *db.EventLog {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	ev := db.NewEventLog(conn)
	fast, slow, total := 5*time.Millisecond, 900*time.Millisecond, 2*time.Second
	ev.LogRunEvent(ctx, db.EventRunStart, "", nil)
	ev.LogEntryEvent(ctx, "a.pyj", db.EventDecompileEnd, "/o/a.py", "", &fast)
	ev.LogEntryEvent(ctx, "c.pyj", db.EventDecompileEnd, "/o/c.py", "", &slow)
	ev.LogEntryEvent(ctx, "b.pyj", db.EventError, "", "boom", &fast)
	ev.LogEntryEvent(ctx, "d.pyj", db.EventSkip, "", "output exists", nil)
	ev.LogRunEvent(ctx, db.EventRunEnd, "", &total)
	return ev
}

func TestRunStats(t *testing.T) {
	ev := seed(t)
	stats, err := RunStats(context.Background(), ev.DB, 0)
	if err != nil {
		t.Fatalf("RunStats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 run, got %d", len(stats))
	}
	s := stats[0]
	if s.RunID != ev.RunID || s.Succeeded != 2 || s.Failed != 1 || s.Skipped != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
	if !s.Duration.Valid || s.Duration.Int64 != 2000 {
		t.Errorf("expected 2000ms run duration, got %+v", s.Duration)
	}
}

func TestSlowestEntries(t *testing.T) {
	ev := seed(t)
	got, err := SlowestEntries(context.Background(), ev.DB, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Entry != "c.pyj" || got[0].DurationMs != 900 {
		t.Errorf("slowest = %+v", got)
	}
}

func TestRunAnalysisOutput(t *testing.T) {
	ev := seed(t)
	var buf bytes.Buffer
	if err := RunAnalysis(context.Background(), ev.DB, &buf, 10, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{ev.RunID, "2s", "900ms  c.pyj"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
