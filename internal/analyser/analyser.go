package analyser

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/brensch/deccp/internal/db"
)

// RunStat aggregates the events of one run.
type RunStat struct {
	RunID     string
	Started   time.Time
	Succeeded int64
	Failed    int64
	Skipped   int64
	Duration  sql.NullInt64 // From the run_end event, in ms
}

// EntryTiming is one decompiled entry and how long it took.
type EntryTiming struct {
	RunID      string
	Entry      string
	DurationMs int64
}

// RunStats returns per-run counts, newest run first.
func RunStats(ctx context.Context, conn *sql.DB, limit int) ([]RunStat, error) {
	query := fmt.Sprintf(`
		SELECT
			run_id,
			MIN(event_timestamp) AS started,
			COUNT(*) FILTER (WHERE event = '%s') AS succeeded,
			COUNT(*) FILTER (WHERE event = '%s') AS failed,
			COUNT(*) FILTER (WHERE event = '%s') AS skipped,
			MAX(duration_ms) FILTER (WHERE event = '%s') AS duration_ms
		FROM deccp_event_log
		GROUP BY run_id
		ORDER BY started DESC
	`, db.EventDecompileEnd, db.EventError, db.EventSkip, db.EventRunEnd)
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query run statistics: %w", err)
	}
	defer rows.Close()

	var stats []RunStat
	for rows.Next() {
		var s RunStat
		if err := rows.Scan(&s.RunID, &s.Started, &s.Succeeded, &s.Failed, &s.Skipped, &s.Duration); err != nil {
			return nil, fmt.Errorf("scan run statistics: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// SlowestEntries returns the n slowest successful decompiles across all runs.
func SlowestEntries(ctx context.Context, conn *sql.DB, n int) ([]EntryTiming, error) {
	query := `
		SELECT run_id, entry, duration_ms
		FROM deccp_event_log
		WHERE event = ? AND duration_ms IS NOT NULL
		ORDER BY duration_ms DESC, entry
		LIMIT ?
	`
	rows, err := conn.QueryContext(ctx, query, db.EventDecompileEnd, n)
	if err != nil {
		return nil, fmt.Errorf("query slowest entries: %w", err)
	}
	defer rows.Close()

	var out []EntryTiming
	for rows.Next() {
		var e EntryTiming
		if err := rows.Scan(&e.RunID, &e.Entry, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("scan slowest entries: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RunAnalysis prints run statistics and the slowest entries to w.
func RunAnalysis(ctx context.Context, conn *sql.DB, w io.Writer, limit int, logger *slog.Logger) error {
	logger.Debug("Querying run statistics.", slog.Int("limit", limit))
	stats, err := RunStats(ctx, conn, limit)
	if err != nil {
		return err
	}
	slowest, err := SlowestEntries(ctx, conn, 10)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "--- Runs ---")
	fmt.Fprintf(w, "%-8s | %-25s | %-10s | %-8s | %-8s | %s\n", "Run", "Started (UTC)", "Decompiled", "Failed", "Skipped", "Duration")
	fmt.Fprintln(w, strings.Repeat("-", 85))
	for _, s := range stats {
		dur := "running?"
		if s.Duration.Valid {
			dur = (time.Duration(s.Duration.Int64) * time.Millisecond).String()
		}
		fmt.Fprintf(w, "%-8s | %-25s | %-10d | %-8d | %-8d | %s\n",
			s.RunID, s.Started.UTC().Format(time.RFC3339), s.Succeeded, s.Failed, s.Skipped, dur)
	}

	fmt.Fprintln(w, "\n--- Slowest entries ---")
	for _, e := range slowest {
		fmt.Fprintf(w, "%10s  %s (run %s)\n", time.Duration(e.DurationMs)*time.Millisecond, e.Entry, e.RunID)
	}
	return nil
}
