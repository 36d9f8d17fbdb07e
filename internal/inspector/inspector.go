package inspector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// fileSummary holds what InspectParquet learned about one exported event log file.
type fileSummary struct {
	path          string
	schema        string
	columnNames   []string
	totalRowCount int64
	minTimestamp  sql.NullTime
	maxTimestamp  sql.NullTime
	eventCounts   map[string]int64
	schemaErr     error
	statsErr      error
}

// InspectParquet summarizes event log Parquet files written by the export command:
// schema, row count, time range and a count per event type.
func InspectParquet(ctx context.Context, conn *sql.DB, w io.Writer, paths []string, logger *slog.Logger) error {
	logger.Debug("Loading Parquet extension.")
	if _, err := conn.ExecContext(ctx, `LOAD parquet;`); err != nil {
		logger.Warn("Failed load parquet extension.", "error", err)
	}

	var summaries []*fileSummary
	for _, p := range paths {
		l := logger.With(slog.String("file", p))
		s := &fileSummary{path: p, eventCounts: make(map[string]int64)}
		summaries = append(summaries, s)

		s.schema, s.columnNames, s.schemaErr = getSchemaAndColumns(ctx, conn, p)
		if s.schemaErr != nil {
			l.Error("Failed getting schema", "error", s.schemaErr)
			continue
		}
		s.statsErr = collectStats(ctx, conn, s)
		if s.statsErr != nil {
			l.Error("Failed getting statistics", "error", s.statsErr)
			continue
		}
		l.Debug("Statistics gathered.", slog.Int64("total_rows", s.totalRowCount))
	}

	var finalErr error
	for _, s := range summaries {
		fmt.Fprintf(w, "\n=== %s ===\n", s.path)
		switch {
		case s.schemaErr != nil:
			fmt.Fprintf(w, "    ERROR retrieving schema: %v\n", s.schemaErr)
		default:
			fmt.Fprintln(w, "  Schema:")
			for _, line := range strings.Split(s.schema, "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
		if s.statsErr != nil {
			fmt.Fprintf(w, "    ERROR retrieving statistics: %v\n", s.statsErr)
		} else if s.schemaErr == nil {
			fmt.Fprintf(w, "  Total Rows: %d\n", s.totalRowCount)
			fmt.Fprintf(w, "  Time Range (UTC): %s .. %s\n", formatTime(s.minTimestamp), formatTime(s.maxTimestamp))
			events := make([]string, 0, len(s.eventCounts))
			for ev := range s.eventCounts {
				events = append(events, ev)
			}
			sort.Strings(events)
			for _, ev := range events {
				fmt.Fprintf(w, "    %-15s %d\n", ev, s.eventCounts[ev])
			}
		}
		finalErr = errors.Join(finalErr, s.schemaErr, s.statsErr)
	}
	if finalErr != nil {
		logger.Warn("Inspection completed with errors.", "error", finalErr)
	}
	return finalErr
}

func formatTime(t sql.NullTime) string {
	if !t.Valid {
		return "N/A"
	}
	return t.Time.UTC().Format(time.RFC3339)
}

func quotePath(filePath string) string {
	p := strings.ReplaceAll(filePath, `\`, `/`)
	return "'" + strings.ReplaceAll(p, "'", "''") + "'"
}

func collectStats(ctx context.Context, conn *sql.DB, s *fileSummary) error {
	src := fmt.Sprintf("read_parquet(%s)", quotePath(s.path))
	statsSQL := fmt.Sprintf(`SELECT COUNT(*), MIN(event_timestamp), MAX(event_timestamp) FROM %s;`, src)
	if err := conn.QueryRowContext(ctx, statsSQL).Scan(&s.totalRowCount, &s.minTimestamp, &s.maxTimestamp); err != nil {
		return fmt.Errorf("query stats for %s: %w", s.path, err)
	}

	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`SELECT event, COUNT(*) FROM %s GROUP BY event;`, src))
	if err != nil {
		return fmt.Errorf("query event counts for %s: %w", s.path, err)
	}
	defer rows.Close()
	for rows.Next() {
		var ev string
		var n int64
		if err := rows.Scan(&ev, &n); err != nil {
			return fmt.Errorf("scan event counts for %s: %w", s.path, err)
		}
		s.eventCounts[ev] = n
	}
	return rows.Err()
}

func getSchemaAndColumns(ctx context.Context, conn *sql.DB, filePath string) (schemaString string, columnNames []string, err error) {
	describeSQL := fmt.Sprintf("DESCRIBE SELECT * FROM read_parquet(%s);", quotePath(filePath))
	schemaRows, err := conn.QueryContext(ctx, describeSQL)
	if err != nil {
		return "", nil, fmt.Errorf("query schema for %s: %w", filePath, err)
	}
	defer schemaRows.Close()

	var schemaBuilder strings.Builder
	schemaBuilder.WriteString(fmt.Sprintf("%-20s | %-20s | %s\n", "Column Name", "Column Type", "Null"))
	schemaBuilder.WriteString(strings.Repeat("-", 50) + "\n")
	for schemaRows.Next() {
		var colName, colType, nullVal, keyVal, defaultVal, extraVal sql.NullString
		if scanErr := schemaRows.Scan(&colName, &colType, &nullVal, &keyVal, &defaultVal, &extraVal); scanErr != nil {
			return "", nil, fmt.Errorf("scan schema row for %s: %w", filePath, scanErr)
		}
		schemaBuilder.WriteString(fmt.Sprintf("%-20s | %-20s | %s\n", colName.String, colType.String, nullVal.String))
		if colName.Valid {
			columnNames = append(columnNames, colName.String)
		}
	}
	if err = schemaRows.Err(); err != nil {
		return "", nil, fmt.Errorf("iterate schema rows for %s: %w", filePath, err)
	}
	if len(columnNames) == 0 {
		return "", nil, fmt.Errorf("no columns found in %s", filePath)
	}
	return strings.TrimRight(schemaBuilder.String(), "\n"), columnNames, nil
}
