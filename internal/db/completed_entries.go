package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// GetCompletedEntries queries the database for archive entries that have been
// decompiled successfully by any earlier run.
// Returns a map where keys are entry names (for fast lookups) and a potential error.
func GetCompletedEntries(ctx context.Context, dbConnPool *sql.DB, logger *slog.Logger) (map[string]bool, error) {
	logger.Debug("Querying database for completed entries (event='decompile_end')...")
	completed := make(map[string]bool)

	query := `
		SELECT DISTINCT entry
		FROM deccp_event_log
		WHERE event = ?;
	`
	rows, err := dbConnPool.QueryContext(ctx, query, EventDecompileEnd)
	if err != nil {
		logger.Error("Failed to query for completed entries", "error", err, "event", EventDecompileEnd)
		return nil, fmt.Errorf("query completed entries: %w", err)
	}
	defer rows.Close()

	var scanErrors error
	for rows.Next() {
		var entry string
		if err := rows.Scan(&entry); err != nil {
			logger.Error("Failed to scan completed entry", "error", err)
			scanErrors = errors.Join(scanErrors, fmt.Errorf("scan completed entry: %w", err))
			continue
		}
		if entry != "" {
			completed[entry] = true
		}
	}

	if err := rows.Err(); err != nil {
		logger.Error("Error iterating over completed entry query results", "error", err)
		scanErrors = errors.Join(scanErrors, fmt.Errorf("iterate completed entries: %w", err))
		return completed, scanErrors
	}

	logger.Debug("Found completed entries in DB.", slog.Int("count", len(completed)))
	return completed, scanErrors
}
