package export

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/deccp/internal/db"
)

// EventRow is the parquet layout of one event log record.
type EventRow struct {
	LogID       int64  `parquet:"name=log_id, type=INT64"`
	RunID       string `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Entry       string `parquet:"name=entry, type=BYTE_ARRAY, convertedtype=UTF8"`
	Event       string `parquet:"name=event, type=BYTE_ARRAY, convertedtype=UTF8"`
	TimestampMs int64  `parquet:"name=event_timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	OutputPath  string `parquet:"name=output_path, type=BYTE_ARRAY, convertedtype=UTF8"`
	Message     string `parquet:"name=message, type=BYTE_ARRAY, convertedtype=UTF8"`
	DurationMs  *int64 `parquet:"name=duration_ms, type=INT64, repetitiontype=OPTIONAL"`
}

// NewEventRow converts an event log record.
func NewEventRow(ev db.Event) EventRow {
	row := EventRow{
		LogID:       ev.LogID,
		RunID:       ev.RunID,
		Entry:       ev.Entry,
		Event:       ev.Event,
		TimestampMs: ev.Timestamp.UnixMilli(),
		OutputPath:  ev.OutputPath,
		Message:     ev.Message,
	}
	if ev.DurationMs.Valid {
		d := ev.DurationMs.Int64
		row.DurationMs = &d
	}
	return row
}

// EventsToParquet writes events to a snappy-compressed parquet file at path.
func EventsToParquet(events []db.Event, path string, logger *slog.Logger) (err error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create parquet file %s: %w", path, err)
	}
	defer func() {
		if closeErr := fw.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close parquet file %s: %w", path, closeErr))
		}
	}()

	pw, err := writer.NewParquetWriter(fw, new(EventRow), 4)
	if err != nil {
		return fmt.Errorf("create parquet writer %s: %w", path, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, ev := range events {
		if writeErr := pw.Write(NewEventRow(ev)); writeErr != nil {
			err = errors.Join(err, fmt.Errorf("write event %d: %w", ev.LogID, writeErr))
		}
	}
	if stopErr := pw.WriteStop(); stopErr != nil {
		return errors.Join(err, fmt.Errorf("finalize parquet file %s: %w", path, stopErr))
	}
	logger.Info("Exported event log.", slog.String("path", path), slog.Int("rows", len(events)))
	return err
}
