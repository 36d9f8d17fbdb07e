package export

import (
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/brensch/deccp/internal/db"
)

func TestEventsToParquetRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	events := []db.Event{
		{LogID: 1, RunID: "abcd1234", Entry: "a.pyj", Event: db.EventDecompileEnd, Timestamp: ts, OutputPath: "/out/client_code/a.py", DurationMs: sql.NullInt64{Int64: 42, Valid: true}},
		{LogID: 2, RunID: "abcd1234", Entry: "b.pyj", Event: db.EventError, Timestamp: ts.Add(time.Second), Message: "decompress b.pyj: bad"},
	}
	path := filepath.Join(t.TempDir(), "events.parquet")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := EventsToParquet(events, path, logger); err != nil {
		t.Fatalf("EventsToParquet: %v", err)
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(EventRow), 1)
	if err != nil {
		t.Fatalf("parquet reader: %v", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	if n != len(events) {
		t.Fatalf("row count = %d, want %d", n, len(events))
	}
	rows := make([]EventRow, n)
	if err := pr.Read(&rows); err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if rows[0].Entry != "a.pyj" || rows[0].DurationMs == nil || *rows[0].DurationMs != 42 {
		t.Errorf("first row = %+v", rows[0])
	}
	if rows[1].DurationMs != nil {
		t.Errorf("expected null duration for second row, got %d", *rows[1].DurationMs)
	}
	if rows[1].TimestampMs != ts.Add(time.Second).UnixMilli() {
		t.Errorf("timestamp = %d", rows[1].TimestampMs)
	}
}

func TestNewEventRowNullDuration(t *testing.T) {
	row := NewEventRow(db.Event{Entry: "x.pyj"})
	if row.DurationMs != nil {
		t.Error("expected nil duration")
	}
}
