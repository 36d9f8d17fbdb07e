package app

import (
	"fmt"
	"time"

	"github.com/brensch/deccp/internal/orchestrator"
)

// Entry statuses shown in the progress table.
const (
	StatusDecompiling = "Decompiling"
	StatusComplete    = "Complete"
	StatusSkipped     = "Skipped"
	StatusError       = "Error"
)

// --- Progress Messages ---

// ProgressMsg updates the overall progress bar.
type ProgressMsg struct {
	Tag      string // Identifier for the overall task
	Current  int64  // Entries applied so far
	Total    int64  // Entries queued
	Activity string // Short description of current activity (optional)
}

// FileProgressMsg updates the row of a single archive entry.
type FileProgressMsg struct {
	FileID      string        // Entry name
	FileName    string        // Display name
	Status      string        // One of the Status* constants
	ElapsedTime time.Duration // Time taken for this entry
	ErrMsg      string        // Error message if Status is StatusError
}

// TaskFinishedMsg signals the end of the run.
type TaskFinishedMsg struct {
	Tag       string
	Err       error
	Summary   orchestrator.Summary
	StartTime time.Time
	EndTime   time.Time
	Message   string
}

// GeneralErrorMsg signals an error that is not tied to a specific entry.
type GeneralErrorMsg struct {
	Err error
}

func NewProgress(tag string, current, total int64, activity string) ProgressMsg {
	return ProgressMsg{Tag: tag, Current: current, Total: total, Activity: activity}
}

func NewFileProgress(fileID, fileName, status string, elapsed time.Duration, errMsg string) FileProgressMsg {
	return FileProgressMsg{
		FileID:      fileID,
		FileName:    fileName,
		Status:      status,
		ElapsedTime: elapsed,
		ErrMsg:      errMsg,
	}
}

func NewTaskFinished(tag string, start time.Time, summary orchestrator.Summary, err error, msg string) TaskFinishedMsg {
	return TaskFinishedMsg{
		Tag:       tag,
		StartTime: start,
		EndTime:   time.Now(),
		Summary:   summary,
		Err:       err,
		Message:   msg,
	}
}

func NewError(err error) GeneralErrorMsg {
	return GeneralErrorMsg{Err: err}
}

func (e GeneralErrorMsg) Error() string {
	return e.Err.Error()
}

func (t TaskFinishedMsg) Error() string {
	if t.Err != nil {
		return t.Err.Error()
	}
	return ""
}

func (p ProgressMsg) String() string {
	return fmt.Sprintf("Progress %s: %d/%d", p.Tag, p.Current, p.Total)
}
func (fp FileProgressMsg) String() string {
	return fmt.Sprintf("FileProgress %s: %s", fp.FileID, fp.Status)
}
func (tf TaskFinishedMsg) String() string { return fmt.Sprintf("TaskFinished %s", tf.Tag) }
func (ge GeneralErrorMsg) String() string { return fmt.Sprintf("GeneralError: %s", ge.Err) }
