package work

import "time"

// Item is one archive entry selected for decompilation.
type Item struct {
	Name    string // Archive-local member name, e.g. "client/ui/main.pyj"
	Payload []byte // Raw (still compressed) member bytes
}

// Outcome is the terminal result of processing one Item.
// Exactly one of Source or Err is meaningful; Failed() tells them apart.
type Outcome struct {
	Name    string
	Source  string        // Recovered source text (success)
	Err     string        // Human-readable failure message (failure)
	Payload []byte        // Decompressed payload, kept for intermediate dumps (optional)
	Elapsed time.Duration // Time spent in the task
	failed  bool
}

// Success builds a successful outcome.
func Success(name, source string) Outcome {
	return Outcome{Name: name, Source: source}
}

// Failure builds a failed outcome. An empty message is replaced with a generic one
// so the error map never carries blank values.
func Failure(name, message string) Outcome {
	if message == "" {
		message = "unknown error"
	}
	return Outcome{Name: name, Err: message, failed: true}
}

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool {
	return o.failed
}

// ErrorMap maps entry names to their failure messages.
type ErrorMap map[string]string
