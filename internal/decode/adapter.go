package decode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brensch/deccp/internal/work"
)

// Decompiler reconstructs source text from a decompressed bytecode payload.
// Implementations must be safe for concurrent use.
type Decompiler interface {
	Decompile(ctx context.Context, payload []byte, name string) (string, error)
}

// DecompilerFunc adapts a function to the Decompiler interface.
type DecompilerFunc func(ctx context.Context, payload []byte, name string) (string, error)

func (f DecompilerFunc) Decompile(ctx context.Context, payload []byte, name string) (string, error) {
	return f(ctx, payload, name)
}

// DecodeError wraps a failure reported by the decompiler, keeping its diagnostic text.
type DecodeError struct {
	Name       string
	Diagnostic string
	Err        error
}

func (e *DecodeError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("decompile %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("decompile %s: %v: %s", e.Name, e.Err, e.Diagnostic)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Diagnosable is implemented by decompiler errors that carry extra diagnostic output.
type Diagnosable interface {
	Diagnostic() string
}

// Adapter turns one work item into exactly one outcome. It never returns an error.
type Adapter struct {
	Decompiler Decompiler
	ScanZlib   bool
	Timeout    time.Duration // Per-item bound on the decompiler call; zero disables it
	Logger     *slog.Logger
}

// Decode inflates the payload and hands it to the decompiler.
func (a *Adapter) Decode(ctx context.Context, item work.Item) work.Outcome {
	l := a.logger().With(slog.String("entry", item.Name))

	data, off, err := Inflate(item.Payload, a.ScanZlib)
	if err != nil {
		return work.Failure(item.Name, (&DecompressionError{Name: item.Name, Err: err}).Error())
	}
	if off > 0 {
		l.Debug("Found zlib stream past leading bytes.", slog.Int("offset", off))
	} else {
		l.Debug("Direct zlib decompression successful.", slog.Int("bytes", len(data)))
	}

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	source, err := a.Decompiler.Decompile(ctx, data, item.Name)
	if err != nil {
		derr := &DecodeError{Name: item.Name, Err: err}
		var d Diagnosable
		if errors.As(err, &d) {
			derr.Diagnostic = strings.TrimSpace(d.Diagnostic())
		}
		out := work.Failure(item.Name, derr.Error())
		out.Payload = data
		return out
	}

	out := work.Success(item.Name, source)
	out.Payload = data
	return out
}

func (a *Adapter) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}
