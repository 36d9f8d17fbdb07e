package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strings"
)

// DefaultCommand is the decompiler invocation used when none is configured.
// {file} is replaced with the path of a temporary file holding the payload.
const DefaultCommand = "uncompyle6 {file}"

const filePlaceholder = "{file}"

// ExecError is returned when the decompiler process fails.
type ExecError struct {
	Err    error
	Stderr string
}

func (e *ExecError) Error() string { return e.Err.Error() }

func (e *ExecError) Unwrap() error { return e.Err }

func (e *ExecError) Diagnostic() string { return e.Stderr }

// ExecDecompiler runs an external decompiler once per payload and returns its stdout.
type ExecDecompiler struct {
	Args    []string // argv, with {file} placeholders
	TempDir string   // Where payload files are staged; empty means os.TempDir()
}

// NewExecDecompiler parses a whitespace separated command template.
// If the template has no {file} placeholder the payload path is appended.
func NewExecDecompiler(command string) (*ExecDecompiler, error) {
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	args := strings.Fields(command)
	if !strings.Contains(command, filePlaceholder) {
		args = append(args, filePlaceholder)
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("decompiler %q: %w", args[0], err)
	}
	return &ExecDecompiler{Args: args}, nil
}

// Decompile stages payload as <tmp>/deccp-*-<base>.pyc and runs the command on it.
func (d *ExecDecompiler) Decompile(ctx context.Context, payload []byte, name string) (string, error) {
	base := strings.TrimSuffix(path.Base(name), path.Ext(name))
	f, err := os.CreateTemp(d.TempDir, "deccp-*-"+sanitize(base)+".pyc")
	if err != nil {
		return "", fmt.Errorf("stage payload: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(payload); err != nil {
		f.Close()
		return "", fmt.Errorf("stage payload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("stage payload: %w", err)
	}

	argv := make([]string, len(d.Args))
	for i, a := range d.Args {
		argv[i] = strings.ReplaceAll(a, filePlaceholder, tmp)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		return "", &ExecError{Err: fmt.Errorf("%s: %w", argv[0], err), Stderr: stderr.String()}
	}
	return stdout.String(), nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, s)
}
