package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/brensch/deccp/internal/work"
)

// ErrorsFileName is the diagnostic file written under the output root.
const ErrorsFileName = "decompile_errors.json"

// Finalize writes errs to <outputRoot>/decompile_errors.json and returns its path.
// An empty map writes nothing and returns "". Any file from an earlier run is replaced.
func Finalize(errs work.ErrorMap, outputRoot string) (string, error) {
	if len(errs) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]string(errs)); err != nil {
		return "", fmt.Errorf("encode error report: %w", err)
	}

	path := filepath.Join(outputRoot, ErrorsFileName)
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return "", fmt.Errorf("create output root: %w", err)
	}
	tmp, err := os.CreateTemp(outputRoot, ErrorsFileName+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("write error report: %w", err)
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write error report: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write error report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("write error report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("write error report: %w", err)
	}
	return path, nil
}

// Load reads a diagnostic file written by Finalize.
func Load(path string) (work.ErrorMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	errs := make(work.ErrorMap)
	if err := json.Unmarshal(data, &errs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return errs, nil
}

// Names returns the failed entry names in sorted order.
func Names(errs work.ErrorMap) []string {
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
