package archive

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
)

// DefaultUnitSuffix is the member suffix of compiled units inside a code.ccp archive.
const DefaultUnitSuffix = ".pyj"

// Error reports a container-level failure: the archive could not be opened,
// or one of its members could not be read. It is fatal for a run.
type Error struct {
	Path  string
	Entry string // Empty when the container itself failed
	Err   error
}

func (e *Error) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("archive %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("archive %s: entry %s: %v", e.Path, e.Entry, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Reader lists and reads the unit members of a ZIP container.
type Reader struct {
	path   string
	suffix string
	zr     *zip.ReadCloser
	files  map[string]*zip.File
	order  []string
}

// Open opens the archive read-only and indexes every member whose name ends in suffix.
// Directories and members with other suffixes are ignored.
func Open(path, suffix string) (*Reader, error) {
	if suffix == "" {
		suffix = DefaultUnitSuffix
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	r := &Reader{
		path:   path,
		suffix: suffix,
		zr:     zr,
		files:  make(map[string]*zip.File),
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, suffix) {
			continue
		}
		// Duplicate names resolve to the last member, listed once at its first position.
		if _, seen := r.files[f.Name]; !seen {
			r.order = append(r.order, f.Name)
		}
		r.files[f.Name] = f
	}
	return r, nil
}

// Path returns the archive path the reader was opened with.
func (r *Reader) Path() string { return r.path }

// Entries returns the unit member names in archive order.
func (r *Reader) Entries() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Read returns the raw bytes of a unit member.
func (r *Reader) Read(name string) ([]byte, error) {
	f, ok := r.files[name]
	if !ok {
		return nil, &Error{Path: r.path, Entry: name, Err: fmt.Errorf("no such %s member", r.suffix)}
	}
	rc, err := f.Open()
	if err != nil {
		return nil, &Error{Path: r.path, Entry: name, Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &Error{Path: r.path, Entry: name, Err: err}
	}
	return data, nil
}

// Close releases the underlying file handle. Calls after the first are no-ops.
func (r *Reader) Close() error {
	if r.zr == nil {
		return nil
	}
	err := r.zr.Close()
	r.zr = nil
	return err
}
