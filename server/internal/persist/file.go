package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clubindex/clubindex/pkg/types"
)

// ErrCorrupt marks a cache file that exists but cannot be used.
var ErrCorrupt = errors.New("persist: corrupt cache file")

// timestampLayouts are tried in order when parsing last_updated. Offset-less
// timestamps are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

type meta struct {
	LastUpdated string `json:"last_updated"`
}

type document struct {
	Meta *meta          `json:"__meta__"`
	Data types.Snapshot `json:"data"`
}

type rawDocument struct {
	Meta *meta           `json:"__meta__"`
	Data json.RawMessage `json:"data"`
}

// File is a cache file on disk.
type File struct {
	path string
}

// New returns a File for path. Nothing is touched on disk until Load or Save.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the cache file location.
func (f *File) Path() string { return f.path }

// Load reads the cache file. ok is false when there is no usable cache; the
// reason is logged, never returned.
func (f *File) Load() (snap types.Snapshot, lastUpdated time.Time, ok bool) {
	snap, lastUpdated, err := f.load()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("persist: no cache file", "path", f.path)
		} else {
			slog.Warn("persist: ignoring cache file", "path", f.path, "err", err)
		}
		return nil, time.Time{}, false
	}
	return snap, lastUpdated, true
}

func (f *File) load() (types.Snapshot, time.Time, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, time.Time{}, err
	}

	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if raw.Meta == nil {
		return nil, time.Time{}, fmt.Errorf("%w: missing __meta__", ErrCorrupt)
	}
	ts, err := parseTimestamp(raw.Meta.LastUpdated)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	body := bytes.TrimSpace(raw.Data)
	if len(body) == 0 || body[0] != '{' {
		return nil, time.Time{}, fmt.Errorf("%w: data is not an object", ErrCorrupt)
	}
	var snap types.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: data: %v", ErrCorrupt, err)
	}
	for id, r := range snap {
		if r.ID == "" {
			r.ID = id
			snap[id] = r
		}
	}
	return snap, ts, nil
}

// Save writes snap and lastUpdated as one unit. The parent directory is
// created if needed.
func (f *File) Save(snap types.Snapshot, lastUpdated time.Time) error {
	if snap == nil {
		snap = types.Snapshot{}
	}
	doc := document{
		Meta: &meta{LastUpdated: lastUpdated.UTC().Format(time.RFC3339Nano)},
		Data: snap,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("persist: encode: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persist: create dir %q: %w", dir, err)
	}
	return writeAtomic(f.path, buf.Bytes())
}

// writeAtomic writes data to a temp file next to path, syncs it and renames
// it over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("persist: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persist: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persist: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persist: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persist: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persist: rename %q: %w", path, err)
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing last_updated")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable last_updated %q", s)
}
