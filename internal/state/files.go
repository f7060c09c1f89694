package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/alanyoungcy/xarb/internal/config"
)

// Archiver copies crash reports to durable storage and returns where the
// copy was written.
type Archiver interface {
	ArchiveCrash(ctx context.Context, data []byte, at time.Time) (string, error)
}

// Files reads and writes the crash, state and target files.
type Files struct {
	crashPath  string
	statePath  string
	targetPath string
	archiver   Archiver
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures Files.
type Option func(*Files)

// WithArchiver uploads every crash report in addition to writing it
// locally.
func WithArchiver(a Archiver) Option {
	return func(f *Files) { f.archiver = a }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Files) { f.now = now }
}

// NewFiles binds the configured paths. An empty state or target path
// disables that file.
func NewFiles(cfg config.FilesConfig, logger *slog.Logger, opts ...Option) *Files {
	f := &Files{
		crashPath:  cfg.CrashFile,
		statePath:  cfg.StateFile,
		targetPath: cfg.TargetFile,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "state")),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WriteCrash dumps the report to the crash file and, when an archiver is
// configured, uploads the same bytes. An archive failure is logged only.
func (f *Files) WriteCrash(ctx context.Context, report CrashReport) error {
	if report.State == nil {
		report.State = Snapshot{}
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("state: encode crash report: %w", err)
	}
	if err := writeFile(f.crashPath, data); err != nil {
		return fmt.Errorf("state: write crash file %s: %w", f.crashPath, err)
	}
	if f.archiver == nil {
		return nil
	}
	path, err := f.archiver.ArchiveCrash(ctx, data, f.now())
	if err != nil {
		f.logger.ErrorContext(ctx, "state: crash archive failed", slog.String("error", err.Error()))
		return nil
	}
	f.logger.InfoContext(ctx, "state: crash report archived", slog.String("path", path))
	return nil
}

// WriteState writes a session snapshot to the state file so the next start
// resumes it.
func (f *Files) WriteState(snap Snapshot) error {
	if f.statePath == "" {
		return nil
	}
	if snap == nil {
		snap = Snapshot{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("state: encode state file: %w", err)
	}
	if err := writeFile(f.statePath, data); err != nil {
		return fmt.Errorf("state: write state file %s: %w", f.statePath, err)
	}
	return nil
}

// ReadState loads the recovery file left by a previous crash and deletes
// it. A missing file yields a nil snapshot. A malformed file is left in
// place.
func (f *Files) ReadState() (Snapshot, error) {
	data, ok, err := read(f.statePath)
	if err != nil || !ok {
		return nil, err
	}
	var snap Snapshot
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("state: decode state file %s: %w", f.statePath, err)
		}
	}
	if err := os.Remove(f.statePath); err != nil {
		return snap, fmt.Errorf("state: remove state file: %w", err)
	}
	return snap, nil
}

// DefaultTarget leaves the minimum profit unchanged.
const DefaultTarget = "DEFAULT"

// Target is a live override of trading parameters.
type Target struct {
	// MinProfit is the new minimum profit fraction; nil keeps the current one.
	MinProfit *float64
	// Exclude replaces the venue blacklist when non-nil.
	Exclude []string
}

// Apply returns e with the override applied.
func (t Target) Apply(e config.Engine) config.Engine {
	if t.MinProfit != nil {
		e = e.WithMinProfit(*t.MinProfit)
	}
	if t.Exclude != nil {
		e = e.WithBlacklist(t.Exclude)
	}
	return e
}

type targetFile struct {
	Target  any     `json:"target"`
	Exclude *string `json:"exclude"`
}

// ReadTarget loads and deletes the target file. It returns nil when there
// is no file. The target is a percentage given as a number or numeric
// string, or "DEFAULT"; exclude is a comma separated venue list.
func (f *Files) ReadTarget() (*Target, error) {
	data, ok, err := read(f.targetPath)
	if err != nil || !ok {
		return nil, err
	}
	var raw targetFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("state: decode target file: %w", err)
	}
	t, err := raw.parse()
	if err != nil {
		return nil, err
	}
	if err := os.Remove(f.targetPath); err != nil {
		return t, fmt.Errorf("state: remove target file: %w", err)
	}
	return t, nil
}

func (raw targetFile) parse() (*Target, error) {
	var t Target
	var pct float64
	switch v := raw.Target.(type) {
	case nil:
		return nil, errors.New("state: target file: missing target")
	case float64:
		pct = v
		t.MinProfit = &pct
	case string:
		if v != DefaultTarget {
			n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("state: target file: target %q: %w", v, err)
			}
			pct = n
			t.MinProfit = &pct
		}
	default:
		return nil, fmt.Errorf("state: target file: unsupported target %v", v)
	}
	if t.MinProfit != nil {
		frac := pct / 100
		t.MinProfit = &frac
	}
	if raw.Exclude != nil {
		t.Exclude = []string{}
		for _, name := range strings.Split(*raw.Exclude, ",") {
			if name = strings.ToUpper(strings.TrimSpace(name)); name != "" {
				t.Exclude = append(t.Exclude, name)
			}
		}
	}
	return &t, nil
}

func read(path string) ([]byte, bool, error) {
	if path == "" {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: read %s: %w", path, err)
	}
	return data, true, nil
}

// writeFile replaces path through a sibling temp file, so readers never see
// a partial write.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
