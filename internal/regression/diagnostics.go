package regression

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrDiagnosticsExist is returned when a run's diagnostics file is already
// present. Published diagnostics are never replaced.
var ErrDiagnosticsExist = errors.New("diagnostics file already exists")

// Diagnostics is the per-run document written as <dir>/<run_id>.json and
// stored alongside the coefficients of a live run.
type Diagnostics struct {
	RunID           string           `json:"runId"`
	CreatedAt       time.Time        `json:"createdAt"`
	Mode            Mode             `json:"mode"`
	Countywide      bool             `json:"countywide"`
	Tiered          bool             `json:"tiered"`
	Model           ModelSpec        `json:"model"`
	MinSegmentSize  int              `json:"minSegmentSize"`
	MaxSteps        int              `json:"maxSteps"`
	SalesLoaded     int              `json:"salesLoaded"`
	SalesUnassigned int              `json:"salesUnassigned"`
	Segments        []SegmentResult  `json:"segments"`
	SkippedSegments []SkippedSegment `json:"skippedSegments"`
}

// diagnosticsFile is a diagnostics document written to a temp file that
// becomes visible under its final name only on Commit. Experiment runs are
// published under their own name so they never shadow a live run's file.
type diagnosticsFile struct {
	tmpPath   string
	finalPath string
}

// stageDiagnostics writes doc to a temp file in dir.
func stageDiagnostics(dir string, doc *Diagnostics) (*diagnosticsFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create diagnostics dir: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode diagnostics: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+doc.RunID+"-*.json.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create diagnostics temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to write diagnostics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to close diagnostics: %w", err)
	}

	return &diagnosticsFile{
		tmpPath:   tmp.Name(),
		finalPath: pathForMode(dir, doc.RunID, doc.Mode),
	}, nil
}

// Commit links the staged file into place. It fails with ErrDiagnosticsExist
// rather than replace a file already published under the final name.
func (f *diagnosticsFile) Commit() (string, error) {
	defer os.Remove(f.tmpPath)
	if err := os.Link(f.tmpPath, f.finalPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrDiagnosticsExist, f.finalPath)
		}
		return "", fmt.Errorf("failed to publish diagnostics: %w", err)
	}
	return f.finalPath, nil
}

// Retract removes a committed file. Used when the database save that the
// file describes fails.
func (f *diagnosticsFile) Retract() {
	os.Remove(f.finalPath)
}

// Discard removes the staged file.
func (f *diagnosticsFile) Discard() {
	os.Remove(f.tmpPath)
}

// DiagnosticsPath returns where a live run's diagnostics document lives.
func DiagnosticsPath(dir, runID string) string {
	return filepath.Join(dir, runID+".json")
}

// ExperimentDiagnosticsPath returns where an experiment run's diagnostics
// document lives.
func ExperimentDiagnosticsPath(dir, runID string) string {
	return filepath.Join(dir, runID+".experiment.json")
}

func pathForMode(dir, runID string, mode Mode) string {
	if mode == ModeExperiment {
		return ExperimentDiagnosticsPath(dir, runID)
	}
	return DiagnosticsPath(dir, runID)
}

// ReadDiagnostics loads a run's diagnostics document.
func ReadDiagnostics(dir, runID string) (*Diagnostics, error) {
	data, err := os.ReadFile(DiagnosticsPath(dir, runID))
	if err != nil {
		return nil, fmt.Errorf("failed to read diagnostics for run %s: %w", runID, err)
	}
	var doc Diagnostics
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode diagnostics for run %s: %w", runID, err)
	}
	return &doc, nil
}
