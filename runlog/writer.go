// Package runlog writes the append-only run summary file external
// dashboards and fuzzers watch: one JSON object per line, one line per
// run.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Status values for a run summary. Runs that complete but trip anomaly
// thresholds carry an ATTENTION status listing the markers.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// RunSummary is one line of the summary log.
type RunSummary struct {
	RunID            string         `json:"run_id"`
	Seed             int64          `json:"seed"`
	Status           string         `json:"status"`
	Anomalies        []string       `json:"anomalies"`
	Metrics          any            `json:"metrics"`
	Config           any            `json:"config"`
	WallClockSeconds float64        `json:"wall_clock_seconds"`
	SimulatedSeconds float64        `json:"simulated_seconds"`
	TimestampStart   string         `json:"timestamp_start"`
	TimestampEnd     string         `json:"timestamp_end"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// DetermineStatus maps a run outcome to its summary status: error when the
// run failed, ATTENTION(marker,...) when anomalies tripped, success
// otherwise.
func DetermineStatus(anomalies []string, err error) string {
	if err != nil {
		return StatusError
	}
	if len(anomalies) > 0 {
		return fmt.Sprintf("ATTENTION(%s)", strings.Join(anomalies, ","))
	}
	return StatusSuccess
}

// Writer appends run summaries to a file. Safe for concurrent use by
// parallel runs.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// Open opens (creating if needed) the summary file for appending.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	return &Writer{f: f, enc: json.NewEncoder(f)}, nil
}

// Append writes one summary line.
func (w *Writer) Append(summary *RunSummary) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if summary.Anomalies == nil {
		summary.Anomalies = []string{}
	}
	return w.enc.Encode(summary)
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
