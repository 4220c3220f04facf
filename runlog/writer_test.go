package runlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetermineStatus(t *testing.T) {
	require.Equal(t, "success", DetermineStatus(nil, nil))
	require.Equal(t, "error", DetermineStatus(nil, errors.New("boom")))
	require.Equal(t, "error", DetermineStatus([]string{"slow"}, errors.New("boom")))
	require.Equal(t, "ATTENTION(slow)", DetermineStatus([]string{"slow"}, nil))
	require.Equal(t, "ATTENTION(slow,lossy)", DetermineStatus([]string{"slow", "lossy"}, nil))
}

func TestNewRunIDUnique(t *testing.T) {
	require.NotEqual(t, NewRunID(), NewRunID())
}

func TestAppendWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")

	writer, err := Open(path)
	require.NoError(t, err)

	first := &RunSummary{
		RunID:            NewRunID(),
		Seed:             42,
		Status:           StatusSuccess,
		Metrics:          map[string]any{"total_bandwidth_bytes": 123},
		Config:           map[string]any{"node_count": 20},
		WallClockSeconds: 1.5,
		SimulatedSeconds: 30.0,
		TimestampStart:   "2025-01-01T00:00:00Z",
		TimestampEnd:     "2025-01-01T00:00:02Z",
	}
	require.NoError(t, writer.Append(first))
	require.NoError(t, writer.Append(&RunSummary{RunID: NewRunID(), Status: "ATTENTION(slow)", Anomalies: []string{"slow"}}))
	require.NoError(t, writer.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &decoded))
		lines = append(lines, decoded)
	}
	require.Len(t, lines, 2)

	require.Equal(t, "success", lines[0]["status"])
	require.Equal(t, float64(42), lines[0]["seed"])
	// A nil anomaly list serializes as an empty array, not null.
	require.Equal(t, []any{}, lines[0]["anomalies"])
	require.Equal(t, "ATTENTION(slow)", lines[1]["status"])

	for _, key := range []string{
		"run_id", "seed", "status", "anomalies", "metrics", "config",
		"wall_clock_seconds", "simulated_seconds", "timestamp_start", "timestamp_end",
	} {
		require.Contains(t, lines[0], key)
	}
}

func TestAppendIsAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")

	writer, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, writer.Append(&RunSummary{RunID: "a", Status: StatusSuccess}))
	require.NoError(t, writer.Close())

	// Reopening appends after the existing line.
	writer, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, writer.Append(&RunSummary{RunID: "b", Status: StatusSuccess}))
	require.NoError(t, writer.Close())

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(blob), `"run_id":"a"`)
	require.Contains(t, string(blob), `"run_id":"b"`)
}
