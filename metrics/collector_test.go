package metrics

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ethp2p/sparse-blobpool/core"
	"github.com/ethp2p/sparse-blobpool/protocol"
)

// manualClock lets tests drive simulated time directly.
type manualClock struct {
	now float64
}

func (c *manualClock) Now() float64 { return c.now }

func newTestCollector(nodes int) (*Collector, *manualClock) {
	clock := new(manualClock)
	collector := NewCollector(clock, 1.0, 0.15)
	for i := 0; i < nodes; i++ {
		id := core.ActorID(fmt.Sprintf("node-%04d", i))
		collector.RegisterNode(id, "us", protocol.CellMask{}.SetBit(i%128))
	}
	return collector, clock
}

func TestRecordBandwidthSplitsControlAndData(t *testing.T) {
	collector, _ := newTestCollector(2)

	collector.RecordBandwidth("node-0000", "node-0001", 100, true)
	collector.RecordBandwidth("node-0000", "node-0001", 5000, false)

	collector.Snapshot()
	require.Len(t, collector.bandwidthTimeseries, 1)
	snap := collector.bandwidthTimeseries[0]
	require.Equal(t, 5100, snap.TotalBytes)
	require.Equal(t, 100, snap.ControlBytes)
	require.Equal(t, 5000, snap.DataBytes)
	require.Equal(t, 5100, snap.PerCountry["us"])
}

func TestPropagationCompletion(t *testing.T) {
	collector, clock := newTestCollector(10)
	hash := common.Hash{1}

	clock.now = 1.0
	collector.RecordTxSeen("node-0000", hash, protocol.AllOnes())

	// 9 of 10 nodes is below the 99% threshold.
	for i := 1; i < 9; i++ {
		clock.now = 1.0 + float64(i)*0.1
		collector.RecordTxSeen(core.ActorID(fmt.Sprintf("node-%04d", i)), hash, protocol.AllOnes())
	}
	results := collector.Finalize()
	require.Equal(t, 0.0, results.PropagationSuccessRate)

	// The tenth node completes propagation.
	clock.now = 3.0
	collector.RecordTxSeen("node-0009", hash, protocol.AllOnes())

	results = collector.Finalize()
	require.Equal(t, 1.0, results.PropagationSuccessRate)
	require.InDelta(t, 2.0, results.MedianPropagationTime, 1e-9)
}

func TestObservedProviderRatio(t *testing.T) {
	collector, _ := newTestCollector(100)

	// 30 providers (full mask) and 70 samplers across distinct txs.
	for i := 0; i < 100; i++ {
		mask := protocol.CellMask{}.SetBit(0)
		if i < 30 {
			mask = protocol.AllOnes()
		}
		collector.RecordTxSeen(core.ActorID(fmt.Sprintf("node-%04d", i)), common.Hash{byte(i)}, mask)
	}

	results := collector.Finalize()
	require.InDelta(t, 0.30, results.ObservedProviderRatio, 1e-9)
}

func TestReconstructionThreshold(t *testing.T) {
	collector, _ := newTestCollector(3)

	// Tx 1: union of masks covers 64 columns, reconstructible.
	var wide protocol.CellMask
	for col := 0; col < 64; col++ {
		wide = wide.SetBit(col)
	}
	collector.RecordTxSeen("node-0000", common.Hash{1}, wide)

	// Tx 2: only 10 columns anywhere.
	var narrow protocol.CellMask
	for col := 0; col < 10; col++ {
		narrow = narrow.SetBit(col)
	}
	collector.RecordTxSeen("node-0001", common.Hash{2}, narrow)

	results := collector.Finalize()
	require.InDelta(t, 0.5, results.ReconstructionSuccessRate, 1e-9)
}

func TestLocalAvailability(t *testing.T) {
	clock := new(manualClock)
	collector := NewCollector(clock, 1.0, 0.15)

	custody := protocol.CellMask{}.SetBit(1).SetBit(2)
	collector.RegisterNode("node-0000", "us", custody)
	collector.RegisterNode("node-0001", "us", custody)
	collector.RegisterNode("node-0002", "us", custody)

	// Full availability, custody covered, custody missing.
	collector.RecordTxSeen("node-0000", common.Hash{1}, protocol.AllOnes())
	collector.RecordTxSeen("node-0001", common.Hash{1}, custody.SetBit(9))
	collector.RecordTxSeen("node-0002", common.Hash{1}, protocol.CellMask{}.SetBit(1))

	results := collector.Finalize()
	require.InDelta(t, 2.0/3.0, results.LocalAvailabilityMet, 1e-9)
}

func TestInclusionRecording(t *testing.T) {
	collector, _ := newTestCollector(2)
	hash := common.Hash{7}

	_, ok := collector.IncludedAtSlot(hash)
	require.False(t, ok)

	collector.RecordTxSeen("node-0000", hash, protocol.AllOnes())
	collector.RecordInclusion(hash, 3)
	collector.RecordInclusion(hash, 9) // later inclusions keep the first slot

	slot, ok := collector.IncludedAtSlot(hash)
	require.True(t, ok)
	require.Equal(t, uint64(3), slot)
}

func TestSnapshotIntervalGuard(t *testing.T) {
	collector, clock := newTestCollector(2)

	collector.Snapshot()
	collector.Snapshot() // within the interval, skipped
	require.Len(t, collector.bandwidthTimeseries, 1)

	clock.now = 1.5
	collector.Snapshot()
	require.Len(t, collector.bandwidthTimeseries, 2)
}

func TestColumnCoverage(t *testing.T) {
	clock := new(manualClock)
	collector := NewCollector(clock, 1.0, 0.15)
	collector.RegisterNode("node-0000", "us", protocol.CellMask{}.SetBit(5))
	collector.RegisterNode("node-0001", "us", protocol.CellMask{}.SetBit(5).SetBit(9))

	results := collector.Finalize()
	require.Len(t, results.ColumnCoverage, 128)
	require.Equal(t, 2, results.ColumnCoverage[5])
	require.Equal(t, 1, results.ColumnCoverage[9])
	require.Equal(t, 0, results.ColumnCoverage[0])
}

func TestResultsJSONKeys(t *testing.T) {
	collector, _ := newTestCollector(2)
	blob, err := json.Marshal(collector.Finalize())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(blob, &decoded))
	for _, key := range []string{
		"total_bandwidth_bytes",
		"bandwidth_per_blob",
		"bandwidth_reduction_vs_full",
		"median_propagation_time",
		"p99_propagation_time",
		"propagation_success_rate",
		"observed_provider_ratio",
		"reconstruction_success_rate",
		"provider_coverage",
		"expected_provider_coverage",
		"local_availability_met",
		"column_coverage",
		"bandwidth_timeseries",
		"propagation_timeseries",
		"bytes_sent_per_node",
		"bytes_received_per_node",
	} {
		require.Contains(t, decoded, key)
	}
}
