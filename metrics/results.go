// Package metrics aggregates bandwidth, propagation, reconstruction and
// provider-ratio statistics for a simulation run.
package metrics

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/ethp2p/sparse-blobpool/core"
	"github.com/ethp2p/sparse-blobpool/network"
)

// BandwidthSnapshot is a cumulative bandwidth sample.
type BandwidthSnapshot struct {
	Timestamp    float64                   `json:"timestamp"`
	TotalBytes   int                       `json:"total_bytes"`
	ControlBytes int                       `json:"control_bytes"`
	DataBytes    int                       `json:"data_bytes"`
	PerCountry   map[network.Country]int   `json:"per_country"`
}

// PropagationSnapshot captures the spread of one still-propagating
// transaction at a sample instant.
type PropagationSnapshot struct {
	Timestamp              float64     `json:"timestamp"`
	TxHash                 common.Hash `json:"tx_hash"`
	NodesSeen              int         `json:"nodes_seen"`
	NodesWithFull          int         `json:"nodes_with_full"`
	NodesWithSample        int         `json:"nodes_with_sample"`
	ReconstructionPossible bool        `json:"reconstruction_possible"`
}

// Results is the aggregate record produced by Finalize. Its JSON encoding
// is the run's canonical output: with a fixed seed and configuration it is
// byte-identical across runs.
type Results struct {
	// Bandwidth efficiency
	TotalBandwidthBytes      int     `json:"total_bandwidth_bytes"`
	BandwidthPerBlob         float64 `json:"bandwidth_per_blob"`
	BandwidthReductionVsFull float64 `json:"bandwidth_reduction_vs_full"`

	// Propagation performance
	MedianPropagationTime  float64 `json:"median_propagation_time"`
	P99PropagationTime     float64 `json:"p99_propagation_time"`
	PropagationSuccessRate float64 `json:"propagation_success_rate"`

	// Protocol reliability
	ObservedProviderRatio     float64 `json:"observed_provider_ratio"`
	ReconstructionSuccessRate float64 `json:"reconstruction_success_rate"`

	// Sparse protocol metrics
	ProviderCoverage         float64 `json:"provider_coverage"`
	ExpectedProviderCoverage float64 `json:"expected_provider_coverage"`
	LocalAvailabilityMet     float64 `json:"local_availability_met"`

	// ColumnCoverage[i] is the number of nodes custodying column i.
	ColumnCoverage []int `json:"column_coverage"`

	// Raw data for further analysis
	BandwidthTimeseries   []BandwidthSnapshot      `json:"bandwidth_timeseries"`
	PropagationTimeseries []PropagationSnapshot    `json:"propagation_timeseries"`
	BytesSentPerNode      map[core.ActorID]int     `json:"bytes_sent_per_node"`
	BytesReceivedPerNode  map[core.ActorID]int     `json:"bytes_received_per_node"`
}
