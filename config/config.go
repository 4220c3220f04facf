// Package config holds the flat simulation configuration record. A config
// is frozen after construction: the driver copies it by value and nothing
// mutates it afterwards.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// InterconnectionPolicy selects how the topology builder meshes nodes.
type InterconnectionPolicy string

const (
	PolicyRandom       InterconnectionPolicy = "random"
	PolicyGeographic   InterconnectionPolicy = "geographic"
	PolicyLatencyAware InterconnectionPolicy = "latency_aware"
	PolicyDiverse      InterconnectionPolicy = "diverse"
)

// InclusionPolicy selects which pooled transactions a proposer may pack.
type InclusionPolicy string

const (
	// InclusionConservative includes only transactions whose full blob is
	// held locally.
	InclusionConservative InclusionPolicy = "conservative"
	// InclusionOptimistic includes transactions with any cells available.
	InclusionOptimistic InclusionPolicy = "optimistic"
	// InclusionProactive would resample before including; it currently
	// behaves as conservative.
	InclusionProactive InclusionPolicy = "proactive"
)

// SimulationConfig is the flat configuration record. All fields have
// defaults; see DefaultConfig.
type SimulationConfig struct {
	// Network topology
	NodeCount             int                   `toml:"node_count"`
	MeshDegree            int                   `toml:"mesh_degree"`
	InterconnectionPolicy InterconnectionPolicy `toml:"interconnection_policy"`

	// Protocol parameters
	ProviderProbability      float64 `toml:"provider_probability"`
	MinProvidersBeforeSample int     `toml:"min_providers_before_sample"`
	ExtraRandomColumns       int     `toml:"extra_random_columns"`
	MaxColumnsPerRequest     int     `toml:"max_columns_per_request"`
	CustodyColumns           int     `toml:"custody_columns"`

	// Timeouts (seconds)
	ProviderObservationTimeout float64 `toml:"provider_observation_timeout"`
	RequestTimeout             float64 `toml:"request_timeout"`
	TxExpiration               float64 `toml:"tx_expiration"`

	// Resource limits
	BlobpoolMaxBytes int `toml:"blobpool_max_bytes"`
	MaxTxsPerSender  int `toml:"max_txs_per_sender"`

	// Block production
	SlotDuration     float64         `toml:"slot_duration"`
	MaxBlobsPerBlock int             `toml:"max_blobs_per_block"`
	InclusionPolicy  InclusionPolicy `toml:"inclusion_policy"`

	// Simulation parameters
	Seed             int64   `toml:"seed"`
	Duration         float64 `toml:"duration"`
	DefaultBandwidth float64 `toml:"default_bandwidth"`
	SampleInterval   float64 `toml:"sample_interval"`

	// Optional data file overrides; embedded defaults are used when empty.
	CountryWeightsFile   string `toml:"country_weights_file"`
	CountryLatenciesFile string `toml:"country_latencies_file"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() SimulationConfig {
	return SimulationConfig{
		NodeCount:             2000,
		MeshDegree:            50,
		InterconnectionPolicy: PolicyGeographic,

		ProviderProbability:      0.15,
		MinProvidersBeforeSample: 2,
		ExtraRandomColumns:       1,
		MaxColumnsPerRequest:     8,
		CustodyColumns:           8,

		ProviderObservationTimeout: 2.0,
		RequestTimeout:             5.0,
		TxExpiration:               300.0,

		BlobpoolMaxBytes: 2 * 1024 * 1024 * 1024,
		MaxTxsPerSender:  16,

		SlotDuration:     12.0,
		MaxBlobsPerBlock: 6,
		InclusionPolicy:  InclusionConservative,

		Seed:             42,
		Duration:         600.0,
		DefaultBandwidth: 100 * 1024 * 1024,
		SampleInterval:   1.0,
	}
}

// LoadTOML reads a config file over the defaults.
func LoadTOML(path string) (SimulationConfig, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (cfg *SimulationConfig) Validate() error {
	switch cfg.InterconnectionPolicy {
	case PolicyRandom, PolicyGeographic, PolicyLatencyAware, PolicyDiverse:
	default:
		return fmt.Errorf("unknown interconnection policy %q", cfg.InterconnectionPolicy)
	}
	switch cfg.InclusionPolicy {
	case InclusionConservative, InclusionOptimistic, InclusionProactive:
	default:
		return fmt.Errorf("unknown inclusion policy %q", cfg.InclusionPolicy)
	}
	if cfg.NodeCount <= 0 {
		return fmt.Errorf("node_count must be positive, got %d", cfg.NodeCount)
	}
	if cfg.MeshDegree <= 0 {
		return fmt.Errorf("mesh_degree must be positive, got %d", cfg.MeshDegree)
	}
	if cfg.ProviderProbability < 0 || cfg.ProviderProbability > 1 {
		return fmt.Errorf("provider_probability must be in [0,1], got %v", cfg.ProviderProbability)
	}
	if cfg.CustodyColumns <= 0 || cfg.CustodyColumns > 128 {
		return fmt.Errorf("custody_columns must be in [1,128], got %d", cfg.CustodyColumns)
	}
	if cfg.MaxBlobsPerBlock <= 0 {
		return fmt.Errorf("max_blobs_per_block must be positive, got %d", cfg.MaxBlobsPerBlock)
	}
	if cfg.BlobpoolMaxBytes <= 0 {
		return fmt.Errorf("blobpool_max_bytes must be positive, got %d", cfg.BlobpoolMaxBytes)
	}
	if cfg.MaxTxsPerSender <= 0 {
		return fmt.Errorf("max_txs_per_sender must be positive, got %d", cfg.MaxTxsPerSender)
	}
	return nil
}
