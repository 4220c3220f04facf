package config

import (
	"github.com/urfave/cli/v2"

	"github.com/ethp2p/sparse-blobpool/cmd/flags"
)

// NewConfigFromCliContext creates a config from command line flags. A TOML
// file given with --config is applied first; explicit flags override it.
func NewConfigFromCliContext(c *cli.Context) (SimulationConfig, error) {
	cfg := DefaultConfig()

	if path := c.String(flags.ConfigFile.Name); path != "" {
		loaded, err := LoadTOML(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if c.IsSet(flags.Seed.Name) {
		cfg.Seed = c.Int64(flags.Seed.Name)
	}
	if c.IsSet(flags.Duration.Name) {
		cfg.Duration = c.Float64(flags.Duration.Name)
	}
	if c.IsSet(flags.NodeCount.Name) {
		cfg.NodeCount = c.Int(flags.NodeCount.Name)
	}
	if c.IsSet(flags.MeshDegree.Name) {
		cfg.MeshDegree = c.Int(flags.MeshDegree.Name)
	}
	if c.IsSet(flags.InterconnectionPolicy.Name) {
		cfg.InterconnectionPolicy = InterconnectionPolicy(c.String(flags.InterconnectionPolicy.Name))
	}
	if c.IsSet(flags.DefaultBandwidth.Name) {
		cfg.DefaultBandwidth = c.Float64(flags.DefaultBandwidth.Name)
	}
	if c.IsSet(flags.CountryWeightsFile.Name) {
		cfg.CountryWeightsFile = c.String(flags.CountryWeightsFile.Name)
	}
	if c.IsSet(flags.CountryLatenciesFile.Name) {
		cfg.CountryLatenciesFile = c.String(flags.CountryLatenciesFile.Name)
	}
	if c.IsSet(flags.ProviderProbability.Name) {
		cfg.ProviderProbability = c.Float64(flags.ProviderProbability.Name)
	}
	if c.IsSet(flags.MinProvidersBeforeSample.Name) {
		cfg.MinProvidersBeforeSample = c.Int(flags.MinProvidersBeforeSample.Name)
	}
	if c.IsSet(flags.ExtraRandomColumns.Name) {
		cfg.ExtraRandomColumns = c.Int(flags.ExtraRandomColumns.Name)
	}
	if c.IsSet(flags.CustodyColumns.Name) {
		cfg.CustodyColumns = c.Int(flags.CustodyColumns.Name)
	}
	if c.IsSet(flags.RequestTimeout.Name) {
		cfg.RequestTimeout = c.Float64(flags.RequestTimeout.Name)
	}
	if c.IsSet(flags.ProviderObservationTimeout.Name) {
		cfg.ProviderObservationTimeout = c.Float64(flags.ProviderObservationTimeout.Name)
	}
	if c.IsSet(flags.BlobpoolMaxBytes.Name) {
		cfg.BlobpoolMaxBytes = c.Int(flags.BlobpoolMaxBytes.Name)
	}
	if c.IsSet(flags.MaxTxsPerSender.Name) {
		cfg.MaxTxsPerSender = c.Int(flags.MaxTxsPerSender.Name)
	}
	if c.IsSet(flags.SlotDuration.Name) {
		cfg.SlotDuration = c.Float64(flags.SlotDuration.Name)
	}
	if c.IsSet(flags.MaxBlobsPerBlock.Name) {
		cfg.MaxBlobsPerBlock = c.Int(flags.MaxBlobsPerBlock.Name)
	}
	if c.IsSet(flags.InclusionPolicy.Name) {
		cfg.InclusionPolicy = InclusionPolicy(c.String(flags.InclusionPolicy.Name))
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
