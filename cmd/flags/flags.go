package flags

import (
	"github.com/urfave/cli/v2"
)

var (
	simulationCategory = "SIMULATION"
	networkCategory    = "NETWORK"
	protocolCategory   = "PROTOCOL"
	blocksCategory     = "BLOCKS"
	metricsCategory    = "METRICS"
)

var (
	ConfigFile = &cli.StringFlag{
		Name:     "config",
		Usage:    "Path to a TOML configuration file",
		Category: simulationCategory,
		EnvVars:  []string{"SIM_CONFIG"},
	}
	Seed = &cli.Int64Flag{
		Name:     "seed",
		Usage:    "RNG seed for deterministic runs",
		Category: simulationCategory,
	}
	Duration = &cli.Float64Flag{
		Name:     "duration",
		Usage:    "Simulated duration in seconds",
		Category: simulationCategory,
	}
	TxCount = &cli.IntFlag{
		Name:     "txs",
		Usage:    "Number of transactions to broadcast at simulation start",
		Value:    10,
		Category: simulationCategory,
	}
	Verbosity = &cli.IntFlag{
		Name:     "verbosity",
		Usage:    "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value:    3,
		Category: simulationCategory,
	}
	RunLogFile = &cli.StringFlag{
		Name:     "runlog",
		Usage:    "Append-only run summary file (JSON lines)",
		Category: simulationCategory,
	}
)

var (
	NodeCount = &cli.IntFlag{
		Name:     "network.nodes",
		Usage:    "Number of nodes in the simulated network",
		Category: networkCategory,
	}
	MeshDegree = &cli.IntFlag{
		Name:     "network.meshDegree",
		Usage:    "Target peer connections per node",
		Category: networkCategory,
	}
	InterconnectionPolicy = &cli.StringFlag{
		Name:     "network.policy",
		Usage:    "Interconnection policy: random, geographic, latency_aware, diverse",
		Category: networkCategory,
	}
	DefaultBandwidth = &cli.Float64Flag{
		Name:     "network.bandwidth",
		Usage:    "Default per-node bandwidth in bytes/s",
		Category: networkCategory,
	}
	CountryWeightsFile = &cli.StringFlag{
		Name:     "network.countryWeights",
		Usage:    "Path to country weight table (JSON)",
		Category: networkCategory,
	}
	CountryLatenciesFile = &cli.StringFlag{
		Name:     "network.countryLatencies",
		Usage:    "Path to country latency table (JSON)",
		Category: networkCategory,
	}
)

var (
	ProviderProbability = &cli.Float64Flag{
		Name:     "protocol.providerProbability",
		Usage:    "Probability a node acts as provider for a transaction",
		Category: protocolCategory,
	}
	MinProvidersBeforeSample = &cli.IntFlag{
		Name:     "protocol.minProviders",
		Usage:    "Provider announcements a sampler waits for before fetching",
		Category: protocolCategory,
	}
	ExtraRandomColumns = &cli.IntFlag{
		Name:     "protocol.extraColumns",
		Usage:    "Random non-custody columns added to each sample request",
		Category: protocolCategory,
	}
	CustodyColumns = &cli.IntFlag{
		Name:     "protocol.custodyColumns",
		Usage:    "Custody columns assigned to each node",
		Category: protocolCategory,
	}
	RequestTimeout = &cli.Float64Flag{
		Name:     "protocol.requestTimeout",
		Usage:    "Seconds before an outstanding request times out",
		Category: protocolCategory,
	}
	ProviderObservationTimeout = &cli.Float64Flag{
		Name:     "protocol.providerObservationTimeout",
		Usage:    "Seconds a node waits for provider announcements",
		Category: protocolCategory,
	}
	BlobpoolMaxBytes = &cli.IntFlag{
		Name:     "protocol.poolMaxBytes",
		Usage:    "Blobpool capacity in bytes",
		Category: protocolCategory,
	}
	MaxTxsPerSender = &cli.IntFlag{
		Name:     "protocol.maxTxsPerSender",
		Usage:    "Per-sender transaction cap in the pool",
		Category: protocolCategory,
	}
)

var (
	SlotDuration = &cli.Float64Flag{
		Name:     "blocks.slotDuration",
		Usage:    "Seconds per slot",
		Category: blocksCategory,
	}
	MaxBlobsPerBlock = &cli.IntFlag{
		Name:     "blocks.maxBlobs",
		Usage:    "Blob budget per block",
		Category: blocksCategory,
	}
	InclusionPolicy = &cli.StringFlag{
		Name:     "blocks.inclusionPolicy",
		Usage:    "Inclusion policy: conservative, optimistic, proactive",
		Category: blocksCategory,
	}
)

var (
	MetricsAddr = &cli.StringFlag{
		Name:     "metrics.addr",
		Usage:    "Address to serve Prometheus metrics on (disabled when empty)",
		Category: metricsCategory,
	}
)

// SimulationFlags are all flags understood by the sim binary.
var SimulationFlags = MergeFlags(
	[]cli.Flag{ConfigFile, Seed, Duration, TxCount, Verbosity, RunLogFile},
	[]cli.Flag{NodeCount, MeshDegree, InterconnectionPolicy, DefaultBandwidth, CountryWeightsFile, CountryLatenciesFile},
	[]cli.Flag{
		ProviderProbability, MinProvidersBeforeSample, ExtraRandomColumns, CustodyColumns,
		RequestTimeout, ProviderObservationTimeout, BlobpoolMaxBytes, MaxTxsPerSender,
	},
	[]cli.Flag{SlotDuration, MaxBlobsPerBlock, InclusionPolicy},
	[]cli.Flag{MetricsAddr},
)

// MergeFlags merges the given flag slices.
func MergeFlags(groups ...[]cli.Flag) []cli.Flag {
	var merged []cli.Flag
	for _, group := range groups {
		merged = append(merged, group...)
	}

	return merged
}
