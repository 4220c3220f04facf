package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	require.Equal(t, 2000, cfg.NodeCount)
	require.Equal(t, PolicyGeographic, cfg.InterconnectionPolicy)
	require.Equal(t, InclusionConservative, cfg.InclusionPolicy)
	require.Equal(t, int64(42), cfg.Seed)
	require.Equal(t, 0.15, cfg.ProviderProbability)
}

func TestValidateRejectsBadValues(t *testing.T) {
	for _, mutate := range []func(*SimulationConfig){
		func(c *SimulationConfig) { c.InterconnectionPolicy = "ring" },
		func(c *SimulationConfig) { c.InclusionPolicy = "eager" },
		func(c *SimulationConfig) { c.NodeCount = 0 },
		func(c *SimulationConfig) { c.MeshDegree = -1 },
		func(c *SimulationConfig) { c.ProviderProbability = 1.5 },
		func(c *SimulationConfig) { c.CustodyColumns = 0 },
		func(c *SimulationConfig) { c.CustodyColumns = 129 },
		func(c *SimulationConfig) { c.MaxBlobsPerBlock = 0 },
		func(c *SimulationConfig) { c.BlobpoolMaxBytes = 0 },
		func(c *SimulationConfig) { c.MaxTxsPerSender = 0 },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		require.Error(t, cfg.Validate())
	}
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_count = 50
mesh_degree = 8
interconnection_policy = "random"
provider_probability = 0.25
seed = 7
slot_duration = 6.0
`), 0o644))

	cfg, err := LoadTOML(path)
	require.NoError(t, err)
	require.Equal(t, 50, cfg.NodeCount)
	require.Equal(t, 8, cfg.MeshDegree)
	require.Equal(t, PolicyRandom, cfg.InterconnectionPolicy)
	require.Equal(t, 0.25, cfg.ProviderProbability)
	require.Equal(t, int64(7), cfg.Seed)
	require.Equal(t, 6.0, cfg.SlotDuration)

	// Untouched fields keep their defaults.
	require.Equal(t, 16, cfg.MaxTxsPerSender)
	require.Equal(t, 12.0, DefaultConfig().SlotDuration)
}

func TestLoadTOMLRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.toml")
	require.NoError(t, os.WriteFile(path, []byte(`interconnection_policy = "ring"`), 0o644))

	_, err := LoadTOML(path)
	require.Error(t, err)

	_, err = LoadTOML(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
