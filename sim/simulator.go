// Package sim wires the simulator together and exposes the run API.
package sim

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/ethp2p/sparse-blobpool/config"
	"github.com/ethp2p/sparse-blobpool/core"
	"github.com/ethp2p/sparse-blobpool/metrics"
	"github.com/ethp2p/sparse-blobpool/network"
	"github.com/ethp2p/sparse-blobpool/p2p"
	"github.com/ethp2p/sparse-blobpool/pool"
	"github.com/ethp2p/sparse-blobpool/producer"
	"github.com/ethp2p/sparse-blobpool/protocol"
)

// samplerID is the reserved actor ID of the metrics sampling loop.
const samplerID core.ActorID = "metrics-sampler"

// Simulator owns one wired simulation: kernel, network, metrics, topology,
// nodes and block producer. Simulators are independent; parallel runs each
// build their own.
type Simulator struct {
	cfg config.SimulationConfig

	kernel   *core.Kernel
	network  *network.Network
	metrics  *metrics.Collector
	topology *p2p.Topology
	nodes    map[core.ActorID]*p2p.Node
	nodeIDs  []core.ActorID // sorted
	producer *producer.BlockProducer
}

// New builds a fully wired simulator from the configuration: kernel with
// the configured seed, metrics, network, topology, one node per actor id
// with peers registered on both edge endpoints, and the block producer.
func New(cfg config.SimulationConfig) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	kernel := core.NewKernel(cfg.Seed)
	collector := metrics.NewCollector(kernel, cfg.SampleInterval, cfg.ProviderProbability)

	latencies := network.DefaultLatencies()
	if cfg.CountryLatenciesFile != "" {
		loaded, err := network.LoadLatencyModel(cfg.CountryLatenciesFile)
		if err != nil {
			return nil, err
		}
		latencies = loaded
	}
	weights := network.DefaultWeights()
	if cfg.CountryWeightsFile != "" {
		loaded, err := network.LoadCountryWeights(cfg.CountryWeightsFile)
		if err != nil {
			return nil, err
		}
		weights = loaded
	}

	net := network.New(kernel, latencies, collector, cfg.DefaultBandwidth, network.DefaultCodelConfig())

	topology, err := p2p.BuildTopology(&cfg, weights, latencies, kernel.RNG())
	if err != nil {
		return nil, err
	}

	s := &Simulator{
		cfg:      cfg,
		kernel:   kernel,
		network:  net,
		metrics:  collector,
		topology: topology,
		nodes:    make(map[core.ActorID]*p2p.Node, cfg.NodeCount),
	}

	for i := 0; i < cfg.NodeCount; i++ {
		id := core.ActorID(fmt.Sprintf("node-%04d", i))
		node := p2p.NewNode(id, kernel, net, collector, &s.cfg)
		if err := kernel.Register(node); err != nil {
			return nil, err
		}
		s.nodes[id] = node
		s.nodeIDs = append(s.nodeIDs, id)

		country := topology.Countries[id]
		net.RegisterNode(id, country, 0)
		collector.RegisterNode(id, country, node.CustodyMask())
	}

	for _, edge := range topology.Edges {
		a, b := s.nodes[edge[0]], s.nodes[edge[1]]
		if a != nil && b != nil {
			a.AddPeer(edge[1])
			b.AddPeer(edge[0])
		}
	}

	s.producer = producer.New(kernel, s.nodeIDs, cfg.SlotDuration)
	if err := kernel.Register(s.producer); err != nil {
		return nil, err
	}
	s.producer.Start()

	sampler := &metricsSampler{kernel: kernel, collector: collector, interval: cfg.SampleInterval}
	if err := kernel.Register(sampler); err != nil {
		return nil, err
	}
	sampler.schedule()

	log.Info("Simulator built",
		"nodes", cfg.NodeCount,
		"edges", len(topology.Edges),
		"policy", cfg.InterconnectionPolicy,
		"seed", cfg.Seed,
	)
	return s, nil
}

// Config returns the frozen run configuration.
func (s *Simulator) Config() config.SimulationConfig { return s.cfg }

// Kernel returns the event kernel.
func (s *Simulator) Kernel() *core.Kernel {
	if s.kernel == nil {
		panic("simulator not configured: kernel")
	}
	return s.kernel
}

// Network returns the network model.
func (s *Simulator) Network() *network.Network {
	if s.network == nil {
		panic("simulator not configured: network")
	}
	return s.network
}

// Metrics returns the metrics collector.
func (s *Simulator) Metrics() *metrics.Collector {
	if s.metrics == nil {
		panic("simulator not configured: metrics")
	}
	return s.metrics
}

// Topology returns the generated topology.
func (s *Simulator) Topology() *p2p.Topology {
	if s.topology == nil {
		panic("simulator not configured: topology")
	}
	return s.topology
}

// Producer returns the block producer.
func (s *Simulator) Producer() *producer.BlockProducer {
	if s.producer == nil {
		panic("simulator not configured: block producer")
	}
	return s.producer
}

// Node returns the node registered under id, or nil.
func (s *Simulator) Node(id core.ActorID) *p2p.Node { return s.nodes[id] }

// NodeIDs returns every node id in sorted order.
func (s *Simulator) NodeIDs() []core.ActorID {
	ids := make([]core.ActorID, len(s.nodeIDs))
	copy(ids, s.nodeIDs)
	return ids
}

// Run advances the simulation by duration simulated seconds.
func (s *Simulator) Run(duration float64) {
	s.Kernel().RunUntil(s.Kernel().Now() + duration)
}

// FinalizeMetrics computes the aggregate results record.
func (s *Simulator) FinalizeMetrics() *metrics.Results {
	return s.Metrics().Finalize()
}

// BroadcastTransaction injects a transaction at origin (the first node
// when empty) with the given hash (random when zero) and returns the hash.
func (s *Simulator) BroadcastTransaction(origin core.ActorID, txHash common.Hash) common.Hash {
	if origin == "" {
		origin = s.nodeIDs[0]
	}
	if txHash == (common.Hash{}) {
		var buf [32]byte
		s.Kernel().RNG().Read(buf[:])
		txHash = common.BytesToHash(buf[:])
	}

	s.Kernel().DeliverCommand(&protocol.BroadcastTransaction{
		TxHash:       txHash,
		TxSender:     common.BytesToAddress(txHash[:20]),
		Nonce:        0,
		GasFeeCap:    uint256.NewInt(1000000000),
		GasTipCap:    uint256.NewInt(100000000),
		BlobGasPrice: uint256.NewInt(1000000),
		TxSize:       131072,
		BlobCount:    1,
		CellMask:     protocol.AllOnes(),
	}, origin)

	return txHash
}

// Pool returns the blobpool of a node, a convenience for tests and
// external drivers.
func (s *Simulator) Pool(id core.ActorID) *pool.Blobpool {
	if node := s.nodes[id]; node != nil {
		return node.Pool()
	}
	return nil
}

// metricsSampler drives periodic snapshots of the collector.
type metricsSampler struct {
	kernel    *core.Kernel
	collector *metrics.Collector
	interval  float64
}

func (m *metricsSampler) ID() core.ActorID { return samplerID }

func (m *metricsSampler) OnEvent(payload core.EventPayload) {
	if _, ok := payload.(*protocol.SampleMetrics); ok {
		m.collector.Snapshot()
		m.schedule()
	}
}

func (m *metricsSampler) schedule() {
	m.kernel.Schedule(core.Event{
		Time:     m.kernel.Now() + m.interval,
		Priority: core.CommandPriority,
		Target:   samplerID,
		Payload:  &protocol.SampleMetrics{},
	})
}
