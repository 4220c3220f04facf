package metrics

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethp2p/sparse-blobpool/core"
	"github.com/ethp2p/sparse-blobpool/network"
	"github.com/ethp2p/sparse-blobpool/protocol"
)

// FullBlobSize is the estimated wire size of a full blob transaction, used
// as the naive-propagation baseline for bandwidth reduction: all cells
// plus envelope overhead.
const FullBlobSize = protocol.CellsPerBlob*protocol.CellSize + 1024

// txMetrics tracks one transaction across the run.
type txMetrics struct {
	firstSeenTime            float64
	firstSeenNode            core.ActorID
	propagationCompleteTime  float64
	propagationComplete      bool
	providerCount            int
	samplerCount             int
	nodesSeen                map[core.ActorID]bool
	cellMasks                map[core.ActorID]protocol.CellMask
	includedAtSlot           uint64
	included                 bool
}

// Collector accumulates run statistics. One collector is shared by handle
// between the network and every node; it is only ever touched from within
// the kernel loop.
type Collector struct {
	clock          Clock
	sampleInterval float64
	nodeCount      int

	expectedProviderProbability float64

	bytesSent     map[core.ActorID]int
	bytesReceived map[core.ActorID]int

	nodeCountries    map[core.ActorID]network.Country
	nodeCustodyMasks map[core.ActorID]protocol.CellMask

	bandwidthTimeseries   []BandwidthSnapshot
	propagationTimeseries []PropagationSnapshot

	txs map[common.Hash]*txMetrics

	lastSnapshotTime float64
	snapshotTaken    bool
	totalBytes       int
	controlBytes     int
	dataBytes        int
}

// Clock reports current simulated time; satisfied by *core.Kernel.
type Clock interface {
	Now() float64
}

// NewCollector creates a collector sampling every sampleInterval simulated
// seconds.
func NewCollector(clock Clock, sampleInterval, expectedProviderProbability float64) *Collector {
	return &Collector{
		clock:                       clock,
		sampleInterval:              sampleInterval,
		expectedProviderProbability: expectedProviderProbability,
		bytesSent:                   make(map[core.ActorID]int),
		bytesReceived:               make(map[core.ActorID]int),
		nodeCountries:               make(map[core.ActorID]network.Country),
		nodeCustodyMasks:            make(map[core.ActorID]protocol.CellMask),
		txs:                         make(map[common.Hash]*txMetrics),
	}
}

// RegisterNode records a node's country and custody assignment.
func (c *Collector) RegisterNode(id core.ActorID, country network.Country, custody protocol.CellMask) {
	c.nodeCountries[id] = country
	c.nodeCustodyMasks[id] = custody
	c.nodeCount++
}

// RecordBandwidth accounts one delivered message. Implements
// network.BandwidthRecorder.
func (c *Collector) RecordBandwidth(from, to core.ActorID, size int, isControl bool) {
	c.bytesSent[from] += size
	c.bytesReceived[to] += size
	c.totalBytes += size
	if isControl {
		c.controlBytes += size
	} else {
		c.dataBytes += size
	}
}

// RecordTxSeen notes that a node holds a transaction with the given
// availability. Full availability classifies the node as a provider.
func (c *Collector) RecordTxSeen(node core.ActorID, hash common.Hash, mask protocol.CellMask) {
	now := c.clock.Now()

	tx := c.txs[hash]
	if tx == nil {
		tx = &txMetrics{
			firstSeenTime: now,
			firstSeenNode: node,
			nodesSeen:     make(map[core.ActorID]bool),
			cellMasks:     make(map[core.ActorID]protocol.CellMask),
		}
		c.txs[hash] = tx
	}
	tx.nodesSeen[node] = true
	tx.cellMasks[node] = mask

	if mask.IsFull() {
		tx.providerCount++
	} else {
		tx.samplerCount++
	}

	if !tx.propagationComplete && float64(len(tx.nodesSeen)) >= 0.99*float64(c.nodeCount) {
		tx.propagationComplete = true
		tx.propagationCompleteTime = now
	}
}

// RecordInclusion notes the slot a transaction was first included at.
func (c *Collector) RecordInclusion(hash common.Hash, slot uint64) {
	if tx := c.txs[hash]; tx != nil && !tx.included {
		tx.included = true
		tx.includedAtSlot = slot
	}
}

// IncludedAtSlot returns the inclusion slot for hash, if any.
func (c *Collector) IncludedAtSlot(hash common.Hash) (uint64, bool) {
	tx := c.txs[hash]
	if tx == nil || !tx.included {
		return 0, false
	}
	return tx.includedAtSlot, true
}

// Snapshot appends a bandwidth sample and per-active-tx propagation
// samples. No-op when called within sampleInterval of the previous sample.
func (c *Collector) Snapshot() {
	now := c.clock.Now()
	if c.snapshotTaken && now-c.lastSnapshotTime < c.sampleInterval {
		return
	}
	c.lastSnapshotTime = now
	c.snapshotTaken = true

	perCountry := make(map[network.Country]int)
	for id, sent := range c.bytesSent {
		if country, ok := c.nodeCountries[id]; ok {
			perCountry[country] += sent
		}
	}
	c.bandwidthTimeseries = append(c.bandwidthTimeseries, BandwidthSnapshot{
		Timestamp:    now,
		TotalBytes:   c.totalBytes,
		ControlBytes: c.controlBytes,
		DataBytes:    c.dataBytes,
		PerCountry:   perCountry,
	})

	for _, hash := range c.sortedTxHashes() {
		tx := c.txs[hash]
		if tx.propagationComplete {
			continue
		}
		fullCount := 0
		var union protocol.CellMask
		for _, mask := range tx.cellMasks {
			if mask.IsFull() {
				fullCount++
			}
			union = union.Or(mask)
		}
		c.propagationTimeseries = append(c.propagationTimeseries, PropagationSnapshot{
			Timestamp:              now,
			TxHash:                 hash,
			NodesSeen:              len(tx.nodesSeen),
			NodesWithFull:          fullCount,
			NodesWithSample:        len(tx.nodesSeen) - fullCount,
			ReconstructionPossible: union.OnesCount() >= protocol.ReconstructionThreshold,
		})
	}
}

// Finalize takes a last snapshot and computes the aggregate results.
func (c *Collector) Finalize() *Results {
	c.Snapshot()

	var (
		propagationTimes []float64
		reconstructed    int
		totalProviders   int
		totalRoles       int
	)
	for _, hash := range c.sortedTxHashes() {
		tx := c.txs[hash]
		if tx.propagationComplete {
			propagationTimes = append(propagationTimes, tx.propagationCompleteTime-tx.firstSeenTime)
		}
		var union protocol.CellMask
		for _, mask := range tx.cellMasks {
			union = union.Or(mask)
		}
		if union.OnesCount() >= protocol.ReconstructionThreshold {
			reconstructed++
		}
		totalProviders += tx.providerCount
		totalRoles += tx.providerCount + tx.samplerCount
	}
	sort.Float64s(propagationTimes)

	totalTxs := len(c.txs)

	var bandwidthPerBlob float64
	if totalTxs > 0 {
		bandwidthPerBlob = float64(c.totalBytes) / float64(totalTxs)
	}

	var bandwidthReduction float64
	if c.totalBytes > 0 {
		naive := float64(FullBlobSize) * float64(c.nodeCount) * float64(totalTxs)
		bandwidthReduction = naive / float64(c.totalBytes)
	}

	var providerCoverages []float64
	for _, hash := range c.sortedTxHashes() {
		tx := c.txs[hash]
		if seen := len(tx.nodesSeen); seen > 0 {
			providerCoverages = append(providerCoverages, float64(tx.providerCount)/float64(seen))
		}
	}
	var providerCoverage float64
	if len(providerCoverages) > 0 {
		sum := 0.0
		for _, v := range providerCoverages {
			sum += v
		}
		providerCoverage = sum / float64(len(providerCoverages))
	}

	// Local availability: providers need the full blob, samplers need
	// their custody columns.
	availabilityMet, nodeTxPairs := 0, 0
	for _, tx := range c.txs {
		for node, mask := range tx.cellMasks {
			nodeTxPairs++
			if mask.IsFull() || mask.Covers(c.nodeCustodyMasks[node]) {
				availabilityMet++
			}
		}
	}
	var localAvailability float64
	if nodeTxPairs > 0 {
		localAvailability = float64(availabilityMet) / float64(nodeTxPairs)
	}

	columnCoverage := make([]int, protocol.CellsPerBlob)
	for _, custody := range c.nodeCustodyMasks {
		for col := 0; col < protocol.CellsPerBlob; col++ {
			if custody.Bit(col) {
				columnCoverage[col]++
			}
		}
	}

	results := &Results{
		TotalBandwidthBytes:      c.totalBytes,
		BandwidthPerBlob:         bandwidthPerBlob,
		BandwidthReductionVsFull: bandwidthReduction,
		ColumnCoverage:           columnCoverage,
		BandwidthTimeseries:      c.bandwidthTimeseries,
		PropagationTimeseries:    c.propagationTimeseries,
		BytesSentPerNode:         c.bytesSent,
		BytesReceivedPerNode:     c.bytesReceived,
		ExpectedProviderCoverage: c.expectedProviderProbability,
		ProviderCoverage:         providerCoverage,
		LocalAvailabilityMet:     localAvailability,
	}
	if len(propagationTimes) > 0 {
		results.MedianPropagationTime = median(propagationTimes)
		results.P99PropagationTime = propagationTimes[int(float64(len(propagationTimes))*0.99)]
	}
	if totalTxs > 0 {
		results.PropagationSuccessRate = float64(len(propagationTimes)) / float64(totalTxs)
		results.ReconstructionSuccessRate = float64(reconstructed) / float64(totalTxs)
	}
	if totalRoles > 0 {
		results.ObservedProviderRatio = float64(totalProviders) / float64(totalRoles)
	}
	return results
}

func (c *Collector) sortedTxHashes() []common.Hash {
	hashes := make([]common.Hash, 0, len(c.txs))
	for hash := range c.txs {
		hashes = append(hashes, hash)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})
	return hashes
}

// median of a sorted slice.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
