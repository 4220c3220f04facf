package network

import (
	"math"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethp2p/sparse-blobpool/core"
	"github.com/ethp2p/sparse-blobpool/internal/metrics"
)

// BandwidthRecorder receives per-delivery byte accounting; implemented by
// the metrics collector.
type BandwidthRecorder interface {
	RecordBandwidth(from, to core.ActorID, size int, isControl bool)
}

type link struct {
	from, to core.ActorID
}

// Network schedules message deliveries with a modeled delay:
//
//	delay = max(0, base + jitter + transmission + codel_queue)
//
// Delivery never fails; congestion is expressed as extra delay, never as
// loss.
type Network struct {
	kernel           *core.Kernel
	latencies        *LatencyModel
	defaultBandwidth float64
	recorder         BandwidthRecorder
	codelCfg         CodelConfig

	countries  map[core.ActorID]Country
	bandwidths map[core.ActorID]float64
	codel      map[link]*codelState

	messagesDelivered uint64
	totalBytes        uint64
}

// New creates a network scheduling on kernel and accounting to recorder.
func New(kernel *core.Kernel, latencies *LatencyModel, recorder BandwidthRecorder, defaultBandwidth float64, codelCfg CodelConfig) *Network {
	return &Network{
		kernel:           kernel,
		latencies:        latencies,
		defaultBandwidth: defaultBandwidth,
		recorder:         recorder,
		codelCfg:         codelCfg,
		countries:        make(map[core.ActorID]Country),
		bandwidths:       make(map[core.ActorID]float64),
		codel:            make(map[link]*codelState),
	}
}

// RegisterNode records a node's country and bandwidth; bandwidth <= 0
// falls back to the network default.
func (n *Network) RegisterNode(id core.ActorID, country Country, bandwidth float64) {
	n.countries[id] = country
	if bandwidth <= 0 {
		bandwidth = n.defaultBandwidth
	}
	n.bandwidths[id] = bandwidth
}

// Deliver schedules msg to arrive at the receiver after the modeled delay
// and accounts its bytes.
func (n *Network) Deliver(msg core.Message, from, to core.ActorID) {
	delay := n.delay(from, to, msg.Size())

	n.kernel.Schedule(core.Event{
		Time:     n.kernel.Now() + delay,
		Priority: core.MessagePriority,
		Target:   to,
		Payload:  msg,
	})

	n.messagesDelivered++
	n.totalBytes += uint64(msg.Size())
	metrics.MessagesDelivered.Inc()
	metrics.BytesDelivered.Add(float64(msg.Size()))

	n.recorder.RecordBandwidth(from, to, msg.Size(), !msg.Data())

	log.Trace("Delivering message", "from", from, "to", to, "size", msg.Size(), "delay", delay)
}

// MessagesDelivered is the count of deliveries so far.
func (n *Network) MessagesDelivered() uint64 { return n.messagesDelivered }

// TotalBytes is the accounted byte total of all deliveries.
func (n *Network) TotalBytes() uint64 { return n.totalBytes }

func (n *Network) delay(from, to core.ActorID, sizeBytes int) float64 {
	params := n.latencies.Lookup(n.countries[from], n.countries[to])

	base := params.BaseMs / 1000.0
	jitter := n.kernel.RNG().NormFloat64() * base * params.JitterRatio

	fromBw := n.bandwidth(from)
	toBw := n.bandwidth(to)
	transmission := float64(sizeBytes) / math.Min(fromBw, toBw)

	codel := n.codelDelay(from, to, sizeBytes)

	return math.Max(0, base+jitter+transmission+codel)
}

func (n *Network) bandwidth(id core.ActorID) float64 {
	if bw, ok := n.bandwidths[id]; ok {
		return bw
	}
	return n.defaultBandwidth
}

func (n *Network) codelDelay(from, to core.ActorID, sizeBytes int) float64 {
	key := link{from: from, to: to}
	state := n.codel[key]
	if state == nil {
		state = new(codelState)
		n.codel[key] = state
	}
	return state.delay(n.kernel.Now(), sizeBytes, n.codelCfg)
}
