// Package producer drives the slot loop: once per slot it picks the
// proposer round-robin and commands it to produce a block.
package producer

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethp2p/sparse-blobpool/core"
	"github.com/ethp2p/sparse-blobpool/protocol"
)

// ProducerID is the reserved actor ID of the process-wide block producer.
const ProducerID core.ActorID = "block-producer"

// BlockProducer is the single slot-loop actor. Block assembly itself
// happens on the proposer node; the producer only rotates proposers and
// dispatches ProduceBlock commands.
type BlockProducer struct {
	kernel       *core.Kernel
	nodes        []core.ActorID // sorted; proposer rotation order
	slotDuration float64
	currentSlot  uint64
}

// New creates a block producer rotating over nodes.
func New(kernel *core.Kernel, nodes []core.ActorID, slotDuration float64) *BlockProducer {
	return &BlockProducer{
		kernel:       kernel,
		nodes:        nodes,
		slotDuration: slotDuration,
	}
}

func (p *BlockProducer) ID() core.ActorID { return ProducerID }

// CurrentSlot is the next slot to be produced.
func (p *BlockProducer) CurrentSlot() uint64 { return p.currentSlot }

// Start schedules the first slot tick.
func (p *BlockProducer) Start() {
	p.scheduleTick()
}

func (p *BlockProducer) OnEvent(payload core.EventPayload) {
	if _, ok := payload.(*protocol.SlotTick); ok {
		p.onSlotTick()
	}
}

func (p *BlockProducer) onSlotTick() {
	if len(p.nodes) > 0 {
		proposer := p.nodes[p.currentSlot%uint64(len(p.nodes))]
		p.kernel.DeliverCommand(&protocol.ProduceBlock{Slot: p.currentSlot}, proposer)
		log.Debug("Slot tick", "slot", p.currentSlot, "proposer", proposer)
	}
	p.currentSlot++
	p.scheduleTick()
}

func (p *BlockProducer) scheduleTick() {
	p.kernel.Schedule(core.Event{
		Time:     p.kernel.Now() + p.slotDuration,
		Priority: core.CommandPriority,
		Target:   ProducerID,
		Payload:  &protocol.SlotTick{},
	})
}
