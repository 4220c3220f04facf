package protocol

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BroadcastTransaction injects a transaction into a node's pool and has it
// announced to peers. Used by the driver (and external fuzzers or
// adversaries) to seed the simulation; never transmitted over the network.
type BroadcastTransaction struct {
	TxHash       common.Hash
	TxSender     common.Address
	Nonce        uint64
	GasFeeCap    *uint256.Int
	GasTipCap    *uint256.Int
	BlobGasPrice *uint256.Int
	TxSize       int
	BlobCount    int
	CellMask     CellMask
}

func (c *BroadcastTransaction) CommandName() string { return "BroadcastTransaction" }

// ProduceBlock asks the receiving node to assemble and broadcast a block
// for the given slot. Dispatched by the block producer to the proposer.
type ProduceBlock struct {
	Slot uint64
}

func (c *ProduceBlock) CommandName() string { return "ProduceBlock" }

// RequestTimeout fires when an outstanding request has been waiting
// request_timeout seconds. Stale timeouts (the request already completed)
// are discarded by the handler.
type RequestTimeout struct {
	RequestID uint64
}

func (c *RequestTimeout) CommandName() string { return "RequestTimeout" }

// ProviderObservationTimeout fires when a node has waited long enough for
// provider announcements of a transaction and should proceed with the
// peers it has.
type ProviderObservationTimeout struct {
	TxHash common.Hash
}

func (c *ProviderObservationTimeout) CommandName() string { return "ProviderObservationTimeout" }

// TxCleanup removes an included transaction from the pool. Scheduled a
// fixed delay after block inclusion so late peers can still be served.
type TxCleanup struct {
	TxHash common.Hash
}

func (c *TxCleanup) CommandName() string { return "TxCleanup" }

// SlotTick advances the block producer's slot loop.
type SlotTick struct{}

func (c *SlotTick) CommandName() string { return "SlotTick" }

// SampleMetrics triggers a periodic metrics snapshot.
type SampleMetrics struct{}

func (c *SampleMetrics) CommandName() string { return "SampleMetrics" }
