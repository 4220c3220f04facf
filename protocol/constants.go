// Package protocol defines the wire-level data model of the sparse
// blobpool protocol: cell masks, network messages with their byte
// accounting, and the local commands actors address to themselves.
package protocol

// Cell and blob geometry.
const (
	CellSize     = 2048 // bytes per cell
	ProofSize    = 48   // opaque KZG proof per cell
	CellsPerBlob = 128  // columns per extended blob

	// ReconstructionThreshold is the number of distinct columns required
	// for Reed-Solomon decoding of a blob.
	ReconstructionThreshold = 64

	MaxBlobsPerTx = 6
)

// BlobTxType is the transaction envelope type carrying blobs. Announcement
// entries of any other type are ignored by the sparse protocol.
const BlobTxType = 3

// Message IDs on the wire.
const (
	MsgAnnounce    = 0x08
	MsgGetTxBodies = 0x09
	MsgTxBodies    = 0x0a
	MsgGetCells    = 0x12
	MsgCells       = 0x13
)

// MessageOverhead is the fixed per-message framing cost (request id plus
// message type).
const MessageOverhead = 8
