package protocol

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/ethp2p/sparse-blobpool/core"
)

// Announce advertises pooled transactions to a peer. For blob (type 3)
// entries the cell mask describes which columns the announcer holds; a
// full mask marks the announcer as a provider.
type Announce struct {
	Sender core.ActorID
	Types  []byte
	Sizes  []uint32
	Hashes []common.Hash

	// CellMask is present when the announcement contains type-3 entries.
	CellMask *CellMask
}

func (m *Announce) From() core.ActorID { return m.Sender }
func (m *Announce) Data() bool         { return false }

func (m *Announce) Size() int {
	size := MessageOverhead + len(m.Types) + 4*len(m.Sizes) + 32*len(m.Hashes)
	if m.CellMask != nil {
		size += 16
	}
	return size
}

// TxBody is a transaction envelope without blob data. Only the byte count
// matters to the model.
type TxBody struct {
	Hash    common.Hash
	TxBytes int
}

// GetTxBodies requests transaction envelopes by hash.
type GetTxBodies struct {
	Sender core.ActorID
	Hashes []common.Hash
}

func (m *GetTxBodies) From() core.ActorID { return m.Sender }
func (m *GetTxBodies) Size() int          { return MessageOverhead + 32*len(m.Hashes) }
func (m *GetTxBodies) Data() bool         { return false }

// TxBodies answers a GetTxBodies request. Unavailable entries are nil
// placeholders, preserving positional correspondence.
type TxBodies struct {
	Sender core.ActorID
	Bodies []*TxBody
}

func (m *TxBodies) From() core.ActorID { return m.Sender }
func (m *TxBodies) Data() bool         { return true }

func (m *TxBodies) Size() int {
	size := MessageOverhead
	for _, body := range m.Bodies {
		if body != nil {
			size += body.TxBytes
		}
	}
	return size
}

// Cell is one erasure-coded column with its proof. Contents are opaque in
// the model; only sizes are accounted.
type Cell struct {
	Data  []byte
	Proof []byte
}

// GetCells requests the columns selected by Mask for each listed
// transaction.
type GetCells struct {
	Sender core.ActorID
	Hashes []common.Hash
	Mask   CellMask
}

func (m *GetCells) From() core.ActorID { return m.Sender }
func (m *GetCells) Size() int          { return MessageOverhead + 32*len(m.Hashes) + 16 }
func (m *GetCells) Data() bool         { return true }

// Cells answers a GetCells request. Cells[i] holds one slot per requested
// column of the i-th transaction, in ascending column order (it is not
// indexed by column number); a slot is nil when its column was requested
// but unavailable, and Cells[i] is nil when the transaction is unknown.
// Mask is the union of columns actually provided across the listed
// transactions.
type Cells struct {
	Sender core.ActorID
	Hashes []common.Hash
	Cells  [][]*Cell
	Mask   CellMask
}

func (m *Cells) From() core.ActorID { return m.Sender }
func (m *Cells) Data() bool         { return true }

func (m *Cells) Size() int {
	count := 0
	for _, txCells := range m.Cells {
		for _, c := range txCells {
			if c != nil {
				count++
			}
		}
	}
	return MessageOverhead + 32*len(m.Hashes) + 16 + count*(CellSize+ProofSize)
}

// Block is a produced block: the slot, its proposer, and the blob
// transactions it includes.
type Block struct {
	Slot         uint64
	Proposer     core.ActorID
	BlobTxHashes []common.Hash
}

// BlockAnnouncement broadcasts a produced block to peers.
type BlockAnnouncement struct {
	Sender core.ActorID
	Block  *Block
}

func (m *BlockAnnouncement) From() core.ActorID { return m.Sender }
func (m *BlockAnnouncement) Data() bool         { return false }

func (m *BlockAnnouncement) Size() int {
	// slot + proposer + header overhead, then the hash list
	return 64 + 32*len(m.Block.BlobTxHashes)
}
