// Package pool implements the per-node blob transaction store: hash and
// (sender, nonce) indexes, replace-by-fee admission, per-sender caps and
// priority-based capacity eviction.
package pool

import (
	"bytes"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ethp2p/sparse-blobpool/core"
	"github.com/ethp2p/sparse-blobpool/protocol"
)

// RBFBumpPercent is the minimum fee bump, in percent, required for a
// replacement transaction to displace a same-sender same-nonce entry.
const RBFBumpPercent = 10

// BlobTxEntry is a blob transaction held in a pool. It stores metadata and
// cell availability; cell contents are requested on demand from peers.
type BlobTxEntry struct {
	TxHash       common.Hash
	Sender       common.Address
	Nonce        uint64
	GasFeeCap    *uint256.Int
	GasTipCap    *uint256.Int
	BlobGasPrice *uint256.Int
	TxSize       int // envelope size without blob data
	BlobCount    int // 1..6
	CellMask     protocol.CellMask
	ReceivedAt   float64

	// AnnouncedTo tracks peers this entry has been announced to, so
	// gossip never repeats itself.
	AnnouncedTo mapset.Set[core.ActorID]
}

// EffectiveTip is the entry's eviction and block-packing priority.
func (e *BlobTxEntry) EffectiveTip() *uint256.Int { return e.GasTipCap }

// TotalBlobCells is the number of erasure-coded columns across all blobs.
func (e *BlobTxEntry) TotalBlobCells() int { return e.BlobCount * protocol.CellsPerBlob }

// TotalBlobSize is the byte size of all blob cells, excluding the envelope.
func (e *BlobTxEntry) TotalBlobSize() int { return e.TotalBlobCells() * protocol.CellSize }

// HasFullAvailability reports whether every cell is locally available.
func (e *BlobTxEntry) HasFullAvailability() bool { return e.CellMask.IsFull() }

// AvailableColumnCount is the number of locally available columns.
func (e *BlobTxEntry) AvailableColumnCount() int { return e.CellMask.OnesCount() }

// RBFRejectedError reports a replacement that did not bump fees enough.
type RBFRejectedError struct {
	Existing common.Hash
}

func (e *RBFRejectedError) Error() string {
	return fmt.Sprintf("replacement underpriced: need %d%% bump over %s", RBFBumpPercent, e.Existing)
}

// SenderLimitError reports a sender exceeding its transaction cap.
type SenderLimitError struct {
	Sender common.Address
	Count  int
	Max    int
}

func (e *SenderLimitError) Error() string {
	return fmt.Sprintf("sender %s has %d/%d pooled transactions", e.Sender, e.Count, e.Max)
}

// PoolFullError reports that capacity eviction could not make room.
type PoolFullError struct {
	PoolSize int
	MaxSize  int
}

func (e *PoolFullError) Error() string {
	return fmt.Sprintf("pool full: %d/%d bytes", e.PoolSize, e.MaxSize)
}

// AddResult describes the side effects of a successful Add.
type AddResult struct {
	Replaced *common.Hash  // hash displaced by RBF, if any
	Evicted  []common.Hash // hashes evicted for capacity
}

// Blobpool stores blob transactions for one node.
//
// Invariants: every entry is indexed both by hash and by (sender, nonce);
// total size equals the sum of entry sizes; per-sender counts and total
// size never exceed the configured limits.
type Blobpool struct {
	maxBytes     int
	maxPerSender int

	entries   map[common.Hash]*BlobTxEntry
	bySender  map[common.Address]map[uint64]common.Hash
	totalSize int
}

// New creates an empty pool with the given capacity limits.
func New(maxBytes, maxPerSender int) *Blobpool {
	return &Blobpool{
		maxBytes:     maxBytes,
		maxPerSender: maxPerSender,
		entries:      make(map[common.Hash]*BlobTxEntry),
		bySender:     make(map[common.Address]map[uint64]common.Hash),
	}
}

// SizeBytes is the summed envelope size of all entries.
func (p *Blobpool) SizeBytes() int { return p.totalSize }

// TxCount is the number of pooled transactions.
func (p *Blobpool) TxCount() int { return len(p.entries) }

// Get returns the entry for hash, or nil.
func (p *Blobpool) Get(hash common.Hash) *BlobTxEntry { return p.entries[hash] }

// Contains reports whether hash is pooled.
func (p *Blobpool) Contains(hash common.Hash) bool {
	_, ok := p.entries[hash]
	return ok
}

// GetBySender returns the sender's entries in nonce order.
func (p *Blobpool) GetBySender(sender common.Address) []*BlobTxEntry {
	nonces := p.bySender[sender]
	if len(nonces) == 0 {
		return nil
	}
	keys := make([]uint64, 0, len(nonces))
	for n := range nonces {
		keys = append(keys, n)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	entries := make([]*BlobTxEntry, 0, len(keys))
	for _, n := range keys {
		entries = append(entries, p.entries[nonces[n]])
	}
	return entries
}

// SenderTxCount is the number of pooled transactions from sender.
func (p *Blobpool) SenderTxCount(sender common.Address) int {
	return len(p.bySender[sender])
}

// Add admits a transaction into the pool.
//
// Admission is staged: the RBF check, the sender cap and the eviction
// victim selection all run before any index is touched, so a rejected add
// leaves the pool exactly as it was.
func (p *Blobpool) Add(entry *BlobTxEntry) (AddResult, error) {
	var result AddResult

	// Stage 1: replace-by-fee. A same-sender same-nonce entry must be out-
	// priced by at least RBFBumpPercent on both fee cap and tip cap.
	var replaced *BlobTxEntry
	if existingHash, ok := p.bySender[entry.Sender][entry.Nonce]; ok {
		existing := p.entries[existingHash]
		if !canReplace(existing, entry) {
			return result, &RBFRejectedError{Existing: existingHash}
		}
		replaced = existing
	}

	// Stage 2: sender cap, counted after any RBF displacement.
	senderCount := len(p.bySender[entry.Sender])
	if replaced != nil {
		senderCount--
	}
	if senderCount >= p.maxPerSender {
		return result, &SenderLimitError{Sender: entry.Sender, Count: senderCount, Max: p.maxPerSender}
	}

	// Stage 3: pick eviction victims until the entry fits. Victims are the
	// lowest-tip entries, ties broken by lowest hash; an incoming entry
	// never evicts anything priced at or above itself.
	projected := p.totalSize
	if replaced != nil {
		projected -= replaced.TxSize
	}
	var victims []*BlobTxEntry
	excluded := map[common.Hash]bool{entry.TxHash: true}
	if replaced != nil {
		excluded[replaced.TxHash] = true
	}
	for projected+entry.TxSize > p.maxBytes {
		victim := p.lowestPriority(excluded)
		if victim == nil || victim.EffectiveTip().Cmp(entry.EffectiveTip()) >= 0 {
			return result, &PoolFullError{PoolSize: p.totalSize, MaxSize: p.maxBytes}
		}
		victims = append(victims, victim)
		excluded[victim.TxHash] = true
		projected -= victim.TxSize
	}

	// Apply: all checks passed, commit the staged plan.
	if replaced != nil {
		p.removeInternal(replaced.TxHash)
		h := replaced.TxHash
		result.Replaced = &h
	}
	for _, victim := range victims {
		p.removeInternal(victim.TxHash)
		result.Evicted = append(result.Evicted, victim.TxHash)
	}

	p.entries[entry.TxHash] = entry
	nonces := p.bySender[entry.Sender]
	if nonces == nil {
		nonces = make(map[uint64]common.Hash)
		p.bySender[entry.Sender] = nonces
	}
	nonces[entry.Nonce] = entry.TxHash
	p.totalSize += entry.TxSize

	return result, nil
}

// Remove deletes hash from the pool, returning the entry or nil.
func (p *Blobpool) Remove(hash common.Hash) *BlobTxEntry {
	if _, ok := p.entries[hash]; !ok {
		return nil
	}
	return p.removeInternal(hash)
}

// RemoveBatch removes every listed hash, returning the entries found.
func (p *Blobpool) RemoveBatch(hashes []common.Hash) []*BlobTxEntry {
	var removed []*BlobTxEntry
	for _, hash := range hashes {
		if entry := p.Remove(hash); entry != nil {
			removed = append(removed, entry)
		}
	}
	return removed
}

// UpdateCellMask overwrites the availability mask of hash.
func (p *Blobpool) UpdateCellMask(hash common.Hash, mask protocol.CellMask) bool {
	entry, ok := p.entries[hash]
	if !ok {
		return false
	}
	entry.CellMask = mask
	return true
}

// MergeCells ORs received columns into the entry's mask. Commutative and
// idempotent in the received mask.
func (p *Blobpool) MergeCells(hash common.Hash, received protocol.CellMask) (protocol.CellMask, bool) {
	entry, ok := p.entries[hash]
	if !ok {
		return protocol.CellMask{}, false
	}
	entry.CellMask = entry.CellMask.Or(received)
	return entry.CellMask, true
}

// IterByPriority returns entries by descending effective tip, ties broken
// by ascending hash for reproducibility.
func (p *Blobpool) IterByPriority() []*BlobTxEntry {
	entries := make([]*BlobTxEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		switch entries[i].EffectiveTip().Cmp(entries[j].EffectiveTip()) {
		case 1:
			return true
		case -1:
			return false
		}
		return bytes.Compare(entries[i].TxHash[:], entries[j].TxHash[:]) < 0
	})
	return entries
}

// IterExpired returns entries received before now-ttl, oldest first.
func (p *Blobpool) IterExpired(now, ttl float64) []*BlobTxEntry {
	cutoff := now - ttl
	var expired []*BlobTxEntry
	for _, entry := range p.entries {
		if entry.ReceivedAt < cutoff {
			expired = append(expired, entry)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if expired[i].ReceivedAt != expired[j].ReceivedAt {
			return expired[i].ReceivedAt < expired[j].ReceivedAt
		}
		return bytes.Compare(expired[i].TxHash[:], expired[j].TxHash[:]) < 0
	})
	return expired
}

// Clear drops every entry.
func (p *Blobpool) Clear() {
	p.entries = make(map[common.Hash]*BlobTxEntry)
	p.bySender = make(map[common.Address]map[uint64]common.Hash)
	p.totalSize = 0
}

func canReplace(existing, replacement *BlobTxEntry) bool {
	return replacement.GasFeeCap.Cmp(bumpedPrice(existing.GasFeeCap)) >= 0 &&
		replacement.GasTipCap.Cmp(bumpedPrice(existing.GasTipCap)) >= 0
}

// bumpedPrice is ceil(price * (100+RBFBumpPercent) / 100).
func bumpedPrice(price *uint256.Int) *uint256.Int {
	bumped := new(uint256.Int).Mul(price, uint256.NewInt(100+RBFBumpPercent))
	bumped.Add(bumped, uint256.NewInt(99))
	return bumped.Div(bumped, uint256.NewInt(100))
}

func (p *Blobpool) removeInternal(hash common.Hash) *BlobTxEntry {
	entry := p.entries[hash]
	delete(p.entries, hash)
	p.totalSize -= entry.TxSize

	if nonces := p.bySender[entry.Sender]; nonces != nil {
		delete(nonces, entry.Nonce)
		if len(nonces) == 0 {
			delete(p.bySender, entry.Sender)
		}
	}
	return entry
}

// lowestPriority finds the non-excluded entry with the lowest effective
// tip, ties broken by lowest hash.
func (p *Blobpool) lowestPriority(excluded map[common.Hash]bool) *BlobTxEntry {
	var lowest *BlobTxEntry
	for _, entry := range p.entries {
		if excluded[entry.TxHash] {
			continue
		}
		if lowest == nil {
			lowest = entry
			continue
		}
		switch entry.EffectiveTip().Cmp(lowest.EffectiveTip()) {
		case -1:
			lowest = entry
		case 0:
			if bytes.Compare(entry.TxHash[:], lowest.TxHash[:]) < 0 {
				lowest = entry
			}
		}
	}
	return lowest
}
