// Package p2p implements the honest node protocol engine and the topology
// builder for the sparse blobpool network.
package p2p

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/ethp2p/sparse-blobpool/config"
	"github.com/ethp2p/sparse-blobpool/core"
	"github.com/ethp2p/sparse-blobpool/metrics"
	"github.com/ethp2p/sparse-blobpool/network"
	"github.com/ethp2p/sparse-blobpool/pool"
	"github.com/ethp2p/sparse-blobpool/protocol"
)

// Role is a node's per-transaction role.
type Role uint8

const (
	// RoleProvider fetches and stores the full blob payload.
	RoleProvider Role = iota
	// RoleSampler fetches custody-aligned cells only.
	RoleSampler
)

func (r Role) String() string {
	if r == RoleProvider {
		return "provider"
	}
	return "sampler"
}

// TxState is the fetch pipeline state of a pending transaction.
type TxState uint8

const (
	// StateAnnounced: announcement received, awaiting decision.
	StateAnnounced TxState = iota
	// StateAwaitingProviders: waiting for provider announcements.
	StateAwaitingProviders
	// StateFetchingTx: transaction body requested.
	StateFetchingTx
	// StateFetchingCells: cells requested.
	StateFetchingCells
)

// RequestKind distinguishes outstanding request types.
type RequestKind uint8

const (
	RequestTxBody RequestKind = iota
	RequestCells
)

// PendingTx tracks a transaction being fetched.
type PendingTx struct {
	TxHash         common.Hash
	Role           Role
	State          TxState
	ProviderPeers  mapset.Set[core.ActorID]
	SamplerPeers   mapset.Set[core.ActorID]
	TxBodyReceived bool
	CellsReceived  protocol.CellMask
	RequestID      *uint64
	Retries        int
	FirstSeen      float64
}

// maxTxBodyRetries bounds the fetch state machine: one alternate peer is
// tried after a body request timeout, then the transaction is dropped.
const maxTxBodyRetries = 1

// PendingRequest tracks one outstanding request. Created when the request
// is sent, destroyed on response or timeout.
type PendingRequest struct {
	RequestID  uint64
	TxHash     common.Hash
	TargetPeer core.ActorID
	Kind       RequestKind
	SentAt     float64
}

// Node is an honest actor speaking the sparse blobpool protocol. Each node
// owns a blobpool and decides per announced transaction, by deterministic
// hash dice, whether to fetch the full blob (provider) or only its custody
// columns plus a few random extras (sampler).
type Node struct {
	id      core.ActorID
	kernel  *core.Kernel
	net     *network.Network
	cfg     *config.SimulationConfig
	pool    *pool.Blobpool
	metrics *metrics.Collector

	peers []core.ActorID // sorted

	pendingTxs      map[common.Hash]*PendingTx
	pendingRequests map[uint64]*PendingRequest
	nextRequestID   uint64

	custodyMask protocol.CellMask
}

// NewNode creates a node with a custody assignment derived from its ID.
func NewNode(id core.ActorID, kernel *core.Kernel, net *network.Network, collector *metrics.Collector, cfg *config.SimulationConfig) *Node {
	return &Node{
		id:              id,
		kernel:          kernel,
		net:             net,
		cfg:             cfg,
		pool:            pool.New(cfg.BlobpoolMaxBytes, cfg.MaxTxsPerSender),
		metrics:         collector,
		pendingTxs:      make(map[common.Hash]*PendingTx),
		pendingRequests: make(map[uint64]*PendingRequest),
		custodyMask:     CustodyMask(id, cfg.CustodyColumns),
	}
}

func (n *Node) ID() core.ActorID { return n.id }

// Pool exposes the node's blobpool.
func (n *Node) Pool() *pool.Blobpool { return n.pool }

// CustodyMask is the node's custody column assignment.
func (n *Node) CustodyMask() protocol.CellMask { return n.custodyMask }

// Peers returns the node's peer set in sorted order.
func (n *Node) Peers() []core.ActorID {
	peers := make([]core.ActorID, len(n.peers))
	copy(peers, n.peers)
	return peers
}

// AddPeer adds a peer connection.
func (n *Node) AddPeer(peer core.ActorID) {
	i := sort.Search(len(n.peers), func(i int) bool { return n.peers[i] >= peer })
	if i < len(n.peers) && n.peers[i] == peer {
		return
	}
	n.peers = append(n.peers, "")
	copy(n.peers[i+1:], n.peers[i:])
	n.peers[i] = peer
}

// RemovePeer drops a peer connection.
func (n *Node) RemovePeer(peer core.ActorID) {
	i := sort.Search(len(n.peers), func(i int) bool { return n.peers[i] >= peer })
	if i < len(n.peers) && n.peers[i] == peer {
		n.peers = append(n.peers[:i], n.peers[i+1:]...)
	}
}

// CustodyMask deterministically derives a node's custody columns: a PRNG
// seeded from the node ID's hash draws distinct column indices. Stable
// across runs.
func CustodyMask(id core.ActorID, custodyColumns int) protocol.CellMask {
	digest := sha256.Sum256([]byte(id))
	seed := int64(binary.BigEndian.Uint64(digest[:8]))
	rng := rand.New(rand.NewSource(seed))

	var mask protocol.CellMask
	for mask.OnesCount() < custodyColumns {
		mask = mask.SetBit(rng.Intn(protocol.CellsPerBlob))
	}
	return mask
}

const twoTo64 = float64(1) * (1 << 32) * (1 << 32)

// RoleFor decides a node's role for a transaction. The decision is a pure
// function of (node, hash) so re-encountering the same transaction never
// flips the role.
func RoleFor(id core.ActorID, hash common.Hash, providerProbability float64) Role {
	digest := sha256.Sum256(append([]byte(string(id)+":"), []byte(hash.Hex())...))
	u := float64(binary.BigEndian.Uint64(digest[:8])) / twoTo64
	if u < providerProbability {
		return RoleProvider
	}
	return RoleSampler
}

// OnEvent is the node's single dispatch entrypoint.
func (n *Node) OnEvent(payload core.EventPayload) {
	switch msg := payload.(type) {
	case *protocol.Announce:
		n.handleAnnounce(msg)
	case *protocol.GetTxBodies:
		n.handleGetTxBodies(msg)
	case *protocol.TxBodies:
		n.handleTxBodies(msg)
	case *protocol.GetCells:
		n.handleGetCells(msg)
	case *protocol.Cells:
		n.handleCells(msg)
	case *protocol.BlockAnnouncement:
		n.handleBlockAnnouncement(msg.Block)
	case *protocol.BroadcastTransaction:
		n.handleBroadcastTransaction(msg)
	case *protocol.ProduceBlock:
		n.handleProduceBlock(msg.Slot)
	case *protocol.RequestTimeout:
		n.handleRequestTimeout(msg.RequestID)
	case *protocol.ProviderObservationTimeout:
		n.handleProviderObservationTimeout(msg.TxHash)
	case *protocol.TxCleanup:
		n.pool.Remove(msg.TxHash)
	}
}

// handleAnnounce processes a transaction availability announcement.
func (n *Node) handleAnnounce(msg *protocol.Announce) {
	fullMask := msg.CellMask != nil && msg.CellMask.IsFull()

	for i, hash := range msg.Hashes {
		if i >= len(msg.Types) || msg.Types[i] != protocol.BlobTxType {
			continue
		}
		if n.pool.Contains(hash) {
			continue
		}

		if pending, ok := n.pendingTxs[hash]; ok {
			if fullMask {
				pending.ProviderPeers.Add(msg.Sender)
			} else {
				pending.SamplerPeers.Add(msg.Sender)
			}
			if pending.State == StateAwaitingProviders &&
				pending.Role == RoleSampler &&
				pending.ProviderPeers.Cardinality() >= n.cfg.MinProvidersBeforeSample {
				n.startSamplerFetch(hash)
			}
			continue
		}

		role := RoleFor(n.id, hash, n.cfg.ProviderProbability)
		pending := &PendingTx{
			TxHash:        hash,
			Role:          role,
			State:         StateAnnounced,
			ProviderPeers: mapset.NewThreadUnsafeSet[core.ActorID](),
			SamplerPeers:  mapset.NewThreadUnsafeSet[core.ActorID](),
			FirstSeen:     n.kernel.Now(),
		}
		if fullMask {
			pending.ProviderPeers.Add(msg.Sender)
		} else {
			pending.SamplerPeers.Add(msg.Sender)
		}
		n.pendingTxs[hash] = pending

		if role == RoleProvider {
			if fullMask {
				n.startProviderFetch(hash, msg.Sender)
			} else {
				pending.State = StateAwaitingProviders
				n.scheduleProviderObservationTimeout(hash)
			}
		} else {
			if pending.ProviderPeers.Cardinality() >= n.cfg.MinProvidersBeforeSample {
				n.startSamplerFetch(hash)
			} else {
				pending.State = StateAwaitingProviders
				n.scheduleProviderObservationTimeout(hash)
			}
		}
	}
}

// startProviderFetch requests the transaction body from a known provider.
func (n *Node) startProviderFetch(hash common.Hash, from core.ActorID) {
	pending, ok := n.pendingTxs[hash]
	if !ok {
		return
	}
	pending.State = StateFetchingTx
	n.sendGetTxBodies(hash, from)
}

// startSamplerFetch requests the transaction body, preferring provider
// peers over sampler peers.
func (n *Node) startSamplerFetch(hash common.Hash) {
	pending, ok := n.pendingTxs[hash]
	if !ok {
		return
	}
	pending.State = StateFetchingTx

	target, ok := firstPeer(pending.ProviderPeers)
	if !ok {
		if target, ok = firstPeer(pending.SamplerPeers); !ok {
			return
		}
	}
	n.sendGetTxBodies(hash, target)
}

func (n *Node) sendGetTxBodies(hash common.Hash, to core.ActorID) {
	pending, ok := n.pendingTxs[hash]
	if !ok {
		return
	}
	requestID := n.allocateRequestID()
	pending.RequestID = &requestID
	n.pendingRequests[requestID] = &PendingRequest{
		RequestID:  requestID,
		TxHash:     hash,
		TargetPeer: to,
		Kind:       RequestTxBody,
		SentAt:     n.kernel.Now(),
	}

	n.net.Deliver(&protocol.GetTxBodies{Sender: n.id, Hashes: []common.Hash{hash}}, n.id, to)
	n.scheduleRequestTimeout(requestID)
}

// handleGetTxBodies serves transaction bodies from the pool, with nil
// placeholders for unknown hashes.
func (n *Node) handleGetTxBodies(msg *protocol.GetTxBodies) {
	bodies := make([]*protocol.TxBody, 0, len(msg.Hashes))
	for _, hash := range msg.Hashes {
		if entry := n.pool.Get(hash); entry != nil {
			bodies = append(bodies, &protocol.TxBody{Hash: entry.TxHash, TxBytes: entry.TxSize})
		} else {
			bodies = append(bodies, nil)
		}
	}
	n.net.Deliver(&protocol.TxBodies{Sender: n.id, Bodies: bodies}, n.id, msg.Sender)
}

// handleTxBodies advances the pipeline to cell fetching.
func (n *Node) handleTxBodies(msg *protocol.TxBodies) {
	for _, body := range msg.Bodies {
		if body == nil {
			continue
		}
		pending, ok := n.pendingTxs[body.Hash]
		if !ok {
			continue
		}
		n.clearPendingRequest(pending)
		pending.TxBodyReceived = true

		if pending.Role == RoleProvider {
			n.requestAllCells(body.Hash, msg.Sender)
		} else {
			n.requestCustodyCells(body.Hash, msg.Sender)
		}
	}
}

// requestAllCells asks for the complete column set (provider role).
func (n *Node) requestAllCells(hash common.Hash, from core.ActorID) {
	n.sendGetCells(hash, from, protocol.AllOnes())
}

// requestCustodyCells asks for custody columns plus extra random ones
// (sampler role). The extra sampling is what lets honest nodes detect
// withholding.
func (n *Node) requestCustodyCells(hash common.Hash, from core.ActorID) {
	n.sendGetCells(hash, from, n.custodyMask.Or(n.extraColumns()))
}

func (n *Node) sendGetCells(hash common.Hash, to core.ActorID, mask protocol.CellMask) {
	pending, ok := n.pendingTxs[hash]
	if !ok {
		return
	}
	pending.State = StateFetchingCells

	requestID := n.allocateRequestID()
	pending.RequestID = &requestID
	n.pendingRequests[requestID] = &PendingRequest{
		RequestID:  requestID,
		TxHash:     hash,
		TargetPeer: to,
		Kind:       RequestCells,
		SentAt:     n.kernel.Now(),
	}

	n.net.Deliver(&protocol.GetCells{Sender: n.id, Hashes: []common.Hash{hash}, Mask: mask}, n.id, to)
	n.scheduleRequestTimeout(requestID)
}

// extraColumns draws extra_random_columns distinct column indices outside
// the custody set, using the kernel PRNG (a dynamic pick, unlike the
// custody assignment itself).
func (n *Node) extraColumns() protocol.CellMask {
	var available []int
	for col := 0; col < protocol.CellsPerBlob; col++ {
		if !n.custodyMask.Bit(col) {
			available = append(available, col)
		}
	}
	count := n.cfg.ExtraRandomColumns
	if count > len(available) {
		count = len(available)
	}

	var mask protocol.CellMask
	for _, i := range n.kernel.RNG().Perm(len(available))[:count] {
		mask = mask.SetBit(available[i])
	}
	return mask
}

// handleGetCells serves the requested columns the pool has, with nil
// placeholders for requested-but-missing ones. The response mask is the
// union of provided intersections.
func (n *Node) handleGetCells(msg *protocol.GetCells) {
	cells := make([][]*protocol.Cell, 0, len(msg.Hashes))
	var provided protocol.CellMask

	for _, hash := range msg.Hashes {
		entry := n.pool.Get(hash)
		if entry == nil {
			cells = append(cells, nil)
			continue
		}
		available := entry.CellMask.And(msg.Mask)
		provided = provided.Or(available)

		txCells := make([]*protocol.Cell, 0, available.OnesCount())
		for col := 0; col < protocol.CellsPerBlob; col++ {
			if available.Bit(col) {
				txCells = append(txCells, zeroCell)
			} else if msg.Mask.Bit(col) {
				txCells = append(txCells, nil)
			}
		}
		cells = append(cells, txCells)
	}

	n.net.Deliver(&protocol.Cells{
		Sender: n.id,
		Hashes: msg.Hashes,
		Cells:  cells,
		Mask:   provided,
	}, n.id, msg.Sender)
}

// zeroCell stands in for real cell content; contents are opaque in the
// model and only sizes are accounted.
var zeroCell = &protocol.Cell{
	Data:  make([]byte, protocol.CellSize),
	Proof: make([]byte, protocol.ProofSize),
}

// handleCells merges received columns and completes the transaction when
// the role's availability target is met.
func (n *Node) handleCells(msg *protocol.Cells) {
	for _, hash := range msg.Hashes {
		pending, ok := n.pendingTxs[hash]
		if !ok {
			continue
		}
		n.clearPendingRequest(pending)
		pending.CellsReceived = pending.CellsReceived.Or(msg.Mask)

		if pending.Role == RoleProvider {
			if pending.CellsReceived.IsFull() {
				n.completeTx(hash, protocol.AllOnes())
			}
		} else if pending.CellsReceived.Covers(n.custodyMask) {
			n.completeTx(hash, pending.CellsReceived)
		}
	}
}

// completeTx inserts the fetched transaction into the pool and gossips it
// onward. A rejected insertion is treated as a drop.
func (n *Node) completeTx(hash common.Hash, mask protocol.CellMask) {
	pending, ok := n.pendingTxs[hash]
	if !ok {
		return
	}
	delete(n.pendingTxs, hash)

	// Full tx metadata is unknown at this point in the model; derive a
	// minimal entry with the sender taken from the hash.
	entry := &pool.BlobTxEntry{
		TxHash:       hash,
		Sender:       common.BytesToAddress(hash[:20]),
		Nonce:        0,
		GasFeeCap:    uint256.NewInt(1000000000),
		GasTipCap:    uint256.NewInt(100000000),
		BlobGasPrice: uint256.NewInt(1000000),
		TxSize:       131072,
		BlobCount:    1,
		CellMask:     mask,
		ReceivedAt:   n.kernel.Now(),
		AnnouncedTo:  mapset.NewThreadUnsafeSet[core.ActorID](),
	}
	if _, err := n.pool.Add(entry); err != nil {
		log.Debug("Fetched transaction rejected by pool", "node", n.id, "tx", hash, "err", err)
		return
	}

	n.metrics.RecordTxSeen(n.id, hash, mask)
	n.announceTx(entry)

	log.Debug("Transaction complete", "node", n.id, "tx", hash, "role", pending.Role, "columns", mask.OnesCount())
}

// announceTx gossips an entry to every peer not yet announced to.
func (n *Node) announceTx(entry *pool.BlobTxEntry) {
	mask := entry.CellMask
	for _, peer := range n.peers {
		if entry.AnnouncedTo.Contains(peer) {
			continue
		}
		n.net.Deliver(&protocol.Announce{
			Sender:   n.id,
			Types:    []byte{protocol.BlobTxType},
			Sizes:    []uint32{uint32(entry.TxSize)},
			Hashes:   []common.Hash{entry.TxHash},
			CellMask: &mask,
		}, n.id, peer)
		entry.AnnouncedTo.Add(peer)
	}
}

// handleBroadcastTransaction injects a locally originated transaction:
// pool it with full availability and announce to all peers.
func (n *Node) handleBroadcastTransaction(cmd *protocol.BroadcastTransaction) {
	entry := &pool.BlobTxEntry{
		TxHash:       cmd.TxHash,
		Sender:       cmd.TxSender,
		Nonce:        cmd.Nonce,
		GasFeeCap:    cmd.GasFeeCap,
		GasTipCap:    cmd.GasTipCap,
		BlobGasPrice: cmd.BlobGasPrice,
		TxSize:       cmd.TxSize,
		BlobCount:    cmd.BlobCount,
		CellMask:     cmd.CellMask,
		ReceivedAt:   n.kernel.Now(),
		AnnouncedTo:  mapset.NewThreadUnsafeSet[core.ActorID](),
	}
	if _, err := n.pool.Add(entry); err != nil {
		log.Debug("Broadcast transaction rejected by pool", "node", n.id, "tx", cmd.TxHash, "err", err)
		return
	}

	// The origin always holds the full blob.
	n.metrics.RecordTxSeen(n.id, cmd.TxHash, cmd.CellMask)
	n.announceTx(entry)
}

// handleProduceBlock assembles a block from the pool under the inclusion
// policy, announces it to every peer and applies inclusion locally.
func (n *Node) handleProduceBlock(slot uint64) {
	var (
		hashes    []common.Hash
		blobCount int
	)
	for _, entry := range n.pool.IterByPriority() {
		if !n.includable(entry) {
			continue
		}
		if blobCount+entry.BlobCount > n.cfg.MaxBlobsPerBlock {
			break
		}
		blobCount += entry.BlobCount
		hashes = append(hashes, entry.TxHash)
	}

	block := &protocol.Block{Slot: slot, Proposer: n.id, BlobTxHashes: hashes}
	for _, peer := range n.peers {
		n.net.Deliver(&protocol.BlockAnnouncement{Sender: n.id, Block: block}, n.id, peer)
	}

	// The proposer sheds its own included transactions too.
	n.handleBlockAnnouncement(block)

	log.Debug("Produced block", "node", n.id, "slot", slot, "txs", len(hashes), "blobs", blobCount)
}

func (n *Node) includable(entry *pool.BlobTxEntry) bool {
	switch n.cfg.InclusionPolicy {
	case config.InclusionOptimistic:
		return entry.CellMask.OnesCount() > 0
	default:
		// Conservative; proactive behaves the same until resampling
		// before inclusion is implemented.
		return entry.CellMask.IsFull()
	}
}

// handleBlockAnnouncement retires included transactions: pending fetches
// stop, pooled entries are cleaned up after a grace delay so late peers
// can still be served.
func (n *Node) handleBlockAnnouncement(block *protocol.Block) {
	for _, hash := range block.BlobTxHashes {
		delete(n.pendingTxs, hash)

		if n.pool.Contains(hash) {
			n.metrics.RecordInclusion(hash, block.Slot)
			n.kernel.Schedule(core.Event{
				Time:     n.kernel.Now() + txCleanupDelay,
				Priority: core.CommandPriority,
				Target:   n.id,
				Payload:  &protocol.TxCleanup{TxHash: hash},
			})
		}
	}
}

// txCleanupDelay keeps included transactions servable briefly after the
// block announcement.
const txCleanupDelay = 2.0

// handleRequestTimeout retries a timed-out tx body request with another
// peer, or drops the transaction. Cell request timeouts always drop: the
// state machine stays bounded.
func (n *Node) handleRequestTimeout(requestID uint64) {
	request, ok := n.pendingRequests[requestID]
	if !ok {
		return // completed before the timer fired
	}
	delete(n.pendingRequests, requestID)

	pending, ok := n.pendingTxs[request.TxHash]
	if !ok {
		return
	}

	if request.Kind == RequestTxBody && pending.Retries < maxTxBodyRetries {
		candidates := pending.ProviderPeers.Union(pending.SamplerPeers)
		candidates.Remove(request.TargetPeer)
		if next, ok := firstPeer(candidates); ok {
			pending.Retries++
			n.sendGetTxBodies(request.TxHash, next)
			return
		}
	}
	delete(n.pendingTxs, request.TxHash)
	log.Debug("Request timed out, dropping transaction", "node", n.id, "tx", request.TxHash, "kind", request.Kind)
}

// handleProviderObservationTimeout proceeds with whatever peers announced
// the transaction, or drops it when none did.
func (n *Node) handleProviderObservationTimeout(hash common.Hash) {
	pending, ok := n.pendingTxs[hash]
	if !ok || pending.State != StateAwaitingProviders {
		return
	}

	if pending.ProviderPeers.Cardinality() > 0 || pending.SamplerPeers.Cardinality() > 0 {
		if pending.Role == RoleProvider {
			target, ok := firstPeer(pending.ProviderPeers)
			if !ok {
				target, _ = firstPeer(pending.SamplerPeers)
			}
			n.startProviderFetch(hash, target)
		} else {
			n.startSamplerFetch(hash)
		}
		return
	}
	delete(n.pendingTxs, hash)
}

func (n *Node) allocateRequestID() uint64 {
	id := n.nextRequestID
	n.nextRequestID++
	return id
}

func (n *Node) clearPendingRequest(pending *PendingTx) {
	if pending.RequestID != nil {
		delete(n.pendingRequests, *pending.RequestID)
		pending.RequestID = nil
	}
}

func (n *Node) scheduleRequestTimeout(requestID uint64) {
	n.kernel.Schedule(core.Event{
		Time:     n.kernel.Now() + n.cfg.RequestTimeout,
		Priority: core.CommandPriority,
		Target:   n.id,
		Payload:  &protocol.RequestTimeout{RequestID: requestID},
	})
}

func (n *Node) scheduleProviderObservationTimeout(hash common.Hash) {
	n.kernel.Schedule(core.Event{
		Time:     n.kernel.Now() + n.cfg.ProviderObservationTimeout,
		Priority: core.CommandPriority,
		Target:   n.id,
		Payload:  &protocol.ProviderObservationTimeout{TxHash: hash},
	})
}

// firstPeer returns the lexicographically smallest member, keeping peer
// selection reproducible wherever the protocol allows "any peer".
func firstPeer(set mapset.Set[core.ActorID]) (core.ActorID, bool) {
	var (
		best  core.ActorID
		found bool
	)
	set.Each(func(id core.ActorID) bool {
		if !found || id < best {
			best = id
			found = true
		}
		return false
	})
	return best, found
}
