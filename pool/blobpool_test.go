package pool

import (
	"fmt"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ethp2p/sparse-blobpool/core"
	"github.com/ethp2p/sparse-blobpool/protocol"
)

func makeEntry(hash byte, sender byte, nonce uint64, feeCap, tipCap uint64, size int) *BlobTxEntry {
	return &BlobTxEntry{
		TxHash:       common.Hash{hash},
		Sender:       common.Address{sender},
		Nonce:        nonce,
		GasFeeCap:    uint256.NewInt(feeCap),
		GasTipCap:    uint256.NewInt(tipCap),
		BlobGasPrice: uint256.NewInt(1),
		TxSize:       size,
		BlobCount:    1,
		CellMask:     protocol.AllOnes(),
		AnnouncedTo:  mapset.NewThreadUnsafeSet[core.ActorID](),
	}
}

// checkInvariants verifies the pool's size and index invariants.
func checkInvariants(t *testing.T, p *Blobpool) {
	t.Helper()

	total := 0
	for _, entry := range p.IterByPriority() {
		total += entry.TxSize
		indexed := false
		for _, e := range p.GetBySender(entry.Sender) {
			if e.TxHash == entry.TxHash {
				require.Equal(t, entry.Nonce, e.Nonce)
				indexed = true
			}
		}
		require.True(t, indexed, "entry %s missing from sender index", entry.TxHash)
	}
	require.Equal(t, total, p.SizeBytes())
}

func TestAddAndGet(t *testing.T) {
	p := New(10000, 3)

	e := makeEntry(1, 0xaa, 0, 1000, 100, 900)
	result, err := p.Add(e)
	require.NoError(t, err)
	require.Nil(t, result.Replaced)
	require.Empty(t, result.Evicted)

	require.True(t, p.Contains(e.TxHash))
	require.Same(t, e, p.Get(e.TxHash))
	require.Equal(t, 1, p.TxCount())
	require.Equal(t, 900, p.SizeBytes())
	require.Equal(t, 1, p.SenderTxCount(e.Sender))
	checkInvariants(t, p)
}

func TestRBFInsufficientBump(t *testing.T) {
	p := New(10000, 3)

	e1 := makeEntry(1, 0xaa, 0, 1000, 100, 900)
	_, err := p.Add(e1)
	require.NoError(t, err)

	// 9.9% fee bump is below the 10% threshold.
	e2 := makeEntry(2, 0xaa, 0, 1099, 110, 900)
	_, err = p.Add(e2)

	var rbfErr *RBFRejectedError
	require.ErrorAs(t, err, &rbfErr)
	require.Equal(t, e1.TxHash, rbfErr.Existing)

	// The failed add left the pool untouched.
	require.True(t, p.Contains(e1.TxHash))
	require.False(t, p.Contains(e2.TxHash))
	require.Equal(t, 900, p.SizeBytes())
	checkInvariants(t, p)
}

func TestRBFReplacement(t *testing.T) {
	p := New(10000, 3)

	e1 := makeEntry(1, 0xaa, 0, 1000, 100, 900)
	_, err := p.Add(e1)
	require.NoError(t, err)

	e2 := makeEntry(2, 0xaa, 0, 1100, 110, 900)
	result, err := p.Add(e2)
	require.NoError(t, err)
	require.NotNil(t, result.Replaced)
	require.Equal(t, e1.TxHash, *result.Replaced)

	require.False(t, p.Contains(e1.TxHash))
	require.True(t, p.Contains(e2.TxHash))
	require.Equal(t, 1, p.TxCount())
	require.Equal(t, 1, p.SenderTxCount(e2.Sender))
	checkInvariants(t, p)
}

func TestRBFRequiresBothBumps(t *testing.T) {
	p := New(10000, 3)

	_, err := p.Add(makeEntry(1, 0xaa, 0, 1000, 100, 900))
	require.NoError(t, err)

	// Sufficient fee cap bump, insufficient tip bump.
	_, err = p.Add(makeEntry(2, 0xaa, 0, 1100, 105, 900))
	var rbfErr *RBFRejectedError
	require.ErrorAs(t, err, &rbfErr)
}

func TestSenderLimit(t *testing.T) {
	p := New(100000, 3)

	for nonce := uint64(0); nonce < 3; nonce++ {
		_, err := p.Add(makeEntry(byte(nonce+1), 0xaa, nonce, 1000, 100, 900))
		require.NoError(t, err)
	}

	_, err := p.Add(makeEntry(4, 0xaa, 3, 1000, 100, 900))
	var limitErr *SenderLimitError
	require.ErrorAs(t, err, &limitErr)
	require.Equal(t, 3, limitErr.Count)

	// RBF of an existing nonce is still allowed at the limit.
	result, err := p.Add(makeEntry(5, 0xaa, 1, 1100, 110, 900))
	require.NoError(t, err)
	require.NotNil(t, result.Replaced)
	require.Equal(t, 3, p.SenderTxCount(common.Address{0xaa}))
	checkInvariants(t, p)
}

func TestCapacityEviction(t *testing.T) {
	p := New(10000, 100)

	// Ten 900-byte entries with tips 100..109 from distinct senders.
	for i := 0; i < 10; i++ {
		_, err := p.Add(makeEntry(byte(i+1), byte(i+1), 0, 1000, uint64(100+i), 900))
		require.NoError(t, err)
	}
	require.Equal(t, 9000, p.SizeBytes())

	// A 2000-byte entry with tip 500 evicts from the cheap end.
	big := makeEntry(0x20, 0x20, 0, 10000, 500, 2000)
	result, err := p.Add(big)
	require.NoError(t, err)
	require.Contains(t, result.Evicted, common.Hash{1}) // the tip=100 entry
	require.True(t, p.Contains(big.TxHash))
	require.LessOrEqual(t, p.SizeBytes(), 10000)
	checkInvariants(t, p)

	// A low-tip entry cannot evict anything above itself.
	_, err = p.Add(makeEntry(0x30, 0x30, 0, 10000, 1, 900))
	var fullErr *PoolFullError
	require.ErrorAs(t, err, &fullErr)
	checkInvariants(t, p)
}

func TestEvictionTieBreaksByHash(t *testing.T) {
	p := New(2000, 100)

	// Two same-tip entries; the lower hash is evicted first.
	_, err := p.Add(makeEntry(5, 1, 0, 1000, 100, 1000))
	require.NoError(t, err)
	_, err = p.Add(makeEntry(3, 2, 0, 1000, 100, 1000))
	require.NoError(t, err)

	result, err := p.Add(makeEntry(9, 3, 0, 1000, 200, 1000))
	require.NoError(t, err)
	require.Equal(t, []common.Hash{{3}}, result.Evicted)
	checkInvariants(t, p)
}

func TestEvictionNeverEvictsEqualTip(t *testing.T) {
	p := New(1000, 100)

	_, err := p.Add(makeEntry(1, 1, 0, 1000, 100, 1000))
	require.NoError(t, err)

	_, err = p.Add(makeEntry(2, 2, 0, 1000, 100, 1000))
	var fullErr *PoolFullError
	require.ErrorAs(t, err, &fullErr)
}

func TestRemoveClearsBothIndexes(t *testing.T) {
	p := New(10000, 3)

	e := makeEntry(1, 0xaa, 7, 1000, 100, 900)
	_, err := p.Add(e)
	require.NoError(t, err)

	removed := p.Remove(e.TxHash)
	require.Same(t, e, removed)
	require.False(t, p.Contains(e.TxHash))
	require.Equal(t, 0, p.SenderTxCount(e.Sender))
	require.Equal(t, 0, p.SizeBytes())

	// Removing again is a no-op.
	require.Nil(t, p.Remove(e.TxHash))

	// The freed (sender, nonce) slot admits a fresh entry without RBF.
	_, err = p.Add(makeEntry(2, 0xaa, 7, 1, 1, 900))
	require.NoError(t, err)
	checkInvariants(t, p)
}

func TestRemoveBatch(t *testing.T) {
	p := New(10000, 10)

	for i := 0; i < 4; i++ {
		_, err := p.Add(makeEntry(byte(i+1), 0xaa, uint64(i), 1000, 100, 900))
		require.NoError(t, err)
	}
	removed := p.RemoveBatch([]common.Hash{{1}, {3}, {0x99}})
	require.Len(t, removed, 2)
	require.Equal(t, 2, p.TxCount())
	checkInvariants(t, p)
}

func TestMergeCells(t *testing.T) {
	p := New(10000, 3)

	e := makeEntry(1, 0xaa, 0, 1000, 100, 900)
	e.CellMask = protocol.CellMask{}
	_, err := p.Add(e)
	require.NoError(t, err)

	m1 := protocol.CellMask{}.SetBit(3).SetBit(64)
	m2 := protocol.CellMask{}.SetBit(7)

	mask, ok := p.MergeCells(e.TxHash, m1)
	require.True(t, ok)
	require.Equal(t, m1, mask)

	// Commutative and idempotent in the received mask.
	mask, _ = p.MergeCells(e.TxHash, m2)
	require.Equal(t, m1.Or(m2), mask)
	mask, _ = p.MergeCells(e.TxHash, m1)
	require.Equal(t, m1.Or(m2), mask)

	_, ok = p.MergeCells(common.Hash{0x99}, m1)
	require.False(t, ok)
}

func TestUpdateCellMask(t *testing.T) {
	p := New(10000, 3)

	e := makeEntry(1, 0xaa, 0, 1000, 100, 900)
	_, err := p.Add(e)
	require.NoError(t, err)

	mask := protocol.CellMask{}.SetBit(1)
	require.True(t, p.UpdateCellMask(e.TxHash, mask))
	require.Equal(t, mask, p.Get(e.TxHash).CellMask)
	require.False(t, p.UpdateCellMask(common.Hash{0x99}, mask))
}

func TestIterByPriority(t *testing.T) {
	p := New(100000, 100)

	tips := []uint64{50, 300, 100, 300, 7}
	for i, tip := range tips {
		_, err := p.Add(makeEntry(byte(i+1), byte(i+1), 0, 1000, tip, 900))
		require.NoError(t, err)
	}

	entries := p.IterByPriority()
	require.Len(t, entries, len(tips))
	for i := 1; i < len(entries); i++ {
		cmp := entries[i-1].EffectiveTip().Cmp(entries[i].EffectiveTip())
		require.GreaterOrEqual(t, cmp, 0, "priority order violated at %d", i)
	}
	// Equal tips order by hash.
	require.Equal(t, common.Hash{2}, entries[0].TxHash)
	require.Equal(t, common.Hash{4}, entries[1].TxHash)
}

func TestIterExpired(t *testing.T) {
	p := New(100000, 100)

	for i := 0; i < 5; i++ {
		e := makeEntry(byte(i+1), byte(i+1), 0, 1000, 100, 900)
		e.ReceivedAt = float64(i * 10)
		_, err := p.Add(e)
		require.NoError(t, err)
	}

	expired := p.IterExpired(100, 75)
	require.Len(t, expired, 3) // received at 0, 10, 20
	require.Equal(t, common.Hash{1}, expired[0].TxHash)
}

func TestClear(t *testing.T) {
	p := New(100000, 100)
	for i := 0; i < 5; i++ {
		_, err := p.Add(makeEntry(byte(i+1), byte(i+1), 0, 1000, 100, 900))
		require.NoError(t, err)
	}
	p.Clear()
	require.Equal(t, 0, p.TxCount())
	require.Equal(t, 0, p.SizeBytes())
	_, err := p.Add(makeEntry(1, 1, 0, 1000, 100, 900))
	require.NoError(t, err)
}

func TestGetBySenderNonceOrder(t *testing.T) {
	p := New(100000, 100)
	for _, nonce := range []uint64{5, 1, 3} {
		_, err := p.Add(makeEntry(byte(nonce), 0xaa, nonce, 1000, 100, 900))
		require.NoError(t, err)
	}
	entries := p.GetBySender(common.Address{0xaa})
	require.Len(t, entries, 3)
	require.Equal(t, uint64(1), entries[0].Nonce)
	require.Equal(t, uint64(3), entries[1].Nonce)
	require.Equal(t, uint64(5), entries[2].Nonce)
}

func TestBumpedPriceCeiling(t *testing.T) {
	// ceil(1 * 110 / 100) = 2: a 1-wei tip needs at least 2 wei to replace.
	for _, tc := range []struct {
		price, want uint64
	}{
		{0, 0},
		{1, 2},
		{10, 11},
		{100, 110},
		{1000, 1100},
		{999, 1099}, // ceil(1098.9)
	} {
		require.Equal(t, tc.want, bumpedPrice(uint256.NewInt(tc.price)).Uint64(), fmt.Sprintf("price %d", tc.price))
	}
}
