package mempool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basechain/node/pkg/block"
	"github.com/basechain/node/pkg/utxo"
)

// spend builds an unsigned transaction with the given id byte spending the
// listed previous outputs; signatures are irrelevant to mempool semantics.
func spend(id byte, refs ...utxo.OutRef) *block.Transaction {
	tx := &block.Transaction{ID: [32]byte{id}}
	for _, r := range refs {
		tx.Inputs = append(tx.Inputs, &block.TxInput{PrevTxID: r.TxID, OutIndex: r.Index})
	}
	tx.Outputs = []*block.TxOutput{{Value: 1}}
	return tx
}

func ref(tx byte, idx uint32) utxo.OutRef {
	var id [32]byte
	id[0] = tx
	return utxo.OutRef{TxID: id, Index: idx}
}

func TestAdmitAndGet(t *testing.T) {
	m := New()
	tx := spend(1, ref(9, 0))
	require.NoError(t, m.Admit(tx))

	got, ok := m.Get(tx.ID)
	require.True(t, ok)
	assert.Equal(t, tx, got)
	assert.True(t, m.Has(tx.ID))
	assert.Equal(t, 1, m.Len())
}

func TestAdmitRejectsDoubleSpend(t *testing.T) {
	m := New()
	require.NoError(t, m.Admit(spend(1, ref(9, 0))))

	err := m.Admit(spend(2, ref(9, 0)))
	assert.ErrorIs(t, err, ErrDoubleSpend)
	assert.Equal(t, 1, m.Len())
}

func TestAdmitAllowsDistinctOutputsOfSameTx(t *testing.T) {
	m := New()
	require.NoError(t, m.Admit(spend(1, ref(9, 0))))
	require.NoError(t, m.Admit(spend(2, ref(9, 1))))
	assert.Equal(t, 2, m.Len())
}

func TestReservedRefs(t *testing.T) {
	m := New()
	require.NoError(t, m.Admit(spend(1, ref(9, 0), ref(9, 1))))

	reserved := m.ReservedRefs()
	assert.True(t, reserved[ref(9, 0)])
	assert.True(t, reserved[ref(9, 1)])
	assert.False(t, reserved[ref(9, 2)])
}

func TestEvictConflictingRemovesMinedAndConflictingTxs(t *testing.T) {
	m := New()
	mined := spend(1, ref(9, 0))
	conflicting := spend(2, ref(8, 0))
	unrelated := spend(3, ref(7, 0))
	require.NoError(t, m.Admit(mined))
	require.NoError(t, m.Admit(conflicting))
	require.NoError(t, m.Admit(unrelated))

	// the block carries the exact mined tx plus a different tx spending
	// conflicting's input
	competitor := spend(4, ref(8, 0))
	b := &block.Block{Txs: []*block.Transaction{mined, competitor}}
	m.EvictConflicting(b)

	assert.False(t, m.Has(mined.ID))
	assert.False(t, m.Has(conflicting.ID))
	assert.True(t, m.Has(unrelated.ID))

	// evicted inputs are free again
	require.NoError(t, m.Admit(spend(5, ref(9, 0))))
}

func TestEvictConflictingIgnoresCoinbase(t *testing.T) {
	m := New()
	held := spend(1, ref(9, 0))
	require.NoError(t, m.Admit(held))

	cb, err := block.NewCoinbaseTx([20]byte{1})
	require.NoError(t, err)
	m.EvictConflicting(&block.Block{Txs: []*block.Transaction{cb}})
	assert.True(t, m.Has(held.ID))
}

func TestReturnSkipsConflicts(t *testing.T) {
	m := New()
	detached := spend(1, ref(9, 0))
	m.Return(detached)
	assert.True(t, m.Has(detached.ID))

	// a conflicting tx now holds the slot: the returned tx is dropped
	m2 := New()
	require.NoError(t, m2.Admit(spend(2, ref(9, 0))))
	m2.Return(detached)
	assert.False(t, m2.Has(detached.ID))
	assert.Equal(t, 1, m2.Len())
}

func TestSnapshotIsDetached(t *testing.T) {
	m := New()
	require.NoError(t, m.Admit(spend(1, ref(9, 0))))
	require.NoError(t, m.Admit(spend(2, ref(8, 0))))

	snap := m.Snapshot()
	assert.Len(t, snap, 2)

	b := &block.Block{Txs: snap}
	m.EvictConflicting(b)
	assert.Equal(t, 0, m.Len())
	assert.Len(t, snap, 2)
}
