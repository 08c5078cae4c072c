package storage

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basechain/node/pkg/block"
)

func testBlock(t *testing.T) *block.Block {
	t.Helper()
	cb, err := block.NewCoinbaseTx([20]byte{5})
	require.NoError(t, err)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	tx := &block.Transaction{
		Inputs:  []*block.TxInput{{PrevTxID: [32]byte{0xaa}, OutIndex: 1, PubKey: priv.PubKey()}},
		Outputs: []*block.TxOutput{{Value: 42, PubKeyHash: [20]byte{6}}},
	}
	tx.ID = tx.Hash()
	require.NoError(t, tx.Sign(priv))

	b, err := block.NewCandidate([32]byte{0x11}, 3, 1700000000, []*block.Transaction{cb, tx})
	require.NoError(t, err)
	b.Hash = [32]byte{0x77}
	b.Nonce = 12345
	return b
}

func requireBlockEqual(t *testing.T, want, got *block.Block) {
	t.Helper()
	require.Equal(t, want.Hash, got.Hash)
	require.Equal(t, want.PrevHash, got.PrevHash)
	require.Equal(t, want.MerkleRoot, got.MerkleRoot)
	require.Equal(t, want.Nonce, got.Nonce)
	require.Equal(t, want.Height, got.Height)
	require.Equal(t, want.Timestamp, got.Timestamp)
	require.Len(t, got.Txs, len(want.Txs))
	for i := range want.Txs {
		require.Equal(t, want.Txs[i].ID, got.Txs[i].ID)
		require.Equal(t, want.Txs[i].Hash(), got.Txs[i].Hash())
	}
}

func TestBlockRoundTrip(t *testing.T) {
	n := NewNode(NewMemStore())
	b := testBlock(t)

	_, ok, err := n.GetBlock(b.Hash)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, n.PutBlock(b.Hash, b))
	got, ok, err := n.GetBlock(b.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	requireBlockEqual(t, b, got)

	// the restored transaction still verifies
	assert.NoError(t, got.Txs[1].VerifySignatures())

	require.NoError(t, n.DeleteBlock(b.Hash))
	_, ok, err = n.GetBlock(b.Hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTipRoundTrip(t *testing.T) {
	n := NewNode(NewMemStore())

	_, ok, err := n.GetTip()
	require.NoError(t, err)
	assert.False(t, ok)

	want := [32]byte{0xab, 0xcd}
	require.NoError(t, n.PutTip(want))
	got, ok, err := n.GetTip()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestMempoolRoundTrip(t *testing.T) {
	n := NewNode(NewMemStore())
	b := testBlock(t)

	require.NoError(t, n.PutMempool(b.Txs[1:]))
	got, err := n.GetMempool()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.Txs[1].ID, got[0].ID)
	assert.NoError(t, got[0].VerifySignatures())
}

func TestOrphansRoundTrip(t *testing.T) {
	n := NewNode(NewMemStore())
	b := testBlock(t)

	got, err := n.GetOrphans()
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, n.PutOrphans(map[[32]byte]*block.Block{b.Hash: b}))
	got, err = n.GetOrphans()
	require.NoError(t, err)
	require.Len(t, got, 1)
	requireBlockEqual(t, b, got[b.Hash])
}

func TestNodeIdentityRoundTrip(t *testing.T) {
	n := NewNode(NewMemStore())

	_, ok, err := n.GetNodeIdentity()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, n.PutNodeIdentity([]byte("key material")))
	got, ok, err := n.GetNodeIdentity()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("key material"), got)
}

func TestUTXOBucketRoundTrip(t *testing.T) {
	n := NewNode(NewMemStore())
	txID := [32]byte{0x42}
	bucket := map[uint32]*block.TxOutput{
		0: {Value: 10, PubKeyHash: [20]byte{1}},
		2: {Value: 30, PubKeyHash: [20]byte{2}},
	}

	require.NoError(t, n.PutUTXOBucket(txID, bucket))
	got, ok, err := n.GetUTXOBucket(txID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(10), got[0].Value)
	assert.Equal(t, uint32(30), got[2].Value)

	// writing an empty bucket removes the record
	require.NoError(t, n.PutUTXOBucket(txID, nil))
	_, ok, err = n.GetUTXOBucket(txID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenBackends(t *testing.T) {
	for _, backend := range []Backend{BackendMemory, BackendBadger, BackendLevelDB} {
		backend := backend
		t.Run(string(backend), func(t *testing.T) {
			db, err := Open(backend, t.TempDir())
			require.NoError(t, err)
			defer db.Close()

			require.NoError(t, db.Write([]byte("k"), []byte("v")))
			got, err := db.Read([]byte("k"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)

			ok, err := db.Has([]byte("k"))
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, db.Delete([]byte("k")))
			_, err = db.Read([]byte("k"))
			assert.ErrorIs(t, err, ErrNotFound)
			ok, err = db.Has([]byte("k"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}

	_, err := Open("bogus", t.TempDir())
	assert.Error(t, err)
}
