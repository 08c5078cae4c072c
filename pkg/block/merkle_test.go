package block

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerkleRootEmptyIsInvalid(t *testing.T) {
	_, err := MerkleRoot(nil)
	assert.ErrorIs(t, err, ErrEmptyTxList)
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	leaf := []byte("lone tx bytes")
	root, err := MerkleRoot([][]byte{leaf})
	require.NoError(t, err)

	// a single leaf is its own root: just the leaf hash, no duplication
	assert.Equal(t, [32]byte(sha256.Sum256(leaf)), root)
}

func TestMerkleRootTwoLeaves(t *testing.T) {
	a, b := []byte("a"), []byte("b")
	root, err := MerkleRoot([][]byte{a, b})
	require.NoError(t, err)

	ha, hb := sha256.Sum256(a), sha256.Sum256(b)
	want := sha256.Sum256(append(ha[:], hb[:]...))
	assert.Equal(t, [32]byte(want), root)
}

func TestMerkleRootOddCountDuplicatesLast(t *testing.T) {
	a, b, c := []byte("a"), []byte("b"), []byte("c")
	root, err := MerkleRoot([][]byte{a, b, c})
	require.NoError(t, err)

	ha, hb, hc := sha256.Sum256(a), sha256.Sum256(b), sha256.Sum256(c)
	ab := sha256.Sum256(append(ha[:], hb[:]...))
	cc := sha256.Sum256(append(hc[:], hc[:]...))
	want := sha256.Sum256(append(ab[:], cc[:]...))
	assert.Equal(t, [32]byte(want), root)
}

func TestMerkleRootIsOrderSensitive(t *testing.T) {
	ab, err := MerkleRoot([][]byte{[]byte("a"), []byte("b")})
	require.NoError(t, err)
	ba, err := MerkleRoot([][]byte{[]byte("b"), []byte("a")})
	require.NoError(t, err)
	assert.NotEqual(t, ab, ba)
}
