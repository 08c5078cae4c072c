package wallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basechain/node/pkg/block"
	"github.com/basechain/node/pkg/utxo"
)

func spendableFixture(t *testing.T, w *Wallet, values ...uint32) map[utxo.OutRef]*block.TxOutput {
	t.Helper()
	out := make(map[utxo.OutRef]*block.TxOutput, len(values))
	for i, v := range values {
		var txID [32]byte
		txID[0] = byte(i + 1)
		out[utxo.OutRef{TxID: txID, Index: 0}] = &block.TxOutput{Value: v, PubKeyHash: w.PubKeyHash()}
	}
	return out
}

func TestNewTransferWithChange(t *testing.T) {
	sender, err := New()
	require.NoError(t, err)
	recipient, err := New()
	require.NoError(t, err)

	tx, err := NewTransfer(sender, recipient.Address(), 30, spendableFixture(t, sender, 100))
	require.NoError(t, err)

	require.Len(t, tx.Inputs, 1)
	require.Len(t, tx.Outputs, 2)
	assert.Equal(t, uint32(30), tx.Outputs[0].Value)
	assert.Equal(t, recipient.PubKeyHash(), tx.Outputs[0].PubKeyHash)
	assert.Equal(t, uint32(70), tx.Outputs[1].Value)
	assert.Equal(t, sender.PubKeyHash(), tx.Outputs[1].PubKeyHash)

	assert.NoError(t, tx.VerifySignatures())
}

func TestNewTransferExactAmountHasNoChange(t *testing.T) {
	sender, err := New()
	require.NoError(t, err)
	recipient, err := New()
	require.NoError(t, err)

	tx, err := NewTransfer(sender, recipient.Address(), 100, spendableFixture(t, sender, 60, 40))
	require.NoError(t, err)

	require.Len(t, tx.Inputs, 2)
	require.Len(t, tx.Outputs, 1)
	assert.Equal(t, uint32(100), tx.Outputs[0].Value)
}

func TestNewTransferInsufficientFunds(t *testing.T) {
	sender, err := New()
	require.NoError(t, err)
	recipient, err := New()
	require.NoError(t, err)

	_, err = NewTransfer(sender, recipient.Address(), 101, spendableFixture(t, sender, 100))
	assert.ErrorIs(t, err, block.ErrInsufficientFunds)
}

func TestNewTransferDeterministicID(t *testing.T) {
	sender, err := New()
	require.NoError(t, err)
	recipient, err := New()
	require.NoError(t, err)

	spendable := spendableFixture(t, sender, 10, 20, 30)
	a, err := NewTransfer(sender, recipient.Address(), 55, spendable)
	require.NoError(t, err)
	b, err := NewTransfer(sender, recipient.Address(), 55, spendable)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
}
