// Package block implements the transaction and block data model: canonical
// serialization, hashing, the trimmed-copy signing protocol, Merkle roots,
// and proof-of-work mining/verification.
package block

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// CoinbaseReward is the fixed output value of every coinbase transaction.
const CoinbaseReward = 100

// CoinbaseOutIndex is the sentinel output index used by a coinbase tx's lone input.
const CoinbaseOutIndex = math.MaxUint32

// TxOutput is a spendable output locked to a public key hash.
type TxOutput struct {
	Value      uint32
	PubKeyHash [20]byte
}

// TxInput references a previous output it spends, along with the spending
// signature and public key that unlock it.
type TxInput struct {
	PrevTxID  [32]byte
	OutIndex  uint32
	Signature []byte
	PubKey    *btcec.PublicKey
}

// Transaction is a signed transfer of value between outputs.
type Transaction struct {
	ID      [32]byte
	Inputs  []*TxInput
	Outputs []*TxOutput
}

// dummyKey is the fixed all-ones private key whose public key stands in for
// every input's real public key when building the trimmed copy that gets signed.
var dummyKey = func() *btcec.PrivateKey {
	var raw [32]byte
	for i := range raw {
		raw[i] = 1
	}
	priv, _ := btcec.PrivKeyFromBytes(raw[:])
	return priv
}()

// IsCoinbase reports whether tx is the synthetic block-reward transaction.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 &&
		tx.Inputs[0].PrevTxID == [32]byte{} &&
		tx.Inputs[0].OutIndex == CoinbaseOutIndex
}

// serialize writes tx's canonical length-prefixed little-endian encoding,
// always with a zeroed id field, to buf.
func (tx *Transaction) serialize(buf *bytes.Buffer) {
	var zero [32]byte
	buf.Write(zero[:])

	binary.Write(buf, binary.LittleEndian, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf.Write(in.PrevTxID[:])
		binary.Write(buf, binary.LittleEndian, in.OutIndex)
		binary.Write(buf, binary.LittleEndian, uint32(len(in.Signature)))
		buf.Write(in.Signature)
		var pk []byte
		if in.PubKey != nil {
			pk = in.PubKey.SerializeCompressed()
		}
		binary.Write(buf, binary.LittleEndian, uint32(len(pk)))
		buf.Write(pk)
	}

	binary.Write(buf, binary.LittleEndian, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		binary.Write(buf, binary.LittleEndian, out.Value)
		buf.Write(out.PubKeyHash[:])
	}
}

// Hash computes the canonical tx id: SHA-256 over the serialization with the
// id field zeroed. The id is never part of its own hash input.
func (tx *Transaction) Hash() [32]byte {
	var buf bytes.Buffer
	tx.serialize(&buf)
	return sha256.Sum256(buf.Bytes())
}

// trimmedCopy returns the message that gets signed: every input's signature
// is cleared and its public key replaced by the fixed dummy key, so that all
// inputs of a transaction sign byte-identical data regardless of who owns them.
func (tx *Transaction) trimmedCopy() *Transaction {
	inputs := make([]*TxInput, len(tx.Inputs))
	for i, in := range tx.Inputs {
		inputs[i] = &TxInput{PrevTxID: in.PrevTxID, OutIndex: in.OutIndex, PubKey: dummyKey.PubKey()}
	}
	outputs := make([]*TxOutput, len(tx.Outputs))
	copy(outputs, tx.Outputs)
	return &Transaction{Inputs: inputs, Outputs: outputs}
}

// Sign signs every input of tx with privKey, using the trimmed-copy protocol.
// All non-coinbase inputs of a single transaction are expected to spend
// outputs owned by the same key, matching how the node constructs sends.
func (tx *Transaction) Sign(privKey *btcec.PrivateKey) error {
	if tx.IsCoinbase() {
		return nil
	}
	trimmed := tx.trimmedCopy()
	trimmed.ID = trimmed.Hash()
	sig := ecdsa.Sign(privKey, trimmed.ID[:])
	sigBytes := sig.Serialize()

	for _, in := range tx.Inputs {
		in.Signature = sigBytes
		in.PubKey = privKey.PubKey()
	}
	return nil
}

// VerifySignatures checks every input's ECDSA signature against the trimmed
// copy of tx. It does not check UTXO existence or key-hash ownership; that is
// the responsibility of the utxo package, which also owns the UTXO lookup.
func (tx *Transaction) VerifySignatures() error {
	if tx.IsCoinbase() {
		return nil
	}
	trimmed := tx.trimmedCopy()
	trimmed.ID = trimmed.Hash()

	for i, in := range tx.Inputs {
		sig, err := ecdsa.ParseDERSignature(in.Signature)
		if err != nil {
			return fmt.Errorf("input %d: malformed signature: %w", i, err)
		}
		if !sig.Verify(trimmed.ID[:], in.PubKey) {
			return ErrBadSignature
		}
	}
	return nil
}

// NewCoinbaseTx builds the block-reward transaction paying CoinbaseReward to
// rewardPubKeyHash. Its single input is synthetic and never verified.
func NewCoinbaseTx(rewardPubKeyHash [20]byte) (*Transaction, error) {
	randData := make([]byte, 32)
	if _, err := rand.Read(randData); err != nil {
		return nil, err
	}
	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(randData)
	sig := ecdsa.Sign(ephemeral, digest[:])

	tx := &Transaction{
		Inputs: []*TxInput{{
			PrevTxID:  [32]byte{},
			OutIndex:  CoinbaseOutIndex,
			Signature: sig.Serialize(),
			PubKey:    ephemeral.PubKey(),
		}},
		Outputs: []*TxOutput{{
			Value:      CoinbaseReward,
			PubKeyHash: rewardPubKeyHash,
		}},
	}
	tx.ID = tx.Hash()
	return tx, nil
}
