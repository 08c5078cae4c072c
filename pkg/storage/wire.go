package storage

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/basechain/node/pkg/block"
)

// wire* types give the canonical binary block/transaction structures a
// stable hex-encoded JSON shape for on-disk and REST representation,
// matching the public contract's "hex-encode byte fields" rule.

type wireTxOutput struct {
	Value      uint32 `json:"value"`
	PubKeyHash string `json:"pub_key_hash"`
}

type wireTxInput struct {
	PrevTxID  string `json:"prev_tx_id"`
	OutIndex  uint32 `json:"out_index"`
	Signature string `json:"signature"`
	PubKey    string `json:"pub_key"`
}

type wireTx struct {
	ID      string          `json:"id"`
	Inputs  []*wireTxInput  `json:"inputs"`
	Outputs []*wireTxOutput `json:"outputs"`
}

type wireBlock struct {
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
	MerkleRoot string    `json:"merkle_root"`
	Nonce      uint32    `json:"nonce"`
	Height     uint32    `json:"height"`
	Timestamp  int64     `json:"timestamp"`
	Txs        []*wireTx `json:"txs"`
}

type wireUTXOEntry struct {
	Index  uint32        `json:"index"`
	Output *wireTxOutput `json:"output"`
}

func toWireTx(tx *block.Transaction) *wireTx {
	w := &wireTx{ID: hex.EncodeToString(tx.ID[:])}
	for _, in := range tx.Inputs {
		var pk string
		if in.PubKey != nil {
			pk = hex.EncodeToString(in.PubKey.SerializeCompressed())
		}
		w.Inputs = append(w.Inputs, &wireTxInput{
			PrevTxID:  hex.EncodeToString(in.PrevTxID[:]),
			OutIndex:  in.OutIndex,
			Signature: hex.EncodeToString(in.Signature),
			PubKey:    pk,
		})
	}
	for _, out := range tx.Outputs {
		w.Outputs = append(w.Outputs, toWireTxOutput(out))
	}
	return w
}

func toWireTxOutput(out *block.TxOutput) *wireTxOutput {
	return &wireTxOutput{Value: out.Value, PubKeyHash: hex.EncodeToString(out.PubKeyHash[:])}
}

func (w *wireTx) toTx() *block.Transaction {
	tx := &block.Transaction{}
	copy(tx.ID[:], mustHex(w.ID))
	for _, in := range w.Inputs {
		input := &block.TxInput{OutIndex: in.OutIndex, Signature: mustHex(in.Signature)}
		copy(input.PrevTxID[:], mustHex(in.PrevTxID))
		if in.PubKey != "" {
			if pk, err := btcec.ParsePubKey(mustHex(in.PubKey)); err == nil {
				input.PubKey = pk
			}
		}
		tx.Inputs = append(tx.Inputs, input)
	}
	for _, out := range w.Outputs {
		tx.Outputs = append(tx.Outputs, out.toOutput())
	}
	return tx
}

func (w *wireTxOutput) toOutput() *block.TxOutput {
	out := &block.TxOutput{Value: w.Value}
	copy(out.PubKeyHash[:], mustHex(w.PubKeyHash))
	return out
}

func toWireBlock(b *block.Block) *wireBlock {
	w := &wireBlock{
		PrevHash:   hex.EncodeToString(b.PrevHash[:]),
		Hash:       hex.EncodeToString(b.Hash[:]),
		MerkleRoot: hex.EncodeToString(b.MerkleRoot[:]),
		Nonce:      b.Nonce,
		Height:     b.Height,
		Timestamp:  b.Timestamp,
	}
	for _, tx := range b.Txs {
		w.Txs = append(w.Txs, toWireTx(tx))
	}
	return w
}

func (w *wireBlock) toBlock() *block.Block {
	b := &block.Block{Nonce: w.Nonce, Height: w.Height, Timestamp: w.Timestamp}
	copy(b.PrevHash[:], mustHex(w.PrevHash))
	copy(b.Hash[:], mustHex(w.Hash))
	copy(b.MerkleRoot[:], mustHex(w.MerkleRoot))
	for _, tx := range w.Txs {
		b.Txs = append(b.Txs, tx.toTx())
	}
	return b
}

func toWireUTXOBucket(bucket map[uint32]*block.TxOutput) []wireUTXOEntry {
	out := make([]wireUTXOEntry, 0, len(bucket))
	for idx, o := range bucket {
		out = append(out, wireUTXOEntry{Index: idx, Output: toWireTxOutput(o)})
	}
	return out
}

func fromWireUTXOBucket(entries []wireUTXOEntry) map[uint32]*block.TxOutput {
	out := make(map[uint32]*block.TxOutput, len(entries))
	for _, e := range entries {
		out[e.Index] = e.Output.toOutput()
	}
	return out
}

// MarshalBlockJSON encodes b in the node's public hex-field JSON shape, the
// same representation used on disk, on the wire, and in REST responses.
func MarshalBlockJSON(b *block.Block) ([]byte, error) {
	return json.Marshal(toWireBlock(b))
}

// UnmarshalBlockJSON decodes a block from its public JSON shape.
func UnmarshalBlockJSON(data []byte) (*block.Block, error) {
	var wb wireBlock
	if err := json.Unmarshal(data, &wb); err != nil {
		return nil, fmt.Errorf("storage: unmarshal block: %w", err)
	}
	return wb.toBlock(), nil
}

// MarshalTxJSON encodes tx in the node's public hex-field JSON shape.
func MarshalTxJSON(tx *block.Transaction) ([]byte, error) {
	return json.Marshal(toWireTx(tx))
}

// UnmarshalTxJSON decodes a transaction from its public JSON shape.
func UnmarshalTxJSON(data []byte) (*block.Transaction, error) {
	var wt wireTx
	if err := json.Unmarshal(data, &wt); err != nil {
		return nil, fmt.Errorf("storage: unmarshal tx: %w", err)
	}
	return wt.toTx(), nil
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
