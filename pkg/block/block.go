package block

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
)

// Difficulty is the fixed number of leading zero bits a block hash must have.
const Difficulty = 16

// MaxNonce is the wrapping boundary of the 32-bit nonce counter; mining gives
// up a candidate if no solution is found before wraparound.
const MaxNonce = 1<<32 - 1

// Block is an ordered list of transactions (coinbase first) linked to its
// parent by hash, plus the proof-of-work fields that seal it.
type Block struct {
	PrevHash   [32]byte
	Hash       [32]byte
	MerkleRoot [32]byte
	Nonce      uint32
	Height     uint32
	Timestamp  int64
	Txs        []*Transaction
}

// Target returns the numeric upper bound a block hash must be strictly below
// to satisfy proof-of-work at the fixed difficulty.
func Target() *big.Int {
	t := big.NewInt(1)
	return t.Lsh(t, 256-Difficulty)
}

// NewCandidate assembles an unmined block: coinbase first, then the given
// mempool transactions, linked to prevHash at the given height.
func NewCandidate(prevHash [32]byte, height uint32, timestamp int64, txs []*Transaction) (*Block, error) {
	root, err := txMerkleRoot(txs)
	if err != nil {
		return nil, err
	}
	return &Block{
		PrevHash:   prevHash,
		MerkleRoot: root,
		Height:     height,
		Timestamp:  timestamp,
		Txs:        txs,
	}, nil
}

// headerBytes returns prev_hash || merkle_root || nonce_le || height_le || timestamp_le.
func (b *Block) headerBytes() []byte {
	var buf bytes.Buffer
	buf.Write(b.PrevHash[:])
	buf.Write(b.MerkleRoot[:])
	binary.Write(&buf, binary.LittleEndian, b.Nonce)
	binary.Write(&buf, binary.LittleEndian, b.Height)
	binary.Write(&buf, binary.LittleEndian, b.Timestamp)
	return buf.Bytes()
}

// computeHash returns SHA-256 of the block header at its current nonce.
func (b *Block) computeHash() [32]byte {
	return sha256.Sum256(b.headerBytes())
}

// Mine performs the proof-of-work nonce search: starting at nonce 0, hash the
// header and stop as soon as the hash is below Target; otherwise increment
// and retry. Returns ErrNonceExhausted if the 32-bit nonce space wraps
// without a solution.
func (b *Block) Mine() error {
	target := Target()
	for nonce := uint32(0); ; nonce++ {
		b.Nonce = nonce
		hash := b.computeHash()
		if hashLess(hash, target) {
			b.Hash = hash
			return nil
		}
		if nonce == MaxNonce {
			return ErrNonceExhausted
		}
	}
}

func hashLess(hash [32]byte, target *big.Int) bool {
	n := new(big.Int).SetBytes(hash[:])
	return n.Cmp(target) < 0
}

// VerifyStructure checks everything about a block that doesn't require
// consulting the UTXO set: non-empty tx list, a valid coinbase first,
// per-tx signature verification (not UTXO existence), the Merkle root, and
// proof-of-work. This is exactly the "orphan verification" pass; full
// verification additionally requires the utxo package's per-input UTXO
// existence/ownership checks (see utxo.VerifyTransaction).
func (b *Block) VerifyStructure() error {
	if len(b.Txs) == 0 {
		return ErrEmptyTxList
	}
	if !b.Txs[0].IsCoinbase() || len(b.Txs[0].Outputs) != 1 || b.Txs[0].Outputs[0].Value != CoinbaseReward {
		return ErrNotCoinbaseFirst
	}
	for _, tx := range b.Txs[1:] {
		if tx.IsCoinbase() {
			return ErrNotCoinbaseFirst
		}
		if err := tx.VerifySignatures(); err != nil {
			return err
		}
	}

	root, err := txMerkleRoot(b.Txs)
	if err != nil {
		return err
	}
	if root != b.MerkleRoot {
		return ErrBadMerkleRoot
	}

	if b.computeHash() != b.Hash {
		return ErrBadProofOfWork
	}
	if !hashLess(b.Hash, Target()) {
		return ErrBadProofOfWork
	}
	return nil
}
