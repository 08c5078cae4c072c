// Package utxo implements the node's authoritative view of spendable value:
// a mapping from (tx id, output index) to unspent outputs, with apply/revert
// operations driven by the chain manager and spendable-output search used by
// transaction construction.
package utxo

import (
	"crypto/sha256"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/ripemd160"

	"github.com/basechain/node/pkg/block"
)

// OutRef identifies a single UTXO by its producing transaction and output index.
type OutRef struct {
	TxID  [32]byte
	Index uint32
}

// ChangeKind describes what happened to a UTXO as a result of a set mutation.
type ChangeKind int

const (
	// Added means the referenced UTXO was inserted into the set; undoing
	// this change means deleting it.
	Added ChangeKind = iota
	// Removed means the referenced UTXO was deleted from the set; undoing
	// this change means re-inserting Output.
	Removed
)

// Change is one recorded UTXO-set mutation, used to build an undo log for
// reorg snapshot/restore. Kind always reflects the set-level effect (Added to
// the set or Removed from the set), never which "side" of a transaction
// triggered it — this is what keeps undo correct in both the forward-apply
// and rollback directions.
type Change struct {
	Kind   ChangeKind
	Ref    OutRef
	Output *block.TxOutput
}

// BlockByHash resolves a block by its hash, used by ReindexFromChain to walk
// the chain from tip to genesis.
type BlockByHash interface {
	GetBlock(hash [32]byte) (*block.Block, bool)
}

// TxLookup resolves a transaction by id, used during RevertBlock to recover
// the original output being reinstated for a spent input.
type TxLookup interface {
	FindTx(txID [32]byte) (*block.Transaction, bool)
}

// Set is the UTXO set: tx id -> output index -> output.
type Set struct {
	mu sync.RWMutex
	m  map[[32]byte]map[uint32]*block.TxOutput
}

// New returns an empty UTXO set.
func New() *Set {
	return &Set{m: make(map[[32]byte]map[uint32]*block.TxOutput)}
}

// Get returns the output at ref, if it is currently unspent.
func (s *Set) Get(ref OutRef) (*block.TxOutput, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(ref)
}

func (s *Set) getLocked(ref OutRef) (*block.TxOutput, bool) {
	bucket, ok := s.m[ref.TxID]
	if !ok {
		return nil, false
	}
	out, ok := bucket[ref.Index]
	return out, ok
}

// Put inserts or overwrites the output at ref.
func (s *Set) Put(ref OutRef, out *block.TxOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(ref, out)
}

func (s *Set) putLocked(ref OutRef, out *block.TxOutput) {
	if s.m[ref.TxID] == nil {
		s.m[ref.TxID] = make(map[uint32]*block.TxOutput)
	}
	s.m[ref.TxID][ref.Index] = out
}

// Delete removes the output at ref, removing the tx's bucket entirely once
// its last output is gone.
func (s *Set) Delete(ref OutRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(ref)
}

func (s *Set) deleteLocked(ref OutRef) {
	bucket, ok := s.m[ref.TxID]
	if !ok {
		return
	}
	delete(bucket, ref.Index)
	if len(bucket) == 0 {
		delete(s.m, ref.TxID)
	}
}

// Bucket returns a copy of every currently-unspent output produced by txID,
// used to mirror the set into the persistent store after a commit.
func (s *Set) Bucket(txID [32]byte) (map[uint32]*block.TxOutput, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.m[txID]
	if !ok {
		return nil, false
	}
	out := make(map[uint32]*block.TxOutput, len(bucket))
	for idx, o := range bucket {
		out[idx] = o
	}
	return out, true
}

// ContainsTx reports whether any output of txID is currently unspent.
func (s *Set) ContainsTx(txID [32]byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.m[txID]
	return ok
}

// FindForAddress returns every unspent output locked to pkh, in an order
// deterministic by (tx id, index) for reproducible tests and API responses.
func (s *Set) FindForAddress(pkh [20]byte) []*block.TxOutput {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := s.matchingRefsLocked(pkh, nil)
	out := make([]*block.TxOutput, len(refs))
	for i, r := range refs {
		out[i] = s.m[r.TxID][r.Index]
	}
	return out
}

// FindSpendable accumulates unspent outputs locked to pkh, skipping any ref
// present in reserved (outputs already referenced by the mempool), stopping
// as soon as the accumulated value meets target. Fails with
// ErrInsufficientFunds if the eligible total falls short.
func (s *Set) FindSpendable(pkh [20]byte, target uint32, reserved map[OutRef]bool) (map[OutRef]*block.TxOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := s.matchingRefsLocked(pkh, reserved)
	result := make(map[OutRef]*block.TxOutput)
	var sum uint32
	for _, r := range refs {
		out := s.m[r.TxID][r.Index]
		result[r] = out
		sum += out.Value
		if sum >= target {
			return result, nil
		}
	}
	return nil, block.ErrInsufficientFunds
}

func (s *Set) matchingRefsLocked(pkh [20]byte, reserved map[OutRef]bool) []OutRef {
	var refs []OutRef
	for txID, bucket := range s.m {
		for idx, out := range bucket {
			if out.PubKeyHash != pkh {
				continue
			}
			ref := OutRef{TxID: txID, Index: idx}
			if reserved[ref] {
				continue
			}
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].TxID != refs[j].TxID {
			return string(refs[i].TxID[:]) < string(refs[j].TxID[:])
		}
		return refs[i].Index < refs[j].Index
	})
	return refs
}

// ApplyBlock applies a block's transactions forward: every spent input is
// deleted, then every output is inserted. The returned changes let a caller
// undo the mutation later (used by reorg re-apply, which must be able to roll
// back on failure).
func (s *Set) ApplyBlock(b *block.Block) []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []Change
	for _, tx := range b.Txs {
		if !tx.IsCoinbase() {
			for _, in := range tx.Inputs {
				ref := OutRef{TxID: in.PrevTxID, Index: in.OutIndex}
				out, _ := s.getLocked(ref)
				s.deleteLocked(ref)
				changes = append(changes, Change{Kind: Removed, Ref: ref, Output: out})
			}
		}
		for idx, out := range tx.Outputs {
			ref := OutRef{TxID: tx.ID, Index: uint32(idx)}
			s.putLocked(ref, out)
			changes = append(changes, Change{Kind: Added, Ref: ref, Output: out})
		}
	}
	return changes
}

// RevertBlock undoes a block's forward application: every output it created
// is deleted, then every input's previously-spent output is reinstated by
// looking it up via lookup. Processing happens in reverse transaction order
// to mirror ApplyBlock's forward order exactly.
//
// The returned changes record the set-level effect of this rollback itself
// (Removed for each deleted output, Added for each reinstated input) so that
// if the wider reorg later fails, Undo can restore pre-rollback state. This
// is the inverse of what a literal transcription of the change kind would
// suggest; see the Change type for why.
func (s *Set) RevertBlock(b *block.Block, lookup TxLookup) ([]Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []Change
	for i := len(b.Txs) - 1; i >= 0; i-- {
		tx := b.Txs[i]
		for idx := range tx.Outputs {
			ref := OutRef{TxID: tx.ID, Index: uint32(idx)}
			out, _ := s.getLocked(ref)
			s.deleteLocked(ref)
			changes = append(changes, Change{Kind: Removed, Ref: ref, Output: out})
		}
		if tx.IsCoinbase() {
			continue
		}
		for _, in := range tx.Inputs {
			prevTx, ok := lookup.FindTx(in.PrevTxID)
			if !ok || int(in.OutIndex) >= len(prevTx.Outputs) {
				return changes, block.ErrUnknownInput
			}
			out := prevTx.Outputs[in.OutIndex]
			ref := OutRef{TxID: in.PrevTxID, Index: in.OutIndex}
			s.putLocked(ref, out)
			changes = append(changes, Change{Kind: Added, Ref: ref, Output: out})
		}
	}
	return changes, nil
}

// Undo reverses a slice of changes in reverse order: an Added entry is
// deleted, a Removed entry is re-inserted from its saved Output.
func (s *Set) Undo(changes []Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(changes) - 1; i >= 0; i-- {
		c := changes[i]
		switch c.Kind {
		case Added:
			s.deleteLocked(c.Ref)
		case Removed:
			s.putLocked(c.Ref, c.Output)
		}
	}
}

// ReindexFromChain wipes the set and rebuilds it by walking blocks from tip
// to genesis, emitting an output the first time it's seen unless some
// block's input (seen anywhere on the walk) already spends it.
func (s *Set) ReindexFromChain(tip [32]byte, reader BlockByHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spent := make(map[OutRef]bool)
	for hash := tip; ; {
		b, ok := reader.GetBlock(hash)
		if !ok {
			break
		}
		for _, tx := range b.Txs {
			if tx.IsCoinbase() {
				continue
			}
			for _, in := range tx.Inputs {
				spent[OutRef{TxID: in.PrevTxID, Index: in.OutIndex}] = true
			}
		}
		if b.Height == 0 {
			break
		}
		hash = b.PrevHash
	}

	fresh := make(map[[32]byte]map[uint32]*block.TxOutput)
	for hash := tip; ; {
		b, ok := reader.GetBlock(hash)
		if !ok {
			break
		}
		for _, tx := range b.Txs {
			for idx, out := range tx.Outputs {
				ref := OutRef{TxID: tx.ID, Index: uint32(idx)}
				if spent[ref] {
					continue
				}
				if fresh[tx.ID] == nil {
					fresh[tx.ID] = make(map[uint32]*block.TxOutput)
				}
				fresh[tx.ID][uint32(idx)] = out
			}
		}
		if b.Height == 0 {
			break
		}
		hash = b.PrevHash
	}
	s.m = fresh
	return nil
}

// VerifyTransaction checks a non-coinbase transaction's inputs against the
// set: every input must reference a UTXO that exists (ErrUnknownInput) whose
// pub_key_hash matches the input's own public key (ErrWrongKey), and the
// transaction's signatures must verify against the trimmed-copy protocol
// (ErrBadSignature, checked by the block package since it needs no UTXO
// access).
func (s *Set) VerifyTransaction(tx *block.Transaction) error {
	if tx.IsCoinbase() {
		return nil
	}
	for _, in := range tx.Inputs {
		out, ok := s.Get(OutRef{TxID: in.PrevTxID, Index: in.OutIndex})
		if !ok {
			return block.ErrUnknownInput
		}
		if in.PubKey == nil || hashPubKey(in.PubKey) != out.PubKeyHash {
			return block.ErrWrongKey
		}
	}
	return tx.VerifySignatures()
}

func hashPubKey(pubKey *btcec.PublicKey) [20]byte {
	sha := sha256.Sum256(pubKey.SerializeCompressed())
	r := ripemd160.New()
	r.Write(sha[:])
	sum := r.Sum(nil)
	var out [20]byte
	copy(out[:], sum)
	return out
}
