// Package mempool holds admitted, not-yet-mined transactions. It guards a
// single invariant — no two held transactions may reference the same
// previous output — and is drained by the miner and by block commits.
package mempool

import (
	"errors"
	"sort"
	"sync"

	"github.com/basechain/node/pkg/block"
	"github.com/basechain/node/pkg/utxo"
)

// ErrDoubleSpend is returned when an admitted transaction's input conflicts
// with one already held by the mempool.
var ErrDoubleSpend = errors.New("mempool: conflicts with an already-admitted transaction")

// Mempool is a mapping from transaction id to the held transaction.
type Mempool struct {
	mu  sync.RWMutex
	txs map[[32]byte]*block.Transaction
	// spent indexes every input reference held across all mempool txs, so
	// admission and lookup are O(inputs) instead of O(mempool size).
	spent map[utxo.OutRef][32]byte
}

// New returns an empty mempool.
func New() *Mempool {
	return &Mempool{
		txs:   make(map[[32]byte]*block.Transaction),
		spent: make(map[utxo.OutRef][32]byte),
	}
}

// Admit inserts tx, failing with ErrDoubleSpend if any input it spends is
// already referenced by a transaction currently in the mempool.
func (m *Mempool) Admit(tx *block.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !tx.IsCoinbase() {
		for _, in := range tx.Inputs {
			ref := utxo.OutRef{TxID: in.PrevTxID, Index: in.OutIndex}
			if _, held := m.spent[ref]; held {
				return ErrDoubleSpend
			}
		}
	}

	m.txs[tx.ID] = tx
	if !tx.IsCoinbase() {
		for _, in := range tx.Inputs {
			ref := utxo.OutRef{TxID: in.PrevTxID, Index: in.OutIndex}
			m.spent[ref] = tx.ID
		}
	}
	return nil
}

// Get returns the held transaction with the given id, if any.
func (m *Mempool) Get(txID [32]byte) (*block.Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[txID]
	return tx, ok
}

// Has reports whether txID is currently held.
func (m *Mempool) Has(txID [32]byte) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.txs[txID]
	return ok
}

// ReservedRefs returns every (prev tx id, out index) currently referenced by
// a held transaction, for use by utxo.FindSpendable to avoid offering an
// output that a pending send already consumes.
func (m *Mempool) ReservedRefs() map[utxo.OutRef]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[utxo.OutRef]bool, len(m.spent))
	for ref := range m.spent {
		out[ref] = true
	}
	return out
}

// Snapshot returns every held transaction, in an order deterministic by id,
// for use building a mining candidate.
func (m *Mempool) Snapshot() []*block.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*block.Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].ID[:]) < string(out[j].ID[:])
	})
	return out
}

// Len reports how many transactions are currently held.
func (m *Mempool) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}

// EvictConflicting removes, for every non-coinbase transaction in b and every
// input it spends, any held transaction that references the same previous
// output. This covers both "this exact tx was mined" and "a conflicting tx
// was mined" with the same rule.
func (m *Mempool) EvictConflicting(b *block.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range b.Txs {
		if tx.IsCoinbase() {
			continue
		}
		for _, in := range tx.Inputs {
			ref := utxo.OutRef{TxID: in.PrevTxID, Index: in.OutIndex}
			if heldID, ok := m.spent[ref]; ok {
				m.removeLocked(heldID)
			}
		}
	}
}

// Return re-admits tx without any double-spend check, used when a reorg
// rollback returns a transaction from a detached block to the mempool. If a
// conflicting transaction now occupies the slot, Return is a no-op for that
// input (the detached tx is simply dropped instead of replacing it).
func (m *Mempool) Return(tx *block.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.IsCoinbase() {
		return
	}
	for _, in := range tx.Inputs {
		ref := utxo.OutRef{TxID: in.PrevTxID, Index: in.OutIndex}
		if _, held := m.spent[ref]; held {
			return
		}
	}
	m.txs[tx.ID] = tx
	for _, in := range tx.Inputs {
		ref := utxo.OutRef{TxID: in.PrevTxID, Index: in.OutIndex}
		m.spent[ref] = tx.ID
	}
}

func (m *Mempool) removeLocked(txID [32]byte) {
	tx, ok := m.txs[txID]
	if !ok {
		return
	}
	delete(m.txs, txID)
	if tx.IsCoinbase() {
		return
	}
	for _, in := range tx.Inputs {
		ref := utxo.OutRef{TxID: in.PrevTxID, Index: in.OutIndex}
		if m.spent[ref] == txID {
			delete(m.spent, ref)
		}
	}
}
