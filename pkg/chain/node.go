package chain

import (
	"github.com/basechain/node/pkg/block"
	"github.com/basechain/node/pkg/utxo"
)

// Tip returns the current tip hash and height.
func (m *Manager) Tip() ([32]byte, uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tip, m.height
}

// AdmitTx verifies tx against the live UTXO set and admits it to the
// mempool, announcing it as new inventory on success. Re-admitting a
// transaction that is already held is a no-op.
func (m *Manager) AdmitTx(tx *block.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.IsCoinbase() {
		return ErrCoinbaseTx
	}
	if m.mempool.Has(tx.ID) {
		return nil
	}
	if err := m.utxoSet.VerifyTransaction(tx); err != nil {
		return err
	}
	if err := m.mempool.Admit(tx); err != nil {
		return err
	}
	m.persistMempoolLocked()
	m.announceLocked(Announcement{Kind: AnnounceTx, TxID: tx.ID})
	return nil
}

// Balance sums every unspent output locked to pkh.
func (m *Manager) Balance(pkh [20]byte) uint32 {
	var sum uint32
	for _, out := range m.utxoSet.FindForAddress(pkh) {
		sum += out.Value
	}
	return sum
}

// SpendableOutputs returns unspent outputs locked to pkh summing to at least
// target, skipping outputs a pending mempool transaction already consumes.
func (m *Manager) SpendableOutputs(pkh [20]byte, target uint32) (map[utxo.OutRef]*block.TxOutput, error) {
	return m.utxoSet.FindSpendable(pkh, target, m.mempool.ReservedRefs())
}

// MempoolTx returns the held transaction with the given id, if any.
func (m *Manager) MempoolTx(txID [32]byte) (*block.Transaction, bool) {
	return m.mempool.Get(txID)
}

// MempoolLen reports how many transactions the mempool currently holds.
func (m *Manager) MempoolLen() int {
	return m.mempool.Len()
}

// KnownTx reports whether txID is already held by the mempool or has live
// outputs in the UTXO set. The inventory protocol uses this to decide
// whether to request a peer-announced transaction.
func (m *Manager) KnownTx(txID [32]byte) bool {
	return m.mempool.Has(txID) || m.utxoSet.ContainsTx(txID)
}

// KnownBlock reports whether hash names a stored block or a parked orphan.
func (m *Manager) KnownBlock(hash [32]byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orphans.get(hash); ok {
		return true
	}
	_, ok, err := m.store.GetBlock(hash)
	return err == nil && ok
}

// Blocks walks the main chain from tip to genesis and returns every block in
// that order.
func (m *Manager) Blocks() ([]*block.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*block.Block
	for hash := m.tip; ; {
		b, ok, err := m.store.GetBlock(hash)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, b)
		if b.Height == 0 {
			break
		}
		hash = b.PrevHash
	}
	return out, nil
}

// HashesAbove returns the main-chain block hashes from the tip down to, but
// not including, the block at the given height. A height of 0 means the
// requester has no chain at all, so genesis is included too.
func (m *Manager) HashesAbove(height uint32) ([][32]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][32]byte
	for hash := m.tip; ; {
		b, ok, err := m.store.GetBlock(hash)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if b.Height < height || (b.Height == height && height != 0) {
			break
		}
		out = append(out, b.Hash)
		if b.Height == 0 {
			break
		}
		hash = b.PrevHash
	}
	return out, nil
}

// BuildCandidate assembles an unmined block paying the coinbase reward to
// rewardPKH on top of the current tip: coinbase first, then a snapshot of the
// mempool. Every mempool transaction is re-verified against the live UTXO
// set, and the candidate is rejected if any is invalid or if two of them
// spend the same previous output.
func (m *Manager) BuildCandidate(rewardPKH [20]byte) (*block.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txs := m.mempool.Snapshot()
	if len(txs) == 0 {
		return nil, ErrEmptyMempool
	}

	seen := make(map[utxo.OutRef]bool)
	for _, tx := range txs {
		if err := m.utxoSet.VerifyTransaction(tx); err != nil {
			return nil, err
		}
		for _, in := range tx.Inputs {
			ref := utxo.OutRef{TxID: in.PrevTxID, Index: in.OutIndex}
			if seen[ref] {
				return nil, ErrDuplicateSpend
			}
			seen[ref] = true
		}
	}

	coinbase, err := block.NewCoinbaseTx(rewardPKH)
	if err != nil {
		return nil, err
	}
	return block.NewCandidate(m.tip, m.height+1, nowFunc(), append([]*block.Transaction{coinbase}, txs...))
}
