package chain

import (
	"github.com/basechain/node/pkg/block"
	"github.com/basechain/node/pkg/utxo"
)

// reorgCheckLocked first drains every orphan that directly extends the
// current tip, then scans every remaining orphan-chain base in the pool (not
// just the first one found). The first base whose longest chain would be
// taller than the current tip is adopted and the scan restarts, so a still
// taller chain is adopted on a later pass. Chains that end more than
// MaxOrphanChainAge blocks below the tip are pruned. Must be called with
// m.mu held.
func (m *Manager) reorgCheckLocked() error {
	for {
		children := m.orphans.childrenOf(m.tip)
		if len(children) == 0 {
			break
		}
		next := children[0]
		m.orphans.remove(next.Hash)
		if err := m.fullVerifyLocked(next); err != nil {
			m.log.Warn("dropping invalid orphan %x: %v", next.Hash, err)
			continue
		}
		if err := m.extendLocked(next); err != nil {
			m.log.Warn("dropping orphan %x: extend failed: %v", next.Hash, err)
			continue
		}
	}

	for _, parentHash := range m.orphans.baseParentHashes() {
		parentBlock, ok := m.GetBlock(parentHash)
		if !ok {
			continue // the ancestor itself hasn't arrived yet
		}
		chain := m.orphans.longestChainFrom(parentHash)
		if len(chain) == 0 {
			continue
		}

		candidateHeight := parentBlock.Height + uint32(len(chain))
		if candidateHeight > m.height {
			if err := m.adoptOrphanChainLocked(parentHash, chain); err != nil {
				m.log.Error("reorg onto %x failed: %v", chain[len(chain)-1].Hash, err)
				return err
			}
			// The tip and the orphan pool both changed; restart the scan so a
			// newly-attachable orphan, or a now-even-taller alternative, is
			// picked up in the same pass.
			return m.reorgCheckLocked()
		}

		if m.height > candidateHeight && m.height-candidateHeight > MaxOrphanChainAge {
			for _, b := range chain {
				m.orphans.remove(b.Hash)
			}
		}
	}

	m.persistOrphansLocked()
	return nil
}

// adoptOrphanChainLocked replaces the active chain from parentHash onward
// with newChain. It computes the full rollback+reapply in memory against the
// UTXO set before writing anything to the store, and restores the pre-reorg
// UTXO state on any failure; store writes happen last and are the one step
// that cannot be perfectly undone on a partial failure (see restoreLocked).
func (m *Manager) adoptOrphanChainLocked(parentHash [32]byte, newChain []*block.Block) error {
	snapTip, snapHeight := m.tip, m.height
	snapTxIndex := make(map[[32]byte][32]byte, len(m.txIndex))
	for k, v := range m.txIndex {
		snapTxIndex[k] = v
	}

	var allChanges []utxo.Change
	var detached []*block.Block

	cur := m.tip
	for cur != parentHash {
		b, ok := m.GetBlock(cur)
		if !ok || b.Height == 0 {
			m.restoreLocked(snapTip, snapHeight, snapTxIndex, allChanges)
			return ErrRollbackFailed
		}
		changes, err := m.utxoSet.RevertBlock(b, m)
		if err != nil {
			allChanges = append(allChanges, changes...)
			m.restoreLocked(snapTip, snapHeight, snapTxIndex, allChanges)
			return ErrRollbackFailed
		}
		allChanges = append(allChanges, changes...)
		detached = append(detached, b)
		m.unindexTxsLocked(b)
		cur = b.PrevHash
	}

	var applied []*block.Block
	for _, nb := range newChain {
		if err := m.fullVerifyLocked(nb); err != nil {
			m.restoreLocked(snapTip, snapHeight, snapTxIndex, allChanges)
			return ErrAdoptionFailed
		}
		changes := m.utxoSet.ApplyBlock(nb)
		allChanges = append(allChanges, changes...)
		m.indexTxsLocked(nb.Hash, nb)
		applied = append(applied, nb)
	}

	// In-memory state is now consistent with newChain. Persist it.
	for _, nb := range applied {
		if err := m.store.PutBlock(nb.Hash, nb); err != nil {
			m.restoreLocked(snapTip, snapHeight, snapTxIndex, allChanges)
			return ErrAdoptionFailed
		}
	}
	newTip := newChain[len(newChain)-1]
	if err := m.store.PutTip(newTip.Hash); err != nil {
		m.restoreLocked(snapTip, snapHeight, snapTxIndex, allChanges)
		return ErrAdoptionFailed
	}
	for _, b := range detached {
		if err := m.store.DeleteBlock(b.Hash); err != nil {
			m.log.Warn("reorg: stale detached block %x left in store: %v", b.Hash, err)
		}
	}

	m.tip = newTip.Hash
	m.height = newTip.Height

	for _, b := range detached {
		for _, tx := range b.Txs {
			if !tx.IsCoinbase() {
				m.mempool.Return(tx)
			}
		}
	}
	for _, b := range applied {
		m.mempool.EvictConflicting(b)
		m.orphans.remove(b.Hash)
		m.announceLocked(Announcement{Kind: AnnounceBlock, BlockHash: b.Hash})
	}
	m.persistUTXOLocked(allChanges)
	m.persistMempoolLocked()
	return nil
}

// restoreLocked rewinds every UTXO-set change made during a failed reorg
// attempt and restores the pre-reorg tip, height, and tx index. Changes are
// undone newest-to-oldest by Undo's own reverse walk, so allChanges must be
// passed in the exact order the attempt produced them.
func (m *Manager) restoreLocked(tip [32]byte, height uint32, txIndex map[[32]byte][32]byte, allChanges []utxo.Change) {
	m.utxoSet.Undo(allChanges)
	m.tip = tip
	m.height = height
	m.txIndex = txIndex
}
