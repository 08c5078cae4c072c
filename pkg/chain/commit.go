package chain

import (
	"github.com/basechain/node/pkg/block"
	"github.com/basechain/node/pkg/utxo"
)

// CommitBlock is the entry point for a block learned from the miner or from
// a peer: it verifies, extends the tip or parks an orphan, and then runs the
// reorg check before returning.
func (m *Manager) CommitBlock(b *block.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitBlockLocked(b)
}

func (m *Manager) commitBlockLocked(b *block.Block) error {
	if b.Hash == m.tip {
		return nil
	}
	if _, ok := m.orphans.get(b.Hash); ok {
		// Already parked; a re-send still gets a fresh adoption attempt, so
		// a reorg that failed on a transient store fault can be retried.
		return m.reorgCheckLocked()
	}
	if _, ok, err := m.store.GetBlock(b.Hash); err != nil {
		return err
	} else if ok {
		return nil
	}

	if err := b.VerifyStructure(); err != nil {
		return err
	}
	if err := checkNoInternalDoubleSpend(b); err != nil {
		return err
	}

	if b.PrevHash == m.tip {
		if err := m.fullVerifyLocked(b); err != nil {
			return err
		}
		if err := m.extendLocked(b); err != nil {
			return err
		}
		return m.reorgCheckLocked()
	}

	// Doesn't extend the current tip: either it forks off an earlier block
	// or its parent hasn't arrived yet. Either way it waits in the orphan
	// pool; reorgCheckLocked decides whether it (or a chain built on it)
	// should replace the current tip.
	m.orphans.add(b.Hash, b)
	m.persistOrphansLocked()
	return m.reorgCheckLocked()
}

// fullVerifyLocked checks b's transactions against the live UTXO set. It
// assumes VerifyStructure and checkNoInternalDoubleSpend already passed.
func (m *Manager) fullVerifyLocked(b *block.Block) error {
	for _, tx := range b.Txs {
		if tx.IsCoinbase() {
			continue
		}
		if err := m.utxoSet.VerifyTransaction(tx); err != nil {
			return err
		}
	}
	return nil
}

func checkNoInternalDoubleSpend(b *block.Block) error {
	seen := make(map[utxo.OutRef]bool)
	for _, tx := range b.Txs {
		if tx.IsCoinbase() {
			continue
		}
		for _, in := range tx.Inputs {
			ref := utxo.OutRef{TxID: in.PrevTxID, Index: in.OutIndex}
			if seen[ref] {
				return ErrDuplicateSpend
			}
			seen[ref] = true
		}
	}
	return nil
}

// extendLocked applies b on top of the current tip, which must already be
// b.PrevHash and must already have passed fullVerifyLocked.
func (m *Manager) extendLocked(b *block.Block) error {
	changes := m.utxoSet.ApplyBlock(b)
	if err := m.store.PutBlock(b.Hash, b); err != nil {
		m.utxoSet.Undo(changes)
		return err
	}
	if err := m.store.PutTip(b.Hash); err != nil {
		m.utxoSet.Undo(changes)
		return err
	}

	m.indexTxsLocked(b.Hash, b)
	m.tip = b.Hash
	m.height = b.Height
	m.mempool.EvictConflicting(b)
	m.orphans.remove(b.Hash)

	m.persistUTXOLocked(changes)
	m.persistMempoolLocked()
	m.persistOrphansLocked()
	m.announceLocked(Announcement{Kind: AnnounceBlock, BlockHash: b.Hash})
	return nil
}
