package chain

import "errors"

// ErrDuplicateSpend is returned when a block spends the same previous output
// twice across its own transaction list.
var ErrDuplicateSpend = errors.New("chain: block spends the same output twice")

// ErrRollbackFailed marks a fatal-for-this-operation failure while rolling
// back the old lineage during a reorg; the chain manager always attempts a
// snapshot restore before surfacing it.
var ErrRollbackFailed = errors.New("chain: reorg rollback failed")

// ErrAdoptionFailed marks a failure while re-applying the adopted orphan
// chain during a reorg, after rollback already succeeded.
var ErrAdoptionFailed = errors.New("chain: reorg adoption failed")

// ErrCoinbaseTx is returned when a synthetic coinbase transaction is
// submitted for mempool admission; coinbases only ever enter via blocks.
var ErrCoinbaseTx = errors.New("chain: coinbase cannot enter the mempool")

// ErrEmptyMempool is returned by BuildCandidate when there is nothing to
// mine; the miner treats it as a routine skip, not a failure.
var ErrEmptyMempool = errors.New("chain: mempool is empty")

// ErrSnapshotRestoreFailed is the hard-crash condition: a reorg failed and
// the attempt to restore pre-reorg state itself failed. The operator must
// resync from a trusted peer.
var ErrSnapshotRestoreFailed = errors.New("chain: snapshot restore failed, state is undefined")
