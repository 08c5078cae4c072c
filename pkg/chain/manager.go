// Package chain implements the block acceptance pipeline: full/orphan
// verification, tip extension, orphan draining, and longest-chain
// reorganization with atomic snapshot/restore, all serialized behind a
// single chain-wide lock.
package chain

import (
	"sync"

	"github.com/basechain/node/pkg/address"
	"github.com/basechain/node/pkg/block"
	"github.com/basechain/node/pkg/logger"
	"github.com/basechain/node/pkg/mempool"
	"github.com/basechain/node/pkg/storage"
	"github.com/basechain/node/pkg/utxo"
)

// MaxOrphanChainAge is how many blocks behind the current tip an orphan
// chain's length may fall before it is pruned from the orphan pool.
const MaxOrphanChainAge = 10

// OrphanPoolCapacity bounds the orphan pool so an adversarial peer cannot
// exhaust memory by flooding PoW-valid-but-disconnected blocks.
const OrphanPoolCapacity = 1024

// AnnouncementKind distinguishes the two inventory kinds a Manager announces.
type AnnouncementKind int

const (
	AnnounceTx AnnouncementKind = iota
	AnnounceBlock
)

// Announcement is emitted on the single Manager->P2P announcement channel
// whenever a transaction is admitted or a block becomes (part of) the tip.
type Announcement struct {
	Kind      AnnouncementKind
	TxID      [32]byte
	BlockHash [32]byte
}

// Manager owns block commit, the UTXO set, the mempool, and the orphan
// pool. A single mutex serializes every commit and reorg so verification
// never observes a partially-applied state change.
type Manager struct {
	mu sync.Mutex

	store   *storage.Node
	utxoSet *utxo.Set
	mempool *mempool.Mempool
	orphans *orphanPool
	log     *logger.Logger

	tip     [32]byte
	height  uint32
	txIndex map[[32]byte][32]byte // tx id -> containing block hash

	announce chan<- Announcement
}

// New constructs a Manager backed by store, with announce as the single
// outbound channel to the P2P task (nil is accepted; announcements are then
// dropped, useful for tests).
func New(store *storage.Node, announce chan<- Announcement, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		store:   store,
		utxoSet: utxo.New(),
		mempool: mempool.New(),
		orphans: newOrphanPool(OrphanPoolCapacity),
		log:     log,
		txIndex: make(map[[32]byte][32]byte),
		announce: func() chan<- Announcement {
			if announce != nil {
				return announce
			}
			c := make(chan Announcement, 256)
			go func() {
				for range c {
				}
			}()
			return c
		}(),
	}
}

// Bootstrap loads persisted chain state. If no tip is persisted, it mines
// the genesis block paying CoinbaseReward to genesisAddr and commits it.
func (m *Manager) Bootstrap(genesisAddr *address.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tip, ok, err := m.store.GetTip()
	if err != nil {
		return err
	}
	if !ok {
		return m.createGenesisLocked(genesisAddr)
	}

	if err := m.rebuildIndexLocked(tip); err != nil {
		return err
	}
	if err := m.utxoSet.ReindexFromChain(tip, m); err != nil {
		return err
	}

	txs, err := m.store.GetMempool()
	if err != nil {
		return err
	}
	for _, tx := range txs {
		m.mempool.Return(tx)
	}

	orphans, err := m.store.GetOrphans()
	if err != nil {
		return err
	}
	for hash, b := range orphans {
		m.orphans.add(hash, b)
	}
	return nil
}

func (m *Manager) createGenesisLocked(genesisAddr *address.Address) error {
	pkh := genesisAddr.PubKeyHash()
	coinbase, err := block.NewCoinbaseTx(pkh)
	if err != nil {
		return err
	}
	genesis, err := block.NewCandidate([32]byte{}, 0, nowFunc(), []*block.Transaction{coinbase})
	if err != nil {
		return err
	}
	if err := genesis.Mine(); err != nil {
		return err
	}
	return m.extendLocked(genesis)
}

func (m *Manager) rebuildIndexLocked(tip [32]byte) error {
	for hash := tip; ; {
		b, ok, err := m.store.GetBlock(hash)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		m.indexTxsLocked(hash, b)
		if hash == tip {
			m.tip = tip
			m.height = b.Height
		}
		if b.Height == 0 {
			break
		}
		hash = b.PrevHash
	}
	return nil
}

func (m *Manager) indexTxsLocked(hash [32]byte, b *block.Block) {
	for _, tx := range b.Txs {
		m.txIndex[tx.ID] = hash
	}
}

func (m *Manager) unindexTxsLocked(b *block.Block) {
	for _, tx := range b.Txs {
		if h, ok := m.txIndex[tx.ID]; ok && h == b.Hash {
			delete(m.txIndex, tx.ID)
		}
	}
}

// GetBlock implements utxo.BlockByHash.
func (m *Manager) GetBlock(hash [32]byte) (*block.Block, bool) {
	b, ok, err := m.store.GetBlock(hash)
	if err != nil {
		return nil, false
	}
	return b, ok
}

// FindTx implements utxo.TxLookup.
func (m *Manager) FindTx(txID [32]byte) (*block.Transaction, bool) {
	hash, ok := m.txIndex[txID]
	if !ok {
		return nil, false
	}
	b, ok := m.GetBlock(hash)
	if !ok {
		return nil, false
	}
	for _, tx := range b.Txs {
		if tx.ID == txID {
			return tx, true
		}
	}
	return nil, false
}

// persistUTXOLocked mirrors every bucket touched by changes into the store's
// utxo namespace. The in-memory set rebuilt by Bootstrap stays authoritative;
// the mirror is best-effort, so failures are logged rather than unwound.
func (m *Manager) persistUTXOLocked(changes []utxo.Change) {
	seen := make(map[[32]byte]bool)
	for _, c := range changes {
		if seen[c.Ref.TxID] {
			continue
		}
		seen[c.Ref.TxID] = true
		bucket, _ := m.utxoSet.Bucket(c.Ref.TxID)
		if err := m.store.PutUTXOBucket(c.Ref.TxID, bucket); err != nil {
			m.log.Error("persist utxo bucket %x: %v", c.Ref.TxID, err)
		}
	}
}

func (m *Manager) persistMempoolLocked() {
	if err := m.store.PutMempool(m.mempool.Snapshot()); err != nil {
		m.log.Error("persist mempool: %v", err)
	}
}

func (m *Manager) persistOrphansLocked() {
	if err := m.store.PutOrphans(m.orphans.all()); err != nil {
		m.log.Error("persist orphans: %v", err)
	}
}

func (m *Manager) announceLocked(a Announcement) {
	select {
	case m.announce <- a:
	default:
		m.log.Warn("announcement channel full, dropping %+v", a)
	}
}

// nowFunc is a seam for deterministic tests; production code leaves it as
// time.Now().Unix().
var nowFunc = defaultNow
