// Package storage implements the node's persistent key-value layer: a
// generic namespaced byte-string store (Store), plus typed helpers layered
// on top of it for blocks, the UTXO set, the mempool, the orphan pool, the
// chain tip, and the node's P2P identity key.
package storage

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/basechain/node/pkg/block"
)

// Store is the generic ordered key-value contract every backend implements.
// It deliberately mirrors the opaque "column family" store the core
// components are written against: single-key reads/writes are assumed
// concurrency-safe, and compound invariants are the caller's (chain
// manager's) responsibility.
type Store interface {
	Write(key, value []byte) error
	Read(key []byte) ([]byte, error) // returns ErrNotFound if absent
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	Close() error
}

// ErrNotFound is returned by Read when key has no value.
var ErrNotFound = fmt.Errorf("storage: key not found")

// Backend selects which concrete Store implementation a node runs with.
type Backend string

const (
	BackendBadger  Backend = "badger"
	BackendLevelDB Backend = "leveldb"
	BackendMemory  Backend = "memory"
)

// Namespace key prefixes, matching the node's persisted state layout.
const (
	prefixBlock = "block:"
	prefixUTXO  = "utxo:"
	keyTip      = "lh"
	keyMempool  = "mempool"
	keyOrphans  = "orphan"
	keyNodeID   = "node_id"
)

func blockKey(hash [32]byte) []byte {
	return []byte(prefixBlock + hex.EncodeToString(hash[:]))
}

func utxoKey(txID [32]byte) []byte {
	return []byte(prefixUTXO + hex.EncodeToString(txID[:]))
}

// Node wraps a Store with the node's typed accessors. It owns no
// synchronization of its own: the chain manager's lock governs compound
// read-modify-write sequences across these calls.
type Node struct {
	db Store
}

// NewNode wraps db with the node's typed accessors.
func NewNode(db Store) *Node { return &Node{db: db} }

// Close releases the underlying backend.
func (n *Node) Close() error { return n.db.Close() }

// PutBlock persists a block keyed by its hash.
func (n *Node) PutBlock(hash [32]byte, b *block.Block) error {
	data, err := json.Marshal(toWireBlock(b))
	if err != nil {
		return fmt.Errorf("storage: marshal block: %w", err)
	}
	return n.db.Write(blockKey(hash), data)
}

// GetBlock retrieves a block by hash.
func (n *Node) GetBlock(hash [32]byte) (*block.Block, bool, error) {
	data, err := n.db.Read(blockKey(hash))
	if err == ErrNotFound {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	var wb wireBlock
	if err := json.Unmarshal(data, &wb); err != nil {
		return nil, false, fmt.Errorf("storage: unmarshal block: %w", err)
	}
	return wb.toBlock(), true, nil
}

// DeleteBlock removes a block record, used when a rolled-back block is
// fully evicted during reorg rollback.
func (n *Node) DeleteBlock(hash [32]byte) error {
	return n.db.Delete(blockKey(hash))
}

// PutUTXOBucket persists the full set of live outputs for a producing
// transaction, matching the "key = tx_id, value = mapping out_index ->
// TxOutput" namespace layout.
func (n *Node) PutUTXOBucket(txID [32]byte, bucket map[uint32]*block.TxOutput) error {
	if len(bucket) == 0 {
		return n.db.Delete(utxoKey(txID))
	}
	data, err := json.Marshal(toWireUTXOBucket(bucket))
	if err != nil {
		return fmt.Errorf("storage: marshal utxo bucket: %w", err)
	}
	return n.db.Write(utxoKey(txID), data)
}

// GetUTXOBucket retrieves the live outputs for a producing transaction.
func (n *Node) GetUTXOBucket(txID [32]byte) (map[uint32]*block.TxOutput, bool, error) {
	data, err := n.db.Read(utxoKey(txID))
	if err == ErrNotFound {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	var wb []wireUTXOEntry
	if err := json.Unmarshal(data, &wb); err != nil {
		return nil, false, fmt.Errorf("storage: unmarshal utxo bucket: %w", err)
	}
	return fromWireUTXOBucket(wb), true, nil
}

// DeleteUTXOBucket removes an entire producing transaction's bucket.
func (n *Node) DeleteUTXOBucket(txID [32]byte) error {
	return n.db.Delete(utxoKey(txID))
}

// PutTip persists the current chain tip hash.
func (n *Node) PutTip(hash [32]byte) error {
	return n.db.Write([]byte(keyTip), hash[:])
}

// GetTip retrieves the current chain tip hash.
func (n *Node) GetTip() ([32]byte, bool, error) {
	var out [32]byte
	data, err := n.db.Read([]byte(keyTip))
	if err == ErrNotFound {
		return out, false, nil
	} else if err != nil {
		return out, false, err
	}
	copy(out[:], data)
	return out, true, nil
}

// PutMempool persists a snapshot of held transactions.
func (n *Node) PutMempool(txs []*block.Transaction) error {
	wire := make([]*wireTx, len(txs))
	for i, tx := range txs {
		wire[i] = toWireTx(tx)
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("storage: marshal mempool: %w", err)
	}
	return n.db.Write([]byte(keyMempool), data)
}

// GetMempool retrieves the persisted mempool snapshot.
func (n *Node) GetMempool() ([]*block.Transaction, error) {
	data, err := n.db.Read([]byte(keyMempool))
	if err == ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var wire []*wireTx
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("storage: unmarshal mempool: %w", err)
	}
	out := make([]*block.Transaction, len(wire))
	for i, w := range wire {
		out[i] = w.toTx()
	}
	return out, nil
}

// PutOrphans persists the orphan pool.
func (n *Node) PutOrphans(orphans map[[32]byte]*block.Block) error {
	wire := make(map[string]*wireBlock, len(orphans))
	for hash, b := range orphans {
		wire[hex.EncodeToString(hash[:])] = toWireBlock(b)
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("storage: marshal orphans: %w", err)
	}
	return n.db.Write([]byte(keyOrphans), data)
}

// GetOrphans retrieves the persisted orphan pool.
func (n *Node) GetOrphans() (map[[32]byte]*block.Block, error) {
	data, err := n.db.Read([]byte(keyOrphans))
	if err == ErrNotFound {
		return map[[32]byte]*block.Block{}, nil
	} else if err != nil {
		return nil, err
	}
	var wire map[string]*wireBlock
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("storage: unmarshal orphans: %w", err)
	}
	out := make(map[[32]byte]*block.Block, len(wire))
	for hexHash, wb := range wire {
		raw, err := hex.DecodeString(hexHash)
		if err != nil || len(raw) != 32 {
			continue
		}
		var hash [32]byte
		copy(hash[:], raw)
		out[hash] = wb.toBlock()
	}
	return out, nil
}

// PutNodeIdentity persists the P2P host's private key material.
func (n *Node) PutNodeIdentity(data []byte) error {
	return n.db.Write([]byte(keyNodeID), data)
}

// GetNodeIdentity retrieves the P2P host's persisted private key material.
func (n *Node) GetNodeIdentity() ([]byte, bool, error) {
	data, err := n.db.Read([]byte(keyNodeID))
	if err == ErrNotFound {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return data, true, nil
}
