package chain

import (
	"bytes"
	"sort"

	"github.com/basechain/node/pkg/block"
)

// orphanPool holds PoW-valid blocks whose parent is not (yet) the chain tip,
// bounded to OrphanPoolCapacity entries with oldest-arrival eviction. It is
// always accessed under the owning Manager's lock, so it carries no lock of
// its own.
type orphanPool struct {
	capacity int
	m        map[[32]byte]*block.Block
	order    [][32]byte // arrival order, oldest first
}

func newOrphanPool(capacity int) *orphanPool {
	return &orphanPool{
		capacity: capacity,
		m:        make(map[[32]byte]*block.Block),
	}
}

// add parks b under its hash, evicting the oldest arrival if the pool is
// already at capacity. A duplicate hash is a no-op.
func (o *orphanPool) add(hash [32]byte, b *block.Block) {
	if _, ok := o.m[hash]; ok {
		return
	}
	o.m[hash] = b
	o.order = append(o.order, hash)
	if len(o.order) > o.capacity {
		oldest := o.order[0]
		o.order = o.order[1:]
		delete(o.m, oldest)
	}
}

func (o *orphanPool) remove(hash [32]byte) {
	if _, ok := o.m[hash]; !ok {
		return
	}
	delete(o.m, hash)
	for i, h := range o.order {
		if h == hash {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

func (o *orphanPool) get(hash [32]byte) (*block.Block, bool) {
	b, ok := o.m[hash]
	return b, ok
}

// all returns every parked orphan, keyed by hash, for persistence.
func (o *orphanPool) all() map[[32]byte]*block.Block {
	out := make(map[[32]byte]*block.Block, len(o.m))
	for h, b := range o.m {
		out[h] = b
	}
	return out
}

// childrenOf returns every orphan directly extending prevHash, in
// hash-ascending order so tie-break selection is deterministic.
func (o *orphanPool) childrenOf(prevHash [32]byte) []*block.Block {
	var out []*block.Block
	for _, b := range o.m {
		if b.PrevHash == prevHash {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Hash[:], out[j].Hash[:]) < 0
	})
	return out
}

// baseParentHashes returns the distinct hashes that some held orphan extends,
// excluding any hash that is itself a held orphan. What remains is exactly
// the set of "roots": hashes of blocks outside the orphan pool (known to the
// chain, or truly unknown) that an orphan chain hangs off of.
func (o *orphanPool) baseParentHashes() [][32]byte {
	seen := make(map[[32]byte]bool)
	var out [][32]byte
	for _, b := range o.m {
		if _, parentIsOrphan := o.m[b.PrevHash]; parentIsOrphan {
			continue
		}
		if seen[b.PrevHash] {
			continue
		}
		seen[b.PrevHash] = true
		out = append(out, b.PrevHash)
	}
	return out
}

// longestChainFrom returns the longest run of held orphans directly or
// transitively extending prevHash, deepest-first ties broken by hash so the
// result is deterministic. Returns nil if no orphan extends prevHash.
func (o *orphanPool) longestChainFrom(prevHash [32]byte) []*block.Block {
	var best []*block.Block
	for _, c := range o.childrenOf(prevHash) {
		rest := o.longestChainFrom(c.Hash)
		candidate := append([]*block.Block{c}, rest...)
		if len(candidate) > len(best) {
			best = candidate
		}
	}
	return best
}
