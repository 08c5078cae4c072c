package net

import (
	"encoding/json"
	"strings"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/basechain/node/pkg/storage"
)

// handleMessage dispatches one received gossip or direct message. Invalid
// items received from peers are routine: they are logged and dropped, never
// propagated and never surfaced as node errors.
func (n *Network) handleMessage(topic string, msg *pubsub.Message) {
	env, err := decodeMessage(msg.Data)
	if err != nil {
		n.log.Debug("net: dropping malformed message on %s: %v", topic, err)
		return
	}
	source := msg.GetFrom()

	if strings.HasPrefix(topic, directPrefix+":") {
		target, kind, err := parseDirectTopic(topic)
		if err != nil {
			n.log.Debug("net: dropping message on invalid direct topic: %v", err)
			return
		}
		if target != n.host.ID() {
			return
		}
		switch kind {
		case KindInvReq:
			n.handleInvReq(source, env)
		case KindInvRes:
			n.handleInvRes(env)
		case KindChainSyncRes:
			n.handleChainSyncRes(source, env)
		}
		return
	}

	switch topic {
	case TopicNewInv:
		n.handleNewInv(source, env)
	case TopicChainSyncReq:
		n.handleChainSyncReq(source, env)
	}
}

// handleNewInv requests any announced inventory item we don't already hold.
func (n *Network) handleNewInv(source peer.ID, env *Message) {
	var inv NewInventory
	if err := json.Unmarshal(env.Payload, &inv); err != nil {
		n.log.Debug("net: bad new_inv payload: %v", err)
		return
	}
	id, err := parseHash(inv.ID)
	if err != nil {
		n.log.Debug("net: bad new_inv id: %v", err)
		return
	}

	switch inv.Kind {
	case InvTx:
		if n.mgr.KnownTx(id) {
			return
		}
	case InvBlock:
		if n.mgr.KnownBlock(id) {
			return
		}
	default:
		n.log.Debug("net: unknown inventory kind %q", inv.Kind)
		return
	}

	if err := n.publishDirect(source, KindInvReq, &inv); err != nil {
		n.log.Warn("net: inventory request to %s failed: %v", source, err)
	}
}

// handleInvReq answers a direct request for an item we hold: transactions
// come from the mempool, blocks from the block store. Unknown items are
// silently ignored.
func (n *Network) handleInvReq(source peer.ID, env *Message) {
	var req NewInventory
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		n.log.Debug("net: bad inv_req payload: %v", err)
		return
	}
	id, err := parseHash(req.ID)
	if err != nil {
		n.log.Debug("net: bad inv_req id: %v", err)
		return
	}

	res := &Inventory{Kind: req.Kind}
	switch req.Kind {
	case InvTx:
		tx, ok := n.mgr.MempoolTx(id)
		if !ok {
			return
		}
		raw, err := storage.MarshalTxJSON(tx)
		if err != nil {
			n.log.Error("net: marshal tx %x: %v", id, err)
			return
		}
		res.Tx = raw
	case InvBlock:
		b, ok := n.mgr.GetBlock(id)
		if !ok {
			return
		}
		raw, err := storage.MarshalBlockJSON(b)
		if err != nil {
			n.log.Error("net: marshal block %x: %v", id, err)
			return
		}
		res.Block = raw
	default:
		return
	}

	if err := n.publishDirect(source, KindInvRes, res); err != nil {
		n.log.Warn("net: inventory response to %s failed: %v", source, err)
	}
}

// handleInvRes admits a received full object: transactions are verified and
// admitted to the mempool, blocks go through the full commit pipeline.
func (n *Network) handleInvRes(env *Message) {
	var res Inventory
	if err := json.Unmarshal(env.Payload, &res); err != nil {
		n.log.Debug("net: bad inv_res payload: %v", err)
		return
	}

	switch res.Kind {
	case InvTx:
		tx, err := storage.UnmarshalTxJSON(res.Tx)
		if err != nil {
			n.log.Debug("net: bad inv_res tx: %v", err)
			return
		}
		if err := n.mgr.AdmitTx(tx); err != nil {
			n.log.Debug("net: discarding received tx %x: %v", tx.ID, err)
		}
	case InvBlock:
		b, err := storage.UnmarshalBlockJSON(res.Block)
		if err != nil {
			n.log.Debug("net: bad inv_res block: %v", err)
			return
		}
		if err := n.mgr.CommitBlock(b); err != nil {
			n.log.Debug("net: discarding received block %x: %v", b.Hash, err)
		}
	}
}

// handleChainSyncReq answers a broadcast sync request with the block hashes
// we hold above the requester's height.
func (n *Network) handleChainSyncReq(source peer.ID, env *Message) {
	var req ChainSyncReq
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		n.log.Debug("net: bad chain_sync_req payload: %v", err)
		return
	}

	_, height := n.mgr.Tip()
	if height <= req.Height {
		return
	}
	hashes, err := n.mgr.HashesAbove(req.Height)
	if err != nil {
		n.log.Error("net: chain walk failed: %v", err)
		return
	}
	if len(hashes) == 0 {
		return
	}

	res := &ChainSyncRes{Hashes: make([]string, len(hashes))}
	for i, h := range hashes {
		res.Hashes[i] = hexHash(h)
	}
	if err := n.publishDirect(source, KindChainSyncRes, res); err != nil {
		n.log.Warn("net: chain sync response to %s failed: %v", source, err)
	}
}

// handleChainSyncRes requests every block hash in the response we don't
// already hold.
func (n *Network) handleChainSyncRes(source peer.ID, env *Message) {
	var res ChainSyncRes
	if err := json.Unmarshal(env.Payload, &res); err != nil {
		n.log.Debug("net: bad chain_sync_res payload: %v", err)
		return
	}
	for _, s := range res.Hashes {
		hash, err := parseHash(s)
		if err != nil {
			n.log.Debug("net: bad chain_sync_res hash: %v", err)
			continue
		}
		if n.mgr.KnownBlock(hash) {
			continue
		}
		req := &NewInventory{Kind: InvBlock, ID: s}
		if err := n.publishDirect(source, KindInvReq, req); err != nil {
			n.log.Warn("net: block request to %s failed: %v", source, err)
		}
	}
}
