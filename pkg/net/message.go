package net

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Broadcast gossip topics every node subscribes to.
const (
	TopicNewInv       = "new_inv"
	TopicChainSyncReq = "chain_sync_req"
)

// Direct message kinds, addressed by embedding the target peer id in the
// topic name. Every node subscribes to its own three direct topics at
// startup and filters incoming messages on the parsed target.
const (
	KindInvReq       = "inv_req"
	KindInvRes       = "inv_res"
	KindChainSyncRes = "chain_sync_res"
)

const directPrefix = "direct"

// Inventory item kinds carried by announcements, requests, and responses.
const (
	InvTx    = "tx"
	InvBlock = "block"
)

// Message is the envelope every gossip and direct payload travels in.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	From      string          `json:"from"`
}

// NewInventory announces (or requests) an inventory item by id; the full
// object travels only in an Inventory response.
type NewInventory struct {
	Kind string `json:"kind"` // InvTx or InvBlock
	ID   string `json:"id"`   // hex-encoded 32-byte tx id or block hash
}

// Inventory carries a full requested object, exactly one of Tx or Block set,
// in the node's canonical hex-field JSON shape.
type Inventory struct {
	Kind  string          `json:"kind"`
	Tx    json.RawMessage `json:"tx,omitempty"`
	Block json.RawMessage `json:"block,omitempty"`
}

// ChainSyncReq carries the requester's local tip height (0 if it has no
// chain yet).
type ChainSyncReq struct {
	Height uint32 `json:"height"`
}

// ChainSyncRes carries the hex-encoded block hashes the sender has above the
// requester's height, tip first.
type ChainSyncRes struct {
	Hashes []string `json:"hashes"`
}

func encodeMessage(msgType, from string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("net: marshal %s payload: %w", msgType, err)
	}
	return json.Marshal(&Message{
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().Unix(),
		From:      from,
	})
}

func decodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("net: malformed message envelope: %w", err)
	}
	return &m, nil
}

// directTopic names the direct topic of the given kind addressed to target.
func directTopic(target peer.ID, kind string) string {
	return directPrefix + ":" + target.String() + ":" + kind
}

// parseDirectTopic splits a direct topic into its target peer and kind.
// Invalidly formatted topics are reported as an error and dropped by callers.
func parseDirectTopic(topic string) (peer.ID, string, error) {
	parts := strings.Split(topic, ":")
	if len(parts) != 3 || parts[0] != directPrefix {
		return "", "", fmt.Errorf("net: not a direct topic: %q", topic)
	}
	target, err := peer.Decode(parts[1])
	if err != nil {
		return "", "", fmt.Errorf("net: bad peer id in topic %q: %w", topic, err)
	}
	switch parts[2] {
	case KindInvReq, KindInvRes, KindChainSyncRes:
		return target, parts[2], nil
	default:
		return "", "", fmt.Errorf("net: unknown direct kind in topic %q", topic)
	}
}

func hexHash(h [32]byte) string {
	return hex.EncodeToString(h[:])
}

func parseHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("net: bad 32-byte hex id %q", s)
	}
	copy(out[:], raw)
	return out, nil
}
