// Package net implements the peer-to-peer layer: a libp2p host with a
// gossip overlay for inventory announcements and chain sync, plus direct
// per-peer topics for inventory requests and responses.
package net

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"

	"github.com/basechain/node/pkg/chain"
	"github.com/basechain/node/pkg/logger"
	"github.com/basechain/node/pkg/storage"
)

const rendezvous = "basechain"

// Config holds configuration for the P2P layer.
type Config struct {
	ListenPort        int
	Seeds             []string
	EnableMDNS        bool
	ConnectionTimeout time.Duration
}

// DefaultConfig returns the default P2P configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenPort:        4001,
		Seeds:             []string{},
		EnableMDNS:        true,
		ConnectionTimeout: 30 * time.Second,
	}
}

// Network is the P2P host plus the protocol state machine that keeps this
// node's chain converged with its peers.
type Network struct {
	mu     sync.Mutex
	host   host.Host
	dht    *dht.IpfsDHT
	ps     *pubsub.PubSub
	topics map[string]*pubsub.Topic

	config *Config
	mgr    *chain.Manager
	log    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the libp2p host (TCP transport, noise handshake, gossipsub with
// strict signed-message validation, Kademlia DHT) using the node's persisted
// identity from store, and wires it to mgr. Call Start to join the protocol
// topics and begin syncing.
func New(config *Config, store *storage.Node, mgr *chain.Manager, log *logger.Logger) (*Network, error) {
	if log == nil {
		log = logger.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	priv, err := LoadOrCreateIdentity(store)
	if err != nil {
		cancel()
		return nil, err
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", config.ListenPort)),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Transport(tcp.NewTCPTransport),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("net: create host: %w", err)
	}

	kad, err := dht.New(ctx, h, dht.Mode(dht.ModeServer))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("net: create dht: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithMessageSignaturePolicy(pubsub.StrictSign))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("net: create pubsub: %w", err)
	}

	return &Network{
		host:   h,
		dht:    kad,
		ps:     ps,
		topics: make(map[string]*pubsub.Topic),
		config: config,
		mgr:    mgr,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// ID returns this node's peer id.
func (n *Network) ID() peer.ID { return n.host.ID() }

// Start dials the seed peers, begins discovery, subscribes to the broadcast
// topics and this node's own direct topics, launches the announcement pump
// draining announce, and publishes an initial chain sync request carrying
// the current tip height.
func (n *Network) Start(announce <-chan chain.Announcement) error {
	if err := n.startDiscovery(); err != nil {
		return err
	}
	go n.connectToSeeds()

	self := n.host.ID()
	subscriptions := []string{
		TopicNewInv,
		TopicChainSyncReq,
		directTopic(self, KindInvReq),
		directTopic(self, KindInvRes),
		directTopic(self, KindChainSyncRes),
	}
	for _, name := range subscriptions {
		topic, err := n.joinTopic(name)
		if err != nil {
			return err
		}
		sub, err := topic.Subscribe()
		if err != nil {
			return fmt.Errorf("net: subscribe %s: %w", name, err)
		}
		n.wg.Add(1)
		go n.readLoop(sub)
	}

	n.wg.Add(1)
	go n.announcePump(announce)

	_, height := n.mgr.Tip()
	if err := n.publish(TopicChainSyncReq, TopicChainSyncReq, &ChainSyncReq{Height: height}); err != nil {
		n.log.Warn("net: initial chain sync request failed: %v", err)
	}
	return nil
}

func (n *Network) startDiscovery() error {
	if n.config.EnableMDNS {
		svc := mdns.NewMdnsService(n.host, rendezvous, &mdnsNotifee{n: n})
		if err := svc.Start(); err != nil {
			n.log.Warn("net: mdns start failed: %v", err)
		}
	}

	if err := n.dht.Bootstrap(n.ctx); err != nil {
		return fmt.Errorf("net: dht bootstrap: %w", err)
	}
	disc := routing.NewRoutingDiscovery(n.dht)
	if _, err := disc.Advertise(n.ctx, rendezvous); err != nil {
		n.log.Warn("net: advertise failed: %v", err)
	}
	n.wg.Add(1)
	go n.discoverPeers(disc)
	return nil
}

func (n *Network) discoverPeers(disc *routing.RoutingDiscovery) {
	defer n.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			peers, err := disc.FindPeers(n.ctx, rendezvous)
			if err != nil {
				continue
			}
			for p := range peers {
				if p.ID == n.host.ID() || len(p.Addrs) == 0 {
					continue
				}
				go n.connectToPeer(p)
			}
		}
	}
}

func (n *Network) connectToPeer(info peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(n.ctx, n.config.ConnectionTimeout)
	defer cancel()
	if err := n.host.Connect(ctx, info); err != nil {
		n.log.Debug("net: connect to %s failed: %v", info.ID, err)
	}
}

func (n *Network) connectToSeeds() {
	for _, addr := range n.config.Seeds {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			n.log.Warn("net: bad seed multiaddr %q: %v", addr, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			n.log.Warn("net: bad seed address %q: %v", addr, err)
			continue
		}
		go n.connectToPeer(*info)
	}
}

func (n *Network) joinTopic(name string) (*pubsub.Topic, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.topics[name]; ok {
		return t, nil
	}
	t, err := n.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("net: join %s: %w", name, err)
	}
	n.topics[name] = t
	return t, nil
}

// publish sends payload wrapped in the message envelope on the named topic.
func (n *Network) publish(topic, msgType string, payload interface{}) error {
	t, err := n.joinTopic(topic)
	if err != nil {
		return err
	}
	data, err := encodeMessage(msgType, n.host.ID().String(), payload)
	if err != nil {
		return err
	}
	return t.Publish(n.ctx, data)
}

// publishDirect sends payload on the target peer's direct topic of the given
// kind.
func (n *Network) publishDirect(target peer.ID, kind string, payload interface{}) error {
	return n.publish(directTopic(target, kind), kind, payload)
}

// announcePump forwards chain manager announcements (admitted transactions,
// new tip blocks) to the new_inv gossip topic.
func (n *Network) announcePump(announce <-chan chain.Announcement) {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case a, ok := <-announce:
			if !ok {
				return
			}
			inv := &NewInventory{}
			switch a.Kind {
			case chain.AnnounceTx:
				inv.Kind = InvTx
				inv.ID = hexHash(a.TxID)
			case chain.AnnounceBlock:
				inv.Kind = InvBlock
				inv.ID = hexHash(a.BlockHash)
			default:
				continue
			}
			if err := n.publish(TopicNewInv, TopicNewInv, inv); err != nil {
				n.log.Warn("net: announce %s %s failed: %v", inv.Kind, inv.ID, err)
			}
		}
	}
}

// readLoop drains one subscription, dispatching each peer message to the
// protocol handler. Messages we published ourselves are skipped.
func (n *Network) readLoop(sub *pubsub.Subscription) {
	defer n.wg.Done()
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == n.host.ID() {
			continue
		}
		n.handleMessage(sub.Topic(), msg)
	}
}

// PeerCount reports how many peers the host is currently connected to.
func (n *Network) PeerCount() int {
	return len(n.host.Network().Peers())
}

// PeerAddrs returns the multiaddresses of every connected peer.
func (n *Network) PeerAddrs() []string {
	var out []string
	for _, p := range n.host.Network().Peers() {
		for _, conn := range n.host.Network().ConnsToPeer(p) {
			out = append(out, fmt.Sprintf("%s/p2p/%s", conn.RemoteMultiaddr(), p))
		}
	}
	return out
}

// Multiaddrs returns this host's listen addresses with its peer id appended,
// suitable for use as another node's seed.
func (n *Network) Multiaddrs() []string {
	var out []string
	for _, a := range n.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return out
}

// Close shuts down the protocol loops, the DHT, and the host.
func (n *Network) Close() error {
	n.cancel()
	n.wg.Wait()
	if err := n.dht.Close(); err != nil {
		n.log.Warn("net: dht close: %v", err)
	}
	return n.host.Close()
}

// mdnsNotifee connects to peers found on the local network.
type mdnsNotifee struct {
	n *Network
}

func (m *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == m.n.host.ID() {
		return
	}
	go m.n.connectToPeer(info)
}
