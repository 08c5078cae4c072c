// Package miner runs the periodic proof-of-work loop that turns mempool
// contents into new blocks.
package miner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basechain/node/pkg/chain"
	"github.com/basechain/node/pkg/logger"
)

// Config holds configuration for the miner.
type Config struct {
	// Tick is how often the miner wakes to check the mempool.
	Tick time.Duration
	// RewardPubKeyHash receives every mined block's coinbase output.
	RewardPubKeyHash [20]byte
}

// DefaultConfig returns the default mining cadence.
func DefaultConfig(rewardPKH [20]byte) *Config {
	return &Config{
		Tick:             10 * time.Second,
		RewardPubKeyHash: rewardPKH,
	}
}

// Miner drives the periodic mining loop. A single atomic flag keeps ticks
// from overlapping: if a previous tick is still searching for a nonce, the
// next tick is a no-op. Only one loop may run per Miner.
type Miner struct {
	mu      sync.Mutex
	chain   *chain.Manager
	config  *Config
	log     *logger.Logger
	busy    atomic.Bool
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a miner committing blocks through mgr.
func New(mgr *chain.Manager, config *Config, log *logger.Logger) *Miner {
	if log == nil {
		log = logger.Default()
	}
	return &Miner{chain: mgr, config: config, log: log}
}

// Start launches the mining loop. A second Start while running is an error.
func (m *Miner) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("miner: already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx)
	return nil
}

// Stop halts the loop and waits for the in-flight tick, if any, to return.
func (m *Miner) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
}

// IsRunning reports whether the mining loop is active.
func (m *Miner) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Miner) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick attempts one mining round. The flag must be released on every exit
// path, including panics, so a failed round never wedges the loop.
func (m *Miner) Tick() {
	if !m.busy.CompareAndSwap(false, true) {
		return
	}
	defer m.busy.Store(false)

	if m.chain.MempoolLen() == 0 {
		return
	}

	candidate, err := m.chain.BuildCandidate(m.config.RewardPubKeyHash)
	if err != nil {
		if !errors.Is(err, chain.ErrEmptyMempool) {
			m.log.Warn("miner: candidate rejected: %v", err)
		}
		return
	}

	if err := candidate.Mine(); err != nil {
		m.log.Error("miner: nonce search failed: %v", err)
		return
	}

	if err := m.chain.CommitBlock(candidate); err != nil {
		// A candidate whose parent is no longer the tip is parked as an
		// orphan rather than rejected, so an error here means verification
		// or storage failed.
		m.log.Warn("miner: commit of %x failed: %v", candidate.Hash, err)
		return
	}
	m.log.Info("miner: mined block %x at height %d with %d txs",
		candidate.Hash, candidate.Height, len(candidate.Txs))
}
