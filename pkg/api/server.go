// Package api serves the node's REST surface: balances, spendable outputs,
// the chain view, and transaction submission.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/basechain/node/pkg/address"
	"github.com/basechain/node/pkg/block"
	"github.com/basechain/node/pkg/chain"
	"github.com/basechain/node/pkg/logger"
	"github.com/basechain/node/pkg/mempool"
	"github.com/basechain/node/pkg/storage"
	"github.com/basechain/node/pkg/wallet"
)

// Name and Version identify the node in the root endpoint.
const (
	Name    = "basechain"
	Version = "0.1.0"
)

// PeerReporter exposes the P2P facts the API surfaces; the net package
// implements it, and tests stub it.
type PeerReporter interface {
	PeerCount() int
	PeerAddrs() []string
}

// Config holds configuration for the API server.
type Config struct {
	ListenAddr string
}

// DefaultConfig returns the default REST listen address.
func DefaultConfig() *Config {
	return &Config{ListenAddr: ":8080"}
}

// Server is the HTTP API server.
type Server struct {
	router  *mux.Router
	node    *chain.Manager
	wallets *wallet.Store
	peers   PeerReporter
	log     *logger.Logger
	http    *http.Server
}

// noPeers stands in when the node runs without a P2P host.
type noPeers struct{}

func (noPeers) PeerCount() int      { return 0 }
func (noPeers) PeerAddrs() []string { return nil }

// NewServer wires the REST routes to the chain manager, keystore, and peer
// reporter. peers may be nil for nodes running without networking.
func NewServer(config *Config, node *chain.Manager, wallets *wallet.Store, peers PeerReporter, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	if peers == nil {
		peers = noPeers{}
	}
	s := &Server{
		router:  mux.NewRouter(),
		node:    node,
		wallets: wallets,
		peers:   peers,
		log:     log,
	}
	s.http = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/wallet/new", s.handleWalletNew).Methods(http.MethodGet)
	s.router.HandleFunc("/wallet/balance/{addr}", s.handleBalance).Methods(http.MethodGet)
	s.router.HandleFunc("/utxo", s.handleUTXO).Methods(http.MethodGet)
	s.router.HandleFunc("/chain", s.handleChain).Methods(http.MethodGet)
	s.router.HandleFunc("/tx/send", s.handleTxSend).Methods(http.MethodPost)
	s.router.HandleFunc("/peers", s.handlePeers).Methods(http.MethodGet)
}

// Handler returns the router, used by tests with httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown or a listen error.
func (s *Server) Start() error {
	s.log.Info("api: listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"name": Name, "version": Version})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, height := s.node.Tip()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"height": height,
		"peers":  s.peers.PeerCount(),
	})
}

func (s *Server) handleWalletNew(w http.ResponseWriter, r *http.Request) {
	if s.wallets == nil {
		s.writeError(w, errors.New("api: node has no keystore"))
		return
	}
	wlt, err := s.wallets.Create(r.URL.Query().Get("passphrase"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"address": wlt.Address().String()})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := address.Decode(mux.Vars(r)["addr"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": mux.Vars(r)["addr"],
		"balance": s.node.Balance(addr.PubKeyHash()),
	})
}

type utxoEntry struct {
	TxID     string `json:"tx_id"`
	OutIndex uint32 `json:"out_index"`
	Value    uint32 `json:"value"`
}

func (s *Server) handleUTXO(w http.ResponseWriter, r *http.Request) {
	addr, err := address.Decode(r.URL.Query().Get("address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := strconv.ParseUint(r.URL.Query().Get("amount"), 10, 32)
	if err != nil {
		s.writeError(w, fmt.Errorf("api: bad amount: %w", errInvalidRequest))
		return
	}

	spendable, err := s.node.SpendableOutputs(addr.PubKeyHash(), uint32(amount))
	if err != nil {
		s.writeError(w, err)
		return
	}
	utxos := make([]utxoEntry, 0, len(spendable))
	for ref, out := range spendable {
		utxos = append(utxos, utxoEntry{
			TxID:     fmt.Sprintf("%x", ref.TxID),
			OutIndex: ref.Index,
			Value:    out.Value,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": r.URL.Query().Get("address"),
		"utxos":   utxos,
	})
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	showTxs, _ := strconv.ParseBool(r.URL.Query().Get("show_txs"))

	blocks, err := s.node.Blocks()
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]json.RawMessage, 0, len(blocks))
	for _, b := range blocks {
		if !showTxs {
			b = &block.Block{
				PrevHash:   b.PrevHash,
				Hash:       b.Hash,
				MerkleRoot: b.MerkleRoot,
				Nonce:      b.Nonce,
				Height:     b.Height,
				Timestamp:  b.Timestamp,
			}
		}
		raw, err := storage.MarshalBlockJSON(b)
		if err != nil {
			s.writeError(w, err)
			return
		}
		out = append(out, raw)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTxSend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeError(w, fmt.Errorf("api: read body: %w", errInvalidRequest))
		return
	}
	tx, err := storage.UnmarshalTxJSON(body)
	if err != nil {
		s.writeError(w, fmt.Errorf("api: %v: %w", err, errInvalidRequest))
		return
	}
	if err := s.node.AdmitTx(tx); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": fmt.Sprintf("%x", tx.ID)})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	addrs := s.peers.PeerAddrs()
	if addrs == nil {
		addrs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"peers": addrs})
}

var errInvalidRequest = errors.New("invalid request")

// errorCode maps an error chain onto the REST contract's {error, code} body
// and HTTP status.
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, mempool.ErrDoubleSpend):
		return http.StatusBadRequest, "DoubleSpend"
	case errors.Is(err, block.ErrBadSignature):
		return http.StatusBadRequest, "BadSignature"
	case errors.Is(err, block.ErrWrongKey):
		return http.StatusBadRequest, "WrongKey"
	case errors.Is(err, block.ErrUnknownInput):
		return http.StatusBadRequest, "UnknownInput"
	case errors.Is(err, block.ErrInsufficientFunds):
		return http.StatusBadRequest, "InsufficientFunds"
	case errors.Is(err, chain.ErrCoinbaseTx):
		return http.StatusBadRequest, "InvalidTx"
	case errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest, "InvalidRequest"
	case errors.Is(err, address.ErrInvalid):
		return http.StatusBadRequest, "InvalidAddress"
	default:
		return http.StatusInternalServerError, "StoreError"
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := errorCode(err)
	if status >= 500 {
		s.log.Error("api: %v", err)
	}
	writeJSON(w, status, map[string]interface{}{"error": err.Error(), "code": code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
