package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basechain/node/pkg/chain"
	"github.com/basechain/node/pkg/storage"
	"github.com/basechain/node/pkg/wallet"
)

type fakePeers struct{ addrs []string }

func (f fakePeers) PeerCount() int      { return len(f.addrs) }
func (f fakePeers) PeerAddrs() []string { return f.addrs }

func newTestServer(t *testing.T) (*Server, *chain.Manager, *wallet.Wallet) {
	t.Helper()
	w, err := wallet.New()
	require.NoError(t, err)

	mgr := chain.New(storage.NewNode(storage.NewMemStore()), nil, nil)
	require.NoError(t, mgr.Bootstrap(w.Address()))

	wallets, err := wallet.NewStore(t.TempDir())
	require.NoError(t, err)

	srv := NewServer(DefaultConfig(), mgr, wallets, fakePeers{addrs: []string{"/ip4/10.0.0.2/tcp/4001/p2p/QmPeer"}}, nil)
	return srv, mgr, w
}

func get(t *testing.T, srv *Server, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestRootAndHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := get(t, srv, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Name, body["name"])
	assert.Equal(t, Version, body["version"])

	rec, body = get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["height"])
	assert.Equal(t, float64(1), body["peers"])
}

func TestBalance(t *testing.T) {
	srv, _, w := newTestServer(t)

	rec, body := get(t, srv, "/wallet/balance/"+w.Address().String())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(100), body["balance"])
}

func TestBalanceRejectsBadAddress(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := get(t, srv, "/wallet/balance/notanaddress")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidAddress", body["code"])
	assert.NotEmpty(t, body["error"])
}

func TestUTXOListsSpendableSet(t *testing.T) {
	srv, _, w := newTestServer(t)

	rec, body := get(t, srv, fmt.Sprintf("/utxo?address=%s&amount=50", w.Address()))
	assert.Equal(t, http.StatusOK, rec.Code)
	utxos := body["utxos"].([]interface{})
	require.Len(t, utxos, 1)
	entry := utxos[0].(map[string]interface{})
	assert.Equal(t, float64(100), entry["value"])
}

func TestUTXOInsufficientFunds(t *testing.T) {
	srv, _, w := newTestServer(t)

	rec, body := get(t, srv, fmt.Sprintf("/utxo?address=%s&amount=500", w.Address()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InsufficientFunds", body["code"])
}

func TestChainEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chain?show_txs=true", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var blocks []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &blocks))
	require.Len(t, blocks, 1)
	assert.Equal(t, float64(0), blocks[0]["height"])
	assert.Len(t, blocks[0]["txs"], 1)

	// without show_txs the tx list is omitted
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chain", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &blocks))
	require.Len(t, blocks, 1)
	assert.Empty(t, blocks[0]["txs"])
}

func TestTxSendAdmitsAndRejects(t *testing.T) {
	srv, mgr, w := newTestServer(t)

	recipient, err := wallet.New()
	require.NoError(t, err)
	spendable, err := mgr.SpendableOutputs(w.PubKeyHash(), 30)
	require.NoError(t, err)
	tx, err := wallet.NewTransfer(w, recipient.Address(), 30, spendable)
	require.NoError(t, err)
	raw, err := storage.MarshalTxJSON(tx)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tx/send", bytes.NewReader(raw)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, mgr.MempoolLen())

	// a conflicting spend of the same output must come back as DoubleSpend
	conflicting, err := wallet.NewTransfer(w, recipient.Address(), 40, spendable)
	require.NoError(t, err)
	raw, err = storage.MarshalTxJSON(conflicting)
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tx/send", bytes.NewReader(raw)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "DoubleSpend", body["code"])
}

func TestTxSendRejectsGarbage(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tx/send", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWalletNew(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := get(t, srv, "/wallet/new?passphrase=pw")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, body["address"])
}

func TestPeers(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := get(t, srv, "/peers")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["peers"], 1)
}
