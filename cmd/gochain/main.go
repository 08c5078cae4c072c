// Command gochain runs a basechain node and provides wallet and chain
// inspection subcommands that talk to a running node's REST API.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/basechain/node/pkg/address"
	"github.com/basechain/node/pkg/api"
	"github.com/basechain/node/pkg/block"
	"github.com/basechain/node/pkg/chain"
	"github.com/basechain/node/pkg/logger"
	"github.com/basechain/node/pkg/miner"
	netpkg "github.com/basechain/node/pkg/net"
	"github.com/basechain/node/pkg/storage"
	"github.com/basechain/node/pkg/utxo"
	"github.com/basechain/node/pkg/wallet"
)

var (
	configFile string
	passphrase string
	nodeURL    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gochain",
		Short: "basechain - a proof-of-work UTXO blockchain node",
		Long: `basechain is a full node for a UTXO-based proof-of-work cryptocurrency:
ECDSA-signed transactions, base58 addresses, a persistent block store,
a gossip-based peer network, and a built-in miner.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default basechain.yaml in data dir or cwd)")
	rootCmd.PersistentFlags().StringVar(&nodeURL, "node", "http://127.0.0.1:8080", "REST address of the node to talk to")

	rootCmd.AddCommand(initCmd(), startCmd(), walletCmd(), sendCmd(), chainCmd())

	if err := rootCmd.Execute(); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	color.Red("error: %v", err)
	os.Exit(1)
}

func loadConfig() error {
	viper.SetDefault("data_dir", defaultDataDir())
	viper.SetDefault("api_addr", ":8080")
	viper.SetDefault("p2p.port", 4001)
	viper.SetDefault("p2p.enabled", true)
	viper.SetDefault("p2p.mdns", true)
	viper.SetDefault("p2p.seeds", []string{})
	viper.SetDefault("mining.enabled", false)
	viper.SetDefault("mining.address", "")
	viper.SetDefault("storage.backend", string(storage.BackendBadger))
	viper.SetDefault("log.level", "info")

	viper.SetEnvPrefix("BASECHAIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		return viper.ReadInConfig()
	}
	viper.SetConfigName("basechain")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(viper.GetString("data_dir"))
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".basechain"
	}
	return filepath.Join(home, ".basechain")
}

func newLogger() *logger.Logger {
	cfg := logger.DefaultConfig()
	switch viper.GetString("log.level") {
	case "debug":
		cfg.Level = logger.DEBUG
	case "warn":
		cfg.Level = logger.WARN
	case "error":
		cfg.Level = logger.ERROR
	}
	return logger.NewLogger(cfg)
}

func openNodeStore() (*storage.Node, error) {
	backend := storage.Backend(viper.GetString("storage.backend"))
	db, err := storage.Open(backend, filepath.Join(viper.GetString("data_dir"), "db"))
	if err != nil {
		return nil, err
	}
	return storage.NewNode(db), nil
}

func openKeystore() (*wallet.Store, error) {
	return wallet.NewStore(filepath.Join(viper.GetString("data_dir"), "keystore"))
}

// genesisWallet picks the wallet that receives the genesis (and mining)
// coinbase: the configured mining address if set, else the first keystore
// wallet, else a freshly created one.
func genesisWallet(keystore *wallet.Store) (*wallet.Wallet, error) {
	if addr := viper.GetString("mining.address"); addr != "" {
		return keystore.Load(addr, passphrase)
	}
	addrs, err := keystore.Addresses()
	if err != nil {
		return nil, err
	}
	if len(addrs) > 0 {
		return keystore.Load(addrs[0], passphrase)
	}
	return keystore.Create(passphrase)
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the data directory, a wallet, the peer identity, and the genesis block",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openNodeStore()
			if err != nil {
				return err
			}
			defer store.Close()

			keystore, err := openKeystore()
			if err != nil {
				return err
			}
			w, err := genesisWallet(keystore)
			if err != nil {
				return err
			}

			mgr := chain.New(store, nil, newLogger())
			if err := mgr.Bootstrap(w.Address()); err != nil {
				return err
			}
			if _, err := netpkg.LoadOrCreateIdentity(store); err != nil {
				return err
			}

			tip, height := mgr.Tip()
			color.Green("initialized chain in %s", viper.GetString("data_dir"))
			fmt.Printf("genesis address: %s\n", w.Address())
			fmt.Printf("tip: %x (height %d)\n", tip, height)
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase for the genesis wallet")
	return cmd
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the node: chain manager, P2P host, REST API, and optionally the miner",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			store, err := openNodeStore()
			if err != nil {
				return err
			}
			defer store.Close()

			keystore, err := openKeystore()
			if err != nil {
				return err
			}
			w, err := genesisWallet(keystore)
			if err != nil {
				return err
			}

			var announce chan chain.Announcement
			if viper.GetBool("p2p.enabled") {
				announce = make(chan chain.Announcement, 256)
			}
			mgr := chain.New(store, announce, log)
			if err := mgr.Bootstrap(w.Address()); err != nil {
				return err
			}

			var peers api.PeerReporter
			var network *netpkg.Network
			if viper.GetBool("p2p.enabled") {
				netCfg := netpkg.DefaultConfig()
				netCfg.ListenPort = viper.GetInt("p2p.port")
				netCfg.Seeds = viper.GetStringSlice("p2p.seeds")
				netCfg.EnableMDNS = viper.GetBool("p2p.mdns")
				network, err = netpkg.New(netCfg, store, mgr, log)
				if err != nil {
					return err
				}
				if err := network.Start(announce); err != nil {
					return err
				}
				peers = network
				log.Info("p2p: listening as %s", network.ID())
				for _, a := range network.Multiaddrs() {
					log.Info("p2p: address %s", a)
				}
			}

			var mnr *miner.Miner
			if viper.GetBool("mining.enabled") {
				cfg := miner.DefaultConfig(w.PubKeyHash())
				mnr = miner.New(mgr, cfg, log)
				if err := mnr.Start(); err != nil {
					return err
				}
				log.Info("miner: rewards paid to %s", w.Address())
			}

			srv := api.NewServer(&api.Config{ListenAddr: viper.GetString("api_addr")}, mgr, keystore, peers, log)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case s := <-sig:
				log.Info("received %s, shutting down", s)
			}

			if mnr != nil {
				mnr.Stop()
			}
			if network != nil {
				if err := network.Close(); err != nil {
					log.Warn("p2p shutdown: %v", err)
				}
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase for the mining/genesis wallet")
	return cmd
}

func walletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage keystore wallets",
	}

	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Create a wallet and print its address",
		RunE: func(cmd *cobra.Command, args []string) error {
			keystore, err := openKeystore()
			if err != nil {
				return err
			}
			w, err := keystore.Create(passphrase)
			if err != nil {
				return err
			}
			color.Green("%s", w.Address())
			return nil
		},
	}
	newCmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase protecting the new wallet")

	balanceCmd := &cobra.Command{
		Use:   "balance <address>",
		Short: "Print an address's balance from a running node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := address.Decode(args[0]); err != nil {
				return err
			}
			var res struct {
				Address string `json:"address"`
				Balance uint32 `json:"balance"`
			}
			if err := getJSON("/wallet/balance/"+args[0], &res); err != nil {
				return err
			}
			fmt.Printf("%s: %d\n", res.Address, res.Balance)
			return nil
		},
	}

	cmd.AddCommand(newCmd, balanceCmd)
	return cmd
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <from> <to> <amount>",
		Short: "Build, sign, and submit a transaction via a running node",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to := args[0], args[1]
			amount64, err := strconv.ParseUint(args[2], 10, 32)
			if err != nil {
				return fmt.Errorf("bad amount %q: %w", args[2], err)
			}
			amount := uint32(amount64)

			recipient, err := address.Decode(to)
			if err != nil {
				return err
			}
			keystore, err := openKeystore()
			if err != nil {
				return err
			}
			sender, err := keystore.Load(from, passphrase)
			if err != nil {
				return err
			}

			spendable, err := fetchSpendable(from, amount, sender)
			if err != nil {
				return err
			}
			tx, err := wallet.NewTransfer(sender, recipient, amount, spendable)
			if err != nil {
				return err
			}
			raw, err := storage.MarshalTxJSON(tx)
			if err != nil {
				return err
			}

			var res struct {
				ID string `json:"id"`
			}
			if err := postJSON("/tx/send", raw, &res); err != nil {
				return err
			}
			color.Green("submitted tx %s", res.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase unlocking the sending wallet")
	return cmd
}

func chainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Inspect the chain of a running node",
	}

	var showTxs bool
	printCmd := &cobra.Command{
		Use:   "print",
		Short: "Print the chain from tip to genesis",
		RunE: func(cmd *cobra.Command, args []string) error {
			var blocks []struct {
				Hash      string          `json:"hash"`
				PrevHash  string          `json:"prev_hash"`
				Height    uint32          `json:"height"`
				Timestamp int64           `json:"timestamp"`
				Txs       json.RawMessage `json:"txs"`
			}
			path := "/chain"
			if showTxs {
				path += "?show_txs=true"
			}
			if err := getJSON(path, &blocks); err != nil {
				return err
			}
			for _, b := range blocks {
				color.Cyan("height %d  %s", b.Height, b.Hash)
				fmt.Printf("  prev: %s\n  time: %s\n", b.PrevHash, time.Unix(b.Timestamp, 0).UTC().Format(time.RFC3339))
				if showTxs && len(b.Txs) > 0 {
					fmt.Printf("  txs:  %s\n", b.Txs)
				}
			}
			return nil
		},
	}
	printCmd.Flags().BoolVar(&showTxs, "show-txs", false, "include transactions")

	cmd.AddCommand(printCmd)
	return cmd
}

// fetchSpendable asks the node for outputs covering amount and rebuilds the
// spendable map the transfer builder expects. The outputs all belong to the
// sender, so their lock is the sender's own public key hash.
func fetchSpendable(addr string, amount uint32, sender *wallet.Wallet) (map[utxo.OutRef]*block.TxOutput, error) {
	var res struct {
		UTXOs []struct {
			TxID     string `json:"tx_id"`
			OutIndex uint32 `json:"out_index"`
			Value    uint32 `json:"value"`
		} `json:"utxos"`
	}
	q := url.Values{"address": {addr}, "amount": {strconv.FormatUint(uint64(amount), 10)}}
	if err := getJSON("/utxo?"+q.Encode(), &res); err != nil {
		return nil, err
	}

	out := make(map[utxo.OutRef]*block.TxOutput, len(res.UTXOs))
	for _, u := range res.UTXOs {
		raw, err := hex.DecodeString(u.TxID)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("node returned bad tx id %q", u.TxID)
		}
		var ref utxo.OutRef
		copy(ref.TxID[:], raw)
		ref.Index = u.OutIndex
		out[ref] = &block.TxOutput{Value: u.Value, PubKeyHash: sender.PubKeyHash()}
	}
	return out, nil
}

func getJSON(path string, out interface{}) error {
	resp, err := http.Get(nodeURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func postJSON(path string, body []byte, out interface{}) error {
	resp, err := http.Post(nodeURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Error)
		}
		return fmt.Errorf("node returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
