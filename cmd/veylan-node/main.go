// Command veylan-node is the daemon entrypoint: it loads configuration,
// opens the badger-backed store, bootstraps or resumes the chain, and
// starts mining, mempool eviction, p2p, and metrics together. Cobra
// command layout follows the teacher's cmd/synnergy/main.go; the
// init-then-wait-for-signal shutdown shape is the node daemon pattern
// common across the pack's other chain binaries.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/veylan-chain/veylan/internal/chain"
	"github.com/veylan-chain/veylan/internal/config"
	"github.com/veylan-chain/veylan/internal/eventbus"
	"github.com/veylan-chain/veylan/internal/identity"
	"github.com/veylan-chain/veylan/internal/mempool"
	"github.com/veylan-chain/veylan/internal/metrics"
	"github.com/veylan-chain/veylan/internal/mining"
	"github.com/veylan-chain/veylan/internal/p2p"
	"github.com/veylan-chain/veylan/internal/state"
	"github.com/veylan-chain/veylan/internal/store"
	"github.com/veylan-chain/veylan/internal/txhandlers"
	"github.com/veylan-chain/veylan/internal/types"
)

func main() {
	root := &cobra.Command{Use: "veylan-node"}
	root.AddCommand(startCmd())
	root.AddCommand(genesisCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the node: chain, mining, mempool, p2p and metrics",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runNode(configPath); err != nil {
				logrus.Fatalf("node: %v", err)
			}
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to node configuration")
	return cmd
}

// genesisCmd loads a genesis file and prints its network id, authority count
// and genesis timestamp, useful for sanity-checking a network's genesis
// before distributing it to other operators.
func genesisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genesis [file]",
		Short: "validate a genesis file and print its settings",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			settings, err := config.LoadGenesis(args[0])
			if err != nil {
				logrus.Fatalf("genesis: %v", err)
			}
			fmt.Printf("network_id=%d authorities=%d genesis_timestamp=%d\n",
				settings.NetworkID, len(settings.GenesisAuthorities), settings.GenesisTimestamp)
		},
	}
	return cmd
}

func runNode(configPath string) error {
	log := logrus.New()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lvl, lvlErr := logrus.ParseLevel(cfg.Logging.Level); lvlErr == nil {
		log.SetLevel(lvl)
	}

	settings, err := config.LoadGenesis(cfg.Consensus.GenesisFile)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}

	s, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	registry := txhandlers.NewRegistry()
	bus := eventbus.New()
	c := chain.New(s, settings, registry, bus)

	if _, err := s.GetLatestBlock(); err == store.ErrNotFound {
		log.Info("node: no existing chain found, bootstrapping genesis")
		if _, err := c.Bootstrap(settings); err != nil {
			return fmt.Errorf("bootstrap genesis: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read chain head: %w", err)
	}

	pool := mempool.New(mempool.Config{
		MaxGlobal:    cfg.Mempool.MaxGlobal,
		MaxPerSender: cfg.Mempool.MaxPerSender,
		MinFeeFloor:  parseOptionalWei(cfg.Mempool.MinFeeFloor),
	})

	var signer mining.Signer
	if cfg.Mining.PrivateKey != "" {
		id, idErr := identity.FromHex(cfg.Mining.PrivateKey)
		if idErr != nil {
			return fmt.Errorf("load mining key: %w", idErr)
		}
		signer = id
	} else {
		id, idErr := identity.Generate()
		if idErr != nil {
			return fmt.Errorf("generate mining key: %w", idErr)
		}
		signer = id
		log.Warn("node: mining.private_key unset, generated an ephemeral identity")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registryP2P := p2p.NewRegistry()
	nonceSource := stateNonceSource{chain: c}
	svc := p2p.NewService(s, s, c, pool, nonceSource, settings.NetworkID, genesisHashOf(s))

	host, err := p2p.NewHost(ctx, p2p.Config{
		ListenAddr:     cfg.Network.ListenAddr,
		DiscoveryTag:   cfg.Network.DiscoveryTag,
		BootstrapPeers: cfg.Network.BootstrapPeers,
	}, registryP2P, svc.Handle)
	if err != nil {
		return fmt.Errorf("start p2p host: %w", err)
	}
	defer host.Close()

	driver := p2p.NewDriver(registryP2P, s, c, host.Request)
	go runSyncLoop(ctx, driver, log)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.WithError(err).Warn("node: metrics server stopped")
			}
		}()
		go reportMetrics(ctx, bus, pool, registryP2P, m)
	}

	workers := cfg.Mining.Workers
	if workers <= 0 {
		workers = 1
	}
	controller := mining.NewController(c.Storage(), c, mempoolAdapter{pool}, signer, c, bus, settings, registry, workers)
	if cfg.Mining.Enabled {
		controller.Start(ctx)
		log.Infof("node: mining enabled with %d worker(s)", workers)
	}

	log.Info("node: running, press ctrl+c to stop")
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown

	log.Info("node: shutting down")
	controller.Stop()
	cancel()
	return nil
}

// runSyncLoop periodically asks the driver to catch up to the best known
// peer, matching the spec's "sync driver runs continuously in the
// background, independent of block propagation" framing (§4.H).
func runSyncLoop(ctx context.Context, d *p2p.Driver, log *logrus.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.RunOnce(); err != nil {
				log.WithError(err).Debug("node: sync pass failed")
			}
		}
	}
}

// reportMetrics sets the height gauge and the mined-block counter as
// BlockConnected/BlockMined events arrive, and samples mempool size and
// peer count every five seconds.
func reportMetrics(ctx context.Context, bus *eventbus.Bus, pool *mempool.Pool, reg *p2p.Registry, m *metrics.Metrics) {
	connected := bus.SubscribeBlockConnected(8)
	mined := bus.SubscribeBlockMined(8)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-connected:
			m.Height.Set(float64(e.Height))
		case <-mined:
			m.BlocksMined.Inc()
		case <-ticker.C:
			m.MempoolSize.Set(float64(len(pool.Snapshot())))
			m.PeerCount.Set(float64(len(reg.All())))
		}
	}
}

// mempoolAdapter narrows *mempool.Pool to mining.Mempool.
type mempoolAdapter struct{ pool *mempool.Pool }

func (a mempoolAdapter) TxIterator() []*types.Tx { return a.pool.TxIterator() }

// stateNonceSource satisfies mempool.NonceSource by reading the committed
// nonce from the chain's current head state.
type stateNonceSource struct{ chain *chain.Chain }

func (n stateNonceSource) GetNonce(addr types.Address) (int64, error) {
	head, _, err := n.chain.HeadHeader()
	if err != nil {
		return 0, err
	}
	ws, err := state.New(n.chain.Storage(), head.StateRootHash, false)
	if err != nil {
		return 0, err
	}
	return ws.GetNonce(addr)
}

func parseOptionalWei(s string) *types.Wei {
	if s == "" {
		return types.NewWei(0)
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return types.NewWei(0)
	}
	return types.BigIntToWei(b)
}

func genesisHashOf(s *store.Store) types.Hash {
	genesis, err := s.GetCanonicalBlock(0)
	if err != nil {
		return types.Hash{}
	}
	return genesis.Hash()
}
