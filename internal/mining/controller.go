package mining

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veylan-chain/veylan/internal/eventbus"
	"github.com/veylan-chain/veylan/internal/trie"
	"github.com/veylan-chain/veylan/internal/txhandlers"
	"github.com/veylan-chain/veylan/internal/types"
)

// Head is the minimal chain surface the controller needs to assemble a
// template: the current tip and the anchor its ASERT retarget measures
// from (spec §4.G step 1, §4.F "read head for mining" under the master
// lock).
type Head interface {
	HeadHeader() (*types.BlockHeader, *AnchorInfo, error)
}

// Signer produces the coinbase signature over a header's signing bytes
// (spec §3 "coinbase signature"; §6 IdentityService consumed-but-excluded
// interface).
type Signer interface {
	Address() types.Address
	Sign(hash types.Hash) (types.Signature, error)
}

// Ingester is how a mined block re-enters the chain: exactly the same
// path a network block takes (spec §4.G "flow into ingestion like any
// block").
type Ingester interface {
	Ingest(block *types.Block, source types.ConnectedSource, receivedFrom string, receivedAtMs int64) error
}

// Controller is the single long-lived mining task (spec §4.G).
type Controller struct {
	storage   trie.Storage
	head      Head
	mempool   Mempool
	signer    Signer
	ingester  Ingester
	bus       *eventbus.Bus
	settings  *types.NetworkSettings
	registry  *txhandlers.Registry
	workers   int
	version   uint32
	log       *logrus.Logger

	mu      sync.Mutex
	enabled bool
	paused  bool
	cancel  context.CancelFunc
}

func NewController(
	storage trie.Storage,
	head Head,
	mempool Mempool,
	signer Signer,
	ingester Ingester,
	bus *eventbus.Bus,
	settings *types.NetworkSettings,
	registry *txhandlers.Registry,
	workers int,
) *Controller {
	return &Controller{
		storage:  storage,
		head:     head,
		mempool:  mempool,
		signer:   signer,
		ingester: ingester,
		bus:      bus,
		settings: settings,
		registry: registry,
		workers:  workers,
		version:  1,
		log:      logrus.New(),
	}
}

// Start spawns the mining task if not already running (spec §4.G "start()
// spawns a mining task if enabled").
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.enabled {
		c.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.enabled = true
	c.cancel = cancel
	c.mu.Unlock()

	go c.loop(loopCtx)
}

// Stop halts the mining task permanently.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.enabled = false
}

// Pause stops starting new search rounds without tearing down the task
// (spec §4.G "pause()/resume() around sync").
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

func (c *Controller) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Controller) loop(ctx context.Context) {
	connected := c.bus.SubscribeBlockConnected(4)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if c.isPaused() {
			select {
			case <-ctx.Done():
				return
			case <-connected:
			}
			continue
		}
		c.runOnce(ctx, connected)
	}
}

func (c *Controller) runOnce(ctx context.Context, connected <-chan eventbus.BlockConnectedEvent) {
	parentHeader, anchor, err := c.head.HeadHeader()
	if err != nil {
		c.log.WithError(err).Warn("mining: read head failed")
		return
	}

	tmpl, err := AssembleTemplate(
		c.storage, parentHeader, *anchor, c.mempool,
		c.signer.Address(), c.version, 0, nowMs(), c.settings, c.registry,
	)
	if err != nil {
		c.log.WithError(err).Warn("mining: assemble template failed")
		return
	}

	searchCtx, searchCancel := context.WithCancel(ctx)
	defer searchCancel()
	var preempted int32
	go func() {
		select {
		case <-connected:
			atomic.StoreInt32(&preempted, 1)
			searchCancel()
		case <-searchCtx.Done():
		}
	}()

	result := Search(tmpl.PowInput, tmpl.Target, c.workers, DefaultHashFunc, searchCtx.Done())
	if !result.Found {
		if atomic.LoadInt32(&preempted) == 1 {
			c.log.Info("mining: search preempted by new head")
		}
		return
	}

	tmpl.Header.Nonce = result.Nonce
	sig, err := c.signer.Sign(tmpl.Header.SigningHash())
	if err != nil {
		c.log.WithError(err).Warn("mining: sign header failed")
		return
	}
	tmpl.Header.Signature = sig

	head, _, err := c.head.HeadHeader()
	if err != nil || head.Hash() != parentHeader.Hash() {
		c.log.Info("mining: STALE, head moved during search, discarding")
		return
	}

	block := &types.Block{Header: tmpl.Header, Txs: tmpl.Txs}
	if err := c.ingester.Ingest(block, types.SourceMined, "", nowMs()); err != nil {
		c.log.WithError(err).Warn("mining: ingest of own block failed")
		return
	}
	c.bus.PublishBlockMined(eventbus.BlockMinedEvent{Height: tmpl.Header.Height})
}

func nowMs() int64 { return time.Now().UnixMilli() }
