package p2p

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// blockGossipTopic is the pubsub topic new blocks are announced on,
// alongside the direct NEW_BLOCK frame (spec §4.H code 20): gossipsub's
// mesh-based fanout reaches the wider network faster than this node's own
// best-peers list would (spec §4.H "best_peers" propagation), generalizing
// the teacher's NewNode+Broadcast (core/network.go) from an ad hoc JSON
// envelope to the fixed NEW_BLOCK frame bytes.
const blockGossipTopic = "veylan/blocks/1"

// inboundFrameRate bounds how many frames per second a single peer's
// stream may submit before further frames are dropped and the peer is
// penalized, a cheap guard
// against a peer flooding GET_BLOCK_HEADERS/GET_BLOCK_BODIES requests
// (generalizes the teacher's connection_pool.go rate limiting).
const inboundFrameRate = 50

// protocolID is the stream protocol this node speaks; every frame in both
// directions is multiplexed over streams opened under it (spec §4.H frame
// format applies uniformly to every message code).
const protocolID = protocol.ID("/veylan/1.0.0")

// Handler processes one inbound frame from peer and optionally returns a
// response frame to write back on the same stream (request/response
// codes); codes that are pure broadcasts (NEW_BLOCK, NEW_MEMPOOL_TX)
// return a zero Frame and handle side effects directly.
type Handler func(from *Peer, f Frame) (Frame, bool)

// Host wraps a libp2p host with the registry and this protocol's framing,
// generalizing the teacher's NewNode (core/network.go: libp2p.New + gossipsub
// + mDNS) from ad hoc JSON-over-pubsub messages to the fixed frame format.
type Host struct {
	host     host.Host
	registry *Registry
	handler  Handler
	log      *logrus.Logger

	mu        sync.Mutex
	pending   map[uint64]chan Frame
	nextReqID uint64

	pubsub     *pubsub.PubSub
	blockTopic *pubsub.Topic

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// Config bounds connection setup the same way the teacher's Config does
// (ListenAddr, DiscoveryTag, BootstrapPeers).
type Config struct {
	ListenAddr     string
	DiscoveryTag   string
	BootstrapPeers []string
}

func NewHost(ctx context.Context, cfg Config, registry *Registry, handler Handler) (*Host, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		return nil, fmt.Errorf("p2p: create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("p2p: create gossipsub: %w", err)
	}
	blockTopic, err := ps.Join(blockGossipTopic)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("p2p: join block gossip topic: %w", err)
	}

	ph := &Host{
		host:       h,
		registry:   registry,
		handler:    handler,
		log:        logrus.New(),
		pending:    make(map[uint64]chan Frame),
		pubsub:     ps,
		blockTopic: blockTopic,
		limiters:   make(map[string]*rate.Limiter),
	}
	h.SetStreamHandler(protocolID, ph.handleStream)
	mdns.NewMdnsService(h, cfg.DiscoveryTag, &mdnsNotifee{host: ph})
	go ph.subscribeBlockGossip(ctx)

	for _, addr := range cfg.BootstrapPeers {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			ph.log.Warnf("p2p: invalid bootstrap addr %s: %v", addr, err)
			continue
		}
		if err := h.Connect(ctx, *pi); err != nil {
			ph.log.Warnf("p2p: dial bootstrap %s: %v", addr, err)
		}
	}
	return ph, nil
}

// mdnsNotifee bridges mDNS discovery callbacks to Host, matching the
// teacher's Node implementing mdns.Notifee (core/network.go).
type mdnsNotifee struct{ host *Host }

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.host.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.host.host.Connect(ctx, info); err != nil {
		n.host.log.Warnf("p2p: mdns connect %s: %v", info.ID, err)
	}
}

func (h *Host) handleStream(s network.Stream) {
	defer s.Close()
	peerID := s.Conn().RemotePeer().String()
	peerInfo, known := h.registry.Get(peerID)
	if !known {
		peerInfo = &Peer{Identity: peerID, ConnectedAt: time.Now(), Send: make(chan Frame, 16)}
		h.registry.Add(peerInfo)
	}
	peerInfo.LastSeen = time.Now()

	for {
		f, err := ReadFrame(s)
		if err != nil {
			return
		}
		if !h.allow(peerID) {
			h.registry.Penalize(peerID, ReputationPenaltyViolation)
			continue
		}
		h.mu.Lock()
		ch, isResponse := h.pending[f.RequestID]
		h.mu.Unlock()
		if isResponse {
			ch <- f
			continue
		}
		if resp, ok := h.handler(peerInfo, f); ok {
			resp.RequestID = f.RequestID
			if err := WriteFrame(s, resp); err != nil {
				return
			}
		}
	}
}

// allow reports whether peerID's stream may process another frame this
// instant, giving each peer its own token bucket lazily on first contact.
func (h *Host) allow(peerID string) bool {
	h.limiterMu.Lock()
	l, ok := h.limiters[peerID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(inboundFrameRate), inboundFrameRate)
		h.limiters[peerID] = l
	}
	h.limiterMu.Unlock()
	return l.Allow()
}

// GossipBlock publishes a NEW_BLOCK frame's payload to the block gossip
// topic, reaching every subscribed peer in the mesh rather than only this
// node's best-peers list.
func (h *Host) GossipBlock(payload []byte) error {
	return h.blockTopic.Publish(context.Background(), payload)
}

// subscribeBlockGossip relays incoming gossiped blocks into the same
// handler every direct stream frame goes through, tagged as a NEW_BLOCK
// frame from whichever peer published it.
func (h *Host) subscribeBlockGossip(ctx context.Context) {
	sub, err := h.blockTopic.Subscribe()
	if err != nil {
		h.log.Warnf("p2p: subscribe block gossip: %v", err)
		return
	}
	self := h.host.ID()
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		peerID := msg.ReceivedFrom.String()
		peerInfo, known := h.registry.Get(peerID)
		if !known {
			peerInfo = &Peer{Identity: peerID, ConnectedAt: time.Now(), Send: make(chan Frame, 16)}
			h.registry.Add(peerInfo)
		}
		h.handler(peerInfo, Frame{Code: CodeNewBlock, Payload: msg.Data})
	}
}

// Request implements RequestFunc: opens a stream to peer, writes req, and
// waits for the matching response frame or timeout.
func (h *Host) Request(p *Peer, req Frame, timeout time.Duration) (Frame, error) {
	pid, err := peer.Decode(p.Identity)
	if err != nil {
		return Frame{}, fmt.Errorf("p2p: decode peer id: %w", err)
	}

	h.mu.Lock()
	h.nextReqID++
	reqID := h.nextReqID
	respCh := make(chan Frame, 1)
	h.pending[reqID] = respCh
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, reqID)
		h.mu.Unlock()
	}()
	req.RequestID = reqID

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s, err := h.host.NewStream(ctx, pid, protocolID)
	if err != nil {
		return Frame{}, fmt.Errorf("p2p: open stream to %s: %w", p.Identity, err)
	}
	defer s.Close()
	if err := WriteFrame(s, req); err != nil {
		return Frame{}, err
	}
	// The remote handler writes its response back on this same stream.
	go func() {
		resp, err := ReadFrame(s)
		if err != nil || resp.RequestID != reqID {
			return
		}
		select {
		case respCh <- resp:
		default:
		}
	}()

	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		return Frame{}, fmt.Errorf("p2p: request to %s timed out", p.Identity)
	}
}

// Broadcast sends f to every peer in peers, best-effort (spec §4.H
// "best_peers" propagation fan-out).
func (h *Host) Broadcast(peers []*Peer, f Frame) {
	for _, p := range peers {
		go func(p *Peer) {
			if _, err := h.Request(p, f, requestTimeout); err != nil {
				h.log.Debugf("p2p: broadcast to %s: %v", p.Identity, err)
			}
		}(p)
	}
}

func (h *Host) Close() error { return h.host.Close() }
