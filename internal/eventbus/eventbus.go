// Package eventbus is the one-way publish/subscribe link from chain
// ingestion to mining, mempool eviction, and propagation. Subscribers never
// talk back through the bus -- there is no request/response, only
// broadcast, keeping the dependency graph acyclic (spec §9: "the event bus
// is one-way").
package eventbus

import "sync"

// BlockConnectedEvent is published once per block that becomes the chain
// head: genesis, a standard connect that moves the head, or a reorg tip. A
// block connected onto a side fork without becoming head publishes nothing
// (spec §4.F, §4.I eviction trigger).
type BlockConnectedEvent struct {
	Source  string
	Height  uint64
	Hash    [32]byte
	TxHashes [][32]byte
}

// BlockMinedEvent is published by the mining controller after a block it
// mined has been ingested without error (spec §4.G step d). The block itself
// reaches the chain through the controller's direct ingest call, not
// through this event.
type BlockMinedEvent struct {
	Height uint64
}

// Bus fans BlockConnected and BlockMined notifications out to any number of
// subscribers, each with its own buffered channel so a slow subscriber
// can't stall publication (modeled on the teacher's Node.Subscribe
// channel-per-listener pattern in core/network.go).
type Bus struct {
	mu             sync.Mutex
	blockConnected []chan BlockConnectedEvent
	blockMined     []chan BlockMinedEvent
}

func New() *Bus {
	return &Bus{}
}

// SubscribeBlockConnected returns a channel that receives every future
// BlockConnected publication. buf sizes the channel; a full channel drops
// the oldest unread event rather than blocking the publisher.
func (b *Bus) SubscribeBlockConnected(buf int) <-chan BlockConnectedEvent {
	ch := make(chan BlockConnectedEvent, buf)
	b.mu.Lock()
	b.blockConnected = append(b.blockConnected, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) SubscribeBlockMined(buf int) <-chan BlockMinedEvent {
	ch := make(chan BlockMinedEvent, buf)
	b.mu.Lock()
	b.blockMined = append(b.blockMined, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) PublishBlockConnected(e BlockConnectedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.blockConnected {
		select {
		case ch <- e:
		default:
			drainOldest(ch)
			ch <- e
		}
	}
}

func (b *Bus) PublishBlockMined(e BlockMinedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.blockMined {
		select {
		case ch <- e:
		default:
			drainOldestMined(ch)
			ch <- e
		}
	}
}

func drainOldest(ch chan BlockConnectedEvent) {
	select {
	case <-ch:
	default:
	}
}

func drainOldestMined(ch chan BlockMinedEvent) {
	select {
	case <-ch:
	default:
	}
}
