package bus

import (
	"sync"
	"sync/atomic"
)

// MemoryConn is an in-process Conn used by tests and by the single-host
// dev mode where collector and bridge share one process.
type MemoryConn struct {
	mu        sync.RWMutex
	subs      []*memorySub
	connected atomic.Bool
}

type memorySub struct {
	filter string
	ch     chan Message
	dead   atomic.Bool
}

// NewMemoryConn returns a connected in-process bus.
func NewMemoryConn() *MemoryConn {
	c := &MemoryConn{}
	c.connected.Store(true)
	return c
}

func (c *MemoryConn) Subscribe(filter string) (*Subscription, error) {
	sub := &memorySub{filter: filter, ch: make(chan Message, subChannelDepth)}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	cancel := func() { sub.dead.Store(true) }
	return &Subscription{C: sub.ch, cancel: cancel}, nil
}

func (c *MemoryConn) Publish(topic string, payload []byte) error {
	c.mu.RLock()
	subs := make([]*memorySub, len(c.subs))
	copy(subs, c.subs)
	c.mu.RUnlock()

	for _, sub := range subs {
		if sub.dead.Load() || !TopicMatches(sub.filter, topic) {
			continue
		}
		select {
		case sub.ch <- Message{Topic: topic, Payload: payload}:
		default:
			// Full backlog drops the message, matching broker behavior.
		}
	}
	return nil
}

func (c *MemoryConn) Connected() bool { return c.connected.Load() }

// ActiveSubscribers counts live subscriptions. Used by tests to wait
// for consumers to come up.
func (c *MemoryConn) ActiveSubscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, sub := range c.subs {
		if !sub.dead.Load() {
			n++
		}
	}
	return n
}

// SetConnected flips the simulated broker reachability.
func (c *MemoryConn) SetConnected(up bool) { c.connected.Store(up) }

func (c *MemoryConn) Close() {
	c.connected.Store(false)
	c.mu.Lock()
	for _, sub := range c.subs {
		sub.dead.Store(true)
	}
	c.subs = nil
	c.mu.Unlock()
}
