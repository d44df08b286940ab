// bus.go
package bus

import (
	"sync"

	"bmscode-go/canframe"
)

// -----------------------------------------------------------------------------
// Frames
// -----------------------------------------------------------------------------

// Frame is one identified 8-byte payload.
type Frame struct {
	ID   uint32
	Data canframe.Frame
	TsMs int64 // producer timestamp, 0 if unknown
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

// Subscription receives frames for a set of identifiers (all, when empty).
type Subscription struct {
	ids  []uint32
	ch   chan Frame
	bus  *Bus
	conn *Connection
}

func (s *Subscription) IDs() []uint32         { return s.ids }
func (s *Subscription) Channel() <-chan Frame { return s.ch }
func (s *Subscription) Unsubscribe()          { s.conn.Unsubscribe(s) }

func (s *Subscription) wants(id uint32) bool {
	if len(s.ids) == 0 {
		return true
	}
	for _, x := range s.ids {
		if x == id {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

// Bus fans frames out to subscribers and retains the last frame per ID.
// Slow subscribers lose their oldest queued frame, never the newest.
type Bus struct {
	mu       sync.RWMutex
	subs     []*Subscription
	retained map[uint32]Frame
	qLen     int
}

// NewBus creates a new bus with the given subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8 // safe default
	}
	return &Bus{
		retained: make(map[uint32]Frame),
		qLen:     queueLen,
	}
}

// addSubscription registers sub and replays retained frames it wants.
func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs = append(b.subs, sub)
	for id, f := range b.retained {
		if !sub.wants(id) {
			continue
		}
		select {
		case sub.ch <- f:
		default:
		}
	}
}

// Publish delivers a frame to all interested subscribers and retains it.
func (b *Bus) Publish(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.retained[f.ID] = f
	for _, sub := range b.subs {
		if !sub.wants(f.ID) {
			continue
		}
		select {
		case sub.ch <- f:
		default:
			// drop oldest if queue full
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- f:
			default:
			}
		}
	}
}

// Retained returns the last frame published under id.
func (b *Bus) Retained(id uint32) (Frame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.retained[id]
	return f, ok
}

// unsubscribe removes a subscription.
func (b *Bus) unsubscribe(sub *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

// Connection groups the subscriptions of one client so they can be released
// together.
type Connection struct {
	bus  *Bus
	subs []*Subscription
	mu   sync.Mutex
	id   string
}

// NewConnection creates a new connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{
		bus: b,
		id:  id,
	}
}

// ID returns the client name given at creation.
func (c *Connection) ID() string { return c.id }

// Send publishes a frame, implementing the controller's transport.
func (c *Connection) Send(id uint32, data canframe.Frame, tsMs int64) error {
	c.bus.Publish(Frame{ID: id, Data: data, TsMs: tsMs})
	return nil
}

// Publish sends a frame via the bus.
func (c *Connection) Publish(f Frame) {
	c.bus.Publish(f)
}

// Subscribe registers a subscription owned by this connection. No IDs means
// every frame.
func (c *Connection) Subscribe(ids ...uint32) *Subscription {
	sub := &Subscription{
		ids:  append([]uint32(nil), ids...),
		ch:   make(chan Frame, c.bus.qLen),
		bus:  c.bus,
		conn: c,
	}
	c.bus.addSubscription(sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription owned by this connection.
func (c *Connection) Unsubscribe(sub *Subscription) {
	if !c.bus.unsubscribe(sub) {
		return
	}
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	close(sub.ch)
}

// Disconnect closes all subscriptions and clears them.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		if c.bus.unsubscribe(sub) {
			close(sub.ch)
		}
	}
}
