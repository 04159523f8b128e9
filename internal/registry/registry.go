// Package registry is the Subscription Registry: a concurrent mapping
// from main-route id to the set of passenger connections subscribed to
// that route. The per-connection bounded send channel with
// select/default drop, and the register/unregister-under-lock shape,
// follow michaelyang12-glance-mta/feed/internal/api/stream.go's
// SSEHub, generalized from one global client set to a set per route.
// One RWMutex guards the whole route map; Broadcast holds only its
// read side, and only while copying the route's set.
package registry

import (
	"sync"
)

// SendQueueSize is the bounded per-connection outbound queue depth.
// A connection whose queue is full is dropped rather than blocking
// the broadcaster.
const SendQueueSize = 32

// Connection is one subscribed passenger socket's outbound side.
type Connection struct {
	RouteID int64
	send    chan []byte
	once    sync.Once
	closed  chan struct{}
}

// NewConnection constructs a Connection bound to routeID. Callers
// drain Send() in their own write-pump goroutine.
func NewConnection(routeID int64) *Connection {
	return &Connection{
		RouteID: routeID,
		send:    make(chan []byte, SendQueueSize),
		closed:  make(chan struct{}),
	}
}

// Send returns the channel callers receive outbound frames from.
func (c *Connection) Send() <-chan []byte { return c.send }

// Closed returns a channel closed once the connection is retired.
func (c *Connection) Closed() <-chan struct{} { return c.closed }

// enqueue attempts a non-blocking write; returns false if the
// connection's queue is full, signaling eviction to the caller.
func (c *Connection) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Connection) retire() {
	c.once.Do(func() { close(c.closed) })
}

// Registry is the thread-safe route-partitioned subscriber map.
type Registry struct {
	mu   sync.RWMutex
	sets map[int64]map[*Connection]struct{}
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{sets: make(map[int64]map[*Connection]struct{})}
}

// Subscribe adds conn to its route's set, creating the set lazily.
func (r *Registry) Subscribe(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sets[conn.RouteID]
	if !ok {
		set = make(map[*Connection]struct{})
		r.sets[conn.RouteID] = set
	}
	set[conn] = struct{}{}
}

// Unsubscribe removes conn from its route's set, reclaiming the set
// eagerly once it is empty, and retires the connection.
func (r *Registry) Unsubscribe(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sets[conn.RouteID]
	if !ok {
		conn.retire()
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(r.sets, conn.RouteID)
	}
	conn.retire()
}

// Broadcast writes frame to every connection subscribed to routeID.
// Connections whose queue is full are collected and returned for the
// caller to Unsubscribe — Broadcast itself never blocks or mutates
// the registry beyond the atomic read of the route's set.
func (r *Registry) Broadcast(routeID int64, frame []byte) (dropped []*Connection) {
	r.mu.RLock()
	set, ok := r.sets[routeID]
	if !ok || len(set) == 0 {
		r.mu.RUnlock()
		return nil
	}
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		if !c.enqueue(frame) {
			dropped = append(dropped, c)
		}
	}
	return dropped
}

// RouteCount reports how many routes currently have at least one
// subscriber, for diagnostics.
func (r *Registry) RouteCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sets)
}
