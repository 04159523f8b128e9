// Package busstate is the in-memory Bus-State Store: a concurrent
// mapping from bus id to the latest known state of that bus. The
// sharded map with a per-shard RWMutex follows the single-mutex map
// cache in michaelyang12-glance-mta/feed/internal/feeds/cache.go,
// generalized to multiple shards so that exclusive per-bus mutation
// doesn't serialize unrelated buses behind one lock.
package busstate

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/jinzhu/copier"

	"github.com/travigo/transitcore/internal/catalog"
	"github.com/travigo/transitcore/internal/geo"
)

// HistorySize is the bounded ring length.
const HistorySize = 5

// NoSubline marks current/previous subline id as unknown.
const NoSubline int64 = 0

// Sample is one retained position in a bus's history ring.
type Sample struct {
	Coordinate geo.Coordinate
	Timestamp  time.Time
}

// CachedStops pairs a subline id with its ordered stop list, so the
// pipeline doesn't re-fetch stops on every frame while a bus stays on
// the same subline.
type CachedStops struct {
	SublineID int64
	Stops     []catalog.Stop
}

// State is one bus's complete tracked state.
type State struct {
	BusID string

	// Initialized is false only before the first frame for this bus id
	// has been processed, distinguishing "never assigned a route" from
	// route id zero.
	Initialized bool

	History []Sample

	// CurrentVelocity is the velocity (m/s) reported on the last
	// processed frame, retained for read-only probes such as the
	// departures query that run outside the pipeline's frame context.
	CurrentVelocity float64

	MainRouteID int64

	CurrentSublineID  int64
	PreviousSublineID int64

	CachedStops CachedStops

	LastTimestamp time.Time
}

// PushSample appends a sample to history, truncating to HistorySize
// by dropping the oldest entries on overflow.
func (s *State) PushSample(sample Sample) {
	s.History = append(s.History, sample)
	if len(s.History) > HistorySize {
		s.History = s.History[len(s.History)-HistorySize:]
	}
}

// ResetRoute clears direction-tracking fields on a main-route change.
// It also drops history: the quorum for the new route must refill
// before the matcher runs again, since a mixed old-route/new-route
// history would leak the previous route's bearing into the new
// route's first inference.
func (s *State) ResetRoute(newMainRouteID int64) {
	s.MainRouteID = newMainRouteID
	s.CurrentSublineID = NoSubline
	s.PreviousSublineID = NoSubline
	s.CachedStops = CachedStops{}
	s.History = nil
}

type entry struct {
	mu    sync.Mutex
	state *State
}

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Store is the thread-safe Bus-State Store.
type Store struct {
	shards      [shardCount]*shard
	idleTimeout time.Duration
}

// New constructs an empty store. idleTimeout is advisory: callers use
// it via EvictIdle to reclaim buses not seen recently.
func New(idleTimeout time.Duration) *Store {
	st := &Store{idleTimeout: idleTimeout}
	for i := range st.shards {
		st.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return st
}

func (st *Store) shardFor(busID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(busID))
	return st.shards[h.Sum32()%shardCount]
}

func (sh *shard) entryFor(busID string) *entry {
	sh.mu.RLock()
	e, ok := sh.entries[busID]
	sh.mu.RUnlock()
	if ok {
		return e
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok = sh.entries[busID]; ok {
		return e
	}
	e = &entry{state: &State{BusID: busID}}
	sh.entries[busID] = e
	return e
}

// Mutate loads (or atomically initializes) busID's state, runs fn
// under that bus's exclusive lock, and leaves the mutated result in
// place — load-or-init and commit collapsed into one critical section
// so callers can't observe a state between load and commit.
func (st *Store) Mutate(busID string, fn func(*State)) {
	e := st.shardFor(busID).entryFor(busID)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
}

// Snapshot returns a deep copy of busID's current state without
// holding the bus's lock past the call, for read-only callers such as
// the departures query.
func (st *Store) Snapshot(busID string) (State, bool) {
	sh := st.shardFor(busID)
	sh.mu.RLock()
	e, ok := sh.entries[busID]
	sh.mu.RUnlock()
	if !ok {
		return State{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var out State
	_ = copier.Copy(&out, e.state)
	return out, true
}

// IterateActive returns a deep-copy snapshot of every tracked bus,
// safe to range over while commits continue concurrently — a
// concurrent commit never tears an observable field mid-iteration.
func (st *Store) IterateActive() []State {
	var out []State
	for _, sh := range st.shards {
		sh.mu.RLock()
		entries := make([]*entry, 0, len(sh.entries))
		for _, e := range sh.entries {
			entries = append(entries, e)
		}
		sh.mu.RUnlock()

		for _, e := range entries {
			e.mu.Lock()
			var cp State
			_ = copier.Copy(&cp, e.state)
			e.mu.Unlock()
			out = append(out, cp)
		}
	}
	return out
}

// EvictIdle removes every bus whose LastTimestamp is older than the
// store's idle timeout, returning the count removed.
func (st *Store) EvictIdle(now time.Time) int {
	if st.idleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-st.idleTimeout)
	removed := 0
	for _, sh := range st.shards {
		sh.mu.Lock()
		for busID, e := range sh.entries {
			e.mu.Lock()
			stale := e.state.LastTimestamp.Before(cutoff)
			e.mu.Unlock()
			if stale {
				delete(sh.entries, busID)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
