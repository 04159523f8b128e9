// Package broadcaster resolves a subline id to its owning main route
// and fans a serialized message out to that route's subscribers. Each
// subscriber gets the frame through a non-blocking enqueue on its
// bounded send queue, so the pipeline goroutine never blocks on socket
// I/O. Connections whose queue was full are then unsubscribed through
// a bounded goroutine pool from sourcegraph/conc, following the
// pool.New().WithMaxGoroutines(n) / p.Go(...) / p.Wait() shape in
// Travigo-travigo/pkg/ctdf/departureboard.go.
package broadcaster

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/travigo/transitcore/internal/message"
	"github.com/travigo/transitcore/internal/metrics"
	"github.com/travigo/transitcore/internal/registry"
	"github.com/travigo/transitcore/internal/xferrors"
)

// RouteResolver maps a subline id to its owning main route id, backed
// by the Catalog Reader.
type RouteResolver interface {
	OwningRouteOf(ctx context.Context, sublineID int64) (int64, error)
}

// MaxFanOutGoroutines bounds concurrent unsubscribes of full-queue
// connections for a single broadcast call.
const MaxFanOutGoroutines = 64

// Broadcaster resolves a subline to its route's subscribers and fans a
// message out to them.
type Broadcaster struct {
	resolver RouteResolver
	reg      *registry.Registry
	metrics  *metrics.Collector

	warnedMu      sync.Mutex
	warnedUnknown map[int64]struct{}
}

// New constructs a Broadcaster over resolver and reg. collector may
// be nil to disable instrumentation.
func New(resolver RouteResolver, reg *registry.Registry, collector *metrics.Collector) *Broadcaster {
	return &Broadcaster{
		resolver:      resolver,
		reg:           reg,
		metrics:       collector,
		warnedUnknown: make(map[int64]struct{}),
	}
}

// Broadcast resolves sublineID's owning route, serializes msg once,
// and writes it to every open subscriber of that route. Connections
// whose queue was full are unsubscribed after the fan-out completes.
func (b *Broadcaster) Broadcast(ctx context.Context, sublineID int64, msg message.Outbound) {
	routeID, err := b.resolver.OwningRouteOf(ctx, sublineID)
	if err != nil {
		if errors.Is(err, xferrors.UnknownSubline) {
			b.warnedMu.Lock()
			_, warned := b.warnedUnknown[sublineID]
			if !warned {
				b.warnedUnknown[sublineID] = struct{}{}
			}
			b.warnedMu.Unlock()
			if !warned {
				log.Warn().Int64("subline_id", sublineID).Msg("broadcaster: unknown subline, dropping message")
			}
			if b.metrics != nil {
				b.metrics.SublineDrops.Inc()
			}
			return
		}
		log.Error().Err(err).Int64("subline_id", sublineID).Msg("broadcaster: route resolution failed")
		return
	}

	frame, err := msg.Marshal()
	if err != nil {
		log.Error().Err(err).Msg("broadcaster: marshal outbound message")
		return
	}

	dropped := b.reg.Broadcast(routeID, frame)
	if len(dropped) == 0 {
		return
	}

	p := pool.New().WithMaxGoroutines(MaxFanOutGoroutines)
	for _, c := range dropped {
		c := c
		p.Go(func() {
			b.reg.Unsubscribe(c)
		})
	}
	p.Wait()

	if b.metrics != nil {
		b.metrics.ConnectionsDrop.Add(float64(len(dropped)))
	}
}
