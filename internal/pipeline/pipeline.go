// Package pipeline is the estimator pipeline driver: the fixed
// seven-step sequence invoked once per inbound driver frame. It
// composes busstate, matcher, catalog, and broadcaster; the
// event-driven, single-pass-per-frame shape follows the pipeline
// dispatch style used throughout Travigo-travigo's realtime consumer
// (pkg/realtime/worker.go processes one VehicleLocationEvent per
// call), regrounded here on bearing-based subline matching instead of
// Travigo's Mongo-backed track matching.
package pipeline

import (
	"context"
	"time"

	"github.com/kr/pretty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/travigo/transitcore/internal/busstate"
	"github.com/travigo/transitcore/internal/catalog"
	"github.com/travigo/transitcore/internal/geo"
	"github.com/travigo/transitcore/internal/matcher"
	"github.com/travigo/transitcore/internal/message"
	"github.com/travigo/transitcore/internal/metrics"
	"github.com/travigo/transitcore/internal/xferrors"
)

// UpcomingStopCount bounds how many upcoming stops an esta-info
// message projects.
const UpcomingStopCount = 5

// InboundFrame is the parsed and validated driver telemetry frame.
type InboundFrame struct {
	RouteID   int64
	BusID     string
	Lat       float64
	Lng       float64
	Timestamp time.Time
	Velocity  float64 // m/s
}

// Validate rejects a frame whose busId is missing or whose
// coordinate is non-finite, as BadInput.
func (f InboundFrame) Validate() error {
	if f.BusID == "" {
		return xferrors.Wrap(xferrors.BadInput, "missing busId")
	}
	if _, err := geo.Distance(geo.Coordinate{Lat: f.Lat, Lng: f.Lng}, geo.Coordinate{Lat: f.Lat, Lng: f.Lng}); err != nil {
		return xferrors.Wrap(xferrors.BadInput, "non-finite coordinate")
	}
	return nil
}

// SublineSource is the subset of the Catalog Reader the pipeline uses.
type SublineSource interface {
	SublinesOfRoute(ctx context.Context, mainRouteID int64) (map[int64]catalog.Subline, error)
}

// Sink receives a message tagged with the subline id it belongs to.
type Sink interface {
	Broadcast(ctx context.Context, sublineID int64, msg message.Outbound)
}

// Options tunes the thresholds this pipeline exposes as configuration.
type Options struct {
	MinSignalsForDirection     int
	DirectionMatchThresholdDeg float64
	StopDepartureOffset        time.Duration
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MinSignalsForDirection:     matcher.MinSignalsForDirection,
		DirectionMatchThresholdDeg: matcher.DirectionMatchThresholdDegrees,
		StopDepartureOffset:        30 * time.Second,
	}
}

// Pipeline wires the Bus-State Store, Catalog Reader, and Broadcaster
// together into the frame-processing sequence.
type Pipeline struct {
	store   *busstate.Store
	catalog SublineSource
	sink    Sink
	opts    Options
	metrics *metrics.Collector
}

// New constructs a Pipeline. metrics may be nil to disable
// instrumentation.
func New(store *busstate.Store, catalogReader SublineSource, sink Sink, opts Options, collector *metrics.Collector) *Pipeline {
	return &Pipeline{store: store, catalog: catalogReader, sink: sink, opts: opts, metrics: collector}
}

// Process runs the seven-step sequence for one inbound frame. Only a
// BadInput error aborts before any state mutation; a StorageError from
// the catalog still commits the history update.
func (p *Pipeline) Process(ctx context.Context, frame InboundFrame) error {
	if p.metrics != nil {
		p.metrics.FramesReceived.Inc()
		start := time.Now()
		defer func() { p.metrics.FrameProcessingDuration.Observe(time.Since(start).Seconds()) }()
	}

	if err := frame.Validate(); err != nil {
		if p.metrics != nil {
			p.metrics.FramesRejected.WithLabelValues("bad_input").Inc()
		}
		return err
	}

	var (
		closeMsg    *message.Close
		positionMsg *message.Position
		estaMsg     *message.EstaInfo
	)

	p.store.Mutate(frame.BusID, func(s *busstate.State) {
		// Step 2 runs ahead of step 1 here so a route change clears
		// history before, not after, this frame's own sample is pushed;
		// the changed-route frame becomes the first sample of the new
		// route's quorum rather than being immediately discarded.
		routeChanged := s.Initialized && frame.RouteID != s.MainRouteID
		if routeChanged {
			s.ResetRoute(frame.RouteID)
		} else {
			s.MainRouteID = frame.RouteID
		}

		// Step 1: history update.
		s.PushSample(busstate.Sample{
			Coordinate: geo.Coordinate{Lat: frame.Lat, Lng: frame.Lng},
			Timestamp:  frame.Timestamp,
		})
		s.Initialized = true

		// Step 3: subline inference.
		storageFailed := false
		if !routeChanged && len(s.History) >= p.opts.MinSignalsForDirection {
			sublines, err := p.catalog.SublinesOfRoute(ctx, s.MainRouteID)
			if err != nil {
				storageFailed = true
				log.Error().Err(err).Int64("main_route_id", s.MainRouteID).Msg("pipeline: sublines_of_route failed")
				if p.metrics != nil {
					p.metrics.FramesRejected.WithLabelValues("storage_error").Inc()
				}
			} else {
				matchHistory := make([]matcher.Sample, len(s.History))
				for i, h := range s.History {
					matchHistory[i] = matcher.Sample{Coordinate: h.Coordinate}
				}
				newSubline := matcher.Match(matchHistory, sublines, p.opts.DirectionMatchThresholdDeg)
				if newSubline != matcher.NoMatch && p.metrics != nil {
					p.metrics.SublineMatches.Inc()
				}

				switch {
				case s.CurrentSublineID == busstate.NoSubline && newSubline != matcher.NoMatch:
					s.CurrentSublineID = newSubline
				case s.CurrentSublineID != busstate.NoSubline && newSubline != matcher.NoMatch && newSubline != s.CurrentSublineID:
					s.CurrentSublineID = newSubline
				}

				if sub, ok := sublines[s.CurrentSublineID]; ok && s.CachedStops.SublineID != s.CurrentSublineID {
					s.CachedStops = busstate.CachedStops{SublineID: s.CurrentSublineID, Stops: sub.Stops}
					if log.Logger.GetLevel() <= zerolog.DebugLevel {
						pretty.Println(s.BusID, sub)
					}
				}
			}
		}

		// Step 4: close emission on transition.
		if s.PreviousSublineID != busstate.NoSubline && s.CurrentSublineID != busstate.NoSubline &&
			s.PreviousSublineID != s.CurrentSublineID {
			prevSample := latestSample(s.History, frame)
			closeMsg = message.NewClose(s.PreviousSublineID, prevSample.Coordinate.Lat, prevSample.Coordinate.Lng, prevSample.Timestamp)
		}

		// Step 5: position emission.
		if s.CurrentSublineID != busstate.NoSubline {
			positionMsg = message.NewPosition(s.CurrentSublineID, frame.Lat, frame.Lng, frame.Velocity, frame.Timestamp)
		}

		// Step 6: esta-info emission, skipped when the catalog lookup
		// failed for this frame.
		if !storageFailed && s.CurrentSublineID != busstate.NoSubline && len(s.CachedStops.Stops) > 0 {
			estaMsg = buildEstaInfo(s.CurrentSublineID, s.CachedStops.Stops, frame, p.opts.StopDepartureOffset)
		}

		// Step 7: commit trailing fields.
		s.PreviousSublineID = s.CurrentSublineID
		s.LastTimestamp = frame.Timestamp
		s.CurrentVelocity = frame.Velocity
	})

	if closeMsg != nil {
		p.sink.Broadcast(ctx, closeMsg.SublineID, closeMsg)
		p.countSent("close")
	}
	if positionMsg != nil {
		p.sink.Broadcast(ctx, positionMsg.SublineID, positionMsg)
		p.countSent("position")
	}
	if estaMsg != nil {
		p.sink.Broadcast(ctx, estaMsg.SublineID, estaMsg)
		p.countSent("esta-info")
	}

	return nil
}

func (p *Pipeline) countSent(msgType string) {
	if p.metrics != nil {
		p.metrics.MessagesSent.WithLabelValues(msgType).Inc()
	}
}

// latestSample returns the sample immediately preceding the one just
// pushed for this frame — history[len-2] when available. The close
// message intentionally reads this stale sample rather than the
// current frame's own position, falling back to the current frame's
// position when no prior sample exists.
func latestSample(history []busstate.Sample, frame InboundFrame) busstate.Sample {
	if len(history) >= 2 {
		return history[len(history)-2]
	}
	return busstate.Sample{
		Coordinate: geo.Coordinate{Lat: frame.Lat, Lng: frame.Lng},
		Timestamp:  frame.Timestamp,
	}
}

func buildEstaInfo(sublineID int64, stops []catalog.Stop, frame InboundFrame, departureOffset time.Duration) *message.EstaInfo {
	pos := geo.Coordinate{Lat: frame.Lat, Lng: frame.Lng}

	closestIdx := 0
	closestDist := -1.0
	for i, stop := range stops {
		d, err := geo.Distance(pos, stop.Position)
		if err != nil {
			continue
		}
		if closestDist < 0 || d < closestDist {
			closestDist = d
			closestIdx = i
		}
	}

	end := closestIdx + 1 + UpcomingStopCount
	if end > len(stops) {
		end = len(stops)
	}
	start := closestIdx + 1
	if start > len(stops) {
		start = len(stops)
	}

	var upcoming []message.UpcomingStop
	for _, stop := range stops[start:end] {
		d, err := geo.Distance(pos, stop.Position)
		entry := message.UpcomingStop{
			StopID:         stop.ID,
			StopCode:       stop.Code,
			StopName:       stop.Name,
			DistanceMeters: d,
		}
		if err == nil && frame.Velocity > 0 {
			seconds := d / frame.Velocity
			arrival := frame.Timestamp.Add(time.Duration(seconds * float64(time.Second)))
			departure := arrival.Add(departureOffset)
			entry.ArrivalTime = message.ClockTime(arrival)
			entry.DepartureTime = message.ClockTime(departure)
			entry.EstimatedAt = message.CompactTimestamp(arrival)
		}
		upcoming = append(upcoming, entry)
	}

	return message.NewEstaInfo(sublineID, upcoming, frame.Lat, frame.Lng, frame.Velocity, frame.Timestamp)
}
