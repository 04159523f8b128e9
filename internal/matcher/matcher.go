// Package matcher implements the bearing-based map-matching heuristic
// that decides which subline a bus is currently serving. It is pure
// stdlib math over types supplied by callers (busstate history,
// catalog sublines) — no ecosystem library in the pack performs this
// kind of geometric scoring, so it is grounded directly on the
// bearing-matching algorithm this pipeline needs rather than on any
// one example file.
package matcher

import (
	"sort"

	"github.com/travigo/transitcore/internal/catalog"
	"github.com/travigo/transitcore/internal/geo"
)

// MinSignalsForDirection is the default history-length quorum before
// the matcher is invoked at all.
const MinSignalsForDirection = 3

// DirectionMatchThresholdDegrees is the default acceptance band for a
// candidate segment's bearing against the bus's average bearing.
const DirectionMatchThresholdDegrees = 45.0

// NoMatch is returned when no subline scored within the threshold.
const NoMatch int64 = 0

// Sample is the minimal shape the matcher needs from a bus's history.
type Sample struct {
	Coordinate geo.Coordinate
}

// Match computes the bus's average bearing over history, then scores
// every subline's adjacent stop pairs against it, returning the
// best-scoring subline id or NoMatch. thresholdDeg is the acceptance
// band, defaulting to DirectionMatchThresholdDegrees.
func Match(history []Sample, sublines map[int64]catalog.Subline, thresholdDeg float64) int64 {
	if len(history) < MinSignalsForDirection {
		return NoMatch
	}

	geoHistory := make([]geo.Sample, len(history))
	for i, s := range history {
		geoHistory[i] = geo.Sample{Coordinate: s.Coordinate}
	}

	beta, ok := geo.AverageBearing(geoHistory)
	if !ok {
		return NoMatch
	}

	if len(sublines) == 0 {
		return NoMatch
	}

	ids := make([]int64, 0, len(sublines))
	for id := range sublines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var best int64 = NoMatch
	var bestScore float64
	var haveMatch bool

	for _, id := range ids {
		sub := sublines[id]
		if len(sub.Stops) < 2 {
			continue
		}
		for i := 0; i < len(sub.Stops)-1; i++ {
			p := sub.Stops[i].Position
			q := sub.Stops[i+1].Position
			alpha, ok := geo.Bearing(p, q)
			if !ok {
				continue
			}
			delta := geo.CircularDistance(beta, alpha)
			if delta > thresholdDeg {
				continue
			}
			score := thresholdDeg - delta
			if !haveMatch || score > bestScore {
				bestScore = score
				best = id
				haveMatch = true
			}
		}
	}

	return best
}
