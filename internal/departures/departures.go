// Package departures answers, for a given station, which tracked
// buses are approaching it and when. It is pure composition of
// catalog and busstate reads rather than anything translated from a
// single pack file.
package departures

import (
	"context"
	"math"
	"sort"

	"github.com/travigo/transitcore/internal/busstate"
	"github.com/travigo/transitcore/internal/catalog"
	"github.com/travigo/transitcore/internal/geo"
)

// MinVelocityMS is the floor below which a bus is considered
// effectively stationary for arrival-time purposes.
const MinVelocityMS = 0.5

// Hint is one approaching-bus entry.
type Hint struct {
	SublineID               int64
	BusID                   string
	CurrentPos              geo.Coordinate
	CurrentVelocity         float64
	EstimatedArrivalSeconds float64 // math.Inf(1) when unknown
	DistanceMeters          float64
}

// CatalogSource is the subset of the Catalog Reader this query uses.
type CatalogSource interface {
	SublinesServingStation(ctx context.Context, stationID string) ([]int64, error)
	SublinesByID(ctx context.Context, ids []int64) (map[int64]catalog.Subline, error)
}

// ActiveBusSource is the subset of the Bus-State Store this query uses.
type ActiveBusSource interface {
	IterateActive() []busstate.State
}

// DeparturesForStation returns up to n hints for buses approaching
// stationID, ordered by ascending estimated arrival time (buses with
// an unknown arrival time sort last).
func DeparturesForStation(ctx context.Context, cat CatalogSource, buses ActiveBusSource, stationID string, n int) ([]Hint, error) {
	sublineIDs, err := cat.SublinesServingStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if len(sublineIDs) == 0 {
		return nil, nil
	}

	sublines, err := cat.SublinesByID(ctx, sublineIDs)
	if err != nil {
		return nil, err
	}

	servesStation := make(map[int64]struct{}, len(sublineIDs))
	for _, id := range sublineIDs {
		servesStation[id] = struct{}{}
	}

	var hints []Hint
	for _, bus := range buses.IterateActive() {
		if _, ok := servesStation[bus.CurrentSublineID]; !ok {
			continue
		}
		sub, ok := sublines[bus.CurrentSublineID]
		if !ok || len(sub.Stops) == 0 {
			continue
		}

		pos := currentPosition(bus)

		closestIdx := closestStopIndex(pos, sub.Stops)
		stationIdx := indexOfStop(sub.Stops, stationID)
		if stationIdx < 0 || stationIdx <= closestIdx {
			continue
		}

		d, err := geo.Distance(pos, sub.Stops[stationIdx].Position)
		if err != nil {
			continue
		}

		t := math.Inf(1)
		if bus.CurrentVelocity > MinVelocityMS {
			t = d / bus.CurrentVelocity
		}

		hints = append(hints, Hint{
			SublineID:               bus.CurrentSublineID,
			BusID:                   bus.BusID,
			CurrentPos:              pos,
			CurrentVelocity:         bus.CurrentVelocity,
			EstimatedArrivalSeconds: t,
			DistanceMeters:          d,
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return hints[i].EstimatedArrivalSeconds < hints[j].EstimatedArrivalSeconds
	})

	if n >= 0 && len(hints) > n {
		hints = hints[:n]
	}
	return hints, nil
}

func currentPosition(bus busstate.State) geo.Coordinate {
	if len(bus.History) == 0 {
		return geo.Coordinate{}
	}
	return bus.History[len(bus.History)-1].Coordinate
}

func closestStopIndex(pos geo.Coordinate, stops []catalog.Stop) int {
	best := 0
	bestDist := -1.0
	for i, stop := range stops {
		d, err := geo.Distance(pos, stop.Position)
		if err != nil {
			continue
		}
		if bestDist < 0 || d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func indexOfStop(stops []catalog.Stop, stopID string) int {
	for i, stop := range stops {
		if stop.ID == stopID {
			return i
		}
	}
	return -1
}
