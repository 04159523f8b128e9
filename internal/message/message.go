// Package message defines the outbound tagged-union wire messages the
// pipeline produces: position, close, and esta-info. Field-group tags
// and the sheriff marshaler follow the pattern in
// Travigo-travigo/pkg/ctdf/vehicle_location_event.go and
// pkg/api/routes/stops.go (sheriff.Marshal with a "basic" group),
// generalized here to a single group since the wire shape is fixed and
// unconditional rather than caller-selected.
package message

import (
	"encoding/json"
	"time"

	"github.com/liip/sheriff"
)

// CompactTimestamp formats t in the wire's "YYYYMMDDHHMMSS" UTC form.
func CompactTimestamp(t time.Time) string {
	return t.UTC().Format("20060102150405")
}

// ClockTime formats t as "HHMMSS" UTC, used for stop arr_t/dep_t.
func ClockTime(t time.Time) string {
	return t.UTC().Format("150405")
}

// Outbound is implemented by every wire message variant.
type Outbound interface {
	// Marshal renders the message to its fixed JSON wire shape.
	Marshal() ([]byte, error)
}

func marshalBasic(v any) ([]byte, error) {
	reduced, err := sheriff.Marshal(&sheriff.Options{Groups: []string{"basic"}}, v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(reduced)
}

// Position is emitted whenever a bus has a current subline. Coordinates
// are the current sample; Velocity is km/h on the wire (converted from
// the ingested m/s).
type Position struct {
	Type      string  `json:"type" groups:"basic"`
	SublineID int64   `json:"rt_id" groups:"basic"`
	Updated   string  `json:"upd" groups:"basic"`
	Date      string  `json:"date" groups:"basic"`
	Lat       float64 `json:"lat" groups:"basic"`
	Lng       float64 `json:"lng" groups:"basic"`
	VelocityK float64 `json:"vel" groups:"basic"`
}

// NewPosition builds a position message for sublineID at the given
// sample; velocityMS is converted to km/h.
func NewPosition(sublineID int64, lat, lng float64, velocityMS float64, at time.Time) *Position {
	ts := CompactTimestamp(at)
	return &Position{
		Type:      "position",
		SublineID: sublineID,
		Updated:   ts,
		Date:      ts,
		Lat:       lat,
		Lng:       lng,
		VelocityK: velocityMS * 3.6,
	}
}

func (p *Position) Marshal() ([]byte, error) { return marshalBasic(p) }

// Close is emitted when a bus transitions off a subline, carrying the
// previous frame's position under the previous subline id. The
// coordinate supplied here may be one sample older than the frame that
// triggered the transition; callers control which sample they pass.
type Close struct {
	Type      string  `json:"type" groups:"basic"`
	SublineID int64   `json:"rt_id" groups:"basic"`
	Updated   string  `json:"upd" groups:"basic"`
	Date      string  `json:"date" groups:"basic"`
	Del       int     `json:"del" groups:"basic"`
	Pass      string  `json:"pass" groups:"basic"`
	Lat       float64 `json:"lat" groups:"basic"`
	Lng       float64 `json:"lng" groups:"basic"`
	StopID    int     `json:"stop_id" groups:"basic"`
	StopCode  string  `json:"stop_code" groups:"basic"`
	StopName  string  `json:"stop_nam" groups:"basic"`
}

// NewClose builds a close message for the subline a bus just left.
func NewClose(previousSublineID int64, lat, lng float64, at time.Time) *Close {
	ts := CompactTimestamp(at)
	return &Close{
		Type:      "close",
		SublineID: previousSublineID,
		Updated:   ts,
		Date:      ts,
		Del:       0,
		Pass:      "0",
		Lat:       lat,
		Lng:       lng,
		StopID:    0,
		StopCode:  "-",
		StopName:  "-",
	}
}

func (c *Close) Marshal() ([]byte, error) { return marshalBasic(c) }

// UpcomingStop is one entry in an esta-info message's stops list.
type UpcomingStop struct {
	StopID   string `json:"stop_id" groups:"basic"`
	StopCode string `json:"stop_code" groups:"basic"`
	StopName string `json:"stop_nam" groups:"basic"`

	// ArrivalTime and DepartureTime are "HHMMSS", or "" when the bus's
	// velocity did not allow an estimate (v <= 0).
	ArrivalTime   string `json:"arr_t" groups:"basic"`
	DepartureTime string `json:"dep_t" groups:"basic"`

	DistanceMeters float64 `json:"esta_dist" groups:"basic"`

	// EstimatedAt is "YYYYMMDDHHMMSS", or "" when unknown.
	EstimatedAt string `json:"esta_time" groups:"basic"`
}

// Position2 is the pos block embedded in esta-info.
type Position2 struct {
	Lat       float64 `json:"lat" groups:"basic"`
	Lng       float64 `json:"lng" groups:"basic"`
	VelocityK float64 `json:"vel" groups:"basic"`
	Time      string  `json:"time" groups:"basic"`
}

// Capacity is the static placeholder capacity block. Whether this
// should ever derive from driver-reported fields is left open; this
// implementation keeps it static.
type Capacity struct {
	Passengers    int `json:"pas" groups:"basic"`
	Capacity      int `json:"cap" groups:"basic"`
	CapacitySeat  int `json:"cap_seated" groups:"basic"`
	CapacityStand int `json:"cap_standing" groups:"basic"`
}

// DefaultCapacity is the fixed placeholder block used by every
// esta-info message.
func DefaultCapacity() Capacity {
	return Capacity{Passengers: 0, Capacity: 50, CapacitySeat: 30, CapacityStand: 20}
}

// EstaInfo is emitted once per frame while a subline is assigned,
// carrying the upcoming-stops projection and the bus's current sample.
type EstaInfo struct {
	Type      string         `json:"type" groups:"basic"`
	SublineID int64          `json:"rt_id" groups:"basic"`
	Updated   string         `json:"upd" groups:"basic"`
	Date      string         `json:"date" groups:"basic"`
	Stops     []UpcomingStop `json:"stops" groups:"basic"`
	Pos       Position2      `json:"pos" groups:"basic"`
	Bus       Capacity       `json:"bus" groups:"basic"`
}

// NewEstaInfo builds an esta-info message. stops may be empty but must
// never be nil so it serializes as `[]` rather than `null`.
func NewEstaInfo(sublineID int64, stops []UpcomingStop, lat, lng, velocityMS float64, at time.Time) *EstaInfo {
	if stops == nil {
		stops = []UpcomingStop{}
	}
	ts := CompactTimestamp(at)
	return &EstaInfo{
		Type:      "esta-info",
		SublineID: sublineID,
		Updated:   ts,
		Date:      ts,
		Stops:     stops,
		Pos: Position2{
			Lat:       lat,
			Lng:       lng,
			VelocityK: velocityMS * 3.6,
			Time:      ts,
		},
		Bus: DefaultCapacity(),
	}
}

func (e *EstaInfo) Marshal() ([]byte, error) { return marshalBasic(e) }
