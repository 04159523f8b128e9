package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travigo/transitcore/internal/busstate"
	"github.com/travigo/transitcore/internal/catalog"
	"github.com/travigo/transitcore/internal/geo"
	"github.com/travigo/transitcore/internal/message"
	"github.com/travigo/transitcore/internal/pipeline"
)

type fakeCatalog struct {
	sublines map[int64]catalog.Subline
}

func (f *fakeCatalog) SublinesOfRoute(ctx context.Context, mainRouteID int64) (map[int64]catalog.Subline, error) {
	return f.sublines, nil
}

type recordingSink struct {
	messages []message.Outbound
}

func (r *recordingSink) Broadcast(ctx context.Context, sublineID int64, msg message.Outbound) {
	r.messages = append(r.messages, msg)
}

func eastWestCatalog() *fakeCatalog {
	return &fakeCatalog{sublines: map[int64]catalog.Subline{
		1011: {ID: 1011, MainRouteID: 101, Stops: []catalog.Stop{
			{ID: "A", Position: geo.Coordinate{Lat: 10, Lng: 10}},
			{ID: "B", Position: geo.Coordinate{Lat: 10, Lng: 10.01}},
			{ID: "C", Position: geo.Coordinate{Lat: 10, Lng: 10.02}},
		}},
		1012: {ID: 1012, MainRouteID: 101, Stops: []catalog.Stop{
			{ID: "C", Position: geo.Coordinate{Lat: 10, Lng: 10.02}},
			{ID: "B", Position: geo.Coordinate{Lat: 10, Lng: 10.01}},
			{ID: "A", Position: geo.Coordinate{Lat: 10, Lng: 10}},
		}},
	}}
}

func frame(t time.Time, lat, lng, vel float64) pipeline.InboundFrame {
	return pipeline.InboundFrame{RouteID: 101, BusID: "B1", Lat: lat, Lng: lng, Timestamp: t, Velocity: vel}
}

func TestSubQuorumProducesNoMessages(t *testing.T) {
	store := busstate.New(0)
	sink := &recordingSink{}
	p := pipeline.New(store, eastWestCatalog(), sink, pipeline.DefaultOptions(), nil)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, p.Process(context.Background(), frame(base, 10.0000, 10.0000, 5)))
	require.NoError(t, p.Process(context.Background(), frame(base.Add(time.Second), 10.0000, 10.0005, 5)))

	assert.Empty(t, sink.messages)
}

func TestQuorumReachedEmitsPositionAndEsta(t *testing.T) {
	store := busstate.New(0)
	sink := &recordingSink{}
	p := pipeline.New(store, eastWestCatalog(), sink, pipeline.DefaultOptions(), nil)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, p.Process(context.Background(), frame(base, 10.0000, 10.0000, 5)))
	require.NoError(t, p.Process(context.Background(), frame(base.Add(time.Second), 10.0000, 10.0005, 5)))
	require.NoError(t, p.Process(context.Background(), frame(base.Add(2*time.Second), 10.0000, 10.0010, 5)))

	require.Len(t, sink.messages, 2)
	pos, ok := sink.messages[0].(*message.Position)
	require.True(t, ok)
	assert.Equal(t, int64(1011), pos.SublineID)

	esta, ok := sink.messages[1].(*message.EstaInfo)
	require.True(t, ok)
	assert.Equal(t, int64(1011), esta.SublineID)
}

func TestDirectionReversalEmitsCloseThenPosition(t *testing.T) {
	store := busstate.New(0)
	sink := &recordingSink{}
	p := pipeline.New(store, eastWestCatalog(), sink, pipeline.DefaultOptions(), nil)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	eastward := []float64{10.0000, 10.0005, 10.0010}
	for i, lng := range eastward {
		require.NoError(t, p.Process(context.Background(), frame(base.Add(time.Duration(i)*time.Second), 10.0000, lng, 5)))
	}
	sink.messages = nil

	westward := []float64{10.0010, 10.0005, 10.0000}
	for i, lng := range westward {
		require.NoError(t, p.Process(context.Background(), frame(base.Add(time.Duration(4+i)*time.Second), 10.0000, lng, 5)))
	}

	// The first two westward frames still average eastward over the
	// five-sample history, so they emit position/esta-info for 1011;
	// the third flips the match to 1012 and emits the close first.
	require.NotEmpty(t, sink.messages)
	closeIdx := -1
	for i, m := range sink.messages {
		if _, ok := m.(*message.Close); ok {
			closeIdx = i
			break
		}
	}
	require.GreaterOrEqual(t, closeIdx, 0)
	closeMsg, ok := sink.messages[closeIdx].(*message.Close)
	require.True(t, ok)
	assert.Equal(t, int64(1011), closeMsg.SublineID)

	require.Greater(t, len(sink.messages), closeIdx+1)
	next, ok := sink.messages[closeIdx+1].(*message.Position)
	require.True(t, ok)
	assert.Equal(t, int64(1012), next.SublineID)

	found1012 := false
	for _, m := range sink.messages {
		if pos, ok := m.(*message.Position); ok && pos.SublineID == 1012 {
			found1012 = true
		}
	}
	assert.True(t, found1012)
}

func TestRouteChangeResetsQuorum(t *testing.T) {
	store := busstate.New(0)
	sink := &recordingSink{}
	p := pipeline.New(store, eastWestCatalog(), sink, pipeline.DefaultOptions(), nil)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, lng := range []float64{10.0000, 10.0005, 10.0010} {
		require.NoError(t, p.Process(context.Background(), frame(base.Add(time.Duration(i)*time.Second), 10.0000, lng, 5)))
	}
	sink.messages = nil

	changed := pipeline.InboundFrame{RouteID: 202, BusID: "B1", Lat: 10, Lng: 10, Timestamp: base.Add(10 * time.Second), Velocity: 5}
	require.NoError(t, p.Process(context.Background(), changed))

	assert.Empty(t, sink.messages)
}

func TestMissingBusIDIsBadInput(t *testing.T) {
	store := busstate.New(0)
	sink := &recordingSink{}
	p := pipeline.New(store, eastWestCatalog(), sink, pipeline.DefaultOptions(), nil)

	f := pipeline.InboundFrame{RouteID: 101, BusID: "", Lat: 10, Lng: 10, Timestamp: time.Now(), Velocity: 1}
	err := p.Process(context.Background(), f)
	require.Error(t, err)
}
