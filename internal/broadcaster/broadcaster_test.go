package broadcaster_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/travigo/transitcore/internal/broadcaster"
	"github.com/travigo/transitcore/internal/message"
	"github.com/travigo/transitcore/internal/registry"
	"github.com/travigo/transitcore/internal/xferrors"
)

type fakeResolver struct {
	routes map[int64]int64
}

func (f *fakeResolver) OwningRouteOf(ctx context.Context, sublineID int64) (int64, error) {
	r, ok := f.routes[sublineID]
	if !ok {
		return 0, xferrors.Wrap(xferrors.UnknownSubline, "no such subline")
	}
	return r, nil
}

func TestBroadcastDeliversToSubscriber(t *testing.T) {
	reg := registry.New()
	conn := registry.NewConnection(101)
	reg.Subscribe(conn)

	b := broadcaster.New(&fakeResolver{routes: map[int64]int64{1011: 101}}, reg, nil)
	b.Broadcast(context.Background(), 1011, message.NewClose(1011, 1, 2, time.Now()))

	select {
	case frame := <-conn.Send():
		assert.Contains(t, string(frame), `"type":"close"`)
	default:
		t.Fatal("expected a frame to be enqueued")
	}
}

func TestBroadcastDropsUnknownSubline(t *testing.T) {
	reg := registry.New()
	conn := registry.NewConnection(101)
	reg.Subscribe(conn)

	b := broadcaster.New(&fakeResolver{routes: map[int64]int64{}}, reg, nil)
	b.Broadcast(context.Background(), 9999, message.NewClose(9999, 1, 2, time.Now()))

	select {
	case <-conn.Send():
		t.Fatal("expected no frame for an unresolved subline")
	default:
	}
}

func TestBroadcastEvictsFullQueue(t *testing.T) {
	reg := registry.New()
	conn := registry.NewConnection(101)
	reg.Subscribe(conn)

	b := broadcaster.New(&fakeResolver{routes: map[int64]int64{1011: 101}}, reg, nil)
	for i := 0; i < registry.SendQueueSize+5; i++ {
		b.Broadcast(context.Background(), 1011, message.NewPosition(1011, 1, 2, 3, time.Now()))
	}

	select {
	case <-conn.Closed():
	default:
		t.Fatal("expected connection to be retired after its queue filled")
	}
}
