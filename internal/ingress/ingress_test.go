package ingress_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travigo/transitcore/internal/busstate"
	"github.com/travigo/transitcore/internal/catalog"
	"github.com/travigo/transitcore/internal/ingress"
	"github.com/travigo/transitcore/internal/message"
	"github.com/travigo/transitcore/internal/pipeline"
)

type fakeCatalog struct{}

func (fakeCatalog) SublinesOfRoute(ctx context.Context, mainRouteID int64) (map[int64]catalog.Subline, error) {
	return map[int64]catalog.Subline{}, nil
}

type noopSink struct{}

func (noopSink) Broadcast(ctx context.Context, sublineID int64, msg message.Outbound) {}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestServeHTTPSendsConnectedFrameAndProcessesValidFrame(t *testing.T) {
	store := busstate.New(0)
	p := pipeline.New(store, fakeCatalog{}, noopSink{}, pipeline.DefaultOptions(), nil)
	h := ingress.NewHandler(p)

	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	var connected map[string]any
	require.NoError(t, conn.ReadJSON(&connected))
	assert.Equal(t, "connected", connected["type"])

	frame := map[string]any{
		"routeId":   101,
		"busId":     "B1",
		"lat":       10.0,
		"lng":       10.0,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"velocity":  5.0,
	}
	require.NoError(t, conn.WriteJSON(frame))

	require.Eventually(t, func() bool {
		state, ok := store.Snapshot("B1")
		return ok && state.Initialized
	}, time.Second, 10*time.Millisecond)
}

func TestServeHTTPRepliesWithErrorFrameOnBadInput(t *testing.T) {
	store := busstate.New(0)
	p := pipeline.New(store, fakeCatalog{}, noopSink{}, pipeline.DefaultOptions(), nil)
	h := ingress.NewHandler(p)

	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	var connected map[string]any
	require.NoError(t, conn.ReadJSON(&connected))

	frame := map[string]any{
		"routeId":   101,
		"busId":     "",
		"lat":       10.0,
		"lng":       10.0,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"velocity":  5.0,
	}
	require.NoError(t, conn.WriteJSON(frame))

	var errFrame map[string]any
	require.NoError(t, conn.ReadJSON(&errFrame))
	assert.Equal(t, "error", errFrame["type"])
}
