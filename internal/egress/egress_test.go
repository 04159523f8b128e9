package egress_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travigo/transitcore/internal/egress"
	"github.com/travigo/transitcore/internal/registry"
)

func newTestServer(reg *registry.Registry) *httptest.Server {
	h := egress.NewHandler(reg)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/{route}", h.ServeHTTP)
	return httptest.NewServer(mux)
}

func dialRoute(t *testing.T, srv *httptest.Server, route string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + route
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestServeHTTPSubscribesAndDeliversBroadcastFrame(t *testing.T) {
	reg := registry.New()
	srv := newTestServer(reg)
	defer srv.Close()

	conn := dialRoute(t, srv, "101")
	defer conn.Close()

	var welcome map[string]any
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "connection", welcome["type"])

	require.Eventually(t, func() bool { return reg.RouteCount() == 1 }, time.Second, 10*time.Millisecond)
	reg.Broadcast(101, []byte(`{"type":"position"}`))

	_, body, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"position"}`, string(body))
}

func TestServeHTTPRejectsNonNumericRoute(t *testing.T) {
	reg := registry.New()
	srv := newTestServer(reg)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/not-a-number"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
