// Package egress serves the passenger WebSocket endpoint: it
// subscribes a connection to the registry for a main route, sends a
// welcome message, and feeds it from the broadcaster's per-connection
// queue until the client disconnects. Grounded on the same
// gorilla/websocket upgrade shape as internal/ingress
// (terow-rist-stunning-train's DriverSession), mirrored to the
// egress direction.
package egress

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/travigo/transitcore/internal/message"
	"github.com/travigo/transitcore/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var routePathPattern = regexp.MustCompile(`^\d+$`)

type connectionFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Handler serves /api/passenger-realtime-ws/{main_route_id}.
type Handler struct {
	reg *registry.Registry
}

// NewHandler builds an egress Handler over reg.
func NewHandler(reg *registry.Registry) *Handler {
	return &Handler{reg: reg}
}

// ServeHTTP expects the main route id as the final path segment,
// matched by the caller's router and passed via r.PathValue("route")
// (net/http's ServeMux wildcard, Go 1.22+).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	routeParam := r.PathValue("route")
	if !routePathPattern.MatchString(routeParam) {
		http.Error(w, "invalid route id", http.StatusBadRequest)
		return
	}
	routeID, err := strconv.ParseInt(routeParam, 10, 64)
	if err != nil {
		http.Error(w, "invalid route id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("egress: upgrade failed")
		return
	}
	defer conn.Close()

	subscriber := registry.NewConnection(routeID)
	h.reg.Subscribe(subscriber)
	defer h.reg.Unsubscribe(subscriber)

	welcome := connectionFrame{
		Type:      "connection",
		Message:   "Connected to real-time feed for route " + routeParam,
		Timestamp: message.CompactTimestamp(time.Now()),
	}
	if err := conn.WriteJSON(welcome); err != nil {
		return
	}

	clientGone := make(chan struct{})
	go drainClientReads(conn, clientGone)

	for {
		select {
		case frame, ok := <-subscriber.Send():
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-subscriber.Closed():
			return
		case <-clientGone:
			return
		}
	}
}

// drainClientReads discards passenger-initiated frames (none are
// expected); its sole purpose is to detect the client closing or
// erroring so the write loop above can exit instead of leaking.
func drainClientReads(conn *websocket.Conn, gone chan<- struct{}) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			close(gone)
			return
		}
	}
}
