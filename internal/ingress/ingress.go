// Package ingress serves the driver WebSocket endpoint: it accepts a
// connection unconditionally, decodes each text frame, and dispatches
// it into the pipeline. The per-connection session shape (an id plus
// a guarded last-known-location) follows terow-rist-stunning-train's
// DriverSession, generalized from a single cached location to a full
// dispatch loop into the estimator pipeline.
package ingress

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/travigo/transitcore/internal/pipeline"
	"github.com/travigo/transitcore/internal/xferrors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundFrame mirrors the driver's wire schema before validation.
type inboundFrame struct {
	RouteID   int64   `json:"routeId"`
	BusID     string  `json:"busId"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp string  `json:"timestamp"`
	Velocity  float64 `json:"velocity"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type connectedFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Handler serves /api/driver-location-ws.
type Handler struct {
	pipeline *pipeline.Pipeline
}

// NewHandler builds an ingress Handler over p.
func NewHandler(p *pipeline.Pipeline) *Handler {
	return &Handler{pipeline: p}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ingress: upgrade failed")
		return
	}
	defer conn.Close()

	_ = conn.WriteJSON(connectedFrame{Type: "connected", Message: "Connected to driver location service"})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var in inboundFrame
		if err := json.Unmarshal(raw, &in); err != nil {
			_ = conn.WriteJSON(errorFrame{Type: "error", Message: "malformed JSON"})
			continue
		}

		ts, err := time.Parse(time.RFC3339, in.Timestamp)
		if err != nil {
			ts = time.Now().UTC()
		}

		frame := pipeline.InboundFrame{
			RouteID:   in.RouteID,
			BusID:     in.BusID,
			Lat:       in.Lat,
			Lng:       in.Lng,
			Timestamp: ts,
			Velocity:  in.Velocity,
		}

		if err := h.pipeline.Process(r.Context(), frame); err != nil {
			if errors.Is(err, xferrors.BadInput) {
				_ = conn.WriteJSON(errorFrame{Type: "error", Message: err.Error()})
				continue
			}
			log.Error().Err(err).Msg("ingress: pipeline processing failed")
		}
	}
}
