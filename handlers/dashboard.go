package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sealtrack/dashboard"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type DashboardHandler struct {
	agg      *dashboard.Aggregator
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewDashboardHandler creates the handler. checkOrigin guards websocket
// upgrades; nil accepts same-host origins only.
func NewDashboardHandler(agg *dashboard.Aggregator, checkOrigin func(*http.Request) bool, log zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		agg: agg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		log: log,
	}
}

// Get returns a one-off dashboard view for the caller's portal.
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}
	view, err := h.agg.Snapshot(r.Context(), session)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Live streams dashboard views over a websocket: the current view first, then
// one per change to seals, stations or (for admins) users.
func (h *DashboardHandler) Live(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, err := h.agg.Watch(ctx, session)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer stream.Cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	log := h.log.With().Str("user_id", session.UserID).Logger()
	log.Debug().Msg("live dashboard connected")

	// Reader: handles pongs and notices the client going away.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(v dashboard.View) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}
	if err := send(stream.Initial()); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case view, ok := <-stream.Updates():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"),
					time.Now().Add(writeWait))
				return
			}
			if err := send(view); err != nil {
				log.Debug().Err(err).Msg("live dashboard write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			log.Debug().Msg("live dashboard disconnected")
			return
		}
	}
}
