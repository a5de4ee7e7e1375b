package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emotionsim/engine/internal/engine"
)

// keepAliveInterval is the server-initiated heartbeat cadence from
// spec.md section 6.2.
const keepAliveInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientFrame is a message the websocket client may send: {type: ping}
// or {type: get_status}, per spec.md section 6.2.
type clientFrame struct {
	Type string `json:"type"`
}

// handleWebSocket upgrades the connection and relays runID's event
// stream, grounded on the teacher's handleStream SSE handler
// (internal/api/server.go) — subscribe/catch-up/heartbeat/select-loop —
// adapted to a websocket so the client can send ping/get_status frames
// back, which a one-way SSE connection cannot express.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, runID string) {
	eng := s.liveEngine(runID)
	if eng == nil {
		http.Error(w, "run not found or not live", http.StatusNotFound)
		return
	}

	current := atomic.AddInt32(&s.wsConns, 1)
	if current > maxWSConns {
		atomic.AddInt32(&s.wsConns, -1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.wsConns, -1)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	run := eng.Run()
	subID, ch := run.Emitter.Subscribe()
	defer run.Emitter.Unsubscribe(subID)

	connected := engine.Event{Type: "connected", Data: map[string]any{"run_id": runID}, Timestamp: time.Now()}
	if err := conn.WriteJSON(connected); err != nil {
		return
	}

	slog.Info("stream client connected", "run_id", runID, "sub_id", subID)

	// Client frames (ping/get_status) arrive on their own goroutine since
	// gorilla/websocket requires a single reader but read and write can
	// run concurrently.
	incoming := make(chan clientFrame, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var frame clientFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			select {
			case incoming <- frame:
			case <-done:
				return
			}
		}
	}()

	heartbeat := time.NewTicker(keepAliveInterval)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case frame := <-incoming:
			switch frame.Type {
			case "ping":
				pong := engine.Event{Type: "pong", Data: map[string]any{}, Timestamp: time.Now()}
				if err := conn.WriteJSON(pong); err != nil {
					return
				}
			case "get_status":
				status := engine.Event{Type: "run_status", Data: map[string]any{
					"status":       run.Status,
					"current_step": run.CurrentStep,
				}, Timestamp: time.Now()}
				if err := conn.WriteJSON(status); err != nil {
					return
				}
			}
		case <-heartbeat.C:
			keepAlive := engine.Event{Type: "ping", Data: map[string]any{}, Timestamp: time.Now()}
			if err := conn.WriteJSON(keepAlive); err != nil {
				return
			}
		case <-done:
			slog.Info("stream client disconnected", "run_id", runID, "sub_id", subID)
			return
		case <-r.Context().Done():
			return
		}
	}
}
