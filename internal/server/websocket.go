package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/servicepilot/servicepilot-ai/internal/metrics"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot/orchestrator"
	"github.com/servicepilot/servicepilot-ai/pkg/types"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// wsError is sent when a frame cannot be processed. The connection stays
// open; a bad turn does not end the conversation.
type wsError struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// handleTurnSocket handles GET /ws/turns: a persistent conversation
// channel. Each inbound frame is one TurnRequest, each outbound frame one
// TurnResponse, so a shop-floor terminal can run a whole session over a
// single connection.
func (s *Server) handleTurnSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(s.cfg.Server.AllowedOrigins, r.Header.Get("Origin"))
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		s.logger.Warn("websocket upgrade rejected", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(conn, done)

	for {
		var req types.TurnRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		resp, err := s.turns.HandleTurn(r.Context(), &req)
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err != nil {
			// Same policy as the HTTP path: internal error text never
			// reaches the technician.
			msg := "turn could not be processed"
			if errors.Is(err, orchestrator.ErrEmptyInput) {
				msg = "free_text is required"
			} else {
				s.logger.Error("turn failed",
					zap.String("user_id", req.UserID),
					zap.String("machine_id", req.MachineID),
					zap.Error(err))
			}
			if werr := conn.WriteJSON(wsError{Kind: "error", Error: msg}); werr != nil {
				return
			}
			continue
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (s *Server) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// originAllowed applies the configured allowlist to a handshake Origin.
// Browserless clients send no Origin header and are always accepted.
// Matching is by scheme+host, case-insensitive, with "*" as a full
// wildcard.
func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	got := strings.ToLower(u.Scheme + "://" + u.Host)
	for _, a := range allowed {
		if a == "*" {
			return true
		}
		if strings.ToLower(strings.TrimSuffix(a, "/")) == got {
			return true
		}
	}
	return false
}
