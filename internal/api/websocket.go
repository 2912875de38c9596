package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/ashureev/myaa/internal/domain"
	"github.com/ashureev/myaa/internal/identity"
)

// wsFrame is the JSON envelope for chat frames in both directions.
type wsFrame struct {
	Type    string `json:"type"`
	Speaker string `json:"speaker,omitempty"`
	Content string `json:"content,omitempty"`
	StateID string `json:"state_id,omitempty"`
	Stored  *bool  `json:"stored,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ServeChat upgrades to a WebSocket and runs one turn per "message" frame for
// the session key given in the query string. Turns on one connection run one
// after another.
func (h *Handler) ServeChat(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())
	h.logger.Info("WebSocket chat request", "session_key", key, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_key", key)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_key", key)
		}
	}()
	ws.SetReadLimit(maxTurnBodyBytes)

	h.conns.Register(key, ws)
	defer h.conns.Unregister(key, ws)

	h.chatLoop(r.Context(), ws, key, identity.SpeakerFromContext(r.Context()))
	h.logger.Info("WebSocket chat ended", "session_key", key)
}

func (h *Handler) chatLoop(ctx context.Context, ws *websocket.Conn, key, defaultSpeaker string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "session_key", key)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "session_key", key)
			}
			return
		}

		var in wsFrame
		if err := json.Unmarshal(data, &in); err != nil {
			h.writeFrame(ctx, ws, wsFrame{Type: "error", Error: "invalid frame"})
			continue
		}

		switch in.Type {
		case "ping":
			h.writeFrame(ctx, ws, wsFrame{Type: "pong"})
		case "message":
			h.writeFrame(ctx, ws, h.chatTurn(ctx, key, defaultSpeaker, in))
		default:
			h.writeFrame(ctx, ws, wsFrame{Type: "error", Error: "unknown frame type"})
		}
	}
}

func (h *Handler) chatTurn(ctx context.Context, key, defaultSpeaker string, in wsFrame) wsFrame {
	req := TurnRequest{Speaker: strings.TrimSpace(in.Speaker), Content: strings.TrimSpace(in.Content)}
	if err := h.validate.Struct(req); err != nil {
		return wsFrame{Type: "error", Error: "invalid turn: " + err.Error()}
	}
	if !h.limiter.Allow(key) {
		return wsFrame{Type: "error", Error: "rate limit exceeded"}
	}
	if req.Speaker == "" {
		req.Speaker = defaultSpeaker
	}

	res, err := h.runTurn(ctx, key, domain.Message{Speaker: req.Speaker, Content: req.Content})
	if err != nil {
		_, msg := turnErrorStatus(err)
		h.logger.Warn("WebSocket turn failed", "session_key", key, "error", err)
		return wsFrame{Type: "error", Error: msg}
	}
	stored := res.Stored
	return wsFrame{
		Type:    "reply",
		Speaker: res.Reply.Speaker,
		Content: res.Reply.Content,
		StateID: res.StateID,
		Stored:  &stored,
	}
}

func (h *Handler) writeFrame(ctx context.Context, ws *websocket.Conn, f wsFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("Failed to encode frame", "error", err)
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("Failed to write frame", "type", f.Type, "error", err)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}
