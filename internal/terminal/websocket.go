package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/shsh-panel/internal/domain"
	"github.com/ashureev/shsh-panel/internal/identity"
	"github.com/coder/websocket"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketHandler serves terminal operations over a WebSocket attached to
// an existing session.
type WebSocketHandler struct {
	svc           *Service
	sm            *SessionManager
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(svc *Service, sm *SessionManager, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		svc:           svc,
		sm:            sm,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage is a client request.
type wsMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Command string `json:"command,omitempty"`
	Path    string `json:"path,omitempty"`
	Partial string `json:"partial,omitempty"`
}

// wsReply answers one wsMessage. Data and Error mirror the HTTP envelope.
type wsReply struct {
	Type    string       `json:"type"`
	ID      string       `json:"id,omitempty"`
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *wsErrorBody `json:"error,omitempty"`
}

type wsErrorBody struct {
	Kind    domain.ErrorKind       `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenant := identity.TenantFromContext(r.Context())
	sessionID := r.URL.Query().Get("session_id")
	if tenant == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "tenant_id", tenant.TenantID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	if err := h.svc.Touch(r.Context(), tenant, sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "tenant_id", tenant.TenantID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "tenant_id", tenant.TenantID)
		}
	}()

	h.sm.Register(tenant.TenantID, sessionID, ws)
	defer h.sm.Unregister(tenant.TenantID, sessionID, ws)

	h.readLoop(r.Context(), ws, tenant, sessionID)
	slog.Info("Terminal socket ended", "tenant_id", tenant.TenantID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, tenant *domain.Tenant, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "tenant_id", tenant.TenantID)
			} else if !errors.Is(err, context.Canceled) {
				slog.Warn("WebSocket read error", "error", err, "tenant_id", tenant.TenantID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			_ = h.reply(ctx, ws, wsReply{Type: "error", Error: &wsErrorBody{
				Kind:    domain.KindBadRequest,
				Message: "invalid message",
			}})
			continue
		}

		reply := h.dispatch(ctx, tenant, sessionID, msg)
		if err := h.reply(ctx, ws, reply); err != nil {
			return
		}
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, tenant *domain.Tenant, sessionID string, msg wsMessage) wsReply {
	reply := wsReply{Type: msg.Type, ID: msg.ID}

	var data interface{}
	var err error
	switch msg.Type {
	case "ping":
		reply.Type = "pong"
		reply.Success = true
		return reply
	case "execute":
		data, err = h.svc.Execute(ctx, tenant, sessionID, msg.Command)
	case "cd":
		var cwd string
		cwd, err = h.svc.ChangeDirectory(ctx, tenant, sessionID, msg.Path)
		data = map[string]string{"cwd": cwd}
	case "history":
		var history []domain.HistoryEntry
		history, err = h.svc.History(ctx, tenant, sessionID)
		data = map[string]interface{}{"history": history}
	case "complete":
		var completions []string
		completions, err = h.svc.Complete(ctx, tenant, sessionID, msg.Partial)
		data = map[string]interface{}{"completions": completions}
	default:
		err = domain.NewError(domain.KindBadRequest, "unknown message type")
	}

	if err != nil {
		reply.Error = errorBody(err)
		return reply
	}
	reply.Success = true
	reply.Data = data
	return reply
}

func errorBody(err error) *wsErrorBody {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return &wsErrorBody{Kind: derr.Kind, Message: derr.Error(), Details: derr.Details}
	}
	return &wsErrorBody{Kind: domain.KindExecution, Message: err.Error()}
}

func (h *WebSocketHandler) reply(ctx context.Context, ws *websocket.Conn, v wsReply) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wsWriteTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err)
		return err
	}
	return nil
}
