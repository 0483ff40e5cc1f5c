package terminal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/shsh-panel/internal/domain"
	"github.com/ashureev/shsh-panel/internal/identity"
	"github.com/coder/websocket"
)

func newSocketServer(t *testing.T, f *fixture, tenant *domain.Tenant) (*httptest.Server, *SessionManager) {
	t.Helper()
	sm := f.svc.conns
	h := NewWebSocketHandler(f.svc, sm, "*", true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(identity.WithTenant(r.Context(), tenant)))
	}))
	t.Cleanup(srv.Close)
	return srv, sm
}

func dialSession(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/terminal?session_id=" + sessionID
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg map[string]string) wsReply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, _ := json.Marshal(msg)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_, raw, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var reply wsReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return reply
}

func TestWebSocketOperations(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)
	srv, _ := newSocketServer(t, f, f.bob)
	conn := dialSession(t, srv, id)

	if reply := roundTrip(t, conn, map[string]string{"type": "ping"}); reply.Type != "pong" || !reply.Success {
		t.Errorf("unexpected ping reply %+v", reply)
	}

	reply := roundTrip(t, conn, map[string]string{"type": "execute", "id": "1", "command": "pwd"})
	if !reply.Success || reply.ID != "1" {
		t.Fatalf("execute failed: %+v", reply)
	}
	if out := reply.Data.(map[string]interface{})["output"]; out != f.home+"\n" {
		t.Errorf("unexpected output %v", out)
	}

	reply = roundTrip(t, conn, map[string]string{"type": "cd", "path": "../../.."})
	if reply.Success || reply.Error == nil || reply.Error.Kind != domain.KindAccessDenied {
		t.Errorf("expected access denied, got %+v", reply)
	}

	reply = roundTrip(t, conn, map[string]string{"type": "history"})
	history := reply.Data.(map[string]interface{})["history"].([]interface{})
	if len(history) != 1 {
		t.Errorf("expected 1 history entry, got %v", history)
	}

	if reply := roundTrip(t, conn, map[string]string{"type": "resize"}); reply.Error == nil || reply.Error.Kind != domain.KindBadRequest {
		t.Errorf("expected bad request for unknown type, got %+v", reply)
	}
}

func TestWebSocketRejectsForeignSession(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)
	alice := &domain.Tenant{TenantID: "t-alice", Username: "alice"}
	srv, _ := newSocketServer(t, f, alice)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/terminal?session_id=" + id
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("expected dial to fail for a foreign session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %+v", resp)
	}
}

func TestCloseSessionClosesSocket(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)
	srv, sm := newSocketServer(t, f, f.bob)
	conn := dialSession(t, srv, id)

	// A round trip guarantees the server registered the socket.
	roundTrip(t, conn, map[string]string{"type": "ping"})
	if sm.Count() != 1 {
		t.Fatalf("expected 1 attached socket, got %d", sm.Count())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(ctx)
		readErr <- err
	}()

	if err := f.svc.CloseSession(context.Background(), f.bob, id); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	if err := <-readErr; websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("expected normal closure, got %v", err)
	}
	if sm.Count() != 0 {
		t.Errorf("expected no attached sockets, got %d", sm.Count())
	}
}

func TestReconnectReplacesStalledSocket(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)
	srv, sm := newSocketServer(t, f, f.bob)

	// old stops reading after one reply, so its close handshake stalls.
	old := dialSession(t, srv, id)
	roundTrip(t, old, map[string]string{"type": "ping"})

	fresh := dialSession(t, srv, id)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := fresh.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, _, err := fresh.Read(ctx); err != nil {
		t.Fatalf("new socket blocked behind the replaced one: %v", err)
	}
	if sm.Count() != 1 {
		t.Errorf("expected 1 attached socket, got %d", sm.Count())
	}

	readCtx, readCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer readCancel()
	if _, _, err := old.Read(readCtx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("expected replaced socket to be closed normally, got %v", err)
	}
}
