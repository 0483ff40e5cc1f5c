package terminal

import (
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

func TestSessionManager_Register(t *testing.T) {
	sm := NewSessionManager()
	conn := &websocket.Conn{}

	sm.Register("tenant-1", "sess-1", conn)

	if active := sm.GetActive("tenant-1", "sess-1"); active != conn {
		t.Errorf("Expected connection %v, got %v", conn, active)
	}
	if active := sm.GetActive("tenant-2", "sess-1"); active != nil {
		t.Errorf("Expected no connection for another tenant, got %v", active)
	}
}

func TestSessionManager_Unregister(t *testing.T) {
	sm := NewSessionManager()
	conn := &websocket.Conn{}

	sm.Register("tenant-1", "sess-1", conn)
	sm.Unregister("tenant-1", "sess-1", conn)

	if active := sm.GetActive("tenant-1", "sess-1"); active != nil {
		t.Errorf("Expected nil connection, got %v", active)
	}
	if sm.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", sm.Count())
	}
}

func TestSessionManager_UnregisterStale(t *testing.T) {
	sm := NewSessionManager()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	sm.Register("tenant-1", "sess-1", conn1)
	sm.Register("tenant-1", "sess-2", conn2)

	sm.Unregister("tenant-1", "sess-1", conn1)

	if active := sm.GetActive("tenant-1", "sess-2"); active != conn2 {
		t.Errorf("Expected connection %v, got %v", conn2, active)
	}
}

func TestSessionManager_UnregisterIgnoresOtherConn(t *testing.T) {
	sm := NewSessionManager()
	conn := &websocket.Conn{}

	sm.Register("tenant-1", "sess-1", conn)
	sm.Unregister("tenant-1", "sess-1", &websocket.Conn{})

	if active := sm.GetActive("tenant-1", "sess-1"); active != conn {
		t.Errorf("Expected registered connection to survive, got %v", active)
	}
}

func TestSessionManager_CloseUnknownSession(t *testing.T) {
	sm := NewSessionManager()
	sm.CloseSession("tenant-1", "missing")
	if sm.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", sm.Count())
	}
}

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	sm := NewSessionManager()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sm.Register("tenant-1", "sess-"+strconv.Itoa(i), &websocket.Conn{})
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sm.GetActive("tenant-1", "sess-"+strconv.Itoa(i))
		}
	}()

	wg.Wait()
	if sm.Count() != 1000 {
		t.Errorf("Expected 1000 sockets, got %d", sm.Count())
	}
}
