package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"proctorboard/pkg/interfaces"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newTestWebSocket dials a throwaway server and returns the client-side conn.
func newTestWebSocket(t *testing.T) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial test server: %v", err)
	}
	return conn
}

func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Connection = &Connection{}
}

func TestConnection_WriteJSONValidData(t *testing.T) {
	wsConn := newTestWebSocket(t)
	defer wsConn.Close()

	conn := NewConnection(wsConn)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Errorf("WriteJSON failed: %v", err)
	}
}

func TestConnection_WriteJSONInvalidData(t *testing.T) {
	wsConn := newTestWebSocket(t)
	defer wsConn.Close()

	conn := NewConnection(wsConn)
	defer conn.Close()

	if err := conn.WriteJSON(func() {}); err != ErrInvalidJSON {
		t.Errorf("expected ErrInvalidJSON, got %v", err)
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	wsConn := newTestWebSocket(t)
	defer wsConn.Close()

	conn := NewConnection(wsConn)

	if err := conn.Close(); err != nil {
		t.Errorf("first close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestConnection_WriteAfterClose(t *testing.T) {
	wsConn := newTestWebSocket(t)
	defer wsConn.Close()

	conn := NewConnection(wsConn)
	conn.Close()

	time.Sleep(10 * time.Millisecond)

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != ErrConnectionClosed {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_ConcurrentWrites(t *testing.T) {
	wsConn := newTestWebSocket(t)
	defer wsConn.Close()

	conn := NewConnection(wsConn)
	defer conn.Close()

	const numGoroutines = 10
	const messagesPerGoroutine = 10

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < messagesPerGoroutine; j++ {
				_ = conn.WriteJSON(map[string]int{"worker": id, "message": j})
			}
		}(i)
	}

	wg.Wait()
}

func TestConnection_ConcurrentWritesDuringClose(t *testing.T) {
	// Writers racing Close must fail with an error, never panic.
	for i := 0; i < 20; i++ {
		wsConn := newTestWebSocket(t)

		conn := NewConnection(wsConn)

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 25; j++ {
					_ = conn.WriteJSON(map[string]int{"n": j})
				}
			}()
		}
		conn.Close()
		wg.Wait()

		wsConn.Close()
	}
}

func TestConnection_CredentialAccess(t *testing.T) {
	wsConn := newTestWebSocket(t)
	defer wsConn.Close()

	conn := NewConnection(wsConn)
	defer conn.Close()

	if conn.IsAuthenticated() {
		t.Error("new connection should not be authenticated")
	}

	if err := conn.SetCredentials("student1", "student", "attempt1"); err != nil {
		t.Fatalf("SetCredentials failed: %v", err)
	}

	if !conn.IsAuthenticated() {
		t.Error("connection should be authenticated after SetCredentials")
	}
	if conn.GetUserID() != "student1" {
		t.Errorf("expected student1, got %s", conn.GetUserID())
	}
	if conn.GetRole() != "student" {
		t.Errorf("expected student, got %s", conn.GetRole())
	}
	if conn.GetAttemptID() != "attempt1" {
		t.Errorf("expected attempt1, got %s", conn.GetAttemptID())
	}

	const numGoroutines = 50
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if conn.GetUserID() != "student1" || conn.GetRole() != "student" ||
				conn.GetAttemptID() != "attempt1" || !conn.IsAuthenticated() {
				t.Error("inconsistent credentials during concurrent access")
			}
		}()
	}
	wg.Wait()
}
