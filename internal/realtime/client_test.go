package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"meetly/client/internal/models"
)

// wsServer is a scriptable socket endpoint: serve is called once per
// received envelope and decides what (if anything) to answer.
type wsServer struct {
	ts    *httptest.Server
	serve func(conn *websocket.Conn, env envelope)

	mu       sync.Mutex
	received []envelope
	conns    []*websocket.Conn
}

func newWSServer(t *testing.T, serve func(conn *websocket.Conn, env envelope)) *wsServer {
	t.Helper()
	s := &wsServer{serve: serve}
	upgrader := websocket.Upgrader{}
	s.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, env)
			s.mu.Unlock()
			if s.serve != nil {
				s.serve(conn, env)
			}
		}
	}))
	t.Cleanup(s.ts.Close)
	return s
}

func (s *wsServer) countEvent(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, env := range s.received {
		if env.Event == event {
			count++
		}
	}
	return count
}

func (s *wsServer) push(t *testing.T, event string, data any) {
	t.Helper()
	encoded, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal push: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		t.Fatalf("no socket connection to push on")
	}
	if err := s.conns[len(s.conns)-1].WriteJSON(envelope{Event: event, Data: encoded}); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func ackAll(conn *websocket.Conn, env envelope) {
	if env.AckID == "" {
		return
	}
	status := statusJoined
	if env.Event == eventSendMessage {
		status = statusSent
	}
	data, _ := json.Marshal(ackPayload{Status: status})
	conn.WriteJSON(envelope{Event: env.Event, AckID: env.AckID, Data: data})
}

func newConnectedClient(t *testing.T, server *wsServer, timeout time.Duration) *Client {
	t.Helper()
	c := NewClient(Config{URL: server.ts.URL, JoinTimeout: timeout}, nil)
	t.Cleanup(c.Close)
	return c
}

func TestJoinChatAcksAndIsIdempotent(t *testing.T) {
	t.Parallel()

	server := newWSServer(t, ackAll)
	client := newConnectedClient(t, server, 2*time.Second)
	ctx := context.Background()

	if !client.JoinChat(ctx, "c1") {
		t.Fatalf("join must succeed")
	}
	if !client.Joined("c1") {
		t.Fatalf("joined room must be tracked")
	}
	if !client.JoinChat(ctx, "c1") {
		t.Fatalf("re-join must succeed")
	}
	if got := server.countEvent(eventJoinChat); got != 1 {
		t.Fatalf("re-join must not hit the wire, got %d join frames", got)
	}
}

func TestJoinChatFailsWithoutAck(t *testing.T) {
	t.Parallel()

	server := newWSServer(t, nil) // reads frames, never answers
	client := newConnectedClient(t, server, 100*time.Millisecond)

	if client.JoinChat(context.Background(), "c1") {
		t.Fatalf("join without an ack must fail")
	}
	if client.Joined("c1") {
		t.Fatalf("failed join must not be tracked")
	}
}

func TestSendMessageAutoJoins(t *testing.T) {
	t.Parallel()

	server := newWSServer(t, ackAll)
	client := newConnectedClient(t, server, 2*time.Second)

	if !client.SendMessage(context.Background(), "c1", "u1", "hello") {
		t.Fatalf("send must succeed")
	}
	if got := server.countEvent(eventJoinChat); got != 1 {
		t.Fatalf("send into an unjoined room must join first, got %d join frames", got)
	}
	if got := server.countEvent(eventSendMessage); got != 1 {
		t.Fatalf("got %d send frames", got)
	}
}

func TestNewMessageDispatch(t *testing.T) {
	t.Parallel()

	server := newWSServer(t, ackAll)
	client := newConnectedClient(t, server, 2*time.Second)
	if !client.JoinChat(context.Background(), "c1") {
		t.Fatalf("join failed")
	}

	got := make(chan NewMessageEvent, 1)
	id := client.OnNewMessage(func(event NewMessageEvent) { got <- event })

	server.push(t, EventNewMessage, NewMessageEvent{
		ChatID:  "c1",
		Message: models.Message{ID: "m1", UserID: "u2", Text: "hi"},
	})

	select {
	case event := <-got:
		if event.ChatID != "c1" || event.Message.Text != "hi" {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("new-message handler never fired")
	}

	client.OffNewMessage(id)
	server.push(t, EventNewMessage, NewMessageEvent{ChatID: "c1"})
	select {
	case event := <-got:
		t.Fatalf("removed handler must not fire, got %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClosedClientRefusesConnect(t *testing.T) {
	t.Parallel()

	server := newWSServer(t, ackAll)
	client := NewClient(Config{URL: server.ts.URL, JoinTimeout: time.Second}, nil)
	client.Close()

	if err := client.Connect(); err == nil {
		t.Fatalf("connect after close must fail")
	}
	if client.JoinChat(context.Background(), "c1") {
		t.Fatalf("join after close must fail")
	}
}

func TestSocketURL(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"http://localhost:3000", "ws://localhost:3000/ws"},
		{"https://api.example.com", "wss://api.example.com/ws"},
		{"http://localhost:3000/", "ws://localhost:3000/ws"},
		{"ws://localhost:3000/ws", "ws://localhost:3000/ws"},
	}
	for _, tc := range cases {
		if got := socketURL(tc.in); got != tc.want {
			t.Fatalf("socketURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
