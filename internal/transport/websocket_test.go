package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server that handles multiple
// connections, passing a 1-based connection id to the handler.
func mockWSServer(t *testing.T, handler func(id int, conn *websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	var mu sync.Mutex
	connCount := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		mu.Lock()
		connCount++
		id := connCount
		mu.Unlock()

		handler(id, conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(url string) Config {
	return Config{
		URL:          url,
		DialTimeout:  2 * time.Second,
		WriteTimeout: time.Second,
		PingTimeout:  5 * time.Second,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
		BufferSize:   16,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// nextEvent drains the channel until an event with the given name arrives.
func nextEvent(t *testing.T, events <-chan Event, name string) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("events channel closed while waiting for %q", name)
			}
			if ev.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", name)
		}
	}
}

func decodeStringArg(t *testing.T, ev Event) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(ev.Arg(0), &s); err != nil {
		t.Fatalf("decode string arg of %q: %v", ev.Name, err)
	}
	return s
}

func TestConnectAndServerPush(t *testing.T) {
	server := mockWSServer(t, func(id int, conn *websocket.Conn) {
		data, _ := json.Marshal(packet{
			Event: "update:videoQueue",
			Args:  []json.RawMessage{json.RawMessage(`{"queue":[]}`)},
		})
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	tr := Dial(testConfig(wsURL(server)), discardLogger())
	defer tr.Close()
	tr.Open()

	nextEvent(t, tr.Events(), EventConnect)
	if !tr.Connected() {
		t.Error("Connected() = false after connect event")
	}

	ev := nextEvent(t, tr.Events(), "update:videoQueue")
	if string(ev.Arg(0)) != `{"queue":[]}` {
		t.Errorf("pushed arg = %s", ev.Arg(0))
	}
}

func TestEmitWithAckRoundTrip(t *testing.T) {
	server := mockWSServer(t, func(id int, conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var p packet
			if err := json.Unmarshal(data, &p); err != nil {
				continue
			}
			if p.Event != "authenticate" || p.ID == 0 {
				continue
			}

			resp, _ := json.Marshal(packet{
				Ack:  p.ID,
				Args: []json.RawMessage{json.RawMessage(`{"user":"mc"}`)},
			})
			if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
				return
			}
		}
	})
	defer server.Close()

	tr := Dial(testConfig(wsURL(server)), discardLogger())
	defer tr.Close()
	tr.Open()

	nextEvent(t, tr.Events(), EventConnect)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload, err := tr.EmitWithAck(ctx, "authenticate", map[string]string{"token": "t"})
	if err != nil {
		t.Fatalf("EmitWithAck failed: %v", err)
	}
	if string(payload) != `{"user":"mc"}` {
		t.Errorf("ack payload = %s", payload)
	}
}

func TestAckTimeout(t *testing.T) {
	server := mockWSServer(t, func(id int, conn *websocket.Conn) {
		// Swallow requests, never acknowledge.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	tr := Dial(testConfig(wsURL(server)), discardLogger())
	defer tr.Close()
	tr.Open()

	nextEvent(t, tr.Events(), EventConnect)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := tr.EmitWithAck(ctx, "subscribe", nil); !errors.Is(err, ErrAckTimeout) {
		t.Errorf("err = %v, want ErrAckTimeout", err)
	}
}

func TestServerCloseReportsServerInitiated(t *testing.T) {
	server := mockWSServer(t, func(id int, conn *websocket.Conn) {
		if id == 1 {
			conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			)
			return
		}
		// Reconnections just idle.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	tr := Dial(testConfig(wsURL(server)), discardLogger())
	defer tr.Close()
	tr.Open()

	nextEvent(t, tr.Events(), EventConnect)

	ev := nextEvent(t, tr.Events(), EventDisconnect)
	if got := decodeStringArg(t, ev); got != ReasonServerInitiated {
		t.Errorf("disconnect reason = %q, want %q", got, ReasonServerInitiated)
	}

	// The transport retries and lands on the idling second connection.
	ev = nextEvent(t, tr.Events(), EventReconnectAttempt)
	if string(ev.Arg(0)) != "1" {
		t.Errorf("reconnect attempt = %s, want 1", ev.Arg(0))
	}
	nextEvent(t, tr.Events(), EventConnect)
}

func TestPendingAckFailsOnDisconnect(t *testing.T) {
	server := mockWSServer(t, func(id int, conn *websocket.Conn) {
		if id == 1 {
			// Read the request, then drop the link without acknowledging.
			conn.ReadMessage()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	tr := Dial(testConfig(wsURL(server)), discardLogger())
	defer tr.Close()
	tr.Open()

	nextEvent(t, tr.Events(), EventConnect)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := tr.EmitWithAck(ctx, "action", nil); !errors.Is(err, ErrConnectionLost) {
		t.Errorf("err = %v, want ErrConnectionLost", err)
	}
}

func TestReconnectFailedAfterMaxAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := wsURL(server)
	server.Close()

	cfg := testConfig(url)
	cfg.MaxAttempts = 2

	tr := Dial(cfg, discardLogger())
	defer tr.Close()
	tr.Open()

	var names []string
	deadline := time.After(3 * time.Second)
drain:
	for {
		select {
		case ev, ok := <-tr.Events():
			if !ok {
				break drain
			}
			names = append(names, ev.Name)
		case <-deadline:
			t.Fatalf("events channel did not close, got %v", names)
		}
	}

	want := []string{EventConnectError, EventReconnectAttempt, EventConnectError, EventReconnectFailed}
	if len(names) != len(want) {
		t.Fatalf("events = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestCloseReportsClientInitiated(t *testing.T) {
	server := mockWSServer(t, func(id int, conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	tr := Dial(testConfig(wsURL(server)), discardLogger())
	tr.Open()

	nextEvent(t, tr.Events(), EventConnect)

	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var reason string
	deadline := time.After(3 * time.Second)
drain:
	for {
		select {
		case ev, ok := <-tr.Events():
			if !ok {
				break drain
			}
			if ev.Name == EventDisconnect {
				reason = decodeStringArg(t, ev)
			}
		case <-deadline:
			t.Fatal("events channel did not close after Close")
		}
	}

	if reason != ReasonClientInitiated {
		t.Errorf("disconnect reason = %q, want %q", reason, ReasonClientInitiated)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestEmitBeforeConnect(t *testing.T) {
	tr := Dial(testConfig("ws://127.0.0.1:1/never"), discardLogger())
	defer tr.Close()

	if err := tr.Emit("subscribe", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestMalformedPacketSkipped(t *testing.T) {
	server := mockWSServer(t, func(id int, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		data, _ := json.Marshal(packet{Event: "probe"})
		conn.WriteMessage(websocket.TextMessage, data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	tr := Dial(testConfig(wsURL(server)), discardLogger())
	defer tr.Close()
	tr.Open()

	nextEvent(t, tr.Events(), EventConnect)
	nextEvent(t, tr.Events(), "probe")
}
