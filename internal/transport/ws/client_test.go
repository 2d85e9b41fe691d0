package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voice-dictation-pipeline/internal/config"
	"voice-dictation-pipeline/internal/transport"
)

var upgrader = websocket.Upgrader{}

func testCfg(endpoint string) config.TransportConfig {
	return config.TransportConfig{
		Endpoint:          endpoint,
		ChunkDuration:     50 * time.Millisecond,
		MaxReconnects:     3,
		BackoffBase:       5 * time.Millisecond,
		BackoffCap:        20 * time.Millisecond,
		HeartbeatInterval: 0, // off unless a test needs it
	}
}

// echoServer runs handler for each accepted websocket connection.
func echoServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestClient_SendAndReceive(t *testing.T) {
	srv := echoServer(t, func(conn *websocket.Conn) {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			t.Errorf("expected binary chunk, got type %d", mt)
		}
		if len(data) != 320 {
			t.Errorf("expected 320-byte chunk, got %d", len(data))
		}

		start, end := 0.5, 1.25
		conn.WriteJSON(serverMessage{Text: "早上七点", IsFinal: false, StartTime: &start, EndTime: &end})
		conn.WriteJSON(serverMessage{Text: "早上七点开会", IsFinal: true, StartTime: &start, EndTime: &end})

		// Hold the connection open until the client stops.
		conn.ReadMessage()
	})
	defer srv.Close()

	c := New(testCfg(wsURL(srv)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	if err := c.Send(ctx, make([]byte, 320)); err != nil {
		t.Fatalf("send: %v", err)
	}

	res := <-c.Results()
	if res.Err != nil {
		t.Fatalf("unexpected error result: %v", res.Err)
	}
	if res.Text != "早上七点" || res.IsFinal {
		t.Errorf("unexpected first result %+v", res)
	}
	if !res.HasTiming || res.StartMs != 500 || res.EndMs != 1250 {
		t.Errorf("timestamps not converted to ms: %+v", res)
	}

	res = <-c.Results()
	if !res.IsFinal || res.Text != "早上七点开会" {
		t.Errorf("unexpected final result %+v", res)
	}
}

func TestClient_AnswersPing(t *testing.T) {
	gotPong := make(chan struct{})
	srv := echoServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(serverMessage{Type: "ping"})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg serverMessage
			if json.Unmarshal(data, &msg) == nil && msg.Type == "pong" {
				close(gotPong)
				return
			}
		}
	})
	defer srv.Close()

	c := New(testCfg(wsURL(srv)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	select {
	case <-gotPong:
	case <-time.After(2 * time.Second):
		t.Fatal("keep-alive ping was not answered")
	}
}

func TestClient_BackendErrorIsFatal(t *testing.T) {
	srv := echoServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(serverMessage{Error: "stream reset by backend"})
		conn.ReadMessage()
	})
	defer srv.Close()

	c := New(testCfg(wsURL(srv)))
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	res := <-c.Results()
	if res.Err == nil {
		t.Fatal("expected fatal error result")
	}
	var terr *transport.Error
	if !errors.As(res.Err, &terr) || terr.Kind != transport.Disconnected {
		t.Errorf("expected Disconnected, got %v", res.Err)
	}

	// Stream must end after a fatal error.
	if _, open := <-c.Results(); open {
		t.Error("results channel should be closed after fatal error")
	}
}

func TestClient_ReconnectExhaustionIsBoundedAndFatalOnce(t *testing.T) {
	// Dial a server that immediately goes away to force reconnects.
	srv := echoServer(t, func(conn *websocket.Conn) {})
	url := wsURL(srv)
	srv.Close()

	c := New(testCfg(url))
	ctx := context.Background()

	err := c.Start(ctx)
	if err == nil {
		t.Fatal("expected start to fail against dead endpoint")
	}
	var terr *transport.Error
	if !errors.As(err, &terr) || terr.Kind != transport.TransportExhausted {
		t.Errorf("expected TransportExhausted, got %v", err)
	}
}

func TestClient_DisconnectThenExhaustion(t *testing.T) {
	srv := echoServer(t, func(conn *websocket.Conn) {
		// Accept then drop immediately: the client reconnects until the
		// server is gone for good.
	})
	url := wsURL(srv)

	c := New(testCfg(url))
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	srv.Close()

	var fatals int
	for res := range c.Results() {
		if res.Err != nil {
			fatals++
		}
	}
	if fatals != 1 {
		t.Errorf("expected exactly one fatal error, got %d", fatals)
	}
}

func TestClient_StopIsCleanAndIdempotent(t *testing.T) {
	sawSentinel := make(chan struct{}, 1)
	srv := echoServer(t, func(conn *websocket.Conn) {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage && len(data) == 0 {
				sawSentinel <- struct{}{}
			}
		}
	})
	defer srv.Close()

	c := New(testCfg(wsURL(srv)))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	select {
	case <-sawSentinel:
	case <-time.After(2 * time.Second):
		t.Fatal("end-of-stream sentinel not received")
	}

	// Results must close without a fatal error: stop is not a failure.
	for res := range c.Results() {
		if res.Err != nil {
			t.Errorf("stop must not surface an error, got %v", res.Err)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	base, limit := time.Second, 10*time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{9, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(base, limit, tt.attempt); got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
