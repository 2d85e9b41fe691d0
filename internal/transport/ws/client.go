// Package ws implements the WebSocket recognizer strategy: binary PCM16
// chunks out, JSON recognition events in, with bounded reconnection and a
// keep-alive exchange.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-dictation-pipeline/internal/config"
	"voice-dictation-pipeline/internal/observability/logging"
	"voice-dictation-pipeline/internal/observability/metrics"
	"voice-dictation-pipeline/internal/transport"
)

const writeTimeout = 5 * time.Second

// serverMessage is the wire shape of one backend message.
type serverMessage struct {
	Type      string   `json:"type,omitempty"`
	Text      string   `json:"text,omitempty"`
	IsFinal   bool     `json:"isFinal,omitempty"`
	StartTime *float64 `json:"startTime,omitempty"` // seconds
	EndTime   *float64 `json:"endTime,omitempty"`   // seconds
	Error     string   `json:"error,omitempty"`
}

// Client is a reconnecting WebSocket recognizer.
type Client struct {
	cfg     config.TransportConfig
	log     zerolog.Logger
	metrics *metrics.Metrics

	writeMu sync.Mutex
	connMu  sync.RWMutex
	conn    *websocket.Conn

	results  chan transport.Result
	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a WebSocket recognizer client.
func New(cfg config.TransportConfig) *Client {
	return &Client{
		cfg:     cfg,
		log:     logging.WithComponent("transport.ws"),
		metrics: metrics.DefaultMetrics,
		results: make(chan transport.Result, 64),
		stopped: make(chan struct{}),
	}
}

// Results implements transport.Recognizer.
func (c *Client) Results() <-chan transport.Result { return c.results }

// Start dials the backend, retrying with backoff, then begins the read and
// heartbeat loops.
func (c *Client) Start(ctx context.Context) error {
	conn, err := c.connectWithBackoff(ctx)
	if err != nil {
		return err
	}
	c.setConn(conn)

	go c.readLoop(ctx)
	go c.heartbeatLoop(ctx)
	return nil
}

// Send transmits one PCM chunk immediately. Fails while disconnected; the
// caller may keep sending, later chunks go over the reconnected stream.
func (c *Client) Send(ctx context.Context, chunk []byte) error {
	select {
	case <-c.stopped:
		return fmt.Errorf("ws: client stopped")
	default:
	}

	conn := c.getConn()
	if conn == nil {
		return fmt.Errorf("ws: not connected")
	}
	return c.write(conn, websocket.BinaryMessage, chunk)
}

// Stop sends the end-of-stream sentinel and closes cleanly. Idempotent,
// and never triggers a reconnect.
func (c *Client) Stop() error {
	c.stopOnce.Do(func() {
		close(c.stopped)
		if conn := c.getConn(); conn != nil {
			// Zero-length binary frame is the end-of-stream sentinel.
			if err := c.write(conn, websocket.BinaryMessage, []byte{}); err == nil {
				c.write(conn, websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			conn.Close()
		}
	})
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.results)

	for {
		conn := c.getConn()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isStopped() || ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Msg("Connection lost, reconnecting")
			next, rerr := c.connectWithBackoff(ctx)
			if rerr != nil {
				c.results <- transport.Result{Err: rerr}
				return
			}
			c.setConn(next)
			continue
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("Unparseable backend message, skipped")
			continue
		}

		switch {
		case msg.Type == "ping":
			c.writeJSON(serverMessage{Type: "pong"})
		case msg.Type == "pong":
			// Answer to our keep-alive; nothing to do.
		case msg.Error != "":
			c.results <- transport.Result{
				Err: transport.NewError(transport.Disconnected, errors.New(msg.Error)),
			}
			return
		default:
			res := transport.Result{Text: msg.Text, IsFinal: msg.IsFinal}
			if msg.StartTime != nil && msg.EndTime != nil {
				res.StartMs = int64(*msg.StartTime * 1000)
				res.EndMs = int64(*msg.EndTime * 1000)
				res.HasTiming = true
			}
			c.results <- res
		}
	}
}

// heartbeatLoop sends a keep-alive ping so idle periods (a paused speaker)
// do not hit backend idle timeouts.
func (c *Client) heartbeatLoop(ctx context.Context) {
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopped:
			return
		case <-ticker.C:
			if err := c.writeJSON(serverMessage{Type: "ping"}); err != nil {
				c.log.Debug().Err(err).Msg("Heartbeat send failed")
			}
		}
	}
}

// connectWithBackoff dials with exponential backoff. After MaxReconnects
// consecutive failures it gives up with TransportExhausted.
func (c *Client) connectWithBackoff(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxReconnects; attempt++ {
		if c.isStopped() || ctx.Err() != nil {
			return nil, transport.NewError(transport.ConnectFailed, ctx.Err())
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.Endpoint, nil)
		if err == nil {
			c.metrics.TransportConnects.Inc()
			c.log.Info().Str("endpoint", c.cfg.Endpoint).Int("attempt", attempt).Msg("Connected")
			return conn, nil
		}
		lastErr = err
		c.metrics.TransportReconnects.Inc()

		delay := backoffDelay(c.cfg.BackoffBase, c.cfg.BackoffCap, attempt)
		c.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Connect failed, backing off")

		select {
		case <-ctx.Done():
			return nil, transport.NewError(transport.ConnectFailed, ctx.Err())
		case <-c.stopped:
			return nil, transport.NewError(transport.ConnectFailed, errors.New("stopped"))
		case <-time.After(delay):
		}
	}

	c.metrics.TransportExhausted.Inc()
	return nil, transport.NewError(transport.TransportExhausted,
		fmt.Errorf("gave up after %d attempts: %w", c.cfg.MaxReconnects, lastErr))
}

func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

func (c *Client) write(conn *websocket.Conn, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(messageType, data)
}

func (c *Client) writeJSON(msg serverMessage) error {
	conn := c.getConn()
	if conn == nil {
		return fmt.Errorf("ws: not connected")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(conn, websocket.TextMessage, data)
}

func (c *Client) getConn() *websocket.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.conn = conn
}

func (c *Client) isStopped() bool {
	select {
	case <-c.stopped:
		return true
	default:
		return false
	}
}
