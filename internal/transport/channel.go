// Package transport implements the websocket channel to the transcription
// server: JSON text frames, bounded connect retries, and a keepalive ping
// while the channel is open.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"micbridge/internal/ports"
	"micbridge/internal/protocol"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Maximum frame size accepted from the server.
	maxMessageSize = 512 * 1024
)

// Config controls dialing and keepalive behavior.
type Config struct {
	URL             string
	ConnectTimeout  time.Duration
	ConnectRetries  int
	RetryDelay      time.Duration
	KeepalivePeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.KeepalivePeriod <= 0 {
		c.KeepalivePeriod = 30 * time.Second
	}
	return c
}

// Dialer opens channels to one configured server endpoint.
type Dialer struct {
	cfg    Config
	logger *zap.Logger
}

func NewDialer(cfg Config, logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{cfg: cfg.withDefaults(), logger: logger}
}

// Dial connects with bounded linear-backoff retries: attempt n waits
// n*RetryDelay after failure. Exhaustion returns the last dial error.
func (d *Dialer) Dial(ctx context.Context) (ports.Channel, error) {
	wsURL, err := websocketURL(d.cfg.URL)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.ConnectRetries; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
		cancel()
		if err == nil {
			return newChannel(conn, d.cfg, d.logger), nil
		}

		lastErr = err
		d.logger.Warn("channel connect failed",
			zap.String("url", wsURL),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == d.cfg.ConnectRetries {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * d.cfg.RetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", d.cfg.ConnectRetries, lastErr)
}

// Channel is one open websocket connection carrying JSON frames.
type Channel struct {
	conn   *websocket.Conn
	logger *zap.Logger

	events   chan protocol.ServerMessage
	outbound chan []byte
	done     chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

func newChannel(conn *websocket.Conn, cfg Config, logger *zap.Logger) *Channel {
	conn.SetReadLimit(maxMessageSize)

	ch := &Channel{
		conn:     conn,
		logger:   logger,
		events:   make(chan protocol.ServerMessage, 64),
		outbound: make(chan []byte, 32),
		done:     make(chan struct{}),
	}

	ch.wg.Add(2)
	go ch.readLoop()
	go ch.writeLoop(cfg.KeepalivePeriod)
	go func() {
		ch.wg.Wait()
		close(ch.events)
		close(ch.done)
		_ = conn.Close()
	}()

	return ch
}

// Send marshals msg and queues it for the write loop.
func (c *Channel) Send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	// Hold the lock across the queue write so CloseSend cannot close
	// outbound underneath an in-flight Send.
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.sendClosed {
		return errors.New("channel send side is closed")
	}

	select {
	case c.outbound <- payload:
		return nil
	case <-c.done:
		if err := c.lastErr(); err != nil {
			return err
		}
		return errors.New("channel closed")
	}
}

// Events yields decoded server frames until the channel closes.
func (c *Channel) Events() <-chan protocol.ServerMessage {
	return c.events
}

// CloseSend stops the write loop after draining queued frames.
func (c *Channel) CloseSend() error {
	c.closeSendOnce.Do(func() {
		c.sendMu.Lock()
		c.sendClosed = true
		close(c.outbound)
		c.sendMu.Unlock()
	})
	return nil
}

// Close tears the connection down and reports any transport error observed.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		_ = c.CloseSend()
		_ = c.conn.Close()
	})
	<-c.done
	return c.lastErr()
}

// Done closes when both loops have exited.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) lastErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Channel) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Channel) writeLoop(keepalive time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-c.outbound:
			if !ok {
				return
			}
			if err := c.write(payload); err != nil {
				c.setErr(fmt.Errorf("failed to send frame: %w", err))
				return
			}
		case <-ticker.C:
			ping, _ := json.Marshal(protocol.NewPingMessage(0))
			if err := c.write(ping); err != nil {
				c.setErr(fmt.Errorf("failed to send keepalive: %w", err))
				return
			}
		}
	}
}

func (c *Channel) write(payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Channel) readLoop() {
	defer c.wg.Done()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr(fmt.Errorf("failed to read server frame: %w", err))
			return
		}

		msg, err := protocol.Decode(payload)
		if err != nil {
			c.logger.Warn("dropping malformed server frame", zap.Error(err))
			continue
		}
		if !msg.Known() {
			// Forward-compatible: new server message types are ignored.
			c.logger.Info("ignoring unrecognized server frame",
				zap.String("type", string(msg.Type)))
			continue
		}

		select {
		case c.events <- msg:
		default:
			// Consumer fell behind; favor liveness over delivery.
			c.logger.Warn("dropping server frame, event buffer full",
				zap.String("type", string(msg.Type)))
		}
	}
}

// websocketURL normalizes the configured server base URL to the ws(s)
// transcription endpoint.
func websocketURL(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", errors.New("server URL is not configured")
	}

	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	if !strings.HasSuffix(base, "/ws/transcribe") {
		base += "/ws/transcribe"
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("unsupported server URL scheme %q", parsed.Scheme)
	}
	return parsed.String(), nil
}
