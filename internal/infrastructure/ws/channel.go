// Package ws maintains the live event channel to the backend over a
// websocket, surviving transient disconnects within a bounded retry budget.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taxdash/docsync/internal/core/domain"
)

type Options struct {
	// URL is the websocket endpoint, e.g. ws://host/ws/status.
	URL string

	// PingInterval spaces the outbound keepalive pings; defaults to 30s.
	PingInterval time.Duration

	// ReconnectDelay is the fixed pause between redial attempts; defaults
	// to 3s. ReconnectBudget caps consecutive failed attempts; defaults
	// to 5. The budget resets after every successful dial.
	ReconnectDelay  time.Duration
	ReconnectBudget int

	Logger *slog.Logger
}

type Channel struct {
	url             string
	pingInterval    time.Duration
	reconnectDelay  time.Duration
	reconnectBudget int
	log             *slog.Logger

	handler        func(domain.Event)
	onOpen         func(resumed bool)
	onClose        func(err error)
	onFrameDropped func()

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewChannel(opts Options) *Channel {
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	reconnectDelay := opts.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	reconnectBudget := opts.ReconnectBudget
	if reconnectBudget <= 0 {
		reconnectBudget = 5
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		url:             opts.URL,
		pingInterval:    pingInterval,
		reconnectDelay:  reconnectDelay,
		reconnectBudget: reconnectBudget,
		log:             log,
	}
}

// OnEvent registers the frame consumer. Set callbacks before Connect.
func (c *Channel) OnEvent(fn func(domain.Event)) { c.handler = fn }

// OnOpen fires after every successful dial; resumed is false only for the
// first session of a Connect call.
func (c *Channel) OnOpen(fn func(resumed bool)) { c.onOpen = fn }

// OnClose fires once when the channel gives up or is disconnected.
func (c *Channel) OnClose(fn func(err error)) { c.onClose = fn }

// OnFrameDropped fires for every inbound frame that failed to decode.
func (c *Channel) OnFrameDropped(fn func()) { c.onFrameDropped = fn }

// Connect starts the channel. Calling it while the channel is already
// running is a no-op.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.manage(ctx, done)
}

// Disconnect stops the channel and waits for the session goroutine to exit.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Channel) manage(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	resumed := false
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.log.Error("event channel unavailable", "url", c.url, "error", err)
			}
			c.closed(err)
			return
		}
		if c.onOpen != nil {
			c.onOpen(resumed)
		}

		err = c.session(ctx, conn)
		if ctx.Err() != nil {
			c.closed(nil)
			return
		}
		c.log.Warn("event channel dropped", "url", c.url, "error", err)
		resumed = true
	}
}

func (c *Channel) closed(err error) {
	if c.onClose != nil {
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		c.onClose(err)
	}
}

// dial attempts the websocket handshake up to the reconnect budget with a
// fixed delay between attempts.
func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= c.reconnectBudget; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		c.log.Warn("event channel dial failed",
			"url", c.url,
			"attempt", attempt,
			"budget", c.reconnectBudget,
			"error", err,
		)
		if attempt == c.reconnectBudget {
			break
		}

		timer := time.NewTimer(c.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("dial after %d attempts: %w", c.reconnectBudget, lastErr)
}

// session pumps frames from one live connection until it breaks.
func (c *Channel) session(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Close unblocks the read loop when the context ends.
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	go c.keepalive(sessionCtx, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		event, err := decodeFrame(raw)
		if err != nil {
			c.log.Warn("frame dropped", "error", err)
			if c.onFrameDropped != nil {
				c.onFrameDropped()
			}
			continue
		}
		if event.Type == domain.EventPong {
			continue
		}
		if c.handler != nil {
			c.handler(event)
		}
	}
}

func (c *Channel) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				c.log.Warn("keepalive write failed", "error", err)
				return
			}
		}
	}
}
