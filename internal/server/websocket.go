package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/hotswap/internal/bundler"
	"github.com/conneroisu/hotswap/internal/engine"
	"github.com/conneroisu/hotswap/internal/errors"
	"github.com/conneroisu/hotswap/internal/hmr"
	"github.com/conneroisu/hotswap/internal/logging"
	"github.com/conneroisu/hotswap/internal/reporting"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Send pings to peer with this period
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer. Module registration lists
	// can be large.
	maxMessageSize = 1 << 20

	// Messages a client may have pending before it is disconnected.
	defaultSendQueueSize = 256
)

// Client is one hot-update connection.
type Client struct {
	id          uint64
	conn        *websocket.Conn
	server      *Server
	logger      logging.Logger
	connectedAt time.Time

	send chan []byte
	done chan struct{}

	// sendMutex serializes every dispatch to this client, so an update and
	// its update-done are adjacent in the stream.
	sendMutex sync.Mutex
	closeOnce sync.Once
	dropped   atomic.Bool

	invalidations *SlidingWindowRateLimiter

	mutex    sync.Mutex
	closed   bool
	instance *bundler.Instance
	platform string
	modules  map[string]struct{}
}

// ClientInfo is a status snapshot of a connection.
type ClientInfo struct {
	ID          uint64    `json:"id"`
	Bundle      string    `json:"bundle,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	Modules     int       `json:"modules"`
	ConnectedAt time.Time `json:"connected_at"`
}

// handleHot upgrades the request and serves one hot-update client until
// the connection closes.
func (s *Server) handleHot(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	// Requests without an Origin header (native runtimes) are accepted.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	id := s.nextClientID.Add(1)
	client := &Client{
		id:          id,
		conn:        conn,
		server:      s,
		logger:      s.logger.With("client", id),
		connectedAt: time.Now(),
		send:        make(chan []byte, s.sendQueueSize),
		done:        make(chan struct{}),
		modules:     make(map[string]struct{}),

		invalidations: NewSlidingWindowRateLimiter(s.config.Server.InvalidateLimit, s.config.Server.InvalidateWindow),
	}
	s.addClient(client)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	go client.writePump(ctx)
	client.readPump(ctx)
}

func (s *Server) originPatterns() []string {
	patterns := make([]string, 0, len(s.config.Server.AllowedOrigins))
	for _, origin := range s.config.Server.AllowedOrigins {
		patterns = append(patterns, hostOf(origin))
	}
	return patterns
}

// readPump decodes and dispatches client messages until the connection
// fails. Malformed messages are answered with an error and do not close
// the connection.
func (c *Client) readPump(ctx context.Context) {
	defer c.close("read loop ended")

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 {
				c.logger.Debug(ctx, "WebSocket read ended", "error", err.Error())
			}
			return
		}
		c.handleMessage(ctx, data)
	}
}

// writePump drains the send queue and keeps the connection alive.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.logger.Warn(ctx, err, "WebSocket write failed")
				c.close("write failed")
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.close("ping failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, data []byte) {
	msg, err := hmr.Decode(data)
	if err != nil {
		c.logger.Warn(ctx, err, "Malformed client message")
		c.dispatch(hmr.NewError(err))
		return
	}

	switch m := msg.(type) {
	case hmr.Connected:
		c.connect(ctx, m)
	case hmr.ModuleRegistered:
		c.mutex.Lock()
		for _, id := range m.Modules {
			c.modules[id] = struct{}{}
		}
		total := len(c.modules)
		c.mutex.Unlock()
		c.logger.Debug(ctx, "Modules registered", "count", len(m.Modules), "total", total)
	case hmr.Invalidate:
		c.invalidate(ctx, m.ModuleID)
	case hmr.Log:
		c.server.reporter.Report(reporting.Event{
			Type:     reporting.ClientLog,
			ClientID: c.id,
			Level:    m.Level,
			Data:     m.Data,
		})
	case hmr.Opaque:
		c.server.emitCustom(c.id, m)
	default:
		c.logger.Debug(ctx, "Ignoring server-bound message type", "type", msg.MessageType())
	}
}

// connect binds the client to the instance for its bundle entry, leaving
// any previous instance.
func (c *Client) connect(ctx context.Context, m hmr.Connected) {
	if err := validateTarget(m.BundleEntry, m.Platform); err != nil {
		c.logger.Warn(ctx, err, "Rejected handshake", "bundle", m.BundleEntry, "platform", m.Platform)
		c.dispatch(hmr.NewError(err))
		return
	}

	inst, err := c.server.pool.Get(ctx, m.BundleEntry, c.server.buildOptions(m.Platform, true))
	if err != nil {
		c.logger.Warn(ctx, err, "Cannot bind client", "bundle", m.BundleEntry)
		c.dispatch(hmr.NewError(err))
		return
	}

	// Binding happens under the client mutex so a concurrent close either
	// sees the new instance in detach or stops the bind here.
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	previous := c.instance
	c.instance = inst
	c.platform = m.Platform
	inst.Bind(c.id, c)
	c.mutex.Unlock()

	if previous != nil && previous != inst {
		previous.Unbind(c.id)
	}
	c.logger.Info(ctx, "Client bound", "bundle", m.BundleEntry, "platform", m.Platform, "key", inst.Key())
}

func (c *Client) invalidate(ctx context.Context, moduleID string) {
	c.mutex.Lock()
	inst := c.instance
	c.mutex.Unlock()

	if inst == nil {
		err := errors.NewProtocolError(errors.ErrCodeNotBound, "invalidate before connected", nil)
		c.dispatch(hmr.NewError(err))
		return
	}
	if !c.invalidations.IsAllowed() {
		retry := c.invalidations.RetryAfter()
		c.logger.Warn(ctx, nil, "Invalidate rate limited", "module", moduleID, "retry_after", retry)
		err := errors.NewProtocolError(errors.ErrCodeRateLimited,
			fmt.Sprintf("too many invalidate requests, retry in %s", retry.Round(time.Millisecond)), nil)
		c.dispatch(hmr.NewError(err))
		return
	}
	if err := inst.Invalidate(ctx, moduleID); err != nil {
		c.logger.Warn(ctx, err, "Invalidate failed", "module", moduleID)
		c.dispatch(hmr.NewError(err))
	}
}

// UpdateStart implements bundler.Listener.
func (c *Client) UpdateStart(paths []string) {
	c.dispatch(hmr.UpdateStart{})
}

// Updates implements bundler.Listener.
func (c *Client) Updates(batch engine.UpdateBatch) {
	msgs := make([]hmr.Message, 0, 2*len(batch))
	for _, u := range batch {
		switch u.Kind {
		case engine.Patch:
			msgs = append(msgs, hmr.Update{Code: u.Payload}, hmr.UpdateDone{})
		case engine.FullReload:
			msgs = append(msgs, hmr.Reload{})
		case engine.Noop:
			c.logger.Debug(context.Background(), "No-op update", "module", u.ModuleID)
		}
	}
	c.dispatch(msgs...)
}

// BuildFailed implements bundler.Listener.
func (c *Client) BuildFailed(err error) {
	c.dispatch(hmr.NewError(err))
}

// dispatch queues msgs as one uninterrupted run without blocking. A client
// whose queue is full is disconnected rather than sent a stream with gaps.
// Messages for a closed client are dropped.
func (c *Client) dispatch(msgs ...hmr.Message) {
	if len(msgs) == 0 {
		return
	}

	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	for _, msg := range msgs {
		data, err := hmr.Encode(msg)
		if err != nil {
			c.logger.Error(context.Background(), err, "Cannot encode message", "type", msg.MessageType())
			continue
		}
		select {
		case <-c.done:
			return
		default:
		}
		select {
		case c.send <- data:
		default:
			if c.dropped.CompareAndSwap(false, true) {
				c.logger.Warn(context.Background(), nil, "Send queue full, disconnecting client", "queued", len(c.send))
				c.server.reporter.Report(reporting.Event{
					Type:     reporting.ClientDropped,
					ClientID: c.id,
					Error:    "send queue full",
				})
				go c.closeWithStatus(websocket.StatusPolicyViolation, "send queue full")
			}
			return
		}
	}
}

// detach marks the client closed, clears the bound instance and returns it.
func (c *Client) detach() *bundler.Instance {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.closed = true
	inst := c.instance
	c.instance = nil
	return inst
}

func (c *Client) close(reason string) {
	c.closeWithStatus(websocket.StatusNormalClosure, reason)
}

func (c *Client) closeWithStatus(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.server.removeClient(c)
		c.conn.Close(code, reason)
	})
}

func (c *Client) info() ClientInfo {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	info := ClientInfo{
		ID:          c.id,
		Platform:    c.platform,
		Modules:     len(c.modules),
		ConnectedAt: c.connectedAt,
	}
	if c.instance != nil {
		info.Bundle = c.instance.Key()
	}
	return info
}

// Clients returns a snapshot of connected clients in id order.
func (s *Server) Clients() []ClientInfo {
	clients := s.snapshotClients()
	out := make([]ClientInfo, len(clients))
	for i, c := range clients {
		out[i] = c.info()
	}
	return out
}
