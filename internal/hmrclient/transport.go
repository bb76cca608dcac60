package hmrclient

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/hotswap/internal/errors"
	"github.com/conneroisu/hotswap/internal/hmr"
)

const (
	writeTimeout = 10 * time.Second
	readLimit    = 16 << 20
)

// Conn is a live websocket session feeding a Runtime.
type Conn struct {
	conn    *websocket.Conn
	runtime *Runtime

	done      chan struct{}
	closeOnce sync.Once
	mutex     sync.Mutex
	err       error
}

// Dial connects rt to the hot-update endpoint at url. It sends the
// handshake, opens the runtime's outbox and posts every inbound message to
// the runtime's scheduler until the connection ends.
func Dial(ctx context.Context, url string, rt *Runtime) (*Conn, error) {
	wsConn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, errors.ErrCodeInternalError, "cannot connect to "+url)
	}
	wsConn.SetReadLimit(readLimit)

	c := &Conn{
		conn:    wsConn,
		runtime: rt,
		done:    make(chan struct{}),
	}

	handshake, err := hmr.Encode(rt.Handshake())
	if err != nil {
		wsConn.CloseNow()
		return nil, err
	}
	if err := c.Send(handshake); err != nil {
		wsConn.CloseNow()
		return nil, err
	}
	if err := rt.outbox.Open(c); err != nil {
		wsConn.CloseNow()
		return nil, err
	}

	go c.readLoop(context.WithoutCancel(ctx))
	return c, nil
}

// Send implements Sender.
func (c *Conn) Send(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.finish(err)
			return
		}
		c.runtime.scheduler.Post(func() { c.runtime.HandleRaw(data) })
	}
}

func (c *Conn) finish(err error) {
	c.closeOnce.Do(func() {
		c.runtime.outbox.Close()

		c.mutex.Lock()
		if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
			c.err = err
		}
		c.mutex.Unlock()

		close(c.done)
	})
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, or nil after a normal close.
func (c *Conn) Err() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.err
}

// Close ends the session. Later outbound messages are queued again.
func (c *Conn) Close() error {
	c.finish(nil)
	return c.conn.Close(websocket.StatusNormalClosure, "client closing")
}
