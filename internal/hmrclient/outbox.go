package hmrclient

import (
	"sync"

	"github.com/conneroisu/hotswap/internal/hmr"
)

// Sender writes one encoded message to the connection.
type Sender interface {
	Send(data []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(data []byte) error

func (f SenderFunc) Send(data []byte) error { return f(data) }

// Outbox queues outbound messages until a connection opens, then sends
// directly. Queued messages are delivered in submission order before any
// later message.
type Outbox struct {
	mutex  sync.Mutex
	queue  [][]byte
	sender Sender
}

// NewOutbox creates a closed outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// Send encodes msg and sends or queues it.
func (o *Outbox) Send(msg hmr.Message) error {
	data, err := hmr.Encode(msg)
	if err != nil {
		return err
	}

	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.sender == nil {
		o.queue = append(o.queue, data)
		return nil
	}
	return o.sender.Send(data)
}

// Open drains the queue through sender and switches to direct sends. On a
// send error the unsent remainder stays queued and the outbox stays closed.
func (o *Outbox) Open(sender Sender) error {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	for len(o.queue) > 0 {
		if err := sender.Send(o.queue[0]); err != nil {
			return err
		}
		o.queue[0] = nil
		o.queue = o.queue[1:]
	}
	o.queue = nil
	o.sender = sender
	return nil
}

// Close returns the outbox to queueing.
func (o *Outbox) Close() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.sender = nil
}

// IsOpen reports whether messages are sent directly.
func (o *Outbox) IsOpen() bool {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.sender != nil
}

// Queued returns the number of messages waiting for Open.
func (o *Outbox) Queued() int {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return len(o.queue)
}
