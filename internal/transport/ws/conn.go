// Package ws implements the WebSocket transport over gobwas/ws.
package ws

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/medisync/clinic-chat/internal/transport"
	"github.com/medisync/clinic-chat/pkg/logger"
)

// Conn is a live WebSocket connection to the chat server. Inbound text
// frames are delivered on Messages(); the channel closes when the read side
// ends. Reconnection is not attempted here.
type Conn struct {
	conn     net.Conn
	messages chan string
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
	writeMu  sync.Mutex
}

var _ transport.Transport = (*Conn)(nil)

// Dial connects to the server's WebSocket endpoint and starts the receive
// loop.
func Dial(ctx context.Context, url string) (*Conn, error) {
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Conn{
		conn:     conn,
		messages: make(chan string, 16),
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.receive()
	return c, nil
}

// Send writes one text frame to the server.
func (c *Conn) Send(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientText(c.conn, []byte(text)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Messages returns the inbound frame stream.
func (c *Conn) Messages() <-chan string {
	return c.messages
}

// Close sends a close frame, tears the connection down and waits for the
// receive loop to finish.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, nil)
		c.writeMu.Unlock()
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

func (c *Conn) receive() {
	defer c.wg.Done()
	defer close(c.messages)

	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
			default:
				logger.Log.Warn("websocket read failed, connection lost", zap.Error(err))
			}
			return
		}
		select {
		case c.messages <- string(data):
		case <-c.done:
			return
		}
	}
}
