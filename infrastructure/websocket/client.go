package websocket

import (
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// client is the Delivery of one socket. Deliver only enqueues; writePump owns the socket writes.
type client struct {
	conn     *websocket.Conn
	log      *slog.Logger
	settings Settings
	send     chan event.Outbound
	done     chan struct{}
	once     sync.Once
}

func newClient(conn *websocket.Conn, log *slog.Logger, settings Settings) *client {
	return &client{
		conn:     conn,
		log:      log,
		settings: settings,
		send:     make(chan event.Outbound, settings.BufferSize),
		done:     make(chan struct{}),
	}
}

// Deliver waits for buffer room until ctx ends, so a slow reader surfaces as a delivery failure.
func (c *client) Deliver(ctx context.Context, e event.Outbound) error {
	select {
	case <-c.done:
		return errors.ErrConnectionClosed
	default:
	}
	select {
	case c.send <- e:
		return nil
	case <-c.done:
		return errors.ErrConnectionClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errors.ErrDelivery, ctx.Err())
	}
}

func (c *client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.settings.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case e := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			if err := c.conn.WriteJSON(toFrame(e)); err != nil {
				c.log.Debug("Write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.drain()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.settings.WriteWait))
			return
		}
	}
}

// drain flushes events queued before close, such as the error that caused it.
func (c *client) drain() {
	for {
		select {
		case e := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			if err := c.conn.WriteJSON(toFrame(e)); err != nil {
				return
			}
		default:
			return
		}
	}
}
