// Package websocket exposes the gateway over WebSocket connections.
package websocket

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Gateway is the part of the gateway the transport drives.
type Gateway interface {
	Connect(delivery contract.Delivery) domain.ConnectionID
	Dispatch(ctx context.Context, connID domain.ConnectionID, cmd domain.Command) error
	Disconnect(connID domain.ConnectionID) error
}

type Settings struct {
	BufferSize   int
	ReadLimit    int64
	PongWait     time.Duration
	PingInterval time.Duration
	WriteWait    time.Duration
	// ReplyTimeout bounds transport-level error replies.
	ReplyTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		BufferSize:   64,
		ReadLimit:    16 * 1024,
		PongWait:     60 * time.Second,
		PingInterval: 54 * time.Second,
		WriteWait:    10 * time.Second,
		ReplyTimeout: time.Second,
	}
}

type Handler struct {
	gateway  Gateway
	provider contract.IdentityProvider
	log      *slog.Logger
	settings Settings
	upgrader websocket.Upgrader
}

func NewHandler(gateway Gateway, provider contract.IdentityProvider, log *slog.Logger, settings Settings) *Handler {
	return &Handler{
		gateway:  gateway,
		provider: provider,
		log:      log,
		settings: settings,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP upgrades the request. A token in the Authorization header or the
// token query parameter binds the identity right away; otherwise the client
// must send an authenticate frame.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var identity domain.Identity
	token := auth.BearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token != "" {
		verified, err := h.provider.Verify(token)
		if err != nil {
			h.log.Debug("Upgrade refused", "error", err)
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		identity = verified
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Upgrade failed", "error", err)
		return
	}

	c := newClient(conn, h.log, h.settings)
	connID := h.gateway.Connect(c)
	log := h.log.With("connection", connID, "remote", r.RemoteAddr)
	log.Info("Socket connected")
	go c.writePump()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		if err := h.gateway.Disconnect(connID); err != nil {
			log.Debug("Disconnect", "error", err)
		}
		log.Info("Socket disconnected")
	}()

	if !identity.IsZero() {
		_ = h.gateway.Dispatch(ctx, connID, domain.AuthenticateCommand{Identity: identity})
	}
	h.readPump(ctx, conn, c, connID, log)
}

func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, c *client, connID domain.ConnectionID, log *slog.Logger) {
	conn.SetReadLimit(h.settings.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(h.settings.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.settings.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("Unexpected close", "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.reject(ctx, c, fmt.Errorf("%w: malformed json", errors.ErrInvalidCommand), "")
			continue
		}
		if err := validate.Struct(frame); err != nil {
			h.reject(ctx, c, fmt.Errorf("%w: %w", errors.ErrInvalidCommand, err), domain.RoomID(frame.RoomID))
			continue
		}

		var cmd domain.Command
		if frame.Type == "authenticate" {
			identity, err := h.provider.Verify(frame.Token)
			if err != nil {
				h.reject(ctx, c, err, "")
				continue
			}
			cmd = domain.AuthenticateCommand{Identity: identity}
		} else {
			cmd = frame.command()
		}
		// Rejections are already reported to the client by the gateway.
		_ = h.gateway.Dispatch(ctx, connID, cmd)
	}
}

func (h *Handler) reject(ctx context.Context, c *client, err error, room domain.RoomID) {
	replyCtx, cancel := context.WithTimeout(ctx, h.settings.ReplyTimeout)
	defer cancel()
	_ = c.Deliver(replyCtx, event.Rejected{Code: errors.Code(err), Message: err.Error(), Room: room})
}
