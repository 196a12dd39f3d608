package ws

import (
	"context"
	"errors"
	nethttp "net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"warzone2044/server"
	"warzone2044/server/internal/net/proto"
	"warzone2044/server/internal/registry"
	"warzone2044/server/logging"
	networklog "warzone2044/server/logging/network"
)

// HandlerConfig tunes the per-connection transport.
type HandlerConfig struct {
	Logger    *zap.Logger
	Publisher logging.Publisher

	// QueueSize bounds each session's outbound queue.
	QueueSize int
	// MessageRate and MessageBurst bound inbound intents per connection.
	MessageRate  float64
	MessageBurst int
}

// Handler upgrades HTTP requests to websocket sessions and runs each
// connection's read loop against the hub.
type Handler struct {
	hub      *server.Hub
	logger   *zap.Logger
	pub      logging.Publisher
	upgrader websocket.Upgrader

	queueSize    int
	messageRate  rate.Limit
	messageBurst int
}

// NewHandler builds a websocket handler over the hub.
func NewHandler(hub *server.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = logging.NopPublisher()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = server.DefaultQueueSize
	}
	messageRate := cfg.MessageRate
	if messageRate <= 0 {
		messageRate = 60
	}
	messageBurst := cfg.MessageBurst
	if messageBurst <= 0 {
		messageBurst = 120
	}

	return &Handler{
		hub:    hub,
		logger: logger,
		pub:    pub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
		queueSize:    queueSize,
		messageRate:  rate.Limit(messageRate),
		messageBurst: messageBurst,
	}
}

// Handle upgrades the request and serves the connection until it drops.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	session := NewSession(conn, h.queueSize)
	playerID, err := h.hub.Connect(session)
	if err != nil {
		h.logger.Error("session registration failed", zap.Error(err))
		session.Close()
		return
	}
	h.logger.Info("session connected", zap.String("playerId", playerID))

	h.readLoop(conn, session, playerID)
}

func (h *Handler) readLoop(c *websocket.Conn, session *Session, playerID string) {
	limiter := rate.NewLimiter(h.messageRate, h.messageBurst)
	for {
		_, payload, err := c.ReadMessage()
		if err != nil {
			h.hub.Disconnect(playerID, "transport error")
			session.Close()
			return
		}

		if !limiter.Allow() {
			networklog.RateLimited(context.Background(), h.pub, logging.PlayerRef(playerID))
			h.sendError(session, "rate limited")
			continue
		}

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			h.hub.RecordProtocolError()
			networklog.ProtocolError(context.Background(), h.pub, logging.PlayerRef(playerID), networklog.ProtocolErrorPayload{
				Reason: err.Error(),
			})
			h.sendError(session, err.Error())
			continue
		}

		if err := h.dispatch(playerID, msg); err != nil {
			if errors.Is(err, registry.ErrUnknownSession) {
				// The session raced a disconnect. Disconnect again to
				// release any surviving subscriber slot; it no-ops when
				// cleanup already ran.
				h.hub.Disconnect(playerID, "session gone")
				session.Close()
				return
			}
			h.sendError(session, err.Error())
		}
	}
}

func (h *Handler) dispatch(playerID string, msg proto.ClientMessage) error {
	switch msg.Type {
	case proto.TypeMove:
		return h.hub.HandleMove(playerID, *msg.X, *msg.Y)
	case proto.TypeShoot:
		return h.hub.HandleShoot(playerID, *msg.X, *msg.Y, *msg.Angle)
	case proto.TypeRespawn:
		// Respawn position is authoritative; client coordinates are
		// accepted on the wire and ignored.
		return h.hub.HandleRespawn(playerID)
	default:
		return proto.ErrUnknownType
	}
}

func (h *Handler) sendError(session *Session, message string) {
	payload, err := proto.Encode(proto.NewError(message))
	if err != nil {
		return
	}
	session.Send(payload, true)
}
