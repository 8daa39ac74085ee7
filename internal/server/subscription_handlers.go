package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/mdouchement/chestsync/internal/hub"
	"github.com/mdouchement/chestsync/internal/server/serializer"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fastjson"
)

const (
	// DefaultPingInterval is the default keepalive period of a subscription.
	DefaultPingInterval = 30 * time.Second
	writeTimeout        = 10 * time.Second
	maxMessageSize      = 4096
)

// Client message types.
const (
	clientPing = "ping"
	clientPong = "pong"
	clientAck  = "ack"
)

type subscription struct {
	hub          *hub.Hub
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

func newSubscription(h *hub.Hub, pingInterval time.Duration) *subscription {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}

	return &subscription{
		hub:          h,
		pingInterval: pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 * 1024,
			// Access is granted by the ingest token, not the origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Count returns the number of live subscribers of the structure.
func (h *subscription) Count(c echo.Context) error {
	tenantID := currentTenant(c)

	return c.JSON(http.StatusOK, echo.Map{
		"structure_id": tenantID,
		"subscribers":  h.hub.TenantCount(tenantID),
	})
}

// Subscribe upgrades the request to a WebSocket and streams the structure's chest updates.
// Messages are sent in this order: connected, full_state, then chest_update and ping.
func (h *subscription) Subscribe(c echo.Context) error {
	tenantID := currentTenant(c)

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil // The upgrader already replied.
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := h.hub.Subscribe(ctx, tenantID, c.QueryParam("client_id"))
	if err != nil {
		logrus.WithError(err).WithField("structure", tenantID).Error("could not subscribe")
		closeWith(conn, websocket.CloseInternalServerErr, "could not load state")
		return nil
	}
	defer h.hub.Unsubscribe(sub)

	log := logrus.WithFields(logrus.Fields{
		"structure":  tenantID,
		"connection": sub.ID,
	})

	if err = write(conn, hub.NewConnected(sub.ID, tenantID)); err != nil {
		return nil
	}

	replies := make(chan hub.Message, 4)
	go h.read(ctx, cancel, conn, replies, log)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			code, reason := closeCode(sub.Err())
			log.WithField("reason", reason).Info("subscription closed by hub")
			closeWith(conn, code, reason)
			return nil
		case m := <-sub.Messages():
			if err = write(conn, m); err != nil {
				log.WithError(err).Debug("could not write message")
				return nil
			}
		case m := <-replies:
			if err = write(conn, m); err != nil {
				return nil
			}
		case now := <-ticker.C:
			_ = conn.WriteControl(websocket.PingMessage, nil, now.Add(writeTimeout))
			if err = write(conn, hub.NewPing(now)); err != nil {
				return nil
			}
		}
	}
}

// read consumes client messages until the connection fails or goes silent.
func (h *subscription) read(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, replies chan<- hub.Message, log *logrus.Entry) {
	defer cancel()

	deadline := func() {
		_ = conn.SetReadDeadline(time.Now().Add(2*h.pingInterval + writeTimeout))
	}

	conn.SetReadLimit(maxMessageSize)
	deadline()
	conn.SetPongHandler(func(string) error {
		deadline()
		return nil
	})

	var p fastjson.Parser
	for {
		op, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("subscription read failed")
			}
			return
		}
		deadline()

		if op != websocket.TextMessage {
			continue
		}

		v, err := p.ParseBytes(data)
		if err != nil {
			continue
		}

		switch string(v.GetStringBytes("type")) {
		case clientPing:
			select {
			case replies <- &pong{Type: clientPong, Timestamp: time.Now().UTC()}:
			case <-ctx.Done():
				return
			default:
			}
		case clientPong:
		case clientAck:
			log.WithField("ack", string(v.GetStringBytes("message_type"))).Debug("client ack")
		}
	}
}

type pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *pong) MessageType() string { return m.Type }

func write(conn *websocket.Conn, m hub.Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(serializer.Message(m))
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func closeCode(err error) (int, string) {
	switch {
	case errors.Is(err, hub.ErrSlowConsumer):
		return websocket.ClosePolicyViolation, err.Error()
	case errors.Is(err, hub.ErrReplaced):
		return websocket.CloseNormalClosure, err.Error()
	case errors.Is(err, hub.ErrHubClosed):
		return websocket.CloseGoingAway, err.Error()
	default:
		return websocket.CloseNormalClosure, "bye"
	}
}
