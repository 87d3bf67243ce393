package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/smartsafety/safetyvision/internal/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMsgSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Non-browser clients omit Origin.
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// wsSubscriber adapts a websocket connection to alerting.Subscriber.
type wsSubscriber struct {
	id   string
	conn *websocket.Conn

	writeMu   sync.Mutex // gorilla allows one concurrent writer
	closeOnce sync.Once
}

func newWSSubscriber(conn *websocket.Conn) *wsSubscriber {
	return &wsSubscriber{id: uuid.NewString(), conn: conn}
}

func (s *wsSubscriber) ID() string { return s.id }

// Send writes one text frame. The write deadline follows ctx, or wsWriteWait
// when ctx has none.
func (s *wsSubscriber) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(wsWriteWait)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

type echoFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// HandleWebSocket handles GET /ws. The connection receives every broadcast
// envelope until it disconnects or a send to it fails.
func (c *Controller) HandleWebSocket(ctx echo.Context) error {
	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		c.log.Warn("websocket upgrade failed", logger.Error(err))
		// Upgrade has already written the HTTP error.
		return nil
	}

	sub := newWSSubscriber(conn)
	hub := c.Dispatcher.Hub()
	hub.Add(sub)
	c.log.Info("websocket client connected",
		logger.String("subscriber_id", sub.ID()),
		logger.String("remote", ctx.RealIP()))

	done := make(chan struct{})
	defer func() {
		close(done)
		hub.Remove(sub)
		_ = sub.Close()
		c.log.Info("websocket client disconnected", logger.String("subscriber_id", sub.ID()))
	}()

	go c.pingLoop(conn, done)

	conn.SetReadLimit(wsMaxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		if msgType != websocket.TextMessage {
			continue
		}
		reply, err := json.Marshal(echoFrame{Type: "echo", Message: string(msg)})
		if err != nil {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx.Request().Context(), wsWriteWait)
		err = sub.Send(sendCtx, reply)
		cancel()
		if err != nil {
			return nil
		}
	}
}

// pingLoop keeps the read deadline alive until done is closed.
func (c *Controller) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
