package websocket

import (
	"context"
	"encoding/json"
	"time"

	"chat-sync/internal/dto"
	"chat-sync/internal/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval
	readLimit    = 64 * 1024
	sendBuffer   = 32
)

type WSClient struct {
	ID    string
	Actor model.Actor

	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter

	// joined is only touched by readMessages.
	joined map[string]struct{}
}

func newClient(conn *websocket.Conn, actor model.Actor, limiter *rate.Limiter) *WSClient {
	return &WSClient{
		ID:      uuid.NewString(),
		Actor:   actor,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		limiter: limiter,
		joined:  make(map[string]struct{}),
	}
}

func (cl *WSClient) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			return
		case <-ticker.C:
			if err := cl.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// writeMessages drains send until the hub closes it.
func (cl *WSClient) writeMessages() {
	defer cl.conn.Close()

	for data := range cl.send {
		_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = cl.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
}

func (cl *WSClient) readMessages(h *Handler) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error(module, "recovered from panic in reader", map[string]interface{}{"panic": r, "client": cl.ID})
		}
		close(cl.done)
		h.hub.Unregister(cl)
		h.log.Debug(module, "client disconnected", map[string]interface{}{"client": cl.ID, "actorId": cl.Actor.ID})
	}()

	cl.conn.SetReadLimit(readLimit)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.log.Debug(module, "read failed", map[string]interface{}{"client": cl.ID, "error": err})
			}
			return
		}
		_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !cl.limiter.Allow() {
			h.reject(cl, "rate_limited", "too many events")
			continue
		}

		var env dto.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			h.reject(cl, "malformed", "malformed frame")
			continue
		}
		h.handleEvent(context.Background(), cl, env)
	}
}
