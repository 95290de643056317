package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"chat-sync/internal/dto"
	internaljwt "chat-sync/internal/jwt"
	"chat-sync/internal/logger"
	"chat-sync/internal/model"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const module = "websocket"

// Authorizer decides whether an actor may join a session's room.
type Authorizer interface {
	Authorize(ctx context.Context, actor model.Actor, sessionID string) (model.ChatSession, error)
}

type HandlerOptions struct {
	AllowedOrigins   []string
	// EventRate and EventBurst bound inbound events per connection.
	EventRate        rate.Limit
	EventBurst       int
	AuthorizeTimeout time.Duration
	Logger           logger.ILogger
}

// Handler upgrades authenticated requests and routes channel events between
// connections, the hub and the broker.
type Handler struct {
	hub      *Hub
	broker   Broker
	auth     Authorizer
	issuer   *internaljwt.Issuer
	upgrader websocket.Upgrader
	opts     HandlerOptions
	log      logger.ILogger
}

func NewHandler(hub *Hub, broker Broker, auth Authorizer, issuer *internaljwt.Issuer, opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.EventRate <= 0 {
		opts.EventRate = 10
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = 20
	}
	if opts.AuthorizeTimeout <= 0 {
		opts.AuthorizeTimeout = 5 * time.Second
	}
	h := &Handler{
		hub:    hub,
		broker: broker,
		auth:   auth,
		issuer: issuer,
		opts:   opts,
		log:    opts.Logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run feeds broker events into the hub until ctx is done.
func (h *Handler) Run(ctx context.Context) error {
	return h.broker.Run(ctx, func(sessionID string, data []byte) {
		h.hub.Broadcast(sessionID, data)
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := internaljwt.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	actor, err := h.issuer.ParseToken(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug(module, "upgrade failed", map[string]interface{}{"error": err})
		return
	}

	cl := newClient(conn, actor, rate.NewLimiter(h.opts.EventRate, h.opts.EventBurst))
	if !h.hub.Register(cl) {
		conn.Close()
		return
	}

	h.log.Debug(module, "client connected", map[string]interface{}{
		"client":  cl.ID,
		"actorId": actor.ID,
		"role":    actor.Role,
	})

	go cl.keepAlive()
	go cl.writeMessages()
	go cl.readMessages(h)
}

func (h *Handler) handleEvent(ctx context.Context, cl *WSClient, env dto.Envelope) {
	switch env.Event {
	case dto.EventJoin:
		var ev dto.JoinEvent
		if err := dto.Decode(env.Data, &ev); err != nil {
			h.reject(cl, "invalid", "invalid join payload")
			return
		}
		if ev.ActorID != cl.Actor.ID {
			h.reject(cl, "forbidden", "actor does not match token")
			return
		}

		authCtx, cancel := context.WithTimeout(ctx, h.opts.AuthorizeTimeout)
		_, err := h.auth.Authorize(authCtx, cl.Actor, ev.SessionID)
		cancel()
		if err != nil {
			h.log.Debug(module, "join refused", map[string]interface{}{
				"client":    cl.ID,
				"sessionId": ev.SessionID,
				"error":     err,
			})
			h.reject(cl, "forbidden", "cannot join session")
			return
		}

		cl.joined[ev.SessionID] = struct{}{}
		h.hub.Join(cl, ev.SessionID)

	case dto.EventLeave:
		var ev dto.LeaveEvent
		if err := dto.Decode(env.Data, &ev); err != nil {
			h.reject(cl, "invalid", "invalid leave payload")
			return
		}
		delete(cl.joined, ev.SessionID)
		h.hub.Leave(cl, ev.SessionID)

	case dto.EventTyping:
		var ev dto.TypingEvent
		if err := dto.Decode(env.Data, &ev); err != nil {
			h.reject(cl, "invalid", "invalid typing payload")
			return
		}
		if _, ok := cl.joined[ev.SessionID]; !ok {
			h.reject(cl, "not_joined", "join the session first")
			return
		}
		ev.ActorID = cl.Actor.ID

		data, err := encodeEnvelope(dto.EventTyping, ev)
		if err != nil {
			return
		}
		if err := h.broker.Publish(ctx, ev.SessionID, data); err != nil {
			h.log.Warn(module, "typing relay failed", map[string]interface{}{"sessionId": ev.SessionID, "error": err})
		}

	default:
		h.reject(cl, "unknown_event", "unknown event "+env.Event)
	}
}

// reject counts the rejection and tells the client why.
func (h *Handler) reject(cl *WSClient, reason, message string) {
	h.hub.metrics.rejected.WithLabelValues(reason).Inc()
	data, err := encodeEnvelope(dto.EventError, dto.ErrorEvent{Message: message})
	if err != nil {
		return
	}
	h.hub.Send(cl, data)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
