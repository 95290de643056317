package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"chat-sync/internal/chat"
	"chat-sync/internal/dto"
	"chat-sync/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	module = "wsclient"

	defaultPingInterval = 30 * time.Second
	defaultMinBackoff   = 500 * time.Millisecond
	defaultMaxBackoff   = 30 * time.Second
	dialTimeout         = 10 * time.Second
	writeWait           = 10 * time.Second
	sendBuffer          = 32
	readLimit           = 512 * 1024
)

var (
	ErrNotConnected = errors.New("wsclient: not connected")

	errAlreadyConnected = errors.New("wsclient: already connected")
)

type Config struct {
	URL          string
	Token        string
	Dialer       *websocket.Dialer
	Logger       logger.ILogger
	PingInterval time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
}

// Client is a chat.Channel over a gorilla websocket connection. A connection
// lost without Disconnect is re-established in the background with
// exponential backoff.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	log    logger.ILogger

	mu           sync.Mutex
	conn         *connection
	stop         chan struct{}
	closed       bool
	reconnecting bool
	nextID       chat.HandlerID
	handlers     map[string]map[chat.HandlerID]chat.Handler
}

var _ chat.Channel = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		cfg:      cfg,
		dialer:   dialer,
		log:      log,
		closed:   true,
		handlers: make(map[string]map[chat.HandlerID]chat.Handler),
	}
}

// connection is one dialed socket with its goroutines.
type connection struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	wmu  sync.Mutex
}

func (cn *connection) close() {
	cn.once.Do(func() {
		close(cn.done)
		cn.ws.Close()
	})
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if c.closed {
		c.closed = false
		c.stop = make(chan struct{})
	}
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		if errors.Is(err, errAlreadyConnected) {
			return nil
		}
		return err
	}
	c.dispatch(chat.EventConnect, nil)
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	ws, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("wsclient: dial %s: %s: %w", c.cfg.URL, resp.Status, err)
		}
		return fmt.Errorf("wsclient: dial %s: %w", c.cfg.URL, err)
	}

	cn := &connection{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return ErrNotConnected
	}
	if c.conn != nil {
		c.mu.Unlock()
		ws.Close()
		return errAlreadyConnected
	}
	c.conn = cn
	c.mu.Unlock()

	go c.readMessages(cn)
	go c.writeMessages(cn)
	go c.keepAlive(cn)

	c.log.Info(module, "connected", map[string]interface{}{"url": c.cfg.URL})
	return nil
}

// Disconnect closes the connection and stops reconnecting.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	cn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if cn == nil {
		return nil
	}
	cn.wmu.Lock()
	_ = cn.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	cn.wmu.Unlock()
	cn.close()

	c.dispatch(chat.EventDisconnect, nil)
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Emit queues an event for the writer. It fails immediately when there is
// no connection.
func (c *Client) Emit(ctx context.Context, event string, payload interface{}) error {
	env, err := dto.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("wsclient: marshal envelope: %w", err)
	}

	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn == nil {
		return ErrNotConnected
	}

	select {
	case cn.send <- data:
		return nil
	case <-cn.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) On(event string, h chat.Handler) chat.HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[chat.HandlerID]chat.Handler)
	}
	c.handlers[event][c.nextID] = h
	return c.nextID
}

func (c *Client) Off(event string, ids ...chat.HandlerID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(ids) == 0 {
		delete(c.handlers, event)
		return
	}
	for _, id := range ids {
		delete(c.handlers[event], id)
	}
	if len(c.handlers[event]) == 0 {
		delete(c.handlers, event)
	}
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	registered := c.handlers[event]
	ids := make([]chat.HandlerID, 0, len(registered))
	for id := range registered {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	hs := make([]chat.Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, registered[id])
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(data)
	}
}

func (c *Client) readMessages(cn *connection) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error(module, "recovered from panic in reader", map[string]interface{}{"panic": r})
		}
		c.connectionLost(cn)
	}()

	pongWait := 2 * c.cfg.PingInterval
	cn.ws.SetReadLimit(readLimit)
	_ = cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	cn.ws.SetPongHandler(func(string) error {
		return cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := cn.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug(module, "read failed", map[string]interface{}{"error": err})
			}
			return
		}
		_ = cn.ws.SetReadDeadline(time.Now().Add(pongWait))

		var env dto.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.log.Warn(module, "dropping malformed frame", map[string]interface{}{"error": err})
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

func (c *Client) writeMessages(cn *connection) {
	defer cn.close()

	for {
		select {
		case <-cn.done:
			return
		case data := <-cn.send:
			cn.wmu.Lock()
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := cn.ws.WriteMessage(websocket.TextMessage, data)
			cn.wmu.Unlock()
			if err != nil {
				c.log.Debug(module, "write failed", map[string]interface{}{"error": err})
				return
			}
		}
	}
}

func (c *Client) keepAlive(cn *connection) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cn.done:
			return
		case <-ticker.C:
			cn.wmu.Lock()
			err := cn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			cn.wmu.Unlock()
			if err != nil {
				c.log.Debug(module, "ping failed", map[string]interface{}{"error": err})
				cn.close()
				return
			}
		}
	}
}

func (c *Client) connectionLost(cn *connection) {
	cn.close()

	c.mu.Lock()
	if c.conn != cn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	reconnect := !c.closed && !c.reconnecting
	if reconnect {
		c.reconnecting = true
	}
	stop := c.stop
	c.mu.Unlock()

	c.log.Warn(module, "connection lost", map[string]interface{}{"reconnect": reconnect})
	c.dispatch(chat.EventDisconnect, nil)
	if reconnect {
		go c.reconnect(stop)
	}
}

func (c *Client) reconnect(stop <-chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	backoff := c.cfg.MinBackoff
	for attempt := 1; ; attempt++ {
		select {
		case <-stop:
			return
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		err := c.dial(ctx)
		cancel()
		if err == nil {
			c.dispatch(chat.EventConnect, nil)
			return
		}
		if errors.Is(err, ErrNotConnected) || errors.Is(err, errAlreadyConnected) {
			return
		}

		c.log.Warn(module, "reconnect failed", map[string]interface{}{
			"attempt": attempt,
			"backoff": backoff.String(),
			"error":   err,
		})
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}
