package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"chat-sync/internal/dto"
	"chat-sync/internal/logger"
	"chat-sync/internal/model"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	moduleController = "chat.controller"

	defaultTypingInterval = 2 * time.Second
	rejoinTimeout         = 15 * time.Second
	maxCatchUpPages       = 20
	leaveTimeout          = 2 * time.Second
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateResolving     State = "resolving"
	StateJoined        State = "joined"
	StateTerminated    State = "terminated"
)

type Options struct {
	Actor   model.Actor
	API     API
	Channel *SharedChannel
	Logger  logger.ILogger
	Metrics *Metrics
	// TypingInterval is the minimum spacing between typing:true notifications.
	TypingInterval time.Duration
}

// Snapshot is a consistent copy of a controller's observable state.
type Snapshot struct {
	State         State
	Session       *model.ChatSession
	Messages      []model.ChatMessage
	HasMore       bool
	TypingActorID string
	Sending       bool
	LoadingMore   bool
	Joined        bool
}

type SendOption func(*sendOptions)

type sendOptions struct {
	replyTo     string
	contentType model.ContentType
}

func WithReplyTo(messageID string) SendOption {
	return func(o *sendOptions) {
		o.replyTo = messageID
	}
}

func WithContentType(ct model.ContentType) SendOption {
	return func(o *sendOptions) {
		o.contentType = ct
	}
}

// controller is the state shared by the customer and operator controllers.
// Every field below mu is guarded by it. Network calls are made without the
// lock and their results are applied only while generation is unchanged.
type controller struct {
	actor    model.Actor
	api      API
	channel  *SharedChannel
	resolver *SessionResolver
	log      logger.ILogger
	metrics  *Metrics
	typing   *rate.Limiter
	updates  chan struct{}

	mu          sync.Mutex
	state       State
	generation  uint64
	session     *model.ChatSession
	store       *MessageStore
	presence    *PresenceTracker
	sub         *Subscription
	acquired    bool
	joined      bool
	sending     bool
	loadingMore bool
}

func newController(opts Options) (*controller, error) {
	if opts.API == nil || opts.Channel == nil {
		return nil, NewError(ErrorCodeValidation, "controller requires an api and a channel", nil)
	}
	if opts.Actor.ID == "" || !opts.Actor.Role.Valid() {
		return nil, NewError(ErrorCodeValidation, "controller requires a valid actor", nil)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = defaultTypingInterval
	}
	return &controller{
		actor:    opts.Actor,
		api:      opts.API,
		channel:  opts.Channel,
		resolver: NewSessionResolver(opts.API, opts.Logger),
		log:      opts.Logger,
		metrics:  opts.Metrics,
		typing:   rate.NewLimiter(rate.Every(opts.TypingInterval), 1),
		updates:  make(chan struct{}, 1),
		state:    StateUninitialized,
		store:    NewMessageStore(),
		presence: NewPresenceTracker(),
	}, nil
}

// Updates signals after every state change. Signals coalesce; read Snapshot
// after receiving one.
func (c *controller) Updates() <-chan struct{} {
	return c.updates
}

func (c *controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:       c.state,
		Messages:    c.store.Messages(),
		HasMore:     c.store.HasMore(),
		Sending:     c.sending,
		LoadingMore: c.loadingMore,
		Joined:      c.joined,
	}
	if c.session != nil {
		s := *c.session
		snap.Session = &s
	}
	snap.TypingActorID, _ = c.presence.Typing()
	return snap
}

func (c *controller) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// current reports whether gen is still the active generation.
func (c *controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation
}

// beginResolve starts a new generation and tears down the previous session.
// It returns the id of the session that was left, if any.
func (c *controller) beginResolve() (uint64, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTerminated {
		return 0, "", ErrClosed
	}
	c.generation++
	prev := c.teardownLocked()
	c.state = StateResolving
	c.notify()
	return c.generation, prev, nil
}

func (c *controller) teardownLocked() string {
	if c.sub != nil {
		c.sub.Release()
		c.sub = nil
	}
	prev := ""
	if c.session != nil {
		prev = c.session.ID
	}
	c.session = nil
	c.store = NewMessageStore()
	c.presence.ClearTyping()
	c.joined = false
	c.sending = false
	c.loadingMore = false
	return prev
}

// fail returns an activation of gen to the uninitialized state.
func (c *controller) fail(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.state == StateTerminated {
		return
	}
	c.teardownLocked()
	c.state = StateUninitialized
	c.notify()
}

func (c *controller) ensureChannel(ctx context.Context) error {
	c.mu.Lock()
	acquired := c.acquired
	c.mu.Unlock()

	if acquired {
		return c.channel.Ensure(ctx)
	}
	if err := c.channel.Acquire(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acquired || c.state == StateTerminated {
		c.channel.Release()
		if c.state == StateTerminated {
			return ErrClosed
		}
		return nil
	}
	c.acquired = true
	return nil
}

// activate subscribes to session, joins it and seeds the timeline with the
// newest page. A superseded generation returns nil without touching state.
func (c *controller) activate(ctx context.Context, gen uint64, session model.ChatSession) error {
	ok := false
	defer func() {
		if !ok {
			c.fail(gen)
		}
	}()

	if err := c.ensureChannel(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.metrics.incStale()
		return nil
	}
	sub := Subscribe(c.channel.Channel())
	sub.On(dto.EventMessage, c.onMessage(gen))
	sub.On(dto.EventTyping, c.onTyping(gen))
	sub.On(dto.EventMessageReactionUpdated, c.onReaction(gen))
	sub.On(dto.EventSessionUpdated, c.onSessionUpdated(gen))
	sub.On(EventConnect, c.onConnect(gen))
	sub.On(EventDisconnect, c.onDisconnect(gen))
	c.sub = sub
	s := session
	c.session = &s
	c.store = NewMessageStore()
	c.mu.Unlock()

	if err := c.join(ctx, gen, session.ID); err != nil {
		return err
	}

	page, err := c.api.FetchMessages(ctx, session.ID, "")
	if err != nil {
		return requestError("fetch messages", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.metrics.incStale()
		return nil
	}
	live := c.store.Messages()
	c.store.Seed(page.Messages, page.Final)
	for _, m := range live {
		c.store.AppendLive(m)
	}
	c.state = StateJoined
	ok = true
	c.notify()

	c.log.Info(moduleController, "session joined", map[string]interface{}{
		"actorId":   c.actor.ID,
		"sessionId": session.ID,
		"messages":  c.store.Len(),
	})
	return nil
}

func (c *controller) join(ctx context.Context, gen uint64, sessionID string) error {
	ev := dto.JoinEvent{ActorID: c.actor.ID, SessionID: sessionID, Role: c.actor.Role}
	if err := c.channel.Channel().Emit(ctx, dto.EventJoin, ev); err != nil {
		return NewError(ErrorCodeConnectivity, "join session", err)
	}
	c.mu.Lock()
	if gen == c.generation {
		c.joined = true
		c.notify()
	}
	c.mu.Unlock()
	return nil
}

// leave is best-effort; a dropped connection leaves the room on its own.
func (c *controller) leave(ctx context.Context, sessionID string) {
	if sessionID == "" || !c.channel.Connected() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, leaveTimeout)
	defer cancel()

	ev := dto.LeaveEvent{ActorID: c.actor.ID, SessionID: sessionID}
	if err := c.channel.Channel().Emit(ctx, dto.EventLeave, ev); err != nil {
		c.log.Debug(moduleController, "leave not delivered", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err,
		})
	}
}

// activeLocked returns the joined session or ErrNoSession.
func (c *controller) activeLocked() (string, error) {
	if c.session == nil || c.state != StateJoined {
		return "", ErrNoSession
	}
	return c.session.ID, nil
}

func (c *controller) Send(ctx context.Context, content string, opts ...SendOption) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrBlankContent
	}
	o := sendOptions{contentType: model.ContentTypeText}
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	sessionID, err := c.activeLocked()
	if err != nil {
		c.mu.Unlock()
		c.log.Debug(moduleController, "send ignored without a joined session", nil)
		return nil
	}
	if c.sending {
		c.mu.Unlock()
		c.log.Debug(moduleController, "send ignored while another is in flight", nil)
		return nil
	}
	if !c.joined || !c.channel.Connected() {
		c.mu.Unlock()
		return ErrNotJoined
	}
	req := dto.SendMessageRequest{
		SessionID:       sessionID,
		Content:         content,
		ContentType:     o.contentType,
		ReplyToID:       o.replyTo,
		SenderID:        c.actor.ID,
		Role:            c.actor.Role,
		ClientMessageID: uuid.NewString(),
	}
	if err := dto.Validate(req); err != nil {
		c.mu.Unlock()
		return NewError(ErrorCodeValidation, "send message", err)
	}
	gen := c.generation
	c.sending = true
	c.notify()
	c.mu.Unlock()

	msg, err := c.api.SendMessage(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.metrics.incStale()
		if err != nil {
			return requestError("send message", err)
		}
		return nil
	}
	c.sending = false
	c.notify()
	if err != nil {
		return requestError("send message", err)
	}
	if msg != nil && msg.SessionID == sessionID {
		if c.store.AppendLive(*msg) {
			c.metrics.incApplied()
		} else {
			c.metrics.incDuplicate()
		}
	}
	return nil
}

// LoadMore fetches the page before the oldest loaded message. It is a no-op
// while a fetch is in flight or when the history is exhausted.
func (c *controller) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	sessionID, err := c.activeLocked()
	if err != nil || c.loadingMore || !c.store.HasMore() {
		c.mu.Unlock()
		return nil
	}
	gen := c.generation
	cursor := c.store.Cursor()
	c.loadingMore = true
	c.notify()
	c.mu.Unlock()

	page, err := c.api.FetchMessages(ctx, sessionID, cursor)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.metrics.incStale()
		c.log.Debug(moduleController, "history page discarded", map[string]interface{}{
			"sessionId": sessionID,
		})
		return nil
	}
	c.loadingMore = false
	c.notify()
	if err != nil {
		return requestError("load history", err)
	}
	c.store.PrependHistory(page.Messages)
	if page.Final {
		c.store.MarkExhausted()
	}
	return nil
}

// React toggles the actor's emoji on a message.
func (c *controller) React(ctx context.Context, messageID, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if messageID == "" || emoji == "" {
		return NewError(ErrorCodeValidation, "reaction requires a message and an emoji", nil)
	}
	req := dto.ToggleReactionRequest{Emoji: emoji, ReactorID: c.actor.ID}
	if err := dto.Validate(req); err != nil {
		return NewError(ErrorCodeValidation, "toggle reaction", err)
	}

	c.mu.Lock()
	sessionID, err := c.activeLocked()
	gen := c.generation
	c.mu.Unlock()
	if err != nil {
		return err
	}

	reactions, err := c.api.ToggleReaction(ctx, sessionID, messageID, req)
	if err != nil {
		return requestError("toggle reaction", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.metrics.incStale()
		return nil
	}
	if c.store.MergeReaction(messageID, reactions) {
		c.notify()
	}
	return nil
}

// NotifyTyping tells the other participant whether the actor is typing.
// typing:true is throttled; typing:false is always sent.
func (c *controller) NotifyTyping(ctx context.Context, typing bool) error {
	c.mu.Lock()
	sessionID, err := c.activeLocked()
	joined := c.joined
	c.mu.Unlock()
	if err != nil || !joined {
		return nil
	}
	if typing && !c.typing.Allow() {
		return nil
	}
	ev := dto.TypingEvent{SessionID: sessionID, ActorID: c.actor.ID, Typing: typing}
	if err := c.channel.Channel().Emit(ctx, dto.EventTyping, ev); err != nil {
		return NewError(ErrorCodeConnectivity, "notify typing", err)
	}
	return nil
}

// Close leaves the session and releases the shared channel. The controller
// cannot be used afterwards.
func (c *controller) Close() {
	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return
	}
	c.generation++
	prev := c.teardownLocked()
	c.state = StateTerminated
	acquired := c.acquired
	c.acquired = false
	c.notify()
	c.mu.Unlock()

	c.leave(context.Background(), prev)
	if acquired {
		c.channel.Release()
	}
}

func (c *controller) onMessage(gen uint64) Handler {
	return func(data json.RawMessage) {
		msg, err := dto.DecodeMessage(data)
		if err != nil {
			c.log.Warn(moduleController, "malformed message event", map[string]interface{}{"error": err})
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.generation || c.session == nil || msg.SessionID != c.session.ID {
			return
		}
		if !c.store.AppendLive(msg) {
			c.metrics.incDuplicate()
			return
		}
		c.metrics.incApplied()
		if id, ok := c.presence.Typing(); ok && id == msg.SenderID {
			c.presence.ClearTyping()
		}
		c.notify()
	}
}

func (c *controller) onTyping(gen uint64) Handler {
	return func(data json.RawMessage) {
		var ev dto.TypingEvent
		if err := dto.Decode(data, &ev); err != nil {
			c.log.Warn(moduleController, "malformed typing event", map[string]interface{}{"error": err})
			return
		}
		if ev.ActorID == c.actor.ID {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.generation || c.session == nil || ev.SessionID != c.session.ID {
			return
		}
		c.presence.Apply(ev)
		c.notify()
	}
}

func (c *controller) onReaction(gen uint64) Handler {
	return func(data json.RawMessage) {
		var ev dto.ReactionUpdatedEvent
		if err := dto.Decode(data, &ev); err != nil {
			c.log.Warn(moduleController, "malformed reaction event", map[string]interface{}{"error": err})
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.generation || c.session == nil || ev.SessionID != c.session.ID {
			return
		}
		if c.store.MergeReaction(ev.MessageID, ev.Reactions) {
			c.notify()
		}
	}
}

func (c *controller) onSessionUpdated(gen uint64) Handler {
	return func(data json.RawMessage) {
		session, err := dto.DecodeSession(data)
		if err != nil {
			c.log.Warn(moduleController, "malformed session event", map[string]interface{}{"error": err})
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.generation || c.session == nil || session.ID != c.session.ID {
			return
		}
		c.session = &session
		c.notify()
	}
}

func (c *controller) onConnect(gen uint64) Handler {
	return func(json.RawMessage) {
		c.mu.Lock()
		if gen != c.generation || c.session == nil {
			c.mu.Unlock()
			return
		}
		sessionID := c.session.ID
		c.joined = false
		c.mu.Unlock()

		go c.rejoin(gen, sessionID)
	}
}

func (c *controller) onDisconnect(gen uint64) Handler {
	return func(json.RawMessage) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.generation {
			return
		}
		c.joined = false
		c.notify()
	}
}

// rejoin repeats the join handshake after a reconnect and catches up on
// messages sent while the channel was down.
func (c *controller) rejoin(gen uint64, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), rejoinTimeout)
	defer cancel()

	if err := c.join(ctx, gen, sessionID); err != nil {
		c.log.Warn(moduleController, "rejoin failed", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err,
		})
		return
	}
	c.metrics.incRejoin()

	if err := c.catchUp(ctx, gen, sessionID); err != nil {
		c.log.Warn(moduleController, "catch-up fetch failed", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err,
		})
	}
}

// catchUp pages backwards from the newest message until a page reaches an
// already loaded message or the start of the history. When neither happens
// within maxCatchUpPages, the store is rebased onto the fetched pages and
// LoadMore continues from there.
func (c *controller) catchUp(ctx context.Context, gen uint64, sessionID string) error {
	var fetched []model.ChatMessage
	before := ""
	connected, final := false, false

	for pages := 0; pages < maxCatchUpPages; pages++ {
		page, err := c.api.FetchMessages(ctx, sessionID, before)
		if err != nil {
			return err
		}
		fetched = append(page.Messages, fetched...)
		final = page.Final || len(page.Messages) == 0

		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			c.metrics.incStale()
			return nil
		}
		empty := c.store.Len() == 0
		for _, m := range page.Messages {
			if c.store.Contains(m.ID) {
				connected = true
				break
			}
		}
		c.mu.Unlock()

		if connected || final || empty {
			break
		}
		before = page.Messages[0].ID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.metrics.incStale()
		return nil
	}
	if connected || final {
		for _, m := range fetched {
			c.store.AppendLive(m)
		}
	} else {
		c.store.Rebase(fetched, false)
	}
	c.notify()
	return nil
}
