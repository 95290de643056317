package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chat-sync/internal/dto"
	"chat-sync/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var customer = model.Actor{ID: "customer-1", Role: model.RoleUser}

func customerSession() model.ChatSession {
	return model.ChatSession{
		ID:          "S1",
		CustomerID:  customer.ID,
		Status:      model.SessionStatusPending,
		InitiatedBy: model.InitiatorCustomer,
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
	}
}

func newCustomerController(t *testing.T, api *fakeAPI, ch *fakeChannel) *ChatController {
	t.Helper()
	c, err := NewChatController(Options{
		Actor:          customer,
		API:            api,
		Channel:        NewSharedChannel(ch),
		TypingInterval: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestChatControllerInitializeSeedsNewestPage(t *testing.T) {
	api := newFakeAPI(3)
	api.addSession(customerSession(),
		msg("m1", "S1", 1), msg("m2", "S1", 2), msg("m3", "S1", 3), msg("m4", "S1", 4), msg("m5", "S1", 5))
	ch := newFakeChannel()
	c := newCustomerController(t, api, ch)

	require.NoError(t, c.Initialize(context.Background()))

	snap := c.Snapshot()
	assert.Equal(t, StateJoined, snap.State)
	require.NotNil(t, snap.Session)
	assert.Equal(t, "S1", snap.Session.ID)
	assert.Equal(t, []string{"m3", "m4", "m5"}, ids(snap.Messages))
	assert.True(t, snap.HasMore)
	assert.True(t, snap.Joined)

	joins := ch.eventsNamed(dto.EventJoin)
	require.Len(t, joins, 1)
	assert.JSONEq(t, `{"actorId":"customer-1","sessionId":"S1","role":"user"}`, string(joins[0]))
}

func TestChatControllerCreatesSessionForNewCustomer(t *testing.T) {
	api := newFakeAPI(10)
	c := newCustomerController(t, api, newFakeChannel())

	require.NoError(t, c.Initialize(context.Background()))

	snap := c.Snapshot()
	require.NotNil(t, snap.Session)
	assert.Equal(t, "session-customer-1", snap.Session.ID)
	assert.Empty(t, snap.Messages)
	assert.False(t, snap.HasMore)
}

func TestChatControllerLiveDuplicatesAndHistory(t *testing.T) {
	api := newFakeAPI(2)
	api.addSession(customerSession(), msg("m0", "S1", 5), msg("m1", "S1", 10), msg("m2", "S1", 20))
	ch := newFakeChannel()
	c := newCustomerController(t, api, ch)
	ctx := context.Background()

	require.NoError(t, c.Initialize(ctx))
	require.Equal(t, []string{"m1", "m2"}, ids(c.Snapshot().Messages))

	ch.dispatch(dto.EventMessage, msg("m2", "S1", 20))
	ch.dispatch(dto.EventMessage, msg("m3", "S1", 30))
	ch.dispatch(dto.EventMessage, msg("x1", "other-session", 25))
	require.NoError(t, c.LoadMore(ctx))

	snap := c.Snapshot()
	assert.Equal(t, []string{"m0", "m1", "m2", "m3"}, ids(snap.Messages))
	assert.False(t, snap.HasMore)

	require.NoError(t, c.LoadMore(ctx), "exhausted history is a no-op")
	assert.Len(t, c.Snapshot().Messages, 4)
}

func TestChatControllerPaginationTerminates(t *testing.T) {
	api := newFakeAPI(2)
	var msgs []model.ChatMessage
	for i := 0; i < 7; i++ {
		msgs = append(msgs, msg(string(rune('a'+i)), "S1", i))
	}
	api.addSession(customerSession(), msgs...)
	c := newCustomerController(t, api, newFakeChannel())
	ctx := context.Background()

	require.NoError(t, c.Initialize(ctx))
	for i := 0; i < 10 && c.Snapshot().HasMore; i++ {
		require.NoError(t, c.LoadMore(ctx))
	}

	snap := c.Snapshot()
	assert.False(t, snap.HasMore)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g"}, ids(snap.Messages))
}

func TestChatControllerDoubleSendReachesAPIOnce(t *testing.T) {
	api := newFakeAPI(10)
	api.addSession(customerSession())
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	api.sendGate = func(ctx context.Context) error {
		entered <- struct{}{}
		<-release
		return nil
	}
	c := newCustomerController(t, api, newFakeChannel())
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	first := make(chan error, 1)
	go func() { first <- c.Send(ctx, "hello") }()
	<-entered
	assert.True(t, c.Snapshot().Sending)

	require.NoError(t, c.Send(ctx, "hello"))
	close(release)
	require.NoError(t, <-first)

	_, sends := api.counts()
	assert.Equal(t, 1, sends)
	snap := c.Snapshot()
	assert.False(t, snap.Sending)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "hello", snap.Messages[0].Content)
}

func TestChatControllerStalledSendIsClearedByCancel(t *testing.T) {
	api := newFakeAPI(10)
	api.addSession(customerSession())
	stall := true
	var mu sync.Mutex
	entered := make(chan struct{}, 1)
	api.sendGate = func(ctx context.Context) error {
		mu.Lock()
		stalled := stall
		mu.Unlock()
		if !stalled {
			return nil
		}
		entered <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	c := newCustomerController(t, api, newFakeChannel())
	require.NoError(t, c.Initialize(context.Background()))

	sendCtx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- c.Send(sendCtx, "hello") }()
	<-entered
	assert.True(t, c.Snapshot().Sending)
	require.NoError(t, c.Send(context.Background(), "hello"), "send while stalled is ignored")

	cancel()
	err := <-first
	require.Error(t, err)
	assert.Equal(t, ErrorCodeRequest, CodeOf(err))
	assert.False(t, c.Snapshot().Sending)

	mu.Lock()
	stall = false
	mu.Unlock()
	require.NoError(t, c.Send(context.Background(), "hello"))
	_, sends := api.counts()
	assert.Equal(t, 1, sends)
	assert.Len(t, c.Snapshot().Messages, 1)
}

func TestChatControllerLoadMoreGuard(t *testing.T) {
	api := newFakeAPI(2)
	api.addSession(customerSession(), msg("a", "S1", 1), msg("b", "S1", 2), msg("c", "S1", 3), msg("d", "S1", 4))
	var mu sync.Mutex
	stall := true
	fetches := 0
	entered := make(chan struct{}, 1)
	api.fetchGate = func(ctx context.Context, sessionID, before string) error {
		if before == "" {
			return nil
		}
		mu.Lock()
		fetches++
		stalled := stall
		mu.Unlock()
		if !stalled {
			return nil
		}
		entered <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	c := newCustomerController(t, api, newFakeChannel())
	require.NoError(t, c.Initialize(context.Background()))
	require.Equal(t, []string{"c", "d"}, ids(c.Snapshot().Messages))

	loadCtx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- c.LoadMore(loadCtx) }()
	<-entered
	assert.True(t, c.Snapshot().LoadingMore)

	require.NoError(t, c.LoadMore(context.Background()))
	mu.Lock()
	assert.Equal(t, 1, fetches, "second LoadMore is a no-op while one is in flight")
	mu.Unlock()

	cancel()
	require.Error(t, <-first)
	snap := c.Snapshot()
	assert.False(t, snap.LoadingMore)
	assert.True(t, snap.HasMore, "a failed page keeps the history open")
	assert.Equal(t, []string{"c", "d"}, ids(snap.Messages))

	mu.Lock()
	stall = false
	mu.Unlock()
	require.NoError(t, c.LoadMore(context.Background()))
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(c.Snapshot().Messages))
}

func TestChatControllerSendEchoIsNotDuplicated(t *testing.T) {
	api := newFakeAPI(10)
	api.addSession(customerSession())
	ch := newFakeChannel()
	c := newCustomerController(t, api, ch)
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	require.NoError(t, c.Send(ctx, "  hi there  ", WithReplyTo("m0")))
	sent := c.Snapshot().Messages
	require.Len(t, sent, 1)
	assert.Equal(t, "hi there", sent[0].Content)
	assert.Equal(t, "m0", sent[0].ReplyToID)

	ch.dispatch(dto.EventMessage, sent[0])
	assert.Len(t, c.Snapshot().Messages, 1)
}

func TestChatControllerSendValidation(t *testing.T) {
	api := newFakeAPI(10)
	api.addSession(customerSession())
	c := newCustomerController(t, api, newFakeChannel())
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, "hello"), "send without a session is a no-op")

	require.NoError(t, c.Initialize(ctx))
	err := c.Send(ctx, "   \n\t")
	assert.ErrorIs(t, err, ErrBlankContent)
	assert.Equal(t, ErrorCodeValidation, CodeOf(err))

	err = c.Send(ctx, "hello", WithContentType("video"))
	assert.Equal(t, ErrorCodeValidation, CodeOf(err))

	_, sends := api.counts()
	assert.Zero(t, sends)
}

func TestChatControllerSendFailureKeepsStore(t *testing.T) {
	api := newFakeAPI(10)
	api.addSession(customerSession(), msg("m1", "S1", 1))
	c := newCustomerController(t, api, newFakeChannel())
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	api.sendErr = errors.New("503 service unavailable")
	err := c.Send(ctx, "hello")
	require.Error(t, err)
	assert.Equal(t, ErrorCodeRequest, CodeOf(err))

	snap := c.Snapshot()
	assert.Equal(t, []string{"m1"}, ids(snap.Messages))
	assert.False(t, snap.Sending, "failed send releases the guard")
}

func TestChatControllerReconnectRejoinsBeforeSending(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	api := newFakeAPI(10)
	api.addSession(customerSession(), msg("m1", "S1", 1))
	ch := newFakeChannel()
	c, err := NewChatController(Options{Actor: customer, API: api, Channel: NewSharedChannel(ch), Metrics: metrics})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	ch.drop()
	assert.False(t, c.Snapshot().Joined)
	assert.Len(t, c.Snapshot().Messages, 1)

	err = c.Send(ctx, "while offline")
	assert.Equal(t, ErrorCodeConnectivity, CodeOf(err))
	_, sends := api.counts()
	assert.Zero(t, sends)

	api.addSession(customerSession(), msg("m2", "S1", 2))
	ch.restore()
	require.Eventually(t, func() bool {
		snap := c.Snapshot()
		return snap.Joined && len(snap.Messages) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Len(t, ch.eventsNamed(dto.EventJoin), 2)
	assert.Equal(t, float64(1), counterValue(t, reg, "chat_client_rejoins_total"))
	require.NoError(t, c.Send(ctx, "back online"))
}

func TestChatControllerCatchUpFillsGapLargerThanAPage(t *testing.T) {
	api := newFakeAPI(3)
	api.addSession(customerSession(), msg("m01", "S1", 1), msg("m02", "S1", 2))
	ch := newFakeChannel()
	c := newCustomerController(t, api, ch)
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))
	require.False(t, c.Snapshot().HasMore)

	ch.drop()
	var missed []model.ChatMessage
	for i := 3; i <= 8; i++ {
		missed = append(missed, msg(fmt.Sprintf("m%02d", i), "S1", i))
	}
	api.addSession(customerSession(), missed...)
	ch.restore()

	want := []string{"m01", "m02", "m03", "m04", "m05", "m06", "m07", "m08"}
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, ids(c.Snapshot().Messages))
	}, time.Second, 5*time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.LoadMore(ctx))
	}
	assert.Equal(t, want, ids(c.Snapshot().Messages))
}

func TestChatControllerCatchUpRebasesWhenGapIsTooLong(t *testing.T) {
	api := newFakeAPI(1)
	api.addSession(customerSession(), msg("m000", "S1", 0))
	ch := newFakeChannel()
	c := newCustomerController(t, api, ch)
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	ch.drop()
	total := maxCatchUpPages + 5
	var missed []model.ChatMessage
	for i := 1; i <= total; i++ {
		missed = append(missed, msg(fmt.Sprintf("m%03d", i), "S1", i))
	}
	api.addSession(customerSession(), missed...)
	ch.restore()

	require.Eventually(t, func() bool {
		return len(c.Snapshot().Messages) == maxCatchUpPages
	}, time.Second, 5*time.Millisecond)
	snap := c.Snapshot()
	assert.True(t, snap.HasMore)
	assert.Equal(t, fmt.Sprintf("m%03d", total), snap.Messages[len(snap.Messages)-1].ID)
	assert.NotEqual(t, "m000", snap.Messages[0].ID)

	for i := 0; i < total+2 && c.Snapshot().HasMore; i++ {
		require.NoError(t, c.LoadMore(ctx))
	}
	assert.Len(t, c.Snapshot().Messages, total+1)
}

func TestChatControllerReactions(t *testing.T) {
	api := newFakeAPI(10)
	api.addSession(customerSession(), msg("m1", "S1", 1))
	ch := newFakeChannel()
	c := newCustomerController(t, api, ch)
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	require.NoError(t, c.React(ctx, "m1", "👍"))
	assert.Equal(t, []model.Reaction{{Emoji: "👍", ReactorID: customer.ID}}, c.Snapshot().Messages[0].Reactions)

	ev := dto.ReactionUpdatedEvent{
		SessionID: "S1",
		MessageID: "m1",
		Reactions: []model.Reaction{{Emoji: "👍", ReactorID: customer.ID}, {Emoji: "🎉", ReactorID: "op-1"}},
	}
	ch.dispatch(dto.EventMessageReactionUpdated, ev)
	once := c.Snapshot().Messages[0].Reactions
	ch.dispatch(dto.EventMessageReactionUpdated, ev)
	assert.Equal(t, once, c.Snapshot().Messages[0].Reactions)
	assert.Len(t, once, 2)

	assert.Equal(t, ErrorCodeValidation, CodeOf(c.React(ctx, "m1", " ")))
}

func TestChatControllerTypingPresence(t *testing.T) {
	api := newFakeAPI(10)
	api.addSession(customerSession())
	ch := newFakeChannel()
	c := newCustomerController(t, api, ch)
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	ch.dispatch(dto.EventTyping, dto.TypingEvent{SessionID: "S1", ActorID: "op-1", Typing: true})
	assert.Equal(t, "op-1", c.Snapshot().TypingActorID)

	ch.dispatch(dto.EventTyping, dto.TypingEvent{SessionID: "S1", ActorID: customer.ID, Typing: false})
	assert.Equal(t, "op-1", c.Snapshot().TypingActorID, "own typing echo is ignored")

	ch.dispatch(dto.EventMessage, model.ChatMessage{
		ID: "op-msg", SessionID: "S1", SenderID: "op-1", SenderRole: model.RoleCashier, Content: "hi", SentAt: at(1),
	})
	assert.Empty(t, c.Snapshot().TypingActorID, "a message from the typist clears the indicator")

	require.NoError(t, c.NotifyTyping(ctx, true))
	require.NoError(t, c.NotifyTyping(ctx, true))
	require.NoError(t, c.NotifyTyping(ctx, false))
	typing := ch.eventsNamed(dto.EventTyping)
	require.Len(t, typing, 2, "typing:true is throttled")
	assert.JSONEq(t, `{"sessionId":"S1","actorId":"customer-1","typing":false}`, string(typing[1]))
}

func TestChatControllerInitializeFailureReleasesHandlers(t *testing.T) {
	api := newFakeAPI(10)
	api.addSession(customerSession())
	api.fetchErr = errors.New("timeout")
	ch := newFakeChannel()
	c := newCustomerController(t, api, ch)

	err := c.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrorCodeRequest, CodeOf(err))
	assert.Equal(t, StateUninitialized, c.Snapshot().State)
	assert.Zero(t, ch.handlerCount())

	api.mu.Lock()
	api.fetchErr = nil
	api.mu.Unlock()
	require.NoError(t, c.Initialize(context.Background()))
	assert.Equal(t, StateJoined, c.Snapshot().State)
}

func TestChatControllerConnectFailure(t *testing.T) {
	api := newFakeAPI(10)
	api.addSession(customerSession())
	ch := newFakeChannel()
	ch.connectErr = errors.New("dial refused")
	c := newCustomerController(t, api, ch)

	err := c.Initialize(context.Background())
	assert.Equal(t, ErrorCodeConnectivity, CodeOf(err))
	assert.Equal(t, StateUninitialized, c.Snapshot().State)
}

func TestChatControllerCloseReleasesChannel(t *testing.T) {
	api := newFakeAPI(10)
	api.addSession(customerSession())
	ch := newFakeChannel()
	shared := NewSharedChannel(ch)
	ctx := context.Background()

	first, err := NewChatController(Options{Actor: customer, API: api, Channel: shared})
	require.NoError(t, err)
	second, err := NewChatController(Options{Actor: customer, API: api, Channel: shared})
	require.NoError(t, err)
	require.NoError(t, first.Initialize(ctx))
	require.NoError(t, second.Initialize(ctx))
	assert.Equal(t, 2, shared.Refs())

	first.Close()
	first.Close()
	assert.True(t, ch.Connected())
	assert.Equal(t, StateTerminated, first.Snapshot().State)
	assert.ErrorIs(t, first.Initialize(ctx), ErrClosed)
	assert.Len(t, ch.eventsNamed(dto.EventLeave), 1)

	second.Close()
	assert.False(t, ch.Connected())
	assert.Zero(t, ch.handlerCount())
}

func TestChatControllerRejectsOperatorActor(t *testing.T) {
	_, err := NewChatController(Options{
		Actor:   model.Actor{ID: "op-1", Role: model.RoleCashier},
		API:     newFakeAPI(1),
		Channel: NewSharedChannel(newFakeChannel()),
	})
	assert.Equal(t, ErrorCodeValidation, CodeOf(err))
}

func TestChatControllerConcurrentEvents(t *testing.T) {
	api := newFakeAPI(10)
	api.addSession(customerSession())
	ch := newFakeChannel()
	c := newCustomerController(t, api, ch)
	require.NoError(t, c.Initialize(context.Background()))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				ch.dispatch(dto.EventMessage, msg(string(rune('A'+i%26))+string(rune('a'+i/26)), "S1", i))
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Len(t, snap.Messages, 50)
	for i := 1; i < len(snap.Messages); i++ {
		assert.True(t, model.Less(snap.Messages[i-1], snap.Messages[i]))
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}
