package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"chat-sync/internal/chat"
	"chat-sync/internal/model"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConversation struct {
	snap    chat.Snapshot
	sent    []string
	replyTo []string
	reacted []string
	more    int
}

func (f *fakeConversation) Updates() <-chan struct{} { return nil }

func (f *fakeConversation) Snapshot() chat.Snapshot { return f.snap }

func (f *fakeConversation) Send(ctx context.Context, content string, opts ...chat.SendOption) error {
	f.sent = append(f.sent, content)
	f.replyTo = append(f.replyTo, "")
	if len(opts) > 0 {
		f.replyTo[len(f.replyTo)-1] = "set"
	}
	return nil
}

func (f *fakeConversation) LoadMore(ctx context.Context) error {
	f.more++
	return nil
}

func (f *fakeConversation) React(ctx context.Context, messageID, emoji string) error {
	f.reacted = append(f.reacted, messageID+" "+emoji)
	return nil
}

func msg(id, sender string, at time.Time, content string) model.ChatMessage {
	return model.ChatMessage{ID: id, SessionID: "s1", SenderID: sender, SenderRole: model.RoleUser, Content: content, SentAt: at}
}

func TestHandleLine(t *testing.T) {
	now := time.Now()
	conv := &fakeConversation{snap: chat.Snapshot{Messages: []model.ChatMessage{
		msg("aaaa1111", "cust-1", now, "hi"),
		msg("aaaa2222", "op-1", now.Add(time.Second), "hello"),
	}}}
	closed := 0
	extra := map[string]commandFunc{
		"/close": func(ctx context.Context, _ string) error {
			closed++
			return nil
		},
	}
	ctx := context.Background()

	require.NoError(t, handleLine(ctx, conv, extra, "plain text"))
	require.NoError(t, handleLine(ctx, conv, extra, "/more"))
	require.NoError(t, handleLine(ctx, conv, extra, "/react aaaa2 👍"))
	require.NoError(t, handleLine(ctx, conv, extra, "/reply aaaa1 sure"))
	require.NoError(t, handleLine(ctx, conv, extra, "/close"))

	assert.Equal(t, []string{"plain text", "sure"}, conv.sent)
	assert.Equal(t, []string{"", "set"}, conv.replyTo)
	assert.Equal(t, 1, conv.more)
	assert.Equal(t, []string{"aaaa2222 👍"}, conv.reacted)
	assert.Equal(t, 1, closed)

	assert.Error(t, handleLine(ctx, conv, extra, "/react aaaa 👍"), "ambiguous prefix")
	assert.Error(t, handleLine(ctx, conv, extra, "/react zzzz 👍"))
	assert.Error(t, handleLine(ctx, conv, extra, "/nope"))
}

func TestPrinterPrintsEachMessageOnce(t *testing.T) {
	color.NoColor = true
	now := time.Now()
	actor := model.Actor{ID: "cust-1", Role: model.RoleUser}
	session := &model.ChatSession{ID: "s1", CustomerID: "cust-1", Status: model.SessionStatusPending}

	var buf bytes.Buffer
	p := newPrinter(&buf, actor)

	first := msg("m2", "cust-1", now, "second")
	p.render(chat.Snapshot{Session: session, Messages: []model.ChatMessage{first}})
	p.render(chat.Snapshot{Session: session, Messages: []model.ChatMessage{first}})

	older := msg("m1", "op-1", now.Add(-time.Minute), "first")
	p.render(chat.Snapshot{Session: session, Messages: []model.ChatMessage{older, first}, TypingActorID: "op-1"})

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "session s1"))
	assert.Equal(t, 1, strings.Count(out, "second"))
	assert.Contains(t, out, "you: second")
	assert.Contains(t, out, "[earlier] m1")
	assert.Contains(t, out, "op-1 is typing...")
}

func TestPrinterReportsReactionsAndClose(t *testing.T) {
	color.NoColor = true
	now := time.Now()
	actor := model.Actor{ID: "op-1", Role: model.RoleCashier}
	session := model.ChatSession{ID: "s1", CustomerID: "cust-1", OperatorID: "op-1", Status: model.SessionStatusOpen}

	var buf bytes.Buffer
	p := newPrinter(&buf, actor)

	m := msg("m1", "cust-1", now, "hi")
	p.render(chat.Snapshot{Session: &session, Messages: []model.ChatMessage{m}})

	m.Reactions = []model.Reaction{{Emoji: "👍", ReactorID: "op-1"}}
	closed := session
	closed.Status = model.SessionStatusClosed
	p.render(chat.Snapshot{Session: &closed, Messages: []model.ChatMessage{m}})

	out := buf.String()
	assert.Contains(t, out, "operator op-1 joined")
	assert.Contains(t, out, "m1 [👍 1]")
	assert.Contains(t, out, "session closed")
}
