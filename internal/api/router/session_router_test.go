package router

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chat-sync/internal/api"
	"chat-sync/internal/chat"
	"chat-sync/internal/dto"
	internaljwt "chat-sync/internal/jwt"
	"chat-sync/internal/model"
	"chat-sync/internal/queue"
	"chat-sync/internal/service/session"
	"chat-sync/internal/transport/apiclient"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	url    string
	issuer *internaljwt.Issuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	issuer, err := internaljwt.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	rqm := queue.NewRequestQueueManager(10, 2, nil)
	reg := prometheus.NewRegistry()
	server := api.NewAPIServer(api.Options{
		ListenAddr: ":0",
		Queue:      rqm,
		Sessions:   session.NewWithRepository(session.NewMemoryRepository(), nil, session.Options{}),
		Issuer:     issuer,
		Registerer: reg,
		Gatherer:   reg,
	}, SessionRoutes("/api/v1"), UtilsRoutes("/api/v1"))

	ts := httptest.NewServer(server.Routes())
	t.Cleanup(func() {
		ts.Close()
		rqm.Shutdown()
	})

	return &testServer{url: ts.URL, issuer: issuer}
}

func (s *testServer) token(t *testing.T, actor model.Actor) string {
	t.Helper()
	tok, err := s.issuer.CreateToken(actor, 0)
	require.NoError(t, err)
	return tok.AccessToken
}

func (s *testServer) client(t *testing.T, actor model.Actor, opts ...apiclient.Option) *apiclient.Client {
	return apiclient.New(s.url+"/api/v1", s.token(t, actor), opts...)
}

func TestSessionRoutesEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	customer := model.Actor{ID: "cust-1", Role: model.RoleUser}
	opA := model.Actor{ID: "op-a", Role: model.RoleCashier}
	opB := model.Actor{ID: "op-b", Role: model.RoleCashier}

	cust := srv.client(t, customer, apiclient.WithPageSize(2))
	sess, err := cust.FetchOrCreateSession(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusPending, sess.Status)

	again, err := cust.FetchOrCreateSession(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, again.ID)

	var sent []string
	for _, content := range []string{"one", "two", "three"} {
		msg, err := cust.SendMessage(ctx, dto.SendMessageRequest{
			SessionID: sess.ID,
			Content:   content,
			SenderID:  customer.ID,
			Role:      customer.Role,
		})
		require.NoError(t, err)
		sent = append(sent, msg.ID)
		time.Sleep(2 * time.Millisecond)
	}

	a := srv.client(t, opA)
	waiting, err := a.ListSessionsForOperatorQueue(ctx)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, sess.ID, waiting[0].SessionID)
	assert.Equal(t, "three", waiting[0].LastMessagePreview)

	found, err := a.FetchSessionForCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, found.ID)

	claimed, err := a.ClaimSession(ctx, sess.ID, opA.ID)
	require.NoError(t, err)
	assert.Equal(t, opA.ID, claimed.OperatorID)

	lost, err := srv.client(t, opB).ClaimSession(ctx, sess.ID, opB.ID)
	require.NoError(t, err)
	assert.Equal(t, opA.ID, lost.OperatorID)

	page, err := cust.FetchMessages(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.False(t, page.Final)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, sent[1], page.Messages[0].ID)

	page, err = cust.FetchMessages(ctx, sess.ID, page.Messages[0].ID)
	require.NoError(t, err)
	assert.True(t, page.Final)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, sent[0], page.Messages[0].ID)

	reactions, err := a.ToggleReaction(ctx, sess.ID, sent[0], dto.ToggleReactionRequest{Emoji: "👍"})
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Equal(t, opA.ID, reactions[0].ReactorID)

	closed, err := a.CloseSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusClosed, closed.Status)

	_, err = cust.SendMessage(ctx, dto.SendMessageRequest{SessionID: sess.ID, Content: "late", Role: customer.Role})
	require.Error(t, err)
	assert.Equal(t, chat.ErrorCodeConflict, chat.CodeOf(err))
}

func TestSessionRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.url+"/api/v1/sessions", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestQueueIsOperatorOnly(t *testing.T) {
	srv := newTestServer(t)
	customer := model.Actor{ID: "cust-1", Role: model.RoleUser}

	_, err := srv.client(t, customer).ListSessionsForOperatorQueue(context.Background())
	require.Error(t, err)

	var status *apiclient.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusForbidden, status.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, srv.url+"/api/v1/queue", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+srv.token(t, model.Actor{ID: "op-a", Role: model.RoleCashier}))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.url + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "chat_sync_http_requests_total")
}
