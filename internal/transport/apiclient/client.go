package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"chat-sync/internal/chat"
	"chat-sync/internal/dto"
	"chat-sync/internal/model"
)

// Client implements chat.API against the REST collaborator.
type Client struct {
	baseURL  string
	token    string
	pageSize int
	client   *http.Client
}

var _ chat.API = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithPageSize sets the limit sent with history requests. Zero lets the
// server pick.
func WithPageSize(n int) Option {
	return func(c *Client) {
		c.pageSize = n
	}
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) FetchOrCreateSession(ctx context.Context, actor model.Actor) (model.ChatSession, error) {
	var session model.ChatSession
	err := c.do(ctx, http.MethodPost, "/sessions", dto.ResolveSessionRequest{}, &session)
	return session, err
}

func (c *Client) FetchSessionForCustomer(ctx context.Context, customerID string) (model.ChatSession, error) {
	var session model.ChatSession
	err := c.do(ctx, http.MethodGet, "/customers/"+url.PathEscape(customerID)+"/session", nil, &session)
	return session, err
}

func (c *Client) ClaimSession(ctx context.Context, sessionID, operatorID string) (model.ChatSession, error) {
	var res dto.ClaimSessionResponse
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "claim"), dto.ClaimSessionRequest{OperatorID: operatorID}, &res)
	return res.Session, err
}

func (c *Client) FetchMessages(ctx context.Context, sessionID, before string) (model.MessagePage, error) {
	q := url.Values{}
	if before != "" {
		q.Set("before", before)
	}
	if c.pageSize > 0 {
		q.Set("limit", strconv.Itoa(c.pageSize))
	}
	p := sessionPath(sessionID, "messages")
	if len(q) > 0 {
		p += "?" + q.Encode()
	}

	var res dto.MessagesResponse
	if err := c.do(ctx, http.MethodGet, p, nil, &res); err != nil {
		return model.MessagePage{}, err
	}
	return model.MessagePage{Messages: res.Messages, Final: res.Final}, nil
}

func (c *Client) SendMessage(ctx context.Context, req dto.SendMessageRequest) (*model.ChatMessage, error) {
	var msg model.ChatMessage
	if err := c.do(ctx, http.MethodPost, sessionPath(req.SessionID, "messages"), req, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, nil
	}
	return &msg, nil
}

func (c *Client) ListSessionsForOperatorQueue(ctx context.Context) ([]model.SessionSummary, error) {
	var res dto.QueueResponse
	if err := c.do(ctx, http.MethodGet, "/queue", nil, &res); err != nil {
		return nil, err
	}
	return res.Sessions, nil
}

func (c *Client) ToggleReaction(ctx context.Context, sessionID, messageID string, req dto.ToggleReactionRequest) ([]model.Reaction, error) {
	var res dto.ReactionsResponse
	p := sessionPath(sessionID, "messages") + "/" + url.PathEscape(messageID) + "/reactions"
	if err := c.do(ctx, http.MethodPost, p, req, &res); err != nil {
		return nil, err
	}
	return res.Reactions, nil
}

func (c *Client) CloseSession(ctx context.Context, sessionID string) (model.ChatSession, error) {
	var session model.ChatSession
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "close"), nil, &session)
	return session, err
}

func sessionPath(sessionID, action string) string {
	return "/sessions/" + url.PathEscape(sessionID) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return chat.NewError(chat.ErrorCodeValidation, "encode request", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return chat.NewError(chat.ErrorCodeRequest, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return chat.NewError(chat.ErrorCodeRequest, method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(method, path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return chat.NewError(chat.ErrorCodeRequest, "decode "+path+" response", err)
	}
	return nil
}

// StatusError carries the HTTP status of a failed call.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

func statusError(method, path string, resp *http.Response) error {
	var body dto.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body)
	if body.Message == "" {
		body.Message = http.StatusText(resp.StatusCode)
	}
	cause := &StatusError{StatusCode: resp.StatusCode, Message: body.Message}

	code := chat.ErrorCodeRequest
	switch {
	case resp.StatusCode == http.StatusConflict:
		code = chat.ErrorCodeConflict
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		code = chat.ErrorCodeValidation
	}
	return chat.NewError(code, method+" "+path, cause)
}
