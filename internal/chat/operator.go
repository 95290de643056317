package chat

import (
	"context"
	"strings"

	"chat-sync/internal/model"
)

// OperatorChatController lets an operator switch between customer sessions,
// claiming unassigned ones on the way in.
type OperatorChatController struct {
	*controller
	assignment *OperatorAssignment
}

func NewOperatorChatController(opts Options) (*OperatorChatController, error) {
	if !opts.Actor.Role.IsOperator() {
		return nil, NewError(ErrorCodeValidation, "operator controller requires an operator actor", nil)
	}
	c, err := newController(opts)
	if err != nil {
		return nil, err
	}
	return &OperatorChatController{
		controller: c,
		assignment: NewOperatorAssignment(opts.API, c.log),
	}, nil
}

// SelectSession switches to the session of customerID. Handlers of the
// previous session are removed before anything is fetched, and results of a
// selection that was superseded by a newer one are dropped.
func (c *OperatorChatController) SelectSession(ctx context.Context, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return NewError(ErrorCodeValidation, "customer id is required", nil)
	}
	gen, prev, err := c.beginResolve()
	if err != nil {
		return err
	}
	c.leave(ctx, prev)

	session, err := c.resolver.Resolve(ctx, c.actor, customerID)
	if err != nil {
		c.fail(gen)
		return err
	}
	if !c.current(gen) {
		c.metrics.incStale()
		return nil
	}
	if !session.Assigned() {
		res, err := c.assignment.Claim(ctx, session, c.actor.ID)
		if err != nil {
			c.fail(gen)
			return err
		}
		session = res.Session
	}
	if !c.current(gen) {
		c.metrics.incStale()
		return nil
	}
	return c.activate(ctx, gen, session)
}

// Queue lists the sessions waiting for or handled by operators.
func (c *OperatorChatController) Queue(ctx context.Context) ([]model.SessionSummary, error) {
	sessions, err := c.api.ListSessionsForOperatorQueue(ctx)
	if err != nil {
		return nil, requestError("list queue", err)
	}
	return sessions, nil
}

// CloseSession closes the active session. The controller stays joined so the
// final state is still visible.
func (c *OperatorChatController) CloseSession(ctx context.Context) error {
	c.mu.Lock()
	sessionID, err := c.activeLocked()
	gen := c.generation
	c.mu.Unlock()
	if err != nil {
		return err
	}

	session, err := c.api.CloseSession(ctx, sessionID)
	if err != nil {
		return requestError("close session", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || session.ID != sessionID {
		c.metrics.incStale()
		return nil
	}
	c.session = &session
	c.notify()
	return nil
}
