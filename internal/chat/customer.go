package chat

import (
	"context"
)

// ChatController drives the customer side of a support chat: it resolves or
// creates the customer's session and keeps its timeline in sync.
type ChatController struct {
	*controller
}

func NewChatController(opts Options) (*ChatController, error) {
	if opts.Actor.Role.IsOperator() {
		return nil, NewError(ErrorCodeValidation, "customer controller requires a non-operator actor", nil)
	}
	c, err := newController(opts)
	if err != nil {
		return nil, err
	}
	return &ChatController{controller: c}, nil
}

// Initialize resolves the customer's session, joins it and loads the newest
// page. Calling it again starts over with a fresh timeline.
func (c *ChatController) Initialize(ctx context.Context) error {
	gen, prev, err := c.beginResolve()
	if err != nil {
		return err
	}
	c.leave(ctx, prev)

	session, err := c.resolver.Resolve(ctx, c.actor, "")
	if err != nil {
		c.fail(gen)
		return err
	}
	return c.activate(ctx, gen, session)
}
