package cancellation

import "sync"

// Controller holds the single active batch token of a session.
type Controller struct {
	mu     sync.Mutex
	active *Token
}

func NewController() *Controller {
	return &Controller{}
}

// Begin cancels the active token with ReasonSuperseded and only then calls
// create for the replacement, so two live tokens never coexist. The
// superseded token is returned so the caller can release what it owned.
func (c *Controller) Begin(create func() *Token) (current *Token, previous *Token) {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous = c.active
	if previous != nil {
		previous.Cancel(ReasonSuperseded)
	}

	current = create()
	c.active = current
	return current, previous
}

// Cancel cancels the active token, if any, and reports whether one was live.
func (c *Controller) Cancel(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil || c.active.IsCancelled() {
		return false
	}
	c.active.Cancel(reason)
	return true
}

// Release empties the slot when t is still the active token.
func (c *Controller) Release(t *Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != t {
		return false
	}
	c.active = nil
	return true
}

// Active returns the current token, which may already be cancelled.
func (c *Controller) Active() *Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// IsActive reports whether t still owns the slot and has not been cancelled.
func (c *Controller) IsActive(t *Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active == t && t != nil && !t.IsCancelled()
}
