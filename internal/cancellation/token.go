// Package cancellation carries per-batch cancellation through the pipeline.
package cancellation

import (
	"context"
	"errors"
	"sync"
)

const (
	ReasonSuperseded    = "superseded by new operation"
	ReasonUserCancelled = "User cancelled operation"
	ReasonTeardown      = "Component unmounting"
	ReasonCleanup       = "resource cleanup"
	ReasonCallerGone    = "caller context done"
)

// CancelledError is the context cause of a cancelled token.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	if e == nil || e.Reason == "" {
		return "operation cancelled"
	}
	return "operation cancelled: " + e.Reason
}

// IsCancellation reports whether err came from a cancelled token or context.
// Callers treat it as a silent stop rather than a failure.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	var cancelled *CancelledError
	return errors.As(err, &cancelled) || errors.Is(err, context.Canceled)
}

// Token is a settable cancellation flag with a reason, backed by a context so
// blocking calls made with Context() stop as well.
type Token struct {
	tag    string
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu     sync.Mutex
	reason string
}

func New(parent context.Context, tag string) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &Token{tag: tag, ctx: ctx, cancel: cancel}
}

// Cancel is idempotent; the first reason wins.
func (t *Token) Cancel(reason string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.reason == "" && t.ctx.Err() == nil {
		t.reason = reason
	}
	t.mu.Unlock()
	t.cancel(&CancelledError{Reason: reason})
}

func (t *Token) IsCancelled() bool {
	if t == nil {
		return false
	}
	return t.ctx.Err() != nil
}

// Reason returns why the token was cancelled, or "" while it is live.
func (t *Token) Reason() string {
	if t == nil || t.ctx.Err() == nil {
		return ""
	}
	t.mu.Lock()
	reason := t.reason
	t.mu.Unlock()
	if reason != "" {
		return reason
	}

	var cancelled *CancelledError
	if cause := context.Cause(t.ctx); errors.As(cause, &cancelled) {
		return cancelled.Reason
	}
	return context.Cause(t.ctx).Error()
}

func (t *Token) Context() context.Context { return t.ctx }

func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

func (t *Token) Tag() string { return t.tag }

// Err returns a CancelledError once the token is cancelled.
func (t *Token) Err() error {
	if !t.IsCancelled() {
		return nil
	}
	return &CancelledError{Reason: t.Reason()}
}
