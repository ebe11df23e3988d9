package batch

import (
	"context"
	"sync/atomic"
)

// CancellationHandle is held by whoever may stop a batch run.
// Signal is safe to call from any goroutine, any number of times.
type CancellationHandle struct {
	ctx      context.Context
	cancel   context.CancelFunc
	signaled atomic.Bool
}

// NewCancellationHandle creates a handle whose context is derived from parent
func NewCancellationHandle(parent context.Context) *CancellationHandle {
	ctx, cancel := context.WithCancel(parent)
	return &CancellationHandle{ctx: ctx, cancel: cancel}
}

// Signal requests cancellation and aborts any in-flight request made under Context
func (h *CancellationHandle) Signal() {
	h.signaled.Store(true)
	h.cancel()
}

// Signaled reports whether Signal was called or the parent context ended
func (h *CancellationHandle) Signaled() bool {
	return h.signaled.Load() || h.ctx.Err() != nil
}

// Context returns the context cancelled by Signal
func (h *CancellationHandle) Context() context.Context {
	return h.ctx
}
