package core

import (
	"MetLev/internal/errs"
	"MetLev/internal/event"
	"MetLev/internal/observability"
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ErrRunnerStopped is returned to callers whose request could not be
// delivered because the runner has exited.
var ErrRunnerStopped = errors.New("core runner stopped")

// Result is the outcome of one submitted event.
type Result struct {
	Receipt Receipt
	Err     error
}

type request struct {
	evt   event.Event
	fn    func(*DeterministicCore)
	reply chan Result
}

// Runner owns the core and serializes every access to it on one goroutine.
// Ingestion, gRPC and the keeper only send requests.
type Runner struct {
	core   *DeterministicCore
	inbox  chan request
	done   chan struct{}
	logger zerolog.Logger
}

func NewRunner(core *DeterministicCore, queueSize int) *Runner {
	return &Runner{
		core:   core,
		inbox:  make(chan request, queueSize),
		done:   make(chan struct{}),
		logger: observability.NewLogger("core"),
	}
}

// Run drains the inbox until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-r.inbox:
			if req.fn != nil {
				req.fn(r.core)
				if req.reply != nil {
					req.reply <- Result{}
				}
				continue
			}

			receipt, err := r.core.ProcessEvent(req.evt)
			if err != nil {
				r.logger.Warn().
					Str("event_type", req.evt.EventType().String()).
					Str("key", req.evt.IdempotencyKey()).
					Str("code", errs.CodeOf(err).String()).
					Err(err).
					Msg("event rejected")
			} else if receipt.Duplicate {
				r.logger.Debug().
					Str("event_type", req.evt.EventType().String()).
					Str("key", req.evt.IdempotencyKey()).
					Msg("duplicate event ignored")
			}
			if req.reply != nil {
				req.reply <- Result{Receipt: receipt, Err: err}
			}
		}
	}
}

// Submit sends evt to the core and waits for its result.
func (r *Runner) Submit(ctx context.Context, evt event.Event) (Receipt, error) {
	reply := make(chan Result, 1)
	if err := r.send(ctx, request{evt: evt, reply: reply}); err != nil {
		return Receipt{}, err
	}
	select {
	case res := <-reply:
		return res.Receipt, res.Err
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case <-r.done:
		return Receipt{}, ErrRunnerStopped
	}
}

// Enqueue sends evt without waiting for the result.
func (r *Runner) Enqueue(ctx context.Context, evt event.Event) error {
	return r.send(ctx, request{evt: evt})
}

// Do runs fn on the core goroutine and waits for it to finish.
func (r *Runner) Do(ctx context.Context, fn func(*DeterministicCore)) error {
	reply := make(chan Result, 1)
	if err := r.send(ctx, request{fn: fn, reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrRunnerStopped
	}
}

// View returns a detached copy of the state the keeper needs.
func (r *Runner) View(ctx context.Context) (*View, error) {
	var v *View
	if err := r.Do(ctx, func(c *DeterministicCore) { v = c.View() }); err != nil {
		return nil, err
	}
	return v, nil
}

// QueueDepth is the number of requests waiting.
func (r *Runner) QueueDepth() int {
	return len(r.inbox)
}

func (r *Runner) send(ctx context.Context, req request) error {
	select {
	case r.inbox <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrRunnerStopped
	}
}
