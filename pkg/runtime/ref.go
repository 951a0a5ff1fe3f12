package runtime

import (
	"context"
	"sync"

	"github.com/wilhg/persistor/pkg/persistence"
)

type envelope struct {
	msg   any
	reply func(any)
}

// Ref addresses a running unit.
type Ref struct {
	id      string
	mailbox chan envelope
	stopReq chan struct{}
	kill    chan error
	done    chan struct{}

	stopOnce sync.Once
	killOnce sync.Once
	err      error
}

func newRef(id string, mailboxSize int) *Ref {
	return &Ref{
		id:      id,
		mailbox: make(chan envelope, mailboxSize),
		stopReq: make(chan struct{}),
		kill:    make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (r *Ref) PersistenceID() string { return r.id }

// Tell enqueues msg. It fails with persistence.ErrStopped once the unit is
// done.
func (r *Ref) Tell(ctx context.Context, msg any) error {
	return r.send(ctx, envelope{msg: msg})
}

// Ask enqueues msg and waits for the handler's reply. A reply that is an
// error is returned as the error.
func (r *Ref) Ask(ctx context.Context, msg any) (any, error) {
	ch := make(chan any, 1)
	reply := func(v any) {
		select {
		case ch <- v:
		default:
		}
	}
	if err := r.send(ctx, envelope{msg: msg, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case v := <-ch:
		if err, ok := v.(error); ok {
			return nil, err
		}
		return v, nil
	case <-r.done:
		// a reply sent just before the unit stopped still counts
		select {
		case v := <-ch:
			if err, ok := v.(error); ok {
				return nil, err
			}
			return v, nil
		default:
		}
		return nil, r.stoppedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Ref) send(ctx context.Context, env envelope) error {
	select {
	case <-r.done:
		return r.stoppedErr()
	default:
	}
	select {
	case r.mailbox <- env:
		return nil
	case <-r.done:
		return r.stoppedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Ref) stoppedErr() error {
	if r.err != nil {
		return r.err
	}
	return persistence.ErrStopped
}

// Stop asks the unit to stop after the messages already queued.
func (r *Ref) Stop() {
	r.stopOnce.Do(func() { close(r.stopReq) })
}

// ForceStop stops the unit immediately, abandoning recovery or queued
// messages.
func (r *Ref) ForceStop(cause error) {
	r.killOnce.Do(func() {
		if cause == nil {
			cause = persistence.ErrForceStopped
		}
		r.kill <- cause
	})
}

// Done is closed when the unit has stopped.
func (r *Ref) Done() <-chan struct{} { return r.done }

// Err returns why the unit stopped: nil for a plain graceful stop. It is only
// meaningful after Done is closed.
func (r *Ref) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

func (r *Ref) close(err error) {
	r.err = err
	close(r.done)
}
