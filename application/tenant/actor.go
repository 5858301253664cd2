// Package tenant runs one actor per tenant graph. An actor is a goroutine
// that owns a graph.Store and executes requests from its mailbox one at a
// time, so the store needs no locks and tenants never share state.
package tenant

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"graphbridge/domain/config"
	"graphbridge/domain/events"
	"graphbridge/domain/graph"
	appErrors "graphbridge/pkg/errors"
)

// Key addresses a tenant actor
type Key struct {
	Module   string `json:"module"`
	TenantID string `json:"tenant_id"`
}

// String renders the key as "module:tenant"
func (k Key) String() string {
	return events.Topic(k.Module, k.TenantID)
}

type response struct {
	value any
	err   error
}

type request struct {
	ctx   context.Context
	fn    func(*graph.Store) (any, error)
	reply chan response
}

// Actor serializes every access to one tenant's store
type Actor struct {
	key     Key
	store   *graph.Store
	mailbox chan request
	logger  *zap.Logger

	stopping chan struct{}
	stopped  chan struct{}
}

func newActor(key Key, domain *config.DomainConfig, mailboxSize int, sink ChangeSink, logger *zap.Logger) *Actor {
	a := &Actor{
		key:      key,
		mailbox:  make(chan request, mailboxSize),
		logger:   logger.With(zap.String("module", key.Module), zap.String("tenant_id", key.TenantID)),
		stopping: make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	var opts []graph.Option
	if sink != nil {
		opts = append(opts, graph.WithChangeHook(func(c events.Change) {
			sink.Notify(key.Module, key.TenantID, c)
		}))
	}
	a.store = graph.NewStore(domain, opts...)

	go a.run()
	return a
}

// Key returns the actor's address
func (a *Actor) Key() Key {
	return a.key
}

// Do runs fn inside the actor and waits for its result. A request whose ctx
// ends before the actor picks it up is never run. A caller whose ctx ends
// while fn runs gets ctx.Err(), and whatever fn changed stays changed.
func (a *Actor) Do(ctx context.Context, fn func(*graph.Store) (any, error)) (any, error) {
	select {
	case <-a.stopping:
		return nil, appErrors.Unavailable("tenant " + a.key.String())
	default:
	}

	req := request{ctx: ctx, fn: fn, reply: make(chan response, 1)}
	select {
	case a.mailbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.stopped:
		return nil, appErrors.Unavailable("tenant " + a.key.String())
	}

	select {
	case resp := <-req.reply:
		return resp.value, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.stopped:
		// the loop may have exited between our send and its drain
		select {
		case resp := <-req.reply:
			return resp.value, resp.err
		default:
			return nil, appErrors.Unavailable("tenant " + a.key.String())
		}
	}
}

// call is Do with a typed result
func call[T any](ctx context.Context, a *Actor, fn func(*graph.Store) (T, error)) (T, error) {
	value, err := a.Do(ctx, func(s *graph.Store) (any, error) {
		return fn(s)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return value.(T), nil
}

// stop asks the loop to finish the requests already queued and exit
func (a *Actor) stop() {
	select {
	case <-a.stopping:
	default:
		close(a.stopping)
	}
}

// Done is closed once the actor has exited
func (a *Actor) Done() <-chan struct{} {
	return a.stopped
}

func (a *Actor) run() {
	defer close(a.stopped)
	for {
		select {
		case req := <-a.mailbox:
			a.handle(req)
		case <-a.stopping:
			for {
				select {
				case req := <-a.mailbox:
					a.handle(req)
				default:
					a.logger.Debug("Tenant actor stopped")
					return
				}
			}
		}
	}
}

func (a *Actor) handle(req request) {
	if err := req.ctx.Err(); err != nil {
		req.reply <- response{err: err}
		return
	}

	var resp response
	func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("Recovered panic in tenant actor",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				resp = response{err: appErrors.Internal("tenant actor panic", fmt.Errorf("%v", r))}
			}
		}()
		resp.value, resp.err = req.fn(a.store)
	}()
	req.reply <- resp
}
