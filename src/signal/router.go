package signal

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mosaicnetworks/rtcsignal/src/future"
	"github.com/sirupsen/logrus"
)

// Router decouples the moment a signaling message is received from the
// moment a consumer is ready for it. Messages that arrive before their
// consumer is registered are held in an inbound queue and replayed, in
// arrival order, when the consumer appears. Each retained message is
// delivered exactly once.
//
// Dispatch is serialized: while one goroutine is draining, envelopes
// received on other goroutines (or re-entrantly from a handler) are
// appended to its inbox and delivered after everything already in flight,
// so a fresh arrival can never overtake a replayed batch.
//
// Consumers are: a single-slot remote description request, a candidate
// handler, a data handler, and the always-present remote done future.
type Router struct {
	logger *logrus.Entry

	mu sync.Mutex

	// delivering marks a drain in progress. While set, Receive and replay
	// only append to inbox; the draining goroutine dispatches until the
	// inbox is empty.
	delivering bool
	inbox      []Envelope

	// queue retains messages whose consumer has not registered yet.
	queue []Envelope

	description      *future.Future[json.RawMessage]
	candidateHandler func(json.RawMessage)
	dataHandler      func(json.RawMessage)

	remoteDone *future.Future[Result]
}

// NewRouter instantiates a Router.
func NewRouter(logger *logrus.Entry) *Router {
	return &Router{
		logger:     logger,
		remoteDone: future.New[Result](),
	}
}

// Receive validates and dispatches an inbound envelope. Messages with a
// registered consumer are delivered in arrival order; the rest are
// retained until one is registered. Handlers run outside the router lock,
// so a handler may send messages or deliver re-entrantly without
// deadlocking.
func (r *Router) Receive(env Envelope) error {
	if env.Type == "" {
		return ErrMissingType
	}
	switch env.Type {
	case TypeDescription, TypeCandidate, TypeData, TypeDone:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if env.Value == nil {
		env.Value = nullValue
	}

	r.logger.WithField("type", env.Type).Debug("Receive")

	r.mu.Lock()
	if r.delivering {
		r.inbox = append(r.inbox, env)
		r.mu.Unlock()
		return nil
	}
	r.delivering = true
	r.mu.Unlock()

	return r.drain(env)
}

// RemoteDescription creates the remote description slot, replays the
// retained queue against it, and returns it as a future. If a matching
// message was already queued, the returned future is settled immediately.
//
// Only one description request may be pending at a time; a second request
// while the first is unresolved is a programming error.
func (r *Router) RemoteDescription() (*future.Future[json.RawMessage], error) {
	r.mu.Lock()
	if r.description != nil {
		r.mu.Unlock()
		return nil, ErrDescriptionPending
	}
	pending := future.New[json.RawMessage]()
	r.description = pending
	r.mu.Unlock()

	if err := r.replay(); err != nil {
		return nil, err
	}

	return pending, nil
}

// RegisterCandidateHandler registers the candidate handler and replays the
// retained queue. The handler is registered exactly once per instance.
func (r *Router) RegisterCandidateHandler(handler func(json.RawMessage)) error {
	r.mu.Lock()
	if r.candidateHandler != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: candidate", ErrHandlerRegistered)
	}
	r.candidateHandler = handler
	r.mu.Unlock()

	return r.replay()
}

// RegisterDataHandler registers the data handler and replays the retained
// queue. The handler is registered exactly once per instance.
func (r *Router) RegisterDataHandler(handler func(json.RawMessage)) error {
	r.mu.Lock()
	if r.dataHandler != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: data", ErrHandlerRegistered)
	}
	r.dataHandler = handler
	r.mu.Unlock()

	return r.replay()
}

// RemoteDone returns the future that settles with the peer's done result.
// Done messages need no pre-registered consumer.
func (r *Router) RemoteDone() *future.Future[Result] {
	return r.remoteDone
}

// replay moves the retained queue to the front of the inbox and drains it.
// Messages arriving while the drain runs land behind the captured batch.
// If a drain is already running on another goroutine, the batch is handed
// to it instead.
func (r *Router) replay() error {
	r.mu.Lock()
	captured := r.queue
	r.queue = nil
	if len(captured) == 0 {
		r.mu.Unlock()
		return nil
	}
	if r.delivering {
		r.inbox = append(captured, r.inbox...)
		r.mu.Unlock()
		return nil
	}
	r.delivering = true
	r.inbox = append(captured[1:], r.inbox...)
	first := captured[0]
	r.mu.Unlock()

	return r.drain(first)
}

// drain dispatches env, then keeps dispatching from the inbox until it is
// empty. The caller must have set the delivering flag.
func (r *Router) drain(env Envelope) error {
	for {
		if err := r.dispatch(env); err != nil {
			r.mu.Lock()
			r.delivering = false
			r.mu.Unlock()
			return err
		}

		r.mu.Lock()
		if len(r.inbox) == 0 {
			r.delivering = false
			r.mu.Unlock()
			return nil
		}
		env = r.inbox[0]
		r.inbox = r.inbox[1:]
		r.mu.Unlock()
	}
}

// dispatch delivers one envelope to its consumer, or retains it in the
// queue when the consumer has not registered yet.
func (r *Router) dispatch(env Envelope) error {
	switch env.Type {
	case TypeDescription:
		r.mu.Lock()
		pending := r.description
		if pending != nil {
			r.description = nil
		} else {
			r.queue = append(r.queue, env)
		}
		r.mu.Unlock()

		if pending != nil {
			pending.Resolve(env.Value)
		}

	case TypeCandidate:
		r.mu.Lock()
		handler := r.candidateHandler
		if handler == nil {
			r.queue = append(r.queue, env)
		}
		r.mu.Unlock()

		if handler != nil {
			handler(env.Value)
		}

	case TypeData:
		r.mu.Lock()
		handler := r.dataHandler
		if handler == nil {
			r.queue = append(r.queue, env)
		}
		r.mu.Unlock()

		if handler != nil {
			handler(env.Value)
		}

	case TypeDone:
		var result Result
		if err := json.Unmarshal(env.Value, &result); err != nil {
			return fmt.Errorf("decoding done result: %v", err)
		}
		r.remoteDone.Resolve(result)
	}

	return nil
}
