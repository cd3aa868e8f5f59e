// Package signal implements the message exchange between two test peers
// establishing a WebRTC connection: session descriptions, ICE candidates,
// small application payloads, and the final pass/fail reconciliation.
//
// Messages are routed through a buffering Router so that the two peers may
// register their consumers at any point relative to message arrival. The
// transport is pluggable: two peers can be cross-wired in-process, or
// relayed through a signaling server.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mosaicnetworks/rtcsignal/src/connection"
	"github.com/mosaicnetworks/rtcsignal/src/future"
	"github.com/sirupsen/logrus"
)

// Signaling is one peer's endpoint of the signaling exchange. It drives a
// Router over a Transport and implements the offer/answer and candidate
// forwarding sequences on top.
type Signaling struct {
	router    *Router
	transport Transport
	logger    *logrus.Entry

	// errCh holds the first fatal error: a protocol violation, a transport
	// failure, or a candidate that could not be applied. The test harness
	// consumes it and fails the running test.
	errCh chan error

	mu       sync.Mutex
	doneSent bool
}

// New instantiates a Signaling endpoint over a transport and starts
// consuming inbound envelopes.
func New(transport Transport, logger *logrus.Entry) *Signaling {
	s := &Signaling{
		router:    NewRouter(logger),
		transport: transport,
		logger:    logger,
		errCh:     make(chan error, 1),
	}

	go s.receiveLoop()

	return s
}

// Pair instantiates two Signaling endpoints cross-wired in-process, used
// to run both roles of a test in one process.
func Pair(logger *logrus.Entry) (*Signaling, *Signaling) {
	ta, tb := newDirectPair()
	a := New(ta, logger.WithField("peer", 0))
	b := New(tb, logger.WithField("peer", 1))
	return a, b
}

func (s *Signaling) receiveLoop() {
	for {
		select {
		case env := <-s.transport.Consumer():
			if err := s.router.Receive(env); err != nil {
				s.fatal(err)
			}
		case <-s.transport.Shutdown():
			if err := s.transport.Err(); err != nil {
				s.fatal(err)
			}
			return
		}
	}
}

// fatal records the first fatal error. All fatal classes terminate the
// current test; nothing is retried.
func (s *Signaling) fatal(err error) {
	s.logger.WithError(err).Error("Fatal signaling error")
	select {
	case s.errCh <- err:
	default:
	}
}

// Fatal returns the channel carrying the endpoint's first fatal error.
func (s *Signaling) Fatal() <-chan error {
	return s.errCh
}

// SendDescription sends a local session description to the peer.
func (s *Signaling) SendDescription(desc connection.Description) error {
	return s.send(TypeDescription, desc)
}

// SendCandidate sends a local ICE candidate to the peer.
func (s *Signaling) SendCandidate(cand connection.Candidate) error {
	return s.send(TypeCandidate, cand)
}

// SendData sends an arbitrary payload to the peer.
func (s *Signaling) SendData(payload interface{}) error {
	return s.send(TypeData, payload)
}

func (s *Signaling) send(messageType string, payload interface{}) error {
	env, err := NewEnvelope(messageType, payload)
	if err != nil {
		return err
	}
	return s.transport.Send(env)
}

// RemoteDescription waits for the peer's session description. The result
// is the same whether the description arrived before or after the call.
func (s *Signaling) RemoteDescription(ctx context.Context) (connection.Description, error) {
	pending, err := s.router.RemoteDescription()
	if err != nil {
		return connection.Description{}, err
	}

	raw, err := pending.Wait(ctx)
	if err != nil {
		return connection.Description{}, err
	}

	var desc connection.Description
	if err := json.Unmarshal(raw, &desc); err != nil {
		return connection.Description{}, fmt.Errorf("decoding remote description: %v", err)
	}

	return desc, nil
}

// RegisterDataHandler registers the handler for inbound data payloads.
// Queued payloads are replayed to it immediately. The handler is
// registered exactly once per instance.
func (s *Signaling) RegisterDataHandler(handler func(json.RawMessage)) error {
	return s.router.RegisterDataHandler(handler)
}

// ExchangeDescriptions performs the canonical two-message offer/answer
// handshake with the peer. The offerer creates an offer, applies it
// locally and sends it; both roles then wait for the remote description
// and apply it; the answerer responds with an answer, applied locally and
// sent back. Exactly one offer and one answer are exchanged per test.
func (s *Signaling) ExchangeDescriptions(ctx context.Context, conn connection.Connector, offerer bool) error {
	if offerer {
		offer, err := conn.CreateOffer()
		if err != nil {
			return fmt.Errorf("creating offer: %v", err)
		}
		if err := conn.SetLocalDescription(offer); err != nil {
			return fmt.Errorf("applying local offer: %v", err)
		}
		if err := s.SendDescription(offer); err != nil {
			return err
		}
	}

	remote, err := s.RemoteDescription(ctx)
	if err != nil {
		return err
	}
	if err := conn.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("applying remote description: %v", err)
	}

	if !offerer {
		answer, err := conn.CreateAnswer()
		if err != nil {
			return fmt.Errorf("creating answer: %v", err)
		}
		if err := conn.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("applying local answer: %v", err)
		}
		if err := s.SendDescription(answer); err != nil {
			return err
		}
	}

	return nil
}

// ExchangeCandidates forwards the connection's discovered local candidates
// to the peer, and applies the peer's candidates to the connection as they
// arrive. Candidate application is expected to always succeed in these
// test scenarios, so a failure is fatal.
func (s *Signaling) ExchangeCandidates(conn connection.Connector) error {
	conn.OnCandidate(func(cand *connection.Candidate) {
		if cand == nil {
			// Gathering complete.
			return
		}
		if err := s.SendCandidate(*cand); err != nil {
			s.fatal(fmt.Errorf("forwarding local candidate: %v", err))
		}
	})

	return s.router.RegisterCandidateHandler(func(raw json.RawMessage) {
		var cand connection.Candidate
		if err := json.Unmarshal(raw, &cand); err != nil {
			s.fatal(fmt.Errorf("decoding remote candidate: %v", err))
			return
		}
		if err := conn.AddCandidate(cand); err != nil {
			s.fatal(fmt.Errorf("applying remote candidate: %v", err))
		}
	})
}

// Done sends the local result to the peer and returns the future holding
// the peer's result, so the caller can reconcile the two. The done message
// is transmitted at most once per instance; repeated calls only return the
// remote future again.
func (s *Signaling) Done(result Result) *future.Future[Result] {
	s.mu.Lock()
	send := !s.doneSent
	s.doneSent = true
	s.mu.Unlock()

	if send {
		if err := s.send(TypeDone, result); err != nil {
			s.fatal(fmt.Errorf("sending done: %v", err))
		}
	}

	return s.router.RemoteDone()
}

// Close closes the underlying transport. It is registered with the owning
// test's cleanup and runs regardless of the test outcome.
func (s *Signaling) Close() error {
	return s.transport.Close()
}
