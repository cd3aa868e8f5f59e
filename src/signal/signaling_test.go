package signal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/rtcsignal/src/common"
	"github.com/mosaicnetworks/rtcsignal/src/connection"
	"github.com/sirupsen/logrus"
)

// waitFor polls until the condition holds or the deadline expires. Inbound
// envelopes cross a goroutine boundary in the receive loop, so assertions
// on their effects need to wait.
func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func testPair(t *testing.T) (*Signaling, *Signaling) {
	a, b := Pair(common.NewTestEntry(t, logrus.DebugLevel))
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestExchangeDescriptions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	a, b := testPair(t)

	offererConn := connection.NewFakeConnector("offer-sdp", "answer-sdp")
	answererConn := connection.NewFakeConnector("unused", "answer-sdp")

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.ExchangeDescriptions(ctx, answererConn, false)
	}()

	if err := a.ExchangeDescriptions(ctx, offererConn, true); err != nil {
		t.Fatal(err)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}

	// The offer travels intact from the offerer to the answerer.
	remote := answererConn.RemoteDescription()
	if remote == nil || remote.Type != "offer" || remote.SDP != "offer-sdp" {
		t.Fatalf("unexpected remote offer: %+v", remote)
	}

	// And the answer travels back.
	remote = offererConn.RemoteDescription()
	if remote == nil || remote.Type != "answer" || remote.SDP != "answer-sdp" {
		t.Fatalf("unexpected remote answer: %+v", remote)
	}

	// Both peers applied their own description locally.
	local := offererConn.LocalDescription()
	if local == nil || local.Type != "offer" {
		t.Fatalf("unexpected local description: %+v", local)
	}
	local = answererConn.LocalDescription()
	if local == nil || local.Type != "answer" {
		t.Fatalf("unexpected local description: %+v", local)
	}
}

func TestExchangeCandidates(t *testing.T) {
	a, b := testPair(t)

	connA := connection.NewFakeConnector("offer-sdp", "answer-sdp")
	connB := connection.NewFakeConnector("offer-sdp", "answer-sdp")

	if err := a.ExchangeCandidates(connA); err != nil {
		t.Fatal(err)
	}
	if err := b.ExchangeCandidates(connB); err != nil {
		t.Fatal(err)
	}

	mid := "0"
	connA.EmitCandidate(&connection.Candidate{Candidate: "candidate-a", SDPMid: &mid})
	connB.EmitCandidate(&connection.Candidate{Candidate: "candidate-b"})

	// Gathering-complete markers are not forwarded.
	connA.EmitCandidate(nil)

	waitFor(t, func() bool {
		return len(connB.Candidates()) == 1 && len(connA.Candidates()) == 1
	})

	got := connB.Candidates()[0]
	if got.Candidate != "candidate-a" {
		t.Fatalf("unexpected candidate: %+v", got)
	}
	if got.SDPMid == nil || *got.SDPMid != "0" {
		t.Fatalf("sdpMid not preserved: %+v", got)
	}

	if connA.Candidates()[0].Candidate != "candidate-b" {
		t.Fatalf("unexpected candidate: %+v", connA.Candidates()[0])
	}
}

func TestSendData(t *testing.T) {
	a, b := testPair(t)

	var mu sync.Mutex
	var received []string
	if err := b.RegisterDataHandler(func(raw json.RawMessage) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			t.Error(err)
			return
		}
		mu.Lock()
		received = append(received, s)
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}

	for _, payload := range []string{"one", "two", "three"} {
		if err := a.SendData(payload); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	if received[0] != "one" || received[1] != "two" || received[2] != "three" {
		t.Fatalf("unexpected payloads: %v", received)
	}
}

func TestDoneExchange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	a, b := testPair(t)

	remoteOfA := a.Done(PassResult())
	remoteOfB := b.Done(FailureResult("data channel never opened"))

	result, err := remoteOfA.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusFail {
		t.Fatalf("expected fail from peer, got %s", result.Status)
	}
	if result.Message == nil || *result.Message != "data channel never opened" {
		t.Fatalf("unexpected message: %v", result.Message)
	}

	result, err = remoteOfB.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusPass {
		t.Fatalf("expected pass from peer, got %s", result.Status)
	}
}

// recordTransport captures sent envelopes for assertions.
type recordTransport struct {
	mu         sync.Mutex
	sent       []Envelope
	consumerCh chan Envelope
	shutdownCh chan struct{}
}

func newRecordTransport() *recordTransport {
	return &recordTransport{
		consumerCh: make(chan Envelope, 16),
		shutdownCh: make(chan struct{}),
	}
}

func (r *recordTransport) Send(env Envelope) error {
	r.mu.Lock()
	r.sent = append(r.sent, env)
	r.mu.Unlock()
	return nil
}

func (r *recordTransport) Consumer() <-chan Envelope { return r.consumerCh }
func (r *recordTransport) Shutdown() <-chan struct{} { return r.shutdownCh }
func (r *recordTransport) Err() error                { return nil }
func (r *recordTransport) Close() error              { return nil }

func (r *recordTransport) sentOfType(messageType string) []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Envelope
	for _, env := range r.sent {
		if env.Type == messageType {
			out = append(out, env)
		}
	}
	return out
}

func TestDoneSentAtMostOnce(t *testing.T) {
	transport := newRecordTransport()
	s := New(transport, common.NewTestEntry(t, logrus.DebugLevel))

	first := s.Done(PassResult())
	second := s.Done(FailureResult("late result is discarded"))

	if first != second {
		t.Fatal("expected the same remote future on repeated calls")
	}

	sent := transport.sentOfType(TypeDone)
	if len(sent) != 1 {
		t.Fatalf("expected exactly one done message, got %d", len(sent))
	}

	var result Result
	if err := json.Unmarshal(sent[0].Value, &result); err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusPass {
		t.Fatalf("expected the first result on the wire, got %s", result.Status)
	}
}

func TestSendAfterClose(t *testing.T) {
	a, b := testPair(t)

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	// The peer's consumer is gone; sends eventually hit the closed
	// transport.
	var err error
	waitFor(t, func() bool {
		err = a.SendData("anyone there")
		return err != nil
	})
	if err != ErrTransportShutdown {
		t.Fatalf("expected ErrTransportShutdown, got %v", err)
	}
}
