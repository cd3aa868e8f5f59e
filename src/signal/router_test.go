package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mosaicnetworks/rtcsignal/src/common"
	"github.com/sirupsen/logrus"
)

func testRouter(t *testing.T) *Router {
	return NewRouter(common.NewTestEntry(t, logrus.DebugLevel))
}

func mustEnvelope(t *testing.T, messageType string, payload interface{}) Envelope {
	env, err := NewEnvelope(messageType, payload)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestReceiveRejectsMissingType(t *testing.T) {
	router := testRouter(t)

	err := router.Receive(Envelope{Value: json.RawMessage(`"x"`)})
	if !errors.Is(err, ErrMissingType) {
		t.Fatalf("expected ErrMissingType, got %v", err)
	}
}

func TestReceiveRejectsUnknownType(t *testing.T) {
	router := testRouter(t)

	err := router.Receive(Envelope{Type: "negotiate"})
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestReceiveDefaultsValueToNull(t *testing.T) {
	router := testRouter(t)

	var got json.RawMessage
	if err := router.RegisterDataHandler(func(raw json.RawMessage) {
		got = raw
	}); err != nil {
		t.Fatal(err)
	}

	if err := router.Receive(Envelope{Type: TypeData}); err != nil {
		t.Fatal(err)
	}

	if string(got) != "null" {
		t.Fatalf("expected null payload, got %q", got)
	}
}

// The resolved description must be the same whether the request is made
// before or after the message arrives.
func TestDescriptionBeforeAndAfterArrival(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Arrival first.
	router := testRouter(t)
	if err := router.Receive(mustEnvelope(t, TypeDescription, "sdp-1")); err != nil {
		t.Fatal(err)
	}
	pending, err := router.RemoteDescription()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := pending.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `"sdp-1"` {
		t.Fatalf("expected sdp-1, got %s", raw)
	}

	// Request first.
	router = testRouter(t)
	pending, err = router.RemoteDescription()
	if err != nil {
		t.Fatal(err)
	}
	if err := router.Receive(mustEnvelope(t, TypeDescription, "sdp-2")); err != nil {
		t.Fatal(err)
	}
	raw, err = pending.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `"sdp-2"` {
		t.Fatalf("expected sdp-2, got %s", raw)
	}
}

func TestSecondDescriptionRequestWhilePending(t *testing.T) {
	router := testRouter(t)

	if _, err := router.RemoteDescription(); err != nil {
		t.Fatal(err)
	}
	if _, err := router.RemoteDescription(); !errors.Is(err, ErrDescriptionPending) {
		t.Fatalf("expected ErrDescriptionPending, got %v", err)
	}
}

func TestSequentialDescriptionRequests(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	router := testRouter(t)

	first, err := router.RemoteDescription()
	if err != nil {
		t.Fatal(err)
	}
	if err := router.Receive(mustEnvelope(t, TypeDescription, "one")); err != nil {
		t.Fatal(err)
	}
	if _, err := first.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	// A new request is allowed once the previous one resolved.
	second, err := router.RemoteDescription()
	if err != nil {
		t.Fatal(err)
	}
	if err := router.Receive(mustEnvelope(t, TypeDescription, "two")); err != nil {
		t.Fatal(err)
	}
	raw, err := second.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `"two"` {
		t.Fatalf("expected two, got %s", raw)
	}
}

func TestHandlerRegisteredOnce(t *testing.T) {
	router := testRouter(t)

	handler := func(json.RawMessage) {}

	if err := router.RegisterCandidateHandler(handler); err != nil {
		t.Fatal(err)
	}
	if err := router.RegisterCandidateHandler(handler); !errors.Is(err, ErrHandlerRegistered) {
		t.Fatalf("expected ErrHandlerRegistered, got %v", err)
	}

	if err := router.RegisterDataHandler(handler); err != nil {
		t.Fatal(err)
	}
	if err := router.RegisterDataHandler(handler); !errors.Is(err, ErrHandlerRegistered) {
		t.Fatalf("expected ErrHandlerRegistered, got %v", err)
	}
}

// Queued messages are delivered exactly once, in arrival order, regardless
// of when consumers are registered.
func TestQueuedDeliveryOrder(t *testing.T) {
	router := testRouter(t)

	for _, payload := range []string{"c-1", "d-1", "c-2", "d-2"} {
		messageType := TypeCandidate
		if payload[0] == 'd' {
			messageType = TypeData
		}
		if err := router.Receive(mustEnvelope(t, messageType, payload)); err != nil {
			t.Fatal(err)
		}
	}

	var candidates []string
	if err := router.RegisterCandidateHandler(func(raw json.RawMessage) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			t.Error(err)
			return
		}
		candidates = append(candidates, s)
	}); err != nil {
		t.Fatal(err)
	}

	if len(candidates) != 2 || candidates[0] != "c-1" || candidates[1] != "c-2" {
		t.Fatalf("unexpected candidate delivery: %v", candidates)
	}

	var data []string
	if err := router.RegisterDataHandler(func(raw json.RawMessage) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			t.Error(err)
			return
		}
		data = append(data, s)
	}); err != nil {
		t.Fatal(err)
	}

	if len(data) != 2 || data[0] != "d-1" || data[1] != "d-2" {
		t.Fatalf("unexpected data delivery: %v", data)
	}

	// Later messages go straight to the handlers; nothing is delivered
	// twice.
	if err := router.Receive(mustEnvelope(t, TypeCandidate, "c-3")); err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 3 || candidates[2] != "c-3" {
		t.Fatalf("unexpected candidate delivery: %v", candidates)
	}
}

// A handler may deliver messages re-entrantly while a replay is running;
// they land in the fresh queue instead of deadlocking or getting lost.
func TestReentrantDeliveryDuringReplay(t *testing.T) {
	router := testRouter(t)

	if err := router.Receive(mustEnvelope(t, TypeData, "first")); err != nil {
		t.Fatal(err)
	}

	var delivered []string
	if err := router.RegisterDataHandler(func(raw json.RawMessage) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			t.Error(err)
			return
		}
		delivered = append(delivered, s)
		if s == "first" {
			if err := router.Receive(mustEnvelope(t, TypeData, "second")); err != nil {
				t.Error(err)
			}
		}
	}); err != nil {
		t.Fatal(err)
	}

	if len(delivered) != 2 || delivered[0] != "first" || delivered[1] != "second" {
		t.Fatalf("unexpected delivery: %v", delivered)
	}
}

// An envelope arriving on another goroutine while a replay is draining is
// delivered after the whole captured batch, never interleaved before it.
func TestArrivalDuringReplayTrailsCapturedBatch(t *testing.T) {
	router := testRouter(t)

	for i := 0; i < 5; i++ {
		if err := router.Receive(mustEnvelope(t, TypeCandidate, fmt.Sprintf("queued-%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	freshEnv := mustEnvelope(t, TypeCandidate, "fresh")

	var delivered []string
	if err := router.RegisterCandidateHandler(func(raw json.RawMessage) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			t.Error(err)
			return
		}
		if len(delivered) == 0 {
			// Concurrent arrival mid-batch. Receive returns once the
			// envelope has been accepted, so it is in the inbox before the
			// replay moves on.
			received := make(chan error, 1)
			go func() {
				received <- router.Receive(freshEnv)
			}()
			if err := <-received; err != nil {
				t.Error(err)
			}
		}
		delivered = append(delivered, s)
	}); err != nil {
		t.Fatal(err)
	}

	if len(delivered) != 6 {
		t.Fatalf("expected 6 deliveries, got %v", delivered)
	}
	for i := 0; i < 5; i++ {
		if delivered[i] != fmt.Sprintf("queued-%d", i) {
			t.Fatalf("captured batch out of order: %v", delivered)
		}
	}
	if delivered[5] != "fresh" {
		t.Fatalf("fresh arrival overtook the captured batch: %v", delivered)
	}
}

func TestDoneNeedsNoConsumer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	router := testRouter(t)

	if err := router.Receive(mustEnvelope(t, TypeDone, FailureResult("boom"))); err != nil {
		t.Fatal(err)
	}

	result, err := router.RemoteDone().Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusFail {
		t.Fatalf("expected fail, got %s", result.Status)
	}
	if result.Message == nil || *result.Message != "boom" {
		t.Fatalf("unexpected message: %v", result.Message)
	}
}
