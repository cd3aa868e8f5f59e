// Package harness orchestrates signaling test executions. A Runner owns
// the execution mode decided at suite start: in loopback mode it runs both
// test roles in-process over cross-wired transports, and in cross-instance
// mode it runs a single role that signals through a relay server, gated by
// a one-time rendezvous with the peer process and finalized by a pass/fail
// reconciliation.
package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mosaicnetworks/rtcsignal/src/config"
	"github.com/mosaicnetworks/rtcsignal/src/future"
	"github.com/mosaicnetworks/rtcsignal/src/signal"
	"github.com/mosaicnetworks/rtcsignal/src/signal/relay"
	"github.com/sirupsen/logrus"
)

// TestBody is the test function run for one role. It drives the exchange
// through sig; offerer tells it which side of the offer/answer handshake
// it plays. Returning a non-nil error fails the test, unless a result was
// already recorded.
type TestBody func(ctx context.Context, t *Test, sig *signal.Signaling, offerer bool) error

// Runner executes signaling tests in the mode fixed by its configuration.
//
// In cross-instance mode, both processes must run the same tests in the
// same order: the relay channel of a test is derived from a per-runner
// counter, and the two runners pair up by running matching indices.
type Runner struct {
	cfg    *config.Config
	logger *logrus.Entry

	mu        sync.Mutex
	testIndex int

	// rendezvous is lazily initialized by the first cross-instance test
	// and awaited at most once per runner; it gates every subsequent test.
	rendezvousOnce sync.Once
	rendezvous     *future.Future[struct{}]
}

// NewRunner instantiates a Runner. The mode (loopback or cross-instance)
// is read from the configuration once and fixed for the runner's lifetime.
func NewRunner(cfg *config.Config, logger *logrus.Entry) *Runner {
	return &Runner{
		cfg:    cfg,
		logger: logger,
	}
}

// Mode describes the runner's execution mode.
func (r *Runner) Mode() string {
	if r.cfg.Loopback {
		return "loopback"
	}
	return "cross-instance"
}

// Run executes one test and returns its final result.
func (r *Runner) Run(name string, body TestBody) signal.Result {
	if r.cfg.Loopback {
		return r.runLoopback(name, body)
	}
	return r.runCrossInstance(name, body)
}

// runLoopback runs the test body concurrently for both roles over a pair
// of cross-wired signaling endpoints, and waits for both to complete. The
// test passes only if both roles pass.
func (r *Runner) runLoopback(name string, body TestBody) signal.Result {
	logger := r.logger.WithField("test", name)

	sigA, sigB := signal.Pair(logger)
	endpoints := [2]*signal.Signaling{sigA, sigB}

	var results [2]signal.Result
	var wg sync.WaitGroup
	for role := 0; role < 2; role++ {
		wg.Add(1)
		go func(role int) {
			defer wg.Done()

			test := newTest(fmt.Sprintf("%s/%d", name, role), logger.WithField("role", role))
			sig := endpoints[role]
			test.OnCleanup(func() {
				sig.Close()
			})

			r.runRole(test, sig, role == 0, body)
			test.runCleanups()
			results[role] = test.finalResult()
		}(role)
	}
	wg.Wait()

	for role, result := range results {
		if result.Status != signal.StatusPass {
			message := fmt.Sprintf("role %d: %s", role, result.Status)
			if result.Message != nil {
				message += ": " + *result.Message
			}
			return signal.FailureResult(message)
		}
	}
	return signal.PassResult()
}

// runCrossInstance runs the test body for this process's role, signaling
// through the relay server, then reconciles the result with the peer
// process.
func (r *Runner) runCrossInstance(name string, body TestBody) signal.Result {
	logger := r.logger.WithFields(logrus.Fields{
		"test": name,
		"role": r.cfg.Role,
	})

	if err := r.awaitRendezvous(); err != nil {
		return signal.FailureResult(fmt.Sprintf("rendezvous: %v", err))
	}

	index := r.nextTestIndex()
	client := relay.NewClient(
		relay.TestURL(r.cfg.RelayURL(), index, r.cfg.Role),
		r.cfg.DialTimeout,
		logger,
	)
	sig := signal.New(client, logger)

	test := newTest(name, logger)
	test.OnCleanup(func() {
		sig.Close()
	})

	r.runRole(test, sig, r.cfg.Role == 0, body)

	// Completion override: reconcile with the peer before tearing the
	// transport down. A local pass is downgraded when the remote reports
	// a non-pass result.
	result := r.reconcile(test, sig)

	test.runCleanups()

	return result
}

// runRole runs the body under the test timeout, recording its outcome.
// A fatal signaling error (protocol violation, transport failure, or
// candidate application failure) fails the test immediately.
func (r *Runner) runRole(test *Test, sig *signal.Signaling, offerer bool, body TestBody) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	test.start()

	bodyErr := make(chan error, 1)
	go func() {
		bodyErr <- body(ctx, test, sig, offerer)
	}()

	timer := time.NewTimer(r.cfg.TestTimeout)
	defer timer.Stop()

	for {
		select {
		case err := <-bodyErr:
			if err != nil {
				test.Fail(err.Error())
			} else {
				test.Pass()
			}
			return

		case err := <-sig.Fatal():
			test.Fail(err.Error())
			cancel()
			// The body's waits are context-aware; collect it before
			// returning.
			<-bodyErr
			return

		case d := <-test.timeoutResets():
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(d)

		case <-timer.C:
			test.timedOut()
			cancel()
			<-bodyErr
			return
		}
	}
}

// reconcile performs the done exchange: send the local result (an
// in-flight test counts as a pass), await the remote result, and downgrade
// a local pass to a failure when the remote disagrees.
func (r *Runner) reconcile(test *Test, sig *signal.Signaling) signal.Result {
	local := test.finalResult()

	remoteFuture := sig.Done(local)

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DoneTimeout)
	defer cancel()

	remote, err := remoteFuture.Wait(ctx)
	if err != nil {
		if local.Status != signal.StatusPass {
			return local
		}
		return signal.FailureResult(fmt.Sprintf("waiting for remote result: %v", err))
	}

	if local.Status == signal.StatusPass && remote.Status != signal.StatusPass {
		message := fmt.Sprintf("remote reported %s", remote.Status)
		if remote.Message != nil {
			message += ": " + *remote.Message
		}
		return signal.FailureResult(message)
	}

	return local
}

// awaitRendezvous blocks until the one-time rendezvous with the peer
// process has confirmed it is reachable. The exchange itself runs at most
// once per runner; every cross-instance test waits on its outcome.
func (r *Runner) awaitRendezvous() error {
	r.rendezvousOnce.Do(func() {
		r.rendezvous = future.New[struct{}]()
		go r.performRendezvous()
	})

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TestTimeout)
	defer cancel()

	_, err := r.rendezvous.Wait(ctx)
	return err
}

// performRendezvous sends a probe on the shared rendezvous channel and
// resolves the rendezvous future when the peer's probe arrives, proving a
// full round-trip through the relay.
func (r *Runner) performRendezvous() {
	logger := r.logger.WithField("role", r.cfg.Role)

	client := relay.NewClient(
		relay.RendezvousURL(r.cfg.RelayURL(), r.cfg.Role),
		r.cfg.DialTimeout,
		logger,
	)
	sig := signal.New(client, logger)
	defer sig.Close()

	ready := r.rendezvous

	err := sig.RegisterDataHandler(func(json.RawMessage) {
		ready.Resolve(struct{}{})
	})
	if err != nil {
		ready.Reject(err)
		return
	}

	if err := sig.SendData("are-you-there"); err != nil {
		ready.Reject(err)
		return
	}

	select {
	case <-ready.Done():
		logger.Debug("Rendezvous complete")
	case err := <-sig.Fatal():
		ready.Reject(err)
	}
}

func (r *Runner) nextTestIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := r.testIndex
	r.testIndex++
	return index
}
