package harness

import (
	"sync"
	"time"

	"github.com/mosaicnetworks/rtcsignal/src/signal"
	"github.com/sirupsen/logrus"
)

// Phase tracks where a test is in its lifecycle.
type Phase int

const (
	// PhaseInitial is the phase before the test body runs.
	PhaseInitial Phase = iota

	// PhaseStarted is the phase while the test body runs.
	PhaseStarted

	// PhaseHasResult is the phase once a result has been recorded.
	PhaseHasResult

	// PhaseCleaning is the phase while cleanup callbacks run.
	PhaseCleaning

	// PhaseComplete is the terminal phase.
	PhaseComplete
)

// Test is the lifecycle record of one role's execution of a test body:
// its status, phase, and registered cleanup callbacks. The first recorded
// result wins; later calls are ignored.
type Test struct {
	name   string
	logger *logrus.Entry

	mu        sync.Mutex
	phase     Phase
	hasResult bool
	status    signal.Status
	message   string
	cleanups  []func()

	resetCh chan time.Duration
}

func newTest(name string, logger *logrus.Entry) *Test {
	return &Test{
		name:    name,
		logger:  logger,
		resetCh: make(chan time.Duration, 1),
	}
}

// Name returns the test name.
func (t *Test) Name() string {
	return t.name
}

// Phase returns the current lifecycle phase.
func (t *Test) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

func (t *Test) start() {
	t.mu.Lock()
	t.phase = PhaseStarted
	t.mu.Unlock()
}

// Pass records a pass result, unless a result was already recorded.
func (t *Test) Pass() {
	t.setResult(signal.StatusPass, "")
}

// Fail records a failure with a diagnostic message, unless a result was
// already recorded.
func (t *Test) Fail(message string) {
	t.setResult(signal.StatusFail, message)
}

func (t *Test) timedOut() {
	t.setResult(signal.StatusTimeout, "test timed out")
}

func (t *Test) setResult(status signal.Status, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hasResult {
		return
	}
	t.hasResult = true
	t.status = status
	t.message = message
	if t.phase < PhaseHasResult {
		t.phase = PhaseHasResult
	}
}

// Result returns the recorded result and whether one has been recorded.
func (t *Test) Result() (signal.Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resultLocked(), t.hasResult
}

// finalResult returns the recorded result, or an optimistic pass when the
// test is still in flight - a test is assumed successful unless proven
// otherwise.
func (t *Test) finalResult() signal.Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasResult {
		return signal.PassResult()
	}
	return t.resultLocked()
}

func (t *Test) resultLocked() signal.Result {
	result := signal.Result{Status: t.status}
	if t.message != "" {
		message := t.message
		result.Message = &message
	}
	return result
}

// OnCleanup registers a callback to run when the test completes,
// regardless of its outcome.
func (t *Test) OnCleanup(cleanup func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanups = append(t.cleanups, cleanup)
}

// runCleanups runs the registered cleanups in reverse registration order.
func (t *Test) runCleanups() {
	t.mu.Lock()
	t.phase = PhaseCleaning
	cleanups := t.cleanups
	t.cleanups = nil
	t.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}

	t.mu.Lock()
	t.phase = PhaseComplete
	t.mu.Unlock()
}

// ResetTimeout restarts the test's timeout with the given duration, giving
// a long-running body more time.
func (t *Test) ResetTimeout(d time.Duration) {
	select {
	case t.resetCh <- d:
	default:
	}
}

func (t *Test) timeoutResets() <-chan time.Duration {
	return t.resetCh
}
