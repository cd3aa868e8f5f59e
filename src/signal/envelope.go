package signal

import (
	"encoding/json"
	"errors"
)

// Message types carried in signaling envelopes.
const (
	// TypeDescription carries a session description (offer or answer).
	TypeDescription = "description"

	// TypeCandidate carries an ICE candidate.
	TypeCandidate = "candidate"

	// TypeData carries an arbitrary application payload.
	TypeData = "data"

	// TypeDone carries the sender's final test result.
	TypeDone = "done"
)

var (
	// ErrMissingType is returned when a received envelope has no type.
	ErrMissingType = errors.New("signaling message without a type")

	// ErrUnknownType is returned when a received envelope carries a type
	// that is not part of the protocol.
	ErrUnknownType = errors.New("unknown signaling message type")

	// ErrDescriptionPending is returned when a remote description is
	// requested while a previous request is still unresolved. Only one
	// description is expected to be in flight at a time.
	ErrDescriptionPending = errors.New("remote description request already pending")

	// ErrHandlerRegistered is returned when a candidate or data handler is
	// registered twice. Handlers are registered exactly once per instance.
	ErrHandlerRegistered = errors.New("handler already registered")

	// ErrTransportShutdown is returned when sending on a transport that has
	// been closed.
	ErrTransportShutdown = errors.New("transport shutdown")
)

// nullValue is the payload of an envelope that carries none.
var nullValue = json.RawMessage("null")

// Envelope is the tagged message exchanged between two signaling peers.
// On the wire it is a single JSON object {"type": ..., "value": ...},
// where value defaults to null.
type Envelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// NewEnvelope wraps a payload in an envelope of the given type. A nil
// payload is carried as JSON null.
func NewEnvelope(messageType string, payload interface{}) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: messageType, Value: nullValue}, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{Type: messageType, Value: raw}, nil
}

// Status is a test outcome exchanged in done messages.
type Status string

const (
	// StatusPass indicates the test succeeded.
	StatusPass Status = "pass"

	// StatusFail indicates the test failed.
	StatusFail Status = "fail"

	// StatusTimeout indicates the test did not complete in time.
	StatusTimeout Status = "timeout"
)

// Result is the payload of a done message: the sender's final status with
// an optional diagnostic message.
type Result struct {
	Status  Status  `json:"status"`
	Message *string `json:"message"`
}

// FailureResult builds a fail result carrying a diagnostic message.
func FailureResult(message string) Result {
	return Result{Status: StatusFail, Message: &message}
}

// PassResult builds a pass result.
func PassResult() Result {
	return Result{Status: StatusPass}
}
