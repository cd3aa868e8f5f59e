package signal

import (
	"sync"
)

// Transport moves envelopes between two signaling peers. Implementations
// deliver inbound envelopes through the Consumer channel and close the
// Shutdown channel when they terminate, after which Err reports the fatal
// cause, if any.
type Transport interface {
	// Send transmits an envelope to the peer. It does not wait for any
	// acknowledgement.
	Send(env Envelope) error

	// Consumer returns the channel carrying inbound envelopes.
	Consumer() <-chan Envelope

	// Shutdown returns a channel that is closed when the transport
	// terminates, whether through Close or a transport failure.
	Shutdown() <-chan struct{}

	// Err returns the transport's fatal error. It is valid once the
	// Shutdown channel is closed, and is nil after a clean Close.
	Err() error

	// Close permanently closes the transport. It is safe to call multiple
	// times, and before the transport ever connected.
	Close() error
}

// directTransport connects two in-process signaling peers. Send forwards
// the envelope straight into the peer's consumer channel without
// serialization. There are no failure modes beyond shutdown.
type directTransport struct {
	consumerCh   chan Envelope
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	peer         *directTransport
}

// newDirectPair returns two cross-wired direct transports.
func newDirectPair() (*directTransport, *directTransport) {
	a := &directTransport{
		consumerCh: make(chan Envelope, 16),
		shutdownCh: make(chan struct{}),
	}
	b := &directTransport{
		consumerCh: make(chan Envelope, 16),
		shutdownCh: make(chan struct{}),
	}
	a.peer = b
	b.peer = a
	return a, b
}

// Send implements the Transport interface.
func (d *directTransport) Send(env Envelope) error {
	select {
	case d.peer.consumerCh <- env:
		return nil
	case <-d.peer.shutdownCh:
		return ErrTransportShutdown
	case <-d.shutdownCh:
		return ErrTransportShutdown
	}
}

// Consumer implements the Transport interface.
func (d *directTransport) Consumer() <-chan Envelope {
	return d.consumerCh
}

// Shutdown implements the Transport interface.
func (d *directTransport) Shutdown() <-chan struct{} {
	return d.shutdownCh
}

// Err implements the Transport interface. A direct transport has no
// failure modes.
func (d *directTransport) Err() error {
	return nil
}

// Close implements the Transport interface.
func (d *directTransport) Close() error {
	d.shutdownOnce.Do(func() {
		close(d.shutdownCh)
	})
	return nil
}
