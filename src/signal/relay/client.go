package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mosaicnetworks/rtcsignal/src/signal"
	"github.com/sirupsen/logrus"
)

// Client is a signal.Transport relaying envelopes through a websocket
// server. The connection is established in the background: envelopes sent
// before the socket is open are queued and flushed, in order, once it
// opens; every later send goes out directly. A dial or read failure is
// fatal and surfaces through the transport's Err.
type Client struct {
	url    string
	logger *logrus.Entry

	consumerCh   chan signal.Envelope
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	mu      sync.Mutex
	conn    *websocket.Conn
	open    bool
	closed  bool
	pending []signal.Envelope
	err     error
}

// Compile-time transport check.
var _ signal.Transport = (*Client)(nil)

// NewClient instantiates a relay client and starts connecting to the given
// ws:// URL in the background.
func NewClient(url string, dialTimeout time.Duration, logger *logrus.Entry) *Client {
	c := &Client{
		url:        url,
		logger:     logger,
		consumerCh: make(chan signal.Envelope, 16),
		shutdownCh: make(chan struct{}),
	}

	go c.connect(dialTimeout)

	return c
}

func (c *Client) connect(dialTimeout time.Duration) {
	dialer := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
	}

	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		c.terminate(fmt.Errorf("connecting to relay %s: %v", c.url, err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn

	// Flush the outbound buffer in order before marking the socket open,
	// holding the lock so no concurrent send can jump ahead of the queue.
	pending := c.pending
	c.pending = nil
	for _, env := range pending {
		if err := writeEnvelope(conn, env); err != nil {
			c.mu.Unlock()
			c.terminate(fmt.Errorf("flushing queued send: %v", err))
			return
		}
	}
	c.open = true
	c.mu.Unlock()

	c.logger.WithField("url", c.url).Debug("Relay connected")

	go c.readLoop()
}

// Send implements the signal.Transport interface.
func (c *Client) Send(env signal.Envelope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return signal.ErrTransportShutdown
	}
	if !c.open {
		c.pending = append(c.pending, env)
		c.mu.Unlock()
		return nil
	}
	err := writeEnvelope(c.conn, env)
	c.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("sending to relay: %v", err)
		c.terminate(err)
		return err
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.terminate(fmt.Errorf("reading from relay: %v", err))
			return
		}

		var env signal.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.terminate(fmt.Errorf("decoding relay frame: %v", err))
			return
		}

		select {
		case c.consumerCh <- env:
		case <-c.shutdownCh:
			return
		}
	}
}

// terminate records the transport's fatal error, unless the client was
// deliberately closed, and signals shutdown.
func (c *Client) terminate(err error) {
	c.mu.Lock()
	if !c.closed && c.err == nil {
		c.err = err
	}
	c.mu.Unlock()

	c.shutdownOnce.Do(func() {
		close(c.shutdownCh)
	})
}

// Consumer implements the signal.Transport interface.
func (c *Client) Consumer() <-chan signal.Envelope {
	return c.consumerCh
}

// Shutdown implements the signal.Transport interface.
func (c *Client) Shutdown() <-chan struct{} {
	return c.shutdownCh
}

// Err implements the signal.Transport interface.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close implements the signal.Transport interface. It is safe to call
// before the connection was ever established.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.shutdownOnce.Do(func() {
		close(c.shutdownCh)
	})

	return nil
}

// writeEnvelope transmits an envelope as a single JSON text frame. The
// caller must hold the client lock: gorilla websocket connections support
// only one concurrent writer.
func writeEnvelope(conn *websocket.Conn, env signal.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}
