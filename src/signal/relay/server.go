package relay

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server relays signaling frames between the two roles of each test
// channel. It is the server side of the cross-instance signaling system.
// Frames addressed to a role that is not yet connected are buffered and
// delivered, in order, when it connects.
type Server struct {
	address    string
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *logrus.Entry

	mu       sync.Mutex
	listener net.Listener
	channels map[string]*channel
}

// channel is one relay channel with a slot and a pending frame queue per
// role. All access goes through the channel mutex, which also serializes
// websocket writes.
type channel struct {
	mu      sync.Mutex
	conns   [2]*websocket.Conn
	pending [2][][]byte
}

// NewServer instantiates a relay server that can be run at the specified
// address.
func NewServer(address string, logger *logrus.Entry) *Server {
	s := &Server{
		address:  address,
		logger:   logger,
		channels: make(map[string]*channel),
	}

	s.httpServer = &http.Server{
		Handler: s,
	}

	return s
}

// Listen binds the server's address. It is called implicitly by Run, but
// may be called first when the address specifies an ephemeral port and the
// effective address is needed before the server runs.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.listener = listener

	return nil
}

// Run starts the relay server. It blocks until Shutdown is called.
func (s *Server) Run() error {
	if err := s.Listen(); err != nil {
		s.logger.WithError(err).Error("Run")
		return err
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	err := s.httpServer.Serve(listener)
	if err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Run")
		return err
	}
	return nil
}

// Shutdown stops the http server and drops every relayed connection.
func (s *Server) Shutdown() {
	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		s.logger.WithError(err).Error("Shutting down http server")
	}

	// Upgraded connections are not covered by http.Server.Shutdown.
	s.mu.Lock()
	channels := s.channels
	s.channels = make(map[string]*channel)
	s.mu.Unlock()

	for _, ch := range channels {
		ch.mu.Lock()
		for _, conn := range ch.conns {
			if conn != nil {
				conn.Close()
			}
		}
		ch.mu.Unlock()
	}
}

// Addr returns the address of the server. After Listen it reflects the
// effective address, including any kernel-assigned port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

// ServeHTTP upgrades a relay client and forwards its frames to the other
// role of its channel until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name, role, err := parsePath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("Upgrading relay connection")
		return
	}

	ch := s.getChannel(name)

	if err := ch.register(role, conn); err != nil {
		s.logger.WithFields(logrus.Fields{
			"channel": name,
			"role":    role,
		}).WithError(err).Error("Registering relay connection")
		conn.Close()
		return
	}

	s.logger.WithFields(logrus.Fields{
		"channel": name,
		"role":    role,
	}).Debug("Relay peer connected")

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if err := ch.forward(role, frame); err != nil {
			s.logger.WithField("channel", name).WithError(err).Error("Forwarding frame")
			break
		}
	}

	conn.Close()
	ch.unregister(role, conn)
	s.collectChannel(name, ch)

	s.logger.WithFields(logrus.Fields{
		"channel": name,
		"role":    role,
	}).Debug("Relay peer disconnected")
}

func (s *Server) getChannel(name string) *channel {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[name]
	if !ok {
		ch = &channel{}
		s.channels[name] = ch
	}
	return ch
}

// collectChannel drops a channel once both roles have disconnected and no
// frames remain buffered.
func (s *Server) collectChannel(name string, ch *channel) {
	ch.mu.Lock()
	empty := ch.conns[0] == nil && ch.conns[1] == nil &&
		len(ch.pending[0]) == 0 && len(ch.pending[1]) == 0
	ch.mu.Unlock()

	if !empty {
		return
	}

	s.mu.Lock()
	if current, ok := s.channels[name]; ok && current == ch {
		delete(s.channels, name)
	}
	s.mu.Unlock()
}

// register attaches a connection to its role slot and delivers any frames
// buffered for it, in their original order.
func (ch *channel) register(role int, conn *websocket.Conn) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.conns[role] != nil {
		return fmt.Errorf("role %d already connected", role)
	}
	ch.conns[role] = conn

	for _, frame := range ch.pending[role] {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return err
		}
	}
	ch.pending[role] = nil

	return nil
}

func (ch *channel) unregister(role int, conn *websocket.Conn) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.conns[role] == conn {
		ch.conns[role] = nil
	}
}

// forward relays a frame from one role to the other, buffering it if the
// other role is not connected yet.
func (ch *channel) forward(from int, frame []byte) error {
	target := 1 - from

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if conn := ch.conns[target]; conn != nil {
		return conn.WriteMessage(websocket.TextMessage, frame)
	}

	ch.pending[target] = append(ch.pending[target], frame)
	return nil
}

// parsePath extracts the channel name and role from a relay request path,
// /<channel>/<role> with role 0 or 1.
func parsePath(path string) (string, int, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, fmt.Errorf("malformed relay path %q", path)
	}

	var role int
	switch parts[1] {
	case "0":
		role = 0
	case "1":
		role = 1
	default:
		return "", 0, fmt.Errorf("malformed relay role %q", parts[1])
	}

	return parts[0], role, nil
}
