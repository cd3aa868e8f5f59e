package connection

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/datachannel"
	webrtc "github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

// PeerConnection implements the Connector interface around a pion
// PeerConnection. DataChannels are created with Detach enabled so that,
// once a connection is negotiated, they can be consumed as net.Conn
// streams.
type PeerConnection struct {
	pc     *webrtc.PeerConnection
	connCh chan net.Conn
	logger *logrus.Entry
}

// NewPeerConnection instantiates a PeerConnection with the provided ICE
// servers. Incoming DataChannels opened by the remote peer are aggregated
// and consumed through AcceptDataChannel.
func NewPeerConnection(iceServers []webrtc.ICEServer, logger *logrus.Entry) (*PeerConnection, error) {
	// Create a SettingEngine and enable Detach
	s := webrtc.SettingEngine{}
	s.DetachDataChannels()

	api := webrtc.NewAPI(webrtc.WithSettingEngine(s))

	config := webrtc.Configuration{
		ICEServers: iceServers,
	}

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	res := &PeerConnection{
		pc:     pc,
		connCh: make(chan net.Conn),
		logger: logger,
	}

	pc.OnICEConnectionStateChange(func(connectionState webrtc.ICEConnectionState) {
		logger.WithField("state", connectionState.String()).Debug("ICE Connection State has changed")
	})

	pc.OnDataChannel(func(d *webrtc.DataChannel) {
		res.pipeDataChannel(d)
	})

	return res, nil
}

// CreateOffer implements the Connector interface.
func (p *PeerConnection) CreateOffer() (Description, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return Description{}, err
	}
	return fromSessionDescription(offer), nil
}

// CreateAnswer implements the Connector interface.
func (p *PeerConnection) CreateAnswer() (Description, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return Description{}, err
	}
	return fromSessionDescription(answer), nil
}

// SetLocalDescription implements the Connector interface.
func (p *PeerConnection) SetLocalDescription(desc Description) error {
	return p.pc.SetLocalDescription(toSessionDescription(desc))
}

// SetRemoteDescription implements the Connector interface.
func (p *PeerConnection) SetRemoteDescription(desc Description) error {
	return p.pc.SetRemoteDescription(toSessionDescription(desc))
}

// AddCandidate implements the Connector interface.
func (p *PeerConnection) AddCandidate(cand Candidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	})
}

// OnCandidate implements the Connector interface. The callback receives nil
// when candidate gathering is complete.
func (p *PeerConnection) OnCandidate(callback func(*Candidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			callback(nil)
			return
		}
		init := c.ToJSON()
		callback(&Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
}

// Close implements the Connector interface.
func (p *PeerConnection) Close() error {
	return p.pc.Close()
}

// OpenDataChannel creates a DataChannel with the given label, waits for it
// to open, and returns it as a net.Conn wrapping the detached channel.
func (p *PeerConnection) OpenDataChannel(label string, timeout time.Duration) (net.Conn, error) {
	connCh := make(chan net.Conn, 1)

	dataChannel, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}

	dataChannel.OnOpen(func() {
		raw, err := dataChannel.Detach()
		if err != nil {
			p.logger.WithError(err).Error("Error detaching DataChannel")
			return
		}
		connCh <- NewDataChannelConn(raw)
	})

	select {
	case conn := <-connCh:
		return conn, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout waiting for DataChannel %s to open", label)
	}
}

// AcceptDataChannel waits for the remote peer to open a DataChannel and
// returns it as a net.Conn.
func (p *PeerConnection) AcceptDataChannel(timeout time.Duration) (net.Conn, error) {
	select {
	case conn := <-p.connCh:
		return conn, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout waiting for incoming DataChannel")
	}
}

func (p *PeerConnection) pipeDataChannel(dataChannel *webrtc.DataChannel) {
	dataChannel.OnOpen(func() {
		raw, err := dataChannel.Detach()
		if err != nil {
			p.logger.WithError(err).Error("Error detaching DataChannel")
			return
		}
		p.connCh <- NewDataChannelConn(raw)
	})
}

// DataChannelConn adapts a detached DataChannel to net.Conn, so the
// negotiated data stream can be handed to code written against ordinary
// network connections.
type DataChannelConn struct {
	rwc datachannel.ReadWriteCloser
}

// NewDataChannelConn wraps a detached DataChannel.
func NewDataChannelConn(rwc datachannel.ReadWriteCloser) *DataChannelConn {
	return &DataChannelConn{rwc: rwc}
}

func (c *DataChannelConn) Read(p []byte) (int, error)  { return c.rwc.Read(p) }
func (c *DataChannelConn) Write(p []byte) (int, error) { return c.rwc.Write(p) }
func (c *DataChannelConn) Close() error                { return c.rwc.Close() }

// A detached DataChannel exposes no addressing or deadline control; the
// remaining net.Conn methods are inert.

func (c *DataChannelConn) LocalAddr() net.Addr  { return nil }
func (c *DataChannelConn) RemoteAddr() net.Addr { return nil }

func (c *DataChannelConn) SetDeadline(t time.Time) error      { return nil }
func (c *DataChannelConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *DataChannelConn) SetWriteDeadline(t time.Time) error { return nil }

func toSessionDescription(desc Description) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: sdpType(desc.Type),
		SDP:  desc.SDP,
	}
}

func sdpType(raw string) webrtc.SDPType {
	switch raw {
	case "offer":
		return webrtc.SDPTypeOffer
	case "pranswer":
		return webrtc.SDPTypePranswer
	case "answer":
		return webrtc.SDPTypeAnswer
	case "rollback":
		return webrtc.SDPTypeRollback
	default:
		return webrtc.SDPType(0)
	}
}

func fromSessionDescription(desc webrtc.SessionDescription) Description {
	return Description{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}
