// Package connection defines the peer-connection capability consumed by the
// signaling exchange, and provides an implementation backed by pion/webrtc.
package connection

// Description is a session description as exchanged through signaling. It
// is JSON-compatible with the RTCSessionDescription dictionaries produced
// by browsers.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is an ICE candidate as exchanged through signaling,
// JSON-compatible with RTCIceCandidateInit.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Connector is the connection-establishment capability required by the
// signaling exchange. The exchange drives it as a black box: it creates
// offers and answers, applies local and remote descriptions, and feeds
// remote candidates in as they arrive.
//
// OnCandidate registers the local candidate discovery callback. The
// callback receives nil once gathering is complete.
type Connector interface {
	CreateOffer() (Description, error)
	CreateAnswer() (Description, error)
	SetLocalDescription(desc Description) error
	SetRemoteDescription(desc Description) error
	AddCandidate(cand Candidate) error
	OnCandidate(callback func(*Candidate))
	Close() error
}
