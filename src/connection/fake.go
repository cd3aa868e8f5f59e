package connection

import "sync"

// FakeConnector is an in-memory Connector for tests and examples. It
// fabricates descriptions from seeded SDP strings and records everything
// applied to it. Candidate discovery is driven explicitly through
// EmitCandidate.
type FakeConnector struct {
	offerSDP  string
	answerSDP string

	mu          sync.Mutex
	local       *Description
	remote      *Description
	candidates  []Candidate
	onCandidate func(*Candidate)
}

// NewFakeConnector instantiates a FakeConnector whose offers and answers
// carry the given SDP strings.
func NewFakeConnector(offerSDP string, answerSDP string) *FakeConnector {
	return &FakeConnector{
		offerSDP:  offerSDP,
		answerSDP: answerSDP,
	}
}

// CreateOffer implements the Connector interface.
func (f *FakeConnector) CreateOffer() (Description, error) {
	return Description{Type: "offer", SDP: f.offerSDP}, nil
}

// CreateAnswer implements the Connector interface.
func (f *FakeConnector) CreateAnswer() (Description, error) {
	return Description{Type: "answer", SDP: f.answerSDP}, nil
}

// SetLocalDescription implements the Connector interface.
func (f *FakeConnector) SetLocalDescription(desc Description) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local = &desc
	return nil
}

// SetRemoteDescription implements the Connector interface.
func (f *FakeConnector) SetRemoteDescription(desc Description) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = &desc
	return nil
}

// AddCandidate implements the Connector interface.
func (f *FakeConnector) AddCandidate(cand Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, cand)
	return nil
}

// OnCandidate implements the Connector interface.
func (f *FakeConnector) OnCandidate(callback func(*Candidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = callback
}

// Close implements the Connector interface.
func (f *FakeConnector) Close() error {
	return nil
}

// EmitCandidate drives the candidate discovery callback with a local
// candidate, or with nil to signal the end of gathering.
func (f *FakeConnector) EmitCandidate(cand *Candidate) {
	f.mu.Lock()
	callback := f.onCandidate
	f.mu.Unlock()

	if callback != nil {
		callback(cand)
	}
}

// LocalDescription returns the applied local description, if any.
func (f *FakeConnector) LocalDescription() *Description {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

// RemoteDescription returns the applied remote description, if any.
func (f *FakeConnector) RemoteDescription() *Description {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

// Candidates returns the remote candidates applied so far.
func (f *FakeConnector) Candidates() []Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := make([]Candidate, len(f.candidates))
	copy(res, f.candidates)
	return res
}
