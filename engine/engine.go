// Package engine defines the media engine boundary the negotiator drives and
// provides its pion/webrtc implementation.
//
// Every operation completes asynchronously. Offer and answer creation hand
// back a promise; description and candidate updates are fire-and-forget and
// become visible later through LocalDescription or the Events callbacks.
package engine

import (
	"errors"

	"github.com/po-studio/negotiator/internal/candidate"
	"github.com/po-studio/negotiator/internal/rendezvous"
)

var (
	// ErrNotYetSet is returned by LocalDescription until a local
	// description has been applied.
	ErrNotYetSet = errors.New("local description not yet set")

	// ErrNegotiationFailure wraps any failure of the engine to produce an
	// offer or answer.
	ErrNegotiationFailure = errors.New("engine negotiation failure")

	ErrClosed = errors.New("engine closed")
)

type SDPType int

const (
	SDPTypeOffer SDPType = iota + 1
	SDPTypeAnswer
)

func (t SDPType) String() string {
	switch t {
	case SDPTypeOffer:
		return "offer"
	case SDPTypeAnswer:
		return "answer"
	default:
		return "unknown"
	}
}

type Description struct {
	Type SDPType
	SDP  string
}

// Transceiver describes a media line the engine added on its own.
type Transceiver struct {
	MLineIndex uint32
	Kind       string
	Direction  string
}

// Events are the callbacks an engine invokes from its own goroutines. Nil
// fields are ignored.
type Events struct {
	OnCandidate         func(candidate.Indexed)
	OnNegotiationNeeded func()
	OnNewTransceiver    func(Transceiver)
}

func (e Events) candidate(c candidate.Indexed) {
	if e.OnCandidate != nil {
		e.OnCandidate(c)
	}
}

func (e Events) negotiationNeeded() {
	if e.OnNegotiationNeeded != nil {
		e.OnNegotiationNeeded()
	}
}

func (e Events) newTransceiver(t Transceiver) {
	if e.OnNewTransceiver != nil {
		e.OnNewTransceiver(t)
	}
}

type Engine interface {
	CreateOffer() *rendezvous.Promise[Description]
	CreateAnswer() *rendezvous.Promise[Description]
	SetLocalDescription(Description)
	SetRemoteDescription(Description)
	// LocalDescription returns ErrNotYetSet until a SetLocalDescription
	// call has taken effect.
	LocalDescription() (Description, error)
	AddRemoteCandidate(candidate.Indexed)
	Close() error
}

// Factory builds a fresh engine for a session. events must be wired before
// the engine adds any media so no callback is missed.
type Factory func(sessionID string, events Events) (Engine, error)
