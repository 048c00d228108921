// Package enginetest provides a scriptable engine.Engine for tests.
package enginetest

import (
	"fmt"
	"sync"
	"time"

	"github.com/po-studio/negotiator/engine"
	"github.com/po-studio/negotiator/internal/candidate"
	"github.com/po-studio/negotiator/internal/rendezvous"
)

// Fake answers CreateOffer/CreateAnswer with canned SDP and emits its
// Candidates shortly after a local description is set. Configure fields
// before the fake is handed to a negotiator.
type Fake struct {
	ID     string
	Events engine.Events

	OfferSDP  string
	AnswerSDP string
	CreateErr error
	// Hold, when non-nil, blocks offer/answer creation until it is closed.
	Hold chan struct{}
	// PendingPolls is how many LocalDescription calls report ErrNotYetSet
	// after the description was set.
	PendingPolls int
	// IgnoreSetLocal leaves the local description unset forever.
	IgnoreSetLocal bool
	Candidates     []candidate.Indexed
	CandidateDelay time.Duration

	mu               sync.Mutex
	local            *engine.Description
	remote           []engine.Description
	remoteCandidates []candidate.Indexed
	setLocalCalls    int
	closed           bool
}

var _ engine.Engine = (*Fake)(nil)

func (f *Fake) CreateOffer() *rendezvous.Promise[engine.Description] {
	return f.create(engine.SDPTypeOffer, f.OfferSDP)
}

func (f *Fake) CreateAnswer() *rendezvous.Promise[engine.Description] {
	return f.create(engine.SDPTypeAnswer, f.AnswerSDP)
}

func (f *Fake) create(typ engine.SDPType, sdp string) *rendezvous.Promise[engine.Description] {
	return rendezvous.Go(func() (engine.Description, error) {
		if f.Hold != nil {
			<-f.Hold
		}
		if f.CreateErr != nil {
			return engine.Description{}, fmt.Errorf("%w: %v", engine.ErrNegotiationFailure, f.CreateErr)
		}
		return engine.Description{Type: typ, SDP: sdp}, nil
	})
}

func (f *Fake) SetLocalDescription(d engine.Description) {
	f.mu.Lock()
	f.setLocalCalls++
	if !f.IgnoreSetLocal {
		f.local = &d
	}
	f.mu.Unlock()

	go func() {
		for _, c := range f.Candidates {
			if f.CandidateDelay > 0 {
				time.Sleep(f.CandidateDelay)
			}
			f.Emit(c)
		}
	}()
}

func (f *Fake) SetRemoteDescription(d engine.Description) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = append(f.remote, d)
}

func (f *Fake) LocalDescription() (engine.Description, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.local == nil {
		return engine.Description{}, engine.ErrNotYetSet
	}
	if f.PendingPolls > 0 {
		f.PendingPolls--
		return engine.Description{}, engine.ErrNotYetSet
	}
	return *f.local, nil
}

func (f *Fake) AddRemoteCandidate(c candidate.Indexed) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteCandidates = append(f.remoteCandidates, c)
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Emit delivers c through the candidate callback.
func (f *Fake) Emit(c candidate.Indexed) {
	if f.Events.OnCandidate != nil {
		f.Events.OnCandidate(c)
	}
}

// NeedNegotiation fires the renegotiation-needed callback.
func (f *Fake) NeedNegotiation() {
	if f.Events.OnNegotiationNeeded != nil {
		f.Events.OnNegotiationNeeded()
	}
}

func (f *Fake) Remote() []engine.Description {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Description(nil), f.remote...)
}

func (f *Fake) RemoteCandidates() []candidate.Indexed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]candidate.Indexed(nil), f.remoteCandidates...)
}

func (f *Fake) SetLocalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setLocalCalls
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Factory records every Fake it builds. Configure, when set, runs on each
// new Fake before it is returned.
type Factory struct {
	Configure func(*Fake)
	Err       error

	mu    sync.Mutex
	fakes []*Fake
}

func (f *Factory) New(sessionID string, events engine.Events) (engine.Engine, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	fake := &Fake{ID: sessionID, Events: events}
	if f.Configure != nil {
		f.Configure(fake)
	}
	f.mu.Lock()
	f.fakes = append(f.fakes, fake)
	f.mu.Unlock()
	return fake, nil
}

func (f *Factory) Engines() []*Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Fake(nil), f.fakes...)
}

// Last returns the most recently built Fake, or nil.
func (f *Factory) Last() *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fakes) == 0 {
		return nil
	}
	return f.fakes[len(f.fakes)-1]
}
