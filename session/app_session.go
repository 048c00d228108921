package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/po-studio/negotiator/engine"
	"github.com/po-studio/negotiator/internal/candidate"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOfferRequested
	PhaseRemoteOfferApplied
	PhaseAnswerRequested
	PhaseAwaitingLocalDescription
	PhaseGatheringCandidates
	PhaseOfferReady
	PhaseAnswerReady
	PhaseRemoteAnswerApplied
	PhaseFailed
	PhaseClosed
)

var phaseNames = map[Phase]string{
	PhaseIdle:                     "idle",
	PhaseOfferRequested:           "offer-requested",
	PhaseRemoteOfferApplied:       "remote-offer-applied",
	PhaseAnswerRequested:          "answer-requested",
	PhaseAwaitingLocalDescription: "awaiting-local-description",
	PhaseGatheringCandidates:      "gathering-candidates",
	PhaseOfferReady:               "offer-ready",
	PhaseAnswerReady:              "answer-ready",
	PhaseRemoteAnswerApplied:      "remote-answer-applied",
	PhaseFailed:                   "failed",
	PhaseClosed:                   "closed",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// Settled reports whether the session finished an explicit request and
// may renegotiate on its own.
func (p Phase) Settled() bool {
	return p == PhaseOfferReady || p == PhaseAnswerReady || p == PhaseRemoteAnswerApplied
}

// Negotiating reports whether an explicit offer or answer request is in
// progress.
func (p Phase) Negotiating() bool {
	switch p {
	case PhaseOfferRequested, PhaseRemoteOfferApplied, PhaseAnswerRequested,
		PhaseAwaitingLocalDescription, PhaseGatheringCandidates:
		return true
	}
	return false
}

// Session is one negotiation against one engine. It owns the channel the
// engine's candidate callback feeds.
type Session struct {
	ID        string
	CreatedAt time.Time

	engine     engine.Engine
	candidates chan candidate.Indexed
	log        *log.Entry

	mu      sync.Mutex
	phase   Phase
	busy    bool
	retired bool

	closeOnce sync.Once
}

// New creates a session with a fresh ID in the given phase. The engine is
// attached later with Attach so its callbacks can refer to the session.
func New(phase Phase, candidateBuffer int) *Session {
	id := uuid.NewString()
	return &Session{
		ID:         id,
		CreatedAt:  time.Now(),
		candidates: make(chan candidate.Indexed, candidateBuffer),
		log:        log.WithFields(log.Fields{"src": "session", "session": id}),
		phase:      phase,
	}
}

func (s *Session) Attach(e engine.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = e
}

// Engine returns the attached engine, or nil before Attach.
func (s *Session) Engine() engine.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Candidates is the receive side of the session's candidate channel.
func (s *Session) Candidates() <-chan candidate.Indexed { return s.candidates }

// OfferCandidate queues a locally gathered candidate without blocking the
// engine. It reports false when the buffer is full and c was dropped.
func (s *Session) OfferCandidate(c candidate.Indexed) bool {
	select {
	case s.candidates <- c:
		return true
	default:
		s.log.Warnf("candidate buffer full, dropping %s", c.Text)
		return false
	}
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) SetPhase(p Phase) {
	s.mu.Lock()
	prev := s.phase
	s.phase = p
	s.mu.Unlock()
	if prev != p {
		s.log.Debugf("phase %s -> %s", prev, p)
	}
}

// Begin marks a negotiation flow as running on this session. It returns
// false if the session was already retired.
func (s *Session) Begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return false
	}
	s.busy = true
	return true
}

// End marks the running flow as finished. A session retired while the flow
// ran is torn down now.
func (s *Session) End() {
	s.mu.Lock()
	s.busy = false
	retired := s.retired
	s.mu.Unlock()
	if retired {
		s.teardown()
	}
}

// Retire is the replacement hook: the engine is closed immediately when the
// session is idle, otherwise when the running flow calls End.
func (s *Session) Retire() {
	s.mu.Lock()
	s.retired = true
	busy := s.busy
	s.mu.Unlock()
	if !busy {
		s.teardown()
	}
}

func (s *Session) Retired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}

func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		s.SetPhase(PhaseClosed)
		e := s.Engine()
		if e == nil {
			return
		}
		if err := e.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close engine")
			return
		}
		s.log.Info("session torn down")
	})
}
