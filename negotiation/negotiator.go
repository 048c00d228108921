// Package negotiation drives offer/answer exchanges against an engine and
// hands the finished session descriptions back to synchronous callers.
//
//	RequestOffer:  create offer -> set local -> await local description -> gather -> inject
//	ProvideOffer:  validate -> set remote -> apply remote candidates -> create answer -> (as above)
//	ProvideAnswer: validate -> set remote on current session -> apply remote candidates
//
// Each wait is bounded. A newer RequestOffer or ProvideOffer takes the
// session slot immediately; the older flow runs to the end, its result is
// discarded and its engine closed.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"

	"github.com/po-studio/negotiator/engine"
	"github.com/po-studio/negotiator/internal/candidate"
	"github.com/po-studio/negotiator/internal/rendezvous"
	"github.com/po-studio/negotiator/internal/sdpdoc"
	"github.com/po-studio/negotiator/session"
)

var (
	ErrTimeout = rendezvous.ErrTimeout

	// ErrSuperseded is returned to the caller of a flow whose session was
	// replaced before the flow finished.
	ErrSuperseded = errors.New("negotiation superseded by a newer session")
)

type Config struct {
	MaxCandidates           int
	GatherQuiescence        time.Duration
	LocalDescriptionTimeout time.Duration
	NegotiationTimeout      time.Duration
	// BundleMLineIndex is where candidates embedded in a remote description
	// are applied. Only meaningful under max-bundle.
	BundleMLineIndex uint32
	CandidateBuffer  int
}

func DefaultConfig() Config {
	return Config{
		MaxCandidates:           16,
		GatherQuiescence:        100 * time.Millisecond,
		LocalDescriptionTimeout: 5 * time.Second,
		NegotiationTimeout:      10 * time.Second,
		CandidateBuffer:         64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = d.MaxCandidates
	}
	if c.GatherQuiescence <= 0 {
		c.GatherQuiescence = d.GatherQuiescence
	}
	if c.LocalDescriptionTimeout <= 0 {
		c.LocalDescriptionTimeout = d.LocalDescriptionTimeout
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = d.NegotiationTimeout
	}
	if c.CandidateBuffer < c.MaxCandidates {
		c.CandidateBuffer = max(d.CandidateBuffer, c.MaxCandidates)
	}
	return c
}

// Status describes the current session.
type Status struct {
	ID        string    `json:"id"`
	Phase     string    `json:"phase"`
	CreatedAt time.Time `json:"createdAt"`
}

type Negotiator struct {
	cfg       Config
	registry  *session.Registry
	newEngine engine.Factory
	log       *log.Entry
}

func New(cfg Config, registry *session.Registry, newEngine engine.Factory) *Negotiator {
	return &Negotiator{
		cfg:       cfg.withDefaults(),
		registry:  registry,
		newEngine: newEngine,
		log:       log.WithField("src", "negotiator"),
	}
}

// RequestOffer starts a new session and returns its offer with the local
// candidates gathered so far.
func (n *Negotiator) RequestOffer(ctx context.Context) (string, error) {
	s, err := n.start(session.PhaseOfferRequested)
	if err != nil {
		return "", err
	}
	defer s.End()

	offer, err := n.negotiate(ctx, s, "offer", s.Engine().CreateOffer)
	return n.finish(s, session.PhaseOfferReady, offer, err)
}

// ProvideOffer starts a new session from a remote offer and returns the
// answer with the local candidates gathered so far.
func (n *Negotiator) ProvideOffer(ctx context.Context, remote string) (string, error) {
	if _, err := sdpdoc.Parse(remote); err != nil {
		return "", err
	}

	s, err := n.start(session.PhaseIdle)
	if err != nil {
		return "", err
	}
	defer s.End()

	e := s.Engine()
	e.SetRemoteDescription(engine.Description{Type: engine.SDPTypeOffer, SDP: remote})
	s.SetPhase(session.PhaseRemoteOfferApplied)
	n.applyRemoteCandidates(s, remote)

	s.SetPhase(session.PhaseAnswerRequested)
	answer, err := n.negotiate(ctx, s, "answer", e.CreateAnswer)
	return n.finish(s, session.PhaseAnswerReady, answer, err)
}

// ProvideAnswer applies a remote answer to the current session.
func (n *Negotiator) ProvideAnswer(_ context.Context, remote string) error {
	if _, err := sdpdoc.Parse(remote); err != nil {
		return err
	}

	_, err := session.WithCurrent(n.registry, func(s *session.Session) (struct{}, error) {
		if p := s.Phase(); p != session.PhaseOfferReady {
			n.log.WithField("session", s.ID).Warnf("answer arrived in phase %s", p)
		}
		s.Engine().SetRemoteDescription(engine.Description{Type: engine.SDPTypeAnswer, SDP: remote})
		n.applyRemoteCandidates(s, remote)
		s.SetPhase(session.PhaseRemoteAnswerApplied)
		return struct{}{}, nil
	})
	return err
}

// AddICECandidate hands a trickled remote candidate to the current session's
// engine as is.
func (n *Negotiator) AddICECandidate(_ context.Context, c candidate.Indexed) error {
	_, err := session.WithCurrent(n.registry, func(s *session.Session) (struct{}, error) {
		s.Engine().AddRemoteCandidate(c)
		return struct{}{}, nil
	})
	return err
}

// Stop tears down the current session.
func (n *Negotiator) Stop(_ context.Context) error {
	id, err := session.WithCurrent(n.registry, func(s *session.Session) (string, error) {
		return s.ID, nil
	})
	if err != nil {
		return err
	}
	if !n.registry.Remove(id) {
		return session.ErrNoActiveSession
	}
	n.log.WithField("session", id).Info("session stopped")
	return nil
}

func (n *Negotiator) Status() (Status, error) {
	return session.WithCurrent(n.registry, func(s *session.Session) (Status, error) {
		return Status{ID: s.ID, Phase: s.Phase().String(), CreatedAt: s.CreatedAt}, nil
	})
}

// Close tears down the current session, if any.
func (n *Negotiator) Close() {
	n.registry.Close()
}

func (n *Negotiator) start(phase session.Phase) (*session.Session, error) {
	s := session.New(phase, n.cfg.CandidateBuffer)
	logger := n.log.WithField("session", s.ID)

	e, err := n.newEngine(s.ID, engine.Events{
		OnCandidate: func(c candidate.Indexed) {
			s.OfferCandidate(c)
		},
		OnNegotiationNeeded: func() {
			n.renegotiate(s)
		},
		OnNewTransceiver: func(t engine.Transceiver) {
			logger.Infof("new %s transceiver (%s) at media line %d", t.Kind, t.Direction, t.MLineIndex)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrNegotiationFailure, err)
	}
	s.Attach(e)
	s.Begin()
	n.registry.Replace(s)

	logger.Infof("session started in phase %s", phase)
	return s, nil
}

func (n *Negotiator) negotiate(
	ctx context.Context,
	s *session.Session,
	kind string,
	create func() *rendezvous.Promise[engine.Description],
) (string, error) {
	logger := n.log.WithField("session", s.ID)
	e := s.Engine()

	desc, err := create().Wait(ctx, n.cfg.NegotiationTimeout)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", kind, err)
	}
	e.SetLocalDescription(desc)

	s.SetPhase(session.PhaseAwaitingLocalDescription)
	local, err := n.awaitLocalDescription(ctx, e)
	if err != nil {
		return "", err
	}
	doc, err := sdpdoc.Parse(local.SDP)
	if err != nil {
		return "", fmt.Errorf("local %s: %w", kind, err)
	}

	s.SetPhase(session.PhaseGatheringCandidates)
	gathered := Gather(ctx, s.Candidates(), n.cfg.MaxCandidates, n.cfg.GatherQuiescence)
	injected := doc.Inject(gathered)
	logger.Infof("%s ready with %d of %d gathered candidates", kind, injected, len(gathered))

	return doc.String(), nil
}

// awaitLocalDescription polls the engine with exponential backoff until a
// non-empty local description is visible or the deadline passes.
func (n *Negotiator) awaitLocalDescription(ctx context.Context, e engine.Engine) (engine.Description, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.MaxElapsedTime = n.cfg.LocalDescriptionTimeout

	var desc engine.Description
	err := backoff.Retry(func() error {
		d, err := e.LocalDescription()
		if err != nil {
			return err
		}
		if d.SDP == "" {
			return engine.ErrNotYetSet
		}
		desc = d
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return desc, ctxErr
		}
		return desc, fmt.Errorf("local description: %w after %s: %v", ErrTimeout, n.cfg.LocalDescriptionTimeout, err)
	}
	return desc, nil
}

func (n *Negotiator) finish(s *session.Session, ready session.Phase, sdp string, err error) (string, error) {
	logger := n.log.WithField("session", s.ID)
	current := n.registry.IsCurrent(s.ID)

	if err != nil {
		s.SetPhase(session.PhaseFailed)
		logger.WithError(err).Error("negotiation failed")
		if !current {
			return "", fmt.Errorf("%w: %v", ErrSuperseded, err)
		}
		return "", err
	}
	if !current {
		logger.Info("discarding result of superseded session")
		return "", ErrSuperseded
	}
	s.SetPhase(ready)
	return sdp, nil
}

// applyRemoteCandidates forwards the candidates embedded in a remote
// description, all at the bundle media line. Text that does not parse as a
// candidate never reaches the engine.
func (n *Negotiator) applyRemoteCandidates(s *session.Session, remote string) int {
	logger := n.log.WithField("session", s.ID)
	e := s.Engine()
	applied := 0
	for _, text := range sdpdoc.ExtractCandidates(remote) {
		if _, err := candidate.Parse(text); err != nil {
			logger.WithError(err).Debug("skipping remote candidate")
			continue
		}
		e.AddRemoteCandidate(candidate.Indexed{MLineIndex: n.cfg.BundleMLineIndex, Text: text})
		applied++
	}
	if applied > 0 {
		logger.Debugf("applied %d remote candidates at media line %d", applied, n.cfg.BundleMLineIndex)
	}
	return applied
}

// renegotiate answers the engine's renegotiation-needed event for a session
// that is not in the middle of an explicit request.
func (n *Negotiator) renegotiate(s *session.Session) {
	logger := n.log.WithField("session", s.ID)
	e := s.Engine()
	if e == nil || s.Retired() {
		return
	}
	if p := s.Phase(); !p.Settled() {
		logger.Debugf("ignoring negotiation-needed in phase %s", p)
		return
	}

	go func() {
		desc, err := e.CreateOffer().Wait(context.Background(), n.cfg.NegotiationTimeout)
		if err != nil {
			logger.WithError(err).Warn("self-initiated offer failed")
			return
		}
		e.SetLocalDescription(desc)
		logger.Info("applied self-initiated offer")
	}()
}
