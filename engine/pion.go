package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pion/ice/v2"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
	log "github.com/sirupsen/logrus"

	"github.com/po-studio/negotiator/internal/candidate"
	"github.com/po-studio/negotiator/internal/rendezvous"
)

const opQueueSize = 32

type PionConfig struct {
	ICEServers []webrtc.ICEServer
	RelayOnly  bool
	UDPPortMin uint16
	UDPPortMax uint16
	// Video and Audio add a sendrecv VP8 and Opus track to every session.
	Video         bool
	Audio         bool
	LoggerFactory logging.LoggerFactory
}

// NewPionFactory builds one webrtc.API shared by every session and returns a
// Factory that creates a peer connection per session.
func NewPionFactory(cfg PionConfig) (Factory, error) {
	api, err := configureWebRTC(cfg)
	if err != nil {
		return nil, err
	}
	return func(sessionID string, events Events) (Engine, error) {
		return NewPionEngine(api, cfg, sessionID, events)
	}, nil
}

func configureWebRTC(cfg PionConfig) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	s := webrtc.SettingEngine{}
	if cfg.UDPPortMin > 0 && cfg.UDPPortMax > 0 {
		if err := s.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("failed to set UDP port range: %w", err)
		}
	}
	if cfg.LoggerFactory != nil {
		s.LoggerFactory = cfg.LoggerFactory
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithSettingEngine(s),
	), nil
}

// PionEngine adapts a pion PeerConnection to Engine. Calls are queued and run
// one at a time on a worker goroutine, in the order they were made.
type PionEngine struct {
	id     string
	pc     *webrtc.PeerConnection
	events Events
	log    *log.Entry

	ops       chan func()
	quit      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	local *Description
}

var _ Engine = (*PionEngine)(nil)

func NewPionEngine(api *webrtc.API, cfg PionConfig, sessionID string, events Events) (*PionEngine, error) {
	policy := webrtc.ICETransportPolicyAll
	if cfg.RelayOnly {
		policy = webrtc.ICETransportPolicyRelay
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         cfg.ICEServers,
		ICETransportPolicy: policy,
		BundlePolicy:       webrtc.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	e := &PionEngine{
		id:     sessionID,
		pc:     pc,
		events: events,
		log:    log.WithFields(log.Fields{"src": "engine", "session": sessionID}),
		ops:    make(chan func(), opQueueSize),
		quit:   make(chan struct{}),
	}
	e.watch()
	go e.run()

	if err := e.addMedia(cfg); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func (e *PionEngine) watch() {
	e.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			e.log.Debug("finished gathering candidates")
			return
		}
		cand := c.ToJSON()
		var index uint32
		if cand.SDPMLineIndex != nil {
			index = uint32(*cand.SDPMLineIndex)
		}
		e.log.Debugf("new candidate: type=%s protocol=%s address=%s:%d", c.Typ, c.Protocol, c.Address, c.Port)
		e.events.candidate(candidate.Indexed{MLineIndex: index, Text: cand.Candidate})
	})

	e.pc.OnNegotiationNeeded(func() {
		e.log.Debug("negotiation needed")
		e.events.negotiationNeeded()
	})

	e.pc.OnICEGatheringStateChange(func(state webrtc.ICEGathererState) {
		e.log.Debugf("gathering state changed to %s", state)
	})

	e.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		e.log.Infof("ICE connection state changed to %s", state)
	})

	e.pc.OnTrack(e.drainRemoteTrack)
}

func (e *PionEngine) run() {
	for {
		select {
		case op := <-e.ops:
			op()
		case <-e.quit:
			return
		}
	}
}

func (e *PionEngine) enqueue(op func()) bool {
	select {
	case <-e.quit:
		return false
	default:
	}
	select {
	case e.ops <- op:
		return true
	case <-e.quit:
		return false
	}
}

func (e *PionEngine) CreateOffer() *rendezvous.Promise[Description] {
	return e.create(SDPTypeOffer, func() (webrtc.SessionDescription, error) {
		return e.pc.CreateOffer(nil)
	})
}

func (e *PionEngine) CreateAnswer() *rendezvous.Promise[Description] {
	return e.create(SDPTypeAnswer, func() (webrtc.SessionDescription, error) {
		return e.pc.CreateAnswer(nil)
	})
}

func (e *PionEngine) create(typ SDPType, fn func() (webrtc.SessionDescription, error)) *rendezvous.Promise[Description] {
	p := rendezvous.New[Description]()
	queued := e.enqueue(func() {
		desc, err := fn()
		if err != nil {
			p.Reject(fmt.Errorf("%w: create %s: %v", ErrNegotiationFailure, typ, err))
			return
		}
		p.Resolve(Description{Type: typ, SDP: desc.SDP})
	})
	if !queued {
		p.Reject(fmt.Errorf("%w: create %s: %v", ErrNegotiationFailure, typ, ErrClosed))
	}
	return p
}

func (e *PionEngine) SetLocalDescription(d Description) {
	e.enqueue(func() {
		if err := e.pc.SetLocalDescription(toPion(d)); err != nil {
			e.log.WithError(err).Errorf("failed to set local %s", d.Type)
			return
		}
		e.mu.Lock()
		e.local = &d
		e.mu.Unlock()
	})
}

func (e *PionEngine) SetRemoteDescription(d Description) {
	e.enqueue(func() {
		if err := e.pc.SetRemoteDescription(toPion(d)); err != nil {
			e.log.WithError(err).Errorf("failed to set remote %s", d.Type)
		}
	})
}

// LocalDescription returns the description exactly as it was set, without
// the candidates pion would merge into PeerConnection.LocalDescription.
func (e *PionEngine) LocalDescription() (Description, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.local == nil {
		return Description{}, ErrNotYetSet
	}
	return *e.local, nil
}

// AddRemoteCandidate forwards c to pion once it parses as an ICE candidate.
// Anything else is logged and dropped.
func (e *PionEngine) AddRemoteCandidate(c candidate.Indexed) {
	e.enqueue(func() {
		value := strings.TrimPrefix(c.Text, "candidate:")
		if _, err := ice.UnmarshalCandidate(value); err != nil {
			e.log.WithError(err).Warnf("dropping remote candidate %q", c.Text)
			return
		}
		index := uint16(c.MLineIndex)
		if err := e.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     c.Text,
			SDPMLineIndex: &index,
		}); err != nil {
			e.log.WithError(err).Warn("failed to add remote candidate")
		}
	})
}

// Close stops every transceiver and closes the peer connection. It is safe
// to call more than once.
func (e *PionEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.quit)
		for _, tr := range e.pc.GetTransceivers() {
			if stopErr := tr.Stop(); stopErr != nil {
				e.log.WithError(stopErr).Debug("failed to stop transceiver")
			}
		}
		err = e.pc.Close()
		e.log.Info("peer connection closed")
	})
	return err
}

func toPion(d Description) webrtc.SessionDescription {
	typ := webrtc.SDPTypeOffer
	if d.Type == SDPTypeAnswer {
		typ = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: typ, SDP: d.SDP}
}
