package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/po-studio/negotiator/engine/enginetest"
	"github.com/po-studio/negotiator/internal/candidate"
)

func newAttached(phase Phase) (*Session, *enginetest.Fake) {
	s := New(phase, 4)
	fake := &enginetest.Fake{ID: s.ID}
	s.Attach(fake)
	return s, fake
}

func TestWithCurrentEmpty(t *testing.T) {
	r := NewRegistry()

	called := false
	_, err := WithCurrent(r, func(*Session) (struct{}, error) {
		called = true
		return struct{}{}, nil
	})

	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.False(t, called)
}

func TestReplaceRetiresIdleSession(t *testing.T) {
	r := NewRegistry()
	first, firstEngine := newAttached(PhaseOfferReady)
	second, _ := newAttached(PhaseIdle)

	assert.Nil(t, r.Replace(first))
	prev := r.Replace(second)

	assert.Same(t, first, prev)
	assert.True(t, firstEngine.Closed())
	assert.Equal(t, PhaseClosed, first.Phase())
	assert.True(t, r.IsCurrent(second.ID))
	assert.False(t, r.IsCurrent(first.ID))

	id, err := WithCurrent(r, func(s *Session) (string, error) { return s.ID, nil })
	require.NoError(t, err)
	assert.Equal(t, second.ID, id)
}

func TestReplaceDefersTeardownOfBusySession(t *testing.T) {
	r := NewRegistry()
	first, firstEngine := newAttached(PhaseOfferRequested)
	require.True(t, first.Begin())

	r.Replace(first)
	second, _ := newAttached(PhaseIdle)
	r.Replace(second)

	assert.True(t, first.Retired())
	assert.False(t, firstEngine.Closed())
	assert.False(t, first.Begin())

	first.End()
	assert.True(t, firstEngine.Closed())
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	s, fake := newAttached(PhaseOfferReady)
	r.Replace(s)

	assert.False(t, r.Remove("someone-else"))
	assert.True(t, r.Remove(s.ID))
	assert.True(t, fake.Closed())

	_, err := WithCurrent(r, func(*Session) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestWithCurrentPropagatesError(t *testing.T) {
	r := NewRegistry()
	s, _ := newAttached(PhaseIdle)
	r.Replace(s)
	boom := errors.New("boom")

	_, err := WithCurrent(r, func(*Session) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestConcurrentReplace(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	sessions := make([]*Session, 16)
	for i := range sessions {
		sessions[i], _ = newAttached(PhaseIdle)
	}
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			r.Replace(s)
		}(s)
	}
	wg.Wait()

	live := 0
	for _, s := range sessions {
		if !s.Retired() {
			live++
			assert.True(t, r.IsCurrent(s.ID))
		}
	}
	assert.Equal(t, 1, live)
}

func TestOfferCandidateDropsWhenFull(t *testing.T) {
	s := New(PhaseIdle, 1)
	c := candidate.Indexed{Text: "candidate:1 1 udp 1 10.0.0.1 1 typ host"}

	assert.True(t, s.OfferCandidate(c))
	assert.False(t, s.OfferCandidate(c))
	assert.Equal(t, c, <-s.Candidates())
}

func TestPhaseNegotiating(t *testing.T) {
	assert.True(t, PhaseGatheringCandidates.Negotiating())
	assert.True(t, PhaseRemoteOfferApplied.Negotiating())
	assert.False(t, PhaseOfferReady.Negotiating())
	assert.False(t, PhaseIdle.Negotiating())
	assert.Equal(t, "awaiting-local-description", PhaseAwaitingLocalDescription.String())
}
