package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/po-studio/negotiator/internal/candidate"
	"github.com/po-studio/negotiator/internal/sdpdoc"
)

func newTestEngine(t *testing.T, events Events) *PionEngine {
	t.Helper()
	cfg := PionConfig{Video: true, Audio: true}
	api, err := configureWebRTC(cfg)
	require.NoError(t, err)

	e, err := NewPionEngine(api, cfg, "test", events)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestPionEngineReportsTransceivers(t *testing.T) {
	var (
		mu    sync.Mutex
		added []Transceiver
	)
	newTestEngine(t, Events{OnNewTransceiver: func(tr Transceiver) {
		mu.Lock()
		added = append(added, tr)
		mu.Unlock()
	}})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, added, 2)
	assert.Equal(t, Transceiver{MLineIndex: 0, Kind: "video", Direction: "sendrecv"}, added[0])
	assert.Equal(t, Transceiver{MLineIndex: 1, Kind: "audio", Direction: "sendrecv"}, added[1])
}

func TestPionEngineOffer(t *testing.T) {
	e := newTestEngine(t, Events{})

	_, err := e.LocalDescription()
	assert.ErrorIs(t, err, ErrNotYetSet)

	offer, err := e.CreateOffer().Wait(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, SDPTypeOffer, offer.Type)

	doc, err := sdpdoc.Parse(offer.SDP)
	require.NoError(t, err)
	require.Equal(t, 2, doc.Len())
	video, _ := doc.Media(0)
	assert.Equal(t, "video", video.Kind())
	assert.Contains(t, offer.SDP, "a=group:BUNDLE")

	e.SetLocalDescription(offer)
	require.Eventually(t, func() bool {
		got, err := e.LocalDescription()
		return err == nil && got.SDP == offer.SDP
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPionEngineAnswerNeedsRemoteOffer(t *testing.T) {
	e := newTestEngine(t, Events{})

	_, err := e.CreateAnswer().Wait(context.Background(), 5*time.Second)
	assert.ErrorIs(t, err, ErrNegotiationFailure)
}

func TestPionEngineAnswersRemoteOffer(t *testing.T) {
	offerer := newTestEngine(t, Events{})
	offer, err := offerer.CreateOffer().Wait(context.Background(), 5*time.Second)
	require.NoError(t, err)

	answerer := newTestEngine(t, Events{})
	answerer.SetRemoteDescription(offer)
	answer, err := answerer.CreateAnswer().Wait(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, SDPTypeAnswer, answer.Type)
	assert.True(t, strings.HasPrefix(answer.SDP, "v=0"))
}

func TestPionEngineDropsMalformedRemoteCandidate(t *testing.T) {
	e := newTestEngine(t, Events{})

	e.AddRemoteCandidate(candidate.Indexed{MLineIndex: 0, Text: "candidate:not a candidate"})
	e.AddRemoteCandidate(candidate.Indexed{MLineIndex: 7, Text: ""})

	// the worker is still serving calls afterwards
	_, err := e.CreateOffer().Wait(context.Background(), 5*time.Second)
	assert.NoError(t, err)
}

func TestPionEngineClosed(t *testing.T) {
	e := newTestEngine(t, Events{})
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.CreateOffer().Wait(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrNegotiationFailure)
	assert.True(t, errors.Is(err, ErrNegotiationFailure))
}
