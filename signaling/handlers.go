// Package signaling exposes the negotiator over HTTP and WebSocket.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pion/webrtc/v3"
	log "github.com/sirupsen/logrus"

	"github.com/po-studio/negotiator/engine"
	"github.com/po-studio/negotiator/internal/candidate"
	"github.com/po-studio/negotiator/internal/sdpdoc"
	"github.com/po-studio/negotiator/negotiation"
	"github.com/po-studio/negotiator/session"
)

const maxBodyBytes = 1 << 20

// Negotiator is the set of operations the handlers serve.
type Negotiator interface {
	RequestOffer(ctx context.Context) (string, error)
	ProvideOffer(ctx context.Context, remote string) (string, error)
	ProvideAnswer(ctx context.Context, remote string) error
	AddICECandidate(ctx context.Context, c candidate.Indexed) error
	Stop(ctx context.Context) error
	Status() (negotiation.Status, error)
}

// SessionDescription is the JSON form browsers produce for
// RTCSessionDescription.
type SessionDescription struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// ICECandidateRequest is the JSON form of RTCIceCandidateInit. The media
// line comes from the URL, not from sdpMLineIndex.
type ICECandidateRequest struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type Handler struct {
	negotiator Negotiator
	iceConfig  webrtc.Configuration
	log        *log.Entry
}

func NewHandler(n Negotiator, iceConfig webrtc.Configuration) *Handler {
	return &Handler{
		negotiator: n,
		iceConfig:  iceConfig,
		log:        log.WithField("src", "signaling"),
	}
}

// HandleRequestOffer starts a new session and replies with its offer.
func (h *Handler) HandleRequestOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := h.negotiator.RequestOffer(r.Context())
	if err != nil {
		h.writeError(w, "request offer", err)
		return
	}
	writeSDP(w, offer)
}

// HandleProvideOffer answers a remote offer.
func (h *Handler) HandleProvideOffer(w http.ResponseWriter, r *http.Request) {
	remote, err := readDescription(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	answer, err := h.negotiator.ProvideOffer(r.Context(), remote)
	if err != nil {
		h.writeError(w, "provide offer", err)
		return
	}
	writeSDP(w, answer)
}

// HandleProvideAnswer applies the browser's answer to the current session.
func (h *Handler) HandleProvideAnswer(w http.ResponseWriter, r *http.Request) {
	remote, err := readDescription(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.negotiator.ProvideAnswer(r.Context(), remote); err != nil {
		h.writeError(w, "provide answer", err)
		return
	}
	writeOK(w)
}

// HandleAddICECandidate trickles one remote candidate into the current
// session. The candidate text is not checked here.
func (h *Handler) HandleAddICECandidate(w http.ResponseWriter, r *http.Request) {
	mline, err := strconv.ParseUint(mux.Vars(r)["mline"], 10, 32)
	if err != nil {
		http.Error(w, "invalid media line index", http.StatusBadRequest)
		return
	}
	text, err := readCandidate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c := candidate.Indexed{MLineIndex: uint32(mline), Text: text}
	if err := h.negotiator.AddICECandidate(r.Context(), c); err != nil {
		h.writeError(w, "add ICE candidate", err)
		return
	}
	writeOK(w)
}

// HandleStop tears down the current session.
func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.negotiator.Stop(r.Context()); err != nil {
		h.writeError(w, "stop", err)
		return
	}
	writeOK(w)
}

func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	status, err := h.negotiator.Status()
	if err != nil {
		h.writeError(w, "session status", err)
		return
	}
	writeJSON(w, status)
}

// HandleConfig returns the ICE configuration a browser should use.
func (h *Handler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.iceConfig)
}

// StatusFor maps negotiation errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, sdpdoc.ErrMalformedSdp):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoActiveSession), errors.Is(err, negotiation.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, negotiation.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, engine.ErrNegotiationFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	entry := h.log.WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Errorf("%s failed", op)
	} else {
		entry.Warnf("%s rejected", op)
	}
	http.Error(w, err.Error(), status)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("body larger than %d bytes", maxBodyBytes)
	}
	return body, nil
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// readDescription accepts raw SDP text or a JSON SessionDescription.
func readDescription(r *http.Request) (string, error) {
	body, err := readBody(r)
	if err != nil {
		return "", err
	}
	if !isJSON(r) {
		return string(body), nil
	}
	var desc SessionDescription
	if err := json.Unmarshal(body, &desc); err != nil {
		return "", fmt.Errorf("invalid session description: %w", err)
	}
	return desc.SDP, nil
}

// readCandidate accepts raw candidate text or a JSON ICECandidateRequest.
func readCandidate(r *http.Request) (string, error) {
	body, err := readBody(r)
	if err != nil {
		return "", err
	}
	if !isJSON(r) {
		return strings.TrimSpace(string(body)), nil
	}
	var req ICECandidateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", fmt.Errorf("invalid ICE candidate: %w", err)
	}
	return req.Candidate, nil
}

func writeSDP(w http.ResponseWriter, sdp string) {
	w.Header().Set("Content-Type", "application/sdp")
	_, _ = io.WriteString(w, sdp)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("src", "signaling").WithError(err).Warn("failed to encode response")
	}
}
