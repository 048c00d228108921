package signaling

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/po-studio/negotiator/internal/candidate"
)

// Message is the WebSocket envelope. Requests use the types request_offer,
// offer, answer, candidate and stop; replies are offer, answer, ack or
// error.
type Message struct {
	Type          string  `json:"type"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMLineIndex *uint32 `json:"sdpMLineIndex,omitempty"`
	Error         string  `json:"error,omitempty"`
	Status        int     `json:"status,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// HandleWebSocket serves the same operations as the HTTP routes over one
// connection, one request at a time.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	logger := h.log.WithField("remote", r.RemoteAddr)
	logger.Info("websocket connected")

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Warn("websocket read failed")
			}
			return
		}
		if err := conn.WriteJSON(h.dispatch(r.Context(), msg)); err != nil {
			logger.WithError(err).Warn("websocket write failed")
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, msg Message) Message {
	switch msg.Type {
	case "request_offer":
		offer, err := h.negotiator.RequestOffer(ctx)
		if err != nil {
			return errorMessage(err)
		}
		return Message{Type: "offer", SDP: offer}
	case "offer":
		answer, err := h.negotiator.ProvideOffer(ctx, msg.SDP)
		if err != nil {
			return errorMessage(err)
		}
		return Message{Type: "answer", SDP: answer}
	case "answer":
		if err := h.negotiator.ProvideAnswer(ctx, msg.SDP); err != nil {
			return errorMessage(err)
		}
		return Message{Type: "ack"}
	case "candidate":
		if msg.SDPMLineIndex == nil {
			return Message{Type: "error", Error: "sdpMLineIndex is required", Status: http.StatusBadRequest}
		}
		c := candidate.Indexed{MLineIndex: *msg.SDPMLineIndex, Text: msg.Candidate}
		if err := h.negotiator.AddICECandidate(ctx, c); err != nil {
			return errorMessage(err)
		}
		return Message{Type: "ack"}
	case "stop":
		if err := h.negotiator.Stop(ctx); err != nil {
			return errorMessage(err)
		}
		return Message{Type: "ack"}
	default:
		return Message{Type: "error", Error: "unknown message type " + msg.Type, Status: http.StatusBadRequest}
	}
}

func errorMessage(err error) Message {
	return Message{Type: "error", Error: err.Error(), Status: StatusFor(err)}
}
